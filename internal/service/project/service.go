// Package project holds the business rules for projects: id assignment,
// creation defaults and partial updates. Every mutation loads the whole
// collection, changes it in memory and saves it back under one global lock.
package project

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"projecttracker/internal/events"
	"projecttracker/internal/lock"
	"projecttracker/internal/model"
	"projecttracker/internal/store"
	"projecttracker/pkg/logger"
	"projecttracker/pkg/metrics"
	"projecttracker/pkg/trace"
)

var ErrNotFound = errors.New("project not found")

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// CreateInput fields left nil take their defaults.
type CreateInput struct {
	Name      *string
	Problem   *string
	CreatedAt *string
}

// Patch is one of two shapes. A non-nil Steps (including an empty slice)
// replaces the whole step list and wins over everything else. Otherwise
// StepIndex selects one step whose Status and/or Deadline are overwritten.
type Patch struct {
	Steps     []model.Step
	StepIndex *int
	Status    *string
	Deadline  *string
}

type Service struct {
	store     store.Store
	locker    lock.Locker
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(st store.Store, locker lock.Locker, publisher EventPublisher, logger *zap.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     st,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) List(ctx context.Context) ([]model.Project, error) {
	projects, err := s.store.LoadAll(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("list", "error")
		return nil, fmt.Errorf("list projects: %w", err)
	}
	metrics.IncrementProjectOperation("list", "success")
	return projects, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Project, error) {
	projects, err := s.store.LoadAll(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("get", "error")
		return model.Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	i := indexOf(projects, id)
	if i < 0 {
		metrics.IncrementProjectOperation("get", "not_found")
		return model.Project{}, ErrNotFound
	}
	metrics.IncrementProjectOperation("get", "success")
	return projects[i], nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.Project, error) {
	log := logger.WithTrace(ctx, s.logger)

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("create", "error")
		return model.Project{}, fmt.Errorf("create project: %w", err)
	}
	defer unlock()

	projects, err := s.store.LoadAll(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("create", "error")
		return model.Project{}, fmt.Errorf("create project: %w", err)
	}

	p := model.Project{
		ID:        nextID(projects),
		Name:      valueOr(in.Name, model.DefaultProjectName),
		Problem:   valueOr(in.Problem, ""),
		CreatedAt: valueOr(in.CreatedAt, ""),
		Steps:     model.DefaultSteps(),
	}
	projects = append(projects, p)

	if err := s.store.SaveAll(ctx, projects); err != nil {
		metrics.IncrementProjectOperation("create", "error")
		return model.Project{}, fmt.Errorf("create project: %w", err)
	}

	metrics.IncrementProjectOperation("create", "success")
	log.Info("Project created",
		zap.String("project_id", p.ID),
		zap.String("name", p.Name),
		zap.Int("total_projects", len(projects)),
	)
	s.publish(ctx, events.RoutingProjectCreated, p.ID, &p)
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, patch Patch) (model.Project, error) {
	log := logger.WithTrace(ctx, s.logger)

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("update", "error")
		return model.Project{}, fmt.Errorf("update project %s: %w", id, err)
	}
	defer unlock()

	projects, err := s.store.LoadAll(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("update", "error")
		return model.Project{}, fmt.Errorf("update project %s: %w", id, err)
	}

	i := indexOf(projects, id)
	if i < 0 {
		metrics.IncrementProjectOperation("update", "not_found")
		return model.Project{}, ErrNotFound
	}

	changed := applyPatch(&projects[i], patch)
	if patch.Steps == nil && patch.StepIndex != nil && !inRange(*patch.StepIndex, projects[i].Steps) {
		log.Info("Step index out of range, steps left unchanged",
			zap.String("project_id", id),
			zap.Int("step_index", *patch.StepIndex),
			zap.Int("step_count", len(projects[i].Steps)),
		)
	}

	if err := s.store.SaveAll(ctx, projects); err != nil {
		metrics.IncrementProjectOperation("update", "error")
		return model.Project{}, fmt.Errorf("update project %s: %w", id, err)
	}

	updated := projects[i]
	metrics.IncrementProjectOperation("update", "success")
	log.Info("Project updated", zap.String("project_id", id), zap.Bool("changed", changed))
	if changed {
		s.publish(ctx, events.RoutingProjectUpdated, id, &updated)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	log := logger.WithTrace(ctx, s.logger)

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("delete", "error")
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	defer unlock()

	projects, err := s.store.LoadAll(ctx)
	if err != nil {
		metrics.IncrementProjectOperation("delete", "error")
		return fmt.Errorf("delete project %s: %w", id, err)
	}

	remaining := make([]model.Project, 0, len(projects))
	for _, p := range projects {
		if p.ID != id {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == len(projects) {
		metrics.IncrementProjectOperation("delete", "not_found")
		return ErrNotFound
	}

	if err := s.store.SaveAll(ctx, remaining); err != nil {
		metrics.IncrementProjectOperation("delete", "error")
		return fmt.Errorf("delete project %s: %w", id, err)
	}

	metrics.IncrementProjectOperation("delete", "success")
	log.Info("Project deleted",
		zap.String("project_id", id),
		zap.Int("total_projects", len(remaining)),
	)
	s.publish(ctx, events.RoutingProjectDeleted, id, nil)
	return nil
}

// publish never fails the request: the store is the source of truth and the
// change is already saved.
func (s *Service) publish(ctx context.Context, routingKey, id string, p *model.Project) {
	event := events.ProjectEvent{
		ProjectID:  id,
		Project:    p,
		TraceID:    trace.FromContext(ctx),
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, routingKey, event); err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Failed to publish project event",
			zap.String("routing_key", routingKey),
			zap.String("project_id", id),
			zap.Error(err),
		)
	}
}

// applyPatch reports whether any field was written. An empty patch, a step
// index out of range, or an index with neither status nor deadline leaves
// the project untouched.
func applyPatch(p *model.Project, patch Patch) bool {
	if patch.Steps != nil {
		steps := make([]model.Step, len(patch.Steps))
		copy(steps, patch.Steps)
		p.Steps = steps
		return true
	}
	if patch.StepIndex == nil {
		return false
	}

	i := *patch.StepIndex
	if !inRange(i, p.Steps) {
		return false
	}
	changed := false
	if patch.Status != nil {
		p.Steps[i].Status = *patch.Status
		changed = true
	}
	if patch.Deadline != nil {
		p.Steps[i].Deadline = *patch.Deadline
		changed = true
	}
	return changed
}

// nextID is one more than the largest numeric id. Ids that are not integers
// are ignored.
func nextID(projects []model.Project) string {
	maxID := 0
	for _, p := range projects {
		n, err := strconv.Atoi(p.ID)
		if err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}

func inRange(i int, steps []model.Step) bool {
	return i >= 0 && i < len(steps)
}

func indexOf(projects []model.Project, id string) int {
	for i, p := range projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func valueOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
