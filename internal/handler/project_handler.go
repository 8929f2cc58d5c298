package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projecttracker/internal/lock"
	"projecttracker/internal/model"
	"projecttracker/internal/service/project"
	"projecttracker/internal/store"
	"projecttracker/pkg/logger"
)

type ProjectService interface {
	List(ctx context.Context) ([]model.Project, error)
	Get(ctx context.Context, id string) (model.Project, error)
	Create(ctx context.Context, in project.CreateInput) (model.Project, error)
	Update(ctx context.Context, id string, patch project.Patch) (model.Project, error)
	Delete(ctx context.Context, id string) error
}

type ProjectHandler struct {
	svc    ProjectService
	logger *zap.Logger
}

func NewProjectHandler(svc ProjectService, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, logger: logger}
}

type createProjectRequest struct {
	ProjectName      *string `json:"projectName"`
	ProblemStatement *string `json:"problemStatement"`
	CreatedAt        *string `json:"createdAt"`
}

// A JSON null for steps is treated as absent; [] clears the list.
type updateProjectRequest struct {
	Steps     []model.Step `json:"steps"`
	StepIndex *int         `json:"stepIndex"`
	Status    *string      `json:"status"`
	Deadline  *string      `json:"deadline"`
}

func (h *ProjectHandler) ListProjects(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	projects, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.writeError(c, log, "list projects", err)
		return
	}

	log.Debug("ListProjects: success", zap.Int("project_count", len(projects)))
	c.JSON(http.StatusOK, projects)
}

func (h *ProjectHandler) GetProject(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)
	id := c.Param("id")

	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, log, "get project", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProjectHandler) CreateProject(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	var req createProjectRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		log.Warn("CreateProject: invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	p, err := h.svc.Create(c.Request.Context(), project.CreateInput{
		Name:      req.ProjectName,
		Problem:   req.ProblemStatement,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		h.writeError(c, log, "create project", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Project added",
		"project": p,
	})
}

func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)
	id := c.Param("id")

	var req updateProjectRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		log.Warn("UpdateProject: invalid request body",
			zap.String("project_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	p, err := h.svc.Update(c.Request.Context(), id, project.Patch{
		Steps:     req.Steps,
		StepIndex: req.StepIndex,
		Status:    req.Status,
		Deadline:  req.Deadline,
	})
	if err != nil {
		h.writeError(c, log, "update project", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"project": p,
	})
}

func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)
	id := c.Param("id")

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, log, "delete project", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
}

func (h *ProjectHandler) writeError(c *gin.Context, log *zap.Logger, action string, err error) {
	switch {
	case errors.Is(err, project.ErrNotFound):
		log.Info("Project not found",
			zap.String("action", action),
			zap.String("project_id", c.Param("id")),
		)
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
	case errors.Is(err, lock.ErrNotAcquired):
		log.Warn("Store write lock unavailable", zap.String("action", action), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store is busy"})
	case store.IsStorageError(err):
		log.Error("Project store failed", zap.String("action", action), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	default:
		log.Error("Request failed", zap.String("action", action), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	}
}

// bindOptionalJSON decodes the body into obj; an empty body leaves obj
// untouched.
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
