package events

import (
	"time"

	"projecttracker/internal/model"
)

const (
	RoutingProjectCreated = "project.created"
	RoutingProjectUpdated = "project.updated"
	RoutingProjectDeleted = "project.deleted"
)

// ProjectEvent is the body of every project.* message. Project is omitted
// for deletions.
type ProjectEvent struct {
	ProjectID  string         `json:"project_id"`
	Project    *model.Project `json:"project,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
