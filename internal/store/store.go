// Package store persists the full project collection as one unit. Every
// save replaces the whole collection; there is no incremental write path
// and no cache between calls.
package store

import (
	"context"
	"errors"
	"fmt"

	"projecttracker/internal/model"
)

// Columns is the fixed row layout shared by every backend.
var Columns = []string{"id", "name", "problem", "created_at", "steps"}

// ErrCorrupt means the backing store exists but cannot be interpreted as a
// project collection at all. Per-row step decoding failures are not reported
// through this error.
var ErrCorrupt = errors.New("backing store is corrupt")

type Store interface {
	// Init creates an empty backing store if none exists yet.
	Init(ctx context.Context) error
	// LoadAll returns every project in stored order. A missing store loads
	// as an empty collection.
	LoadAll(ctx context.Context) ([]model.Project, error)
	// SaveAll overwrites the backing store with exactly the given projects.
	SaveAll(ctx context.Context, projects []model.Project) error
	Ping(ctx context.Context) error
}

// StorageError wraps any failure of the backing store.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err came from a backing store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
