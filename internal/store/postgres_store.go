package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"projecttracker/internal/model"
	"projecttracker/pkg/metrics"
)

const backendPostgres = "postgres"

const createProjectsTable = `
	CREATE TABLE IF NOT EXISTS projects (
		position   INTEGER NOT NULL,
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		problem    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT '',
		steps      TEXT NOT NULL DEFAULT '[]'
	)
`

// DBPool is the part of *pgxpool.Pool the store needs.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// PostgresStore keeps one row per project in the projects table, with the
// same columns as the CSV layout plus a position column that preserves
// collection order. SaveAll replaces the table contents in one transaction.
type PostgresStore struct {
	pool   DBPool
	logger *zap.Logger
}

func NewPostgresStore(pool DBPool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createProjectsTable); err != nil {
		return &StorageError{Backend: backendPostgres, Op: "init", Err: err}
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) (projects []model.Project, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendPostgres, "load", err, time.Since(start))
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, problem, created_at, steps
		FROM projects
		ORDER BY position
	`)
	if err != nil {
		return nil, &StorageError{Backend: backendPostgres, Op: "load", Err: err}
	}
	defer rows.Close()

	projects = []model.Project{}
	for rows.Next() {
		var p model.Project
		var rawSteps string
		if err := rows.Scan(&p.ID, &p.Name, &p.Problem, &p.CreatedAt, &rawSteps); err != nil {
			return nil, &StorageError{Backend: backendPostgres, Op: "load", Err: err}
		}
		p.Steps = decodeStepsLenient(s.logger, backendPostgres, p.ID, rawSteps)
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: backendPostgres, Op: "load", Err: err}
	}
	return projects, nil
}

func (s *PostgresStore) SaveAll(ctx context.Context, projects []model.Project) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendPostgres, "save", err, time.Since(start))
	}()

	rows := make([][]any, 0, len(projects))
	for i, p := range projects {
		steps, err := EncodeSteps(p.Steps)
		if err != nil {
			return &StorageError{Backend: backendPostgres, Op: "save", Err: fmt.Errorf("project %s: %w", p.ID, err)}
		}
		rows = append(rows, []any{i, p.ID, p.Name, p.Problem, p.CreatedAt, steps})
	}

	if err := s.replace(ctx, rows); err != nil {
		return &StorageError{Backend: backendPostgres, Op: "save", Err: err}
	}
	return nil
}

func (s *PostgresStore) replace(ctx context.Context, rows [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM projects`); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if len(rows) > 0 {
		columns := append([]string{"position"}, Columns...)
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"projects"}, columns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &StorageError{Backend: backendPostgres, Op: "ping", Err: err}
	}
	return nil
}
