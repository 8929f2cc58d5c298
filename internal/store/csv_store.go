package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"projecttracker/internal/model"
	"projecttracker/pkg/metrics"
)

const backendCSV = "csv"

// CSVStore keeps the collection in one CSV file with a header row. Saves go
// through a temp file and a rename, so readers see either the old or the new
// file and never a partial one.
type CSVStore struct {
	path   string
	logger *zap.Logger
}

func NewCSVStore(path string, logger *zap.Logger) *CSVStore {
	return &CSVStore{path: path, logger: logger}
}

func (s *CSVStore) Path() string {
	return s.path
}

func (s *CSVStore) Init(ctx context.Context) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Backend: backendCSV, Op: "init", Err: err}
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &StorageError{Backend: backendCSV, Op: "init", Err: err}
		}
	}

	if err := s.writeAtomic(ctx, nil); err != nil {
		return &StorageError{Backend: backendCSV, Op: "init", Err: err}
	}
	s.logger.Info("Created empty project store", zap.String("path", s.path))
	return nil
}

func (s *CSVStore) LoadAll(ctx context.Context) (projects []model.Project, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendCSV, "load", err, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Backend: backendCSV, Op: "load", Err: err}
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.Project{}, nil
	}
	if err != nil {
		return nil, &StorageError{Backend: backendCSV, Op: "load", Err: err}
	}
	defer f.Close()

	projects, err = s.read(f)
	if err != nil {
		return nil, &StorageError{Backend: backendCSV, Op: "load", Err: err}
	}
	return projects, nil
}

func (s *CSVStore) read(r io.Reader) ([]model.Project, error) {
	reader := csv.NewReader(r)
	// legacy rows may be short; missing cells read as empty
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []model.Project{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if _, ok := index["id"]; !ok {
		return nil, fmt.Errorf("%w: header has no id column", ErrCorrupt)
	}

	projects := []model.Project{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(projects)+1, err)
		}

		cell := func(column string) string {
			i, ok := index[column]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}

		id := unescapeText(cell("id"))
		projects = append(projects, model.Project{
			ID:        id,
			Name:      unescapeText(cell("name")),
			Problem:   unescapeText(cell("problem")),
			CreatedAt: unescapeText(cell("created_at")),
			Steps:     decodeStepsLenient(s.logger, backendCSV, id, cell("steps")),
		})
	}
	return projects, nil
}

func (s *CSVStore) SaveAll(ctx context.Context, projects []model.Project) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOperation(backendCSV, "save", err, time.Since(start))
	}()

	if err := s.writeAtomic(ctx, projects); err != nil {
		return &StorageError{Backend: backendCSV, Op: "save", Err: err}
	}
	return nil
}

func (s *CSVStore) writeAtomic(ctx context.Context, projects []model.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rows := make([][]string, 0, len(projects)+1)
	rows = append(rows, Columns)
	for _, p := range projects {
		steps, err := EncodeSteps(p.Steps)
		if err != nil {
			return fmt.Errorf("project %s: %w", p.ID, err)
		}
		rows = append(rows, []string{
			escapeText(p.ID),
			escapeText(p.Name),
			escapeText(p.Problem),
			escapeText(p.CreatedAt),
			steps,
		})
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	committed = true
	return nil
}

// Ping checks that the directory holding the file is reachable.
func (s *CSVStore) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return &StorageError{Backend: backendCSV, Op: "ping", Err: err}
	}
	if !info.IsDir() {
		return &StorageError{Backend: backendCSV, Op: "ping", Err: fmt.Errorf("%s is not a directory", filepath.Dir(s.path))}
	}
	return nil
}
