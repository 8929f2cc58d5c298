package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"projecttracker/internal/lock"
	"projecttracker/internal/model"
	"projecttracker/internal/service/project"
	"projecttracker/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(svc ProjectService) *gin.Engine {
	return newEngineWithLogger(svc, zap.NewNop())
}

func newEngineWithLogger(svc ProjectService, logger *zap.Logger) *gin.Engine {
	h := NewProjectHandler(svc, logger)
	r := gin.New()
	r.GET("/api/projects", h.ListProjects)
	r.POST("/api/projects", h.CreateProject)
	r.GET("/api/projects/:id", h.GetProject)
	r.PATCH("/api/projects/:id", h.UpdateProject)
	r.DELETE("/api/projects/:id", h.DeleteProject)
	return r
}

func setupTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	st := store.NewCSVStore(filepath.Join(t.TempDir(), "projects.csv"), zap.NewNop())
	require.NoError(t, st.Init(context.Background()))
	return newEngine(project.NewService(st, lock.NewLocalLocker(), nil, zap.NewNop()))
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type createResponse struct {
	Message string        `json:"message"`
	Project model.Project `json:"project"`
}

type updateResponse struct {
	Success bool          `json:"success"`
	Project model.Project `json:"project"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListProjectsEmpty(t *testing.T) {
	r := setupTestEngine(t)

	rec := do(t, r, http.MethodGet, "/api/projects", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreateProject(t *testing.T) {
	t.Run("with fields", func(t *testing.T) {
		r := setupTestEngine(t)

		rec := do(t, r, http.MethodPost, "/api/projects",
			`{"projectName":"Tracker","problemStatement":"no visibility","createdAt":"2024-05-01"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decode[createResponse](t, rec)
		assert.Equal(t, "Project added", resp.Message)
		assert.Equal(t, "1", resp.Project.ID)
		assert.Equal(t, "Tracker", resp.Project.Name)
		assert.Equal(t, "no visibility", resp.Project.Problem)
		assert.Equal(t, "2024-05-01", resp.Project.CreatedAt)
		assert.Equal(t, model.DefaultSteps(), resp.Project.Steps)
	})

	t.Run("empty body uses defaults", func(t *testing.T) {
		r := setupTestEngine(t)

		rec := do(t, r, http.MethodPost, "/api/projects", "")
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decode[createResponse](t, rec)
		assert.Equal(t, "Untitled", resp.Project.Name)
		assert.Len(t, resp.Project.Steps, 8)
	})

	t.Run("response uses the public field names", func(t *testing.T) {
		r := setupTestEngine(t)

		rec := do(t, r, http.MethodPost, "/api/projects", `{}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var raw map[string]map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		for _, key := range []string{"id", "name", "problem", "createdAt", "steps"} {
			assert.Contains(t, raw["project"], key)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		r := setupTestEngine(t)

		rec := do(t, r, http.MethodPost, "/api/projects", `{"projectName":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())

		list := do(t, r, http.MethodGet, "/api/projects", "")
		assert.JSONEq(t, `[]`, list.Body.String())
	})
}

func TestUpdateProject(t *testing.T) {
	t.Run("single step", func(t *testing.T) {
		r := setupTestEngine(t)
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/projects", `{}`).Code)

		rec := do(t, r, http.MethodPatch, "/api/projects/1", `{"stepIndex":2,"status":"Completed","deadline":"2024-07-01"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[updateResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, model.Step{Name: "Project Planning", Status: "Completed", Deadline: "2024-07-01"}, resp.Project.Steps[2])
	})

	t.Run("whole list", func(t *testing.T) {
		r := setupTestEngine(t)
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/projects", `{}`).Code)

		rec := do(t, r, http.MethodPatch, "/api/projects/1",
			`{"steps":[{"name":"Only","status":"Not Started","deadline":""}],"stepIndex":0,"status":"ignored"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[updateResponse](t, rec)
		assert.Equal(t, []model.Step{{Name: "Only", Status: "Not Started"}}, resp.Project.Steps)
	})

	t.Run("null steps falls through to step index", func(t *testing.T) {
		r := setupTestEngine(t)
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/projects", `{}`).Code)

		rec := do(t, r, http.MethodPatch, "/api/projects/1", `{"steps":null,"stepIndex":0,"status":"Reopened"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[updateResponse](t, rec)
		require.Len(t, resp.Project.Steps, 8)
		assert.Equal(t, "Reopened", resp.Project.Steps[0].Status)
	})

	t.Run("empty steps clears", func(t *testing.T) {
		r := setupTestEngine(t)
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/projects", `{}`).Code)

		rec := do(t, r, http.MethodPatch, "/api/projects/1", `{"steps":[]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"steps":[]`)
	})

	t.Run("out of range index still succeeds", func(t *testing.T) {
		r := setupTestEngine(t)
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/projects", `{}`).Code)

		rec := do(t, r, http.MethodPatch, "/api/projects/1", `{"stepIndex":99,"status":"Completed"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[updateResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, model.DefaultSteps(), resp.Project.Steps)
	})

	t.Run("unknown id", func(t *testing.T) {
		r := setupTestEngine(t)

		rec := do(t, r, http.MethodPatch, "/api/projects/7", `{"stepIndex":0,"status":"Completed"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Project not found"}`, rec.Body.String())
	})

	t.Run("wrong type for stepIndex", func(t *testing.T) {
		r := setupTestEngine(t)
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/projects", `{}`).Code)

		rec := do(t, r, http.MethodPatch, "/api/projects/1", `{"stepIndex":"two"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetAndDeleteProject(t *testing.T) {
	r := setupTestEngine(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/projects", `{}`).Code)
	}

	rec := do(t, r, http.MethodGet, "/api/projects/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", decode[model.Project](t, rec).ID)

	rec = do(t, r, http.MethodDelete, "/api/projects/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Project deleted"}`, rec.Body.String())

	rec = do(t, r, http.MethodDelete, "/api/projects/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Project not found"}`, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/api/projects/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/projects", "")
	projects := decode[[]model.Project](t, rec)
	require.Len(t, projects, 2)
	assert.Equal(t, "1", projects[0].ID)
	assert.Equal(t, "3", projects[1].ID)
}

type failingService struct {
	err error
}

func (f failingService) List(context.Context) ([]model.Project, error) { return nil, f.err }
func (f failingService) Get(context.Context, string) (model.Project, error) {
	return model.Project{}, f.err
}
func (f failingService) Create(context.Context, project.CreateInput) (model.Project, error) {
	return model.Project{}, f.err
}
func (f failingService) Update(context.Context, string, project.Patch) (model.Project, error) {
	return model.Project{}, f.err
}
func (f failingService) Delete(context.Context, string) error { return f.err }

func TestErrorMapping(t *testing.T) {
	storageErr := &store.StorageError{Backend: "csv", Op: "save", Err: errors.New("disk full")}
	busyErr := lock.ErrNotAcquired

	cases := []struct {
		name     string
		err      error
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"list storage", storageErr, http.MethodGet, "/api/projects", http.StatusInternalServerError, `{"error":"failed to list projects"}`},
		{"create storage", storageErr, http.MethodPost, "/api/projects", http.StatusInternalServerError, `{"error":"failed to create project"}`},
		{"update storage", storageErr, http.MethodPatch, "/api/projects/1", http.StatusInternalServerError, `{"error":"failed to update project"}`},
		{"delete storage", storageErr, http.MethodDelete, "/api/projects/1", http.StatusInternalServerError, `{"error":"failed to delete project"}`},
		{"create busy", busyErr, http.MethodPost, "/api/projects", http.StatusServiceUnavailable, `{"error":"store is busy"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newEngine(failingService{err: tc.err})
			body := ""
			if tc.method == http.MethodPost || tc.method == http.MethodPatch {
				body = `{}`
			}

			rec := do(t, r, tc.method, tc.path, body)

			assert.Equal(t, tc.wantCode, rec.Code)
			assert.JSONEq(t, tc.wantBody, rec.Body.String())
			assert.False(t, strings.Contains(rec.Body.String(), "disk full"), "internal detail leaked")
		})
	}
}

func TestStorageFailuresAreLoggedSeparately(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"storage", &store.StorageError{Backend: "csv", Op: "load", Err: errors.New("permission denied")}, "Project store failed"},
		{"wrapped storage", fmt.Errorf("list projects: %w", &store.StorageError{Backend: "postgres", Op: "load", Err: errors.New("conn reset")}), "Project store failed"},
		{"other", errors.New("boom"), "Request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			r := newEngineWithLogger(failingService{err: tt.err}, zap.New(core))

			rec := do(t, r, http.MethodGet, "/api/projects", "")

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"failed to list projects"}`, rec.Body.String())
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.wantMsg, logs.All()[0].Message)
		})
	}
}
