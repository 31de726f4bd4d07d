package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	storage "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/promptbatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

type mockOperator struct {
	mock.Mock
}

func (m *mockOperator) StartTask(ctx context.Context, req model.StartRequest) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

func (m *mockOperator) GetTaskStatus(ctx context.Context, id string) (*model.StatusReport, error) {
	args := m.Called(id)
	r, _ := args.Get(0).(*model.StatusReport)
	return r, args.Error(1)
}

func (m *mockOperator) PauseTask(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *mockOperator) ResumeTask(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *mockOperator) StopTask(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *mockOperator) ListTasks(ctx context.Context) ([]model.TaskSummary, error) {
	args := m.Called()
	r, _ := args.Get(0).([]model.TaskSummary)
	return r, args.Error(1)
}

func (m *mockOperator) CleanupTasks(ctx context.Context, maxAgeDays int) (int, error) {
	args := m.Called(maxAgeDays)
	return args.Int(0), args.Error(1)
}

func (m *mockOperator) ListRuns(ctx context.Context, id string) ([]*model.Run, error) {
	args := m.Called(id)
	r, _ := args.Get(0).([]*model.Run)
	return r, args.Error(1)
}

func (m *mockOperator) ExportResults(ctx context.Context, id string) (*model.ExportResult, error) {
	args := m.Called(id)
	r, _ := args.Get(0).(*model.ExportResult)
	return r, args.Error(1)
}

var _ usecase.TaskOperator = (*mockOperator)(nil)

type dirLocator string

func (d dirLocator) FindFile(_ context.Context, name string) (string, error) {
	p := filepath.Join(string(d), name)
	if _, err := os.Stat(p); err != nil {
		return "", repository.ErrFileNotFound
	}
	return p, nil
}

func uploadConn(t *testing.T, dir string) storage.StorageConnection {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: dir}, storage.ConnectionUploads)
	require.NoError(t, err)
	return conn
}

func setupRouter(t *testing.T, op *mockOperator) (*gin.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	h := NewHandler(op, dirLocator(dir), uploadConn(t, filepath.Join(dir, "uploads")), 1)
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return NewRouter(h, RouterOptions{Mode: gin.TestMode, CORSOrigins: []string{"http://localhost:5173"}}), dir
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStartTask(t *testing.T) {
	t.Run("binds loosely typed numbers", func(t *testing.T) {
		op := &mockOperator{}
		r, _ := setupRouter(t, op)
		op.On("StartTask", mock.MatchedBy(func(req model.StartRequest) bool {
			return req.DataFile == "data.csv" &&
				assert.ObjectsAreEqual([]int{0, 2}, req.SelectedFields) &&
				req.Options.BatchSize == 10 &&
				req.Options.EndPos != nil && *req.Options.EndPos == 40 &&
				req.APIConfig.APIType == "llm"
		})).Return("task_1", nil)

		w := do(r, http.MethodPost, "/api/tasks", `{
			"dataFile": "data.csv",
			"selectedFields": [0, "2"],
			"apiConfig": {"api_type": "llm", "api_url": "http://x", "api_key": "k", "model": "m"},
			"promptConfig": {"system": "s", "task": "t", "output": "o"},
			"options": {"batchSize": "10", "endPos": 40}
		}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "task_1", decode(t, w)["taskId"])
		op.AssertExpectations(t)
	})

	t.Run("missing data file", func(t *testing.T) {
		op := &mockOperator{}
		r, _ := setupRouter(t, op)
		w := do(r, http.MethodPost, "/api/tasks", `{"selectedFields": [0]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		op.AssertNotCalled(t, "StartTask", mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		op := &mockOperator{}
		r, _ := setupRouter(t, op)
		w := do(r, http.MethodPost, "/api/tasks", `{"dataFile":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	cases := map[string]struct {
		err  error
		code int
	}{
		"validation": {exception.NewValidationError("orchestrator", "invalid configuration: api_url"), http.StatusBadRequest},
		"busy":       {exception.NewBatchError("task_operator", "cannot start a new task", usecase.ErrTaskAlreadyRunning, false, false), http.StatusConflict},
		"internal":   {errors.New("disk full"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			op := &mockOperator{}
			r, _ := setupRouter(t, op)
			op.On("StartTask", mock.Anything).Return("", tc.err)

			w := do(r, http.MethodPost, "/api/tasks", `{"dataFile": "data.csv"}`)
			assert.Equal(t, tc.code, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestTaskStatus(t *testing.T) {
	op := &mockOperator{}
	r, _ := setupRouter(t, op)
	op.On("GetTaskStatus", "task_1").Return(&model.StatusReport{TaskID: "task_1", Found: true, Active: true, Status: "processing"}, nil)
	op.On("GetTaskStatus", "task_x").Return(&model.StatusReport{TaskID: "task_x", Status: model.StatusNotFound}, nil)

	w := do(r, http.MethodGet, "/api/tasks/task_1/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processing", decode(t, w)["status"])

	w = do(r, http.MethodGet, "/api/tasks/task_x/status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.StatusNotFound, decode(t, w)["status"])
}

func TestControlEndpoints(t *testing.T) {
	op := &mockOperator{}
	r, _ := setupRouter(t, op)
	notActive := exception.NewBatchError("task_operator", "task task_2 is not running", usecase.ErrTaskNotActive, false, false)
	op.On("PauseTask", "task_1").Return(nil)
	op.On("ResumeTask", "task_1").Return(nil)
	op.On("StopTask", "task_1").Return(nil)
	op.On("PauseTask", "task_2").Return(notActive)

	for _, action := range []string{"pause", "resume", "stop"} {
		w := do(r, http.MethodPost, "/api/tasks/task_1/"+action, "")
		require.Equal(t, http.StatusOK, w.Code, action)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, action, body["action"])
	}

	w := do(r, http.MethodPost, "/api/tasks/task_2/pause", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "task task_2 is not running", decode(t, w)["error"])
	op.AssertExpectations(t)
}

func TestListTasksAndRuns(t *testing.T) {
	op := &mockOperator{}
	r, _ := setupRouter(t, op)
	op.On("ListTasks").Return(nil, nil)
	op.On("ListRuns", "task_1").Return([]*model.Run{{ID: "run_1", TaskID: "task_1", Status: model.RunStatusCompleted}}, nil)
	op.On("ListRuns", "task_x").Return(nil, repository.ErrTaskNotFound)

	w := do(r, http.MethodGet, "/api/tasks", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []interface{}{}, body["tasks"])
	assert.EqualValues(t, 0, body["count"])

	w = do(r, http.MethodGet, "/api/tasks/task_1/runs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(r, http.MethodGet, "/api/tasks/task_x/runs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanupTasks(t *testing.T) {
	op := &mockOperator{}
	r, _ := setupRouter(t, op)
	op.On("CleanupTasks", 3).Return(2, nil)
	op.On("CleanupTasks", 0).Return(0, nil)

	w := do(r, http.MethodPost, "/api/tasks/cleanup", `{"maxAgeDays": "3"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["removed"])

	w = do(r, http.MethodPost, "/api/tasks/cleanup", "")
	assert.Equal(t, http.StatusOK, w.Code)
	op.AssertExpectations(t)
}

func TestExportAndDownload(t *testing.T) {
	op := &mockOperator{}
	r, dir := setupRouter(t, op)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.parquet"), []byte("PAR1"), 0o644))
	op.On("ExportResults", "task_1").Return(&model.ExportResult{File: filepath.Join(dir, "results.parquet"), Name: "results.parquet", Rows: 3}, nil)
	op.On("ExportResults", "task_2").Return(nil, repository.ErrFileNotFound)

	w := do(r, http.MethodPost, "/api/tasks/task_1/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "/api/download/results.parquet", body["downloadUrl"])
	assert.EqualValues(t, 3, body["rows"])

	w = do(r, http.MethodPost, "/api/tasks/task_2/export", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/download/results.parquet", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PAR1", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "results.parquet")

	w = do(r, http.MethodGet, "/api/download/missing.csv", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func upload(t *testing.T, r http.Handler, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadAndInspect(t *testing.T) {
	op := &mockOperator{}
	r, dir := setupRouter(t, op)

	w := upload(t, r, "people.csv", "name,age\nAlice,30\nBob,25\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	want := filepath.Join(dir, "uploads", "people_1700000000000.csv")
	assert.Equal(t, want, body["filePath"])
	assert.Equal(t, "people.csv", body["originalName"])
	info := body["fileInfo"].(map[string]interface{})
	assert.EqualValues(t, 2, info["totalRows"])
	assert.FileExists(t, want)

	w = do(r, http.MethodPost, "/api/inspect", `{"filePath": "`+filepath.ToSlash(want)+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info = decode(t, w)["fileInfo"].(map[string]interface{})
	assert.Len(t, info["columns"], 2)

	w = upload(t, r, "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, r, "big.csv", "a\n"+strings.Repeat("x", 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = do(r, http.MethodPost, "/api/inspect", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMiddleware(t *testing.T) {
	op := &mockOperator{}
	r, _ := setupRouter(t, op)

	t.Run("request id", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
		assert.Equal(t, "ok", decode(t, w)["status"])

		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set(requestIDHeader, "abc")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("cors unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("recovery", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		e := gin.New()
		e.Use(RecoveryMiddleware())
		e.GET("/boom", func(*gin.Context) { panic("boom") })
		w := do(e, http.MethodGet, "/boom", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRouterOptionalRoutes(t *testing.T) {
	h := NewHandler(&mockOperator{}, dirLocator(t.TempDir()), uploadConn(t, t.TempDir()), 1)
	r := NewRouter(h, RouterOptions{Mode: gin.TestMode})
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/events", "").Code)

	r = NewRouter(h, RouterOptions{
		Mode:    gin.TestMode,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	})
	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	require.NoError(t, s.Start())
	resp, err := http.Get("http://" + s.Addr().String())
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
