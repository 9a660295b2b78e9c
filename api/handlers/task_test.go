package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/api"
	"github.com/OperatorNext/OperatorNext/internal/archive"
	"github.com/OperatorNext/OperatorNext/task"
	"github.com/OperatorNext/OperatorNext/testutil"
	"github.com/OperatorNext/OperatorNext/testutil/fixtures"
	"github.com/OperatorNext/OperatorNext/testutil/mocks"
)

// =============================================================================
// 🧪 测试路由
// =============================================================================

type stubArchive struct {
	tasks []archive.ArchivedTask
	err   error
	limit int
}

func (s *stubArchive) Recent(_ context.Context, limit int) ([]archive.ArchivedTask, error) {
	s.limit = limit
	return s.tasks, s.err
}

func newTestService(t *testing.T, script mocks.Script) (*task.Service, *mocks.MockFactory) {
	t.Helper()
	factory := mocks.NewMockFactory(script)
	config := task.DefaultServiceConfig()
	config.WriteTimeout = time.Second
	svc, err := task.NewService(factory, config, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc, factory
}

func newTestMux(svc TaskService, archive ArchiveReader, logger *zap.Logger) *http.ServeMux {
	tasks := NewTaskHandler(svc, archive, logger)
	stream := NewStreamHandler(svc, []string{"*"}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", tasks.HandleCreate)
	mux.HandleFunc("GET /api/tasks", tasks.HandleList)
	mux.HandleFunc("GET /api/tasks/archive", tasks.HandleArchive)
	mux.HandleFunc("GET /api/tasks/{task_id}", tasks.HandleGet)
	mux.HandleFunc("GET /api/tasks/{task_id}/stats", tasks.HandleStats)
	mux.HandleFunc("GET /api/tasks/{task_id}/events", tasks.HandleEvents)
	mux.HandleFunc("GET /api/ws/tasks/{task_id}", stream.HandleStream)
	return mux
}

// twoSteps 两个步骤后报告完成
func twoSteps(_ context.Context, hooks agent.Hooks) error {
	hooks.OnStep(fixtures.State("https://example.com"), fixtures.Output("open example.com", fixtures.Navigate("https://example.com")), agent.StepInfo{Number: 1})
	hooks.OnStep(fixtures.State("https://example.com/more"), fixtures.Output("read page", fixtures.Click(0)), agent.StepInfo{Number: 2})
	hooks.OnDone(fixtures.DoneHistory("Example Domain"))
	return nil
}

func doRequest(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

// =============================================================================
// 🧪 REST 接口
// =============================================================================

func TestTaskHandler_CreateAndGet(t *testing.T) {
	svc, _ := newTestService(t, nil)
	mux := newTestMux(svc, nil, zap.NewNop())

	w := doRequest(t, mux, http.MethodPost, "/api/tasks", `{"task_description":"open example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created task.Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "open example.com", created.Description)
	assert.Equal(t, task.StatusPending, created.Status)

	w = doRequest(t, mux, http.MethodGet, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var raw map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	for _, key := range []string{"task_id", "task_description", "status", "created_at", "updated_at", "result"} {
		assert.Contains(t, raw, key)
	}
	assert.Nil(t, raw["result"])
}

func TestTaskHandler_CreateRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, nil)
	mux := newTestMux(svc, nil, zap.NewNop())

	for _, body := range []string{`{"task_description":"   "}`, `{"task_description":`, `{"description":"x"}`} {
		w := doRequest(t, mux, http.MethodPost, "/api/tasks", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "INVALID_REQUEST", decodeErrorCode(t, w), body)
	}
	assert.Empty(t, svc.List())
}

func TestTaskHandler_NotFound(t *testing.T) {
	svc, _ := newTestService(t, nil)
	mux := newTestMux(svc, nil, zap.NewNop())

	for _, path := range []string{"/api/tasks/nope", "/api/tasks/nope/stats", "/api/tasks/nope/events"} {
		w := doRequest(t, mux, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "TASK_NOT_FOUND", decodeErrorCode(t, w), path)
	}
}

func TestTaskHandler_List(t *testing.T) {
	svc, _ := newTestService(t, nil)
	mux := newTestMux(svc, nil, zap.NewNop())
	ctx := testutil.TestContext(t)

	first, err := svc.Create(ctx, "first")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := svc.Create(ctx, "second")
	require.NoError(t, err)

	w := doRequest(t, mux, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list api.TaskListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Equal(t, 2, list.Total)
	assert.Equal(t, second.ID, list.Tasks[0].ID)
	assert.Equal(t, first.ID, list.Tasks[1].ID)
}

func TestTaskHandler_StatsAndEvents(t *testing.T) {
	svc, _ := newTestService(t, twoSteps)
	mux := newTestMux(svc, nil, zap.NewNop())
	ctx := testutil.TestContext(t)

	tk, err := svc.Create(ctx, "open example.com")
	require.NoError(t, err)
	require.NoError(t, svc.Run(ctx, tk.ID, mocks.NewRecordingTransport()))

	w := doRequest(t, mux, http.MethodGet, "/api/tasks/"+tk.ID+"/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var details task.Details
	require.NoError(t, json.NewDecoder(w.Body).Decode(&details))
	assert.Equal(t, task.StatusCompleted, details.Task.Status)
	assert.Equal(t, 2, details.Stats.StepCount)
	assert.Equal(t, "HeadlessChrome/120.0.0.0", details.Metadata.BrowserInfo["version"])

	w = doRequest(t, mux, http.MethodGet, "/api/tasks/"+tk.ID+"/events?after=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events api.EventsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
	require.Len(t, events.Events, 2)

	var last testutil.Envelope
	require.NoError(t, json.Unmarshal(events.Events[1], &last))
	assert.Equal(t, "result", last.Type)
	assert.Equal(t, 3, last.Sequence)

	w = doRequest(t, mux, http.MethodGet, "/api/tasks/"+tk.ID+"/events?after=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_Archive(t *testing.T) {
	svc, _ := newTestService(t, nil)

	t.Run("disabled", func(t *testing.T) {
		w := doRequest(t, newTestMux(svc, nil, zap.NewNop()), http.MethodGet, "/api/tasks/archive", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeErrorCode(t, w))
	})

	t.Run("clamps limit", func(t *testing.T) {
		stub := &stubArchive{tasks: []archive.ArchivedTask{{TaskID: "t-1", Status: task.StatusCompleted}}}
		w := doRequest(t, newTestMux(svc, stub, zap.NewNop()), http.MethodGet, "/api/tasks/archive?limit=500", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, archive.MaxLimit, stub.limit)

		var resp api.ArchiveListResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Len(t, resp.Tasks, 1)
		assert.Equal(t, "t-1", resp.Tasks[0].TaskID)
	})

	t.Run("store failure", func(t *testing.T) {
		stub := &stubArchive{err: errors.New("database pool is closed")}
		w := doRequest(t, newTestMux(svc, stub, zap.NewNop()), http.MethodGet, "/api/tasks/archive", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, archive.DefaultLimit, stub.limit)
	})
}
