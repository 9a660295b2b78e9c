package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/task"
	"github.com/OperatorNext/OperatorNext/testutil"
	"github.com/OperatorNext/OperatorNext/testutil/fixtures"
)

// =============================================================================
// 🧪 WebSocket 端到端
// =============================================================================

func startServer(t *testing.T, svc *task.Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newTestMux(svc, nil, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func dialTask(t *testing.T, ctx context.Context, srv *httptest.Server, taskID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/tasks/" + taskID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// readUntilClose 读取所有消息直到服务端关闭连接
func readUntilClose(t *testing.T, ctx context.Context, conn *websocket.Conn) ([][]byte, websocket.StatusCode, string) {
	t.Helper()
	var payloads [][]byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
			return payloads, ce.Code, ce.Reason
		}
		payloads = append(payloads, data)
	}
}

func TestStream_ScenarioA_StepsThenResult(t *testing.T) {
	svc, factory := newTestService(t, twoSteps)
	srv := startServer(t, svc)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	tk, err := svc.Create(ctx, "open example.com")
	require.NoError(t, err)

	payloads, code, _ := readUntilClose(t, ctx, dialTask(t, ctx, srv, tk.ID))
	assert.Equal(t, websocket.StatusNormalClosure, code)

	envs := testutil.DecodeEnvelopes(t, payloads)
	testutil.AssertEnvelopes(t, envs, "step", "step", "result")
	assert.Equal(t, tk.ID, envs[2].SessionID)

	result := testutil.MustParseJSON[map[string]any](string(envs[2].Data))
	assert.Equal(t, float64(2), result["total_steps"])
	assert.Equal(t, true, result["success"])
	assert.Equal(t, 1, factory.Created())

	got, err := svc.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestStream_ScenarioB_ConnectionFailure(t *testing.T) {
	svc, _ := newTestService(t, func(context.Context, agent.Hooks) error {
		return fmt.Errorf("Failed to connect to ws://localhost:9222: %w", agent.ErrBrowserUnreachable)
	})
	srv := startServer(t, svc)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	tk, err := svc.Create(ctx, "open example.com")
	require.NoError(t, err)

	payloads, code, reason := readUntilClose(t, ctx, dialTask(t, ctx, srv, tk.ID))
	assert.Equal(t, websocket.StatusInternalError, code)
	assert.Contains(t, reason, "Failed to connect")
	assert.LessOrEqual(t, len(reason), maxCloseReason)

	envs := testutil.DecodeEnvelopes(t, payloads)
	require.Len(t, envs, 1)
	assert.Equal(t, "error", envs[0].Type)
	assert.Equal(t, 1, envs[0].Sequence)

	msg := testutil.MustParseJSON[task.ErrorMessage](string(envs[0].Data))
	assert.Equal(t, task.ConnectionErrorType, msg.ErrorType)
	assert.False(t, msg.Recoverable)

	got, err := svc.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestStream_ScenarioC_ReplayCompleted(t *testing.T) {
	svc, factory := newTestService(t, twoSteps)
	srv := startServer(t, svc)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	tk, err := svc.Create(ctx, "open example.com")
	require.NoError(t, err)

	live, _, _ := readUntilClose(t, ctx, dialTask(t, ctx, srv, tk.ID))
	replayed, code, _ := readUntilClose(t, ctx, dialTask(t, ctx, srv, tk.ID))

	assert.Equal(t, websocket.StatusNormalClosure, code)
	assert.Equal(t, live, replayed, "replay must be byte-identical")
	assert.Equal(t, 1, factory.Created())
}

func TestStream_ScenarioD_ActionFailureIsNotFatal(t *testing.T) {
	midRun := make(chan task.Status, 1)
	var svc *task.Service
	svc, _ = newTestService(t, func(_ context.Context, hooks agent.Hooks) error {
		hooks.OnStep(fixtures.State("https://example.com"),
			fixtures.Output("click around", fixtures.Navigate("https://example.com"), fixtures.BrokenAction{}, fixtures.Click(1)),
			agent.StepInfo{Number: 1})
		midRun <- svc.List()[0].Status
		hooks.OnDone(fixtures.DoneHistory("done"))
		return nil
	})
	srv := startServer(t, svc)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	tk, err := svc.Create(ctx, "click around")
	require.NoError(t, err)

	payloads, code, _ := readUntilClose(t, ctx, dialTask(t, ctx, srv, tk.ID))
	assert.Equal(t, websocket.StatusNormalClosure, code)
	assert.Equal(t, task.StatusRunning, <-midRun)

	envs := testutil.DecodeEnvelopes(t, payloads)
	require.Len(t, envs, 2)
	step := testutil.MustParseJSON[task.StepMessage](string(envs[0].Data))
	require.Len(t, step.Actions, 2)
	assert.Equal(t, "gotourl", step.Actions[0].Type)
	assert.Equal(t, "clickelement", step.Actions[1].Type)

	details, err := svc.Details(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, details.Stats.ErrorCount)
	require.Len(t, details.Errors, 1)
	assert.Equal(t, task.StatusCompleted, details.Task.Status)
}

func TestStream_ReconnectWhileRunning(t *testing.T) {
	stepped := make(chan struct{})
	release := make(chan struct{})
	svc, factory := newTestService(t, func(ctx context.Context, hooks agent.Hooks) error {
		hooks.OnStep(fixtures.State("https://example.com"), fixtures.Output("wait"), agent.StepInfo{Number: 1})
		close(stepped)
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		hooks.OnDone(fixtures.DoneHistory("done"))
		return nil
	})
	srv := startServer(t, svc)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	tk, err := svc.Create(ctx, "wait")
	require.NoError(t, err)

	first := dialTask(t, ctx, srv, tk.ID)
	_, firstStep, err := first.Read(ctx)
	require.NoError(t, err)
	<-stepped

	payloads, code, _ := readUntilClose(t, ctx, dialTask(t, ctx, srv, tk.ID))
	assert.Equal(t, StatusTaskRunning, code)
	envs := testutil.DecodeEnvelopes(t, payloads)
	require.Len(t, envs, 2)
	assert.Equal(t, firstStep, payloads[0])
	assert.Equal(t, "error", envs[1].Type)
	notice := testutil.MustParseJSON[task.ErrorMessage](string(envs[1].Data))
	assert.Equal(t, task.RunningErrorType, notice.ErrorType)
	assert.True(t, notice.Recoverable)

	close(release)
	rest, code, _ := readUntilClose(t, ctx, first)
	assert.Equal(t, websocket.StatusNormalClosure, code)
	require.Len(t, rest, 1)
	assert.Equal(t, "result", testutil.DecodeEnvelopes(t, rest)[0].Type)
	assert.Equal(t, 1, factory.Created())
}

func TestStream_TaskNotFound(t *testing.T) {
	svc, _ := newTestService(t, nil)
	srv := startServer(t, svc)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	payloads, code, reason := readUntilClose(t, ctx, dialTask(t, ctx, srv, "missing"))
	assert.Empty(t, payloads)
	assert.Equal(t, StatusTaskNotFound, code)
	assert.Equal(t, "Task not found", reason)
}

func TestCloseStatus(t *testing.T) {
	code, _ := closeStatus(nil)
	assert.Equal(t, websocket.StatusNormalClosure, code)

	code, _ = closeStatus(fmt.Errorf("run: %w", task.ErrTaskRunning))
	assert.Equal(t, StatusTaskRunning, code)

	code, reason := closeStatus(errors.New(strings.Repeat("é", 100)))
	assert.Equal(t, websocket.StatusInternalError, code)
	assert.LessOrEqual(t, len(reason), maxCloseReason)
	assert.True(t, strings.HasPrefix(strings.Repeat("é", 100), reason))
	assert.Equal(t, 0, len(reason)%2, "cut on a rune boundary")
}
