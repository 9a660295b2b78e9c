package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/agent/browser"
)

type dialError struct{ addr string }

func (e *dialError) Error() string { return "dial " + e.addr + ": refused" }

func newTestHandler() (*ErrorHandler, *record) {
	rec := newRecord(Task{ID: "t1", CreatedAt: time.Now()}, Metadata{})
	diag := Diagnostics{
		CDPEndpoint:     "wss://chrome.internal:9222?token=secret",
		RemoteDebugPort: 9222,
		ContainerName:   "chrome-1",
	}
	return newErrorHandler(rec, diag, nopObserver{}, zap.NewNop()), rec
}

func TestErrorHandler_ConnectionErrors(t *testing.T) {
	cases := []error{
		errors.New("Failed to connect to ws://localhost:9222"),
		errors.New("BrowserType.connect_over_cdp: timeout"),
		fmt.Errorf("could not dial ws://chrome:9222"),
		fmt.Errorf("validate browser: %w", agent.ErrBrowserUnreachable),
	}
	for _, err := range cases {
		t.Run(err.Error(), func(t *testing.T) {
			h, _ := newTestHandler()
			msg := h.Handle(err)

			assert.Equal(t, ConnectionErrorType, msg.ErrorType)
			assert.False(t, msg.Recoverable)
			assert.Equal(t, SeverityCritical, msg.Severity)
			assert.Contains(t, msg.Error, "chrome-1")
			assert.Contains(t, msg.Error, "9222")
			assert.NotContains(t, msg.Error, "secret")
			assert.Equal(t, browser.RedactEndpoint("wss://chrome.internal:9222?token=secret"), msg.Details["cdp_endpoint"])
			assert.Equal(t, 9222, msg.Details["remote_debug_port"])
			assert.Equal(t, "chrome-1", msg.Details["container"])
		})
	}
}

func TestErrorHandler_GenericError(t *testing.T) {
	h, rec := newTestHandler()

	msg := h.HandleStep(fmt.Errorf("plan: %w", &dialError{addr: "api"}), 3)

	assert.Equal(t, "DialError", msg.ErrorType)
	assert.True(t, msg.Recoverable)
	assert.Equal(t, SeverityError, msg.Severity)
	assert.Equal(t, "plan: dial api: refused", msg.Error)
	require.NotNil(t, msg.Step)
	assert.Equal(t, 3, *msg.Step)
	assert.Nil(t, msg.Action)

	chain, ok := msg.Details["traceback"].([]string)
	require.True(t, ok)
	assert.Len(t, chain, 2)

	details := rec.details()
	assert.Equal(t, 1, details.Stats.ErrorCount)
	require.Len(t, details.Errors, 1)
	assert.Equal(t, msg.Error, details.Errors[0].Error)
}

func TestErrorHandler_HandleAction(t *testing.T) {
	h, rec := newTestHandler()

	msg := h.HandleAction(errors.New("bad args"), 2, "click")
	require.NotNil(t, msg.Action)
	assert.Equal(t, "click", *msg.Action)
	assert.Equal(t, "Error", msg.ErrorType)

	h.Handle(nil)
	assert.Equal(t, 2, rec.details().Stats.ErrorCount)
}

func TestErrorHandler_RetryCountIsPassive(t *testing.T) {
	h, rec := newTestHandler()
	rec.stats.RetryCount = 2

	msg := h.Handle(errors.New("boom"))
	assert.Equal(t, 2, msg.RetryCount)
	assert.Equal(t, 2, rec.details().Stats.RetryCount)
}

func TestErrorTypeOf(t *testing.T) {
	upstream := &browser.UpstreamError{StatusCode: 500, Message: "oops"}

	assert.Equal(t, "PlannerUpstreamError", ErrorTypeOf(fmt.Errorf("plan: %w", upstream)))
	assert.Equal(t, "Cancelled", ErrorTypeOf(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, "Timeout", ErrorTypeOf(context.DeadlineExceeded))
	assert.Equal(t, "Error", ErrorTypeOf(errors.New("plain")))
	assert.Equal(t, "Error", ErrorTypeOf(errors.Join(errors.New("a"), errors.New("b"))))
	assert.Equal(t, "DialError", ErrorTypeOf(&dialError{}))
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(errors.New("element not found")))
	assert.True(t, IsConnectionError(agent.ErrBrowserUnreachable))
}
