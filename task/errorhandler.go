package task

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/agent/browser"
)

// ConnectionErrorType 远程浏览器连接失败的错误类型
const ConnectionErrorType = "RemoteBrowserConnectionError"

// connectionIndicators 远程浏览器连接失败的错误文本特征
var connectionIndicators = []string{
	"connect_over_cdp",
	"Failed to connect",
	"could not dial",
}

// Diagnostics 错误诊断信息中使用的浏览器部署参数
type Diagnostics struct {
	CDPEndpoint     string
	RemoteDebugPort int
	ContainerName   string
}

// DefaultDiagnostics 返回默认诊断参数
func DefaultDiagnostics() Diagnostics {
	return Diagnostics{
		CDPEndpoint:     "ws://localhost:9222",
		RemoteDebugPort: 9222,
		ContainerName:   "chrome-1",
	}
}

// errorTyper 自带错误类型名的 error
type errorTyper interface {
	ErrorType() string
}

// =============================================================================
// 🚨 ErrorHandler
// =============================================================================

// ErrorHandler 把 error 转换为 ErrorMessage，并记录到任务错误日志
type ErrorHandler struct {
	rec         *record
	diagnostics Diagnostics
	observer    Observer
	logger      *zap.Logger
}

func newErrorHandler(rec *record, diagnostics Diagnostics, observer Observer, logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		rec:         rec,
		diagnostics: diagnostics,
		observer:    observer,
		logger:      logger,
	}
}

// Handle 处理运行级错误
func (h *ErrorHandler) Handle(err error) ErrorMessage {
	return h.handle(err, nil, nil)
}

// HandleStep 处理步骤回调中的错误
func (h *ErrorHandler) HandleStep(err error, step int) ErrorMessage {
	return h.handle(err, &step, nil)
}

// HandleAction 处理单个动作转换失败
func (h *ErrorHandler) HandleAction(err error, step int, kind string) ErrorMessage {
	return h.handle(err, &step, &kind)
}

func (h *ErrorHandler) handle(err error, step *int, action *string) ErrorMessage {
	if err == nil {
		err = errors.New("unknown error")
	}
	msg := h.classify(err)
	msg.Step = step
	msg.Action = action

	h.rec.mu.Lock()
	h.rec.stats.ErrorCount++
	h.rec.stats.LastActivity = time.Now()
	msg.RetryCount = h.rec.stats.RetryCount
	h.rec.errors = append(h.rec.errors, msg)
	h.rec.mu.Unlock()

	h.observer.ErrorRecorded(msg.ErrorType)
	fields := []zap.Field{
		zap.String("error_type", msg.ErrorType),
		zap.Bool("recoverable", msg.Recoverable),
		zap.Error(err),
	}
	if step != nil {
		fields = append(fields, zap.Int("step", *step))
	}
	if action != nil {
		fields = append(fields, zap.String("action", *action))
	}
	h.logger.Error("task error recorded", fields...)
	return msg
}

// classify 构造 ErrorMessage，不修改任务状态
func (h *ErrorHandler) classify(err error) ErrorMessage {
	msg := ErrorMessage{
		Error:       err.Error(),
		ErrorType:   ErrorTypeOf(err),
		Severity:    SeverityError,
		Timestamp:   formatTime(time.Now()),
		Recoverable: true,
		Details: map[string]any{
			"traceback": errorChain(err),
		},
	}
	if IsConnectionError(err) {
		msg.ErrorType = ConnectionErrorType
		msg.Severity = SeverityCritical
		msg.Recoverable = false
		msg.Error = fmt.Sprintf(
			"cannot connect to the remote browser at %s: make sure the browser container %q is running and its remote debugging port %d is reachable",
			browser.RedactEndpoint(h.diagnostics.CDPEndpoint), h.diagnostics.ContainerName, h.diagnostics.RemoteDebugPort)
		msg.Details["cdp_endpoint"] = browser.RedactEndpoint(h.diagnostics.CDPEndpoint)
		msg.Details["remote_debug_port"] = h.diagnostics.RemoteDebugPort
		msg.Details["container"] = h.diagnostics.ContainerName
		msg.Details["original_error"] = err.Error()
	}
	return msg
}

// IsConnectionError 判断是否为远程浏览器连接失败
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, agent.ErrBrowserUnreachable) {
		return true
	}
	text := err.Error()
	for _, indicator := range connectionIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

// ErrorTypeOf 返回错误类型名：优先 ErrorType()，其次错误链中第一个具名类型
func ErrorTypeOf(err error) string {
	var typer errorTyper
	if errors.As(err, &typer) {
		return typer.ErrorType()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if name := typeName(e); name != "" {
			return name
		}
	}
	return "Error"
}

// typeName 标准库的通用包装类型返回空串
func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Name() {
	case "", "errorString", "wrapError", "wrapErrors", "joinError":
		return ""
	}
	name := t.Name()
	return strings.ToUpper(name[:1]) + name[1:]
}

// errorChain 按包装顺序列出错误链
func errorChain(err error) []string {
	chain := make([]string, 0, 4)
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
		if len(chain) >= 16 {
			break
		}
	}
	return chain
}
