package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/task"
	"github.com/OperatorNext/OperatorNext/types"
)

// 自定义关闭码
const (
	StatusTaskNotFound websocket.StatusCode = 4004
	StatusTaskRunning  websocket.StatusCode = 4009
)

// maxCloseReason 关闭帧 reason 的字节上限（控制帧负载 125 减去 2 字节状态码）
const maxCloseReason = 123

// =============================================================================
// 🔌 WebSocket 传输
// =============================================================================

// WSTransport 把 task.Transport 适配到 WebSocket 连接，写操作串行化
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var _ task.Transport = (*WSTransport)(nil)

// NewWSTransport 包装已建立的连接
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

// Send 以文本帧发送一个已序列化的信封
func (t *WSTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, payload)
}

// =============================================================================
// 📡 任务流 Handler
// =============================================================================

// StreamHandler GET /api/ws/tasks/{task_id}
type StreamHandler struct {
	service TaskService
	accept  *websocket.AcceptOptions
	logger  *zap.Logger
}

// NewStreamHandler 创建处理器，allowedOrigins 含 "*" 时不校验 Origin
func NewStreamHandler(service TaskService, allowedOrigins []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &websocket.AcceptOptions{}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			break
		}
	}
	if !opts.InsecureSkipVerify {
		opts.OriginPatterns = allowedOrigins
	}
	return &StreamHandler{
		service: service,
		accept:  opts,
		logger:  logger.With(zap.String("handler", "task_stream")),
	}
}

// HandleStream 升级连接后运行或回放任务，按结果选择关闭码
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	logger := h.logger.With(zap.String("task_id", taskID))

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	if _, err := h.service.Get(taskID); err != nil {
		_ = conn.Close(StatusTaskNotFound, "Task not found")
		return
	}

	// 客户端只接收消息；连接断开时 ctx 被取消，运行随之终止
	ctx := conn.CloseRead(types.WithTaskID(r.Context(), taskID))
	logger.Info("task stream connected")

	err = h.service.Run(ctx, taskID, NewWSTransport(conn))
	code, reason := closeStatus(err)
	if err != nil && code != StatusTaskRunning {
		logger.Warn("task stream ended with error", zap.Error(err))
	}
	_ = conn.Close(code, reason)
	logger.Info("task stream closed", zap.Int("code", int(code)))
}

// closeStatus 运行结果到关闭码的映射
func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil:
		return websocket.StatusNormalClosure, "Task completed"
	case errors.Is(err, task.ErrTaskNotFound):
		return StatusTaskNotFound, "Task not found"
	case errors.Is(err, task.ErrTaskRunning):
		return StatusTaskRunning, "Task is already running"
	default:
		return websocket.StatusInternalError, truncateReason(err.Error())
	}
}

// truncateReason 按 UTF-8 边界截断到关闭帧允许的长度
func truncateReason(s string) string {
	if len(s) <= maxCloseReason {
		return s
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
