package task

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MessageType 信封类型
type MessageType string

const (
	MessageStep   MessageType = "step"
	MessageResult MessageType = "result"
	MessageError  MessageType = "error"
)

// Severity 错误严重程度
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// =============================================================================
// 📨 负载
// =============================================================================

// Action 单个浏览器动作记录
type Action struct {
	Type      string         `json:"type"`
	Args      map[string]any `json:"args"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
}

// StepMessage 步骤消息
type StepMessage struct {
	Step        int            `json:"step"`
	URL         string         `json:"url"`
	Status      string         `json:"status"`
	Evaluation  string         `json:"evaluation"`
	Memory      string         `json:"memory"`
	NextGoal    string         `json:"next_goal"`
	Actions     []Action       `json:"actions"`
	Screenshot  *string        `json:"screenshot"`
	StartedAt   string         `json:"started_at"`
	CompletedAt string         `json:"completed_at"`
	Duration    float64        `json:"duration"`
	Metadata    map[string]any `json:"metadata"`
}

// ResultMessage 任务结果消息
type ResultMessage struct {
	FinalResult *string        `json:"final_result"`
	TotalSteps  int            `json:"total_steps"`
	Success     bool           `json:"success"`
	Status      string         `json:"status"`
	StartedAt   string         `json:"started_at"`
	CompletedAt string         `json:"completed_at"`
	Duration    float64        `json:"duration"`
	ErrorCount  int            `json:"error_count"`
	RetryCount  int            `json:"retry_count"`
	Summary     string         `json:"summary"`
	Notes       *string        `json:"notes"`
	Metadata    map[string]any `json:"metadata"`
}

// ErrorMessage 结构化错误
type ErrorMessage struct {
	Error       string         `json:"error"`
	ErrorType   string         `json:"error_type"`
	Severity    Severity       `json:"severity"`
	Details     map[string]any `json:"details"`
	Step        *int           `json:"step"`
	Action      *string        `json:"action"`
	Timestamp   string         `json:"timestamp"`
	Recoverable bool           `json:"recoverable"`
	RetryCount  int            `json:"retry_count"`
	Notes       *string        `json:"notes"`
}

// Envelope WebSocket 消息信封
type Envelope struct {
	Type      MessageType    `json:"type"`
	Data      any            `json:"data"`
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Sequence  int            `json:"sequence"`
	Metadata  map[string]any `json:"metadata"`
}

// Frame 已序列化的信封，实时发送与重放共用同一份字节
type Frame struct {
	Type     MessageType
	Sequence int
	Payload  []byte
}

// encodeFrame 序列化信封
func encodeFrame(env Envelope) (Frame, error) {
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return Frame{Type: env.Type, Sequence: env.Sequence, Payload: payload}, nil
}

// =============================================================================
// ⏱️ 时间
// =============================================================================

// formatTime 统一的时间戳格式
func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// StepDuration 由两个时间戳字符串计算秒数，任一无法解析时返回 0
func StepDuration(startedAt, completedAt string, logger *zap.Logger) float64 {
	start, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		logDurationFailure(logger, startedAt, err)
		return 0
	}
	end, err := time.Parse(time.RFC3339Nano, completedAt)
	if err != nil {
		logDurationFailure(logger, completedAt, err)
		return 0
	}
	return end.Sub(start).Seconds()
}

func logDurationFailure(logger *zap.Logger, value string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("unparsable step timestamp", zap.String("value", value), zap.Error(err))
}

// ratio 分母为 0 时返回 0
func ratio(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole
}

func stringPtr(s string) *string {
	return &s
}
