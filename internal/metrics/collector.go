// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 任务指标
	tasksCreated    prometheus.Counter
	runsActive      prometheus.Gauge
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	stepsTotal      prometheus.Counter
	taskErrorsTotal *prometheus.CounterVec

	// WebSocket 消息指标
	framesSent     *prometheus.CounterVec
	framesReplayed *prometheus.CounterVec

	// Agent 依赖指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec
	browserActions     *prometheus.CounterVec

	// 归档指标
	archiveWrites *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 任务指标
	c.tasksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Total number of tasks created",
		},
	)

	c.runsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_runs_active",
			Help:      "Number of agent runs currently in progress",
		},
	)

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Total number of finished agent runs",
		},
		[]string{"status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_run_duration_seconds",
			Help:      "Agent run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	c.stepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_steps_total",
			Help:      "Total number of agent steps recorded",
		},
	)

	c.taskErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_errors_total",
			Help:      "Total number of errors recorded against tasks",
		},
		[]string{"error_type"},
	)

	// WebSocket 消息指标
	c.framesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_sent_total",
			Help:      "Total number of live WebSocket messages sent",
		},
		[]string{"type"},
	)

	c.framesReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_replayed_total",
			Help:      "Total number of cached WebSocket messages replayed",
		},
		[]string{"type"},
	)

	// Agent 依赖指标
	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of planner LLM requests",
		},
		[]string{"model", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Planner LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used by the planner",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	c.browserActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_actions_total",
			Help:      "Total number of browser actions executed",
		},
		[]string{"action", "status"},
	)

	// 归档指标
	c.archiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_writes_total",
			Help:      "Total number of task archive writes",
		},
		[]string{"status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧭 任务指标记录
// =============================================================================

// TaskCreated 记录任务创建
func (c *Collector) TaskCreated() {
	c.tasksCreated.Inc()
}

// RunStarted 记录一次 Agent 运行开始
func (c *Collector) RunStarted() {
	c.runsActive.Inc()
}

// RunFinished 记录一次 Agent 运行结束
func (c *Collector) RunFinished(status string, duration time.Duration) {
	c.runsActive.Dec()
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// StepRecorded 记录一个 Agent 步骤
func (c *Collector) StepRecorded() {
	c.stepsTotal.Inc()
}

// ErrorRecorded 记录任务错误
func (c *Collector) ErrorRecorded(errorType string) {
	c.taskErrorsTotal.WithLabelValues(errorType).Inc()
}

// MessageSent 记录一条实时发送的消息
func (c *Collector) MessageSent(msgType string) {
	c.framesSent.WithLabelValues(msgType).Inc()
}

// MessageReplayed 记录一条重放的消息
func (c *Collector) MessageReplayed(msgType string) {
	c.framesReplayed.WithLabelValues(msgType).Inc()
}

// =============================================================================
// 🤖 Agent 依赖指标记录
// =============================================================================

// RecordLLMRequest 记录规划器 LLM 请求
func (c *Collector) RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(model, status).Inc()
	c.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordBrowserAction 记录浏览器动作
func (c *Collector) RecordBrowserAction(action, status string) {
	c.browserActions.WithLabelValues(action, status).Inc()
}

// RecordArchiveWrite 记录归档写入
func (c *Collector) RecordArchiveWrite(status string) {
	c.archiveWrites.WithLabelValues(status).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
