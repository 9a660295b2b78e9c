package task

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/OperatorNext/OperatorNext/internal/sysmetrics"
)

// Status 任务状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 对外暴露的任务
type Task struct {
	ID          string          `json:"task_id"`
	Description string          `json:"task_description"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Result      json.RawMessage `json:"result"`
}

// MetricsSample 步骤级资源采样
type MetricsSample struct {
	Timestamp time.Time           `json:"timestamp"`
	Step      int                 `json:"step"`
	Metrics   sysmetrics.Snapshot `json:"metrics"`
}

// Stats 任务运行统计
type Stats struct {
	StartedAt     *time.Time      `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	Duration      float64         `json:"duration"`
	StepCount     int             `json:"step_count"`
	ErrorCount    int             `json:"error_count"`
	RetryCount    int             `json:"retry_count"`
	LastActivity  time.Time       `json:"last_activity"`
	SystemMetrics []MetricsSample `json:"system_metrics"`
}

// Metadata 任务创建时记录的元数据
type Metadata struct {
	BrowserInfo        map[string]any         `json:"browser_info"`
	PerformanceMetrics sysmetrics.Snapshot    `json:"performance_metrics"`
	Environment        sysmetrics.Environment `json:"environment"`
}

// Details 统计接口返回的完整视图
type Details struct {
	Task     Task           `json:"task"`
	Stats    Stats          `json:"stats"`
	Metadata Metadata       `json:"metadata"`
	Errors   []ErrorMessage `json:"errors"`
}

// =============================================================================
// 📦 单任务记录
// =============================================================================

// record 持有一个任务的全部可变状态，所有字段受 mu 保护
type record struct {
	mu sync.Mutex

	task     Task
	stats    Stats
	metadata Metadata
	errors   []ErrorMessage

	steps   []Frame
	result  *Frame
	failure *Frame
	seq     int
}

func newRecord(t Task, metadata Metadata) *record {
	return &record{
		task:     t,
		metadata: metadata,
		stats: Stats{
			LastActivity:  t.CreatedAt,
			SystemMetrics: []MetricsSample{},
		},
		errors: []ErrorMessage{},
	}
}

func (r *record) snapshotTask() Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task
}

func (r *record) details() Details {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.stats
	stats.SystemMetrics = append(make([]MetricsSample, 0, len(r.stats.SystemMetrics)), r.stats.SystemMetrics...)
	metadata := r.metadata
	metadata.BrowserInfo = make(map[string]any, len(r.metadata.BrowserInfo))
	for k, v := range r.metadata.BrowserInfo {
		metadata.BrowserInfo[k] = v
	}
	return Details{
		Task:     r.task,
		Stats:    stats,
		Metadata: metadata,
		Errors:   append(make([]ErrorMessage, 0, len(r.errors)), r.errors...),
	}
}

// =============================================================================
// 🗂️ 任务注册表
// =============================================================================

type registry struct {
	mu      sync.RWMutex
	records map[string]*record
}

func newRegistry() *registry {
	return &registry{records: make(map[string]*record)}
}

func (g *registry) add(r *record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[r.task.ID] = r
}

func (g *registry) get(id string) (*record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.records[id]
	return r, ok
}

// list 按创建时间倒序返回任务快照
func (g *registry) list() []Task {
	g.mu.RLock()
	recs := make([]*record, 0, len(g.records))
	for _, r := range g.records {
		recs = append(recs, r)
	}
	g.mu.RUnlock()

	tasks := make([]Task, 0, len(recs))
	for _, r := range recs {
		tasks = append(tasks, r.snapshotTask())
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}
