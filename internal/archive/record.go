package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/OperatorNext/OperatorNext/task"
)

// TaskRecord task_archive 表的一行
type TaskRecord struct {
	TaskID          string     `gorm:"column:task_id;primaryKey;size:64"`
	Description     string     `gorm:"column:description;not null"`
	Status          string     `gorm:"column:status;size:16;not null;index:idx_task_archive_status"`
	Result          *string    `gorm:"column:result"`
	StepCount       int        `gorm:"column:step_count;not null;default:0"`
	ErrorCount      int        `gorm:"column:error_count;not null;default:0"`
	RetryCount      int        `gorm:"column:retry_count;not null;default:0"`
	DurationSeconds float64    `gorm:"column:duration_seconds;not null;default:0"`
	BrowserVersion  *string    `gorm:"column:browser_version;size:255"`
	Errors          *string    `gorm:"column:errors"`
	Metadata        *string    `gorm:"column:metadata"`
	StartedAt       *time.Time `gorm:"column:started_at"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_task_archive_created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	ArchivedAt      time.Time  `gorm:"column:archived_at;not null"`
}

// TableName 与迁移脚本中的表名一致
func (TaskRecord) TableName() string {
	return "task_archive"
}

// newRecord 把任务详情展平为归档行
func newRecord(d task.Details, archivedAt time.Time) (*TaskRecord, error) {
	rec := &TaskRecord{
		TaskID:          d.Task.ID,
		Description:     d.Task.Description,
		Status:          string(d.Task.Status),
		StepCount:       d.Stats.StepCount,
		ErrorCount:      d.Stats.ErrorCount,
		RetryCount:      d.Stats.RetryCount,
		DurationSeconds: d.Stats.Duration,
		StartedAt:       d.Stats.StartedAt,
		CompletedAt:     d.Stats.CompletedAt,
		CreatedAt:       d.Task.CreatedAt,
		UpdatedAt:       d.Task.UpdatedAt,
		ArchivedAt:      archivedAt,
	}
	if len(d.Task.Result) > 0 {
		rec.Result = ptr(string(d.Task.Result))
	}
	if v, ok := d.Metadata.BrowserInfo["version"].(string); ok && v != "" {
		rec.BrowserVersion = ptr(v)
	}

	errs := d.Errors
	if errs == nil {
		errs = []task.ErrorMessage{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("encode errors: %w", err)
	}
	rec.Errors = ptr(string(raw))

	raw, err = json.Marshal(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	rec.Metadata = ptr(string(raw))
	return rec, nil
}

// ArchivedTask 归档查询接口返回的视图
type ArchivedTask struct {
	TaskID         string          `json:"task_id"`
	Description    string          `json:"task_description"`
	Status         task.Status     `json:"status"`
	Result         json.RawMessage `json:"result"`
	StepCount      int             `json:"step_count"`
	ErrorCount     int             `json:"error_count"`
	RetryCount     int             `json:"retry_count"`
	Duration       float64         `json:"duration"`
	BrowserVersion string          `json:"browser_version,omitempty"`
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	ArchivedAt     time.Time       `json:"archived_at"`
}

// View 转换为接口视图，无结果时 result 为 null
func (r *TaskRecord) View() ArchivedTask {
	v := ArchivedTask{
		TaskID:      r.TaskID,
		Description: r.Description,
		Status:      task.Status(r.Status),
		Result:      json.RawMessage("null"),
		StepCount:   r.StepCount,
		ErrorCount:  r.ErrorCount,
		RetryCount:  r.RetryCount,
		Duration:    r.DurationSeconds,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		ArchivedAt:  r.ArchivedAt,
	}
	if r.Result != nil && json.Valid([]byte(*r.Result)) {
		v.Result = json.RawMessage(*r.Result)
	}
	if r.BrowserVersion != nil {
		v.BrowserVersion = *r.BrowserVersion
	}
	return v
}

func ptr[T any](v T) *T {
	return &v
}
