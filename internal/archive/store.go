package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OperatorNext/OperatorNext/internal/database"
	"github.com/OperatorNext/OperatorNext/task"
)

const (
	// DefaultLimit 查询默认条数
	DefaultLimit = 20
	// MaxLimit 单次查询上限
	MaxLimit = 100

	saveRetries = 3
)

// ErrNotArchived 归档中没有该任务
var ErrNotArchived = errors.New("task not archived")

// WriteRecorder 归档写入计数
type WriteRecorder interface {
	RecordArchiveWrite(status string)
}

// Store 基于 GORM 的任务归档
type Store struct {
	pool     *database.PoolManager
	recorder WriteRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore 创建归档存储，recorder 可为 nil
func NewStore(pool *database.PoolManager, recorder WriteRecorder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:     pool,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "task_archive")),
		now:      time.Now,
	}
}

// AutoMigrate 按 TaskRecord 建表，已有表时只补齐缺失列与索引
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.pool.DB().WithContext(ctx).AutoMigrate(&TaskRecord{}); err != nil {
		return fmt.Errorf("auto migrate task_archive: %w", err)
	}
	return nil
}

// Save 以 task_id 为键写入或覆盖归档行
func (s *Store) Save(ctx context.Context, d task.Details) error {
	if !d.Task.Status.Terminal() {
		return fmt.Errorf("archive task %s: status %q is not terminal", d.Task.ID, d.Task.Status)
	}
	rec, err := newRecord(d, s.now().UTC())
	if err != nil {
		s.record("error")
		return fmt.Errorf("archive task %s: %w", d.Task.ID, err)
	}

	err = s.pool.WithTransactionRetry(ctx, saveRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}},
			UpdateAll: true,
		}).Create(rec).Error
	})
	if err != nil {
		s.record("error")
		return fmt.Errorf("archive task %s: %w", d.Task.ID, err)
	}

	s.record("ok")
	s.logger.Debug("task archived",
		zap.String("task_id", rec.TaskID),
		zap.String("status", rec.Status),
		zap.Int("step_count", rec.StepCount),
	)
	return nil
}

// Get 按 ID 读取归档
func (s *Store) Get(ctx context.Context, taskID string) (ArchivedTask, error) {
	var rec TaskRecord
	err := s.pool.DB().WithContext(ctx).Where("task_id = ?", taskID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ArchivedTask{}, fmt.Errorf("%w: %s", ErrNotArchived, taskID)
	}
	if err != nil {
		return ArchivedTask{}, fmt.Errorf("load archived task %s: %w", taskID, err)
	}
	return rec.View(), nil
}

// Recent 按创建时间倒序返回最近的归档
func (s *Store) Recent(ctx context.Context, limit int) ([]ArchivedTask, error) {
	var recs []TaskRecord
	err := s.pool.DB().WithContext(ctx).
		Order("created_at DESC").
		Order("task_id ASC").
		Limit(ClampLimit(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}

	out := make([]ArchivedTask, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].View())
	}
	return out, nil
}

// Ping 供就绪检查使用
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) record(status string) {
	if s.recorder != nil {
		s.recorder.RecordArchiveWrite(status)
	}
}

// ClampLimit 非正数取默认值，超过上限截断
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

var _ task.Archiver = (*Store)(nil)
