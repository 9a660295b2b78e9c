package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Journal 按任务保存已提交的信封，供 events 轮询接口读取
type Journal interface {
	Append(ctx context.Context, taskID string, f Frame) error
	Since(ctx context.Context, taskID string, after int) ([]json.RawMessage, error)
}

// =============================================================================
// 🧠 内存实现
// =============================================================================

// MemoryJournal 进程内日志
type MemoryJournal struct {
	mu     sync.RWMutex
	frames map[string][]Frame
}

// NewMemoryJournal 创建内存日志
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{frames: make(map[string][]Frame)}
}

// Append 实现 Journal
func (j *MemoryJournal) Append(_ context.Context, taskID string, f Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.frames[taskID] = append(j.frames[taskID], f)
	return nil
}

// Since 实现 Journal
func (j *MemoryJournal) Since(_ context.Context, taskID string, after int) ([]json.RawMessage, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]json.RawMessage, 0)
	for _, f := range j.frames[taskID] {
		if f.Sequence > after {
			out = append(out, json.RawMessage(f.Payload))
		}
	}
	return out, nil
}

// =============================================================================
// 🟥 Redis 实现
// =============================================================================

// ListStore Redis 列表存储，cache.Manager 实现该接口
type ListStore interface {
	Key(parts ...string) string
	AppendList(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ListRange(ctx context.Context, key string, start, end int64) ([][]byte, error)
}

// RedisJournal 基于 Redis 列表的日志，多副本可读
type RedisJournal struct {
	store  ListStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisJournal 创建 Redis 日志
func NewRedisJournal(store ListStore, ttl time.Duration, logger *zap.Logger) *RedisJournal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisJournal{
		store:  store,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "journal")),
	}
}

func (j *RedisJournal) key(taskID string) string {
	return j.store.Key("task", taskID, "events")
}

// Append 实现 Journal
func (j *RedisJournal) Append(ctx context.Context, taskID string, f Frame) error {
	if err := j.store.AppendList(ctx, j.key(taskID), f.Payload, j.ttl); err != nil {
		return fmt.Errorf("journal append %s/%d: %w", taskID, f.Sequence, err)
	}
	return nil
}

// Since 实现 Journal
func (j *RedisJournal) Since(ctx context.Context, taskID string, after int) ([]json.RawMessage, error) {
	vals, err := j.store.ListRange(ctx, j.key(taskID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("journal read %s: %w", taskID, err)
	}

	out := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		seq := sequenceOf(v)
		if seq < 0 {
			j.logger.Warn("skipping undecodable journal entry", zap.String("task_id", taskID))
			continue
		}
		if seq > after {
			out = append(out, json.RawMessage(v))
		}
	}
	return out, nil
}

// sequenceOf 解码失败返回 -1
func sequenceOf(payload []byte) int {
	var head struct {
		Sequence int `json:"sequence"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return -1
	}
	return head.Sequence
}
