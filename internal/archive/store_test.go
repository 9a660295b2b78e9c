package archive

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/config"
	"github.com/OperatorNext/OperatorNext/internal/database"
	"github.com/OperatorNext/OperatorNext/task"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordArchiveWrite(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[status]++
}

func (r *countingRecorder) count(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[status]
}

// openMemoryPool 单连接，保证所有语句落在同一个内存库
func openMemoryPool(t *testing.T) *database.PoolManager {
	t.Helper()
	pool, err := database.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		Name:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func newTestStore(t *testing.T) (*Store, *countingRecorder) {
	t.Helper()
	rec := &countingRecorder{}
	store := NewStore(openMemoryPool(t), rec, zap.NewNop())
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store, rec
}

func completedDetails(id string, created time.Time) task.Details {
	started := created.Add(time.Second)
	completed := started.Add(5 * time.Second)
	return task.Details{
		Task: task.Task{
			ID:          id,
			Description: "find the price of a flight",
			Status:      task.StatusCompleted,
			CreatedAt:   created,
			UpdatedAt:   completed,
			Result:      json.RawMessage(`{"final_result":"$420","total_steps":2}`),
		},
		Stats: task.Stats{
			StartedAt:   &started,
			CompletedAt: &completed,
			Duration:    5,
			StepCount:   2,
		},
		Metadata: task.Metadata{
			BrowserInfo: map[string]any{"version": "HeadlessChrome/120.0.0.0"},
		},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store, recorder := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, completedDetails("t-1", created)))

	got, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "find the price of a flight", got.Description)
	assert.Equal(t, 2, got.StepCount)
	assert.InDelta(t, 5.0, got.Duration, 1e-9)
	assert.Equal(t, "HeadlessChrome/120.0.0.0", got.BrowserVersion)
	assert.JSONEq(t, `{"final_result":"$420","total_steps":2}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, created.Add(6*time.Second).Equal(*got.CompletedAt))
	assert.Equal(t, 1, recorder.count("ok"))
}

func TestStore_SaveOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	d := completedDetails("t-1", time.Now().UTC())
	require.NoError(t, store.Save(ctx, d))

	d.Task.Status = task.StatusFailed
	d.Task.Result = json.RawMessage(`{"error":"boom"}`)
	d.Stats.ErrorCount = 1
	d.Errors = []task.ErrorMessage{{Error: "boom", ErrorType: "Error", Severity: task.SeverityError}}
	require.NoError(t, store.Save(ctx, d))

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, task.StatusFailed, all[0].Status)
	assert.Equal(t, 1, all[0].ErrorCount)
	assert.JSONEq(t, `{"error":"boom"}`, string(all[0].Result))
}

func TestStore_SaveRejectsLiveTask(t *testing.T) {
	store, recorder := newTestStore(t)
	d := completedDetails("t-1", time.Now())
	d.Task.Status = task.StatusRunning

	assert.ErrorContains(t, store.Save(context.Background(), d), "not terminal")
	assert.Zero(t, recorder.count("ok"))
}

func TestStore_GetUnknown(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotArchived)
}

func TestStore_RecentOrderAndLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, completedDetails(id, base.Add(time.Duration(i)*time.Minute))))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].TaskID)
	assert.Equal(t, "b", recent[1].TaskID)
}

func TestStore_NoResult(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	d := completedDetails("t-1", time.Now())
	d.Task.Result = nil
	d.Metadata.BrowserInfo = map[string]any{}
	require.NoError(t, store.Save(ctx, d))

	got, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "null", string(got.Result))
	assert.Empty(t, got.BrowserVersion)
}

func TestStore_ClosedPool(t *testing.T) {
	pool := openMemoryPool(t)
	recorder := &countingRecorder{}
	store := NewStore(pool, recorder, nil)
	require.NoError(t, store.AutoMigrate(context.Background()))
	require.NoError(t, pool.Close())

	err := store.Save(context.Background(), completedDetails("t-1", time.Now()))
	assert.ErrorIs(t, err, database.ErrPoolClosed)
	assert.Equal(t, 1, recorder.count("error"))
	assert.ErrorIs(t, store.Ping(context.Background()), database.ErrPoolClosed)
}

// 版本化迁移建出的表必须能被 TaskRecord 直接读写
func TestStore_MigrationSchemaCompatible(t *testing.T) {
	ddl, err := os.ReadFile("../migration/migrations/sqlite/000001_create_task_archive.up.sql")
	require.NoError(t, err)

	pool := openMemoryPool(t)
	require.NoError(t, pool.DB().Exec(string(ddl)).Error)

	store := NewStore(pool, nil, nil)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, completedDetails("t-1", time.Now().UTC())))

	got, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.StepCount)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit+1))
}
