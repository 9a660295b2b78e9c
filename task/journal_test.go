package task

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/internal/cache"
)

func testJournals(t *testing.T) map[string]Journal {
	t.Helper()
	mr := miniredis.RunT(t)
	config := cache.DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0
	manager, err := cache.NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return map[string]Journal{
		"memory": NewMemoryJournal(),
		"redis":  NewRedisJournal(manager, time.Hour, zap.NewNop()),
	}
}

func TestJournal_Since(t *testing.T) {
	for name, j := range testJournals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 4; i++ {
				require.NoError(t, j.Append(ctx, "t1", frame(i)))
			}
			require.NoError(t, j.Append(ctx, "t2", frame(1)))

			all, err := j.Since(ctx, "t1", 0)
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.JSONEq(t, `{"sequence":1}`, string(all[0]))

			tail, err := j.Since(ctx, "t1", 2)
			require.NoError(t, err)
			require.Len(t, tail, 2)
			assert.JSONEq(t, `{"sequence":3}`, string(tail[0]))

			none, err := j.Since(ctx, "t1", 10)
			require.NoError(t, err)
			assert.Empty(t, none)

			missing, err := j.Since(ctx, "unknown", 0)
			require.NoError(t, err)
			assert.Empty(t, missing)
		})
	}
}

func TestRedisJournal_GapsAndGarbage(t *testing.T) {
	mr := miniredis.RunT(t)
	config := cache.DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0
	manager, err := cache.NewManager(config, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	j := NewRedisJournal(manager, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, "t1", frame(1)))
	require.NoError(t, j.Append(ctx, "t1", Frame{Sequence: 2, Payload: []byte("not json")}))
	require.NoError(t, j.Append(ctx, "t1", frame(4)))

	got, err := j.Since(ctx, "t1", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"sequence":4}`, string(got[0]))

	assert.True(t, mr.TTL("operatornext:task:t1:events") > 0)
}

func TestRedisJournal_StoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	config := cache.DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0
	manager, err := cache.NewManager(config, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, manager.Close())

	j := NewRedisJournal(manager, time.Hour, nil)
	assert.ErrorIs(t, j.Append(context.Background(), "t1", frame(1)), cache.ErrClosed)
	_, err = j.Since(context.Background(), "t1", 0)
	assert.ErrorIs(t, err, cache.ErrClosed)
}
