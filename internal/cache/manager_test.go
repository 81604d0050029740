package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	m, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return mr, m
}

func TestNewManager_PingsOnConstruct(t *testing.T) {
	_, m := newTestManager(t)
	require.NotNil(t, m.Client())
}

func TestNewManager_UnreachableRedis(t *testing.T) {
	m, err := NewManager(Config{Addr: "localhost:1"}, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, m)
}

func TestManager_SetGet(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "budget:tenant-a:email", "42", time.Minute))

	got, err := m.Get(ctx, "budget:tenant-a:email")
	require.NoError(t, err)
	assert.Equal(t, "42", got)
}

func TestManager_Get_Miss(t *testing.T) {
	_, m := newTestManager(t)

	got, err := m.Get(context.Background(), "lease:lead:missing")
	assert.True(t, IsCacheMiss(err))
	assert.Empty(t, got)
}

func TestManager_Delete(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v", time.Minute))
	require.NoError(t, m.Set(ctx, "k2", "v", time.Minute))

	require.NoError(t, m.Delete(ctx, "k1", "k2"))

	n, err := m.Exists(ctx, "k1", "k2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_JSONRoundTrip(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	type snapshot struct {
		Sent   int    `json:"sent"`
		Window string `json:"window"`
	}

	in := snapshot{Sent: 7, Window: "daily"}
	require.NoError(t, m.SetJSON(ctx, "budget:snapshot", in, time.Minute))

	var out snapshot
	require.NoError(t, m.GetJSON(ctx, "budget:snapshot", &out))
	assert.Equal(t, in, out)
}

func TestManager_SetJSON_Unmarshalable(t *testing.T) {
	_, m := newTestManager(t)

	err := m.SetJSON(context.Background(), "bad", make(chan int), time.Minute)
	assert.Error(t, err)
}

func TestManager_GetJSON_CorruptPayload(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "corrupt", "{not json", time.Minute))

	var out map[string]any
	assert.Error(t, m.GetJSON(ctx, "corrupt", &out))
}

func TestManager_TTLExpiry(t *testing.T) {
	mr, m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "ephemeral", "v", 100*time.Millisecond))

	got, err := m.Get(ctx, "ephemeral")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	mr.FastForward(200 * time.Millisecond)

	_, err = m.Get(ctx, "ephemeral")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Expire(t *testing.T) {
	mr, m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Hour))
	require.NoError(t, m.Expire(ctx, "k", 50*time.Millisecond))

	mr.FastForward(100 * time.Millisecond)

	_, err := m.Get(ctx, "k")
	assert.Error(t, err)
}

func TestManager_Ping(t *testing.T) {
	_, m := newTestManager(t)
	assert.NoError(t, m.Ping(context.Background()))
}

func TestManager_ConcurrentWrites(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent:%d", id)
			assert.NoError(t, m.Set(ctx, key, "v", time.Minute))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		got, err := m.Get(ctx, fmt.Sprintf("concurrent:%d", i))
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	}
}
