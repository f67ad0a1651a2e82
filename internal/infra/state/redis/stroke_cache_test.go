package redisstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/domain"
	redisstate "collaborative-sketchpad/internal/infra/state/redis"
)

func newTestCache(t *testing.T) (*redisstate.RedisStrokeCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRedisStrokeCache(client, "test:"), mr
}

func strokes(user string, ids ...int) []domain.Action {
	out := make([]domain.Action, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Action{ID: id, Kind: domain.KindDot, User: user, Params: domain.Params{
			CurrentCoordinates: &domain.Point{X: float64(id), Y: 2},
		}})
	}
	return out
}

func TestRedisStrokeCache_AppendPendingTotal(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	total, err := cache.Append(ctx, 1, strokes("u", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	total, err = cache.Append(ctx, 2, strokes("v", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	pending, err := cache.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, strokes("u", 1, 2), pending)

	dirty, err := cache.DirtySketchpads(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 2}, dirty)
}

func TestRedisStrokeCache_TakeAndRequeue(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Append(ctx, 1, strokes("u", 1, 2, 3))
	require.NoError(t, err)

	taken, err := cache.Take(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, strokes("u", 1, 2, 3), taken)

	total, err := cache.TotalLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	dirty, err := cache.DirtySketchpads(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// 取出后又有新笔画写入，放回时旧笔画应排在前面
	_, err = cache.Append(ctx, 1, strokes("u", 4))
	require.NoError(t, err)
	require.NoError(t, cache.Requeue(ctx, 1, taken))

	pending, err := cache.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, strokes("u", 1, 2, 3, 4), pending)
	total, err = cache.TotalLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	dirty, err = cache.DirtySketchpads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, dirty)
}

func TestRedisStrokeCache_TakeKeepsMalformedEntries(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Append(ctx, 1, strokes("u", 1))
	require.NoError(t, err)
	_, err = mr.RPush("test:sketchpad:1:strokes", "{not json")
	require.NoError(t, err)
	_, err = cache.Append(ctx, 1, strokes("u", 2))
	require.NoError(t, err)

	pending, err := cache.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, strokes("u", 1, 2), pending, "加载时跳过坏条目")

	taken, err := cache.Take(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, strokes("u", 1, 2), taken, "坏条目不影响同一批的其他笔画")

	corrupt, err := mr.List("test:sketchpad:1:strokes:corrupt")
	require.NoError(t, err)
	assert.Equal(t, []string{"{not json"}, corrupt)
	assert.False(t, mr.Exists("test:sketchpad:1:strokes"))
}

func TestRedisStrokeCache_TakeEmpty(t *testing.T) {
	cache, _ := newTestCache(t)
	taken, err := cache.Take(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, taken)
}

func TestRedisStrokeCache_PublishSubscribe(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	sub := cache.Subscribe(ctx, 5)
	defer sub.Close()

	require.NoError(t, cache.PublishUpdate(ctx, 5, []byte(`{"type":"update_canvas"}`)))
	select {
	case msg := <-sub.Messages():
		assert.JSONEq(t, `{"type":"update_canvas"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Messages():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisStrokeCache_CheckRateLimit(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, err := cache.CheckRateLimit(ctx, "rl:1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.False(t, exceeded)
	}
	exceeded, err := cache.CheckRateLimit(ctx, "rl:1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, exceeded)

	mr.FastForward(2 * time.Second)
	exceeded, err = cache.CheckRateLimit(ctx, "rl:1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, exceeded)
}
