package syncbuf_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
	"collaborative-sketchpad/internal/syncbuf"
)

type fakeStore struct {
	mu         sync.Mutex
	batches    [][]domain.Action
	publishErr error
	syncCalls  int
}

func (f *fakeStore) LoadHistory(ctx context.Context, sketchpadID uint) ([]dto.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeStore) LoadPendingCache(ctx context.Context, sketchpadID uint) ([]domain.Action, error) {
	return nil, nil
}

func (f *fakeStore) Publish(ctx context.Context, sketchpadID uint, actions []domain.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.batches = append(f.batches, actions)
	return nil
}

func (f *fakeStore) SyncCacheToDatabase(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return nil
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

func (f *fakeStore) published() []domain.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Action
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func dot(id int) domain.Action {
	return domain.Action{ID: id, Kind: domain.KindDot, User: "u"}
}

func TestFlush_KeepsActionsUntilAcknowledged(t *testing.T) {
	store := &fakeStore{publishErr: errors.New("network down")}
	// 间隔足够长，测试期间不会自动发送
	buf := syncbuf.New(store, 1, syncbuf.WithInterval(time.Hour))
	buf.Add(dot(0))
	buf.Add(dot(1))

	err := buf.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, buf.Pending(), "失败的批次仍保留在缓冲区")

	store.setErr(nil)
	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 0, buf.Pending())
	assert.Equal(t, []domain.Action{dot(0), dot(1)}, store.published())
}

func TestFlush_EmptyBufferSkipsPublish(t *testing.T) {
	store := &fakeStore{}
	buf := syncbuf.New(store, 1)

	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 0, store.calls())
}

func TestThrottle_CoalescesBursts(t *testing.T) {
	store := &fakeStore{}
	buf := syncbuf.New(store, 1, syncbuf.WithInterval(50*time.Millisecond))

	for i := 0; i < 20; i++ {
		buf.Add(dot(i))
	}

	assert.Eventually(t, func() bool { return buf.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	got := store.published()
	require.Len(t, got, 20)
	for i, a := range got {
		assert.Equal(t, i, a.ID, "发送顺序与产生顺序一致")
	}
	assert.LessOrEqual(t, store.calls(), 3)
}

func TestThrottle_RetriesAfterFailureOnNextAdd(t *testing.T) {
	store := &fakeStore{publishErr: errors.New("503")}
	buf := syncbuf.New(store, 1, syncbuf.WithInterval(10*time.Millisecond))

	buf.Add(dot(0))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, buf.Pending())

	store.setErr(nil)
	buf.Add(dot(1))
	assert.Eventually(t, func() bool { return buf.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.Action{dot(0), dot(1)}, store.published())
}

func TestOnHidden_FlushesAndSyncs(t *testing.T) {
	store := &fakeStore{}
	buf := syncbuf.New(store, 1, syncbuf.WithInterval(time.Hour))
	buf.Add(dot(0))

	require.NoError(t, buf.OnHidden(context.Background()))
	assert.Equal(t, 1, store.calls())
	assert.Equal(t, 1, store.syncCalls)
}

func TestClose_FlushesAndDropsLaterAdds(t *testing.T) {
	store := &fakeStore{}
	buf := syncbuf.New(store, 1, syncbuf.WithInterval(time.Hour))
	buf.Add(dot(0))

	require.NoError(t, buf.Close(context.Background()))
	buf.Add(dot(1))

	assert.Equal(t, 0, buf.Pending())
	assert.Equal(t, []domain.Action{dot(0)}, store.published())
}
