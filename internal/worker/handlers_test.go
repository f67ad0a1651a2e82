package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/service"
	"collaborative-sketchpad/internal/tasks"
	"collaborative-sketchpad/internal/worker"
)

type mockSyncer struct{ mock.Mock }

func (m *mockSyncer) SyncCacheToDatabase(ctx context.Context) (service.SyncReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(service.SyncReport), args.Error(1)
}

type mockRefresher struct{ mock.Mock }

func (m *mockRefresher) Refresh(ctx context.Context, id uint) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRefresher) RefreshStale(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

type staticActive []uint

func (s staticActive) ActiveSketchpadIDs() []uint { return s }

func TestStrokeSyncHandler(t *testing.T) {
	syncer := new(mockSyncer)
	h := worker.NewStrokeSyncHandler(syncer)
	ctx := context.Background()

	syncer.On("SyncCacheToDatabase", ctx).Return(service.SyncReport{Sketchpads: 1, Strokes: 4}, nil).Once()
	require.NoError(t, h.ProcessTask(ctx, tasks.NewStrokeSyncTask()))

	syncer.On("SyncCacheToDatabase", ctx).Return(service.SyncReport{Failed: 1}, service.ErrInternalServer).Once()
	err := h.ProcessTask(ctx, tasks.NewStrokeSyncTask())
	assert.ErrorIs(t, err, service.ErrInternalServer)
	syncer.AssertExpectations(t)
}

func TestSnapshotHandler(t *testing.T) {
	refresher := new(mockRefresher)
	h := worker.NewSnapshotHandler(refresher)
	ctx := context.Background()

	task, err := tasks.NewSnapshotTask(3)
	require.NoError(t, err)
	refresher.On("Refresh", ctx, uint(3)).Return(nil).Once()
	require.NoError(t, h.ProcessTask(ctx, task))

	err = h.ProcessTask(ctx, asynq.NewTask(tasks.TypeSketchpadSnapshot, []byte("garbage")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	refresher.AssertExpectations(t)
}

func TestSnapshotCheckHandler_RefreshesActiveAndStale(t *testing.T) {
	refresher := new(mockRefresher)
	h := worker.NewSnapshotCheckHandler(staticActive{1, 2, 2}, refresher)
	ctx := context.Background()

	refresher.On("Refresh", mock.Anything, uint(1)).Return(nil).Once()
	refresher.On("Refresh", mock.Anything, uint(2)).Return(errors.New("boom")).Once()
	refresher.On("RefreshStale", ctx, 50).Return(3, nil).Once()

	require.NoError(t, h.ProcessTask(ctx, tasks.NewSnapshotPeriodicCheckTask()))
	refresher.AssertExpectations(t)
}
