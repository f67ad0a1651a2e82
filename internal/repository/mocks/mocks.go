// Package mocks 提供 repository 接口的 testify mock 实现，供 service 层测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/repository"
)

// UserRepository 是 repository.UserRepository 的 mock。
type UserRepository struct {
	mock.Mock
}

func (m *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func (m *UserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func (m *UserRepository) Save(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

// SketchpadRepository 是 repository.SketchpadRepository 的 mock。
type SketchpadRepository struct {
	mock.Mock
}

func (m *SketchpadRepository) Create(ctx context.Context, sketchpad *domain.Sketchpad) error {
	return m.Called(ctx, sketchpad).Error(0)
}

func (m *SketchpadRepository) FindByID(ctx context.Context, id uint) (*domain.Sketchpad, error) {
	args := m.Called(ctx, id)
	sp, _ := args.Get(0).(*domain.Sketchpad)
	return sp, args.Error(1)
}

func (m *SketchpadRepository) FindByPublicID(ctx context.Context, publicID string) (*domain.Sketchpad, error) {
	args := m.Called(ctx, publicID)
	sp, _ := args.Get(0).(*domain.Sketchpad)
	return sp, args.Error(1)
}

func (m *SketchpadRepository) SaveSnapshot(ctx context.Context, id uint, snapshot string, at time.Time) error {
	return m.Called(ctx, id, snapshot, at).Error(0)
}

func (m *SketchpadRepository) ListStaleSnapshots(ctx context.Context, limit int) ([]uint, error) {
	args := m.Called(ctx, limit)
	ids, _ := args.Get(0).([]uint)
	return ids, args.Error(1)
}

// StrokeRepository 是 repository.StrokeRepository 的 mock。
type StrokeRepository struct {
	mock.Mock
}

func (m *StrokeRepository) ListBySketchpad(ctx context.Context, sketchpadID uint) ([]domain.StrokeRecord, error) {
	args := m.Called(ctx, sketchpadID)
	records, _ := args.Get(0).([]domain.StrokeRecord)
	return records, args.Error(1)
}

func (m *StrokeRepository) ApplyBatch(ctx context.Context, sketchpadID uint, actions []domain.Action) error {
	return m.Called(ctx, sketchpadID, actions).Error(0)
}

// StrokeCache 是 repository.StrokeCache 的 mock。
type StrokeCache struct {
	mock.Mock
}

func (m *StrokeCache) Append(ctx context.Context, sketchpadID uint, actions []domain.Action) (int64, error) {
	args := m.Called(ctx, sketchpadID, actions)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StrokeCache) Pending(ctx context.Context, sketchpadID uint) ([]domain.Action, error) {
	args := m.Called(ctx, sketchpadID)
	actions, _ := args.Get(0).([]domain.Action)
	return actions, args.Error(1)
}

func (m *StrokeCache) DirtySketchpads(ctx context.Context) ([]uint, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]uint)
	return ids, args.Error(1)
}

func (m *StrokeCache) Take(ctx context.Context, sketchpadID uint) ([]domain.Action, error) {
	args := m.Called(ctx, sketchpadID)
	actions, _ := args.Get(0).([]domain.Action)
	return actions, args.Error(1)
}

func (m *StrokeCache) Requeue(ctx context.Context, sketchpadID uint, actions []domain.Action) error {
	return m.Called(ctx, sketchpadID, actions).Error(0)
}

func (m *StrokeCache) TotalLength(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StrokeCache) PublishUpdate(ctx context.Context, sketchpadID uint, payload []byte) error {
	return m.Called(ctx, sketchpadID, payload).Error(0)
}

func (m *StrokeCache) Subscribe(ctx context.Context, sketchpadID uint) repository.Subscription {
	args := m.Called(ctx, sketchpadID)
	sub, _ := args.Get(0).(repository.Subscription)
	return sub
}

func (m *StrokeCache) CheckRateLimit(ctx context.Context, key string, limit int, duration time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, duration)
	return args.Bool(0), args.Error(1)
}

// TaskEnqueuer 是 service.TaskEnqueuer 的 mock。
type TaskEnqueuer struct {
	mock.Mock
}

func (m *TaskEnqueuer) EnqueueStrokeSync(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *TaskEnqueuer) EnqueueSnapshot(ctx context.Context, sketchpadID uint) error {
	return m.Called(ctx, sketchpadID).Error(0)
}
