package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
	"collaborative-sketchpad/internal/repository"
)

// DefaultMaxStrokeHistory 是全局缓存笔画数的同步阈值
const DefaultMaxStrokeHistory = 2500

// TaskEnqueuer 把后台任务放入队列。
type TaskEnqueuer interface {
	EnqueueStrokeSync(ctx context.Context) error
	EnqueueSnapshot(ctx context.Context, sketchpadID uint) error
}

// StrokeService 接收客户端发布的笔画。
type StrokeService struct {
	sketchpadRepo repository.SketchpadRepository
	cache         repository.StrokeCache
	tasks         TaskEnqueuer
	maxHistory    int64
}

func NewStrokeService(
	sketchpadRepo repository.SketchpadRepository,
	cache repository.StrokeCache,
	tasks TaskEnqueuer,
	maxHistory int,
) *StrokeService {
	if sketchpadRepo == nil || cache == nil || tasks == nil {
		panic("dependencies cannot be nil for StrokeService")
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxStrokeHistory
	}
	return &StrokeService{sketchpadRepo: sketchpadRepo, cache: cache, tasks: tasks, maxHistory: int64(maxHistory)}
}

// Publish 缓存一批笔画并通知画板上的所有连接。
// publisher 非空时，批次中每条笔画的 user 都必须等于它。
func (s *StrokeService) Publish(ctx context.Context, sketchpadID uint, publisher string, actions []domain.Action) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"sketchpad_id": sketchpadID,
		"user":         publisher,
		"operation":    "Publish",
		"count":        len(actions),
	})
	if err := validateBatch(publisher, actions); err != nil {
		logCtx.WithError(err).Warn("Rejected stroke batch")
		return err
	}
	if _, err := s.sketchpadRepo.FindByID(ctx, sketchpadID); err != nil {
		return mapRepoError(err, ErrSketchpadNotFound)
	}

	total, err := s.cache.Append(ctx, sketchpadID, actions)
	if err != nil {
		logCtx.WithError(err).Error("Failed to cache strokes")
		return ErrInternalServer
	}

	// 笔画已经进入缓存，通知失败不回滚，加入会话时仍能读到
	payload, err := json.Marshal(dto.NewUpdateCanvas(sketchpadID, actions))
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal update_canvas message")
	} else if err := s.cache.PublishUpdate(ctx, sketchpadID, payload); err != nil {
		logCtx.WithError(err).Warn("Failed to publish update_canvas notification")
	}

	if total > s.maxHistory || domain.ContainsDeletion(actions) {
		if err := s.tasks.EnqueueStrokeSync(ctx); err != nil {
			logCtx.WithError(err).Warn("Failed to enqueue stroke sync")
		} else {
			logCtx.WithField("cache_total", total).Debug("Stroke sync requested")
		}
	}
	return nil
}

// validateBatch 要求批次非空且只属于一个用户
func validateBatch(publisher string, actions []domain.Action) error {
	if len(actions) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidStrokes)
	}
	user := actions[0].User
	if user == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidStrokes)
	}
	for _, a := range actions[1:] {
		if a.User != user {
			return fmt.Errorf("%w: mixed users %q and %q", ErrInvalidStrokes, user, a.User)
		}
	}
	if publisher != "" && publisher != user {
		return ErrForbidden
	}
	return nil
}
