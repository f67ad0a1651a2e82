package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/repository"
)

// SyncReport 汇总一次缓存落库的结果。
type SyncReport struct {
	Sketchpads int `json:"sketchpads"`
	Strokes    int `json:"strokes"`
	Failed     int `json:"failed"`
}

// SyncService 把 Redis 中的待同步笔画写入数据库。
type SyncService struct {
	cache      repository.StrokeCache
	strokeRepo repository.StrokeRepository
	tasks      TaskEnqueuer
}

// NewSyncService 创建 SyncService。tasks 可以为 nil，此时落库后不请求刷新快照。
func NewSyncService(cache repository.StrokeCache, strokeRepo repository.StrokeRepository, tasks TaskEnqueuer) *SyncService {
	if cache == nil || strokeRepo == nil {
		panic("dependencies cannot be nil for SyncService")
	}
	return &SyncService{cache: cache, strokeRepo: strokeRepo, tasks: tasks}
}

// SyncCacheToDatabase 取出每个待同步画板的缓存并写入数据库。
// 写入失败的批次会放回缓存头部，其余画板继续处理。
func (s *SyncService) SyncCacheToDatabase(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	logCtx := logrus.WithField("operation", "SyncCacheToDatabase")

	ids, err := s.cache.DirtySketchpads(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list dirty sketchpads")
		return report, ErrInternalServer
	}

	var firstErr error
	for _, id := range ids {
		padLog := logCtx.WithField("sketchpad_id", id)
		actions, err := s.cache.Take(ctx, id)
		if err != nil {
			padLog.WithError(err).Error("Failed to take cached strokes")
			report.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(actions) == 0 {
			continue
		}
		if err := s.strokeRepo.ApplyBatch(ctx, id, actions); err != nil {
			padLog.WithError(err).Error("Failed to write strokes, requeueing")
			if rqErr := s.cache.Requeue(ctx, id, actions); rqErr != nil {
				padLog.WithError(rqErr).Error("Failed to requeue strokes, batch lost")
			}
			report.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report.Sketchpads++
		report.Strokes += len(actions)
		padLog.WithField("count", len(actions)).Info("Strokes synced to database")

		if s.tasks != nil {
			if err := s.tasks.EnqueueSnapshot(ctx, id); err != nil {
				padLog.WithError(err).Warn("Failed to enqueue snapshot refresh")
			}
		}
	}
	if firstErr != nil {
		return report, fmt.Errorf("%w: %d sketchpad(s) failed to sync: %v", ErrInternalServer, report.Failed, firstErr)
	}
	return report, nil
}
