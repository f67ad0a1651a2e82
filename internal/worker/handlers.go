package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/service"
	"collaborative-sketchpad/internal/tasks"
)

// 周期检查中每轮最多刷新的过期画板数
const staleSnapshotBatch = 50

// CacheSyncer 把缓存笔画写入数据库，由 service.SyncService 实现。
type CacheSyncer interface {
	SyncCacheToDatabase(ctx context.Context) (service.SyncReport, error)
}

// SnapshotRefresher 重新生成画板快照，由 service.SnapshotService 实现。
type SnapshotRefresher interface {
	Refresh(ctx context.Context, sketchpadID uint) error
	RefreshStale(ctx context.Context, limit int) (int, error)
}

// ActiveSketchpads 报告当前有连接的画板，由 hub.Hub 实现。
type ActiveSketchpads interface {
	ActiveSketchpadIDs() []uint
}

// StrokeSyncHandler 处理 stroke:sync 任务
type StrokeSyncHandler struct {
	syncer CacheSyncer
}

func NewStrokeSyncHandler(syncer CacheSyncer) *StrokeSyncHandler {
	if syncer == nil {
		panic("CacheSyncer cannot be nil for StrokeSyncHandler")
	}
	return &StrokeSyncHandler{syncer: syncer}
}

// ProcessTask 实现 asynq.Handler。部分画板失败时返回错误让 asynq 重试，
// 失败的批次已经放回缓存，重试不会重复写入。
func (h *StrokeSyncHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithFields(logrus.Fields{"task_id": taskID(t), "task_type": t.Type()})
	report, err := h.syncer.SyncCacheToDatabase(ctx)
	logCtx = logCtx.WithFields(logrus.Fields{
		"sketchpads": report.Sketchpads,
		"strokes":    report.Strokes,
		"failed":     report.Failed,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Stroke sync finished with errors")
		return fmt.Errorf("stroke sync: %w", err)
	}
	if report.Strokes > 0 {
		logCtx.Info("Stroke sync task processed successfully")
	} else {
		logCtx.Debug("Stroke sync task found nothing to write")
	}
	return nil
}

// SnapshotHandler 处理 sketchpad:snapshot 任务
type SnapshotHandler struct {
	snapshots SnapshotRefresher
}

func NewSnapshotHandler(snapshots SnapshotRefresher) *SnapshotHandler {
	if snapshots == nil {
		panic("SnapshotRefresher cannot be nil for SnapshotHandler")
	}
	return &SnapshotHandler{snapshots: snapshots}
}

func (h *SnapshotHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithFields(logrus.Fields{"task_id": taskID(t), "task_type": t.Type()})
	payload, err := tasks.ParseSnapshotPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("sketchpad_id", payload.SketchpadID)
	if err := h.snapshots.Refresh(ctx, payload.SketchpadID); err != nil {
		logCtx.WithError(err).Warn("Snapshot refresh failed")
		return err
	}
	logCtx.Info("Snapshot task processed successfully")
	return nil
}

// SnapshotCheckHandler 处理周期性的快照检查：刷新当前活跃的画板，再补齐数据库中快照过期的画板。
type SnapshotCheckHandler struct {
	active    ActiveSketchpads
	snapshots SnapshotRefresher
}

func NewSnapshotCheckHandler(active ActiveSketchpads, snapshots SnapshotRefresher) *SnapshotCheckHandler {
	if active == nil {
		panic("ActiveSketchpads cannot be nil for SnapshotCheckHandler")
	}
	if snapshots == nil {
		panic("SnapshotRefresher cannot be nil for SnapshotCheckHandler")
	}
	return &SnapshotCheckHandler{active: active, snapshots: snapshots}
}

func (h *SnapshotCheckHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithFields(logrus.Fields{"task_id": taskID(t), "task_type": t.Type()})

	ids := mapset.NewSet(h.active.ActiveSketchpadIDs()...)
	logCtx.Infof("Found %d active sketchpads to check.", ids.Cardinality())

	var wg sync.WaitGroup
	var failed int
	var mu sync.Mutex
	ids.Each(func(id uint) bool {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := h.snapshots.Refresh(checkCtx, id); err != nil {
				logCtx.WithError(err).WithField("sketchpad_id", id).Error("Snapshot refresh failed for sketchpad")
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(id)
		return false
	})
	wg.Wait()

	refreshed, err := h.snapshots.RefreshStale(ctx, staleSnapshotBatch)
	if err != nil {
		logCtx.WithError(err).Error("Stale snapshot refresh failed")
	}
	// 单个画板失败不让整个周期任务重试
	if failed > 0 {
		logCtx.Errorf("Snapshot check completed with %d errors.", failed)
	}
	logCtx.WithField("stale_refreshed", refreshed).Info("Periodic snapshot check task completed.")
	return nil
}
