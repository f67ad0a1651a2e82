package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/export"
	"collaborative-sketchpad/internal/replay"
	"collaborative-sketchpad/internal/repository"
	"collaborative-sketchpad/internal/strokelog"
)

// 服务端渲染使用的默认画布尺寸，与客户端默认值一致
const (
	DefaultCanvasWidth  = 1000
	DefaultCanvasHeight = 500
)

// SnapshotService 在服务端回放画板笔画，生成快照和导出文件。
type SnapshotService struct {
	sketchpadRepo repository.SketchpadRepository
	strokeRepo    repository.StrokeRepository
	cache         repository.StrokeCache
	width, height int
	now           func() time.Time
}

func NewSnapshotService(
	sketchpadRepo repository.SketchpadRepository,
	strokeRepo repository.StrokeRepository,
	cache repository.StrokeCache,
	width, height int,
) *SnapshotService {
	if sketchpadRepo == nil || strokeRepo == nil || cache == nil {
		panic("repositories cannot be nil for SnapshotService")
	}
	if width <= 0 {
		width = DefaultCanvasWidth
	}
	if height <= 0 {
		height = DefaultCanvasHeight
	}
	return &SnapshotService{
		sketchpadRepo: sketchpadRepo,
		strokeRepo:    strokeRepo,
		cache:         cache,
		width:         width,
		height:        height,
		now:           time.Now,
	}
}

// Render 用已落库的笔画加上缓存中的笔画重建日志，并在新的栅格画布上完整回放。
func (s *SnapshotService) Render(ctx context.Context, sketchpadID uint) (*canvas.Raster, error) {
	logCtx := logrus.WithFields(logrus.Fields{"sketchpad_id": sketchpadID, "operation": "Render"})
	if _, err := s.sketchpadRepo.FindByID(ctx, sketchpadID); err != nil {
		return nil, mapRepoError(err, ErrSketchpadNotFound)
	}
	history, err := loadHistory(ctx, s.strokeRepo, sketchpadID)
	if err != nil {
		return nil, err
	}
	pending, err := s.cache.Pending(ctx, sketchpadID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read pending strokes")
		return nil, ErrInternalServer
	}

	log := strokelog.Hydrate(historyActions(history), pending)
	raster := canvas.NewRaster(s.width, s.height)
	engine := replay.NewEngine(raster, replay.WithLogger(logCtx))
	engine.Redraw(log)
	engine.Wait()
	logCtx.WithFields(logrus.Fields{"strokes": log.Len(), "height": raster.Height()}).Debug("Sketchpad rendered")
	return raster, nil
}

// ExportPNG 渲染画板并返回白底 PNG。
func (s *SnapshotService) ExportPNG(ctx context.Context, sketchpadID uint) ([]byte, error) {
	raster, err := s.Render(ctx, sketchpadID)
	if err != nil {
		return nil, err
	}
	png, err := canvas.ExportPNG(raster)
	if err != nil {
		logrus.WithError(err).WithField("sketchpad_id", sketchpadID).Error("Failed to encode png")
		return nil, ErrInternalServer
	}
	return png, nil
}

// ExportPDF 渲染画板并返回单页 PDF。
func (s *SnapshotService) ExportPDF(ctx context.Context, sketchpadID uint) ([]byte, error) {
	raster, err := s.Render(ctx, sketchpadID)
	if err != nil {
		return nil, err
	}
	png, err := canvas.ExportPNG(raster)
	if err != nil {
		logrus.WithError(err).WithField("sketchpad_id", sketchpadID).Error("Failed to encode png")
		return nil, ErrInternalServer
	}
	pdf, err := export.PDF(png, raster.Width(), raster.Height(), fmt.Sprintf("sketchpad %d", sketchpadID))
	if err != nil {
		logrus.WithError(err).WithField("sketchpad_id", sketchpadID).Error("Failed to build pdf")
		return nil, ErrInternalServer
	}
	return pdf, nil
}

// Refresh 重新渲染画板，把 PNG data URI 保存到画板记录上。
func (s *SnapshotService) Refresh(ctx context.Context, sketchpadID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"sketchpad_id": sketchpadID, "operation": "RefreshSnapshot"})
	png, err := s.ExportPNG(ctx, sketchpadID)
	if err != nil {
		return err
	}
	if err := s.sketchpadRepo.SaveSnapshot(ctx, sketchpadID, canvas.PNGDataURI(png), s.now()); err != nil {
		logCtx.WithError(err).Error("Failed to save snapshot")
		return mapRepoError(err, ErrSketchpadNotFound)
	}
	logCtx.WithField("size", len(png)).Info("Snapshot refreshed")
	return nil
}

// RefreshStale 刷新最多 limit 个快照已过期的画板，返回成功刷新的数量。
func (s *SnapshotService) RefreshStale(ctx context.Context, limit int) (int, error) {
	ids, err := s.sketchpadRepo.ListStaleSnapshots(ctx, limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to list sketchpads with stale snapshots")
		return 0, ErrInternalServer
	}
	refreshed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if err := s.Refresh(ctx, id); err != nil {
			logrus.WithError(err).WithField("sketchpad_id", id).Warn("Snapshot refresh failed, will retry on next check")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
