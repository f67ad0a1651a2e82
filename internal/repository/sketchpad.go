package repository

import (
	"context"
	"time"

	"collaborative-sketchpad/internal/domain"
)

// SketchpadRepository 定义了画板元数据的持久化操作。
type SketchpadRepository interface {
	// Create 创建画板，PublicID 冲突时返回 ErrDuplicateEntry。
	Create(ctx context.Context, sketchpad *domain.Sketchpad) error

	// FindByID 根据 ID 查找画板，不存在时返回 ErrSketchpadNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Sketchpad, error)

	// FindByPublicID 根据对外的 uuid 查找画板。
	FindByPublicID(ctx context.Context, publicID string) (*domain.Sketchpad, error)

	// SaveSnapshot 更新画板的快照 (PNG data URI) 和生成时间。
	SaveSnapshot(ctx context.Context, id uint, snapshot string, at time.Time) error

	// ListStaleSnapshots 返回有笔画写入晚于快照时间 (或从未生成快照) 的画板 ID。
	ListStaleSnapshots(ctx context.Context, limit int) ([]uint, error)
}
