package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/repository"
)

// GormSketchpadRepository 是 SketchpadRepository 接口的 GORM 实现
type GormSketchpadRepository struct {
	db *gorm.DB
}

func NewGormSketchpadRepository(db *gorm.DB) *GormSketchpadRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSketchpadRepository")
	}
	return &GormSketchpadRepository{db: db}
}

// Create 插入新画板
func (r *GormSketchpadRepository) Create(ctx context.Context, sketchpad *domain.Sketchpad) error {
	if err := r.db.WithContext(ctx).Create(sketchpad).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create sketchpad (public id %s): %w", sketchpad.PublicID, err)
	}
	return nil
}

// FindByID 根据主键查找画板
func (r *GormSketchpadRepository) FindByID(ctx context.Context, id uint) (*domain.Sketchpad, error) {
	var sp domain.Sketchpad
	if err := r.db.WithContext(ctx).First(&sp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSketchpadNotFound
		}
		return nil, fmt.Errorf("gorm: find sketchpad by id %d: %w", id, err)
	}
	return &sp, nil
}

// FindByPublicID 根据对外 uuid 查找画板
func (r *GormSketchpadRepository) FindByPublicID(ctx context.Context, publicID string) (*domain.Sketchpad, error) {
	var sp domain.Sketchpad
	if err := r.db.WithContext(ctx).Where("public_id = ?", publicID).First(&sp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSketchpadNotFound
		}
		return nil, fmt.Errorf("gorm: find sketchpad by public id '%s': %w", publicID, err)
	}
	return &sp, nil
}

// SaveSnapshot 只更新快照相关的两列
func (r *GormSketchpadRepository) SaveSnapshot(ctx context.Context, id uint, snapshot string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Sketchpad{}).Where("id = ?", id).
		Updates(map[string]interface{}{"snapshot": snapshot, "snapshot_at": at})
	if result.Error != nil {
		return fmt.Errorf("gorm: save snapshot for sketchpad %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrSketchpadNotFound
	}
	return nil
}

// ListStaleSnapshots 查找快照落后于已落库笔画的画板
func (r *GormSketchpadRepository) ListStaleSnapshots(ctx context.Context, limit int) ([]uint, error) {
	newer := r.db.Model(&domain.StrokeRecord{}).Select("1").
		Where("stroke_records.sketchpad_id = sketchpads.id").
		Where("sketchpads.snapshot_at IS NULL OR stroke_records.created_at > sketchpads.snapshot_at")

	var ids []uint
	query := r.db.WithContext(ctx).Model(&domain.Sketchpad{}).Where("EXISTS (?)", newer).Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("gorm: list sketchpads with stale snapshots: %w", err)
	}
	return ids, nil
}
