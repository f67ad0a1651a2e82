package gormpersistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"collaborative-sketchpad/internal/domain"
)

// 批量写入和批量更新时每批的行数
const batchSize = 100

// GormStrokeRepository 是 StrokeRepository 接口的 GORM 实现
type GormStrokeRepository struct {
	db *gorm.DB
}

func NewGormStrokeRepository(db *gorm.DB) *GormStrokeRepository {
	if db == nil {
		panic("database connection cannot be nil for GormStrokeRepository")
	}
	return &GormStrokeRepository{db: db}
}

// ListBySketchpad 按写入顺序返回画板的全部笔画
func (r *GormStrokeRepository) ListBySketchpad(ctx context.Context, sketchpadID uint) ([]domain.StrokeRecord, error) {
	var records []domain.StrokeRecord
	err := r.db.WithContext(ctx).
		Where("sketchpad_id = ?", sketchpadID).
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list strokes for sketchpad %d: %w", sketchpadID, err)
	}
	return records, nil
}

// ApplyBatch 在事务中写入一批笔画并执行其中的删除指令
func (r *GormStrokeRepository) ApplyBatch(ctx context.Context, sketchpadID uint, actions []domain.Action) error {
	if len(actions) == 0 {
		return nil
	}
	records := make([]domain.StrokeRecord, 0, len(actions))
	for _, a := range actions {
		rec, err := NewStrokeRecord(sketchpadID, a)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&records, batchSize).Error; err != nil {
			return fmt.Errorf("gorm: insert %d strokes for sketchpad %d: %w", len(records), sketchpadID, err)
		}
		for _, a := range actions {
			if !a.Kind.IsDeletion() || a.Deleted {
				continue
			}
			if err := applyDeletion(tx, sketchpadID, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewStrokeRecord 把操作转换成数据库行。Stroke 列保存不含 deleted 的原始 JSON。
func NewStrokeRecord(sketchpadID uint, a domain.Action) (domain.StrokeRecord, error) {
	deleted := a.Deleted
	a.Deleted = false
	raw, err := json.Marshal(a)
	if err != nil {
		return domain.StrokeRecord{}, fmt.Errorf("gorm: marshal stroke %s: %w", a.Key(), err)
	}
	return domain.StrokeRecord{
		SketchpadID:    sketchpadID,
		UserIdentifier: a.User,
		LocalStrokeID:  a.ID,
		Kind:           string(a.Kind),
		Stroke:         datatypes.JSON(raw),
		Deleted:        deleted,
	}, nil
}

// applyDeletion 在数据库中执行一条删除指令，语义与内存日志一致。
func applyDeletion(tx *gorm.DB, sketchpadID uint, a domain.Action) error {
	if target, ok := a.DeleteTarget(); ok {
		return setDeleted(tx, sketchpadID, target, true)
	}
	user, start, end, ok := a.DeleteRange()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"sketchpad_id": sketchpadID,
			"stroke":       a.Key().String(),
		}).Warn("deleteMany without a range, skipping")
		return nil
	}

	var rows []domain.StrokeRecord
	err := tx.Where("sketchpad_id = ? AND user_identifier = ? AND local_stroke_id BETWEEN ? AND ?", sketchpadID, user, start, end).
		Where("deleted = ?", false).
		Where("kind NOT IN ?", []string{string(domain.KindTemplate), string(domain.KindDeleteMany)}).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("gorm: load strokes %s#%d..%d: %w", user, start, end, err)
	}

	ids := make([]uint, 0, len(rows))
	var restore []domain.Key
	for _, row := range rows {
		ids = append(ids, row.ID)
		if row.Kind != string(domain.KindDeleteOne) {
			continue
		}
		var inner domain.Action
		if err := json.Unmarshal(row.Stroke, &inner); err != nil {
			return fmt.Errorf("gorm: decode stroke row %d: %w", row.ID, err)
		}
		if target, ok := inner.DeleteTarget(); ok {
			restore = append(restore, target)
		}
	}
	for i := 0; i < len(ids); i += batchSize {
		j := i + batchSize
		if j > len(ids) {
			j = len(ids)
		}
		if err := tx.Model(&domain.StrokeRecord{}).Where("id IN ?", ids[i:j]).Update("deleted", true).Error; err != nil {
			return fmt.Errorf("gorm: mark %d strokes deleted: %w", j-i, err)
		}
	}

	if a.Params.Restore != nil {
		restore = append(restore, a.Params.Restore.Key())
	}
	for _, key := range restore {
		if err := setDeleted(tx, sketchpadID, key, false); err != nil {
			return err
		}
	}
	return nil
}

func setDeleted(tx *gorm.DB, sketchpadID uint, key domain.Key, deleted bool) error {
	err := tx.Model(&domain.StrokeRecord{}).
		Where("sketchpad_id = ? AND user_identifier = ? AND local_stroke_id = ?", sketchpadID, key.User, key.ID).
		Update("deleted", deleted).Error
	if err != nil {
		return fmt.Errorf("gorm: set deleted=%t on stroke %s: %w", deleted, key, err)
	}
	return nil
}
