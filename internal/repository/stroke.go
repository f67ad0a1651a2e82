package repository

import (
	"context"

	"collaborative-sketchpad/internal/domain"
)

// StrokeRepository 定义了已落库笔画的读写操作。
type StrokeRepository interface {
	// ListBySketchpad 按行 ID 顺序返回画板的全部笔画记录。
	ListBySketchpad(ctx context.Context, sketchpadID uint) ([]domain.StrokeRecord, error)

	// ApplyBatch 在一个事务中写入 actions 对应的行，然后按顺序执行其中的删除指令
	// (deleteOne / deleteMany / restore)。任意一步失败整个批次回滚。
	ApplyBatch(ctx context.Context, sketchpadID uint, actions []domain.Action) error
}
