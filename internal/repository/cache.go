package repository

import (
	"context"
	"time"

	"collaborative-sketchpad/internal/domain"
)

// StrokeCache 定义了尚未落库的笔画缓存以及实时通知相关的操作，通常由 Redis 实现。
type StrokeCache interface {
	// === 待同步笔画 ===

	// Append 把一批笔画追加到画板缓存末尾，标记画板为待同步，返回全局缓存总长度。
	Append(ctx context.Context, sketchpadID uint, actions []domain.Action) (int64, error)

	// Pending 返回画板缓存中的全部笔画，不会移除。
	Pending(ctx context.Context, sketchpadID uint) ([]domain.Action, error)

	// DirtySketchpads 返回缓存中有待同步笔画的画板 ID。
	DirtySketchpads(ctx context.Context) ([]uint, error)

	// Take 原子地取出并清空画板缓存。
	Take(ctx context.Context, sketchpadID uint) ([]domain.Action, error)

	// Requeue 把 Take 取出的笔画按原顺序放回缓存头部 (落库失败时使用)。
	Requeue(ctx context.Context, sketchpadID uint, actions []domain.Action) error

	// TotalLength 返回所有画板缓存的笔画总数。
	TotalLength(ctx context.Context) (int64, error)

	// === PubSub ===

	// PublishUpdate 在画板频道上发布一条已编码的 update_canvas 消息。
	PublishUpdate(ctx context.Context, sketchpadID uint, payload []byte) error

	// Subscribe 订阅画板频道。返回的 Subscription 在不再需要时必须 Close。
	Subscribe(ctx context.Context, sketchpadID uint) Subscription

	// === Rate Limiting ===

	// CheckRateLimit 递增 key 的计数并报告是否超过 limit。
	CheckRateLimit(ctx context.Context, key string, limit int, duration time.Duration) (bool, error)
}

// Subscription 是一个画板频道的订阅。
type Subscription interface {
	// Messages 返回消息负载通道，订阅关闭后通道被关闭。
	Messages() <-chan []byte
	Close() error
}
