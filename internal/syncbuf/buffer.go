// Package syncbuf 把本地产生的笔画节流后发送到持久化存储。
package syncbuf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
)

const (
	DefaultInterval       = 100 * time.Millisecond
	defaultPublishTimeout = 10 * time.Second
)

// Store 是持久化存储的客户端契约。
type Store interface {
	// LoadHistory 返回已落库的笔画，按写入顺序。
	LoadHistory(ctx context.Context, sketchpadID uint) ([]dto.HistoryEntry, error)
	// LoadPendingCache 返回其他会话发布过、尚未落库的笔画。
	LoadPendingCache(ctx context.Context, sketchpadID uint) ([]domain.Action, error)
	Publish(ctx context.Context, sketchpadID uint, actions []domain.Action) error
	SyncCacheToDatabase(ctx context.Context) error
}

// Buffer 暂存本地新产生的操作，每个间隔最多发送一次。
// 只有 Publish 成功之后操作才离开缓冲区，失败的批次保留到下一轮。
type Buffer struct {
	store          Store
	sketchpadID    uint
	interval       time.Duration
	publishTimeout time.Duration
	log            *logrus.Entry

	mu       sync.Mutex
	pending  []domain.Action
	lastSent time.Time
	timer    *time.Timer
	closed   bool

	sendMu sync.Mutex // 同一时刻只有一个批次在发送，保证 pending 前缀就是在途批次
}

// Option 配置 Buffer。
type Option func(*Buffer)

func WithInterval(d time.Duration) Option {
	return func(b *Buffer) { b.interval = d }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(b *Buffer) { b.publishTimeout = d }
}

func WithLogger(log *logrus.Entry) Option {
	return func(b *Buffer) { b.log = log }
}

// New 创建同步缓冲区。
func New(store Store, sketchpadID uint, opts ...Option) *Buffer {
	if store == nil {
		panic("Store cannot be nil for sync Buffer")
	}
	b := &Buffer{
		store:          store,
		sketchpadID:    sketchpadID,
		interval:       DefaultInterval,
		publishTimeout: defaultPublishTimeout,
		log:            logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithFields(logrus.Fields{"component": "syncbuf", "sketchpad_id": sketchpadID})
	return b
}

// Add 登记一条待发送的本地操作并安排一次发送。可直接注册为 strokelog 的追加回调。
func (b *Buffer) Add(a domain.Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.log.WithField("id", a.ID).Warn("Action added after buffer was closed, dropping")
		return
	}
	b.pending = append(b.pending, a.Clone())
	b.scheduleLocked()
}

// Pending 返回尚未确认发送的操作数。
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush 立即发送所有待发送的操作。缓冲区为空时不调用存储。
func (b *Buffer) Flush(ctx context.Context) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	batch := make([]domain.Action, len(b.pending))
	copy(batch, b.pending)
	if len(batch) > 0 {
		b.lastSent = time.Now()
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := b.store.Publish(ctx, b.sketchpadID, batch); err != nil {
		return fmt.Errorf("syncbuf: publish %d actions: %w", len(batch), err)
	}

	b.mu.Lock()
	b.pending = b.pending[len(batch):]
	b.mu.Unlock()
	return nil
}

// OnHidden 在页面隐藏/会话即将离开时调用：发送剩余操作，并要求服务端把缓存落库。
func (b *Buffer) OnHidden(ctx context.Context) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	if err := b.store.SyncCacheToDatabase(ctx); err != nil {
		return fmt.Errorf("syncbuf: sync cache to database: %w", err)
	}
	return nil
}

// Close 停止定时发送并做最后一次 Flush。之后的 Add 会被丢弃。
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	return b.Flush(ctx)
}

// scheduleLocked 安排下一次发送：距上次发送已超过一个间隔时立即发送，否则等到间隔结束。
func (b *Buffer) scheduleLocked() {
	if b.timer != nil || b.closed || len(b.pending) == 0 {
		return
	}
	delay := b.interval - time.Since(b.lastSent)
	if delay < 0 {
		delay = 0
	}
	b.timer = time.AfterFunc(delay, b.fire)
}

func (b *Buffer) fire() {
	b.mu.Lock()
	b.timer = nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		// 失败的批次留在缓冲区，下一次 Add 或 Flush 时一起发送
		b.log.WithError(err).Warn("Throttled publish failed, keeping actions for next cycle")
		return
	}

	b.mu.Lock()
	b.scheduleLocked()
	b.mu.Unlock()
}
