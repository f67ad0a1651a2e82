package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrSessionNotFound 表示注册表中没有该画板的会话。
var ErrSessionNotFound = errors.New("session: not found")

// entry 在 ready 关闭之后 sess 和 err 才可读。
type entry struct {
	sess  *Session
	err   error
	ready chan struct{}
}

// Registry 按画板 id 保存当前进程中打开的会话。
type Registry struct {
	mu      sync.Mutex
	entries map[uint]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint]*entry)}
}

// Open 创建并挂载会话。同一画板已经打开时返回已有会话；正在挂载时等待挂载完成。
func (r *Registry) Open(ctx context.Context, cfg Config) (*Session, error) {
	return r.OpenWith(ctx, cfg, nil)
}

// OpenWith 与 Open 相同，attach 在会话创建之后、挂载之前调用，
// 用于先接上传输层，让加载期间到达的批次进入频道队列。
func (r *Registry) OpenWith(ctx context.Context, cfg Config, attach func(*Session) error) (*Session, error) {
	r.mu.Lock()
	if e, ok := r.entries[cfg.SketchpadID]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.sess, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &entry{ready: make(chan struct{})}
	r.entries[cfg.SketchpadID] = e
	r.mu.Unlock()

	e.sess, e.err = openSession(ctx, cfg, attach)
	if e.err != nil {
		e.sess = nil
		r.mu.Lock()
		if r.entries[cfg.SketchpadID] == e {
			delete(r.entries, cfg.SketchpadID)
		}
		r.mu.Unlock()
	}
	close(e.ready)
	return e.sess, e.err
}

func openSession(ctx context.Context, cfg Config, attach func(*Session) error) (*Session, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if attach != nil {
		if err := attach(s); err != nil {
			return nil, fmt.Errorf("session: attach sketchpad %d: %w", cfg.SketchpadID, err)
		}
	}
	if err := s.Mount(ctx); err != nil {
		return nil, fmt.Errorf("session: open sketchpad %d: %w", cfg.SketchpadID, err)
	}
	return s, nil
}

// Get 返回已挂载的会话。正在挂载的会话视为不存在。
func (r *Registry) Get(sketchpadID uint) (*Session, error) {
	r.mu.Lock()
	e, ok := r.entries[sketchpadID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, ErrSessionNotFound
		}
		return e.sess, nil
	default:
		return nil, ErrSessionNotFound
	}
}

// Close 卸载并移除会话。
func (r *Registry) Close(ctx context.Context, sketchpadID uint) error {
	s, err := r.Get(sketchpadID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.entries, sketchpadID)
	r.mu.Unlock()
	return s.Unmount(ctx)
}

// CloseAll 卸载所有已挂载的会话，返回遇到的第一个错误。
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uint]*entry)
	r.mu.Unlock()

	var first error
	for id, e := range entries {
		<-e.ready
		if e.sess == nil {
			continue
		}
		if err := e.sess.Unmount(ctx); err != nil {
			logrus.WithError(err).WithField("sketchpad_id", id).Error("Failed to unmount session")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
