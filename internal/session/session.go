// Package session 把笔画日志、回放引擎、协作频道、撤销和同步缓冲区组装成一块画布会话，
// 并向嵌入方 (UI、sketchctl、测试) 暴露画布宿主接口。
//
// 一个会话的所有状态由 Session.mu 串行化：本地输入、远端批次和异步图片绘制都在这把锁下执行。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/collab"
	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/replay"
	"collaborative-sketchpad/internal/strokelog"
	"collaborative-sketchpad/internal/syncbuf"
	"collaborative-sketchpad/internal/undo"
)

// ErrAlreadyMounted 表示会话已经挂载过。
var ErrAlreadyMounted = errors.New("session: already mounted")

// Config 是创建会话所需的参数。
type Config struct {
	SketchpadID  uint
	User         string // 本地用户标识
	Store        syncbuf.Store
	Surface      canvas.Surface // 为空时按 Width/Height 创建 Raster
	Width        int
	Height       int
	Preferences  canvas.DrawingPreferences
	Decoder      canvas.ImageDecoder
	SyncInterval time.Duration
	Logger       *logrus.Entry
}

// Session 是一块画布的本地会话。
type Session struct {
	mu sync.Mutex

	id      uint
	user    string
	store   syncbuf.Store
	surface canvas.Surface
	engine  *replay.Engine
	channel *collab.Channel
	buffer  *syncbuf.Buffer
	undo    *undo.Coordinator
	decode  canvas.ImageDecoder
	logger  *logrus.Entry

	log     *strokelog.Log
	prefs   canvas.DrawingPreferences
	mounted bool

	pointer   pointerState
	selection *Selection
	placing   *pendingImage
}

// New 创建会话。会话在 Mount 之后才会加载历史并接收远端批次。
func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.User == "" {
		return nil, errors.New("session: user is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithFields(logrus.Fields{"sketchpad_id": cfg.SketchpadID, "user": cfg.User})

	surface := cfg.Surface
	if surface == nil {
		w, h := cfg.Width, cfg.Height
		if w <= 0 {
			w = canvas.DefaultWidth
		}
		if h <= 0 {
			h = canvas.DefaultHeight
		}
		surface = canvas.NewRaster(w, h)
	}
	decoder := cfg.Decoder
	if decoder == nil {
		decoder = canvas.DecodeDataURI
	}
	prefs := cfg.Preferences.Normalize()

	s := &Session{
		id:      cfg.SketchpadID,
		user:    cfg.User,
		store:   cfg.Store,
		surface: surface,
		decode:  decoder,
		logger:  logger,
		log:     strokelog.New(),
		prefs:   prefs,
		undo:    undo.NewCoordinator(logger),
		channel: collab.NewChannel(cfg.SketchpadID, cfg.User, logger),
	}
	s.engine = replay.NewEngine(surface,
		replay.WithDecoder(decoder),
		replay.WithLocker(&s.mu),
		replay.WithLogger(logger.WithField("component", "replay")),
		replay.WithDefaults(prefs.Style()),
	)
	opts := []syncbuf.Option{syncbuf.WithLogger(logger)}
	if cfg.SyncInterval > 0 {
		opts = append(opts, syncbuf.WithInterval(cfg.SyncInterval))
	}
	s.buffer = syncbuf.New(cfg.Store, cfg.SketchpadID, opts...)
	return s, nil
}

func (s *Session) ID() uint     { return s.id }
func (s *Session) User() string { return s.user }

// Channel 返回会话的协作频道，传输层把收到的通知投递到这里。
// Mount 之前投递的批次会排队。
func (s *Session) Channel() *collab.Channel { return s.channel }

// Surface 返回会话的画布表面。
func (s *Session) Surface() canvas.Surface { return s.surface }

// Mount 从存储加载历史和尚未落库的缓存，完成第一次全量回放，然后开始接收远端批次。
func (s *Session) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return ErrAlreadyMounted
	}
	s.mu.Unlock()

	history, err := s.store.LoadHistory(ctx, s.id)
	if err != nil {
		return fmt.Errorf("session: load history: %w", err)
	}
	pending, err := s.store.LoadPendingCache(ctx, s.id)
	if err != nil {
		return fmt.Errorf("session: load pending cache: %w", err)
	}
	persisted := make([]domain.Action, 0, len(history))
	for _, entry := range history {
		a := entry.Stroke
		a.Deleted = entry.Deleted
		persisted = append(persisted, a)
	}

	s.mu.Lock()
	s.log = strokelog.Hydrate(persisted, pending)
	s.log.OnAppend(s.buffer.Add)
	s.engine.Redraw(s.log)
	s.mounted = true
	logSize := s.log.Len()
	s.mu.Unlock()

	s.channel.Listen(collab.Sink{Log: s.log, Renderer: s.engine, Lock: &s.mu})
	s.logger.WithFields(logrus.Fields{
		"persisted": len(persisted),
		"pending":   len(pending),
		"log_size":  logSize,
	}).Info("Session mounted")
	return nil
}

// Unmount 停止接收远端批次并发送剩余的本地操作。
func (s *Session) Unmount(ctx context.Context) error {
	s.channel.Leave()
	s.engine.Wait()
	s.mu.Lock()
	s.mounted = false
	s.mu.Unlock()
	if err := s.buffer.Close(ctx); err != nil {
		s.logger.WithError(err).Warn("Final flush failed on unmount")
		return err
	}
	s.logger.Info("Session unmounted")
	return nil
}

// Flush 立即发送待同步的本地操作。
func (s *Session) Flush(ctx context.Context) error {
	return s.buffer.Flush(ctx)
}

// OnHidden 在页面隐藏时调用：发送剩余操作并要求服务端落库。
func (s *Session) OnHidden(ctx context.Context) error {
	return s.buffer.OnHidden(ctx)
}

// PendingSync 返回尚未确认发送的本地操作数。
func (s *Session) PendingSync() int { return s.buffer.Pending() }

// WaitForImages 等待异步图片绘制完成。调用方不能持有会话锁。
func (s *Session) WaitForImages() { s.engine.Wait() }

// Actions 返回当前日志的副本。
func (s *Session) Actions() []domain.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Actions()
}

// Preferences 返回当前绘制偏好。
func (s *Session) Preferences() canvas.DrawingPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// SetDrawMode 切换绘制模式和形状。离开选择模式时放弃进行中的拖动。
func (s *Session) SetDrawMode(mode canvas.Mode, shape canvas.Shape) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Mode = mode
	s.prefs.Shape = shape
	if mode != canvas.ModeSelect {
		s.abandonSelection()
		s.surface.Clear(canvas.LayerOverlay)
	}
}

func (s *Session) SetColor(hex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Color = hex
	s.prefs = s.prefs.Normalize()
	s.engine.SetDefaults(s.prefs.Style())
}

func (s *Session) SetLineWidth(width float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.LineWidth = width
	s.prefs = s.prefs.Normalize()
	s.engine.SetDefaults(s.prefs.Style())
}

func (s *Session) SetFont(font string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Font = font
	s.prefs = s.prefs.Normalize()
}

// Undo 撤销 user 最近的一次手势并重绘。本地用户的撤销会发出一条 deleteMany 同步给其他会话。
func (s *Session) Undo(user string) undo.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == s.user {
		s.abandonSelection()
		s.surface.Clear(canvas.LayerOverlay)
	}
	res := s.undo.Scan(s.log, user)
	if res.Empty() {
		return res
	}
	s.engine.Redraw(s.log)
	if user == s.user {
		s.log.Append(domain.KindDeleteMany, res.Params(), s.user)
	}
	s.logger.WithFields(logrus.Fields{
		"undo_user": user,
		"start":     res.Start,
		"end":       res.End,
		"deleted":   res.Deleted,
	}).Debug("Undo applied")
	return res
}

// Clear 清空绘制层。发出 clear 和当前背景的 template，这样只从最近一次 clear 开始回放时背景仍然完整。
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bg, err := s.backgroundSource()
	if err != nil {
		return err
	}
	s.abandonSelection()
	s.pointer = pointerState{}
	s.surface.Clear(canvas.LayerOverlay)
	s.gesture(func() {
		s.log.Append(domain.KindClear, domain.Params{}, s.user)
		s.log.Append(domain.KindTemplate, domain.Params{ImgSrc: bg}, s.user)
	})
	return nil
}

// Resize 增加画布高度。
func (s *Session) Resize(deltaHeight float64) {
	if deltaHeight <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gesture(func() {
		s.log.Append(domain.KindResize, domain.Params{DeltaHeight: deltaHeight}, s.user)
	})
}

// SetBackgroundTemplate 切换内置背景模板，name 为 canvas.TemplateClear 时移除背景。
// 模板直接画到背景层，日志中记录的是背景层的 PNG data URI。
func (s *Session) SetBackgroundTemplate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == canvas.TemplateClear {
		s.surface.Clear(canvas.LayerBackground)
		s.log.Append(domain.KindTemplate, domain.Params{}, s.user)
		return nil
	}
	t, err := canvas.LookupTemplate(name)
	if err != nil {
		return err
	}
	s.surface.Clear(canvas.LayerBackground)
	s.surface.DrawImage(canvas.LayerBackground, t.Render(s.surface.Width(), s.surface.Height()), domain.Point{}, 0, 0)
	src, err := s.backgroundSource()
	if err != nil {
		return err
	}
	s.prefs.Color = t.StrokeColor
	s.engine.SetDefaults(s.prefs.Style())
	s.log.Append(domain.KindTemplate, domain.Params{ImgSrc: src}, s.user)
	return nil
}

// ExportImage 返回白底合成后的 PNG data URI。会先等待异步图片绘制完成。
func (s *Session) ExportImage() (string, error) {
	png, err := s.ExportPNG()
	if err != nil {
		return "", err
	}
	return canvas.PNGDataURI(png), nil
}

// ExportPNG 返回白底合成后的 PNG。
func (s *Session) ExportPNG() ([]byte, error) {
	s.engine.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return canvas.ExportPNG(s.surface)
}

// Redraw 强制全量重绘。
func (s *Session) Redraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Redraw(s.log)
}

// backgroundSource 把当前背景层编码为 data URI，背景为空时返回空串。调用方持有锁。
func (s *Session) backgroundSource() (string, error) {
	layer := s.surface.Layer(canvas.LayerBackground)
	if canvas.IsBlank(layer) {
		return "", nil
	}
	png, err := canvas.EncodePNG(layer)
	if err != nil {
		return "", err
	}
	return canvas.PNGDataURI(png), nil
}

// gesture 用 actionGroupStart/actionGroupEnd 包住 fn 追加的操作，并绘制新追加的部分。调用方持有锁。
func (s *Session) gesture(fn func()) {
	from := s.log.Len()
	s.log.Append(domain.KindGroupStart, domain.Params{}, s.user)
	fn()
	s.log.Append(domain.KindGroupEnd, domain.Params{}, s.user)
	s.engine.Replay(s.log, from, s.log.Len())
}

// emit 追加一条本地操作并立即绘制它。调用方持有锁。
func (s *Session) emit(kind domain.Kind, params domain.Params) domain.Action {
	from := s.log.Len()
	a := s.log.Append(kind, params, s.user)
	s.engine.Replay(s.log, from, s.log.Len())
	return a
}
