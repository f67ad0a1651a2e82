// Package replay 把笔画日志确定性地回放到画布表面上。
package replay

import (
	"math"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/strokelog"
)

// Engine 持有画布表面和默认样式，负责按类型分派绘制。
type Engine struct {
	surface    canvas.Surface
	baseHeight int
	decode     canvas.ImageDecoder
	lock       sync.Locker // 异步图片绘制时持有，与会话的串行化锁相同
	log        *logrus.Entry

	defaultsMu sync.RWMutex
	defaults   canvas.Style

	pending sync.WaitGroup
}

// Option 配置 Engine。
type Option func(*Engine)

// WithDecoder 替换图片解码器 (默认只支持 data URI)。
func WithDecoder(d canvas.ImageDecoder) Option {
	return func(e *Engine) { e.decode = d }
}

// WithLocker 指定异步图片绘制时要持有的锁。
func WithLocker(l sync.Locker) Option {
	return func(e *Engine) { e.lock = l }
}

// WithLogger 指定日志上下文。
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithDefaults 指定操作缺少颜色/线宽时使用的默认样式。
func WithDefaults(s canvas.Style) Option {
	return func(e *Engine) { e.defaults = s }
}

// NewEngine 创建回放引擎。画布当前高度视为 resize 累加的起点。
func NewEngine(surface canvas.Surface, opts ...Option) *Engine {
	if surface == nil {
		panic("surface cannot be nil for replay Engine")
	}
	e := &Engine{
		surface:    surface,
		baseHeight: surface.Height(),
		decode:     canvas.DecodeDataURI,
		lock:       noopLocker{},
		log:        logrus.WithField("component", "replay"),
		defaults:   canvas.Style{Color: canvas.DefaultColor, LineWidth: canvas.DefaultLineWidth},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Surface 返回引擎绘制的表面。
func (e *Engine) Surface() canvas.Surface { return e.surface }

// SetDefaults 更新默认样式 (会话修改颜色/线宽时调用)。
func (e *Engine) SetDefaults(s canvas.Style) {
	e.defaultsMu.Lock()
	e.defaults = s
	e.defaultsMu.Unlock()
}

// Redraw 清空绘制层和背景层，并从最近一次 clear 开始回放整个日志。
func (e *Engine) Redraw(l *strokelog.Log) {
	e.surface.Clear(canvas.LayerDrawing)
	e.surface.Clear(canvas.LayerBackground)
	e.Replay(l, l.MostRecentClearIndex(), l.Len())
}

// Replay 按顺序回放 [from, to) 区间内未删除的操作，不清空画布。
func (e *Engine) Replay(l *strokelog.Log, from, to int) {
	if from < 0 {
		from = 0
	}
	if to > l.Len() {
		to = l.Len()
	}
	e.ensureHeight(l, to)

	var run pathRun
	for i := from; i < to; i++ {
		a := l.At(i)
		if a.Deleted {
			continue
		}
		if a.Kind.IsPathSegment() {
			seg, ok := segmentOf(a)
			if !ok {
				e.log.WithFields(logrus.Fields{"id": a.ID, "user": a.User, "kind": a.Kind}).Warn("Skipping path action without coordinates")
				continue
			}
			style := e.styleOf(a)
			if !run.accepts(a.Kind, style) {
				e.flush(&run)
				run = pathRun{kind: a.Kind, style: style}
			}
			run.segments = append(run.segments, seg)
			continue
		}
		e.flush(&run)
		e.draw(a)
	}
	e.flush(&run)
}

// Wait 等待所有尚未完成的异步图片绘制。
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) draw(a domain.Action) {
	p := a.Params
	switch a.Kind {
	case domain.KindDot:
		if p.CurrentCoordinates == nil {
			e.warnMissing(a)
			return
		}
		style := e.styleOf(a)
		e.surface.FillCircle(canvas.LayerDrawing, *p.CurrentCoordinates, style.LineWidth/2, style.Color)
	case domain.KindFilledRect:
		if p.InitialCoordinates == nil || p.CurrentCoordinates == nil {
			e.warnMissing(a)
			return
		}
		e.surface.FillRect(canvas.LayerDrawing, *p.InitialCoordinates, *p.CurrentCoordinates, e.styleOf(a).Color)
	case domain.KindArc:
		if p.InitialCoordinates == nil {
			e.warnMissing(a)
			return
		}
		e.surface.FillCircle(canvas.LayerDrawing, *p.InitialCoordinates, p.Radius, e.styleOf(a).Color)
	case domain.KindText:
		if p.InitialCoordinates == nil {
			e.warnMissing(a)
			return
		}
		e.drawText(a)
	case domain.KindImage:
		if p.InitialCoordinates == nil {
			e.warnMissing(a)
			return
		}
		e.drawImageAsync(a, canvas.LayerDrawing, *p.InitialCoordinates, p.Width, p.Height)
	case domain.KindTemplate:
		if p.ImgSrc == "" {
			e.surface.Clear(canvas.LayerBackground)
			return
		}
		e.drawImageAsync(a, canvas.LayerBackground, domain.Point{}, 0, 0)
	case domain.KindClear:
		e.surface.Clear(canvas.LayerDrawing)
	case domain.KindResize:
		// 高度在 ensureHeight 中按整个前缀累计，这里无需处理
	case domain.KindGroupStart, domain.KindGroupEnd, domain.KindDeleteOne, domain.KindDeleteMany:
		// 仅用于撤销记账
	default:
		e.log.WithFields(logrus.Fields{"id": a.ID, "user": a.User, "kind": a.Kind}).Warn("Unknown action kind during replay, skipping")
	}
}

func (e *Engine) drawText(a domain.Action) {
	p := a.Params
	font := p.Font
	if font == "" {
		font = canvas.DefaultFont
	}
	lineHeight := canvas.TextLineHeight(font)
	color := e.styleOf(a).Color
	for i, line := range strings.Split(p.Text, "\n") {
		at := p.InitialCoordinates.Add(0, lineHeight*float64(i))
		e.surface.FillText(canvas.LayerDrawing, line, font, at, color)
	}
}

// drawImageAsync 在后台解码图片，解码完成后持锁绘制。绘制可能晚于之后的同步绘制 (包括 clear)。
func (e *Engine) drawImageAsync(a domain.Action, layer canvas.Layer, at domain.Point, w, h float64) {
	src := a.Params.ImgSrc
	logCtx := e.log.WithFields(logrus.Fields{"id": a.ID, "user": a.User, "kind": a.Kind})
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		img, err := e.decode(src)
		if err != nil {
			logCtx.WithError(err).Debug("Image decode failed, not painting")
			return
		}
		e.lock.Lock()
		defer e.lock.Unlock()
		e.surface.DrawImage(layer, img, at, w, h)
	}()
}

// ensureHeight 按 [0, to) 内所有未删除的 resize 计算目标高度并增长画布。
// 以前缀累计而非逐条增长，重复回放不会让画布越变越高。
func (e *Engine) ensureHeight(l *strokelog.Log, to int) {
	height := float64(e.baseHeight)
	grew := false
	for i := 0; i < to; i++ {
		a := l.At(i)
		if a.Kind != domain.KindResize || a.Deleted {
			continue
		}
		switch {
		case a.Params.DeltaHeight > 0:
			height += a.Params.DeltaHeight
			grew = true
		case a.Params.CanvasHeight > 0:
			height = math.Max(height, a.Params.CanvasHeight)
			grew = true
		}
	}
	if grew {
		e.surface.Grow(int(math.Ceil(height)))
	}
}

// HeightFor 返回回放完整日志后的画布高度。
func (e *Engine) HeightFor(l *strokelog.Log) int {
	e.ensureHeight(l, l.Len())
	return e.surface.Height()
}

func (e *Engine) flush(run *pathRun) {
	if len(run.segments) == 0 {
		return
	}
	e.surface.StrokePath(canvas.LayerDrawing, run.segments, run.style, run.kind == domain.KindFreehandErase)
	run.segments = nil
}

func (e *Engine) styleOf(a domain.Action) canvas.Style {
	e.defaultsMu.RLock()
	s := e.defaults
	e.defaultsMu.RUnlock()
	if a.Params.StrokeColor != "" {
		s.Color = a.Params.StrokeColor
	}
	if a.Params.LineWidth > 0 {
		s.LineWidth = a.Params.LineWidth
	}
	return s
}

func (e *Engine) warnMissing(a domain.Action) {
	e.log.WithFields(logrus.Fields{"id": a.ID, "user": a.User, "kind": a.Kind}).Warn("Skipping action with missing coordinates")
}

// pathRun 累积同类型、同样式的连续线段，遇到不同类型或样式时一次性描边。
type pathRun struct {
	kind     domain.Kind
	style    canvas.Style
	segments []canvas.Segment
}

func (r *pathRun) accepts(kind domain.Kind, style canvas.Style) bool {
	return len(r.segments) > 0 && r.kind == kind && r.style == style
}

func segmentOf(a domain.Action) (canvas.Segment, bool) {
	if a.Params.InitialCoordinates == nil || a.Params.CurrentCoordinates == nil {
		return canvas.Segment{}, false
	}
	return canvas.Segment{From: *a.Params.InitialCoordinates, To: *a.Params.CurrentCoordinates}, true
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}
