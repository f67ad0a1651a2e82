package session

import (
	"fmt"
	"math"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/domain"
)

// 放置图片时最多占画布宽/高的比例
const maxImageFraction = 0.75

// pointerState 是一次按下-移动-抬起过程中的临时状态。
type pointerState struct {
	pressed bool
	start   domain.Point
	last    domain.Point
	moved   bool
	grouped bool // 自由绘制时已发出 actionGroupStart
}

type pendingImage struct {
	src           string
	width, height float64
}

// PointerDown 开始一次手势。
func (s *Session) PointerDown(p domain.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandonSelection()
	s.pointer = pointerState{pressed: true, start: p, last: p}
	if s.prefs.Mode == canvas.ModeSelect && s.placing == nil {
		s.beginSelect(p)
	}
}

// PointerMove 在按下状态下延续手势：自由绘制追加线段，形状和拖动只更新覆盖层预览。
func (s *Session) PointerMove(p domain.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pointer.pressed {
		return
	}
	s.pointer.moved = s.pointer.moved || p != s.pointer.start
	switch s.prefs.Mode {
	case canvas.ModeSketch, canvas.ModeErase:
		if p == s.pointer.last {
			return
		}
		if !s.pointer.grouped {
			s.emit(domain.KindGroupStart, domain.Params{})
			s.pointer.grouped = true
		}
		kind := domain.KindFreehandLine
		if s.prefs.Mode == canvas.ModeErase {
			kind = domain.KindFreehandErase
		}
		s.emit(kind, domain.Params{
			InitialCoordinates: domain.PointPtr(s.pointer.last),
			CurrentCoordinates: domain.PointPtr(p),
			StrokeColor:        s.prefs.Color,
			LineWidth:          s.prefs.LineWidth,
		})
		s.pointer.last = p
	case canvas.ModeShape:
		s.surface.Clear(canvas.LayerOverlay)
		if preview, ok := s.shapeAction(s.pointer.start, p); ok {
			drawOn(s.surface, canvas.LayerOverlay, preview, s.prefs.Style())
		}
	case canvas.ModeSelect:
		if s.selection != nil {
			s.surface.Clear(canvas.LayerOverlay)
			drawOn(s.surface, canvas.LayerOverlay, s.selection.Translated(p), s.prefs.Style())
		}
	}
}

// PointerUp 结束手势并提交对应的操作。
func (s *Session) PointerUp(p domain.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pointer.pressed {
		return
	}
	ptr := s.pointer
	s.pointer = pointerState{}

	if s.placing != nil {
		s.placeImage(p)
		return
	}
	switch s.prefs.Mode {
	case canvas.ModeSketch, canvas.ModeErase:
		switch {
		case ptr.grouped:
			s.emit(domain.KindGroupEnd, domain.Params{})
		case s.prefs.Mode == canvas.ModeSketch:
			// 单击画点
			s.gesture(func() {
				s.log.Append(domain.KindDot, domain.Params{
					CurrentCoordinates: domain.PointPtr(p),
					StrokeColor:        s.prefs.Color,
					LineWidth:          s.prefs.LineWidth,
				}, s.user)
			})
		}
	case canvas.ModeShape:
		s.surface.Clear(canvas.LayerOverlay)
		if a, ok := s.shapeAction(ptr.start, p); ok && ptr.moved {
			s.gesture(func() { s.log.Append(a.Kind, a.Params, s.user) })
		}
	case canvas.ModeSelect:
		s.commitSelect(p)
	}
}

// PointerCancel 在指针离开画布时结束手势，已开始的自由绘制组会被闭合，拖动被放弃。
func (s *Session) PointerCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pointer.pressed {
		return
	}
	ptr := s.pointer
	s.pointer = pointerState{}
	s.surface.Clear(canvas.LayerOverlay)
	if ptr.grouped {
		s.emit(domain.KindGroupEnd, domain.Params{})
	}
	s.abandonSelection()
}

// Click 是一次原地按下和抬起。
func (s *Session) Click(p domain.Point) {
	s.PointerDown(p)
	s.PointerUp(p)
}

// PlaceText 在 at 处绘制多行文本。
func (s *Session) PlaceText(at domain.Point, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gesture(func() {
		s.log.Append(domain.KindText, domain.Params{
			InitialCoordinates: domain.PointPtr(at),
			Text:               text,
			Font:               s.prefs.Font,
			StrokeColor:        s.prefs.Color,
		}, s.user)
	})
}

// PrepareImage 解码 src 以获得尺寸，下一次点击时把图片放在点击位置。
func (s *Session) PrepareImage(src string) error {
	img, err := s.decode(src)
	if err != nil {
		return fmt.Errorf("session: prepare image: %w", err)
	}
	size := img.Bounds().Size()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placing = &pendingImage{src: src, width: float64(size.X), height: float64(size.Y)}
	return nil
}

// placeImage 按比例缩小到不超过画布的 3/4，并以 center 为中心放置。调用方持有锁。
func (s *Session) placeImage(center domain.Point) {
	img := s.placing
	s.placing = nil
	scale := 1.0
	maxW := float64(s.surface.Width()) * maxImageFraction
	maxH := float64(s.surface.Height()) * maxImageFraction
	if img.width > maxW {
		scale = maxW / img.width
	}
	if img.height > maxH {
		scale = math.Min(scale, maxH/img.height)
	}
	w, h := img.width*scale, img.height*scale
	s.gesture(func() {
		s.log.Append(domain.KindImage, domain.Params{
			InitialCoordinates: &domain.Point{X: center.X - w/2, Y: center.Y - h/2},
			ImgSrc:             img.src,
			Width:              w,
			Height:             h,
		}, s.user)
	})
}

// shapeAction 根据当前形状构造从 from 拖到 to 的操作 (尚未追加)。
func (s *Session) shapeAction(from, to domain.Point) (domain.Action, bool) {
	a := domain.Action{User: s.user}
	switch s.prefs.Shape {
	case canvas.ShapeRectangle:
		a.Kind = domain.KindFilledRect
		a.Params = domain.Params{
			InitialCoordinates: domain.PointPtr(from),
			CurrentCoordinates: domain.PointPtr(to),
			StrokeColor:        s.prefs.Color,
		}
	case canvas.ShapeLine:
		a.Kind = domain.KindSegment
		a.Params = domain.Params{
			InitialCoordinates: domain.PointPtr(from),
			CurrentCoordinates: domain.PointPtr(to),
			StrokeColor:        s.prefs.Color,
			LineWidth:          s.prefs.LineWidth,
		}
	case canvas.ShapeCircle:
		a.Kind = domain.KindArc
		a.Params = domain.Params{
			InitialCoordinates: domain.PointPtr(from),
			Radius:             math.Hypot(to.X-from.X, to.Y-from.Y),
			StrokeColor:        s.prefs.Color,
		}
	default:
		return domain.Action{}, false
	}
	return a, true
}
