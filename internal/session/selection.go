package session

import (
	"math"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/domain"
)

const (
	highlightColor  = "#ACCEF7"
	highlightMargin = 5.0
)

// Selection 是拖动中的图形：日志中原操作的深拷贝，加上按下时的位置。
// 它不会被持久化，提交时变成 deleteOne + 平移后的新操作。
type Selection struct {
	Action domain.Action
	Index  int          // 原操作在日志中的下标
	Origin domain.Point // 按下的位置
}

// Translated 返回把图形按 origin→p 的位移平移后的副本。
func (sel *Selection) Translated(p domain.Point) domain.Action {
	dx, dy := p.X-sel.Origin.X, p.Y-sel.Origin.Y
	moved := sel.Action.Clone()
	if moved.Params.InitialCoordinates != nil {
		*moved.Params.InitialCoordinates = moved.Params.InitialCoordinates.Add(dx, dy)
	}
	if moved.Params.CurrentCoordinates != nil {
		*moved.Params.CurrentCoordinates = moved.Params.CurrentCoordinates.Add(dx, dy)
	}
	return moved
}

// Selected 返回当前选中图形的副本。
func (s *Session) Selected() (domain.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return domain.Action{}, false
	}
	return s.selection.Action.Clone(), true
}

// beginSelect 查找 p 处最上层的图形；找到后在本地先隐藏原图形，打开一个操作组并高亮。调用方持有锁。
func (s *Session) beginSelect(p domain.Point) {
	s.selection = nil
	s.surface.Clear(canvas.LayerOverlay)
	idx := s.findShape(p)
	if idx < 0 {
		return
	}
	s.selection = &Selection{Action: s.log.At(idx).Clone(), Index: idx, Origin: p}
	s.log.SetDeleted(idx, true)
	s.log.Append(domain.KindGroupStart, domain.Params{}, s.user)
	s.engine.Redraw(s.log)
	highlight(s.surface, s.selection.Action, s.prefs.Style())
}

// commitSelect 在 p 处放下选中的图形：deleteOne 原图形，追加平移后的副本，闭合操作组。调用方持有锁。
func (s *Session) commitSelect(p domain.Point) {
	sel := s.selection
	if sel == nil {
		return
	}
	s.selection = nil
	moved := sel.Translated(p)
	s.surface.Clear(canvas.LayerOverlay)

	from := s.log.Len()
	s.log.Append(domain.KindDeleteOne, domain.Params{
		LocalID:   domain.IntPtr(sel.Action.ID),
		CreatedBy: sel.Action.User,
	}, s.user)
	s.log.Append(moved.Kind, moved.Params, s.user)
	s.log.Append(domain.KindGroupEnd, domain.Params{}, s.user)
	s.engine.Replay(s.log, from, s.log.Len())
	highlight(s.surface, moved, s.prefs.Style())
}

// abandonSelection 放弃进行中的拖动：原图形恢复显示，闭合 beginSelect 打开的操作组。调用方持有锁。
func (s *Session) abandonSelection() {
	sel := s.selection
	if sel == nil {
		return
	}
	s.selection = nil
	s.pointer = pointerState{}
	s.surface.Clear(canvas.LayerOverlay)
	s.log.SetDeleted(sel.Index, false)
	s.log.Append(domain.KindGroupEnd, domain.Params{}, s.user)
	s.engine.Redraw(s.log)
}

// findShape 从后向前查找包含 p 的未删除图形，返回下标，没有则返回 -1。
func (s *Session) findShape(p domain.Point) int {
	for i := s.log.Len() - 1; i >= 0; i-- {
		a := s.log.At(i)
		if a.Deleted {
			continue
		}
		if HitTest(a, p, s.prefs.LineWidth) {
			return i
		}
	}
	return -1
}

// HitTest 报告 p 是否落在可选图形 a 上。只有 arc、line、fillRect 可以被选中。
func HitTest(a domain.Action, p domain.Point, defaultWidth float64) bool {
	params := a.Params
	switch a.Kind {
	case domain.KindArc:
		if params.InitialCoordinates == nil {
			return false
		}
		dx, dy := p.X-params.InitialCoordinates.X, p.Y-params.InitialCoordinates.Y
		return dx*dx+dy*dy <= params.Radius*params.Radius
	case domain.KindSegment:
		if params.InitialCoordinates == nil || params.CurrentCoordinates == nil {
			return false
		}
		width := params.LineWidth
		if width <= 0 {
			width = defaultWidth
		}
		return distanceToSegment(p, *params.InitialCoordinates, *params.CurrentCoordinates) <= width
	case domain.KindFilledRect:
		if params.InitialCoordinates == nil || params.CurrentCoordinates == nil {
			return false
		}
		from, to := *params.InitialCoordinates, *params.CurrentCoordinates
		return p.X >= math.Min(from.X, to.X) && p.X <= math.Max(from.X, to.X) &&
			p.Y >= math.Min(from.Y, to.Y) && p.Y <= math.Max(from.Y, to.Y)
	}
	return false
}

func distanceToSegment(p, a, b domain.Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	lenSq := vx*vx + vy*vy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*vx + (p.Y-a.Y)*vy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*vx), p.Y-(a.Y+t*vy))
}

// drawOn 在指定层上直接绘制单个图形，用于覆盖层预览。
func drawOn(surface canvas.Surface, layer canvas.Layer, a domain.Action, defaults canvas.Style) {
	style := defaults
	if a.Params.StrokeColor != "" {
		style.Color = a.Params.StrokeColor
	}
	if a.Params.LineWidth > 0 {
		style.LineWidth = a.Params.LineWidth
	}
	p := a.Params
	switch a.Kind {
	case domain.KindFilledRect:
		surface.FillRect(layer, *p.InitialCoordinates, *p.CurrentCoordinates, style.Color)
	case domain.KindSegment:
		surface.StrokePath(layer, []canvas.Segment{{From: *p.InitialCoordinates, To: *p.CurrentCoordinates}}, style, false)
	case domain.KindArc:
		surface.FillCircle(layer, *p.InitialCoordinates, p.Radius, style.Color)
	}
}

// highlight 在覆盖层上给图形加一圈浅蓝色边框，再画出图形本身。
func highlight(surface canvas.Surface, a domain.Action, defaults canvas.Style) {
	p := a.Params
	switch a.Kind {
	case domain.KindFilledRect:
		from, to := *p.InitialCoordinates, *p.CurrentCoordinates
		lo := domain.Point{X: math.Min(from.X, to.X) - highlightMargin, Y: math.Min(from.Y, to.Y) - highlightMargin}
		hi := domain.Point{X: math.Max(from.X, to.X) + highlightMargin, Y: math.Max(from.Y, to.Y) + highlightMargin}
		surface.FillRect(canvas.LayerOverlay, lo, hi, highlightColor)
	case domain.KindSegment:
		width := p.LineWidth
		if width <= 0 {
			width = defaults.LineWidth
		}
		surface.StrokePath(canvas.LayerOverlay,
			[]canvas.Segment{{From: *p.InitialCoordinates, To: *p.CurrentCoordinates}},
			canvas.Style{Color: highlightColor, LineWidth: width + highlightMargin}, false)
	case domain.KindArc:
		surface.FillCircle(canvas.LayerOverlay, *p.InitialCoordinates, p.Radius+highlightMargin, highlightColor)
	default:
		return
	}
	drawOn(surface, canvas.LayerOverlay, a, defaults)
}
