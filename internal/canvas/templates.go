package canvas

import (
	"errors"
	"image"

	"github.com/fogleman/gg"
)

// ErrUnknownTemplate 表示没有这个名字的内置背景模板。
var ErrUnknownTemplate = errors.New("canvas: unknown background template")

// TemplateClear 是移除背景模板的特殊名字。
const TemplateClear = "clear"

// Template 是内置背景模板。选中模板时画笔颜色切换为 StrokeColor，保证在背景上可见。
type Template struct {
	Name        string
	StrokeColor string
	paint       func(dc *gg.Context)
}

// BuiltinTemplates 是可选的背景模板。
var BuiltinTemplates = []Template{
	{Name: "Blackboard", StrokeColor: "#FFFFFF", paint: paintBlackboard},
	{Name: "Notebook Paper", StrokeColor: "#0000FF", paint: paintNotebook},
	{Name: "Bar Graph", StrokeColor: "#000000", paint: paintBarGraph},
}

// LookupTemplate 按名字查找内置模板。
func LookupTemplate(name string) (Template, error) {
	for _, t := range BuiltinTemplates {
		if t.Name == name {
			return t, nil
		}
	}
	return Template{}, ErrUnknownTemplate
}

// Render 把模板绘制成 width x height 的图像。
func (t Template) Render(width, height int) image.Image {
	dc := gg.NewContext(width, height)
	if t.paint != nil {
		t.paint(dc)
	}
	return dc.Image()
}

func paintBlackboard(dc *gg.Context) {
	dc.SetHexColor("#263A2E")
	dc.Clear()
	dc.SetHexColor("#6B4F2A")
	dc.SetLineWidth(12)
	dc.DrawRectangle(0, 0, float64(dc.Width()), float64(dc.Height()))
	dc.Stroke()
}

func paintNotebook(dc *gg.Context) {
	const ruleGap, margin = 24.0, 64.0
	w, h := float64(dc.Width()), float64(dc.Height())
	dc.SetHexColor("#FFFFFF")
	dc.Clear()
	dc.SetHexColor("#A7C7E7")
	dc.SetLineWidth(1)
	for y := ruleGap * 2; y < h; y += ruleGap {
		dc.DrawLine(0, y, w, y)
	}
	dc.Stroke()
	dc.SetHexColor("#E88A8A")
	dc.DrawLine(margin, 0, margin, h)
	dc.Stroke()
}

func paintBarGraph(dc *gg.Context) {
	const cell, axis = 25.0, 40.0
	w, h := float64(dc.Width()), float64(dc.Height())
	dc.SetHexColor("#FFFFFF")
	dc.Clear()
	dc.SetHexColor("#D9D9D9")
	dc.SetLineWidth(1)
	for x := axis; x < w; x += cell {
		dc.DrawLine(x, 0, x, h-axis)
	}
	for y := h - axis; y > 0; y -= cell {
		dc.DrawLine(axis, y, w, y)
	}
	dc.Stroke()
	dc.SetHexColor("#000000")
	dc.SetLineWidth(2)
	dc.DrawLine(axis, 0, axis, h-axis)
	dc.DrawLine(axis, h-axis, w, h-axis)
	dc.Stroke()
}
