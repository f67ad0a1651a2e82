package canvas

import (
	"strconv"
	"strings"
)

// Mode 是当前绘制模式。
type Mode string

const (
	ModeSketch Mode = "sketch"
	ModeErase  Mode = "erase"
	ModeText   Mode = "text"
	ModeShape  Mode = "shape"
	ModeImage  Mode = "image"
	ModeSelect Mode = "select"
)

// Shape 是形状模式下绘制的图形。
type Shape string

const (
	ShapeNone      Shape = ""
	ShapeRectangle Shape = "rectangle"
	ShapeLine      Shape = "line"
	ShapeCircle    Shape = "circle"
)

const (
	DefaultColor     = "#000000"
	DefaultLineWidth = 5.0
	DefaultFont      = "12px Arial"
	DefaultWidth     = 1000
	DefaultHeight    = 500

	// 多行文本的行高是字号的 1.286 倍
	textLineHeightRatio = 1.286
	defaultFontPx       = 12.0
)

// DrawingPreferences 是显式传递的绘制偏好，取代全局共享的画笔状态。
type DrawingPreferences struct {
	Color     string
	LineWidth float64
	Mode      Mode
	Shape     Shape
	Font      string
}

// DefaultPreferences 返回默认偏好。
func DefaultPreferences() DrawingPreferences {
	return DrawingPreferences{
		Color:     DefaultColor,
		LineWidth: DefaultLineWidth,
		Mode:      ModeSketch,
		Font:      DefaultFont,
	}
}

// Style 返回当前偏好对应的样式。
func (p DrawingPreferences) Style() Style {
	return Style{Color: p.Color, LineWidth: p.LineWidth}
}

// Normalize 为空字段补上默认值。
func (p DrawingPreferences) Normalize() DrawingPreferences {
	if p.Color == "" {
		p.Color = DefaultColor
	}
	if p.LineWidth <= 0 {
		p.LineWidth = DefaultLineWidth
	}
	if p.Mode == "" {
		p.Mode = ModeSketch
	}
	if p.Font == "" {
		p.Font = DefaultFont
	}
	return p
}

// FontPixelSize 解析形如 "12px Arial" 的字体描述中的像素字号，解析失败返回 12。
func FontPixelSize(font string) float64 {
	fields := strings.Fields(font)
	if len(fields) == 0 {
		return defaultFontPx
	}
	size, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "px"), 64)
	if err != nil || size <= 0 {
		return defaultFontPx
	}
	return size
}

// TextLineHeight 返回字体对应的行高。
func TextLineHeight(font string) float64 {
	return FontPixelSize(font) * textLineHeightRatio
}
