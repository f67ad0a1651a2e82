// Package canvas 定义画布表面 (绘制层、背景模板层、临时覆盖层) 及其基于 gg 的光栅实现。
package canvas

import (
	"image"

	"collaborative-sketchpad/internal/domain"
)

// Layer 指定画布的某一层。
type Layer int

const (
	LayerDrawing    Layer = iota // 笔画
	LayerBackground              // 背景模板
	LayerOverlay                 // 形状预览和选中高亮
)

// Style 是一次描边或填充使用的样式。
type Style struct {
	Color     string
	LineWidth float64
}

// Segment 是路径中的一段。
type Segment struct {
	From domain.Point
	To   domain.Point
}

// Surface 是回放引擎和会话所需的最小绘图能力。
type Surface interface {
	Width() int
	Height() int
	Clear(layer Layer)
	// StrokePath 把一组线段作为一条路径描边；erase 为 true 时以 destination-out 方式擦除。
	StrokePath(layer Layer, segments []Segment, style Style, erase bool)
	FillCircle(layer Layer, center domain.Point, radius float64, color string)
	FillRect(layer Layer, from, to domain.Point, color string)
	FillText(layer Layer, text string, font string, at domain.Point, color string)
	// DrawImage 把 img 绘制到 at 处，w/h 为 0 时使用图片原尺寸。
	DrawImage(layer Layer, img image.Image, at domain.Point, w, h float64)
	// Grow 把所有层的高度增加到 height，保留已有像素；height 不大于当前高度时不做任何事。
	Grow(height int)
	// Composite 返回白底 + 背景层 + 绘制层合成后的图像。
	Composite() image.Image
	// Layer 返回某一层像素的拷贝。
	Layer(layer Layer) *image.RGBA
}

// IsBlank 报告图像是否完全透明。
func IsBlank(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}
