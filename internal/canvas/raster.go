package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"collaborative-sketchpad/internal/domain"
)

// Raster 是基于 gg.Context 的 Surface 实现，每一层一个 RGBA 画布。
type Raster struct {
	mu     sync.Mutex
	width  int
	height int
	layers [3]*gg.Context
	faces  map[float64]xfont.Face
}

// NewRaster 创建 width x height 的透明画布。
func NewRaster(width, height int) *Raster {
	if width <= 0 || height <= 0 {
		panic("canvas size must be positive")
	}
	r := &Raster{width: width, height: height}
	for i := range r.layers {
		r.layers[i] = gg.NewContext(width, height)
	}
	return r
}

func (r *Raster) Width() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width
}

func (r *Raster) Height() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.height
}

func (r *Raster) Clear(layer Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc := r.layers[layer]
	dc.SetColor(color.Transparent)
	dc.Clear()
}

func (r *Raster) StrokePath(layer Layer, segments []Segment, style Style, erase bool) {
	if len(segments) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !erase {
		tracePath(r.layers[layer], segments, style)
		r.layers[layer].Stroke()
		return
	}
	// gg 没有 destination-out，先把路径画到一张遮罩上，再按遮罩 alpha 扣掉目标像素。
	mask := gg.NewContext(r.width, r.height)
	style.Color = "#000000"
	tracePath(mask, segments, style)
	mask.Stroke()
	eraseWithMask(r.rgba(layer), mask.Image().(*image.RGBA))
}

func tracePath(dc *gg.Context, segments []Segment, style Style) {
	dc.SetHexColor(style.Color)
	dc.SetLineWidth(style.LineWidth)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	var last *domain.Point
	for i := range segments {
		seg := segments[i]
		if last == nil || *last != seg.From {
			dc.MoveTo(seg.From.X, seg.From.Y)
		}
		dc.LineTo(seg.To.X, seg.To.Y)
		last = &segments[i].To
	}
}

// eraseWithMask 对 dst 做 destination-out：dst *= 1 - mask.alpha。RGBA 为预乘格式，四个通道同比缩放。
func eraseWithMask(dst, mask *image.RGBA) {
	b := dst.Bounds().Intersect(mask.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			ma := uint32(mask.Pix[mask.PixOffset(x, y)+3])
			if ma == 0 {
				continue
			}
			i := dst.PixOffset(x, y)
			keep := 255 - ma
			for c := 0; c < 4; c++ {
				dst.Pix[i+c] = uint8(uint32(dst.Pix[i+c]) * keep / 255)
			}
		}
	}
}

func (r *Raster) FillCircle(layer Layer, center domain.Point, radius float64, hex string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc := r.layers[layer]
	dc.SetHexColor(hex)
	dc.DrawCircle(center.X, center.Y, radius)
	dc.Fill()
}

func (r *Raster) FillRect(layer Layer, from, to domain.Point, hex string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc := r.layers[layer]
	dc.SetHexColor(hex)
	dc.DrawRectangle(from.X, from.Y, to.X-from.X, to.Y-from.Y)
	dc.Fill()
}

// FillText 以 font 中的像素字号绘制一行文本，at 为基线起点。字形统一使用 Go 字体。
func (r *Raster) FillText(layer Layer, text string, font string, at domain.Point, hex string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc := r.layers[layer]
	dc.SetFontFace(r.face(FontPixelSize(font)))
	dc.SetHexColor(hex)
	dc.DrawString(text, at.X, at.Y)
}

var (
	goRegular     *truetype.Font
	goRegularOnce sync.Once
)

// face 返回 size 像素的字体。字体对象带字形缓存，不能跨 Raster 共享。调用方持有 r.mu。
// 72 DPI 下 point 与像素相同。
func (r *Raster) face(size float64) xfont.Face {
	goRegularOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			panic("canvas: parse embedded go font: " + err.Error())
		}
		goRegular = f
	})
	if r.faces == nil {
		r.faces = make(map[float64]xfont.Face)
	}
	f, ok := r.faces[size]
	if !ok {
		f = truetype.NewFace(goRegular, &truetype.Options{Size: size, DPI: 72})
		r.faces[size] = f
	}
	return f
}

func (r *Raster) DrawImage(layer Layer, img image.Image, at domain.Point, w, h float64) {
	if img == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	dc := r.layers[layer]
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return
	}
	if w <= 0 {
		w = float64(size.X)
	}
	if h <= 0 {
		h = float64(size.Y)
	}
	dc.Push()
	dc.Translate(at.X, at.Y)
	dc.Scale(w/float64(size.X), h/float64(size.Y))
	dc.DrawImage(img, 0, 0)
	dc.Pop()
}

func (r *Raster) Grow(height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if height <= r.height {
		return
	}
	for i, old := range r.layers {
		next := gg.NewContext(r.width, height)
		src := old.Image()
		draw.Draw(next.Image().(*image.RGBA), src.Bounds(), src, image.Point{}, draw.Src)
		r.layers[i] = next
	}
	r.height = height
}

func (r *Raster) Composite() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), r.layers[LayerBackground].Image(), image.Point{}, draw.Over)
	draw.Draw(out, out.Bounds(), r.layers[LayerDrawing].Image(), image.Point{}, draw.Over)
	return out
}

// Layer 返回某一层当前像素的拷贝。
func (r *Raster) Layer(layer Layer) *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.rgba(layer)
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}

func (r *Raster) rgba(layer Layer) *image.RGBA {
	return r.layers[layer].Image().(*image.RGBA)
}
