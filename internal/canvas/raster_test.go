package canvas_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/domain"
)

func alphaAt(img *image.RGBA, x, y int) uint8 {
	return img.RGBAAt(x, y).A
}

func TestRaster_FillRectAndClear(t *testing.T) {
	r := canvas.NewRaster(40, 30)
	r.FillRect(canvas.LayerDrawing, domain.Point{X: 5, Y: 5}, domain.Point{X: 20, Y: 20}, "#FF0000")

	px := r.Layer(canvas.LayerDrawing).RGBAAt(10, 10)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, px)
	assert.Zero(t, alphaAt(r.Layer(canvas.LayerDrawing), 30, 25))

	r.Clear(canvas.LayerDrawing)
	assert.Zero(t, alphaAt(r.Layer(canvas.LayerDrawing), 10, 10))
}

func TestRaster_EraseStrokeRemovesPixels(t *testing.T) {
	r := canvas.NewRaster(40, 40)
	r.FillRect(canvas.LayerDrawing, domain.Point{X: 0, Y: 0}, domain.Point{X: 40, Y: 40}, "#0000FF")

	r.StrokePath(canvas.LayerDrawing, []canvas.Segment{
		{From: domain.Point{X: 5, Y: 20}, To: domain.Point{X: 35, Y: 20}},
	}, canvas.Style{Color: "#FF0000", LineWidth: 6}, true)

	layer := r.Layer(canvas.LayerDrawing)
	assert.Zero(t, alphaAt(layer, 20, 20), "擦除路径上的像素应变透明")
	assert.Equal(t, uint8(255), alphaAt(layer, 20, 5), "路径外的像素保持不变")
}

func TestRaster_GrowKeepsContent(t *testing.T) {
	r := canvas.NewRaster(20, 10)
	r.FillRect(canvas.LayerDrawing, domain.Point{X: 0, Y: 0}, domain.Point{X: 10, Y: 10}, "#00FF00")

	r.Grow(5)
	assert.Equal(t, 10, r.Height(), "不缩小")

	r.Grow(25)
	require.Equal(t, 25, r.Height())
	layer := r.Layer(canvas.LayerDrawing)
	assert.Equal(t, 25, layer.Bounds().Dy())
	assert.Equal(t, color.RGBA{G: 255, A: 255}, layer.RGBAAt(5, 5))
	assert.Zero(t, alphaAt(layer, 5, 20))
}

func TestRaster_CompositeHasWhiteBase(t *testing.T) {
	r := canvas.NewRaster(10, 10)
	r.FillCircle(canvas.LayerDrawing, domain.Point{X: 5, Y: 5}, 2, "#000000")

	out := r.Composite()
	cr, cg, cb, ca := out.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff, 0xffff}, []uint32{cr, cg, cb, ca})
	cr, _, _, _ = out.At(5, 5).RGBA()
	assert.Zero(t, cr)
}

func TestDataURI_RoundTrip(t *testing.T) {
	r := canvas.NewRaster(8, 6)
	png, err := canvas.ExportPNG(r)
	require.NoError(t, err)

	img, err := canvas.DecodeDataURI(canvas.PNGDataURI(png))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 6), img.Bounds().Size())

	_, err = canvas.DecodeDataURI("/static/blackboard.jpg")
	assert.ErrorIs(t, err, canvas.ErrNotDataURI)
}

func TestTextLineHeight(t *testing.T) {
	assert.InDelta(t, 12*1.286, canvas.TextLineHeight("12px Arial"), 1e-9)
	assert.InDelta(t, 20*1.286, canvas.TextLineHeight("20px serif"), 1e-9)
	assert.InDelta(t, 12*1.286, canvas.TextLineHeight("bold"), 1e-9)
}

// inkHeight 返回 img 中有不透明像素的行数。
func inkHeight(img *image.RGBA) int {
	rows := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if alphaAt(img, x, y) > 0 {
				rows++
				break
			}
		}
	}
	return rows
}

func TestRaster_FillTextUsesFontSize(t *testing.T) {
	small := canvas.NewRaster(120, 80)
	small.FillText(canvas.LayerDrawing, "M", "12px Arial", domain.Point{X: 10, Y: 60}, "#000000")
	large := canvas.NewRaster(120, 80)
	large.FillText(canvas.LayerDrawing, "M", "40px Arial", domain.Point{X: 10, Y: 60}, "#000000")

	h12 := inkHeight(small.Layer(canvas.LayerDrawing))
	h40 := inkHeight(large.Layer(canvas.LayerDrawing))
	require.Greater(t, h12, 0)
	assert.Greater(t, h40, 2*h12, "字号越大字形越高")
}

func TestRaster_PathRunMatchesSeparateSegments(t *testing.T) {
	segments := []canvas.Segment{
		{From: domain.Point{X: 10, Y: 10}, To: domain.Point{X: 60, Y: 20}},
		{From: domain.Point{X: 60, Y: 20}, To: domain.Point{X: 40, Y: 70}},
		{From: domain.Point{X: 40, Y: 70}, To: domain.Point{X: 90, Y: 90}},
	}
	style := canvas.Style{Color: "#000000", LineWidth: 4}

	joined := canvas.NewRaster(100, 100)
	joined.StrokePath(canvas.LayerDrawing, segments, style, false)
	separate := canvas.NewRaster(100, 100)
	for _, seg := range segments {
		separate.StrokePath(canvas.LayerDrawing, []canvas.Segment{seg}, style, false)
	}

	a, b := joined.Layer(canvas.LayerDrawing), separate.Layer(canvas.LayerDrawing)
	painted, off := 0, 0
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			pa, pb := int(alphaAt(a, x, y)), int(alphaAt(b, x, y))
			if pa > 0 || pb > 0 {
				painted++
			}
			// 只在拐点的抗锯齿边缘有差别
			if pa-pb > 128 || pb-pa > 128 {
				off++
			}
		}
	}
	require.Greater(t, painted, 100)
	assert.LessOrEqual(t, off*100, painted, "超过阈值的像素不多于 1%")
}
