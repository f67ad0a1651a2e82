package replay_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/replay"
	"collaborative-sketchpad/internal/strokelog"
)

func rect(from, to domain.Point, hex string) domain.Params {
	return domain.Params{InitialCoordinates: &from, CurrentCoordinates: &to, StrokeColor: hex}
}

func seg(x0, y0, x1, y1 float64) domain.Params {
	return domain.Params{
		InitialCoordinates: &domain.Point{X: x0, Y: y0},
		CurrentCoordinates: &domain.Point{X: x1, Y: y1},
		StrokeColor:        "#000000",
		LineWidth:          4,
	}
}

func TestRedraw_IsIdempotent(t *testing.T) {
	l := strokelog.New()
	l.Append(domain.KindGroupStart, domain.Params{}, "u1")
	l.Append(domain.KindFreehandLine, seg(10, 10, 20, 15), "u1")
	l.Append(domain.KindFreehandLine, seg(20, 15, 40, 30), "u1")
	l.Append(domain.KindGroupEnd, domain.Params{}, "u1")
	l.Append(domain.KindArc, domain.Params{InitialCoordinates: &domain.Point{X: 60, Y: 30}, Radius: 8, StrokeColor: "#FF0000"}, "u1")

	r := canvas.NewRaster(100, 60)
	e := replay.NewEngine(r)

	e.Redraw(l)
	first := r.Layer(canvas.LayerDrawing)
	e.Redraw(l)
	second := r.Layer(canvas.LayerDrawing)

	assert.Equal(t, first.Pix, second.Pix)
	assert.NotZero(t, first.RGBAAt(60, 30).A)
}

func TestRedraw_StartsAtMostRecentClear(t *testing.T) {
	l := strokelog.New()
	l.Append(domain.KindFilledRect, rect(domain.Point{X: 0, Y: 0}, domain.Point{X: 20, Y: 20}, "#FF0000"), "u1")
	l.Append(domain.KindClear, domain.Params{}, "u1")
	l.Append(domain.KindFilledRect, rect(domain.Point{X: 30, Y: 0}, domain.Point{X: 50, Y: 20}, "#0000FF"), "u1")

	partial := canvas.NewRaster(60, 30)
	replay.NewEngine(partial).Redraw(l)

	full := canvas.NewRaster(60, 30)
	replay.NewEngine(full).Replay(l, 0, l.Len())

	got := partial.Layer(canvas.LayerDrawing)
	assert.Equal(t, full.Layer(canvas.LayerDrawing).Pix, got.Pix)
	assert.Zero(t, got.RGBAAt(10, 10).A, "clear 之前的矩形不可见")
	assert.Equal(t, color.RGBA{B: 255, A: 255}, got.RGBAAt(40, 10))
}

func TestReplay_SkipsDeletedActions(t *testing.T) {
	l := strokelog.New()
	l.Append(domain.KindFilledRect, rect(domain.Point{X: 0, Y: 0}, domain.Point{X: 20, Y: 20}, "#FF0000"), "u1")
	l.SetDeleted(0, true)

	r := canvas.NewRaster(30, 30)
	replay.NewEngine(r).Redraw(l)
	assert.Zero(t, r.Layer(canvas.LayerDrawing).RGBAAt(10, 10).A)
}

func TestReplay_UnknownKindIsSkipped(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	l := strokelog.New(
		domain.Action{ID: 0, Kind: "hologram", User: "u1"},
		domain.Action{ID: 1, Kind: domain.KindFilledRect, User: "u1", Params: rect(domain.Point{X: 0, Y: 0}, domain.Point{X: 10, Y: 10}, "#00FF00")},
	)

	r := canvas.NewRaster(20, 20)
	e := replay.NewEngine(r, replay.WithLogger(logrus.NewEntry(logger)))
	e.Redraw(l)

	assert.Equal(t, color.RGBA{G: 255, A: 255}, r.Layer(canvas.LayerDrawing).RGBAAt(5, 5))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, domain.Kind("hologram"), hook.LastEntry().Data["kind"])
}

func TestReplay_ResizeIsCumulativeAndIdempotent(t *testing.T) {
	l := strokelog.New()
	l.Append(domain.KindResize, domain.Params{DeltaHeight: 100}, "u1")
	l.Append(domain.KindResize, domain.Params{DeltaHeight: 50}, "u2")

	r := canvas.NewRaster(100, 200)
	e := replay.NewEngine(r)
	e.Redraw(l)
	assert.Equal(t, 350, r.Height())

	e.Redraw(l)
	e.Replay(l, 0, l.Len())
	assert.Equal(t, 350, r.Height(), "重复回放不会继续增长")
	assert.Equal(t, 350, e.HeightFor(l))
}

func TestReplay_LegacyCanvasHeight(t *testing.T) {
	l := strokelog.New(domain.Action{ID: 0, Kind: domain.KindResize, User: "u1", Params: domain.Params{CanvasHeight: 320}})

	r := canvas.NewRaster(50, 200)
	replay.NewEngine(r).Redraw(l)
	assert.Equal(t, 320, r.Height())
}

func TestReplay_TemplatePaintsBackgroundAsync(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+3] = 255, 255
	}
	png, err := canvas.EncodePNG(src)
	require.NoError(t, err)

	l := strokelog.New()
	l.Append(domain.KindTemplate, domain.Params{ImgSrc: canvas.PNGDataURI(png)}, "u1")

	r := canvas.NewRaster(10, 10)
	e := replay.NewEngine(r)
	e.Redraw(l)
	e.Wait()

	bg := r.Layer(canvas.LayerBackground)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, bg.RGBAAt(1, 1))
	assert.Zero(t, bg.RGBAAt(8, 8).A)
	assert.Zero(t, r.Layer(canvas.LayerDrawing).RGBAAt(1, 1).A, "模板只画在背景层")
}

func TestReplay_EmptyTemplateClearsBackground(t *testing.T) {
	r := canvas.NewRaster(10, 10)
	r.FillRect(canvas.LayerBackground, domain.Point{}, domain.Point{X: 10, Y: 10}, "#0000FF")

	l := strokelog.New()
	l.Append(domain.KindTemplate, domain.Params{}, "u1")
	replay.NewEngine(r).Replay(l, 0, l.Len())

	assert.Zero(t, r.Layer(canvas.LayerBackground).RGBAAt(5, 5).A)
}

func TestReplay_BrokenImageIsNotPainted(t *testing.T) {
	l := strokelog.New()
	l.Append(domain.KindImage, domain.Params{
		InitialCoordinates: &domain.Point{X: 0, Y: 0},
		ImgSrc:             "data:image/png;base64,!!!",
		Width:              5,
		Height:             5,
	}, "u1")

	r := canvas.NewRaster(10, 10)
	e := replay.NewEngine(r)
	e.Redraw(l)
	e.Wait()
	assert.Zero(t, r.Layer(canvas.LayerDrawing).RGBAAt(2, 2).A)
}
