package service_test

import (
	"bytes"
	"context"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/repository"
	"collaborative-sketchpad/internal/repository/mocks"
	"collaborative-sketchpad/internal/service"
)

type snapshotFixture struct {
	pads    *mocks.SketchpadRepository
	strokes *mocks.StrokeRepository
	cache   *mocks.StrokeCache
	svc     *service.SnapshotService
}

// newSnapshotFixture 准备一块画板：库里一个黑色矩形 (已被删除)、一个红色矩形，
// 缓存里一个蓝色矩形以及删除红色矩形的 deleteOne。
func newSnapshotFixture(t *testing.T) snapshotFixture {
	f := snapshotFixture{
		pads:    new(mocks.SketchpadRepository),
		strokes: new(mocks.StrokeRepository),
		cache:   new(mocks.StrokeCache),
	}
	f.svc = service.NewSnapshotService(f.pads, f.strokes, f.cache, 100, 60)

	black := rect(1, "u", domain.Point{X: 0, Y: 0}, domain.Point{X: 20, Y: 20}, "#000000")
	red := rect(2, "u", domain.Point{X: 30, Y: 0}, domain.Point{X: 50, Y: 20}, "#FF0000")
	blue := rect(1, "v", domain.Point{X: 60, Y: 0}, domain.Point{X: 80, Y: 20}, "#0000FF")
	del := domain.Action{ID: 2, Kind: domain.KindDeleteOne, User: "v", Params: domain.Params{
		LocalID: domain.IntPtr(2), CreatedBy: "u",
	}}

	f.pads.On("FindByID", mock.Anything, uint(1)).Return(&domain.Sketchpad{ID: 1}, nil)
	f.strokes.On("ListBySketchpad", mock.Anything, uint(1)).Return([]domain.StrokeRecord{
		record(t, 1, 1, black, true),
		record(t, 2, 1, red, false),
	}, nil)
	f.cache.On("Pending", mock.Anything, uint(1)).Return([]domain.Action{blue, del}, nil)
	return f
}

func TestSnapshotService_RenderAppliesHistoryAndPending(t *testing.T) {
	f := newSnapshotFixture(t)

	raster, err := f.svc.Render(context.Background(), 1)
	require.NoError(t, err)
	img := raster.Composite()

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	assert.Equal(t, white, img.At(10, 10), "deleted rect must not be drawn")
	assert.Equal(t, white, img.At(40, 10), "rect deleted by a pending deleteOne must not be drawn")
	assert.Equal(t, color.RGBA{B: 255, A: 255}, img.At(70, 10))
}

func TestSnapshotService_RenderUnknownSketchpad(t *testing.T) {
	pads := new(mocks.SketchpadRepository)
	svc := service.NewSnapshotService(pads, new(mocks.StrokeRepository), new(mocks.StrokeCache), 0, 0)
	pads.On("FindByID", mock.Anything, uint(8)).Return(nil, repository.ErrSketchpadNotFound)

	_, err := svc.Render(context.Background(), 8)
	assert.ErrorIs(t, err, service.ErrSketchpadNotFound)
}

func TestSnapshotService_RefreshStoresPNGDataURI(t *testing.T) {
	f := newSnapshotFixture(t)
	f.pads.On("SaveSnapshot", mock.Anything, uint(1), mock.MatchedBy(func(uri string) bool {
		return strings.HasPrefix(uri, "data:image/png;base64,")
	}), mock.Anything).Return(nil).Once()

	require.NoError(t, f.svc.Refresh(context.Background(), 1))
	f.pads.AssertExpectations(t)
}

func TestSnapshotService_ExportPDF(t *testing.T) {
	f := newSnapshotFixture(t)

	pdf, err := f.svc.ExportPDF(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestSnapshotService_RefreshStaleSkipsFailures(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()
	f.pads.On("ListStaleSnapshots", ctx, 10).Return([]uint{1, 2}, nil).Once()
	f.pads.On("FindByID", mock.Anything, uint(2)).Return(nil, repository.ErrSketchpadNotFound)
	f.pads.On("SaveSnapshot", mock.Anything, uint(1), mock.Anything, mock.Anything).Return(nil).Once()

	n, err := f.svc.RefreshStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
