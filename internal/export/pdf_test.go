package export_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/export"
)

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		img.Set(x, 1, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPDF_EmbedsImage(t *testing.T) {
	out, err := export.PDF(samplePNG(t), 8, 4, "pad")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Contains(t, string(out), "/Subtype /Image")
}

func TestPDF_RejectsBadInput(t *testing.T) {
	_, err := export.PDF(nil, 8, 4, "")
	assert.Error(t, err)

	_, err = export.PDF(samplePNG(t), 0, 4, "")
	assert.Error(t, err)

	_, err = export.PDF([]byte("not a png"), 8, 4, "")
	assert.Error(t, err)
}
