// Package export 把渲染好的画板转换为可下载的文件格式。
package export

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const imageName = "sketchpad"

// PDF 把 PNG 图像放进一页与画布同尺寸的 PDF (1px = 1pt)。
func PDF(pngBytes []byte, width, height int, title string) ([]byte, error) {
	if len(pngBytes) == 0 {
		return nil, errors.New("export: empty png")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("export: invalid page size %dx%d", width, height)
	}
	w, h := float64(width), float64(height)

	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: w, Ht: h},
	})
	p.SetMargins(0, 0, 0)
	p.SetAutoPageBreak(false, 0)
	if title != "" {
		p.SetTitle(title, true)
	}
	p.SetCreator("collaborative-sketchpad", true)
	p.AddPage()

	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	p.RegisterImageOptionsReader(imageName, opts, bytes.NewReader(pngBytes))
	p.ImageOptions(imageName, 0, 0, w, h, false, opts, 0, "")
	if err := p.Error(); err != nil {
		return nil, fmt.Errorf("export: build pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, fmt.Errorf("export: write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
