package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // 模板和图片通常是 jpeg data URI
	"image/png"
	"strings"
)

// ErrNotDataURI 表示图片来源不是 base64 data URI。
var ErrNotDataURI = errors.New("canvas: image source is not a base64 data URI")

// ImageDecoder 把图片来源 (data URI) 解码为图像。
type ImageDecoder func(src string) (image.Image, error)

// DecodeDataURI 解码 "data:image/...;base64,..." 形式的图片。
func DecodeDataURI(src string) (image.Image, error) {
	if !strings.HasPrefix(src, "data:") {
		return nil, ErrNotDataURI
	}
	comma := strings.IndexByte(src, ',')
	if comma < 0 || !strings.HasSuffix(src[:comma], ";base64") {
		return nil, ErrNotDataURI
	}
	raw, err := base64.StdEncoding.DecodeString(src[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("canvas: decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("canvas: decode image: %w", err)
	}
	return img, nil
}

// EncodePNG 把图像编码为 PNG。
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("canvas: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// PNGDataURI 把 PNG 字节包装为 data URI。
func PNGDataURI(pngBytes []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

// ExportPNG 合成画布并返回 PNG 字节。
func ExportPNG(s Surface) ([]byte, error) {
	return EncodePNG(s.Composite())
}
