package media

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// imageSize decodes only the header.
func imageSize(data []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

var errImageTooLarge = errors.New("image dimensions exceed the pixel limit")

func tooLarge(w, h int) bool {
	return w <= 0 || h <= 0 || int64(w)*int64(h) > MaxImagePixels
}

// thumbnail scales src to width keeping the aspect ratio and encodes it as
// JPEG. Images narrower than width are re-encoded at their own size.
func thumbnail(data []byte, width int) ([]byte, error) {
	w, h, ok := imageSize(data)
	if !ok {
		return nil, image.ErrFormat
	}
	if tooLarge(w, h) {
		return nil, errImageTooLarge
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h = b.Dx(), b.Dy()
	if w > width {
		h = h * width / w
		w = width
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
