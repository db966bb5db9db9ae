package thumbnail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// MaxDimension bounds the dominant dimension of a generated thumbnail
const MaxDimension = 512

// RenderError indicates the thumbnail could not be produced from the source image
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("thumbnail render failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Builder produces JPEG data-URL thumbnails bounded to MaxDimension
type Builder struct {
	quality int
}

// NewBuilder creates a thumbnail builder with the given JPEG quality (1-100)
func NewBuilder(quality int) *Builder {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Builder{quality: quality}
}

// Decode parses raw image bytes (JPEG or PNG)
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &RenderError{Err: fmt.Errorf("failed to decode image: %w", err)}
	}
	return img, nil
}

// Build resizes the source image so its dominant dimension is MaxDimension,
// preserving aspect ratio, and encodes it as a JPEG data URL.
func (b *Builder) Build(src image.Image) (string, error) {
	if src == nil {
		return "", &RenderError{Err: fmt.Errorf("nil source image")}
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return "", &RenderError{Err: fmt.Errorf("empty source image %dx%d", w, h)}
	}

	dstW, dstH := targetSize(w, h)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, dst, &jpeg.Options{Quality: b.quality}); err != nil {
		return "", &RenderError{Err: fmt.Errorf("failed to encode JPEG: %w", err)}
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// targetSize constrains the dominant dimension to MaxDimension and derives
// the other proportionally. Width wins the constraint when it exceeds the
// bound, otherwise height is pinned.
func targetSize(w, h int) (int, int) {
	if w > MaxDimension {
		dstH := (h*MaxDimension + w/2) / w
		if dstH < 1 {
			dstH = 1
		}
		return MaxDimension, dstH
	}

	dstW := (w*MaxDimension + h/2) / h
	if dstW < 1 {
		dstW = 1
	}
	return dstW, MaxDimension
}
