package render

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 2048
	DefaultQuality      = 85
)

type ImageRenderer struct {
	log          *zap.Logger
	maxDimension int
	quality      int
}

func NewImageRenderer(log *zap.Logger) *ImageRenderer {
	return &ImageRenderer{
		log:          log,
		maxDimension: DefaultMaxDimension,
		quality:      DefaultQuality,
	}
}

// DecodeConfig reads the image header only.
func (r *ImageRenderer) DecodeConfig(data []byte) (image.Config, string, error) {
	return image.DecodeConfig(bytes.NewReader(data))
}

// Decode applies the EXIF orientation the way browsers do when drawing an <img>.
func (r *ImageRenderer) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	r.log.Debug("Image decoded",
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Int("bytes", len(data)))

	return img, nil
}

// Render bounds src to the maximum dimension and rotates it clockwise by angle
// degrees. The source is never modified.
func (r *ImageRenderer) Render(src image.Image, angle int) image.Image {
	b := src.Bounds()
	width, height := Bound(b.Dx(), b.Dy(), r.maxDimension)

	var img image.Image = src
	if width != b.Dx() || height != b.Dy() {
		img = imaging.Resize(src, width, height, imaging.Lanczos)
	}

	switch angle {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

func (r *ImageRenderer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, err
	}

	r.log.Info("Image compressed",
		zap.Int("quality", r.quality),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Int("size", buf.Len()))

	return buf.Bytes(), nil
}

// Bound scales (width, height) by min(max/width, max/height) when either side
// exceeds max, flooring both results. Integer arithmetic keeps the long edge
// at exactly max.
func Bound(width, height, max int) (int, int) {
	if width <= max && height <= max {
		return width, height
	}

	w, h := int64(width), int64(height)
	m := int64(max)
	if w >= h {
		h = h * m / w
		w = m
	} else {
		w = w * m / h
		h = m
	}

	return atLeastOne(w), atLeastOne(h)
}

// Canvas returns the canvas size for an image of the given render size drawn
// at angle degrees.
func Canvas(width, height, angle int) (int, int) {
	if angle == 90 || angle == 270 {
		return height, width
	}
	return width, height
}

func atLeastOne(v int64) int {
	if v < 1 {
		return 1
	}
	return int(v)
}
