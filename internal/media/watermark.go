package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	watermarkBandHeight    = 28
	watermarkEncodeQuality = 95
)

// Watermark overlays a translucent text band near the bottom of the image
// and re-encodes it in its original format. Like the other transforms it is
// best-effort: images too small for the band, undecodable input, or an
// unsupported output format all fall back to the original bytes.
func Watermark(data []byte, mime, text string) *Outcome {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fallback(data, mime, fmt.Sprintf("watermark skipped: decode failed: %v", err))
	}

	bounds := img.Bounds()
	if bounds.Dy() < watermarkBandHeight*2 {
		return fallback(data, mime, "watermark skipped: image too small")
	}

	format, err := encodeFormat(mime)
	if err != nil {
		return fallback(data, mime, fmt.Sprintf("watermark skipped: %v", err))
	}

	canvas := imaging.Clone(img)

	band := image.Rect(bounds.Min.X, bounds.Max.Y-watermarkBandHeight, bounds.Max.X, bounds.Max.Y)
	draw.Draw(canvas, band, image.NewUniform(color.NRGBA{0, 0, 0, 128}), image.Point{}, draw.Over)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.NRGBA{255, 255, 255, 230}),
		Face: face,
	}
	textWidth := drawer.MeasureString(text).Ceil()
	x := bounds.Min.X + (bounds.Dx()-textWidth)/2
	if x < bounds.Min.X+2 {
		x = bounds.Min.X + 2
	}
	y := bounds.Max.Y - (watermarkBandHeight-face.Height)/2 - face.Descent
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, format, imaging.JPEGQuality(watermarkEncodeQuality)); err != nil {
		return fallback(data, mime, fmt.Sprintf("watermark skipped: encode failed: %v", err))
	}

	return &Outcome{
		Data:             buf.Bytes(),
		OriginalSize:     len(data),
		CompressedSize:   buf.Len(),
		CompressionRatio: compressionRatio(len(data), buf.Len()),
		Format:           mime,
	}
}
