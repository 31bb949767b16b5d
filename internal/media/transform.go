// Package media handles image transforms for the upload pipeline:
// compression, thumbnailing, and watermarking. Every transform is
// best-effort; on failure it hands back the original bytes with a warning
// instead of failing the upload.
package media

import (
	"bytes"
	"fmt"
	"math"

	"github.com/disintegration/imaging"

	// Registers the WEBP decoder. There is no pure-Go WEBP encoder, so
	// WEBP inputs decode fine but are re-encoded as JPEG thumbnails only.
	_ "golang.org/x/image/webp"
)

// Thumbnails are always encoded as JPEG at a fixed quality, independent of
// the main compression settings.
const thumbnailQuality = 85

// CompressOptions bounds the output dimensions and sets the encode quality.
type CompressOptions struct {
	Quality   int
	MaxWidth  int
	MaxHeight int
}

// Outcome reports a transform's effect. When a transform cannot be applied,
// Data carries the input unchanged and Warning says why.
type Outcome struct {
	Data             []byte  `json:"-"`
	OriginalSize     int     `json:"originalSize"`
	CompressedSize   int     `json:"compressedSize"`
	CompressionRatio float64 `json:"compressionRatio"`
	Format           string  `json:"format"`
	Warning          string  `json:"warning,omitempty"`
}

// Compress decodes the image, downscales it to fit the configured bounds
// (never upscaling), and re-encodes it at the configured quality in a format
// compatible with the input mime.
func Compress(data []byte, mime string, opts CompressOptions) *Outcome {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fallback(data, mime, fmt.Sprintf("compression skipped: decode failed: %v", err))
	}

	bounds := img.Bounds()
	if bounds.Dx() > opts.MaxWidth || bounds.Dy() > opts.MaxHeight {
		img = imaging.Fit(img, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)
	}

	format, err := encodeFormat(mime)
	if err != nil {
		return fallback(data, mime, fmt.Sprintf("compression skipped: %v", err))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(opts.Quality)); err != nil {
		return fallback(data, mime, fmt.Sprintf("compression skipped: encode failed: %v", err))
	}

	return &Outcome{
		Data:             buf.Bytes(),
		OriginalSize:     len(data),
		CompressedSize:   buf.Len(),
		CompressionRatio: compressionRatio(len(data), buf.Len()),
		Format:           mime,
	}
}

// Thumbnail produces a centered crop-to-cover JPEG of exactly width x height.
func Thumbnail(data []byte, mime string, width, height int) *Outcome {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fallback(data, mime, fmt.Sprintf("thumbnail skipped: decode failed: %v", err))
	}

	thumb := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return fallback(data, mime, fmt.Sprintf("thumbnail skipped: encode failed: %v", err))
	}

	return &Outcome{
		Data:             buf.Bytes(),
		OriginalSize:     len(data),
		CompressedSize:   buf.Len(),
		CompressionRatio: compressionRatio(len(data), buf.Len()),
		Format:           "image/jpeg",
	}
}

// encodeFormat maps an image mime type to an encoder. WEBP has no pure-Go
// encoder and is reported as unsupported.
func encodeFormat(mime string) (imaging.Format, error) {
	switch mime {
	case "image/jpeg":
		return imaging.JPEG, nil
	case "image/png":
		return imaging.PNG, nil
	case "image/gif":
		return imaging.GIF, nil
	default:
		return 0, fmt.Errorf("no encoder for %s", mime)
	}
}

func compressionRatio(original, compressed int) float64 {
	if original == 0 {
		return 0
	}
	r := (1 - float64(compressed)/float64(original)) * 100
	return math.Round(r*100) / 100
}

func fallback(data []byte, mime, warning string) *Outcome {
	return &Outcome{
		Data:             data,
		OriginalSize:     len(data),
		CompressedSize:   len(data),
		CompressionRatio: 0,
		Format:           mime,
		Warning:          warning,
	}
}
