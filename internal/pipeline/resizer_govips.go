//go:build govips && cgo

package pipeline

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsResizer struct{}

func (govipsResizer) Resize(data []byte, targetWidth int) ([]byte, error) {
	if targetWidth <= 0 {
		return nil, fmt.Errorf("target width must be positive, got %d", targetWidth)
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if img.Width() <= 0 {
		return nil, fmt.Errorf("source image has invalid width")
	}

	scale := float64(targetWidth) / float64(img.Width())
	if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize to width %d: %w", targetWidth, err)
	}

	params := vips.NewJpegExportParams()
	params.Quality = jpegQuality
	out, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out, nil
}
