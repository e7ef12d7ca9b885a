package pipeline

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

type imagingResizer struct{}

func (imagingResizer) Resize(data []byte, targetWidth int) ([]byte, error) {
	if targetWidth <= 0 {
		return nil, fmt.Errorf("target width must be positive, got %d", targetWidth)
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	// Height 0 keeps aspect ratio.
	resized := imaging.Resize(src, targetWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
