package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"strconv"
	"strings"

	"github.com/jlmorenorodriguez/imagetask-api/internal/contentstore"
	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
	_ "golang.org/x/image/webp"
)

const (
	minDimension = 100
	maxDimension = 10000
	jpegQuality  = 90
)

// Result is the outcome of processing one source image. Variants holds
// the persisted outputs in target-width order; Skipped lists the width
// labels that were skipped because the source is narrower than the target.
type Result struct {
	Variants []domain.ImageVariant
	Skipped  []string
}

// Engine turns a decoded source image into one stored variant per
// configured target width. A width whose resize or save fails is skipped
// without aborting the remaining widths; the engine fails as a whole only
// when no width produced a variant.
type Engine struct {
	logger       *log.Logger
	store        contentstore.Store
	resizer      Resizer
	targetWidths []int
	formats      map[string]bool
}

func NewEngine(logger *log.Logger, store contentstore.Store, targetWidths []int, supportedFormats []string) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if len(targetWidths) == 0 {
		return nil, fmt.Errorf("at least one target width is required")
	}

	resizer, err := newResizer()
	if err != nil {
		return nil, fmt.Errorf("build resizer: %w", err)
	}

	formats := make(map[string]bool, len(supportedFormats))
	for _, format := range supportedFormats {
		formats[strings.ToLower(strings.TrimSpace(format))] = true
	}

	return &Engine{
		logger:       logger,
		store:        store,
		resizer:      resizer,
		targetWidths: targetWidths,
		formats:      formats,
	}, nil
}

func (e *Engine) Process(ctx context.Context, taskID string, data []byte) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, wrapFailure(FailureInvalidImage, err, "could not determine image format")
	}
	format = strings.ToLower(format)
	if !e.formats[format] {
		return Result{}, Failuref(FailureUnsupportedFormat, "unsupported image format %q", format)
	}
	if cfg.Width < minDimension || cfg.Height < minDimension || cfg.Width > maxDimension || cfg.Height > maxDimension {
		return Result{}, Failuref(
			FailureDimensionOutOfRange,
			"image dimensions %dx%d are outside the allowed %d-%d pixel range",
			cfg.Width, cfg.Height, minDimension, maxDimension,
		)
	}

	var (
		result Result
		notes  []string
	)
	for _, width := range e.targetWidths {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		label := strconv.Itoa(width)

		// No upscaling: a source narrower than the target is skipped.
		if cfg.Width < width {
			result.Skipped = append(result.Skipped, label)
			notes = append(notes, fmt.Sprintf("%s: skipped, source width %dpx is below the target", label, cfg.Width))
			e.logger.Printf("variant skipped task_id=%s resolution=%s source_width=%d", taskID, label, cfg.Width)
			continue
		}

		encoded, err := e.resizer.Resize(data, width)
		if err != nil {
			notes = append(notes, fmt.Sprintf("%s: resize failed", label))
			e.logger.Printf("variant resize failed task_id=%s resolution=%s err=%v", taskID, label, err)
			continue
		}

		path, err := e.store.Save(ctx, taskID, label, encoded, "jpg")
		if err != nil {
			notes = append(notes, fmt.Sprintf("%s: could not store variant", label))
			e.logger.Printf("variant save failed task_id=%s resolution=%s err=%v", taskID, label, err)
			continue
		}

		result.Variants = append(result.Variants, domain.ImageVariant{
			Resolution: label,
			Path:       path,
		})
	}

	if len(result.Variants) == 0 {
		return result, Failuref(FailureNoVariants, "no variants produced: %s", strings.Join(notes, "; "))
	}
	return result, nil
}
