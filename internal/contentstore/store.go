package contentstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrNotFound is returned by Read when the requested path does not exist.
var ErrNotFound = errors.New("stored object not found")

// Store persists resized image buffers under content-addressed paths of
// the shape {root}/{taskID}/{resolutionLabel}/{md5hex}.{ext}. The path
// shape is part of the observable contract: it is what API responses
// return as a variant's location. Saving identical bytes for the same
// task and resolution converges on the same path, so re-processing an
// already-stored resolution is a harmless identical overwrite.
type Store interface {
	Save(ctx context.Context, taskID, resolutionLabel string, data []byte, extension string) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	PurgeTask(ctx context.Context, taskID string) error
}

func contentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return "jpg"
	}
	return ext
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
