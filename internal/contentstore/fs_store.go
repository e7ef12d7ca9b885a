package contentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes variants to a local directory tree rooted at OutputDir.
type FSStore struct {
	outputDir string
}

func NewFSStore(outputDir string) (*FSStore, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	return &FSStore{outputDir: outputDir}, nil
}

func (s *FSStore) Save(ctx context.Context, taskID, resolutionLabel string, data []byte, extension string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	dir := filepath.Join(s.outputDir, sanitizePathToken(taskID), sanitizePathToken(resolutionLabel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create variant dir: %w", err)
	}

	filename := fmt.Sprintf("%s.%s", contentHash(data), normalizeExtension(extension))
	fullPath := filepath.Join(dir, filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write variant file: %w", err)
	}
	return fullPath, nil
}

func (s *FSStore) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read stored file %s: %w", path, err)
	}
	return data, nil
}

func (s *FSStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat stored file %s: %w", path, err)
}

func (s *FSStore) Delete(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete stored file %s: %w", path, err)
	}
	return nil
}

func (s *FSStore) PurgeTask(_ context.Context, taskID string) error {
	dir := filepath.Join(s.outputDir, sanitizePathToken(taskID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge task outputs %s: %w", taskID, err)
	}
	return nil
}
