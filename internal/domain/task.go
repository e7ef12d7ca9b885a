package domain

import (
	"errors"
	"math"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/jlmorenorodriguez/imagetask-api/internal/id"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

type SourceType string

const (
	SourceTypeLocalPath SourceType = "local_path"
	SourceTypeURL       SourceType = "url"
)

const (
	priceMin = 5.00
	priceMax = 50.00
)

// Task is the unit of work for one image-to-variants conversion request.
// A task is created once as pending, moved to processing by exactly one
// worker, and finishes in either completed (with variants) or failed
// (with an error message). Both terminal states are final.
type Task struct {
	ID           string         `json:"id"`
	Status       TaskStatus     `json:"status"`
	Price        float64        `json:"price"`
	OriginalPath string         `json:"original_path"`
	Images       []ImageVariant `json:"images,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ImageVariant is one resized output. Resolution is the target width
// label (e.g. "1024") and Path is the content-addressed storage location.
type ImageVariant struct {
	Resolution string `json:"resolution"`
	Path       string `json:"path"`
}

type CreateTaskRequest struct {
	ImagePath string `json:"image_path"`
}

func (r CreateTaskRequest) Validate() error {
	if strings.TrimSpace(r.ImagePath) == "" {
		return errors.New("image_path is required")
	}
	return nil
}

// NewTask builds a pending task for the given input with a fresh ID,
// a randomly assigned processing price and UTC timestamps.
func NewTask(originalPath string) Task {
	now := time.Now().UTC()
	return Task{
		ID:           id.New(),
		Status:       TaskStatusPending,
		Price:        NewPrice(),
		OriginalPath: originalPath,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewPrice draws a uniform price in [5.00, 50.00] rounded to two decimals.
func NewPrice() float64 {
	raw := priceMin + rand.Float64()*(priceMax-priceMin)
	return math.Round(raw*100) / 100
}

// ClassifySource decides how a submitted input string is processed.
// Only absolute http/https URLs are URL jobs; everything else, including
// well-formed URLs with other schemes (ftp://...), is treated as a local
// path and fails later at the file-existence check if no such file exists.
func ClassifySource(input string) SourceType {
	u, err := url.Parse(strings.TrimSpace(input))
	if err != nil {
		return SourceTypeLocalPath
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return SourceTypeLocalPath
		}
		return SourceTypeURL
	default:
		return SourceTypeLocalPath
	}
}

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}
