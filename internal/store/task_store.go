package store

import (
	"context"
	"errors"

	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskStore is the durable home of task records. UpdateStatus carries the
// terminal-state payload: variants are persisted only together with the
// completed status, the error message only together with failed, and every
// update bumps the task's updated_at timestamp.
type TaskStore interface {
	Create(ctx context.Context, task domain.Task) error
	Get(ctx context.Context, id string) (domain.Task, bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, images []domain.ImageVariant, errorMessage string) (domain.Task, error)
	List(ctx context.Context, sortByCreatedDesc bool) ([]domain.Task, error)
}
