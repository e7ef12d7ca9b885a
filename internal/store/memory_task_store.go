package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
)

// MemoryTaskStore keeps tasks in process memory. Used by tests and by
// dev mode when no Postgres DSN is configured.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]domain.Task),
	}
}

func (s *MemoryTaskStore) Create(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (domain.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	return task, ok, nil
}

func (s *MemoryTaskStore) UpdateStatus(_ context.Context, id string, status domain.TaskStatus, images []domain.ImageVariant, errorMessage string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}

	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	task.Images = nil
	task.ErrorMessage = ""
	switch status {
	case domain.TaskStatusCompleted:
		task.Images = images
	case domain.TaskStatusFailed:
		task.ErrorMessage = errorMessage
	}

	s.tasks[id] = task
	return task, nil
}

func (s *MemoryTaskStore) List(_ context.Context, sortByCreatedDesc bool) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}

	sort.Slice(out, func(i, j int) bool {
		if sortByCreatedDesc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
