package tasks

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
	"github.com/jlmorenorodriguez/imagetask-api/internal/queue"
	"github.com/jlmorenorodriguez/imagetask-api/internal/store"
)

// Enqueuer is the slice of the queue client the orchestrator needs.
type Enqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
	EnqueueProcessImageFromURL(ctx context.Context, payload queue.ProcessImageFromURLPayload) (*asynq.TaskInfo, error)
}

// Service turns a submitted input string into a persisted pending task
// plus exactly one queued job of the matching type.
type Service struct {
	logger    *log.Logger
	taskStore store.TaskStore
	enqueuer  Enqueuer
}

func NewService(logger *log.Logger, taskStore store.TaskStore, enqueuer Enqueuer) *Service {
	return &Service{
		logger:    logger,
		taskStore: taskStore,
		enqueuer:  enqueuer,
	}
}

// Create persists a new pending task and enqueues its processing job.
// If the enqueue fails after the task was persisted, the task stays
// pending with no job behind it and the error surfaces to the caller;
// creation and enqueue are not atomic here.
func (s *Service) Create(ctx context.Context, input string) (domain.Task, error) {
	task := domain.NewTask(input)

	if err := s.taskStore.Create(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("persist task: %w", err)
	}

	sourceType := domain.ClassifySource(input)
	var err error
	switch sourceType {
	case domain.SourceTypeURL:
		_, err = s.enqueuer.EnqueueProcessImageFromURL(ctx, queue.ProcessImageFromURLPayload{
			TaskID:   task.ID,
			ImageURL: input,
		})
	default:
		_, err = s.enqueuer.EnqueueProcessImage(ctx, queue.ProcessImagePayload{
			TaskID:       task.ID,
			OriginalPath: input,
		})
	}
	if err != nil {
		s.logger.Printf("enqueue failed task_id=%s source_type=%s err=%v", task.ID, sourceType, err)
		return domain.Task{}, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	s.logger.Printf("task created task_id=%s source_type=%s price=%.2f", task.ID, sourceType, task.Price)
	return task, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Task, bool, error) {
	return s.taskStore.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.Task, error) {
	return s.taskStore.List(ctx, true)
}
