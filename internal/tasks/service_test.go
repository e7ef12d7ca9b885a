package tasks

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
	"github.com/jlmorenorodriguez/imagetask-api/internal/queue"
	"github.com/jlmorenorodriguez/imagetask-api/internal/store"
)

func TestCreateLocalPathTask(t *testing.T) {
	taskStore := store.NewMemoryTaskStore()
	enqueuer := &captureEnqueuer{}
	svc := NewService(log.New(io.Discard, "", 0), taskStore, enqueuer)

	task, err := svc.Create(context.Background(), "/tmp/img.jpg")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if task.Status != domain.TaskStatusPending {
		t.Fatalf("expected pending status, got %q", task.Status)
	}
	if task.Price < 5.00 || task.Price > 50.00 {
		t.Fatalf("price %f out of [5.00, 50.00]", task.Price)
	}
	if len(task.Images) != 0 {
		t.Fatalf("expected no images, got %d", len(task.Images))
	}

	stored, ok, err := taskStore.Get(context.Background(), task.ID)
	if err != nil || !ok {
		t.Fatalf("expected task to be persisted, ok=%v err=%v", ok, err)
	}
	if stored.OriginalPath != "/tmp/img.jpg" {
		t.Fatalf("expected original path to be stored, got %q", stored.OriginalPath)
	}

	if enqueuer.urlCalls != 0 {
		t.Fatalf("expected no URL job, got %d", enqueuer.urlCalls)
	}
	if enqueuer.localCalls != 1 {
		t.Fatalf("expected exactly one local-path job, got %d", enqueuer.localCalls)
	}
	if enqueuer.localPayload.TaskID != task.ID || enqueuer.localPayload.OriginalPath != "/tmp/img.jpg" {
		t.Fatalf("unexpected payload %+v", enqueuer.localPayload)
	}
}

func TestCreateURLTask(t *testing.T) {
	taskStore := store.NewMemoryTaskStore()
	enqueuer := &captureEnqueuer{}
	svc := NewService(log.New(io.Discard, "", 0), taskStore, enqueuer)

	task, err := svc.Create(context.Background(), "https://example.com/cat.jpg")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if enqueuer.localCalls != 0 {
		t.Fatalf("expected no local-path job, got %d", enqueuer.localCalls)
	}
	if enqueuer.urlCalls != 1 {
		t.Fatalf("expected exactly one URL job, got %d", enqueuer.urlCalls)
	}
	if enqueuer.urlPayload.TaskID != task.ID || enqueuer.urlPayload.ImageURL != "https://example.com/cat.jpg" {
		t.Fatalf("unexpected payload %+v", enqueuer.urlPayload)
	}
}

func TestCreateClassifiesFTPAsLocalPath(t *testing.T) {
	taskStore := store.NewMemoryTaskStore()
	enqueuer := &captureEnqueuer{}
	svc := NewService(log.New(io.Discard, "", 0), taskStore, enqueuer)

	if _, err := svc.Create(context.Background(), "ftp://host/img.jpg"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if enqueuer.localCalls != 1 || enqueuer.urlCalls != 0 {
		t.Fatalf("expected ftp input to become a local-path job, got local=%d url=%d", enqueuer.localCalls, enqueuer.urlCalls)
	}
	if enqueuer.localPayload.OriginalPath != "ftp://host/img.jpg" {
		t.Fatalf("expected original input preserved, got %q", enqueuer.localPayload.OriginalPath)
	}
}

func TestCreateSurfacesEnqueueFailureAndLeavesTaskPending(t *testing.T) {
	taskStore := store.NewMemoryTaskStore()
	enqueuer := &captureEnqueuer{err: errors.New("redis unavailable")}
	svc := NewService(log.New(io.Discard, "", 0), taskStore, enqueuer)

	_, err := svc.Create(context.Background(), "/tmp/img.jpg")
	if err == nil {
		t.Fatal("expected enqueue failure to surface")
	}

	all, err := taskStore.List(context.Background(), true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the orphaned task to remain persisted, got %d tasks", len(all))
	}
	if all[0].Status != domain.TaskStatusPending {
		t.Fatalf("expected orphaned task to stay pending, got %q", all[0].Status)
	}
}

type captureEnqueuer struct {
	err          error
	localCalls   int
	urlCalls     int
	localPayload queue.ProcessImagePayload
	urlPayload   queue.ProcessImageFromURLPayload
}

func (e *captureEnqueuer) EnqueueProcessImage(_ context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error) {
	e.localCalls++
	e.localPayload = payload
	if e.err != nil {
		return nil, e.err
	}
	return &asynq.TaskInfo{}, nil
}

func (e *captureEnqueuer) EnqueueProcessImageFromURL(_ context.Context, payload queue.ProcessImageFromURLPayload) (*asynq.TaskInfo, error) {
	e.urlCalls++
	e.urlPayload = payload
	if e.err != nil {
		return nil, e.err
	}
	return &asynq.TaskInfo{}, nil
}
