package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jlmorenorodriguez/imagetask-api/internal/contentstore"
	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
	"github.com/jlmorenorodriguez/imagetask-api/internal/pipeline"
	"github.com/jlmorenorodriguez/imagetask-api/internal/queue"
	"github.com/jlmorenorodriguez/imagetask-api/internal/store"
	"go.opentelemetry.io/otel"
)

func TestHandleProcessImageCompletesTask(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	imgPath := filepath.Join(t.TempDir(), "source.jpg")
	if err := os.WriteFile(imgPath, makeJPEG(t, 2000, 2000), 0o644); err != nil {
		t.Fatalf("write source image: %v", err)
	}

	task := seedTask(t, taskStore, imgPath)
	job := makeProcessImageJob(t, task.ID, imgPath)

	if err := s.handleProcessImage(ctx, job); err != nil {
		t.Fatalf("handle job: %v", err)
	}

	got, ok, err := taskStore.Get(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("load task: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected completed, got %q (error=%q)", got.Status, got.ErrorMessage)
	}
	if len(got.Images) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(got.Images))
	}
	if got.ErrorMessage != "" {
		t.Fatalf("completed task must have no error message, got %q", got.ErrorMessage)
	}
	for _, variant := range got.Images {
		if _, err := os.Stat(variant.Path); err != nil {
			t.Fatalf("variant file %s missing: %v", variant.Path, err)
		}
	}
}

func TestHandleProcessImageNarrowSourceSkipsLargerTarget(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	imgPath := filepath.Join(t.TempDir(), "narrow.jpg")
	if err := os.WriteFile(imgPath, makeJPEG(t, 900, 600), 0o644); err != nil {
		t.Fatalf("write source image: %v", err)
	}

	task := seedTask(t, taskStore, imgPath)
	if err := s.handleProcessImage(ctx, makeProcessImageJob(t, task.ID, imgPath)); err != nil {
		t.Fatalf("handle job: %v", err)
	}

	got, _, _ := taskStore.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected completed, got %q", got.Status)
	}
	if len(got.Images) != 1 || got.Images[0].Resolution != "800" {
		t.Fatalf("expected only the 800 variant, got %+v", got.Images)
	}
}

func TestHandleProcessImageMissingFileFailsTask(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	task := seedTask(t, taskStore, "/nonexistent/img.jpg")
	job := makeProcessImageJob(t, task.ID, "/nonexistent/img.jpg")

	// Pipeline failures are consumed, not retried.
	if err := s.handleProcessImage(ctx, job); err != nil {
		t.Fatalf("expected job to be consumed, got %v", err)
	}

	got, _, _ := taskStore.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "file not found") {
		t.Fatalf("expected a file-not-found message, got %q", got.ErrorMessage)
	}
	if len(got.Images) != 0 {
		t.Fatalf("failed task must have no variants, got %d", len(got.Images))
	}
}

func TestHandleProcessImageUnsupportedFormatFailsTask(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := gif.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 300, 300)), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	imgPath := filepath.Join(t.TempDir(), "anim.gif")
	if err := os.WriteFile(imgPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write gif: %v", err)
	}

	task := seedTask(t, taskStore, imgPath)
	if err := s.handleProcessImage(ctx, makeProcessImageJob(t, task.ID, imgPath)); err != nil {
		t.Fatalf("expected job to be consumed, got %v", err)
	}

	got, _, _ := taskStore.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "unsupported image format") {
		t.Fatalf("expected an unsupported-format message, got %q", got.ErrorMessage)
	}
}

func TestHandleProcessImageFromURLCompletesTask(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(makeJPEG(t, 1200, 1200))
	}))
	defer srv.Close()

	imageURL := srv.URL + "/cat.jpg"
	task := seedTask(t, taskStore, imageURL)

	payload := queue.ProcessImageFromURLPayload{TaskID: task.ID, ImageURL: imageURL}
	job, err := queue.NewProcessImageFromURLTask(payload)
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := s.handleProcessImageFromURL(ctx, job); err != nil {
		t.Fatalf("handle job: %v", err)
	}

	got, _, _ := taskStore.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected completed, got %q (error=%q)", got.Status, got.ErrorMessage)
	}
	if len(got.Images) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(got.Images))
	}
}

func TestHandleProcessImageFromURLFetchFailureFailsTask(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	task := seedTask(t, taskStore, srv.URL+"/cat.jpg")
	payload := queue.ProcessImageFromURLPayload{TaskID: task.ID, ImageURL: srv.URL + "/cat.jpg"}
	job, err := queue.NewProcessImageFromURLTask(payload)
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := s.handleProcessImageFromURL(ctx, job); err != nil {
		t.Fatalf("expected job to be consumed, got %v", err)
	}

	got, _, _ := taskStore.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "403") {
		t.Fatalf("expected the upstream status in the message, got %q", got.ErrorMessage)
	}
}

func TestHandleProcessImageFromURLDownloadTimeoutFailsTask(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	// Client timeouts from net/http match context.DeadlineExceeded via
	// errors.Is, but a slow image host is a task outcome, not a reason
	// to redeliver the job.
	s.fetcher = pipeline.NewFetcher(50*time.Millisecond, 10<<20, []string{"jpeg", "jpg", "png", "webp"})

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	task := seedTask(t, taskStore, srv.URL+"/slow.jpg")
	payload := queue.ProcessImageFromURLPayload{TaskID: task.ID, ImageURL: srv.URL + "/slow.jpg"}
	job, err := queue.NewProcessImageFromURLTask(payload)
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := s.handleProcessImageFromURL(ctx, job); err != nil {
		t.Fatalf("expected job to be consumed, got %v", err)
	}

	got, _, _ := taskStore.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "download timed out") {
		t.Fatalf("expected a timeout message, got %q", got.ErrorMessage)
	}
	if len(got.Images) != 0 {
		t.Fatalf("failed task must have no variants, got %d", len(got.Images))
	}
}

func TestHandleProcessImagePropagatesStatusWriteErrors(t *testing.T) {
	s, taskStore := newTestServer(t)
	ctx := context.Background()

	task := seedTask(t, taskStore, "/tmp/whatever.jpg")
	s.taskStore = &brokenTaskStore{TaskStore: taskStore}

	err := s.handleProcessImage(ctx, makeProcessImageJob(t, task.ID, "/tmp/whatever.jpg"))
	if err == nil {
		t.Fatal("expected status persistence error to propagate for redelivery")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("status persistence errors must stay retryable")
	}
}

func TestHandleProcessImageMalformedPayloadSkipsRetry(t *testing.T) {
	s, _ := newTestServer(t)

	err := s.handleProcessImage(context.Background(), asynq.NewTask(queue.TypeProcessImage, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}
}

type brokenTaskStore struct {
	store.TaskStore
}

func (s *brokenTaskStore) UpdateStatus(context.Context, string, domain.TaskStatus, []domain.ImageVariant, string) (domain.Task, error) {
	return domain.Task{}, errors.New("database unavailable")
}

func newTestServer(t *testing.T) (*Server, *store.MemoryTaskStore) {
	t.Helper()

	taskStore := store.NewMemoryTaskStore()
	contentStore, err := contentstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("create content store: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	engine, err := pipeline.NewEngine(logger, contentStore, []int{1024, 800}, []string{"jpeg", "jpg", "png", "webp"})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	s := &Server{
		logger:    logger,
		taskStore: taskStore,
		fetcher:   pipeline.NewFetcher(5*time.Second, 10<<20, []string{"jpeg", "jpg", "png", "webp"}),
		engine:    engine,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("imagetask/worker-test"),
	}
	return s, taskStore
}

func seedTask(t *testing.T, taskStore store.TaskStore, originalPath string) domain.Task {
	t.Helper()

	task := domain.NewTask(originalPath)
	if err := taskStore.Create(context.Background(), task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func makeProcessImageJob(t *testing.T, taskID, originalPath string) *asynq.Task {
	t.Helper()

	job, err := queue.NewProcessImageTask(queue.ProcessImagePayload{
		TaskID:       taskID,
		OriginalPath: originalPath,
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	return job
}

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}
