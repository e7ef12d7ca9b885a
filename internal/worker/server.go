package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jlmorenorodriguez/imagetask-api/internal/config"
	"github.com/jlmorenorodriguez/imagetask-api/internal/contentstore"
	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
	"github.com/jlmorenorodriguez/imagetask-api/internal/pipeline"
	"github.com/jlmorenorodriguez/imagetask-api/internal/queue"
	"github.com/jlmorenorodriguez/imagetask-api/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server consumes queued jobs and drives the task state machine:
// pending -> processing -> completed|failed. Pipeline failures are
// absorbed into a failed task; errors while persisting the task's own
// status are returned to asynq so its redelivery policy applies.
type Server struct {
	logger    *log.Logger
	server    *asynq.Server
	taskStore store.TaskStore
	fetcher   *pipeline.Fetcher
	engine    *pipeline.Engine
	metrics   *metrics
	tracer    trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	pipelineCfg config.PipelineConfig,
	taskStore store.TaskStore,
	contentStore contentstore.Store,
) (*Server, error) {
	if taskStore == nil {
		return nil, fmt.Errorf("task store is required")
	}

	engine, err := pipeline.NewEngine(logger, contentStore, pipelineCfg.TargetWidths, pipelineCfg.SupportedFormats)
	if err != nil {
		return nil, fmt.Errorf("initialize variant engine: %w", err)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		taskStore: taskStore,
		fetcher:   pipeline.NewFetcher(pipeline.DefaultFetchTimeout, pipelineCfg.MaxDownloadBytes, pipelineCfg.SupportedFormats),
		engine:    engine,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("imagetask/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	mux.HandleFunc(queue.TypeProcessImageFromURL, s.handleProcessImageFromURL)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("task.id", payload.TaskID),
		attribute.String("task.original_path", payload.OriginalPath),
	)
	defer span.End()

	return s.process(ctx, span, queue.TypeProcessImage, payload.TaskID, func(ctx context.Context) ([]byte, error) {
		return s.readLocalFile(payload.OriginalPath)
	})
}

func (s *Server) handleProcessImageFromURL(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseProcessImageFromURLPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image_from_url", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("task.id", payload.TaskID),
		attribute.String("task.image_url", payload.ImageURL),
	)
	defer span.End()

	return s.process(ctx, span, queue.TypeProcessImageFromURL, payload.TaskID, func(ctx context.Context) ([]byte, error) {
		res, err := s.fetcher.Fetch(ctx, payload.ImageURL)
		if err != nil {
			return nil, err
		}
		s.metrics.bytesDownloadedTotal.Add(float64(len(res.Data)))
		return res.Data, nil
	})
}

// process runs one job start to finish. obtain yields the source bytes
// (local read or remote fetch) and reports problems as pipeline failures.
func (s *Server) process(ctx context.Context, span trace.Span, jobType, taskID string, obtain func(context.Context) ([]byte, error)) error {
	startedAt := time.Now()
	outcome := string(domain.TaskStatusFailed)
	defer func() {
		s.metrics.jobDuration.WithLabelValues(jobType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(jobType, outcome).Inc()
	}()

	s.metrics.activeJobs.Inc()
	defer s.metrics.activeJobs.Dec()

	s.logger.Printf("Working... task_id=%s job_type=%s", taskID, jobType)

	if _, err := s.taskStore.UpdateStatus(ctx, taskID, domain.TaskStatusProcessing, nil, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		return fmt.Errorf("mark task %s processing: %w", taskID, err)
	}

	data, err := obtain(ctx)
	if err != nil {
		return s.failTask(ctx, span, taskID, err)
	}

	result, err := s.engine.Process(ctx, taskID, data)
	if err != nil {
		return s.failTask(ctx, span, taskID, err)
	}

	if _, err := s.taskStore.UpdateStatus(ctx, taskID, domain.TaskStatusCompleted, result.Variants, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		return fmt.Errorf("mark task %s completed: %w", taskID, err)
	}

	s.logger.Printf("Processed task_id=%s variants=%d skipped=%d", taskID, len(result.Variants), len(result.Skipped))
	s.metrics.variantsProducedTotal.Add(float64(len(result.Variants)))
	s.metrics.variantsSkippedTotal.Add(float64(len(result.Skipped)))

	outcome = string(domain.TaskStatusCompleted)
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// failTask converts a pipeline failure into a failed task with a
// client-safe message and consumes the job. Bare context cancellation
// and errors from the status write itself still propagate so the queue
// can redeliver.
func (s *Server) failTask(ctx context.Context, span trace.Span, taskID string, pipeErr error) error {
	// A tagged pipeline failure is always a terminal task outcome, even
	// when its wrapped cause matches context.DeadlineExceeded (net/http
	// client timeouts do). Only an untagged context error means the job
	// itself was cut short and should be redelivered.
	if _, ok := pipeline.AsFailure(pipeErr); !ok {
		if errors.Is(pipeErr, context.Canceled) || errors.Is(pipeErr, context.DeadlineExceeded) {
			return pipeErr
		}
	}

	message := clientMessage(pipeErr)
	s.logger.Printf("task failed task_id=%s msg=%q err=%v", taskID, message, pipeErr)
	span.RecordError(pipeErr)
	span.SetStatus(codes.Error, "pipeline failed")

	if _, err := s.taskStore.UpdateStatus(ctx, taskID, domain.TaskStatusFailed, nil, message); err != nil {
		return fmt.Errorf("mark task %s failed: %w", taskID, err)
	}
	return nil
}

// clientMessage keeps internal error text out of the task record: only
// the pipeline's curated failure messages reach the caller.
func clientMessage(err error) string {
	if failure, ok := pipeline.AsFailure(err); ok {
		return failure.Message
	}
	return "unexpected error while processing the image"
}

func (s *Server) readLocalFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, pipeline.Failuref(pipeline.FailureNotFound, "file not found: %s", path)
		}
		return nil, &pipeline.Failure{
			Kind:    pipeline.FailureUnexpected,
			Message: fmt.Sprintf("could not read file: %s", path),
			Err:     err,
		}
	}
	return data, nil
}
