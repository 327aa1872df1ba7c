package scheduler

import (
	"context"
	"fmt"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/platform/config"
	"safereport_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// OutboxDeliverer performs a claimed outbox record and records the outcome.
type OutboxDeliverer interface {
	Deliver(ctx context.Context, rec domain.OutboxRecord)
}

// CaseCloser applies auto_close to one case.
type CaseCloser interface {
	CloseExpired(ctx context.Context, caseID uuid.UUID) (bool, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	outbox    repository.OutboxStore
	deliverer OutboxDeliverer
	closer    CaseCloser
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, outbox repository.OutboxStore, deliverer OutboxDeliverer, closer CaseCloser, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(outbox, deliverer, closer, log)
	w.server = server
	return w, nil
}

func newWorker(outbox repository.OutboxStore, deliverer OutboxDeliverer, closer CaseCloser, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Discard()
	}
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:       mux,
		outbox:    outbox,
		deliverer: deliverer,
		closer:    closer,
		log:       log,
	}

	mux.HandleFunc(TaskOutboxDeliver, w.handleOutboxDeliver)
	mux.HandleFunc(TaskCaseAutoClose, w.handleCaseAutoClose)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleOutboxDeliver never asks asynq to retry: the outcome is written to
// the outbox row.
func (w *Worker) handleOutboxDeliver(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutboxDeliverPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	rec, err := w.outbox.GetOutbox(ctx, outboxID)
	if err != nil {
		w.log.Warn("outbox record lookup failed", "outbox_id", outboxID, "error", err)
		return nil
	}
	if rec.Status != domain.OutboxProcessing {
		return nil
	}

	w.deliverer.Deliver(ctx, rec)
	return nil
}

func (w *Worker) handleCaseAutoClose(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCaseAutoClosePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	caseID, err := uuid.Parse(payload.CaseID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	closed, err := w.closer.CloseExpired(ctx, caseID)
	if err != nil {
		return err
	}
	if closed {
		w.log.Info("case auto-closed", "case_id", caseID)
	}
	return nil
}
