package scheduler

import (
	"context"
	"time"

	"safereport_backend/internal/cases/repository"
	"safereport_backend/platform/logger"
	"safereport_backend/platform/metrics"

	"github.com/google/uuid"
)

const (
	defaultRelayInterval   = 30 * time.Second
	defaultRedeliveryAfter = 2 * time.Minute
	relayBatchSize         = 50
)

// OutboxEnqueuer hands a claimed outbox record to the worker.
type OutboxEnqueuer interface {
	EnqueueOutboxDelivery(ctx context.Context, outboxID uuid.UUID) error
}

// OutboxRelay re-drives outbox records that were committed but never
// dispatched, for example because the API process stopped right after commit.
type OutboxRelay struct {
	repo            repository.OutboxStore
	enqueuer        OutboxEnqueuer
	log             *logger.Logger
	metrics         *metrics.Metrics
	interval        time.Duration
	redeliveryAfter time.Duration
}

func NewOutboxRelay(repo repository.OutboxStore, enqueuer OutboxEnqueuer, log *logger.Logger, interval, redeliveryAfter time.Duration) *OutboxRelay {
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	if redeliveryAfter <= 0 {
		redeliveryAfter = defaultRedeliveryAfter
	}
	if log == nil {
		log = logger.Discard()
	}
	return &OutboxRelay{
		repo:            repo,
		enqueuer:        enqueuer,
		log:             log,
		interval:        interval,
		redeliveryAfter: redeliveryAfter,
	}
}

// SetMetrics attaches Prometheus instruments.
func (r *OutboxRelay) SetMetrics(m *metrics.Metrics) { r.metrics = m }

func (r *OutboxRelay) Run(ctx context.Context) {
	if r == nil || r.repo == nil || r.enqueuer == nil {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.RelayOnce(ctx)
	}
}

// RelayOnce claims one batch of stale records and enqueues them. It returns
// how many were enqueued.
func (r *OutboxRelay) RelayOnce(ctx context.Context) int {
	records, err := r.repo.ClaimStale(ctx, r.redeliveryAfter, relayBatchSize)
	if err != nil {
		r.log.Warn("outbox claim failed", "error", err)
		return 0
	}

	enqueued := 0
	for _, rec := range records {
		if err := r.enqueuer.EnqueueOutboxDelivery(ctx, rec.ID); err != nil {
			r.log.Warn("outbox enqueue failed", "outbox_id", rec.ID, "error", err)
			if markErr := r.repo.MarkPending(ctx, rec.ID, err.Error()); markErr != nil {
				r.log.Error("outbox release failed", "outbox_id", rec.ID, "error", markErr)
			}
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		r.metrics.AddOutboxRedispatched(enqueued)
		r.log.Info("outbox records redispatched", "count", enqueued)
	}
	return enqueued
}
