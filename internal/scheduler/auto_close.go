package scheduler

import (
	"context"
	"time"

	"safereport_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultAutoCloseInterval = 15 * time.Minute
	autoCloseBatchSize       = 100
)

// DueCaseLister finds cases whose confirmation window has passed.
type DueCaseLister interface {
	ListAutoCloseDue(ctx context.Context, now time.Time, anonymousOnly bool, limit int) ([]uuid.UUID, error)
}

// AutoCloseEnqueuer queues an auto-close attempt for a case.
type AutoCloseEnqueuer interface {
	EnqueueAutoClose(ctx context.Context, caseID uuid.UUID) error
}

// AutoCloseSweeper periodically queues auto_close for expired cases.
// Anonymous cases are always swept since no reporter can confirm them.
// Cases with a known reporter are swept only when allCases is set.
type AutoCloseSweeper struct {
	lister   DueCaseLister
	enqueuer AutoCloseEnqueuer
	log      *logger.Logger
	interval time.Duration
	allCases bool
	now      func() time.Time
}

func NewAutoCloseSweeper(lister DueCaseLister, enqueuer AutoCloseEnqueuer, log *logger.Logger, interval time.Duration, allCases bool) *AutoCloseSweeper {
	if interval <= 0 {
		interval = defaultAutoCloseInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	return &AutoCloseSweeper{
		lister:   lister,
		enqueuer: enqueuer,
		log:      log,
		interval: interval,
		allCases: allCases,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AutoCloseSweeper) Run(ctx context.Context) {
	if s == nil || s.lister == nil || s.enqueuer == nil {
		return
	}

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep queues one batch and returns how many cases were queued.
func (s *AutoCloseSweeper) Sweep(ctx context.Context) int {
	due, err := s.lister.ListAutoCloseDue(ctx, s.now(), !s.allCases, autoCloseBatchSize)
	if err != nil {
		s.log.Warn("auto-close listing failed", "error", err)
		return 0
	}

	queued := 0
	for _, id := range due {
		if err := s.enqueuer.EnqueueAutoClose(ctx, id); err != nil {
			s.log.Warn("auto-close enqueue failed", "case_id", id, "error", err)
			continue
		}
		queued++
	}

	if queued > 0 {
		s.log.Info("auto-close queued expired cases", "count", queued)
	}
	return queued
}
