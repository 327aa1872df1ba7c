package repository

import (
	"context"
	"time"

	"safereport_backend/internal/cases/domain"

	"github.com/google/uuid"
)

// Store persists cases and their dependent records.
type Store interface {
	// CreateCase inserts a new case. A duplicate public code is a Conflict.
	CreateCase(ctx context.Context, c domain.Case) error
	// WithCaseLock runs fn inside one transaction while holding the
	// exclusive lock on the case row. fn receives the case as read under
	// the lock. If fn returns an error nothing fn wrote is kept. Waiting
	// longer than timeout for the lock fails with a Busy error.
	WithCaseLock(ctx context.Context, caseID uuid.UUID, timeout time.Duration, fn func(ctx context.Context, tx Tx, c domain.Case) error) error

	GetCase(ctx context.Context, caseID uuid.UUID) (domain.Case, error)
	GetSnapshot(ctx context.Context, caseID uuid.UUID) (domain.Snapshot, error)
	ListAuditTrail(ctx context.Context, caseID uuid.UUID) ([]domain.AuditEntry, error)
	// ListAutoCloseDue returns cases still awaiting confirmation whose
	// deadline is at or before now, oldest deadline first. With
	// anonymousOnly set, cases that have a reporter id are left out.
	ListAutoCloseDue(ctx context.Context, now time.Time, anonymousOnly bool, limit int) ([]uuid.UUID, error)
	// CaseContacts returns the decrypted addresses used for notifications.
	CaseContacts(ctx context.Context, caseID uuid.UUID) (domain.Contacts, error)
}

// Tx is the write surface available while a case is locked.
type Tx interface {
	UpdateCase(ctx context.Context, c domain.Case) error

	ActiveSchedule(ctx context.Context) (*domain.ScheduleEntry, error)
	InsertSchedule(ctx context.Context, e domain.ScheduleEntry) error
	SetScheduleStatus(ctx context.Context, id uuid.UUID, status domain.ScheduleStatus) error

	LiveNote(ctx context.Context) (*domain.ConsultationNote, error)
	InsertNote(ctx context.Context, n domain.ConsultationNote) error
	UpdateNote(ctx context.Context, n domain.ConsultationNote) error

	LatestFeedback(ctx context.Context) (*domain.Feedback, error)
	InsertFeedback(ctx context.Context, f domain.Feedback) error
	// RecordResponse sets the psychologist response once; a second write is a Conflict.
	RecordResponse(ctx context.Context, feedbackID uuid.UUID, response string, at time.Time) error

	// AppendAudit assigns the next per-case sequence number and stores e.
	AppendAudit(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error)
	AppendOutbox(ctx context.Context, records []domain.OutboxRecord) error
}

// OutboxStore tracks delivery of side effects after commit.
type OutboxStore interface {
	// MarkProcessing claims a pending record for delivery. It returns false
	// when another worker already claimed it.
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	// MarkPending releases a claimed record so it can be claimed again.
	MarkPending(ctx context.Context, id uuid.UUID, lastError string) error
	GetOutbox(ctx context.Context, id uuid.UUID) (domain.OutboxRecord, error)
	// ClaimStale claims up to limit records left pending for longer than
	// olderThan and returns them in processing state.
	ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]domain.OutboxRecord, error)
}
