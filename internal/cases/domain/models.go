package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RiskLevel grades a consultation note.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// NoteStatus tracks a note through review.
type NoteStatus string

const (
	NoteDraft     NoteStatus = "draft"
	NoteSubmitted NoteStatus = "submitted"
	NoteConfirmed NoteStatus = "confirmed"
	NoteDisputed  NoteStatus = "disputed"
)

// FeedbackKind distinguishes the two reporter answers.
type FeedbackKind string

const (
	FeedbackConfirm FeedbackKind = "confirm"
	FeedbackDispute FeedbackKind = "dispute"
)

// ScheduleStatus tracks a consultation slot.
type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Case is the aggregate root.
type Case struct {
	ID                 uuid.UUID
	Code               string
	Status             Status
	DisputeCount       int
	AutoCloseAt        *time.Time
	AssignedReviewerID *uuid.UUID
	RejectionReason    *string
	ReporterID         *uuid.UUID
	Category           string
	Description        string
	ContactEmail       string
	ContactPhone       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ScheduleEntry is one consultation slot.
type ScheduleEntry struct {
	ID            uuid.UUID
	CaseID        uuid.UUID
	ReviewerID    uuid.UUID
	ReviewerEmail string
	StartsAt      time.Time
	EndsAt        time.Time
	Location      string
	Status        ScheduleStatus
	CreatedBy     *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConsultationNote is the live note of a case.
type ConsultationNote struct {
	ID             uuid.UUID
	CaseID         uuid.UUID
	AuthorID       uuid.UUID
	Summary        string
	Detail         string
	Recommendation string
	RiskLevel      RiskLevel
	Status         NoteStatus
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Fields returns the diffable snapshot.
func (n ConsultationNote) Fields() NoteFields {
	return NoteFields{Summary: n.Summary, Detail: n.Detail, Recommendation: n.Recommendation, RiskLevel: n.RiskLevel}
}

// WithFields copies f into the note.
func (n ConsultationNote) WithFields(f NoteFields) ConsultationNote {
	n.Summary = f.Summary
	n.Detail = f.Detail
	n.Recommendation = f.Recommendation
	n.RiskLevel = f.RiskLevel
	return n
}

// Feedback is a reporter answer to a submitted note.
type Feedback struct {
	ID                   uuid.UUID
	CaseID               uuid.UUID
	NoteID               uuid.UUID
	Kind                 FeedbackKind
	Comment              string
	DisputeDetail        string
	PsychologistResponse *string
	RespondedAt          *time.Time
	CreatedAt            time.Time
}

// AuditEntry is one accepted intent. Entries are never changed after insert.
type AuditEntry struct {
	ID         uuid.UUID
	CaseID     uuid.UUID
	Seq        int64
	Intent     Intent
	FromStatus Status
	ToStatus   Status
	ActorRole  Role
	ActorID    *uuid.UUID
	Note       string
	// Diff is nil when the intent did not touch a note and an empty slice
	// when it did but nothing changed.
	Diff      []FieldChange
	CreatedAt time.Time
}

// SideEffectKind selects the delivery channel of an outbox record.
type SideEffectKind string

const (
	SideEffectNotify SideEffectKind = "notify"
	SideEffectLedger SideEffectKind = "ledger"
)

// OutboxStatus tracks delivery of an outbox record.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSucceeded  OutboxStatus = "succeeded"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxRecord is a side effect written in the same transaction as its audit entry.
type OutboxRecord struct {
	ID           uuid.UUID
	CaseID       uuid.UUID
	AuditEntryID uuid.UUID
	Kind         SideEffectKind
	Template     string
	Payload      json.RawMessage
	Status       OutboxStatus
	Attempts     int
	LastError    *string
	RunAt        time.Time
	CreatedAt    time.Time
}

// Snapshot is the composite read model of one case.
type Snapshot struct {
	Case     Case
	Note     *ConsultationNote
	Feedback *Feedback
	Schedule *ScheduleEntry
}

// Contacts are the addresses notifications for a case go to.
type Contacts struct {
	CaseCode      string
	ReporterEmail string
	ReviewerEmail string
}
