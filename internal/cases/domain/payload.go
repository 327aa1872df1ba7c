package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payload carries the intent-specific input of a transition. Only the
// member matching the intent is read.
type Payload struct {
	Reject   *RejectInput   `json:"reject,omitempty"`
	Schedule *ScheduleInput `json:"schedule,omitempty"`
	Notes    *NotesInput    `json:"notes,omitempty"`
	Confirm  *ConfirmInput  `json:"confirm,omitempty"`
	Dispute  *DisputeInput  `json:"dispute,omitempty"`
	Response *ResponseInput `json:"response,omitempty"`
	Resolve  *ResolveInput  `json:"resolve,omitempty"`
}

// RejectInput is read by reject.
type RejectInput struct {
	Reason string `json:"reason" validate:"required,notblank,max=2000"`
}

// ScheduleInput is read by schedule.
type ScheduleInput struct {
	ReviewerID    uuid.UUID `json:"reviewerId" validate:"required"`
	ReviewerEmail string    `json:"reviewerEmail" validate:"omitempty,email,max=320"`
	StartsAt      time.Time `json:"startsAt" validate:"required"`
	EndsAt        time.Time `json:"endsAt" validate:"required,gtfield=StartsAt"`
	Location      string    `json:"location" validate:"max=500"`
}

// NotesInput is read by draft_notes and submit_notes, and optionally by
// respond_to_dispute when the response revises the note.
type NotesInput struct {
	Summary        string    `json:"summary" validate:"max=4000"`
	Detail         string    `json:"detail" validate:"max=20000"`
	Recommendation string    `json:"recommendation" validate:"max=4000"`
	RiskLevel      RiskLevel `json:"riskLevel" validate:"required,oneof=low medium high critical"`
}

// Fields converts the input into a diffable snapshot.
func (n NotesInput) Fields() NoteFields {
	return NoteFields{Summary: n.Summary, Detail: n.Detail, Recommendation: n.Recommendation, RiskLevel: n.RiskLevel}
}

// ConfirmInput is read by confirm.
type ConfirmInput struct {
	Comment string `json:"comment" validate:"max=2000"`
}

// DisputeInput is read by dispute.
type DisputeInput struct {
	Detail  string `json:"detail" validate:"required,notblank,max=4000"`
	Comment string `json:"comment" validate:"max=2000"`
}

// ResponseInput is read by respond_to_dispute.
type ResponseInput struct {
	Response string      `json:"response" validate:"required,notblank,max=4000"`
	Notes    *NotesInput `json:"notes,omitempty"`
}

// ResolveInput is read by resolve_escalation.
type ResolveInput struct {
	Note string `json:"note" validate:"required,notblank,max=4000"`
}

// Intake is a new report.
type Intake struct {
	ReporterID   *uuid.UUID `json:"-"`
	Category     string     `json:"category" validate:"required,notblank,max=100"`
	Description  string     `json:"description" validate:"required,notblank,max=20000"`
	ContactEmail string     `json:"contactEmail" validate:"omitempty,email,max=320"`
	ContactPhone string     `json:"contactPhone" validate:"omitempty,max=32"`
}
