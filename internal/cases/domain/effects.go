package domain

import "time"

// Audience names who a notification is addressed to. Addresses are looked
// up at delivery time so outbox rows carry no contact data.
type Audience string

const (
	AudienceReporter Audience = "reporter"
	AudienceReviewer Audience = "reviewer"
	AudienceAdmins   Audience = "admins"
)

// Notification templates.
const (
	NoticeScheduledReporter = "case_scheduled_reporter"
	NoticeScheduledReviewer = "case_scheduled_reviewer"
	NoticeNotesReady        = "case_notes_ready"
	NoticeDisputed          = "case_disputed"
	NoticeDisputeAnswered   = "case_dispute_answered"
	NoticeEscalated         = "case_escalated"
	NoticeRejected          = "case_rejected"
)

// LedgerTemplate is the outbox template of every ledger record.
const LedgerTemplate = "ledger_record"

// NotifyPayload is the outbox payload of a notify record.
type NotifyPayload struct {
	Audience   Audience   `json:"audience"`
	CaseID     string     `json:"caseId"`
	CaseCode   string     `json:"caseCode"`
	Status     Status     `json:"status"`
	StartsAt   *time.Time `json:"startsAt,omitempty"`
	EndsAt     *time.Time `json:"endsAt,omitempty"`
	Location   string     `json:"location,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Disputes   int        `json:"disputes,omitempty"`
	ReasonNote string     `json:"reasonNote,omitempty"`
}

// LedgerPayload is the outbox payload of a ledger record and the content
// that gets hashed for notarization.
type LedgerPayload struct {
	CaseCode     string    `json:"caseCode"`
	Action       Intent    `json:"action"`
	FromStatus   Status    `json:"fromStatus"`
	ToStatus     Status    `json:"toStatus"`
	ActorRole    Role      `json:"actorRole"`
	AuditEntryID string    `json:"auditEntryId"`
	Seq          int64     `json:"seq"`
	DisputeCount int       `json:"disputeCount"`
	OccurredAt   time.Time `json:"occurredAt"`
}
