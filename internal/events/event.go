// Package events defines the events the case engine publishes after commit.
// Dispatch lives in platform/events.
package events

import (
	"safereport_backend/internal/cases/domain"
	"safereport_backend/platform/events"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Publisher   = events.Publisher
	Subscriber  = events.Subscriber
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Case Domain Events
// =============================================================================

const (
	CaseCreatedName             = "cases.case.created"
	CaseTransitionCommittedName = "cases.transition.committed"
)

// CaseCreated is published after intake stored a new case.
type CaseCreated struct {
	BaseEvent
	CaseID   uuid.UUID `json:"caseId"`
	CaseCode string    `json:"caseCode"`
	Category string    `json:"category"`
}

func (e CaseCreated) EventName() string { return CaseCreatedName }

// CaseTransitionCommitted is published once the transaction holding the
// audit entry and its outbox records has committed.
type CaseTransitionCommitted struct {
	BaseEvent
	Entry    domain.AuditEntry     `json:"entry"`
	CaseCode string                `json:"caseCode"`
	Outbox   []domain.OutboxRecord `json:"outbox"`
}

func (e CaseTransitionCommitted) EventName() string { return CaseTransitionCommittedName }
