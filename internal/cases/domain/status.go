// Package domain holds the case lifecycle model: statuses, intents, the
// transition table, the dispute policy and note diffs. Nothing here touches
// storage or transport.
package domain

import "fmt"

// Status is the lifecycle position of a case.
type Status string

const (
	StatusReceived             Status = "Received"
	StatusUnderReview          Status = "UnderReview"
	StatusRejected             Status = "Rejected"
	StatusApproved             Status = "Approved"
	StatusScheduled            Status = "Scheduled"
	StatusInSession            Status = "InSession"
	StatusAwaitingConfirmation Status = "AwaitingConfirmation"
	StatusDispute              Status = "Dispute"
	StatusEscalatedToAdmin     Status = "EscalatedToAdmin"
	StatusClosed               Status = "Closed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusReceived,
	StatusUnderReview,
	StatusRejected,
	StatusApproved,
	StatusScheduled,
	StatusInSession,
	StatusAwaitingConfirmation,
	StatusDispute,
	StatusEscalatedToAdmin,
	StatusClosed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusUnderReview, StatusRejected, StatusApproved, StatusScheduled,
		StatusInSession, StatusAwaitingConfirmation, StatusDispute, StatusEscalatedToAdmin, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether no intent can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusClosed
}

// HoldsDeadline reports whether a case in s may carry an autoCloseAt value.
func (s Status) HoldsDeadline() bool {
	return s == StatusAwaitingConfirmation || s == StatusDispute
}

// ParseStatus matches the exact wire value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown case status %q", raw)
	}
	return s, nil
}
