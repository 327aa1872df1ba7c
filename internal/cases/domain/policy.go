package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultDisputeLimit is the dispute count at which a response escalates.
	DefaultDisputeLimit = 3
	// DefaultConfirmationWindow is how long a reporter has to confirm or dispute.
	DefaultConfirmationWindow = 14 * 24 * time.Hour
)

// Policy holds the dispute and deadline rules.
type Policy struct {
	DisputeLimit       int
	ConfirmationWindow time.Duration
}

// DefaultPolicy returns the 3-dispute, 14-day policy.
func DefaultPolicy() Policy {
	return Policy{DisputeLimit: DefaultDisputeLimit, ConfirmationWindow: DefaultConfirmationWindow}
}

func (p Policy) limit() int {
	if p.DisputeLimit < 1 {
		return DefaultDisputeLimit
	}
	return p.DisputeLimit
}

func (p Policy) window() time.Duration {
	if p.ConfirmationWindow <= 0 {
		return DefaultConfirmationWindow
	}
	return p.ConfirmationWindow
}

// Evaluate routes a note submission or dispute response.
// disputeCount is the count stored on the case when the response is
// processed, which already includes the dispute being answered.
func (p Policy) Evaluate(disputeCount int, prior Status) (next Status, setDeadline bool) {
	if prior == StatusDispute && disputeCount >= p.limit() {
		return StatusEscalatedToAdmin, false
	}
	return StatusAwaitingConfirmation, true
}

// Deadline is the autoCloseAt value for a case entering AwaitingConfirmation at now.
func (p Policy) Deadline(now time.Time) time.Time {
	return now.Add(p.window())
}

// EscalationReason is the audit note written when a response escalates.
func (p Policy) EscalationReason(disputeCount int) string {
	return fmt.Sprintf("dispute limit reached (%d of %d); escalated for admin mediation", disputeCount, p.limit())
}
