package domain

import "fmt"

// Intent is a requested lifecycle action.
type Intent string

const (
	IntentStartReview       Intent = "start_review"
	IntentReject            Intent = "reject"
	IntentApprove           Intent = "approve"
	IntentSchedule          Intent = "schedule"
	IntentDraftNotes        Intent = "draft_notes"
	IntentSubmitNotes       Intent = "submit_notes"
	IntentConfirm           Intent = "confirm"
	IntentDispute           Intent = "dispute"
	IntentRespondToDispute  Intent = "respond_to_dispute"
	IntentAutoClose         Intent = "auto_close"
	IntentResolveEscalation Intent = "resolve_escalation"
)

// AllIntents lists every intent the engine accepts.
var AllIntents = []Intent{
	IntentStartReview,
	IntentReject,
	IntentApprove,
	IntentSchedule,
	IntentDraftNotes,
	IntentSubmitNotes,
	IntentConfirm,
	IntentDispute,
	IntentRespondToDispute,
	IntentAutoClose,
	IntentResolveEscalation,
}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	for _, known := range AllIntents {
		if i == known {
			return true
		}
	}
	return false
}

// ParseIntent matches the exact wire value.
func ParseIntent(raw string) (Intent, error) {
	i := Intent(raw)
	if !i.Valid() {
		return "", fmt.Errorf("unknown intent %q", raw)
	}
	return i, nil
}
