package domain

import (
	"fmt"

	"safereport_backend/platform/apperr"
)

// Rule is one legal edge of the lifecycle graph.
type Rule struct {
	Intent Intent
	From   []Status
	Role   Role
	To     Status
	// PolicyRouted marks edges whose final target is chosen by the dispute
	// policy; To is then the target when no escalation happens.
	PolicyRouted bool
}

var rules = []Rule{
	{Intent: IntentStartReview, From: []Status{StatusReceived}, Role: RoleAdmin, To: StatusUnderReview},
	{Intent: IntentReject, From: []Status{StatusReceived, StatusUnderReview}, Role: RoleAdmin, To: StatusRejected},
	{Intent: IntentApprove, From: []Status{StatusReceived, StatusUnderReview}, Role: RoleAdmin, To: StatusApproved},
	{Intent: IntentSchedule, From: []Status{StatusApproved, StatusScheduled}, Role: RoleAdmin, To: StatusScheduled},
	{Intent: IntentDraftNotes, From: []Status{StatusScheduled, StatusInSession}, Role: RolePsychologist, To: StatusInSession},
	{Intent: IntentSubmitNotes, From: []Status{StatusScheduled, StatusInSession}, Role: RolePsychologist, To: StatusAwaitingConfirmation},
	{Intent: IntentConfirm, From: []Status{StatusAwaitingConfirmation}, Role: RoleReporter, To: StatusClosed},
	{Intent: IntentDispute, From: []Status{StatusAwaitingConfirmation}, Role: RoleReporter, To: StatusDispute},
	{Intent: IntentRespondToDispute, From: []Status{StatusDispute}, Role: RolePsychologist, To: StatusAwaitingConfirmation, PolicyRouted: true},
	{Intent: IntentAutoClose, From: []Status{StatusAwaitingConfirmation}, Role: RoleSystem, To: StatusClosed},
	{Intent: IntentResolveEscalation, From: []Status{StatusEscalatedToAdmin}, Role: RoleAdmin, To: StatusClosed},
}

// Rules returns a copy of the transition table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// RuleFor returns the table entry for intent.
func RuleFor(intent Intent) (Rule, bool) {
	for _, r := range rules {
		if r.Intent == intent {
			return r, true
		}
	}
	return Rule{}, false
}

// RoleFor returns the role allowed to issue intent.
func RoleFor(intent Intent) (Role, bool) {
	r, ok := RuleFor(intent)
	return r.Role, ok
}

// Decide checks whether role may issue intent while the case is in current.
// It returns the matching rule or an InvalidTransition error and never
// inspects anything beyond its arguments.
func Decide(current Status, intent Intent, role Role) (Rule, error) {
	if !current.Valid() {
		return Rule{}, apperr.InvalidTransition(fmt.Sprintf("unknown status %q", current))
	}
	r, ok := RuleFor(intent)
	if !ok {
		return Rule{}, apperr.InvalidTransition(fmt.Sprintf("unknown intent %q", intent))
	}
	if r.Role != role {
		return Rule{}, apperr.InvalidTransition(fmt.Sprintf("%s cannot %s", role, intent)).
			WithDetails(map[string]string{"status": string(current), "intent": string(intent), "role": string(role)})
	}
	for _, from := range r.From {
		if from == current {
			return r, nil
		}
	}
	return Rule{}, apperr.InvalidTransition(fmt.Sprintf("cannot %s a case in %s", intent, current)).
		WithDetails(map[string]string{"status": string(current), "intent": string(intent), "role": string(role)})
}

// AvailableIntents lists what role may do from current, in table order.
func AvailableIntents(current Status, role Role) []Intent {
	var out []Intent
	for _, r := range rules {
		if r.Role != role {
			continue
		}
		for _, from := range r.From {
			if from == current {
				out = append(out, r.Intent)
				break
			}
		}
	}
	return out
}
