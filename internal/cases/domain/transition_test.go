package domain

import (
	"testing"

	"safereport_backend/platform/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideLegalEdges(t *testing.T) {
	tests := []struct {
		from   Status
		intent Intent
		role   Role
		to     Status
	}{
		{StatusReceived, IntentStartReview, RoleAdmin, StatusUnderReview},
		{StatusReceived, IntentReject, RoleAdmin, StatusRejected},
		{StatusUnderReview, IntentReject, RoleAdmin, StatusRejected},
		{StatusReceived, IntentApprove, RoleAdmin, StatusApproved},
		{StatusUnderReview, IntentApprove, RoleAdmin, StatusApproved},
		{StatusApproved, IntentSchedule, RoleAdmin, StatusScheduled},
		{StatusScheduled, IntentSchedule, RoleAdmin, StatusScheduled},
		{StatusScheduled, IntentDraftNotes, RolePsychologist, StatusInSession},
		{StatusInSession, IntentDraftNotes, RolePsychologist, StatusInSession},
		{StatusScheduled, IntentSubmitNotes, RolePsychologist, StatusAwaitingConfirmation},
		{StatusInSession, IntentSubmitNotes, RolePsychologist, StatusAwaitingConfirmation},
		{StatusAwaitingConfirmation, IntentConfirm, RoleReporter, StatusClosed},
		{StatusAwaitingConfirmation, IntentDispute, RoleReporter, StatusDispute},
		{StatusDispute, IntentRespondToDispute, RolePsychologist, StatusAwaitingConfirmation},
		{StatusAwaitingConfirmation, IntentAutoClose, RoleSystem, StatusClosed},
		{StatusEscalatedToAdmin, IntentResolveEscalation, RoleAdmin, StatusClosed},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.intent), func(t *testing.T) {
			rule, err := Decide(tt.from, tt.intent, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.to, rule.To)
		})
	}
}

func TestDecideRejectsEverythingElse(t *testing.T) {
	roles := []Role{RoleAdmin, RolePsychologist, RoleReporter, RoleSystem}
	legal := 0
	for _, status := range AllStatuses {
		for _, intent := range AllIntents {
			for _, role := range roles {
				rule, err := Decide(status, intent, role)
				if err != nil {
					assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "%s %s %s", status, intent, role)
					continue
				}
				legal++
				assert.Equal(t, intent, rule.Intent)
				assert.Equal(t, role, rule.Role)
			}
		}
	}
	assert.Equal(t, 16, legal)
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	for _, status := range []Status{StatusRejected, StatusClosed} {
		assert.True(t, status.IsTerminal())
		for _, role := range []Role{RoleAdmin, RolePsychologist, RoleReporter, RoleSystem} {
			assert.Empty(t, AvailableIntents(status, role), "%s %s", status, role)
		}
	}
	assert.False(t, StatusEscalatedToAdmin.IsTerminal())
}

func TestScheduleFromRejectedIsInvalid(t *testing.T) {
	_, err := Decide(StatusRejected, IntentSchedule, RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.GetKind(err))
}

func TestWrongRoleIsInvalid(t *testing.T) {
	_, err := Decide(StatusAwaitingConfirmation, IntentConfirm, RoleAdmin)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestUnknownValuesAreInvalid(t *testing.T) {
	_, err := Decide(Status("received"), IntentApprove, RoleAdmin)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	_, err = Decide(StatusReceived, Intent("APPROVE"), RoleAdmin)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	_, err = ParseStatus("closed")
	assert.Error(t, err)
	_, err = ParseIntent("approve")
	assert.NoError(t, err)
}

func TestRespondIsPolicyRouted(t *testing.T) {
	rule, ok := RuleFor(IntentRespondToDispute)
	require.True(t, ok)
	assert.True(t, rule.PolicyRouted)

	role, ok := RoleFor(IntentSubmitNotes)
	require.True(t, ok)
	assert.Equal(t, RolePsychologist, role)
}
