package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name         string
		count        int
		prior        Status
		wantStatus   Status
		wantDeadline bool
	}{
		{"first submission from session", 0, StatusInSession, StatusAwaitingConfirmation, true},
		{"submission straight from scheduled", 0, StatusScheduled, StatusAwaitingConfirmation, true},
		{"first dispute answered", 1, StatusDispute, StatusAwaitingConfirmation, true},
		{"second dispute answered", 2, StatusDispute, StatusAwaitingConfirmation, true},
		{"third dispute escalates", 3, StatusDispute, StatusEscalatedToAdmin, false},
		{"beyond limit escalates", 7, StatusDispute, StatusEscalatedToAdmin, false},
		{"count ignored outside dispute", 5, StatusInSession, StatusAwaitingConfirmation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, deadline := p.Evaluate(tt.count, tt.prior)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantDeadline, deadline)
		})
	}
}

func TestEscalatesIffCountAtLimit(t *testing.T) {
	p := Policy{DisputeLimit: 3}
	for n := 0; n <= 10; n++ {
		status, _ := p.Evaluate(n, StatusDispute)
		assert.Equal(t, n >= 3, status == StatusEscalatedToAdmin, "count %d", n)
	}
}

func TestDeadline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(14*24*time.Hour), DefaultPolicy().Deadline(now))
	assert.Equal(t, now.Add(time.Hour), Policy{ConfirmationWindow: time.Hour}.Deadline(now))
	assert.Equal(t, now.Add(14*24*time.Hour), Policy{}.Deadline(now))
}

func TestCustomLimit(t *testing.T) {
	p := Policy{DisputeLimit: 1}
	status, _ := p.Evaluate(1, StatusDispute)
	assert.Equal(t, StatusEscalatedToAdmin, status)
	assert.Contains(t, p.EscalationReason(1), "1 of 1")
}
