package email

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEveryTemplate(t *testing.T) {
	start := time.Date(2026, 4, 7, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	deadline := start.Add(14 * 24 * time.Hour)

	for name := range subjects {
		t.Run(name, func(t *testing.T) {
			subject, body, err := Render(name, Notice{
				CaseCode: "SR-ABCD-EFGH",
				CaseURL:  "https://app.example.org/cases/1",
				StartsAt: &start,
				EndsAt:   &end,
				Location: "Room 4",
				Deadline: &deadline,
				Disputes: 2,
				Reason:   "Outside our remit",
			})
			require.NoError(t, err)
			assert.Contains(t, subject, "SR-ABCD-EFGH")
			assert.Contains(t, body, "SR-ABCD-EFGH")
			assert.Contains(t, body, "https://app.example.org/cases/1")
			assert.True(t, strings.HasPrefix(body, "<!DOCTYPE html>"))
		})
	}
}

func TestRenderEscapesInput(t *testing.T) {
	_, body, err := Render(TemplateRejected, Notice{CaseCode: "SR-ABCD-EFGH", Reason: "<script>alert(1)</script>"})
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestRenderSchedule(t *testing.T) {
	start := time.Date(2026, 4, 7, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	_, body, err := Render(TemplateScheduledReporter, Notice{CaseCode: "SR-ABCD-EFGH", StartsAt: &start, EndsAt: &end})
	require.NoError(t, err)
	assert.Contains(t, body, "Tuesday 7 April 2026, 10:00 to 11:30 UTC")
	assert.NotContains(t, body, "Where:")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := Render("nope", Notice{})
	assert.Error(t, err)
}

type disabledConfig struct{ enabled bool }

func (c disabledConfig) GetEmailEnabled() bool       { return c.enabled }
func (c disabledConfig) GetSMTPHost() string         { return "" }
func (c disabledConfig) GetSMTPPort() int            { return 587 }
func (c disabledConfig) GetSMTPUsername() string     { return "" }
func (c disabledConfig) GetSMTPPassword() string     { return "" }
func (c disabledConfig) GetEmailFromName() string    { return "SafeReport" }
func (c disabledConfig) GetEmailFromAddress() string { return "noreply@example.org" }

func TestNewSender(t *testing.T) {
	s, err := NewSender(disabledConfig{})
	require.NoError(t, err)
	assert.IsType(t, NoopSender{}, s)
	assert.NoError(t, s.Send(context.Background(), "a@example.org", "s", "b"))

	_, err = NewSender(disabledConfig{enabled: true})
	assert.Error(t, err, "enabled without host")
}
