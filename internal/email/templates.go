package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// Notification template names. They match the outbox template of a notify record.
const (
	TemplateScheduledReporter = "case_scheduled_reporter"
	TemplateScheduledReviewer = "case_scheduled_reviewer"
	TemplateNotesReady        = "case_notes_ready"
	TemplateDisputed          = "case_disputed"
	TemplateDisputeAnswered   = "case_dispute_answered"
	TemplateEscalated         = "case_escalated"
	TemplateRejected          = "case_rejected"
)

var subjects = map[string]string{
	TemplateScheduledReporter: subjectScheduledReporterFmt,
	TemplateScheduledReviewer: subjectScheduledReviewerFmt,
	TemplateNotesReady:        subjectNotesReadyFmt,
	TemplateDisputed:          subjectDisputedFmt,
	TemplateDisputeAnswered:   subjectDisputeAnsweredFmt,
	TemplateEscalated:         subjectEscalatedFmt,
	TemplateRejected:          subjectRejectedFmt,
}

type baseEmailData struct {
	Title    string
	Heading  string
	CTALabel string
	CTAURL   string
}

// Notice is the data every case notification renders from.
type Notice struct {
	CaseCode string
	CaseURL  string
	StartsAt *time.Time
	EndsAt   *time.Time
	Location string
	Deadline *time.Time
	Disputes int
	Reason   string
}

type noticeEmailData struct {
	baseEmailData
	CaseCode string
	Slot     string
	Location string
	Deadline string
	Disputes int
	Reason   string
}

var headings = map[string]string{
	TemplateScheduledReporter: "Your consultation is scheduled",
	TemplateScheduledReviewer: "A consultation was assigned to you",
	TemplateNotesReady:        "Consultation notes ready for review",
	TemplateDisputed:          "Consultation notes disputed",
	TemplateDisputeAnswered:   "Your dispute has been answered",
	TemplateEscalated:         "Case escalated for mediation",
	TemplateRejected:          "Update on your report",
}

// Render returns the subject and HTML body of a notification.
func Render(name string, n Notice) (string, string, error) {
	subjectFmt, ok := subjects[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}

	data := noticeEmailData{
		baseEmailData: baseEmailData{
			Title:   headings[name],
			Heading: headings[name],
		},
		CaseCode: n.CaseCode,
		Slot:     formatSlot(n.StartsAt, n.EndsAt),
		Location: n.Location,
		Deadline: formatDate(n.Deadline),
		Disputes: n.Disputes,
		Reason:   n.Reason,
	}
	if n.CaseURL != "" {
		data.CTALabel = "Open case"
		data.CTAURL = n.CaseURL
	}

	content, err := renderEmailTemplate(name+".html", data)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf(subjectFmt, n.CaseCode), content, nil
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

const (
	dateLayout = "Monday 2 January 2006"
	timeLayout = "15:04 MST"
)

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatSlot(start, end *time.Time) string {
	if start == nil {
		return ""
	}
	if end == nil {
		return start.Format(dateLayout + ", " + timeLayout)
	}
	return fmt.Sprintf("%s, %s to %s", start.Format(dateLayout), start.Format("15:04"), end.Format(timeLayout))
}
