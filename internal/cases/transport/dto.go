package transport

import (
	"time"

	"safereport_backend/internal/cases/domain"

	"github.com/google/uuid"
)

// IntakeRequest is the request body for reporting an incident
type IntakeRequest struct {
	Category     string `json:"category" validate:"required,notblank,max=100"`
	Description  string `json:"description" validate:"required,notblank,max=20000"`
	ContactEmail string `json:"contactEmail,omitempty" validate:"omitempty,email,max=320"`
	ContactPhone string `json:"contactPhone,omitempty" validate:"omitempty,max=32"`
}

// TransitionRequest is the request body for applying an intent
type TransitionRequest struct {
	Intent         string         `json:"intent" validate:"required"`
	ExpectedStatus *string        `json:"expectedStatus,omitempty"`
	Payload        domain.Payload `json:"payload"`
}

// IntakeResponse is returned after a report is stored
type IntakeResponse struct {
	ID     uuid.UUID `json:"id"`
	Code   string    `json:"code"`
	Status string    `json:"status"`
}

// TransitionResponse describes a committed transition
type TransitionResponse struct {
	Status       string    `json:"status"`
	AuditEntryID uuid.UUID `json:"auditEntryId"`
	Seq          int64     `json:"seq"`
}

type CaseResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Code               string     `json:"code"`
	Status             string     `json:"status"`
	Category           string     `json:"category"`
	Description        string     `json:"description"`
	DisputeCount       int        `json:"disputeCount"`
	AutoCloseAt        *time.Time `json:"autoCloseAt,omitempty"`
	AssignedReviewerID *uuid.UUID `json:"assignedReviewerId,omitempty"`
	RejectionReason    *string    `json:"rejectionReason,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type NoteResponse struct {
	ID             uuid.UUID `json:"id"`
	AuthorID       uuid.UUID `json:"authorId"`
	Summary        string    `json:"summary"`
	Detail         string    `json:"detail"`
	Recommendation string    `json:"recommendation"`
	RiskLevel      string    `json:"riskLevel"`
	Status         string    `json:"status"`
	Version        int       `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type FeedbackResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Kind                 string     `json:"kind"`
	Comment              string     `json:"comment,omitempty"`
	DisputeDetail        string     `json:"disputeDetail,omitempty"`
	PsychologistResponse *string    `json:"psychologistResponse,omitempty"`
	RespondedAt          *time.Time `json:"respondedAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

type ScheduleResponse struct {
	ID         uuid.UUID `json:"id"`
	ReviewerID uuid.UUID `json:"reviewerId"`
	StartsAt   time.Time `json:"startsAt"`
	EndsAt     time.Time `json:"endsAt"`
	Location   string    `json:"location,omitempty"`
	Status     string    `json:"status"`
}

// SnapshotResponse is the composite view of one case
type SnapshotResponse struct {
	Case     CaseResponse      `json:"case"`
	Note     *NoteResponse     `json:"note,omitempty"`
	Feedback *FeedbackResponse `json:"feedback,omitempty"`
	Schedule *ScheduleResponse `json:"schedule,omitempty"`
}

type FieldChangeResponse struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

type AuditEntryResponse struct {
	ID         uuid.UUID             `json:"id"`
	Seq        int64                 `json:"seq"`
	Intent     string                `json:"intent"`
	FromStatus string                `json:"fromStatus"`
	ToStatus   string                `json:"toStatus"`
	ActorRole  string                `json:"actorRole"`
	ActorID    *uuid.UUID            `json:"actorId,omitempty"`
	Note       string                `json:"note"`
	Diff       []FieldChangeResponse `json:"diff"`
	CreatedAt  time.Time             `json:"createdAt"`
}

type AuditTrailResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
}

// ToIntake converts the request into the domain intake.
func (r IntakeRequest) ToIntake(reporterID *uuid.UUID) domain.Intake {
	return domain.Intake{
		ReporterID:   reporterID,
		Category:     r.Category,
		Description:  r.Description,
		ContactEmail: r.ContactEmail,
		ContactPhone: r.ContactPhone,
	}
}

// NewSnapshotResponse maps a snapshot. Reporters do not see the
// psychologist's private detail field.
func NewSnapshotResponse(s domain.Snapshot, role domain.Role) SnapshotResponse {
	c := s.Case
	resp := SnapshotResponse{Case: CaseResponse{
		ID:                 c.ID,
		Code:               c.Code,
		Status:             string(c.Status),
		Category:           c.Category,
		Description:        c.Description,
		DisputeCount:       c.DisputeCount,
		AutoCloseAt:        c.AutoCloseAt,
		AssignedReviewerID: c.AssignedReviewerID,
		RejectionReason:    c.RejectionReason,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}}

	if n := s.Note; n != nil && visibleNote(n.Status, role) {
		note := NoteResponse{
			ID:             n.ID,
			AuthorID:       n.AuthorID,
			Summary:        n.Summary,
			Detail:         n.Detail,
			Recommendation: n.Recommendation,
			RiskLevel:      string(n.RiskLevel),
			Status:         string(n.Status),
			Version:        n.Version,
			UpdatedAt:      n.UpdatedAt,
		}
		if role == domain.RoleReporter {
			note.Detail = ""
		}
		resp.Note = &note
	}

	if f := s.Feedback; f != nil {
		resp.Feedback = &FeedbackResponse{
			ID:                   f.ID,
			Kind:                 string(f.Kind),
			Comment:              f.Comment,
			DisputeDetail:        f.DisputeDetail,
			PsychologistResponse: f.PsychologistResponse,
			RespondedAt:          f.RespondedAt,
			CreatedAt:            f.CreatedAt,
		}
	}

	if e := s.Schedule; e != nil {
		resp.Schedule = &ScheduleResponse{
			ID:         e.ID,
			ReviewerID: e.ReviewerID,
			StartsAt:   e.StartsAt,
			EndsAt:     e.EndsAt,
			Location:   e.Location,
			Status:     string(e.Status),
		}
	}
	return resp
}

// Drafts stay with the psychologist until submitted.
func visibleNote(status domain.NoteStatus, role domain.Role) bool {
	return role != domain.RoleReporter || status != domain.NoteDraft
}

func NewAuditTrailResponse(entries []domain.AuditEntry) AuditTrailResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		var diff []FieldChangeResponse
		if e.Diff != nil {
			diff = make([]FieldChangeResponse, 0, len(e.Diff))
			for _, ch := range e.Diff {
				diff = append(diff, FieldChangeResponse{Field: ch.Field, OldValue: ch.OldValue, NewValue: ch.NewValue})
			}
		}
		out = append(out, AuditEntryResponse{
			ID:         e.ID,
			Seq:        e.Seq,
			Intent:     string(e.Intent),
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ActorRole:  string(e.ActorRole),
			ActorID:    e.ActorID,
			Note:       e.Note,
			Diff:       diff,
			CreatedAt:  e.CreatedAt,
		})
	}
	return AuditTrailResponse{Entries: out}
}
