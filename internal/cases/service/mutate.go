package service

import (
	"context"
	"fmt"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/platform/apperr"
	"safereport_backend/platform/sanitize"

	"github.com/google/uuid"
)

const errNoteNotFound = "consultation note not found"

type notice struct {
	template string
	payload  domain.NotifyPayload
}

// mutation is what one intent changes, before it is persisted.
type mutation struct {
	c       domain.Case
	note    string
	diff    []domain.FieldChange
	notices []notice
}

func (s *Service) mutate(ctx context.Context, tx repository.Tx, c domain.Case, req TransitionRequest, rule domain.Rule, now time.Time) (mutation, error) {
	out := mutation{c: c}
	out.c.Status = rule.To
	p := req.Payload

	switch req.Intent {
	case domain.IntentStartReview:
		out.note = "review started"

	case domain.IntentApprove:
		out.note = "approved for consultation"

	case domain.IntentReject:
		reason := sanitize.Text(p.Reject.Reason)
		out.c.RejectionReason = &reason
		out.note = "rejected: " + reason
		out.notices = append(out.notices, notice{domain.NoticeRejected, domain.NotifyPayload{
			Audience: domain.AudienceReporter, ReasonNote: reason,
		}})

	case domain.IntentSchedule:
		return s.schedule(ctx, tx, out, req, now)

	case domain.IntentDraftNotes:
		n, diff, err := upsertNote(ctx, tx, c, req.Actor, *p.Notes, domain.NoteDraft, now)
		if err != nil {
			return mutation{}, err
		}
		out.diff = diff
		out.note = fmt.Sprintf("notes saved as draft (version %d)", n.Version)

	case domain.IntentSubmitNotes:
		n, diff, err := upsertNote(ctx, tx, c, req.Actor, *p.Notes, domain.NoteSubmitted, now)
		if err != nil {
			return mutation{}, err
		}
		if active, err := tx.ActiveSchedule(ctx); err != nil {
			return mutation{}, err
		} else if active != nil {
			if err := tx.SetScheduleStatus(ctx, active.ID, domain.ScheduleCompleted); err != nil {
				return mutation{}, err
			}
		}
		next, setDeadline := s.cfg.Policy.Evaluate(c.DisputeCount, c.Status)
		out.c.Status = next
		deadline := s.setDeadline(&out.c, setDeadline, now)
		out.diff = diff
		out.note = fmt.Sprintf("notes submitted (version %d)", n.Version)
		out.notices = append(out.notices, notice{domain.NoticeNotesReady, domain.NotifyPayload{
			Audience: domain.AudienceReporter, Deadline: deadline,
		}})

	case domain.IntentConfirm:
		n, err := liveNote(ctx, tx)
		if err != nil {
			return mutation{}, err
		}
		var comment string
		if p.Confirm != nil {
			comment = sanitize.Text(p.Confirm.Comment)
		}
		if err := tx.InsertFeedback(ctx, domain.Feedback{
			ID: uuid.New(), CaseID: c.ID, NoteID: n.ID, Kind: domain.FeedbackConfirm, Comment: comment, CreatedAt: now,
		}); err != nil {
			return mutation{}, err
		}
		n.Status = domain.NoteConfirmed
		n.UpdatedAt = now
		if err := tx.UpdateNote(ctx, n); err != nil {
			return mutation{}, err
		}
		out.note = "reporter confirmed the consultation notes"

	case domain.IntentDispute:
		n, err := liveNote(ctx, tx)
		if err != nil {
			return mutation{}, err
		}
		if err := tx.InsertFeedback(ctx, domain.Feedback{
			ID:            uuid.New(),
			CaseID:        c.ID,
			NoteID:        n.ID,
			Kind:          domain.FeedbackDispute,
			Comment:       sanitize.Text(p.Dispute.Comment),
			DisputeDetail: sanitize.Text(p.Dispute.Detail),
			CreatedAt:     now,
		}); err != nil {
			return mutation{}, err
		}
		n.Status = domain.NoteDisputed
		n.UpdatedAt = now
		if err := tx.UpdateNote(ctx, n); err != nil {
			return mutation{}, err
		}
		out.c.DisputeCount = c.DisputeCount + 1
		out.note = fmt.Sprintf("reporter disputed the consultation notes (dispute %d)", out.c.DisputeCount)
		out.notices = append(out.notices, notice{domain.NoticeDisputed, domain.NotifyPayload{
			Audience: domain.AudienceReviewer, Disputes: out.c.DisputeCount,
		}})

	case domain.IntentRespondToDispute:
		return s.respond(ctx, tx, out, req, now)

	case domain.IntentAutoClose:
		if c.AutoCloseAt == nil || now.Before(*c.AutoCloseAt) {
			return mutation{}, apperr.InvalidTransition("confirmation window is still open")
		}
		out.note = "closed after the confirmation window expired"

	case domain.IntentResolveEscalation:
		out.note = "escalation resolved: " + sanitize.Text(p.Resolve.Note)

	default:
		return mutation{}, apperr.InvalidTransition(fmt.Sprintf("unknown intent %q", req.Intent))
	}

	return out, nil
}

func (s *Service) schedule(ctx context.Context, tx repository.Tx, out mutation, req TransitionRequest, now time.Time) (mutation, error) {
	in := req.Payload.Schedule
	active, err := tx.ActiveSchedule(ctx)
	if err != nil {
		return mutation{}, err
	}
	if active != nil {
		if err := tx.SetScheduleStatus(ctx, active.ID, domain.ScheduleCancelled); err != nil {
			return mutation{}, err
		}
	}

	entry := domain.ScheduleEntry{
		ID:            uuid.New(),
		CaseID:        out.c.ID,
		ReviewerID:    in.ReviewerID,
		ReviewerEmail: sanitize.Line(in.ReviewerEmail),
		StartsAt:      in.StartsAt.UTC(),
		EndsAt:        in.EndsAt.UTC(),
		Location:      sanitize.Line(in.Location),
		Status:        domain.ScheduleScheduled,
		CreatedBy:     req.Actor.IDPtr(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.InsertSchedule(ctx, entry); err != nil {
		return mutation{}, err
	}

	reviewer := entry.ReviewerID
	out.c.AssignedReviewerID = &reviewer
	if active != nil {
		out.note = fmt.Sprintf("consultation rescheduled to %s", entry.StartsAt.Format(time.RFC3339))
	} else {
		out.note = fmt.Sprintf("consultation scheduled for %s", entry.StartsAt.Format(time.RFC3339))
	}

	slot := domain.NotifyPayload{StartsAt: &entry.StartsAt, EndsAt: &entry.EndsAt, Location: entry.Location}
	reporterNotice := slot
	reporterNotice.Audience = domain.AudienceReporter
	out.notices = append(out.notices, notice{domain.NoticeScheduledReporter, reporterNotice})
	if entry.ReviewerEmail != "" {
		reviewerNotice := slot
		reviewerNotice.Audience = domain.AudienceReviewer
		out.notices = append(out.notices, notice{domain.NoticeScheduledReviewer, reviewerNotice})
	}
	return out, nil
}

func (s *Service) respond(ctx context.Context, tx repository.Tx, out mutation, req TransitionRequest, now time.Time) (mutation, error) {
	in := req.Payload.Response
	c := out.c

	fb, err := tx.LatestFeedback(ctx)
	if err != nil {
		return mutation{}, err
	}
	if fb == nil || fb.Kind != domain.FeedbackDispute {
		return mutation{}, apperr.NotFound("open dispute not found")
	}
	if err := tx.RecordResponse(ctx, fb.ID, sanitize.Text(in.Response), now); err != nil {
		return mutation{}, err
	}

	n, err := liveNote(ctx, tx)
	if err != nil {
		return mutation{}, err
	}
	before := n.Fields()
	after := before
	if in.Notes != nil {
		after = cleanNoteFields(*in.Notes)
	}
	out.diff = domain.Diff(before, after)
	n = n.WithFields(after)
	n.Status = domain.NoteSubmitted
	n.Version++
	n.UpdatedAt = now
	if err := tx.UpdateNote(ctx, n); err != nil {
		return mutation{}, err
	}

	next, setDeadline := s.cfg.Policy.Evaluate(c.DisputeCount, c.Status)
	out.c.Status = next
	deadline := s.setDeadline(&out.c, setDeadline, now)

	out.notices = append(out.notices, notice{domain.NoticeDisputeAnswered, domain.NotifyPayload{
		Audience: domain.AudienceReporter, Deadline: deadline, Disputes: c.DisputeCount,
	}})
	if next == domain.StatusEscalatedToAdmin {
		out.note = s.cfg.Policy.EscalationReason(c.DisputeCount)
		out.notices = append(out.notices, notice{domain.NoticeEscalated, domain.NotifyPayload{
			Audience: domain.AudienceAdmins, Disputes: c.DisputeCount, ReasonNote: out.note,
		}})
	} else {
		out.note = fmt.Sprintf("dispute %d answered; notes resubmitted (version %d)", c.DisputeCount, n.Version)
	}
	return out, nil
}

// setDeadline refreshes or clears autoCloseAt and returns the new value.
func (s *Service) setDeadline(c *domain.Case, set bool, now time.Time) *time.Time {
	if !set {
		c.AutoCloseAt = nil
		return nil
	}
	deadline := s.cfg.Policy.Deadline(now)
	c.AutoCloseAt = &deadline
	return &deadline
}

func liveNote(ctx context.Context, tx repository.Tx) (domain.ConsultationNote, error) {
	n, err := tx.LiveNote(ctx)
	if err != nil {
		return domain.ConsultationNote{}, err
	}
	if n == nil {
		return domain.ConsultationNote{}, apperr.NotFound(errNoteNotFound)
	}
	return *n, nil
}

// upsertNote creates the live note or updates it in place. The diff is nil
// for a new note and never nil for an update. Only the note's author may
// update it.
func upsertNote(ctx context.Context, tx repository.Tx, c domain.Case, actor domain.Actor, in domain.NotesInput, status domain.NoteStatus, now time.Time) (domain.ConsultationNote, []domain.FieldChange, error) {
	fields := cleanNoteFields(in)

	existing, err := tx.LiveNote(ctx)
	if err != nil {
		return domain.ConsultationNote{}, nil, err
	}
	if existing == nil {
		n := domain.ConsultationNote{
			ID:        uuid.New(),
			CaseID:    c.ID,
			AuthorID:  actor.ID,
			Status:    status,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}.WithFields(fields)
		if err := tx.InsertNote(ctx, n); err != nil {
			return domain.ConsultationNote{}, nil, err
		}
		return n, nil, nil
	}
	if existing.AuthorID != actor.ID {
		return domain.ConsultationNote{}, nil, apperr.NotFound(errNoteNotFound)
	}

	diff := domain.Diff(existing.Fields(), fields)
	n := existing.WithFields(fields)
	n.Status = status
	n.Version++
	n.UpdatedAt = now
	if err := tx.UpdateNote(ctx, n); err != nil {
		return domain.ConsultationNote{}, nil, err
	}
	return n, diff, nil
}

func cleanNoteFields(in domain.NotesInput) domain.NoteFields {
	return domain.NoteFields{
		Summary:        sanitize.Text(in.Summary),
		Detail:         sanitize.Text(in.Detail),
		Recommendation: sanitize.Text(in.Recommendation),
		RiskLevel:      in.RiskLevel,
	}
}
