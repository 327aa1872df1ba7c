// Package service implements the case lifecycle engine: every status change
// goes through Apply, which validates the intent, locks the case, writes
// the domain change, its audit entry and its outbox records in one
// transaction and publishes the committed result for delivery.
package service

import (
	"context"
	"fmt"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/internal/events"
	"safereport_backend/platform/apperr"
	"safereport_backend/platform/logger"
	"safereport_backend/platform/metrics"
	"safereport_backend/platform/phone"
	"safereport_backend/platform/sanitize"
	"safereport_backend/platform/validator"

	"github.com/google/uuid"
)

const (
	defaultLockTimeout = 5 * time.Second
	codeAttempts       = 3
)

// Config tunes the engine.
type Config struct {
	LockTimeout time.Duration
	Policy      domain.Policy
}

// Service is the case lifecycle engine.
type Service struct {
	store   repository.Store
	bus     events.Publisher
	val     *validator.Validator
	log     *logger.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// New creates the engine. bus may be nil, in which case committed
// transitions are not published.
func New(store repository.Store, bus events.Publisher, cfg Config, log *logger.Logger) *Service {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store: store,
		bus:   bus,
		val:   validator.New(),
		log:   log,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches Prometheus instruments.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock overrides the engine clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Policy returns the dispute policy in effect.
func (s *Service) Policy() domain.Policy { return s.cfg.Policy }

// TransitionRequest is one intent against one case.
type TransitionRequest struct {
	CaseID  uuid.UUID
	Intent  domain.Intent
	Actor   domain.Actor
	Payload domain.Payload
	// ExpectedStatus, when set, must match the status found under the
	// lock; otherwise the request fails with a Conflict.
	ExpectedStatus *domain.Status
}

// TransitionResult describes a committed transition.
type TransitionResult struct {
	Status       domain.Status
	AuditEntryID uuid.UUID
	Seq          int64
}

// ApplyTransition is the sole mutation entry point of the lifecycle.
func (s *Service) ApplyTransition(ctx context.Context, caseID uuid.UUID, intent domain.Intent, actor domain.Actor, payload domain.Payload) (domain.Status, uuid.UUID, error) {
	res, err := s.Apply(ctx, TransitionRequest{CaseID: caseID, Intent: intent, Actor: actor, Payload: payload})
	if err != nil {
		return "", uuid.Nil, err
	}
	return res.Status, res.AuditEntryID, nil
}

// Apply runs req as one atomic unit of work.
func (s *Service) Apply(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	start := time.Now()
	res, err := s.apply(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = apperr.GetKind(err).String()
		s.log.WithContext(ctx).TransitionRejected(req.CaseID.String(), string(req.Intent), string(req.Actor.Role), err)
	}
	s.metrics.ObserveTransition(string(req.Intent), outcome, time.Since(start))
	return res, err
}

func (s *Service) apply(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if err := s.validateRequest(req); err != nil {
		return TransitionResult{}, err
	}

	var (
		entry    domain.AuditEntry
		records  []domain.OutboxRecord
		caseCode string
	)

	err := s.store.WithCaseLock(ctx, req.CaseID, s.cfg.LockTimeout, func(ctx context.Context, tx repository.Tx, c domain.Case) error {
		if req.ExpectedStatus != nil && *req.ExpectedStatus != c.Status {
			return apperr.Conflict(fmt.Sprintf("case status changed to %s", c.Status)).
				WithDetails(map[string]string{"status": string(c.Status)})
		}

		rule, err := domain.Decide(c.Status, req.Intent, req.Actor.Role)
		if err != nil {
			return err
		}
		if err := checkOwnership(c, req.Actor, rule); err != nil {
			return err
		}

		now := s.now()
		out, err := s.mutate(ctx, tx, c, req, rule, now)
		if err != nil {
			return err
		}

		next := out.c
		if !next.Status.HoldsDeadline() {
			next.AutoCloseAt = nil
		}
		next.UpdatedAt = now
		if err := tx.UpdateCase(ctx, next); err != nil {
			return err
		}

		entry, err = tx.AppendAudit(ctx, domain.AuditEntry{
			ID:         uuid.New(),
			CaseID:     c.ID,
			Intent:     req.Intent,
			FromStatus: c.Status,
			ToStatus:   next.Status,
			ActorRole:  req.Actor.Role,
			ActorID:    req.Actor.IDPtr(),
			Note:       out.note,
			Diff:       out.diff,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}

		records, err = buildOutbox(entry, next, out.notices, now)
		if err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, records); err != nil {
			return err
		}
		caseCode = next.Code
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	s.log.WithContext(ctx).TransitionApplied(entry.CaseID.String(), string(entry.Intent),
		string(entry.FromStatus), string(entry.ToStatus), string(entry.ActorRole), entry.Seq)

	if s.bus != nil && len(records) > 0 {
		s.bus.Publish(ctx, events.CaseTransitionCommitted{
			BaseEvent: events.NewBaseEvent(),
			Entry:     entry,
			CaseCode:  caseCode,
			Outbox:    records,
		})
	}

	return TransitionResult{Status: entry.ToStatus, AuditEntryID: entry.ID, Seq: entry.Seq}, nil
}

func (s *Service) validateRequest(req TransitionRequest) error {
	if req.CaseID == uuid.Nil {
		return apperr.Validation("caseId is required")
	}
	if !req.Intent.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown intent %q", req.Intent))
	}
	if !req.Actor.Role.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown role %q", req.Actor.Role))
	}
	if req.Actor.Role != domain.RoleSystem && req.Actor.ID == uuid.Nil {
		return apperr.Validation("actor id is required")
	}
	return s.validatePayload(req.Intent, req.Payload)
}

func (s *Service) validatePayload(intent domain.Intent, p domain.Payload) error {
	switch intent {
	case domain.IntentReject:
		if err := s.requireStruct("reject", p.Reject); err != nil {
			return err
		}
		return requireText("reason", p.Reject.Reason)
	case domain.IntentSchedule:
		return s.requireStruct("schedule", p.Schedule)
	case domain.IntentDraftNotes:
		return s.requireStruct("notes", p.Notes)
	case domain.IntentSubmitNotes:
		if err := s.requireStruct("notes", p.Notes); err != nil {
			return err
		}
		return requireText("summary", p.Notes.Summary)
	case domain.IntentConfirm:
		if p.Confirm == nil {
			return nil
		}
		return s.val.Struct(p.Confirm)
	case domain.IntentDispute:
		if err := s.requireStruct("dispute", p.Dispute); err != nil {
			return err
		}
		return requireText("detail", p.Dispute.Detail)
	case domain.IntentRespondToDispute:
		if err := s.requireStruct("response", p.Response); err != nil {
			return err
		}
		if err := requireText("response", p.Response.Response); err != nil {
			return err
		}
		if p.Response.Notes != nil {
			return requireText("summary", p.Response.Notes.Summary)
		}
		return nil
	case domain.IntentResolveEscalation:
		if err := s.requireStruct("resolve", p.Resolve); err != nil {
			return err
		}
		return requireText("note", p.Resolve.Note)
	}
	return nil
}

// requireText rejects free text that is empty once markup is stripped.
func requireText(field, value string) error {
	if sanitize.Text(value) == "" {
		return apperr.Validation(field + " is required").
			WithDetails([]validator.FieldError{{Field: field, Rule: "notblank"}})
	}
	return nil
}

func (s *Service) requireStruct(name string, v any) error {
	if isNilPayload(v) {
		return apperr.Validation(name + " payload is required")
	}
	return s.val.Struct(v)
}

func isNilPayload(v any) bool {
	switch p := v.(type) {
	case *domain.RejectInput:
		return p == nil
	case *domain.ScheduleInput:
		return p == nil
	case *domain.NotesInput:
		return p == nil
	case *domain.DisputeInput:
		return p == nil
	case *domain.ResponseInput:
		return p == nil
	case *domain.ResolveInput:
		return p == nil
	}
	return v == nil
}

// checkOwnership hides cases from psychologists and reporters they do not
// belong to. Admins and the system actor see every case.
func checkOwnership(c domain.Case, actor domain.Actor, rule domain.Rule) error {
	switch rule.Role {
	case domain.RolePsychologist:
		if c.AssignedReviewerID == nil || *c.AssignedReviewerID != actor.ID {
			return apperr.NotFound(errCaseNotFound)
		}
	case domain.RoleReporter:
		if c.ReporterID == nil || *c.ReporterID != actor.ID {
			return apperr.NotFound(errCaseNotFound)
		}
	}
	return nil
}

const errCaseNotFound = "case not found"

// CreateCase stores a new report in Received. No audit entry is written.
func (s *Service) CreateCase(ctx context.Context, in domain.Intake) (domain.Case, error) {
	in.Category = sanitize.Line(in.Category)
	in.Description = sanitize.Text(in.Description)
	in.ContactEmail = sanitize.Line(in.ContactEmail)
	if err := s.val.Struct(in); err != nil {
		return domain.Case{}, err
	}

	normalized, err := phone.NormalizeE164(in.ContactPhone)
	if err != nil {
		return domain.Case{}, apperr.Validation("contactPhone is not a valid phone number").
			WithDetails([]validator.FieldError{{Field: "contactPhone", Rule: "e164"}})
	}

	now := s.now()
	c := domain.Case{
		ID:           uuid.New(),
		Status:       domain.StatusReceived,
		ReporterID:   in.ReporterID,
		Category:     in.Category,
		Description:  in.Description,
		ContactEmail: in.ContactEmail,
		ContactPhone: normalized,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for attempt := 1; ; attempt++ {
		code, err := domain.NewCaseCode()
		if err != nil {
			return domain.Case{}, apperr.Wrap(apperr.KindInternal, "generate case code", err)
		}
		c.Code = code

		err = s.store.CreateCase(ctx, c)
		if err == nil {
			break
		}
		if !apperr.Is(err, apperr.KindConflict) || attempt >= codeAttempts {
			return domain.Case{}, err
		}
	}

	s.metrics.IncCasesCreated()
	if s.bus != nil {
		s.bus.Publish(ctx, events.CaseCreated{
			BaseEvent: events.NewBaseEvent(),
			CaseID:    c.ID,
			CaseCode:  c.Code,
			Category:  c.Category,
		})
	}
	return c, nil
}

// GetAuditTrail returns every audit entry of a case in sequence order.
func (s *Service) GetAuditTrail(ctx context.Context, caseID uuid.UUID) ([]domain.AuditEntry, error) {
	return s.store.ListAuditTrail(ctx, caseID)
}

// GetCaseSnapshot returns the case with its live note, latest feedback and
// active schedule entry.
func (s *Service) GetCaseSnapshot(ctx context.Context, caseID uuid.UUID) (domain.Snapshot, error) {
	return s.store.GetSnapshot(ctx, caseID)
}

// ViewSnapshot is GetCaseSnapshot restricted to what actor may see.
func (s *Service) ViewSnapshot(ctx context.Context, caseID uuid.UUID, actor domain.Actor) (domain.Snapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, caseID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !canView(snap.Case, actor) {
		return domain.Snapshot{}, apperr.NotFound(errCaseNotFound)
	}
	return snap, nil
}

// ViewAuditTrail is GetAuditTrail restricted to staff assigned to the case.
func (s *Service) ViewAuditTrail(ctx context.Context, caseID uuid.UUID, actor domain.Actor) ([]domain.AuditEntry, error) {
	if actor.Role == domain.RoleReporter {
		return nil, apperr.Forbidden("audit trail is restricted to staff")
	}
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !canView(c, actor) {
		return nil, apperr.NotFound(errCaseNotFound)
	}
	return s.store.ListAuditTrail(ctx, caseID)
}

func canView(c domain.Case, actor domain.Actor) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RolePsychologist:
		return c.AssignedReviewerID != nil && *c.AssignedReviewerID == actor.ID
	case domain.RoleReporter:
		return c.ReporterID != nil && *c.ReporterID == actor.ID
	}
	return false
}

// ListAutoCloseDue returns cases whose confirmation deadline has passed.
func (s *Service) ListAutoCloseDue(ctx context.Context, now time.Time, anonymousOnly bool, limit int) ([]uuid.UUID, error) {
	return s.store.ListAutoCloseDue(ctx, now, anonymousOnly, limit)
}

// CloseExpired applies auto_close as the system actor. A case that moved on
// since it was listed is skipped without error.
func (s *Service) CloseExpired(ctx context.Context, caseID uuid.UUID) (bool, error) {
	_, err := s.Apply(ctx, TransitionRequest{CaseID: caseID, Intent: domain.IntentAutoClose, Actor: domain.SystemActor})
	if apperr.Is(err, apperr.KindInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.metrics.IncAutoClosed()
	return true, nil
}

// CaseContacts resolves notification addresses for a case.
func (s *Service) CaseContacts(ctx context.Context, caseID uuid.UUID) (domain.Contacts, error) {
	return s.store.CaseContacts(ctx, caseID)
}
