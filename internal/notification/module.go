// Package notification delivers the side effects of committed case
// transitions: e-mail notices and ledger notarization. It subscribes to the
// event bus so the lifecycle engine never talks to e-mail providers or the
// ledger directly.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/internal/email"
	"safereport_backend/internal/events"
	"safereport_backend/internal/ledger"
	"safereport_backend/platform/config"
	"safereport_backend/platform/logger"
	"safereport_backend/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// ContactDirectory resolves notification addresses at delivery time.
type ContactDirectory interface {
	CaseContacts(ctx context.Context, caseID uuid.UUID) (domain.Contacts, error)
}

// Module handles the CaseTransitionCommitted subscription and outbox delivery.
type Module struct {
	outbox   repository.OutboxStore
	sender   email.Sender
	ledger   ledger.Recorder
	contacts ContactDirectory
	cfg      config.NotificationConfig
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New creates the notification module.
func New(outbox repository.OutboxStore, sender email.Sender, recorder ledger.Recorder, contacts ContactDirectory, cfg config.NotificationConfig, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	if recorder == nil {
		recorder = ledger.NoopRecorder{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Module{
		outbox:   outbox,
		sender:   sender,
		ledger:   recorder,
		contacts: contacts,
		cfg:      cfg,
		log:      log,
	}
}

// SetMetrics attaches Prometheus instruments.
func (m *Module) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// RegisterHandlers subscribes the module to the event bus.
func (m *Module) RegisterHandlers(bus events.Subscriber) {
	bus.Subscribe(events.CaseTransitionCommittedName, m)
}

// Handle implements events.Handler. Delivery failures are logged and
// recorded on the outbox row, never returned.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CaseTransitionCommitted:
		m.Dispatch(ctx, e.Outbox)
	default:
		m.log.Debug("notification module ignoring event", "event", event.EventName())
	}
	return nil
}

// Dispatch claims and delivers records concurrently. Records another worker
// already claimed are skipped.
func (m *Module) Dispatch(ctx context.Context, records []domain.OutboxRecord) {
	limit := defaultConcurrency
	if m.cfg != nil && m.cfg.GetDispatchConcurrency() > 0 {
		limit = m.cfg.GetDispatchConcurrency()
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, rec := range records {
		g.Go(func() error {
			claimed, err := m.outbox.MarkProcessing(ctx, rec.ID)
			if err != nil {
				m.log.SideEffectFailed(string(rec.Kind), rec.Template, rec.CaseID.String(), fmt.Errorf("claim: %w", err))
				return nil
			}
			if !claimed {
				return nil
			}
			m.Deliver(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

// Deliver performs one claimed record and writes the outcome back.
func (m *Module) Deliver(ctx context.Context, rec domain.OutboxRecord) {
	err := m.deliver(ctx, rec)
	m.metrics.ObserveSideEffect(string(rec.Kind), err == nil)
	if breaker, ok := m.ledger.(*ledger.Client); ok {
		m.metrics.SetLedgerBreakerOpen(breaker.Breaker().IsOpen())
	}

	if err != nil {
		m.log.SideEffectFailed(string(rec.Kind), rec.Template, rec.CaseID.String(), err)
		if markErr := m.outbox.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
			m.log.Error("outbox mark failed", "outbox_id", rec.ID, "error", markErr)
		}
		return
	}
	if markErr := m.outbox.MarkSucceeded(ctx, rec.ID); markErr != nil {
		m.log.Error("outbox mark succeeded", "outbox_id", rec.ID, "error", markErr)
	}
}

func (m *Module) deliver(ctx context.Context, rec domain.OutboxRecord) error {
	switch rec.Kind {
	case domain.SideEffectNotify:
		return m.sendNotice(ctx, rec)
	case domain.SideEffectLedger:
		return m.recordLedger(ctx, rec)
	default:
		return fmt.Errorf("unknown side effect kind %q", rec.Kind)
	}
}

func (m *Module) sendNotice(ctx context.Context, rec domain.OutboxRecord) error {
	var p domain.NotifyPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return fmt.Errorf("decode notify payload: %w", err)
	}

	recipients, err := m.recipients(ctx, rec, p.Audience)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		m.log.Debug("notice has no recipient", "template", rec.Template, "audience", p.Audience, "case_id", rec.CaseID)
		return nil
	}

	subject, body, err := email.Render(rec.Template, email.Notice{
		CaseCode: p.CaseCode,
		CaseURL:  m.caseURL(p.CaseID),
		StartsAt: p.StartsAt,
		EndsAt:   p.EndsAt,
		Location: p.Location,
		Deadline: p.Deadline,
		Disputes: p.Disputes,
		Reason:   p.ReasonNote,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, to := range recipients {
		if err := m.sender.Send(ctx, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", maskEmail(to), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Module) recipients(ctx context.Context, rec domain.OutboxRecord, audience domain.Audience) ([]string, error) {
	if audience == domain.AudienceAdmins {
		if m.cfg == nil {
			return nil, nil
		}
		return m.cfg.GetAdminEmails(), nil
	}
	if m.contacts == nil {
		return nil, errors.New("contact directory not configured")
	}

	contacts, err := m.contacts.CaseContacts(ctx, rec.CaseID)
	if err != nil {
		return nil, fmt.Errorf("resolve contacts: %w", err)
	}
	var to string
	switch audience {
	case domain.AudienceReporter:
		to = contacts.ReporterEmail
	case domain.AudienceReviewer:
		to = contacts.ReviewerEmail
	default:
		return nil, fmt.Errorf("unknown audience %q", audience)
	}
	if to == "" {
		return nil, nil
	}
	return []string{to}, nil
}

func (m *Module) caseURL(caseID string) string {
	if m.cfg == nil || m.cfg.GetAppBaseURL() == "" || caseID == "" {
		return ""
	}
	return strings.TrimRight(m.cfg.GetAppBaseURL(), "/") + "/cases/" + caseID
}

func (m *Module) recordLedger(ctx context.Context, rec domain.OutboxRecord) error {
	var p domain.LedgerPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return fmt.Errorf("decode ledger payload: %w", err)
	}
	hash, canonical, err := ledger.ContentHash(rec.Payload)
	if err != nil {
		return err
	}

	ref, err := m.ledger.Record(ctx, ledger.Entry{
		CaseCode:       p.CaseCode,
		ActionType:     string(p.Action),
		ContentHash:    hash,
		ActorRole:      string(p.ActorRole),
		Payload:        canonical,
		IdempotencyKey: rec.ID.String(),
	})
	if err != nil {
		return err
	}
	m.log.Info("ledger_recorded", "case_code", p.CaseCode, "action", p.Action, "seq", p.Seq, "tx_ref", string(ref))
	return nil
}

func maskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 1 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
