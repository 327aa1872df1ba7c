package service

import (
	"encoding/json"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/platform/apperr"

	"github.com/google/uuid"
)

// intents that are notarized on the external ledger
var ledgerIntents = map[domain.Intent]bool{
	domain.IntentReject:            true,
	domain.IntentApprove:           true,
	domain.IntentSchedule:          true,
	domain.IntentSubmitNotes:       true,
	domain.IntentConfirm:           true,
	domain.IntentDispute:           true,
	domain.IntentRespondToDispute:  true,
	domain.IntentAutoClose:         true,
	domain.IntentResolveEscalation: true,
}

func buildOutbox(entry domain.AuditEntry, c domain.Case, notices []notice, now time.Time) ([]domain.OutboxRecord, error) {
	records := make([]domain.OutboxRecord, 0, len(notices)+1)

	for _, n := range notices {
		payload := n.payload
		payload.CaseID = c.ID.String()
		payload.CaseCode = c.Code
		payload.Status = c.Status
		rec, err := newRecord(entry, domain.SideEffectNotify, n.template, payload, now)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if ledgerIntents[entry.Intent] {
		rec, err := newRecord(entry, domain.SideEffectLedger, domain.LedgerTemplate, domain.LedgerPayload{
			CaseCode:     c.Code,
			Action:       entry.Intent,
			FromStatus:   entry.FromStatus,
			ToStatus:     entry.ToStatus,
			ActorRole:    entry.ActorRole,
			AuditEntryID: entry.ID.String(),
			Seq:          entry.Seq,
			DisputeCount: c.DisputeCount,
			OccurredAt:   entry.CreatedAt,
		}, now)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

func newRecord(entry domain.AuditEntry, kind domain.SideEffectKind, template string, payload any, now time.Time) (domain.OutboxRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxRecord{}, apperr.Wrap(apperr.KindInternal, "encode side effect payload", err)
	}
	return domain.OutboxRecord{
		ID:           uuid.New(),
		CaseID:       entry.CaseID,
		AuditEntryID: entry.ID,
		Kind:         kind,
		Template:     template,
		Payload:      data,
		Status:       domain.OutboxPending,
		RunAt:        now,
		CreatedAt:    now,
	}, nil
}
