package repository

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/platform/apperr"

	"github.com/google/uuid"
)

const errCaseNotFound = "case not found"

// Memory is an in-process Store and OutboxStore. Writers to the same case
// are serialized by a per-case lock and see a private staged copy that is
// published only when fn succeeds.
type Memory struct {
	mu        sync.RWMutex
	cases     map[uuid.UUID]domain.Case
	codes     map[string]uuid.UUID
	schedules map[uuid.UUID][]domain.ScheduleEntry
	notes     map[uuid.UUID]domain.ConsultationNote
	feedback  map[uuid.UUID][]domain.Feedback
	audit     map[uuid.UUID][]domain.AuditEntry
	outbox    map[uuid.UUID]domain.OutboxRecord

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}

	fault func(op string) error
	now   func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		cases:     make(map[uuid.UUID]domain.Case),
		codes:     make(map[string]uuid.UUID),
		schedules: make(map[uuid.UUID][]domain.ScheduleEntry),
		notes:     make(map[uuid.UUID]domain.ConsultationNote),
		feedback:  make(map[uuid.UUID][]domain.Feedback),
		audit:     make(map[uuid.UUID][]domain.AuditEntry),
		outbox:    make(map[uuid.UUID]domain.OutboxRecord),
		locks:     make(map[uuid.UUID]chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetFault installs a hook called before every write with the operation
// name; a non-nil return fails that write. Pass nil to clear it.
func (m *Memory) SetFault(fn func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// SetClock overrides the clock used for outbox bookkeeping.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) check(op string) error {
	m.mu.RLock()
	fault := m.fault
	m.mu.RUnlock()
	if fault == nil {
		return nil
	}
	if err := fault(op); err != nil {
		return apperr.Persistence(op+" failed", err)
	}
	return nil
}

func (m *Memory) CreateCase(ctx context.Context, c domain.Case) error {
	if err := m.check("create_case"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.codes[c.Code]; exists {
		return apperr.Conflict("case code already in use")
	}
	if _, exists := m.cases[c.ID]; exists {
		return apperr.Conflict("case already exists")
	}
	m.cases[c.ID] = c
	m.codes[c.Code] = c.ID
	return nil
}

func (m *Memory) lockFor(caseID uuid.UUID) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	ch, ok := m.locks[caseID]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[caseID] = ch
	}
	return ch
}

func (m *Memory) WithCaseLock(ctx context.Context, caseID uuid.UUID, timeout time.Duration, fn func(ctx context.Context, tx Tx, c domain.Case) error) error {
	m.mu.RLock()
	_, exists := m.cases[caseID]
	m.mu.RUnlock()
	if !exists {
		return apperr.NotFound(errCaseNotFound)
	}

	lock := m.lockFor(caseID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
	case <-timer.C:
		return apperr.Busy("case is locked by another operation", nil)
	case <-ctx.Done():
		return apperr.Busy("case lock wait cancelled", ctx.Err())
	}
	defer func() { <-lock }()

	tx := m.stage(caseID)
	if err := fn(ctx, tx, tx.c); err != nil {
		return err
	}
	if err := m.check("commit"); err != nil {
		return err
	}
	m.publish(tx)
	return nil
}

func (m *Memory) stage(caseID uuid.UUID) *memoryTx {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx := &memoryTx{
		store:     m,
		caseID:    caseID,
		c:         m.cases[caseID],
		schedules: slices.Clone(m.schedules[caseID]),
		feedback:  slices.Clone(m.feedback[caseID]),
		auditLen:  len(m.audit[caseID]),
	}
	if n, ok := m.notes[caseID]; ok {
		tx.note = &n
	}
	return tx
}

func (m *Memory) publish(tx *memoryTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cases[tx.caseID] = tx.c
	m.schedules[tx.caseID] = tx.schedules
	m.feedback[tx.caseID] = tx.feedback
	if tx.note != nil {
		m.notes[tx.caseID] = *tx.note
	}
	m.audit[tx.caseID] = append(m.audit[tx.caseID], tx.newAudit...)
	for _, rec := range tx.newOutbox {
		m.outbox[rec.ID] = rec
	}
}

func (m *Memory) GetCase(ctx context.Context, caseID uuid.UUID) (domain.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[caseID]
	if !ok {
		return domain.Case{}, apperr.NotFound(errCaseNotFound)
	}
	return c, nil
}

func (m *Memory) GetSnapshot(ctx context.Context, caseID uuid.UUID) (domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[caseID]
	if !ok {
		return domain.Snapshot{}, apperr.NotFound(errCaseNotFound)
	}

	snap := domain.Snapshot{Case: c}
	if n, ok := m.notes[caseID]; ok {
		snap.Note = &n
	}
	if fb := m.feedback[caseID]; len(fb) > 0 {
		latest := fb[len(fb)-1]
		snap.Feedback = &latest
	}
	for _, e := range m.schedules[caseID] {
		if e.Status == domain.ScheduleScheduled {
			entry := e
			snap.Schedule = &entry
		}
	}
	return snap, nil
}

func (m *Memory) ListAuditTrail(ctx context.Context, caseID uuid.UUID) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.cases[caseID]; !ok {
		return nil, apperr.NotFound(errCaseNotFound)
	}
	out := make([]domain.AuditEntry, len(m.audit[caseID]))
	copy(out, m.audit[caseID])
	return out, nil
}

func (m *Memory) ListAutoCloseDue(ctx context.Context, now time.Time, anonymousOnly bool, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]domain.Case, 0)
	for _, c := range m.cases {
		if anonymousOnly && c.ReporterID != nil {
			continue
		}
		if c.Status == domain.StatusAwaitingConfirmation && c.AutoCloseAt != nil && !c.AutoCloseAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AutoCloseAt.Before(*due[j].AutoCloseAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]uuid.UUID, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (m *Memory) CaseContacts(ctx context.Context, caseID uuid.UUID) (domain.Contacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[caseID]
	if !ok {
		return domain.Contacts{}, apperr.NotFound(errCaseNotFound)
	}
	contacts := domain.Contacts{CaseCode: c.Code, ReporterEmail: c.ContactEmail}
	for _, e := range m.schedules[caseID] {
		if e.Status != domain.ScheduleCancelled && e.ReviewerEmail != "" {
			contacts.ReviewerEmail = e.ReviewerEmail
		}
	}
	return contacts, nil
}

// Outbox returns every stored outbox record for caseID in creation order.
func (m *Memory) Outbox(caseID uuid.UUID) []domain.OutboxRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.OutboxRecord, 0)
	for _, rec := range m.outbox {
		if rec.CaseID == caseID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.outbox[id]
	if !ok {
		return false, apperr.NotFound("outbox record not found")
	}
	if rec.Status != domain.OutboxPending {
		return false, nil
	}
	rec.Status = domain.OutboxProcessing
	rec.Attempts++
	m.outbox[id] = rec
	return true, nil
}

func (m *Memory) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return m.setOutboxStatus(id, domain.OutboxSucceeded, nil)
}

func (m *Memory) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return m.setOutboxStatus(id, domain.OutboxFailed, &lastError)
}

func (m *Memory) MarkPending(ctx context.Context, id uuid.UUID, lastError string) error {
	return m.setOutboxStatus(id, domain.OutboxPending, &lastError)
}

func (m *Memory) setOutboxStatus(id uuid.UUID, status domain.OutboxStatus, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.outbox[id]
	if !ok {
		return apperr.NotFound("outbox record not found")
	}
	rec.Status = status
	rec.LastError = lastError
	m.outbox[id] = rec
	return nil
}

func (m *Memory) GetOutbox(ctx context.Context, id uuid.UUID) (domain.OutboxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.outbox[id]
	if !ok {
		return domain.OutboxRecord{}, apperr.NotFound("outbox record not found")
	}
	return rec, nil
}

func (m *Memory) ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]domain.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	stale := make([]domain.OutboxRecord, 0)
	for _, rec := range m.outbox {
		if rec.Status == domain.OutboxPending && !rec.CreatedAt.After(cutoff) {
			stale = append(stale, rec)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].RunAt.Before(stale[j].RunAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for i := range stale {
		stale[i].Status = domain.OutboxProcessing
		stale[i].Attempts++
		m.outbox[stale[i].ID] = stale[i]
	}
	return stale, nil
}

type memoryTx struct {
	store     *Memory
	caseID    uuid.UUID
	c         domain.Case
	schedules []domain.ScheduleEntry
	note      *domain.ConsultationNote
	feedback  []domain.Feedback
	auditLen  int
	newAudit  []domain.AuditEntry
	newOutbox []domain.OutboxRecord
}

func (t *memoryTx) UpdateCase(ctx context.Context, c domain.Case) error {
	if err := t.store.check("update_case"); err != nil {
		return err
	}
	if c.ID != t.caseID {
		return apperr.Internal("update targets a different case")
	}
	t.c = c
	return nil
}

func (t *memoryTx) ActiveSchedule(ctx context.Context) (*domain.ScheduleEntry, error) {
	for i := len(t.schedules) - 1; i >= 0; i-- {
		if t.schedules[i].Status == domain.ScheduleScheduled {
			e := t.schedules[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertSchedule(ctx context.Context, e domain.ScheduleEntry) error {
	if err := t.store.check("insert_schedule"); err != nil {
		return err
	}
	t.schedules = append(t.schedules, e)
	return nil
}

func (t *memoryTx) SetScheduleStatus(ctx context.Context, id uuid.UUID, status domain.ScheduleStatus) error {
	if err := t.store.check("set_schedule_status"); err != nil {
		return err
	}
	for i := range t.schedules {
		if t.schedules[i].ID == id {
			t.schedules[i].Status = status
			t.schedules[i].UpdatedAt = t.store.now()
			return nil
		}
	}
	return apperr.NotFound("schedule entry not found")
}

func (t *memoryTx) LiveNote(ctx context.Context) (*domain.ConsultationNote, error) {
	if t.note == nil {
		return nil, nil
	}
	n := *t.note
	return &n, nil
}

func (t *memoryTx) InsertNote(ctx context.Context, n domain.ConsultationNote) error {
	if err := t.store.check("insert_note"); err != nil {
		return err
	}
	if t.note != nil {
		return apperr.Conflict("case already has a consultation note")
	}
	t.note = &n
	return nil
}

func (t *memoryTx) UpdateNote(ctx context.Context, n domain.ConsultationNote) error {
	if err := t.store.check("update_note"); err != nil {
		return err
	}
	if t.note == nil || t.note.ID != n.ID {
		return apperr.NotFound("consultation note not found")
	}
	t.note = &n
	return nil
}

func (t *memoryTx) LatestFeedback(ctx context.Context) (*domain.Feedback, error) {
	if len(t.feedback) == 0 {
		return nil, nil
	}
	fb := t.feedback[len(t.feedback)-1]
	return &fb, nil
}

func (t *memoryTx) InsertFeedback(ctx context.Context, f domain.Feedback) error {
	if err := t.store.check("insert_feedback"); err != nil {
		return err
	}
	t.feedback = append(t.feedback, f)
	return nil
}

func (t *memoryTx) RecordResponse(ctx context.Context, feedbackID uuid.UUID, response string, at time.Time) error {
	if err := t.store.check("record_response"); err != nil {
		return err
	}
	for i := range t.feedback {
		if t.feedback[i].ID != feedbackID {
			continue
		}
		if t.feedback[i].PsychologistResponse != nil {
			return apperr.Conflict("dispute already answered")
		}
		t.feedback[i].PsychologistResponse = &response
		t.feedback[i].RespondedAt = &at
		return nil
	}
	return apperr.NotFound("feedback not found")
}

func (t *memoryTx) AppendAudit(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error) {
	if err := t.store.check("append_audit"); err != nil {
		return domain.AuditEntry{}, err
	}
	if e.CaseID != t.caseID {
		return domain.AuditEntry{}, errors.New("audit entry for a different case")
	}
	e.Seq = int64(t.auditLen + len(t.newAudit) + 1)
	t.newAudit = append(t.newAudit, e)
	return e, nil
}

func (t *memoryTx) AppendOutbox(ctx context.Context, records []domain.OutboxRecord) error {
	if err := t.store.check("append_outbox"); err != nil {
		return err
	}
	t.newOutbox = append(t.newOutbox, records...)
	return nil
}
