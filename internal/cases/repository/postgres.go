package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/platform/apperr"
	"safereport_backend/platform/fieldcrypt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"

	colDescription   = "cases.description"
	colContactEmail  = "cases.contact_email"
	colContactPhone  = "cases.contact_phone"
	colNoteDetail    = "case_notes.detail"
	colDisputeDetail = "case_feedback.dispute_detail"
)

// Postgres is the pgx-backed Store and OutboxStore.
type Postgres struct {
	pool   *pgxpool.Pool
	cipher *fieldcrypt.Cipher
}

// NewPostgres creates the store. cipher may be nil, in which case
// sensitive columns are written as plaintext.
func NewPostgres(pool *pgxpool.Pool, cipher *fieldcrypt.Cipher) *Postgres {
	return &Postgres{pool: pool, cipher: cipher}
}

func (r *Postgres) seal(column, value string) (string, error) {
	if r.cipher == nil {
		return value, nil
	}
	sealed, err := r.cipher.Encrypt(column, value)
	if err != nil {
		return "", apperr.Persistence("encrypt "+column, err)
	}
	return sealed, nil
}

func (r *Postgres) open(column, value string) (string, error) {
	if r.cipher == nil {
		return value, nil
	}
	plain, err := r.cipher.Decrypt(column, value)
	if err != nil {
		return "", apperr.Persistence("decrypt "+column, err)
	}
	return plain, nil
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return apperr.Busy("case is locked by another operation", err)
		case pgUniqueViolation:
			return apperr.Wrap(apperr.KindConflict, op+": duplicate record", err)
		}
	}
	return apperr.Persistence(op+" failed", err)
}

func (r *Postgres) CreateCase(ctx context.Context, c domain.Case) error {
	description, err := r.seal(colDescription, c.Description)
	if err != nil {
		return err
	}
	email, err := r.seal(colContactEmail, c.ContactEmail)
	if err != nil {
		return err
	}
	phone, err := r.seal(colContactPhone, c.ContactPhone)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO cases (id, code, status, dispute_count, reporter_id, category, description,
			contact_email, contact_phone, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9, $9)`,
		c.ID, c.Code, string(c.Status), c.ReporterID, c.Category, description, email, phone, c.CreatedAt,
	)
	return persistence("insert case", err)
}

const caseColumns = `id, code, status, dispute_count, auto_close_at, assigned_reviewer_id, rejection_reason,
	reporter_id, category, description, contact_email, contact_phone, created_at, updated_at`

func (r *Postgres) scanCase(row pgx.Row) (domain.Case, error) {
	var c domain.Case
	var status string
	err := row.Scan(&c.ID, &c.Code, &status, &c.DisputeCount, &c.AutoCloseAt, &c.AssignedReviewerID,
		&c.RejectionReason, &c.ReporterID, &c.Category, &c.Description, &c.ContactEmail, &c.ContactPhone,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Case{}, apperr.NotFound(errCaseNotFound)
	}
	if err != nil {
		return domain.Case{}, persistence("load case", err)
	}
	c.Status = domain.Status(status)

	if c.Description, err = r.open(colDescription, c.Description); err != nil {
		return domain.Case{}, err
	}
	if c.ContactEmail, err = r.open(colContactEmail, c.ContactEmail); err != nil {
		return domain.Case{}, err
	}
	if c.ContactPhone, err = r.open(colContactPhone, c.ContactPhone); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

func (r *Postgres) WithCaseLock(ctx context.Context, caseID uuid.UUID, timeout time.Duration, fn func(ctx context.Context, tx Tx, c domain.Case) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return persistence("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", timeout.Milliseconds())); err != nil {
		return persistence("set lock timeout", err)
	}

	c, err := r.scanCase(tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, caseID))
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{repo: r, tx: tx, caseID: caseID}, c); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return persistence("commit transaction", err)
	}
	return nil
}

func (r *Postgres) GetCase(ctx context.Context, caseID uuid.UUID) (domain.Case, error) {
	return r.scanCase(r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, caseID))
}

func (r *Postgres) GetSnapshot(ctx context.Context, caseID uuid.UUID) (domain.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Snapshot{}, persistence("begin snapshot", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := r.scanCase(tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, caseID))
	if err != nil {
		return domain.Snapshot{}, err
	}

	view := &pgTx{repo: r, tx: tx, caseID: caseID}
	snap := domain.Snapshot{Case: c}
	if snap.Note, err = view.LiveNote(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Feedback, err = view.LatestFeedback(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Schedule, err = view.ActiveSchedule(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (r *Postgres) ListAuditTrail(ctx context.Context, caseID uuid.UUID) ([]domain.AuditEntry, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, caseID).Scan(&exists); err != nil {
		return nil, persistence("check case", err)
	}
	if !exists {
		return nil, apperr.NotFound(errCaseNotFound)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, case_id, seq, intent, from_status, to_status, actor_role, actor_id, note, diff, created_at
		 FROM case_audit_entries
		 WHERE case_id = $1
		 ORDER BY seq ASC`, caseID)
	if err != nil {
		return nil, persistence("list audit trail", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		var intent, from, to, role string
		var diff []byte
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Seq, &intent, &from, &to, &role, &e.ActorID, &e.Note, &diff, &e.CreatedAt); err != nil {
			return nil, persistence("scan audit entry", err)
		}
		e.Intent = domain.Intent(intent)
		e.FromStatus = domain.Status(from)
		e.ToStatus = domain.Status(to)
		e.ActorRole = domain.Role(role)
		if diff != nil {
			if err := json.Unmarshal(diff, &e.Diff); err != nil {
				return nil, persistence("decode audit diff", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list audit trail", err)
	}
	return entries, nil
}

func (r *Postgres) ListAutoCloseDue(ctx context.Context, now time.Time, anonymousOnly bool, limit int) ([]uuid.UUID, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM cases
		 WHERE status = 'AwaitingConfirmation' AND auto_close_at IS NOT NULL AND auto_close_at <= $1
		   AND (NOT $2 OR reporter_id IS NULL)
		 ORDER BY auto_close_at ASC
		 LIMIT $3`, now, anonymousOnly, limit)
	if err != nil {
		return nil, persistence("list auto-close due", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, persistence("list auto-close due", err)
	}
	return ids, nil
}

func (r *Postgres) CaseContacts(ctx context.Context, caseID uuid.UUID) (domain.Contacts, error) {
	var contacts domain.Contacts
	var sealedEmail string
	var reviewerEmail *string
	err := r.pool.QueryRow(ctx,
		`SELECT c.code, c.contact_email,
			(SELECT s.reviewer_email FROM case_schedule_entries s
			 WHERE s.case_id = c.id AND s.status <> 'cancelled'
			 ORDER BY s.created_at DESC LIMIT 1)
		 FROM cases c WHERE c.id = $1`, caseID,
	).Scan(&contacts.CaseCode, &sealedEmail, &reviewerEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Contacts{}, apperr.NotFound(errCaseNotFound)
	}
	if err != nil {
		return domain.Contacts{}, persistence("load contacts", err)
	}
	if contacts.ReporterEmail, err = r.open(colContactEmail, sealedEmail); err != nil {
		return domain.Contacts{}, err
	}
	if reviewerEmail != nil {
		contacts.ReviewerEmail = *reviewerEmail
	}
	return contacts, nil
}

type pgTx struct {
	repo   *Postgres
	tx     pgx.Tx
	caseID uuid.UUID
}

func (t *pgTx) UpdateCase(ctx context.Context, c domain.Case) error {
	if c.ID != t.caseID {
		return apperr.Internal("update targets a different case")
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE cases
		 SET status = $2, dispute_count = $3, auto_close_at = $4, assigned_reviewer_id = $5,
			rejection_reason = $6, updated_at = $7
		 WHERE id = $1`,
		c.ID, string(c.Status), c.DisputeCount, c.AutoCloseAt, c.AssignedReviewerID, c.RejectionReason, c.UpdatedAt,
	)
	return persistence("update case", err)
}

func (t *pgTx) ActiveSchedule(ctx context.Context) (*domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT id, case_id, reviewer_id, reviewer_email, starts_at, ends_at, location, status, created_by, created_at, updated_at
		 FROM case_schedule_entries
		 WHERE case_id = $1 AND status = 'scheduled'
		 ORDER BY created_at DESC
		 LIMIT 1`, t.caseID,
	).Scan(&e.ID, &e.CaseID, &e.ReviewerID, &e.ReviewerEmail, &e.StartsAt, &e.EndsAt, &e.Location, &status,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("load schedule", err)
	}
	e.Status = domain.ScheduleStatus(status)
	return &e, nil
}

func (t *pgTx) InsertSchedule(ctx context.Context, e domain.ScheduleEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO case_schedule_entries
			(id, case_id, reviewer_id, reviewer_email, starts_at, ends_at, location, status, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		e.ID, e.CaseID, e.ReviewerID, e.ReviewerEmail, e.StartsAt, e.EndsAt, e.Location, string(e.Status), e.CreatedBy, e.CreatedAt,
	)
	return persistence("insert schedule", err)
}

func (t *pgTx) SetScheduleStatus(ctx context.Context, id uuid.UUID, status domain.ScheduleStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE case_schedule_entries SET status = $3, updated_at = now() WHERE id = $1 AND case_id = $2`,
		id, t.caseID, string(status))
	if err != nil {
		return persistence("update schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule entry not found")
	}
	return nil
}

func (t *pgTx) LiveNote(ctx context.Context) (*domain.ConsultationNote, error) {
	var n domain.ConsultationNote
	var risk, status string
	err := t.tx.QueryRow(ctx,
		`SELECT id, case_id, author_id, summary, detail, recommendation, risk_level, note_status, version, created_at, updated_at
		 FROM case_notes WHERE case_id = $1`, t.caseID,
	).Scan(&n.ID, &n.CaseID, &n.AuthorID, &n.Summary, &n.Detail, &n.Recommendation, &risk, &status, &n.Version,
		&n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("load note", err)
	}
	n.RiskLevel = domain.RiskLevel(risk)
	n.Status = domain.NoteStatus(status)
	if n.Detail, err = t.repo.open(colNoteDetail, n.Detail); err != nil {
		return nil, err
	}
	return &n, nil
}

func (t *pgTx) InsertNote(ctx context.Context, n domain.ConsultationNote) error {
	detail, err := t.repo.seal(colNoteDetail, n.Detail)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO case_notes (id, case_id, author_id, summary, detail, recommendation, risk_level, note_status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.CaseID, n.AuthorID, n.Summary, detail, n.Recommendation, string(n.RiskLevel), string(n.Status), n.Version,
		n.CreatedAt, n.UpdatedAt,
	)
	return persistence("insert note", err)
}

func (t *pgTx) UpdateNote(ctx context.Context, n domain.ConsultationNote) error {
	detail, err := t.repo.seal(colNoteDetail, n.Detail)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE case_notes
		 SET summary = $3, detail = $4, recommendation = $5, risk_level = $6, note_status = $7, version = $8, updated_at = $9
		 WHERE id = $1 AND case_id = $2`,
		n.ID, t.caseID, n.Summary, detail, n.Recommendation, string(n.RiskLevel), string(n.Status), n.Version, n.UpdatedAt,
	)
	if err != nil {
		return persistence("update note", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("consultation note not found")
	}
	return nil
}

func (t *pgTx) LatestFeedback(ctx context.Context) (*domain.Feedback, error) {
	var f domain.Feedback
	var kind string
	err := t.tx.QueryRow(ctx,
		`SELECT id, case_id, note_id, kind, comment, dispute_detail, psychologist_response, responded_at, created_at
		 FROM case_feedback
		 WHERE case_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, t.caseID,
	).Scan(&f.ID, &f.CaseID, &f.NoteID, &kind, &f.Comment, &f.DisputeDetail, &f.PsychologistResponse, &f.RespondedAt, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("load feedback", err)
	}
	f.Kind = domain.FeedbackKind(kind)
	if f.DisputeDetail, err = t.repo.open(colDisputeDetail, f.DisputeDetail); err != nil {
		return nil, err
	}
	return &f, nil
}

func (t *pgTx) InsertFeedback(ctx context.Context, f domain.Feedback) error {
	detail, err := t.repo.seal(colDisputeDetail, f.DisputeDetail)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO case_feedback (id, case_id, note_id, kind, comment, dispute_detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.CaseID, f.NoteID, string(f.Kind), f.Comment, detail, f.CreatedAt,
	)
	return persistence("insert feedback", err)
}

func (t *pgTx) RecordResponse(ctx context.Context, feedbackID uuid.UUID, response string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE case_feedback
		 SET psychologist_response = $3, responded_at = $4
		 WHERE id = $1 AND case_id = $2 AND psychologist_response IS NULL`,
		feedbackID, t.caseID, response, at)
	if err != nil {
		return persistence("record response", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("dispute already answered")
	}
	return nil
}

func (t *pgTx) AppendAudit(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error) {
	if e.CaseID != t.caseID {
		return domain.AuditEntry{}, apperr.Internal("audit entry for a different case")
	}

	var diff []byte
	if e.Diff != nil {
		encoded, err := json.Marshal(e.Diff)
		if err != nil {
			return domain.AuditEntry{}, persistence("encode audit diff", err)
		}
		diff = encoded
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO case_audit_entries (id, case_id, seq, intent, from_status, to_status, actor_role, actor_id, note, diff, created_at)
		 VALUES ($1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM case_audit_entries WHERE case_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING seq`,
		e.ID, e.CaseID, string(e.Intent), string(e.FromStatus), string(e.ToStatus), string(e.ActorRole), e.ActorID,
		e.Note, diff, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return domain.AuditEntry{}, persistence("append audit entry", err)
	}
	return e, nil
}

func (t *pgTx) AppendOutbox(ctx context.Context, records []domain.OutboxRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		payload := rec.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		batch.Queue(
			`INSERT INTO side_effect_outbox (id, case_id, audit_entry_id, kind, template, payload, status, run_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			rec.ID, rec.CaseID, rec.AuditEntryID, string(rec.Kind), rec.Template, []byte(payload), string(rec.Status), rec.RunAt, rec.CreatedAt,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return persistence("append outbox", err)
	}
	return nil
}
