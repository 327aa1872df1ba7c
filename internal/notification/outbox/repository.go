// Package outbox tracks delivery of side-effect records written by the
// case lifecycle engine.
package outbox

import (
	"context"
	"errors"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const errRepoNotConfigured = "outbox repository not configured"

const recordColumns = `id, case_id, audit_entry_id, kind, template, payload, status, attempts, last_error, run_at, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecord(row pgx.Row) (domain.OutboxRecord, error) {
	var rec domain.OutboxRecord
	var kind, status string
	err := row.Scan(&rec.ID, &rec.CaseID, &rec.AuditEntryID, &kind, &rec.Template, &rec.Payload, &status,
		&rec.Attempts, &rec.LastError, &rec.RunAt, &rec.CreatedAt)
	if err != nil {
		return domain.OutboxRecord{}, err
	}
	rec.Kind = domain.SideEffectKind(kind)
	rec.Status = domain.OutboxStatus(status)
	return rec, nil
}

func (r *Repository) GetOutbox(ctx context.Context, id uuid.UUID) (domain.OutboxRecord, error) {
	if r == nil || r.pool == nil {
		return domain.OutboxRecord{}, errors.New(errRepoNotConfigured)
	}
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM side_effect_outbox WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OutboxRecord{}, apperr.NotFound("outbox record not found")
	}
	return rec, err
}

// ClaimStale moves pending rows older than olderThan to processing and
// returns them. Rows locked by a concurrent claimer are skipped.
func (r *Repository) ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]domain.OutboxRecord, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM side_effect_outbox
		WHERE status = 'pending' AND created_at <= now() - make_interval(secs => $2)
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE side_effect_outbox o
	SET status = 'processing', attempts = o.attempts + 1, updated_at = now()
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.case_id, o.audit_entry_id, o.kind, o.template, o.payload, o.status, o.attempts, o.last_error, o.run_at, o.created_at`,
		limit, olderThan.Seconds())
	if err != nil {
		return nil, err
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxRecord, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE side_effect_outbox
		 SET status = 'processing', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.setStatus(ctx, id, domain.OutboxPending, &lastError)
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, domain.OutboxSucceeded, nil)
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.setStatus(ctx, id, domain.OutboxFailed, &lastError)
}

func (r *Repository) setStatus(ctx context.Context, id uuid.UUID, status domain.OutboxStatus, lastError *string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE side_effect_outbox
		 SET status = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, string(status), lastError,
	)
	return err
}
