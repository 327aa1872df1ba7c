//go:build integration

package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/internal/notification/outbox"
	"safereport_backend/migrations"
	"safereport_backend/platform/apperr"
	"safereport_backend/platform/db"
	"safereport_backend/platform/fieldcrypt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("safereport"),
		postgres.WithUsername("safereport"),
		postgres.WithPassword("safereport"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.RunMigrations(ctx, pool, migrations.FS))
	return pool
}

func newStore(t *testing.T, pool *pgxpool.Pool) *repository.Postgres {
	t.Helper()
	cipher, err := fieldcrypt.New("integration-test-secret-0123456789")
	require.NoError(t, err)
	return repository.NewPostgres(pool, cipher)
}

func TestPostgresStore(t *testing.T) {
	pool := startPostgres(t)
	store := newStore(t, pool)
	ctx := context.Background()

	code, err := domain.NewCaseCode()
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := domain.Case{
		ID:           uuid.New(),
		Code:         code,
		Status:       domain.StatusReceived,
		Category:     "harassment",
		Description:  "sensitive description",
		ContactEmail: "reporter@example.org",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateCase(ctx, c))

	t.Run("contact fields are encrypted at rest", func(t *testing.T) {
		var stored string
		require.NoError(t, pool.QueryRow(ctx, `SELECT description FROM cases WHERE id = $1`, c.ID).Scan(&stored))
		assert.NotEqual(t, c.Description, stored)

		got, err := store.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Description, got.Description)
	})

	t.Run("duplicate code conflicts", func(t *testing.T) {
		dup := c
		dup.ID = uuid.New()
		err := store.CreateCase(ctx, dup)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	})

	t.Run("rollback leaves no trace", func(t *testing.T) {
		err := store.WithCaseLock(ctx, c.ID, time.Second, func(ctx context.Context, tx repository.Tx, cur domain.Case) error {
			cur.Status = domain.StatusApproved
			require.NoError(t, tx.UpdateCase(ctx, cur))
			_, err := tx.AppendAudit(ctx, domain.AuditEntry{
				ID: uuid.New(), CaseID: c.ID, Intent: domain.IntentApprove,
				FromStatus: domain.StatusReceived, ToStatus: domain.StatusApproved,
				ActorRole: domain.RoleAdmin, Note: "x", CreatedAt: now,
			})
			require.NoError(t, err)
			return apperr.Internal("abort")
		})
		require.Error(t, err)

		got, err := store.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReceived, got.Status)
		trail, err := store.ListAuditTrail(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, trail)
	})

	t.Run("commit writes audit and outbox", func(t *testing.T) {
		var recordID uuid.UUID
		err := store.WithCaseLock(ctx, c.ID, time.Second, func(ctx context.Context, tx repository.Tx, cur domain.Case) error {
			cur.Status = domain.StatusApproved
			if err := tx.UpdateCase(ctx, cur); err != nil {
				return err
			}
			entry, err := tx.AppendAudit(ctx, domain.AuditEntry{
				ID: uuid.New(), CaseID: c.ID, Intent: domain.IntentApprove,
				FromStatus: domain.StatusReceived, ToStatus: domain.StatusApproved,
				ActorRole: domain.RoleAdmin, Note: "approved", CreatedAt: now,
			})
			if err != nil {
				return err
			}
			assert.Equal(t, int64(1), entry.Seq)
			recordID = uuid.New()
			return tx.AppendOutbox(ctx, []domain.OutboxRecord{{
				ID: recordID, CaseID: c.ID, AuditEntryID: entry.ID, Kind: domain.SideEffectLedger,
				Template: domain.LedgerTemplate, Payload: []byte(`{}`), Status: domain.OutboxPending,
				RunAt: now, CreatedAt: now,
			}})
		})
		require.NoError(t, err)

		trail, err := store.ListAuditTrail(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Nil(t, trail[0].Diff)

		_, err = pool.Exec(ctx, `UPDATE case_audit_entries SET note = 'tampered' WHERE case_id = $1`, c.ID)
		assert.Error(t, err, "audit entries are immutable")

		outboxRepo := outbox.New(pool)
		ok, err := outboxRepo.MarkProcessing(ctx, recordID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = outboxRepo.MarkProcessing(ctx, recordID)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, outboxRepo.MarkSucceeded(ctx, recordID))
		rec, err := outboxRepo.GetOutbox(ctx, recordID)
		require.NoError(t, err)
		assert.Equal(t, domain.OutboxSucceeded, rec.Status)
	})

	t.Run("lock timeout is busy", func(t *testing.T) {
		held := make(chan struct{})
		release := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithCaseLock(ctx, c.ID, time.Second, func(ctx context.Context, tx repository.Tx, _ domain.Case) error {
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		err := store.WithCaseLock(ctx, c.ID, 50*time.Millisecond, func(ctx context.Context, tx repository.Tx, _ domain.Case) error {
			return nil
		})
		close(release)
		wg.Wait()
		assert.True(t, apperr.Is(err, apperr.KindBusy), "got %v", err)
	})
}
