package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCase(t *testing.T, m *Memory) domain.Case {
	t.Helper()
	code, err := domain.NewCaseCode()
	require.NoError(t, err)
	c := domain.Case{ID: uuid.New(), Code: code, Status: domain.StatusReceived, Category: "other", Description: "d"}
	require.NoError(t, m.CreateCase(context.Background(), c))
	return c
}

func TestMemoryDuplicateCodeConflicts(t *testing.T) {
	m := NewMemory()
	c := seedCase(t, m)

	dup := domain.Case{ID: uuid.New(), Code: c.Code, Status: domain.StatusReceived}
	err := m.CreateCase(context.Background(), dup)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestMemoryWithCaseLockDiscardsOnError(t *testing.T) {
	m := NewMemory()
	c := seedCase(t, m)

	err := m.WithCaseLock(context.Background(), c.ID, time.Second, func(ctx context.Context, tx Tx, cur domain.Case) error {
		cur.Status = domain.StatusApproved
		require.NoError(t, tx.UpdateCase(ctx, cur))
		_, err := tx.AppendAudit(ctx, domain.AuditEntry{ID: uuid.New(), CaseID: c.ID})
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := m.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReceived, got.Status)
	trail, err := m.ListAuditTrail(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestMemoryAuditSeqIsContiguous(t *testing.T) {
	m := NewMemory()
	c := seedCase(t, m)

	for i := 0; i < 3; i++ {
		err := m.WithCaseLock(context.Background(), c.ID, time.Second, func(ctx context.Context, tx Tx, _ domain.Case) error {
			_, err := tx.AppendAudit(ctx, domain.AuditEntry{ID: uuid.New(), CaseID: c.ID})
			return err
		})
		require.NoError(t, err)
	}

	trail, err := m.ListAuditTrail(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	for i, e := range trail {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestMemoryLockTimeout(t *testing.T) {
	m := NewMemory()
	c := seedCase(t, m)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithCaseLock(context.Background(), c.ID, time.Second, func(ctx context.Context, tx Tx, _ domain.Case) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := m.WithCaseLock(context.Background(), c.ID, 10*time.Millisecond, func(ctx context.Context, tx Tx, _ domain.Case) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.True(t, apperr.Is(err, apperr.KindBusy))
}

func TestMemoryRecordResponseIsWriteOnce(t *testing.T) {
	m := NewMemory()
	c := seedCase(t, m)
	fbID := uuid.New()

	err := m.WithCaseLock(context.Background(), c.ID, time.Second, func(ctx context.Context, tx Tx, _ domain.Case) error {
		require.NoError(t, tx.InsertFeedback(ctx, domain.Feedback{ID: fbID, CaseID: c.ID, Kind: domain.FeedbackDispute}))
		require.NoError(t, tx.RecordResponse(ctx, fbID, "first", time.Now()))
		return tx.RecordResponse(ctx, fbID, "second", time.Now())
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestMemoryOutboxClaims(t *testing.T) {
	m := NewMemory()
	c := seedCase(t, m)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	fresh := domain.OutboxRecord{ID: uuid.New(), CaseID: c.ID, Kind: domain.SideEffectNotify, Status: domain.OutboxPending, RunAt: now, CreatedAt: now}
	stale := domain.OutboxRecord{ID: uuid.New(), CaseID: c.ID, Kind: domain.SideEffectLedger, Status: domain.OutboxPending, RunAt: now.Add(-time.Hour), CreatedAt: now.Add(-time.Hour)}
	err := m.WithCaseLock(context.Background(), c.ID, time.Second, func(ctx context.Context, tx Tx, _ domain.Case) error {
		return tx.AppendOutbox(ctx, []domain.OutboxRecord{fresh, stale})
	})
	require.NoError(t, err)

	claimed, err := m.ClaimStale(context.Background(), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, stale.ID, claimed[0].ID)
	assert.Equal(t, domain.OutboxProcessing, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	ok, err := m.MarkProcessing(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.False(t, ok, "already claimed")

	ok, err = m.MarkProcessing(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.MarkFailed(context.Background(), fresh.ID, "smtp down"))

	rec, err := m.GetOutbox(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxFailed, rec.Status)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "smtp down", *rec.LastError)
}

func TestMemoryListAutoCloseDue(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for _, offset := range []time.Duration{-time.Hour, -2 * time.Hour, time.Hour} {
		c := seedCase(t, m)
		deadline := now.Add(offset)
		err := m.WithCaseLock(context.Background(), c.ID, time.Second, func(ctx context.Context, tx Tx, cur domain.Case) error {
			cur.Status = domain.StatusAwaitingConfirmation
			cur.AutoCloseAt = &deadline
			return tx.UpdateCase(ctx, cur)
		})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	due, err := m.ListAutoCloseDue(context.Background(), now, false, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[1], ids[0]}, due)

	reporterID := uuid.New()
	err = m.WithCaseLock(context.Background(), ids[1], time.Second, func(ctx context.Context, tx Tx, cur domain.Case) error {
		cur.ReporterID = &reporterID
		return tx.UpdateCase(ctx, cur)
	})
	require.NoError(t, err)

	due, err = m.ListAutoCloseDue(context.Background(), now, true, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[0]}, due)
}
