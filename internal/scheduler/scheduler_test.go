package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := newClient(asynq.RedisClientOpt{Addr: mr.Addr()}, "")
	t.Cleanup(func() { _ = c.Close() })

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return c, rdb
}

func pendingCount(t *testing.T, rdb *redis.Client) int64 {
	t.Helper()
	n, err := rdb.LLen(context.Background(), "asynq:{default}:pending").Result()
	require.NoError(t, err)
	return n
}

func TestEnqueueAutoCloseIsDeduplicated(t *testing.T) {
	c, rdb := newTestClient(t)
	caseID := uuid.New()

	require.NoError(t, c.EnqueueAutoClose(context.Background(), caseID))
	require.NoError(t, c.EnqueueAutoClose(context.Background(), caseID))

	assert.Equal(t, int64(1), pendingCount(t, rdb))
}

func TestEnqueueOutboxDelivery(t *testing.T) {
	c, rdb := newTestClient(t)

	require.NoError(t, c.EnqueueOutboxDelivery(context.Background(), uuid.New()))
	require.NoError(t, c.EnqueueOutboxDelivery(context.Background(), uuid.New()))

	assert.Equal(t, int64(2), pendingCount(t, rdb))
}

func TestRedisClientOpt(t *testing.T) {
	opt, err := redisClientOpt("rediss://:secret@cache.internal:6380/2", true)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
	require.NotNil(t, opt.TLSConfig)
	assert.True(t, opt.TLSConfig.InsecureSkipVerify)

	opt, err = redisClientOpt("redis://localhost:6379", false)
	require.NoError(t, err)
	assert.Nil(t, opt.TLSConfig)
}

func TestTaskPayloadsRoundTrip(t *testing.T) {
	id := uuid.NewString()
	task, err := NewCaseAutoCloseTask(CaseAutoClosePayload{CaseID: id})
	require.NoError(t, err)
	assert.Equal(t, TaskCaseAutoClose, task.Type())

	payload, err := ParseCaseAutoClosePayload(task)
	require.NoError(t, err)
	assert.Equal(t, id, payload.CaseID)
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	outbox   []uuid.UUID
	closures []uuid.UUID
	err      error
}

func (e *recordingEnqueuer) EnqueueOutboxDelivery(_ context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.outbox = append(e.outbox, id)
	return nil
}

func (e *recordingEnqueuer) EnqueueAutoClose(_ context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.closures = append(e.closures, id)
	return nil
}

func seedOutbox(t *testing.T, store *repository.Memory, createdAt time.Time) domain.OutboxRecord {
	t.Helper()
	code, err := domain.NewCaseCode()
	require.NoError(t, err)
	c := domain.Case{ID: uuid.New(), Code: code, Status: domain.StatusReceived, Category: "other", Description: "d"}
	require.NoError(t, store.CreateCase(context.Background(), c))

	rec := domain.OutboxRecord{
		ID:        uuid.New(),
		CaseID:    c.ID,
		Kind:      domain.SideEffectLedger,
		Template:  domain.LedgerTemplate,
		Payload:   []byte(`{}`),
		Status:    domain.OutboxPending,
		RunAt:     createdAt,
		CreatedAt: createdAt,
	}
	err = store.WithCaseLock(context.Background(), c.ID, time.Second, func(ctx context.Context, tx repository.Tx, _ domain.Case) error {
		return tx.AppendOutbox(ctx, []domain.OutboxRecord{rec})
	})
	require.NoError(t, err)
	return rec
}

func TestOutboxRelayEnqueuesStaleRecords(t *testing.T) {
	store := repository.NewMemory()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	stale := seedOutbox(t, store, now.Add(-10*time.Minute))
	seedOutbox(t, store, now)

	enq := &recordingEnqueuer{}
	relay := NewOutboxRelay(store, enq, nil, time.Minute, 2*time.Minute)

	assert.Equal(t, 1, relay.RelayOnce(context.Background()))
	assert.Equal(t, []uuid.UUID{stale.ID}, enq.outbox)

	rec, err := store.GetOutbox(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxProcessing, rec.Status)
}

func TestOutboxRelayReleasesOnEnqueueFailure(t *testing.T) {
	store := repository.NewMemory()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	stale := seedOutbox(t, store, now.Add(-time.Hour))

	relay := NewOutboxRelay(store, &recordingEnqueuer{err: errors.New("redis down")}, nil, 0, 0)

	assert.Equal(t, 0, relay.RelayOnce(context.Background()))
	rec, err := store.GetOutbox(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, rec.Status)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "redis down", *rec.LastError)
}

type stubLister struct {
	ids           []uuid.UUID
	err           error
	anonymousOnly *bool
}

func (l stubLister) ListAutoCloseDue(_ context.Context, _ time.Time, anonymousOnly bool, _ int) ([]uuid.UUID, error) {
	if l.anonymousOnly != nil {
		*l.anonymousOnly = anonymousOnly
	}
	return l.ids, l.err
}

func TestAutoCloseSweep(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	enq := &recordingEnqueuer{}
	sweeper := NewAutoCloseSweeper(stubLister{ids: ids}, enq, nil, time.Minute, true)

	assert.Equal(t, 2, sweeper.Sweep(context.Background()))
	assert.Equal(t, ids, enq.closures)

	failing := NewAutoCloseSweeper(stubLister{err: errors.New("db down")}, enq, nil, 0, true)
	assert.Equal(t, 0, failing.Sweep(context.Background()))
}

func TestAutoCloseSweepScope(t *testing.T) {
	var anonymousOnly bool
	enq := &recordingEnqueuer{}

	NewAutoCloseSweeper(stubLister{anonymousOnly: &anonymousOnly}, enq, nil, 0, false).Sweep(context.Background())
	assert.True(t, anonymousOnly, "anonymous cases are swept even when auto-close is off")

	NewAutoCloseSweeper(stubLister{anonymousOnly: &anonymousOnly}, enq, nil, 0, true).Sweep(context.Background())
	assert.False(t, anonymousOnly)
}

type recordingDeliverer struct {
	delivered []uuid.UUID
}

func (d *recordingDeliverer) Deliver(_ context.Context, rec domain.OutboxRecord) {
	d.delivered = append(d.delivered, rec.ID)
}

type stubCloser struct {
	closed bool
	err    error
	calls  []uuid.UUID
}

func (c *stubCloser) CloseExpired(_ context.Context, id uuid.UUID) (bool, error) {
	c.calls = append(c.calls, id)
	return c.closed, c.err
}

func TestWorkerDeliversOnlyClaimedRecords(t *testing.T) {
	store := repository.NewMemory()
	claimed := seedOutbox(t, store, time.Now())
	unclaimed := seedOutbox(t, store, time.Now())
	ok, err := store.MarkProcessing(context.Background(), claimed.ID)
	require.NoError(t, err)
	require.True(t, ok)

	deliverer := &recordingDeliverer{}
	w := newWorker(store, deliverer, &stubCloser{}, nil)

	for _, id := range []uuid.UUID{claimed.ID, unclaimed.ID, uuid.New()} {
		task, err := NewOutboxDeliverTask(OutboxDeliverPayload{OutboxID: id.String()})
		require.NoError(t, err)
		require.NoError(t, w.handleOutboxDeliver(context.Background(), task))
	}

	assert.Equal(t, []uuid.UUID{claimed.ID}, deliverer.delivered)
}

func TestWorkerRejectsMalformedPayload(t *testing.T) {
	w := newWorker(repository.NewMemory(), &recordingDeliverer{}, &stubCloser{}, nil)

	err := w.handleOutboxDeliver(context.Background(), asynq.NewTask(TaskOutboxDeliver, []byte(`{"outboxId":"nope"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = w.handleCaseAutoClose(context.Background(), asynq.NewTask(TaskCaseAutoClose, []byte(`not json`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWorkerAutoClose(t *testing.T) {
	closer := &stubCloser{closed: true}
	w := newWorker(repository.NewMemory(), &recordingDeliverer{}, closer, nil)
	caseID := uuid.New()

	task, err := NewCaseAutoCloseTask(CaseAutoClosePayload{CaseID: caseID.String()})
	require.NoError(t, err)
	require.NoError(t, w.handleCaseAutoClose(context.Background(), task))
	assert.Equal(t, []uuid.UUID{caseID}, closer.calls)

	closer.err = errors.New("busy")
	assert.Error(t, w.handleCaseAutoClose(context.Background(), task))
}
