package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSendsEntry(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/records", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "entry-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"txRef":"0xabc"}`))
	}))
	defer srv.Close()

	hash, canonical, err := ContentHash([]byte(`{"seq":1,"caseCode":"SR-ABCD-EFGH"}`))
	require.NoError(t, err)

	c := New(srv.URL, "secret", time.Second, nil)
	ref, err := c.Record(context.Background(), Entry{
		CaseCode:       "SR-ABCD-EFGH",
		ActionType:     "confirm",
		ContentHash:    hash,
		ActorRole:      "reporter",
		Payload:        canonical,
		IdempotencyKey: "entry-1",
	})
	require.NoError(t, err)
	assert.Equal(t, TxRef("0xabc"), ref)
	assert.Equal(t, hash, got["contentHash"])
	assert.Equal(t, "confirm", got["actionType"])
	assert.Equal(t, map[string]any{"caseCode": "SR-ABCD-EFGH", "seq": float64(1)}, got["payload"])
}

func TestRecordConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second, nil).Record(context.Background(), Entry{CaseCode: "x"})
	assert.NoError(t, err)
}

func TestRecordRejectedDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"hash mismatch"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, nil, WithBreaker(NewCircuitBreaker(1, time.Minute)))
	_, err := c.Record(context.Background(), Entry{CaseCode: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
	assert.False(t, c.Breaker().IsOpen())
}

func TestRecordServerErrorsOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, nil,
		WithBreaker(NewCircuitBreaker(2, time.Minute)),
		WithRetry(0, time.Millisecond),
	)
	for i := 0; i < 2; i++ {
		_, err := c.Record(context.Background(), Entry{CaseCode: "x"})
		require.Error(t, err)
	}
	assert.True(t, c.Breaker().IsOpen())

	_, err := c.Record(context.Background(), Entry{CaseCode: "x"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerHalfOpens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.False(t, cb.Allow(), "a failed probe reopens immediately")

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.True(t, cb.Allow())
}

func TestContentHashIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, _, err := ContentHash([]byte(`{"b":2,"a":{"y":1,"x":"v"}}`))
	require.NoError(t, err)
	b, _, err := ContentHash([]byte("{\n  \"a\": {\"x\": \"v\", \"y\": 1},\n  \"b\": 2\n}"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, _, err := ContentHash([]byte(`{"b":3,"a":{"y":1,"x":"v"}}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, _, err = ContentHash([]byte(`not json`))
	assert.Error(t, err)
}
