// Package ledger notarizes committed case transitions on an external
// append-only ledger service.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"safereport_backend/platform/config"
	"safereport_backend/platform/logger"

	"github.com/go-resty/resty/v2"
)

// ErrCircuitOpen is returned without calling the ledger while the breaker is open.
var ErrCircuitOpen = errors.New("ledger circuit open")

// Entry is one notarization request.
type Entry struct {
	CaseCode    string `json:"caseCode"`
	ActionType  string `json:"actionType"`
	ContentHash string `json:"contentHash"`
	ActorRole   string `json:"actorRole"`
	// Payload is the canonical JSON the hash was computed over.
	Payload []byte `json:"-"`
	// IdempotencyKey lets the ledger drop a redelivered record.
	IdempotencyKey string `json:"-"`
}

// TxRef identifies the ledger transaction that recorded an entry.
type TxRef string

// Recorder is the ledger surface the dispatcher depends on.
type Recorder interface {
	Record(ctx context.Context, e Entry) (TxRef, error)
}

// NoopRecorder accepts every entry without calling anything.
type NoopRecorder struct{}

func (NoopRecorder) Record(ctx context.Context, e Entry) (TxRef, error) {
	return "", nil
}

type recordRequest struct {
	CaseCode    string  `json:"caseCode"`
	ActionType  string  `json:"actionType"`
	ContentHash string  `json:"contentHash"`
	ActorRole   string  `json:"actorRole"`
	Payload     rawJSON `json:"payload"`
}

type recordResponse struct {
	TxRef string `json:"txRef"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client is the HTTP client for the ledger API.
type Client struct {
	http    *resty.Client
	breaker *CircuitBreaker
	log     *logger.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithRetry sets how often resty retries transport errors and 5xx responses.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *Client) {
		c.http.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(4 * wait)
	}
}

// New creates a ledger client for baseURL.
func New(baseURL, apiKey string, timeout time.Duration, log *logger.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}

	c := &Client{
		http:    httpClient,
		breaker: NewCircuitBreaker(5, time.Minute),
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRecorder returns a Client, or a NoopRecorder when no ledger is configured.
func NewRecorder(cfg config.LedgerConfig, log *logger.Logger) Recorder {
	if !cfg.IsLedgerEnabled() {
		return NoopRecorder{}
	}
	return New(cfg.GetLedgerURL(), cfg.GetLedgerAPIKey(), cfg.GetLedgerTimeout(), log)
}

// Breaker exposes the circuit breaker for metrics.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Record submits e. A 409 means the ledger already holds the entry and is
// treated as success.
func (c *Client) Record(ctx context.Context, e Entry) (TxRef, error) {
	if !c.breaker.Allow() {
		return "", ErrCircuitOpen
	}

	var (
		out    recordResponse
		failed errorResponse
	)
	req := c.http.R().
		SetContext(ctx).
		SetBody(recordRequest{
			CaseCode:    e.CaseCode,
			ActionType:  e.ActionType,
			ContentHash: e.ContentHash,
			ActorRole:   e.ActorRole,
			Payload:     rawJSON(e.Payload),
		}).
		SetResult(&out).
		SetError(&failed)
	if e.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", e.IdempotencyKey)
	}

	resp, err := req.Post("/v1/records")
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Error("ledger request failed", "error", err, "case_code", e.CaseCode)
		return "", fmt.Errorf("ledger request: %w", err)
	}

	switch {
	case resp.IsSuccess(), resp.StatusCode() == http.StatusConflict:
		c.breaker.RecordSuccess()
		return TxRef(out.TxRef), nil
	case resp.StatusCode() >= http.StatusInternalServerError:
		c.breaker.RecordFailure()
		c.log.Error("ledger upstream error", "status", resp.StatusCode(), "case_code", e.CaseCode)
		return "", fmt.Errorf("ledger upstream error: status %d", resp.StatusCode())
	default:
		c.log.Error("ledger rejected entry", "status", resp.StatusCode(), "error", failed.Error, "case_code", e.CaseCode)
		return "", fmt.Errorf("ledger rejected entry: status %d: %s", resp.StatusCode(), failed.Error)
	}
}

// rawJSON embeds already-encoded JSON; nil encodes as null.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}
