package cases

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"safereport_backend/internal/cases/repository"
	apphttp "safereport_backend/internal/http"
	"safereport_backend/internal/http/router"
	"safereport_backend/platform/httpkit"
	"safereport_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRouterConfig struct {
	intakeRate int
}

func (c testRouterConfig) GetHTTPAddr() string         { return ":0" }
func (c testRouterConfig) GetCORSAllowAll() bool       { return false }
func (c testRouterConfig) GetCORSOrigins() []string    { return []string{"http://localhost:4200"} }
func (c testRouterConfig) GetCORSAllowCreds() bool     { return true }
func (c testRouterConfig) GetIntakeRatePerMinute() int { return c.intakeRate }
func (c testRouterConfig) GetJWTAccessSecret() string  { return "test-access-secret" }

type apiClient struct {
	t      *testing.T
	engine *gin.Engine
	cfg    testRouterConfig
}

func newAPI(t *testing.T, intakeRate int) *apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testRouterConfig{intakeRate: intakeRate}
	module := NewModule(repository.NewMemory(), nil, nil, validator.New(), nil)

	engine := router.New(&apphttp.App{
		Config:  cfg,
		Metrics: prometheus.NewRegistry(),
		Modules: []apphttp.Module{module},
	})
	return &apiClient{t: t, engine: engine, cfg: cfg}
}

func (a *apiClient) token(userID uuid.UUID, roles ...string) string {
	a.t.Helper()
	tok, err := httpkit.SignAccessToken(a.cfg, userID, roles, time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *apiClient) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func TestAnonymousIntake(t *testing.T) {
	api := newAPI(t, 10)

	rec := api.do(http.MethodPost, "/api/v1/intake", "", map[string]string{
		"category":    "harassment",
		"description": "Something happened at the office",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "Received", body["status"])
	assert.NotEmpty(t, body["code"])

	rec = api.do(http.MethodPost, "/api/v1/intake", "", map[string]string{"category": "harassment"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[errorBody](t, rec).Code)
}

func TestIntakeIsRateLimited(t *testing.T) {
	api := newAPI(t, 1)
	payload := map[string]string{"category": "other", "description": "first"}

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/intake", "", payload).Code)
	rec := api.do(http.MethodPost, "/api/v1/intake", "", payload)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCaseRoutesRequireToken(t *testing.T) {
	api := newAPI(t, 10)
	rec := api.do(http.MethodGet, "/api/v1/cases/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t, 10)
	admin := api.token(uuid.New(), "admin")
	psychID := uuid.New()
	psych := api.token(psychID, "psychologist")
	reporter := api.token(uuid.New(), "reporter")

	rec := api.do(http.MethodPost, "/api/v1/cases", reporter, map[string]string{
		"category":     "bullying",
		"description":  "Repeated comments in meetings",
		"contactEmail": "reporter@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	caseID := decode[map[string]any](t, rec)["id"].(string)
	transitions := "/api/v1/cases/" + caseID + "/transitions"

	start := time.Date(2026, 4, 7, 10, 0, 0, 0, time.UTC)
	steps := []struct {
		token string
		body  map[string]any
		want  string
	}{
		{admin, map[string]any{"intent": "approve"}, "Approved"},
		{admin, map[string]any{"intent": "schedule", "payload": map[string]any{"schedule": map[string]any{
			"reviewerId": psychID.String(),
			"startsAt":   start,
			"endsAt":     start.Add(90 * time.Minute),
		}}}, "Scheduled"},
		{psych, map[string]any{"intent": "submit_notes", "payload": map[string]any{"notes": map[string]any{
			"summary":   "Discussed the incidents",
			"riskLevel": "medium",
		}}}, "AwaitingConfirmation"},
		{reporter, map[string]any{"intent": "confirm"}, "Closed"},
	}
	for i, step := range steps {
		rec := api.do(http.MethodPost, transitions, step.token, step.body)
		require.Equal(t, http.StatusOK, rec.Code, "step %d: %s", i, rec.Body.String())
		res := decode[map[string]any](t, rec)
		assert.Equal(t, step.want, res["status"])
		assert.EqualValues(t, i+1, res["seq"])
	}

	rec = api.do(http.MethodGet, "/api/v1/cases/"+caseID, reporter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[map[string]map[string]any](t, rec)
	assert.Equal(t, "Closed", snap["case"]["status"])
	assert.Equal(t, "confirmed", snap["note"]["status"])

	rec = api.do(http.MethodGet, "/api/v1/cases/"+caseID+"/audit", reporter, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/cases/"+caseID+"/audit", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[struct {
		Entries []struct {
			Seq      int64  `json:"seq"`
			ToStatus string `json:"toStatus"`
		} `json:"entries"`
	}](t, rec)
	require.Len(t, trail.Entries, 4)
	assert.Equal(t, "Closed", trail.Entries[3].ToStatus)
}

func TestTransitionErrors(t *testing.T) {
	api := newAPI(t, 10)
	admin := api.token(uuid.New(), "admin")
	reporter := api.token(uuid.New(), "reporter")

	rec := api.do(http.MethodPost, "/api/v1/intake", "", map[string]string{"category": "other", "description": "d"})
	require.Equal(t, http.StatusCreated, rec.Code)
	transitions := "/api/v1/cases/" + decode[map[string]any](t, rec)["id"].(string) + "/transitions"

	rec = api.do(http.MethodPost, transitions, admin, map[string]any{"intent": "teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, transitions, admin, map[string]any{"intent": "confirm"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, rec).Code)

	rec = api.do(http.MethodPost, transitions, admin, map[string]any{"intent": "reject"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, transitions, admin, map[string]any{"intent": "approve", "expectedStatus": "Approved"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "conflict", body.Code)
	assert.True(t, body.Retryable)

	rec = api.do(http.MethodGet, strings.TrimSuffix(transitions, "/transitions"), reporter, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "anonymous case is not visible to reporters")

	rec = api.do(http.MethodPost, "/api/v1/cases/not-a-uuid/transitions", admin, map[string]any{"intent": "approve"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenWithoutCaseRoleIsForbidden(t *testing.T) {
	api := newAPI(t, 10)
	rec := api.do(http.MethodGet, "/api/v1/cases/"+uuid.NewString(), api.token(uuid.New(), "auditor"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t, 10)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/metrics", "", nil).Code)
}
