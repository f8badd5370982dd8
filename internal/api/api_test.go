package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/storage"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/subsetsum"
)

const payrollCSV = `Competência;Grupo;Rubrica;Tipo;Classificação;Valor
01/2024;Ativos;Salário;PROVENTO;ENTRA;"1.000,00"
01/2024;Ativos;Diárias;PROVENTO;NEUTRA;150,00
01/2024;Ativos;Total Proventos;TOTAL;;1.150,00
01/2024;Ativos;Base INSS;BASE_OFICIAL;;1.150,00
02/2024;Desligados;Rescisão;PROVENTO;FORA;300
`

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
	Meta    Meta            `json:"meta"`
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.RateLimit = 0
	return cfg
}

func newTestServer(t *testing.T, cfg *Config, store storage.Repository) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	s, err := NewServer(Options{Config: cfg, Store: store})
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return serve(t, router, req)
}

func serve(t *testing.T, router http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/batch", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	w, env := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Meta["request_id"])
	assert.Equal(t, env.Meta["request_id"], w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"UP","storage":false}`, string(env.Data))
}

func TestRequestIDIsPropagated(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w, env := serve(t, router, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc-123", env.Meta["request_id"])
}

func TestReconcile(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	tests := []struct {
		name     string
		body     string
		state    models.State
		residual string
		chosen   []string
		status   models.QualityStatus
	}{
		{
			name:     "best sum below an unreachable target",
			body:     `{"current_base": 0, "target": "100.00", "candidates": [{"label": "A", "value": 30}, {"label": "B", "value": "30,00"}]}`,
			state:    models.StateApproximated,
			residual: "40",
			chosen:   []string{"A", "B"},
			status:   models.StatusAcceptable,
		},
		{
			name:     "brazilian amounts and exact fit",
			body:     `{"current_base": "80.000,00", "target": "80.350,50", "candidates": [{"label": "Diárias", "value": "350,50", "origin_tag": "NEUTRA"}, {"label": "Bônus", "value": "1.000,00", "origin_tag": "FORA"}]}`,
			state:    models.StateApproximated,
			residual: "0",
			chosen:   []string{"Diárias"},
			status:   models.StatusOK,
		},
		{
			name:     "over-satisfied base",
			body:     `{"current_base": 60000, "target": 50000, "candidates": []}`,
			state:    models.StateSatisfied,
			residual: "-10000",
			status:   models.StatusAcceptable,
		},
		{
			name:   "no target",
			body:   `{"current_base": 700, "target": null}`,
			state:  models.StateNoTarget,
			status: models.StatusNoTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, router, http.MethodPost, "/api/v1/reconcile", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			require.True(t, env.Success)

			var result models.ReconciliationResult
			require.NoError(t, json.Unmarshal(env.Data, &result))
			assert.Equal(t, tt.state, result.State)
			assert.Equal(t, tt.status, result.Status)
			if tt.residual == "" {
				assert.Nil(t, result.ResidualError)
			} else {
				require.NotNil(t, result.ResidualError)
				assert.True(t, result.ResidualError.Equal(decimal.RequireFromString(tt.residual)),
					"residual %s", result.ResidualError)
			}

			labels := make([]string, 0, len(result.ChosenCandidates))
			for _, c := range result.ChosenCandidates {
				labels = append(labels, c.Label)
			}
			if tt.chosen == nil {
				assert.Empty(t, labels)
			} else {
				assert.ElementsMatch(t, tt.chosen, labels)
			}
		})
	}
}

func TestReconcilePoolLimitOverride(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	body := `{"current_base": 0, "target": 100, "pool_limit": 1, "candidates": [
		{"label": "grande", "value": 90}, {"label": "pequeno", "value": 10}]}`
	w, env := do(t, router, http.MethodPost, "/api/v1/reconcile", body)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.ReconciliationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Len(t, result.ChosenCandidates, 1)
	assert.Equal(t, "grande", result.ChosenCandidates[0].Label)
	assert.True(t, result.Truncated)
	assert.Equal(t, 1, result.PoolSize)
}

func TestReconcileOriginTags(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	for _, tag := range []string{"FORA", "fora", "OUT", "neutra", "Excluded"} {
		t.Run(tag, func(t *testing.T) {
			body := `{"current_base": 0, "target": 100, "candidates": [{"label": "Bônus", "value": 60, "origin_tag": "` + tag + `"}]}`
			w, env := do(t, router, http.MethodPost, "/api/v1/reconcile", body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var result models.ReconciliationResult
			require.NoError(t, json.Unmarshal(env.Data, &result))
			require.Len(t, result.ChosenCandidates, 1)
			require.NotNil(t, result.ResidualError)
			assert.True(t, result.ResidualError.Equal(decimal.NewFromInt(40)), "residual %s", result.ResidualError)
		})
	}

	w, env := do(t, router, http.MethodPost, "/api/v1/reconcile",
		`{"current_base": 0, "target": 100, "candidates": [{"label": "Bônus", "value": 60, "origin_tag": "FROA"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_data", string(env.Error.Code))
}

func TestReconcilePoolLimitCappedByServer(t *testing.T) {
	rc := reconciler.DefaultConfig()
	rc.PoolLimit = 4
	s, err := NewServer(Options{Config: testConfig(), Reconciler: rc})
	require.NoError(t, err)
	router := s.Router()

	candidates := `[{"label": "A", "value": 50}, {"label": "B", "value": 40}, {"label": "C", "value": 30},
		{"label": "D", "value": 20}, {"label": "E", "value": 10}]`

	for _, limit := range []int{5, subsetsum.DefaultPoolLimit, subsetsum.MaxPoolLimit} {
		body := fmt.Sprintf(`{"current_base": 0, "target": 100, "pool_limit": %d, "candidates": %s}`, limit, candidates)
		w, env := do(t, router, http.MethodPost, "/api/v1/reconcile", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "pool_limit %d", limit)
		require.NotNil(t, env.Error)
		assert.Equal(t, "invalid_pool_limit", string(env.Error.Code))
	}

	body := fmt.Sprintf(`{"current_base": 0, "target": 100, "pool_limit": 4, "candidates": %s}`, candidates)
	w, env := do(t, router, http.MethodPost, "/api/v1/reconcile", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.ReconciliationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 4, result.PoolSize)
	assert.True(t, result.Truncated)
}

func TestReconcileErrors(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"current_base": `, http.StatusBadRequest, "invalid_data"},
		{"missing current base", `{"target": 10}`, http.StatusBadRequest, "missing_field"},
		{"bad amount", `{"current_base": "abc", "target": 10}`, http.StatusBadRequest, "invalid_amount"},
		{"negative target", `{"current_base": 0, "target": -1}`, http.StatusBadRequest, "negative_target"},
		{"negative candidate", `{"current_base": 0, "target": 10, "candidates": [{"label": "x", "value": -5}]}`, http.StatusBadRequest, "negative_amount"},
		{"pool limit too large", `{"current_base": 0, "target": 10, "pool_limit": 500}`, http.StatusBadRequest, "invalid_pool_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, router, http.MethodPost, "/api/v1/reconcile", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, string(env.Error.Code))
			assert.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestBatchJSON(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	groups := []models.Group{
		{
			Key:          models.GroupKey{Period: "01/2024", Segment: models.SegmentActive},
			BaseOverride: models.DecimalPtr(decimal.Zero),
			Target:       models.DecimalPtr(decimal.NewFromInt(100)),
			Candidates: []models.Candidate{
				models.NewCandidate("A", decimal.NewFromInt(60), models.OriginExcluded),
				models.NewCandidate("B", decimal.NewFromInt(40), models.OriginAmbiguous),
			},
		},
		{
			Key:    models.GroupKey{Period: "02/2024", Segment: models.SegmentActive},
			Target: models.DecimalPtr(decimal.NewFromInt(-1)),
		},
	}

	w, env := do(t, router, http.MethodPost, "/api/v1/reconcile/batch", groups)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].ResidualError.IsZero())
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "02/2024", resp.Errors[0].Group.Period)
	assert.Equal(t, "negative_target", string(resp.Errors[0].Code))
	assert.Equal(t, 1, resp.Summary[models.StatusOK])

	assert.EqualValues(t, 2, env.Meta["groups"])
	assert.EqualValues(t, 1, env.Meta["failed"])
	assert.NotContains(t, env.Meta, "run_id")
}

func TestBatchRejectsEmptyList(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	w, env := do(t, router, http.MethodPost, "/api/v1/reconcile/batch", `[]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_field", string(env.Error.Code))
}

func TestBatchUploadStoresRun(t *testing.T) {
	store := newTestStore(t)
	router := newTestServer(t, nil, store).Router()

	w, env := serve(t, router, uploadRequest(t, "folha.csv", payrollCSV))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Len(t, resp.Results, 2)
	january := resp.Results[0]
	assert.Equal(t, "folha.csv", january.Group.Source)
	require.Len(t, january.ChosenCandidates, 1)
	assert.Equal(t, "Diárias", january.ChosenCandidates[0].Label)
	assert.Equal(t, models.StatusOK, january.Status)
	assert.Equal(t, models.StateNoTarget, resp.Results[1].State)

	runID, ok := env.Meta["run_id"].(string)
	require.True(t, ok)

	w, env = do(t, router, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []storage.Run
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "folha.csv", runs[0].Source)

	w, env = do(t, router, http.MethodGet, "/api/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run storage.Run
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Len(t, run.Results, 2)

	w, env = do(t, router, http.MethodGet, "/api/v1/radar?segment=ativos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var radar []reconciler.RadarRow
	require.NoError(t, json.Unmarshal(env.Data, &radar))
	require.Len(t, radar, 1)
	assert.Equal(t, "Diárias", radar[0].Label)
	assert.InDelta(t, 100.0, radar[0].RecurrencePct, 1e-9)
	assert.Equal(t, "ATIVOS", env.Meta["segment"])
}

func TestBatchUploadErrors(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	w, env := serve(t, router, uploadRequest(t, "folha.pdf", "%PDF-1.4"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "unsupported_format", string(env.Error.Code))

	w, env = serve(t, router, uploadRequest(t, "folha.csv", "periodo;valor\n01/2024;10\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_column", string(env.Error.Code))
}

func TestHistoryEndpointsWithoutStore(t *testing.T) {
	router := newTestServer(t, nil, nil).Router()

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/x", "/api/v1/radar"} {
		w, env := do(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Equal(t, "storage_unavailable", string(env.Error.Code), path)
	}
}

func TestRunNotFoundAndBadLimit(t *testing.T) {
	router := newTestServer(t, nil, newTestStore(t)).Router()

	w, env := do(t, router, http.MethodGet, "/api/v1/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", string(env.Error.Code))

	w, _ = do(t, router, http.MethodGet, "/api/v1/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, router, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestUpdateReconciler(t *testing.T) {
	s := newTestServer(t, nil, nil)
	router := s.Router()
	body := `{"current_base": 0, "target": 100, "candidates": [{"label": "A", "value": 95}]}`

	_, env := do(t, router, http.MethodPost, "/api/v1/reconcile", body)
	var result models.ReconciliationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.StatusOK, result.Status)

	cfg := s.ReconcilerConfig()
	cfg.Bands.OK = decimal.NewFromInt(1)
	require.NoError(t, s.UpdateReconciler(cfg))

	_, env = do(t, router, http.MethodPost, "/api/v1/reconcile", body)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.StatusAcceptable, result.Status)

	cfg.Bands.OK = decimal.NewFromInt(-1)
	assert.Error(t, s.UpdateReconciler(cfg))
	assert.True(t, s.ReconcilerConfig().Bands.OK.Equal(decimal.NewFromInt(1)), "invalid settings are not applied")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 2
	router := newTestServer(t, cfg, nil).Router()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w, _ := do(t, router, http.MethodGet, "/api/v1/radar", nil)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusTooManyRequests}, codes)

	w, _ := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health is not rate limited")
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "clients are limited separately")

	now = now.Add(clientIdleTTL + time.Second)
	rl.get("10.0.0.3")
	rl.mu.Lock()
	assert.Len(t, rl.clients, 1)
	rl.mu.Unlock()
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no addr", func(c *Config) { c.Addr = "" }, true},
		{"bad mode", func(c *Config) { c.Mode = "prod" }, true},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, true},
		{"zero burst", func(c *Config) { c.RateBurst = 0 }, true},
		{"limiting disabled", func(c *Config) { c.RateLimit = 0; c.RateBurst = 0 }, false},
		{"no upload size", func(c *Config) { c.MaxUploadBytes = 0 }, true},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusForUnknownError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	fail(c, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"unexpected_error"`))
}
