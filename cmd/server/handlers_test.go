package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	claimai "github.com/Marius555/insuranceSaas-sub000"
	"github.com/Marius555/insuranceSaas-sub000/internal/audit"
	"github.com/Marius555/insuranceSaas-sub000/internal/genai"
	"github.com/Marius555/insuranceSaas-sub000/internal/observability"
)

const upstreamAnalysis = `{
	"damagedParts": [{"name": "rear bumper", "severity": "minor", "repairEstimate": 400}],
	"overallSeverity": "minor",
	"confidence": 0.92,
	"summary": "Minor rear bumper scuff."
}`

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LoggerConfig{
		Level:  slog.LevelError,
		Output: io.Discard,
	}, nil)
}

// newTestHandler wires a handler against a stub upstream provider.
func newTestHandler(t *testing.T, upstream http.HandlerFunc, opts ...claimai.Option) (*handler, *audit.MemoryStore) {
	t.Helper()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	store := audit.NewMemoryStore(100)
	base := []claimai.Option{
		claimai.WithFastModel("fast-model", claimai.Limits{RequestsPerMinute: 100, TokensPerMinute: 1000000}),
		claimai.WithStandardModel("standard-a", claimai.Limits{RequestsPerMinute: 100, TokensPerMinute: 1000000}),
		claimai.WithAuditLogger(audit.NewLogger(store, testLogger().Slog())),
		claimai.WithLogger(testLogger().Slog()),
	}
	orch, err := claimai.New(append(base, opts...)...)
	require.NoError(t, err)

	client := genai.NewClient(genai.Config{BaseURL: srv.URL, APIKey: "test"})
	return newHandler(orch, client, store, testLogger()), store
}

func postAnalyze(t *testing.T, h *handler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.analyze(rec, req)
	return rec
}

func TestAnalyzeEndpoint_Success(t *testing.T) {
	h, store := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": ` + quoteJSON(upstreamAnalysis) + `}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 500, "completion_tokens": 80, "total_tokens": 580}}`))
	})

	rec := postAnalyze(t, h, `{
		"action": "analyze_damage",
		"prompt": "assess the attached photos",
		"files": [{"name": "front.jpg", "data_url": "data:image/jpeg;base64,AAAA"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fast-model", resp.Model)
	assert.Equal(t, 1, resp.Attempts)
	require.NotNil(t, resp.Analysis)
	assert.Equal(t, "minor", resp.Analysis.OverallSeverity)
	assert.True(t, resp.Validation.IsValid)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ResultSuccess, entries[0].Result)
	assert.Len(t, entries[0].FileHashes, 1)
}

func TestAnalyzeEndpoint_BadRequest(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	})

	cases := map[string]string{
		"malformed json": `{`,
		"unknown action": `{"action": "delete_everything", "prompt": "x"}`,
		"missing prompt": `{"action": "analyze_damage"}`,
	}
	for name, payload := range cases {
		rec := postAnalyze(t, h, payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestAnalyzeEndpoint_CapacityExhausted(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit"}}`))
	})

	rec := postAnalyze(t, h, `{"action": "analyze_damage", "prompt": "x"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "at capacity")
	// Upstream failure details never reach the client.
	assert.NotContains(t, rec.Body.String(), "rate limit")
}

func TestAnalyzeEndpoint_FatalSanitized(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid api key sk-secret123"}}`))
	})

	rec := postAnalyze(t, h, `{"action": "analyze_damage", "prompt": "x"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secret123")
}

func TestAuditRecentEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": ` + quoteJSON(upstreamAnalysis) + `}, "finish_reason": "stop"}]}`))
	})

	rec := postAnalyze(t, h, `{"action": "verify_vehicle", "prompt": "match the plates"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/recent?limit=5", nil)
	auditRec := httptest.NewRecorder()
	h.auditRecent(auditRec, req)
	require.Equal(t, http.StatusOK, auditRec.Code)

	var resp struct {
		Entries []*audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(auditRec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, audit.ActionVerifyVehicle, resp.Entries[0].Action)
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

// quoteJSON JSON-quotes a string for embedding inside a response body literal.
func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
