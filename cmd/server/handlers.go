package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	claimai "github.com/Marius555/insuranceSaas-sub000"
	"github.com/Marius555/insuranceSaas-sub000/internal/audit"
	"github.com/Marius555/insuranceSaas-sub000/internal/config"
	"github.com/Marius555/insuranceSaas-sub000/internal/genai"
	"github.com/Marius555/insuranceSaas-sub000/internal/observability"
	"github.com/Marius555/insuranceSaas-sub000/internal/tokenizer"
	"github.com/Marius555/insuranceSaas-sub000/internal/validation"
	claimerrors "github.com/Marius555/insuranceSaas-sub000/pkg/errors"
	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

const maxRequestBody = 32 << 20 // uploads arrive base64-encoded in JSON

// handler wires HTTP requests into the orchestrator.
type handler struct {
	orch   *claimai.Orchestrator
	client *genai.Client
	store  audit.Store
	logger *observability.Logger
}

func newHandler(orch *claimai.Orchestrator, client *genai.Client, store audit.Store, logger *observability.Logger) *handler {
	return &handler{orch: orch, client: client, store: store, logger: logger}
}

// analyzeRequest is the API payload for POST /v1/analyze.
type analyzeRequest struct {
	Action string `json:"action"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Files  []struct {
		Name    string `json:"name"`
		DataURL string `json:"data_url"`
	} `json:"files"`
	MaxTokens int `json:"max_tokens,omitempty"`
}

// analyzeResponse is the API payload returned on success.
type analyzeResponse struct {
	Analysis   *types.AnalysisResult  `json:"analysis"`
	Validation types.ValidationResult `json:"validation"`
	Model      string                 `json:"model"`
	Attempts   int                    `json:"attempts"`
	CacheHit   bool                   `json:"cache_hit"`
	Usage      *types.TokenUsage      `json:"usage,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": claimai.Version})
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithRequestID(r.Context())

	var req analyzeRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	action, ok := parseAction(req.Action)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown action: " + req.Action})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	hashes := make([]string, 0, len(req.Files))
	images := make([]genai.ImageAttachment, 0, len(req.Files))
	for _, f := range req.Files {
		hashes = append(hashes, claimai.HashContent([]byte(f.DataURL)))
		images = append(images, genai.ImageAttachment{URL: f.DataURL})
	}

	estimated := tokenizer.EstimateAnalysisTokens(h.orch.Models()[0], req.System+req.Prompt, len(images))

	outcome, err := h.orch.Analyze(r.Context(), claimai.Request{
		Action:          action,
		ContentHashes:   hashes,
		EstimatedTokens: int64(estimated),
		RequestID:       observability.RequestIDFromContext(r.Context()),
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		return h.client.Complete(ctx, genai.Invocation{
			Model:     model,
			System:    req.System,
			Prompt:    req.Prompt,
			Images:    images,
			MaxTokens: req.MaxTokens,
		})
	})
	if err != nil {
		h.writeAnalysisError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Analysis:   outcome.Result,
		Validation: outcome.Validation,
		Model:      outcome.ModelUsed,
		Attempts:   outcome.Attempts,
		CacheHit:   outcome.CacheHit,
		Usage:      outcome.Usage,
	})
}

func (h *handler) writeAnalysisError(w http.ResponseWriter, log *observability.Logger, err error) {
	var exhausted *claimai.ExhaustedError
	if errors.As(err, &exhausted) {
		w.Header().Set("Retry-After", strconv.Itoa(exhausted.RetryAfter))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: fmt.Sprintf("analysis system at capacity, retry in %d seconds", exhausted.RetryAfter),
		})
		return
	}

	var ae *claimerrors.AnalysisError
	if errors.As(err, &ae) {
		// Upstream details stay in the logs; clients get the sanitized form.
		log.RedactedError("analysis failed", "kind", string(ae.Kind), "error", ae.Message)
		status := http.StatusBadGateway
		if ae.Kind == claimerrors.KindFatal && ae.StatusCode == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: ae.Sanitized()})
		return
	}

	log.RedactedError("analysis failed", "error", err.Error())
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (h *handler) auditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audit store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func parseAction(s string) (claimai.Action, bool) {
	switch claimai.Action(s) {
	case claimai.ActionAnalyzeDamage, claimai.ActionAnalyzeDocument, claimai.ActionVerifyVehicle:
		return claimai.Action(s), true
	}
	return "", false
}

func thresholdsFromConfig(cfg *config.Config) validation.Thresholds {
	t := validation.DefaultThresholds()
	if cfg.Validation.MinConfidence > 0 {
		t.MinConfidence = cfg.Validation.MinConfidence
	}
	if cfg.Validation.MinVehicleMatch > 0 {
		t.MinVerificationConfidence = cfg.Validation.MinVehicleMatch
	}
	if cfg.Validation.HighValueClaim > 0 {
		t.HighRiskRepairCost = cfg.Validation.HighValueClaim
	}
	if cfg.Validation.ConfidentDetermination > 0 {
		t.HighConfidenceDenial = cfg.Validation.ConfidentDetermination
	}
	return t
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
