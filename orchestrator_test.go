package claimai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marius555/insuranceSaas-sub000/internal/audit"
	claimerrors "github.com/Marius555/insuranceSaas-sub000/pkg/errors"
	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

const validAnalysisJSON = `{
	"damagedParts": [{"name": "front bumper", "severity": "moderate", "repairEstimate": 850}],
	"overallSeverity": "moderate",
	"confidence": 0.91,
	"summary": "Moderate front-end collision damage."
}`

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithFastModel("fast-model", Limits{RequestsPerMinute: 10, TokensPerMinute: 100000}),
		WithStandardModel("standard-a", Limits{RequestsPerMinute: 5, TokensPerMinute: 50000}),
		WithStandardModel("standard-b", Limits{RequestsPerMinute: 5, TokensPerMinute: 50000}),
	}
	orch, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return orch
}

func okResponse() *types.ModelResponse {
	return &types.ModelResponse{
		Text:         validAnalysisJSON,
		FinishReason: "stop",
		Usage:        &types.TokenUsage{PromptTokens: 900, CompletionTokens: 150, TotalTokens: 1050},
	}
}

func TestNew_RequiresModels(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestNew_ForcedModelMustBeRegistered(t *testing.T) {
	_, err := New(
		WithFastModel("fast-model", Limits{}),
		WithForcedModel("unregistered"),
	)
	require.Error(t, err)
}

func TestAnalyze_SuccessFirstAttempt(t *testing.T) {
	orch := newTestOrchestrator(t)

	var invoked []string
	out, err := orch.Analyze(context.Background(), Request{
		Action:          ActionAnalyzeDamage,
		ContentHashes:   []string{"abc123"},
		EstimatedTokens: 2000,
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		invoked = append(invoked, model)
		return okResponse(), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fast-model"}, invoked)
	assert.Equal(t, "fast-model", out.ModelUsed)
	assert.Equal(t, 1, out.Attempts)
	assert.False(t, out.CacheHit)
	require.NotNil(t, out.Result)
	assert.Equal(t, types.SeverityModerate, out.Result.OverallSeverity)
	assert.True(t, out.Validation.IsValid)
}

func TestAnalyze_FallsBackOnRateLimit(t *testing.T) {
	orch := newTestOrchestrator(t)

	var invoked []string
	out, err := orch.Analyze(context.Background(), Request{
		Action:          ActionAnalyzeDamage,
		EstimatedTokens: 2000,
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		invoked = append(invoked, model)
		if model == "fast-model" {
			return nil, claimerrors.NewRateLimitError(model, "rate limit reached")
		}
		return okResponse(), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fast-model", "standard-a"}, invoked)
	assert.Equal(t, "standard-a", out.ModelUsed)
	assert.Equal(t, 2, out.Attempts)
}

func TestAnalyze_TruncationIsRetryable(t *testing.T) {
	orch := newTestOrchestrator(t)

	var invoked []string
	out, err := orch.Analyze(context.Background(), Request{
		Action:          ActionAnalyzeDamage,
		EstimatedTokens: 2000,
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		invoked = append(invoked, model)
		switch model {
		case "fast-model":
			// Hit the output token cap.
			return &types.ModelResponse{Text: validAnalysisJSON, FinishReason: "length"}, nil
		case "standard-a":
			// Incomplete JSON from a cut-off stream.
			return &types.ModelResponse{Text: `{"overallSeverity": "mod`, FinishReason: "stop"}, nil
		default:
			return okResponse(), nil
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fast-model", "standard-a", "standard-b"}, invoked)
	assert.Equal(t, "standard-b", out.ModelUsed)
}

func TestAnalyze_FatalStopsImmediately(t *testing.T) {
	orch := newTestOrchestrator(t)

	invocations := 0
	_, err := orch.Analyze(context.Background(), Request{
		Action:          ActionAnalyzeDamage,
		EstimatedTokens: 2000,
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		invocations++
		return nil, claimerrors.NewAuthenticationError(model, "invalid api key")
	})
	require.Error(t, err)

	assert.Equal(t, 1, invocations, "fatal errors must not trigger fallback")
	var ae *claimerrors.AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, claimerrors.KindFatal, ae.Kind)
}

func TestAnalyze_ExhaustionAfterAllModels(t *testing.T) {
	orch := newTestOrchestrator(t)

	invocations := 0
	_, err := orch.Analyze(context.Background(), Request{
		Action:          ActionAnalyzeDamage,
		EstimatedTokens: 2000,
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		invocations++
		return nil, claimerrors.NewOverloadedError(model, "overloaded")
	})
	require.Error(t, err)

	// Bounded by the number of registered models, each invoked exactly once.
	assert.Equal(t, len(orch.Models()), invocations)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, orch.Models(), ex.Models)
	assert.GreaterOrEqual(t, ex.RetryAfter, 0)
	assert.LessOrEqual(t, ex.RetryAfter, 60)

	var last *claimerrors.AnalysisError
	require.ErrorAs(t, ex.Last, &last)
	assert.Equal(t, claimerrors.KindRateLimited, last.Kind)
}

func TestAnalyze_QuotaExhaustedBeforeInvocation(t *testing.T) {
	orch, err := New(
		WithFastModel("fast-model", Limits{RequestsPerMinute: 1}),
	)
	require.NoError(t, err)

	invoke := func(ctx context.Context, model string) (*types.ModelResponse, error) {
		return okResponse(), nil
	}

	_, err = orch.Analyze(context.Background(), Request{EstimatedTokens: 10}, invoke)
	require.NoError(t, err)

	_, err = orch.Analyze(context.Background(), Request{EstimatedTokens: 10}, invoke)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Empty(t, ex.Models, "no model was attempted")
	assert.Greater(t, ex.RetryAfter, 0)
}

func TestAnalyze_ForcedModelBypassesQuota(t *testing.T) {
	orch := newTestOrchestrator(t, WithForcedModel("standard-b"))

	var invoked []string
	invoke := func(ctx context.Context, model string) (*types.ModelResponse, error) {
		invoked = append(invoked, model)
		return okResponse(), nil
	}

	for i := 0; i < 3; i++ {
		out, err := orch.Analyze(context.Background(), Request{EstimatedTokens: 1 << 30}, invoke)
		require.NoError(t, err)
		assert.Equal(t, "standard-b", out.ModelUsed)
	}
	assert.Equal(t, []string{"standard-b", "standard-b", "standard-b"}, invoked)
}

func TestAnalyze_ValidationFlagsSurfaceInOutcome(t *testing.T) {
	orch := newTestOrchestrator(t)

	out, err := orch.Analyze(context.Background(), Request{
		Action:          ActionAnalyzeDamage,
		EstimatedTokens: 100,
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		return &types.ModelResponse{
			Text:         `{"damagedParts": [], "overallSeverity": "minor", "confidence": 0.3, "summary": "unclear"}`,
			FinishReason: "stop",
		}, nil
	})
	require.NoError(t, err, "validation findings never fail the analysis")

	assert.False(t, out.Validation.IsValid)
	assert.True(t, out.Validation.RequiresManualReview)
	assert.NotEmpty(t, out.Validation.Warnings)
}

func TestAnalyze_ResultCache(t *testing.T) {
	orch := newTestOrchestrator(t, WithResultCache(time.Minute))

	invocations := 0
	invoke := func(ctx context.Context, model string) (*types.ModelResponse, error) {
		invocations++
		return okResponse(), nil
	}

	req := Request{
		Action:          ActionAnalyzeDamage,
		ContentHashes:   []string{"deadbeef", "cafef00d"},
		EstimatedTokens: 100,
	}

	first, err := orch.Analyze(context.Background(), req, invoke)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := orch.Analyze(context.Background(), req, invoke)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 1, invocations)

	// Different content misses the cache.
	other := req
	other.ContentHashes = []string{"deadbeef"}
	third, err := orch.Analyze(context.Background(), other, invoke)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, 2, invocations)
}

func TestAnalyze_AuditTrailPerAttempt(t *testing.T) {
	store := audit.NewMemoryStore(100)
	orch := newTestOrchestrator(t, WithAuditLogger(audit.NewLogger(store, nil)))

	_, err := orch.Analyze(context.Background(), Request{
		Action:          ActionAnalyzeDamage,
		ContentHashes:   []string{"abc123"},
		EstimatedTokens: 100,
		RequestID:       "req-1",
	}, func(ctx context.Context, model string) (*types.ModelResponse, error) {
		if model == "fast-model" {
			return nil, claimerrors.NewRateLimitError(model, "rate limit")
		}
		return okResponse(), nil
	})
	require.NoError(t, err)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first: the success on the fallback, then the failed attempt.
	assert.Equal(t, audit.ResultSuccess, entries[0].Result)
	assert.Equal(t, "standard-a", entries[0].Model)
	assert.Equal(t, audit.ResultError, entries[1].Result)
	assert.Equal(t, "fast-model", entries[1].Model)
	for _, e := range entries {
		assert.Equal(t, []string{"abc123"}, e.FileHashes)
		assert.Equal(t, "req-1", e.RequestID)
		assert.NotEmpty(t, e.ID)
	}
}

func TestAnalyze_NilInvoke(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, err := orch.Analyze(context.Background(), Request{}, nil)
	require.Error(t, err)
}
