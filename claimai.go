// Package claimai orchestrates AI analysis of vehicle-damage insurance
// claims. It selects an upstream model under per-model quota budgets, retries
// transient failures across a tiered fallback chain, validates the returned
// analysis for fraud and consistency signals, and records a tamper-evident
// audit trail keyed by content hash.
//
// Basic usage:
//
//	orch, err := claimai.New(
//	    claimai.WithFastModel("gemini-2.0-flash", claimai.Limits{
//	        RequestsPerMinute: 15,
//	        TokensPerMinute:   1_000_000,
//	    }),
//	    claimai.WithStandardModel("gemini-1.5-pro", claimai.Limits{
//	        RequestsPerMinute: 2,
//	        TokensPerMinute:   32_000,
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	outcome, err := orch.Analyze(ctx, claimai.Request{
//	    Action:          claimai.ActionAnalyzeDamage,
//	    ContentHashes:   hashes,
//	    EstimatedTokens: est,
//	}, invoke)
package claimai

import (
	"github.com/Marius555/insuranceSaas-sub000/internal/audit"
	"github.com/Marius555/insuranceSaas-sub000/internal/quota"
	"github.com/Marius555/insuranceSaas-sub000/pkg/errors"
	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

// Version is the current version of the orchestration core.
const Version = "1.0.0"

// Re-export core types for convenience so callers can stay on the root
// package for common flows.
type (
	// AnalysisResult is the structured analysis decoded from a model response.
	AnalysisResult = types.AnalysisResult

	// ValidationResult carries fraud and consistency findings for an analysis.
	ValidationResult = types.ValidationResult

	// ModelResponse is the raw response from one model invocation.
	ModelResponse = types.ModelResponse

	// TokenUsage is the token accounting reported by the upstream model.
	TokenUsage = types.TokenUsage

	// Limits is the per-minute request and token budget for one model.
	Limits = quota.Limits

	// AnalysisError is a classified upstream failure.
	AnalysisError = errors.AnalysisError

	// Action identifies the analysis operation being performed.
	Action = audit.Action
)

// Audit actions recognized by the orchestrator.
const (
	ActionAnalyzeDamage   = audit.ActionAnalyzeDamage
	ActionAnalyzeDocument = audit.ActionAnalyzeDocument
	ActionVerifyVehicle   = audit.ActionVerifyVehicle
)

// HashContent returns the hex SHA-256 digest used to key audit entries and
// the result cache.
func HashContent(content []byte) string {
	return audit.HashContent(content)
}
