package validation

import (
	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

// Engine applies the rule battery to analysis results.
type Engine struct {
	rules      []Rule
	thresholds Thresholds
}

// NewEngine creates an engine with the default rule battery.
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{
		rules:      DefaultRules(),
		thresholds: thresholds,
	}
}

// NewEngineWithRules creates an engine with an explicit rule set. Used by
// tests and by deployments that register additional fraud rules.
func NewEngineWithRules(thresholds Thresholds, rules []Rule) *Engine {
	return &Engine{rules: rules, thresholds: thresholds}
}

// Validate runs every rule and accumulates findings. A failing rule never
// short-circuits later rules. The result is valid iff no warnings were
// raised and no rule required manual review.
func (e *Engine) Validate(a *types.AnalysisResult) types.ValidationResult {
	result := types.ValidationResult{
		Warnings:       []string{},
		FlaggedReasons: []string{},
	}
	if a == nil {
		result.Warnings = append(result.Warnings, "no analysis result to validate")
		result.RequiresManualReview = true
		return result
	}

	for _, rule := range e.rules {
		for _, f := range rule(a, e.thresholds) {
			if f.Warning != "" {
				result.Warnings = append(result.Warnings, f.Warning)
			}
			if f.Reason != "" {
				result.FlaggedReasons = append(result.FlaggedReasons, f.Reason)
			}
			if f.RequiresReview {
				result.RequiresManualReview = true
			}
		}
	}

	result.IsValid = len(result.Warnings) == 0 && !result.RequiresManualReview
	return result
}
