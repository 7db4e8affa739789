// Package validation runs the fraud/consistency rule battery over a parsed
// analysis result. Rules are independent: every rule always runs, findings
// accumulate, and the engine never blocks a result on its own. Acting on the
// manual-review flag is a downstream business decision.
package validation

import (
	"fmt"
	"strings"

	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

// Flag reason tags carried in ValidationResult.FlaggedReasons.
const (
	ReasonLowConfidence            = "low_confidence"
	ReasonNoDamageDetected         = "no_damage_detected"
	ReasonSeverityInconsistent     = "severity_inconsistent"
	ReasonPlaceholderIdentity      = "placeholder_identity"
	ReasonVehicleMismatch          = "vehicle_mismatch"
	ReasonInsufficientVerification = "insufficient_verification_data"
	ReasonInsufficientMatch        = "insufficient_match_criteria"
	ReasonWeakMatch                = "weak_verification_match"
	ReasonHighValueClaim           = "high_value_claim"
	ReasonPayoutExceedsCoverage    = "payout_exceeds_coverage"
	ReasonCostWithoutDamage        = "cost_without_damage"
	ReasonNeedsInvestigation       = "needs_investigation"
	ReasonConfidentDenial          = "confident_denial"
)

// Thresholds are the configurable business constants the rules compare
// against.
type Thresholds struct {
	// MinConfidence is the floor below which overall confidence is flagged.
	MinConfidence float64
	// MinVerificationConfidence is the secondary floor for trusting a
	// declared vehicle-identity match.
	MinVerificationConfidence float64
	// HighRiskRepairCost is the dollar amount above which a claim is treated
	// as high risk.
	HighRiskRepairCost float64
	// HighConfidenceDenial is the confidence at which a denial is surfaced
	// for a second look.
	HighConfidenceDenial float64
}

// DefaultThresholds returns the standard production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence:             0.6,
		MinVerificationConfidence: 0.7,
		HighRiskRepairCost:        25000,
		HighConfidenceDenial:      0.85,
	}
}

// Finding is one rule's contribution to the validation result.
type Finding struct {
	Warning        string
	Reason         string
	RequiresReview bool
}

// Rule inspects an analysis result and returns zero or more findings.
// Rules must be pure: no I/O, deterministic for identical input.
type Rule func(a *types.AnalysisResult, t Thresholds) []Finding

// DefaultRules returns the full rule battery in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		ruleConfidenceFloor,
		ruleDamagePresence,
		ruleSeverityConsistency,
		rulePlaceholderIdentity,
		ruleVehicleVerification,
		ruleFinancialBounds,
		ruleStatusPropagation,
	}
}

func ruleConfidenceFloor(a *types.AnalysisResult, t Thresholds) []Finding {
	if a.Confidence >= t.MinConfidence {
		return nil
	}
	return []Finding{{
		Warning:        fmt.Sprintf("analysis confidence %.2f is below the %.2f threshold", a.Confidence, t.MinConfidence),
		Reason:         ReasonLowConfidence,
		RequiresReview: true,
	}}
}

func ruleDamagePresence(a *types.AnalysisResult, _ Thresholds) []Finding {
	if len(a.DamagedParts) > 0 {
		return nil
	}
	return []Finding{{
		Warning:        "no damaged parts detected in the submitted media",
		Reason:         ReasonNoDamageDetected,
		RequiresReview: true,
	}}
}

func ruleSeverityConsistency(a *types.AnalysisResult, _ Thresholds) []Finding {
	if a.OverallSeverity != types.SeverityMinor {
		return nil
	}
	for _, part := range a.DamagedParts {
		if strings.EqualFold(part.Severity, types.SeveritySevere) {
			return []Finding{{
				Warning:        fmt.Sprintf("part %q is severe but overall severity is minor", part.Name),
				Reason:         ReasonSeverityInconsistent,
				RequiresReview: true,
			}}
		}
	}
	return nil
}

// placeholderPlates and placeholderVINs are canonical textbook examples that
// appear in model output when identity extraction was fabricated rather than
// read from the media.
var placeholderPlates = []string{
	"ABC-1234", "ABC1234", "ABC 123", "ABC123", "123-ABC", "XYZ-1234", "AAA-0000",
}

var placeholderVINs = []string{
	"1HGBH41JXMN109186", // the VIN every tutorial uses
	"11111111111111111",
	"1234567890ABCDEFG",
}

func isPlaceholderIdentity(value string) bool {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	if strings.ContainsAny(v, "[]<>{}") {
		return true // leftover template token
	}
	for _, marker := range []string{"SAMPLE", "EXAMPLE", "PLACEHOLDER", "UNKNOWN", "XXXX"} {
		if strings.Contains(v, marker) {
			return true
		}
	}
	for _, p := range placeholderPlates {
		if v == p {
			return true
		}
	}
	for _, p := range placeholderVINs {
		if v == p {
			return true
		}
	}
	return false
}

func rulePlaceholderIdentity(a *types.AnalysisResult, _ Thresholds) []Finding {
	identities := []*types.VehicleIdentity{a.VehicleInfo}
	if a.VehicleVerification != nil {
		identities = append(identities, a.VehicleVerification.MediaVehicle, a.VehicleVerification.PolicyVehicle)
	}

	var findings []Finding
	seen := map[string]bool{}
	for _, id := range identities {
		if id == nil {
			continue
		}
		checks := []struct{ field, value string }{
			{"license plate", id.LicensePlate},
			{"vin", id.VIN},
		}
		for _, c := range checks {
			field, value := c.field, c.value
			if !isPlaceholderIdentity(value) || seen[field+value] {
				continue
			}
			seen[field+value] = true
			findings = append(findings, Finding{
				Warning:        fmt.Sprintf("%s %q looks like placeholder text, not an extracted value", field, value),
				Reason:         ReasonPlaceholderIdentity,
				RequiresReview: true,
			})
		}
	}
	return findings
}

func ruleVehicleVerification(a *types.AnalysisResult, t Thresholds) []Finding {
	vv := a.VehicleVerification
	if vv == nil {
		return nil
	}

	switch vv.VerificationStatus {
	case types.VerificationMismatched:
		return []Finding{{
			Warning:        "vehicle in media does not match the vehicle on the policy",
			Reason:         ReasonVehicleMismatch,
			RequiresReview: true,
		}}

	case types.VerificationInsufficientData:
		// Informational: missing data is not itself evidence of fraud.
		return []Finding{{
			Warning: "not enough identity data to verify the vehicle against the policy",
			Reason:  ReasonInsufficientVerification,
		}}

	case types.VerificationMatched:
		var findings []Finding
		if vv.MediaVehicle.PopulatedFields() < 2 {
			findings = append(findings, Finding{
				Warning:        "match declared on fewer than two corroborating identity fields",
				Reason:         ReasonInsufficientMatch,
				RequiresReview: true,
			})
		}
		if vv.Confidence < t.MinVerificationConfidence {
			findings = append(findings, Finding{
				Warning:        fmt.Sprintf("verification confidence %.2f is too low to trust the declared match", vv.Confidence),
				Reason:         ReasonWeakMatch,
				RequiresReview: true,
			})
		}
		return findings
	}
	return nil
}

func ruleFinancialBounds(a *types.AnalysisResult, t Thresholds) []Finding {
	var fb *types.FinancialBreakdown
	if a.ClaimAssessment != nil {
		fb = a.ClaimAssessment.FinancialBreakdown
	}
	if fb == nil {
		return nil
	}

	var findings []Finding
	if t.HighRiskRepairCost > 0 && fb.TotalRepairCost > t.HighRiskRepairCost {
		findings = append(findings, Finding{
			Warning:        fmt.Sprintf("total repair cost $%.2f exceeds the high-risk threshold", fb.TotalRepairCost),
			Reason:         ReasonHighValueClaim,
			RequiresReview: true,
		})
	}
	if limit, ok := a.PolicyAnalysis.MaxCoverageLimit(); ok && fb.EstimatedPayout > limit {
		findings = append(findings, Finding{
			Warning:        fmt.Sprintf("estimated payout $%.2f exceeds the maximum coverage limit $%.2f", fb.EstimatedPayout, limit),
			Reason:         ReasonPayoutExceedsCoverage,
			RequiresReview: true,
		})
	}
	if fb.TotalRepairCost > 0 && len(a.DamagedParts) == 0 {
		findings = append(findings, Finding{
			Warning:        "repair cost declared but no damaged parts listed",
			Reason:         ReasonCostWithoutDamage,
			RequiresReview: true,
		})
	}
	return findings
}

func ruleStatusPropagation(a *types.AnalysisResult, t Thresholds) []Finding {
	ca := a.ClaimAssessment
	if ca == nil {
		return nil
	}

	var findings []Finding
	if ca.RequiresInvestigation || ca.Determination == types.DeterminationNeedsInvestigation {
		findings = append(findings, Finding{
			Warning:        "analysis flagged the claim for investigation",
			Reason:         ReasonNeedsInvestigation,
			RequiresReview: true,
		})
	}
	// A denial the model is very sure about is worth a human glance, but it
	// does not mandate review on its own.
	if ca.Determination == types.DeterminationDenied && a.Confidence >= t.HighConfidenceDenial {
		findings = append(findings, Finding{
			Warning: fmt.Sprintf("claim denied with high confidence %.2f, review recommended", a.Confidence),
			Reason:  ReasonConfidentDenial,
		})
	}
	return findings
}
