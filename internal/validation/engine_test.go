package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

func newEngine() *Engine {
	return NewEngine(DefaultThresholds())
}

func cleanResult() *types.AnalysisResult {
	return &types.AnalysisResult{
		DamagedParts: []types.DamagedPart{
			{Name: "front bumper", Severity: types.SeveritySevere, RepairEstimate: 1800},
		},
		OverallSeverity: types.SeveritySevere,
		Confidence:      0.95,
	}
}

func TestValidate_CleanResultIsValid(t *testing.T) {
	res := newEngine().Validate(cleanResult())

	assert.True(t, res.IsValid)
	assert.Empty(t, res.Warnings)
	assert.False(t, res.RequiresManualReview)
}

func TestValidate_Idempotent(t *testing.T) {
	e := newEngine()
	a := &types.AnalysisResult{
		DamagedParts:    nil,
		OverallSeverity: types.SeverityMinor,
		Confidence:      0.4,
		VehicleInfo:     &types.VehicleIdentity{LicensePlate: "ABC-1234", VIN: "1HGBH41JXMN109186"},
	}

	first := e.Validate(a)
	second := e.Validate(a)
	assert.Equal(t, first, second)
}

func TestValidate_LowConfidenceNoDamage(t *testing.T) {
	a := &types.AnalysisResult{
		OverallSeverity: types.SeverityMinor,
		Confidence:      0.50,
	}

	res := newEngine().Validate(a)

	// Both rules fire independently.
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.FlaggedReasons, ReasonLowConfidence)
	assert.Contains(t, res.FlaggedReasons, ReasonNoDamageDetected)
	assert.True(t, res.RequiresManualReview)
	assert.False(t, res.IsValid)
}

func TestValidate_SeverityInconsistency(t *testing.T) {
	a := cleanResult()
	a.OverallSeverity = types.SeverityMinor

	res := newEngine().Validate(a)

	assert.Contains(t, res.FlaggedReasons, ReasonSeverityInconsistent)
	assert.True(t, res.RequiresManualReview)
}

func TestValidate_PlaceholderIdentity(t *testing.T) {
	cases := []struct {
		name     string
		identity types.VehicleIdentity
	}{
		{"textbook plate", types.VehicleIdentity{LicensePlate: "ABC-1234"}},
		{"textbook vin", types.VehicleIdentity{VIN: "1HGBH41JXMN109186"}},
		{"template token", types.VehicleIdentity{LicensePlate: "[LICENSE_PLATE]"}},
		{"sample marker", types.VehicleIdentity{VIN: "SAMPLE-VIN-12345"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := cleanResult()
			a.VehicleInfo = &tc.identity

			res := newEngine().Validate(a)
			assert.Contains(t, res.FlaggedReasons, ReasonPlaceholderIdentity)
			assert.True(t, res.RequiresManualReview)
		})
	}
}

func TestValidate_RealIdentityNotFlagged(t *testing.T) {
	a := cleanResult()
	a.VehicleInfo = &types.VehicleIdentity{LicensePlate: "KRP-7734", VIN: "5YJSA1E26MF410584"}

	res := newEngine().Validate(a)
	assert.NotContains(t, res.FlaggedReasons, ReasonPlaceholderIdentity)
}

func TestValidate_VehicleMismatchAlwaysFlagged(t *testing.T) {
	a := cleanResult()
	a.VehicleVerification = &types.VehicleVerification{
		VerificationStatus: types.VerificationMismatched,
		Confidence:         0.99,
	}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonVehicleMismatch)
	assert.True(t, res.RequiresManualReview)
}

func TestValidate_InsufficientDataIsInformational(t *testing.T) {
	a := cleanResult()
	a.VehicleVerification = &types.VehicleVerification{
		VerificationStatus: types.VerificationInsufficientData,
	}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonInsufficientVerification)
	assert.False(t, res.RequiresManualReview)
	// A warning was raised, so the result is still not clean.
	assert.False(t, res.IsValid)
}

func TestValidate_MatchOnSingleFieldIsDowngraded(t *testing.T) {
	a := cleanResult()
	a.VehicleVerification = &types.VehicleVerification{
		VerificationStatus: types.VerificationMatched,
		Confidence:         0.9,
		MediaVehicle:       &types.VehicleIdentity{Make: "Toyota"},
	}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonInsufficientMatch)
	assert.True(t, res.RequiresManualReview)
}

func TestValidate_WeakMatchConfidence(t *testing.T) {
	a := cleanResult()
	a.VehicleVerification = &types.VehicleVerification{
		VerificationStatus: types.VerificationMatched,
		Confidence:         0.5,
		MediaVehicle:       &types.VehicleIdentity{Make: "Toyota", Model: "Corolla", Year: 2021},
	}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonWeakMatch)
	assert.NotContains(t, res.FlaggedReasons, ReasonInsufficientMatch)
	assert.True(t, res.RequiresManualReview)
}

func TestValidate_SolidMatchNotFlagged(t *testing.T) {
	a := cleanResult()
	a.VehicleVerification = &types.VehicleVerification{
		VerificationStatus: types.VerificationMatched,
		Confidence:         0.92,
		MediaVehicle:       &types.VehicleIdentity{Make: "Toyota", Model: "Corolla", Color: "blue"},
	}

	res := newEngine().Validate(a)
	assert.True(t, res.IsValid)
}

func TestValidate_PayoutExceedsCoverage(t *testing.T) {
	a := cleanResult()
	a.ClaimAssessment = &types.ClaimAssessment{
		FinancialBreakdown: &types.FinancialBreakdown{TotalRepairCost: 12000, EstimatedPayout: 60000},
	}
	a.PolicyAnalysis = &types.PolicyAnalysis{
		CoverageLimits: map[string]float64{"collision": 50000},
	}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonPayoutExceedsCoverage)
	assert.True(t, res.RequiresManualReview)
}

func TestValidate_HighValueClaim(t *testing.T) {
	a := cleanResult()
	a.ClaimAssessment = &types.ClaimAssessment{
		FinancialBreakdown: &types.FinancialBreakdown{TotalRepairCost: 30000, EstimatedPayout: 28000},
	}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonHighValueClaim)
}

func TestValidate_CostWithoutDamage(t *testing.T) {
	a := &types.AnalysisResult{
		OverallSeverity: types.SeverityModerate,
		Confidence:      0.9,
		ClaimAssessment: &types.ClaimAssessment{
			FinancialBreakdown: &types.FinancialBreakdown{TotalRepairCost: 4200},
		},
	}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonCostWithoutDamage)
	// The empty parts list also trips the no-damage rule.
	assert.Contains(t, res.FlaggedReasons, ReasonNoDamageDetected)
	assert.True(t, res.RequiresManualReview)
}

func TestValidate_NeedsInvestigationPropagates(t *testing.T) {
	a := cleanResult()
	a.ClaimAssessment = &types.ClaimAssessment{RequiresInvestigation: true}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonNeedsInvestigation)
	assert.True(t, res.RequiresManualReview)
}

func TestValidate_ConfidentDenialIsInformational(t *testing.T) {
	a := cleanResult()
	a.Confidence = 0.95
	a.ClaimAssessment = &types.ClaimAssessment{Determination: types.DeterminationDenied}

	res := newEngine().Validate(a)
	assert.Contains(t, res.FlaggedReasons, ReasonConfidentDenial)
	assert.False(t, res.RequiresManualReview)
}

func TestValidate_AllRulesRunEvenWhenEarlyRulesFire(t *testing.T) {
	a := &types.AnalysisResult{
		OverallSeverity: types.SeverityMinor,
		Confidence:      0.3,
		VehicleInfo:     &types.VehicleIdentity{VIN: "1HGBH41JXMN109186"},
		ClaimAssessment: &types.ClaimAssessment{
			Determination:      types.DeterminationNeedsInvestigation,
			FinancialBreakdown: &types.FinancialBreakdown{TotalRepairCost: 50000},
		},
	}

	res := newEngine().Validate(a)
	for _, reason := range []string{
		ReasonLowConfidence,
		ReasonNoDamageDetected,
		ReasonPlaceholderIdentity,
		ReasonHighValueClaim,
		ReasonCostWithoutDamage,
		ReasonNeedsInvestigation,
	} {
		assert.Contains(t, res.FlaggedReasons, reason)
	}
}

func TestValidate_NilResult(t *testing.T) {
	res := newEngine().Validate(nil)
	assert.False(t, res.IsValid)
	assert.True(t, res.RequiresManualReview)
}
