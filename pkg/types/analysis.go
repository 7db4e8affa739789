// Package types defines the structured analysis schema shared between the
// orchestration core and the surrounding claim-processing layers.
// The analysis result mirrors the JSON schema the upstream model is prompted
// to emit; the core treats it as read-only input.
package types

import "strings"

// Severity levels for damage classification.
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

// Vehicle verification statuses comparing identity extracted from media
// against the identity declared on the policy document.
const (
	VerificationMatched          = "matched"
	VerificationMismatched       = "mismatched"
	VerificationInsufficientData = "insufficient_data"
)

// Claim determinations the model may declare.
const (
	DeterminationApproved           = "approved"
	DeterminationDenied             = "denied"
	DeterminationNeedsInvestigation = "needs_investigation"
)

// AnalysisResult is the parsed structured output of a damage-analysis call.
type AnalysisResult struct {
	DamagedParts        []DamagedPart        `json:"damagedParts"`
	OverallSeverity     string               `json:"overallSeverity"`
	Confidence          float64              `json:"confidence"`
	Summary             string               `json:"summary,omitempty"`
	VehicleInfo         *VehicleIdentity     `json:"vehicleInfo,omitempty"`
	VehicleVerification *VehicleVerification `json:"vehicleVerification,omitempty"`
	ClaimAssessment     *ClaimAssessment     `json:"claimAssessment,omitempty"`
	PolicyAnalysis      *PolicyAnalysis      `json:"policyAnalysis,omitempty"`
}

// DamagedPart describes a single damaged component identified in the media.
type DamagedPart struct {
	Name           string  `json:"name"`
	Severity       string  `json:"severity"`
	Description    string  `json:"description,omitempty"`
	RepairEstimate float64 `json:"repairEstimate,omitempty"`
}

// VehicleIdentity holds identity fields extracted from media or documents.
// Empty strings and a zero year mean the field could not be extracted.
type VehicleIdentity struct {
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Year         int    `json:"year,omitempty"`
	Color        string `json:"color,omitempty"`
	LicensePlate string `json:"licensePlate,omitempty"`
	VIN          string `json:"vin,omitempty"`
}

// PopulatedFields returns how many identity fields carry a value.
func (v *VehicleIdentity) PopulatedFields() int {
	if v == nil {
		return 0
	}
	n := 0
	for _, s := range []string{v.Make, v.Model, v.Color, v.LicensePlate, v.VIN} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	if v.Year != 0 {
		n++
	}
	return n
}

// VehicleVerification compares the vehicle seen in media with the vehicle on
// the policy.
type VehicleVerification struct {
	VerificationStatus string           `json:"verificationStatus"`
	Confidence         float64          `json:"confidence"`
	MediaVehicle       *VehicleIdentity `json:"mediaVehicle,omitempty"`
	PolicyVehicle      *VehicleIdentity `json:"policyVehicle,omitempty"`
	Notes              string           `json:"notes,omitempty"`
}

// ClaimAssessment carries the model's recommended claim outcome.
type ClaimAssessment struct {
	Determination         string              `json:"determination,omitempty"`
	RequiresInvestigation bool                `json:"requiresInvestigation,omitempty"`
	Rationale             string              `json:"rationale,omitempty"`
	FinancialBreakdown    *FinancialBreakdown `json:"financialBreakdown,omitempty"`
}

// FinancialBreakdown holds the model's cost estimates in dollars.
type FinancialBreakdown struct {
	TotalRepairCost float64 `json:"totalRepairCost"`
	EstimatedPayout float64 `json:"estimatedPayout"`
	Deductible      float64 `json:"deductible,omitempty"`
}

// PolicyAnalysis summarizes the coverage extracted from the policy document.
type PolicyAnalysis struct {
	PolicyNumber   string             `json:"policyNumber,omitempty"`
	CoverageLimits map[string]float64 `json:"coverageLimits,omitempty"`
}

// MaxCoverageLimit returns the largest configured coverage limit and whether
// any limit is present at all.
func (p *PolicyAnalysis) MaxCoverageLimit() (float64, bool) {
	if p == nil || len(p.CoverageLimits) == 0 {
		return 0, false
	}
	var max float64
	found := false
	for _, v := range p.CoverageLimits {
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found
}

// ValidationResult is produced by the fraud/consistency rule engine.
// It is immutable after construction: IsValid is true iff Warnings is empty
// and RequiresManualReview is false.
type ValidationResult struct {
	IsValid              bool     `json:"isValid"`
	Warnings             []string `json:"warnings"`
	RequiresManualReview bool     `json:"requiresManualReview"`
	FlaggedReasons       []string `json:"flaggedReasons"`
}
