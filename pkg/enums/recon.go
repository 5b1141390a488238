package enums

import "fmt"

// ReconDecision is the overall outcome of reconciling a settlement.
type ReconDecision string

const (
	ReconDecisionAutoApprove    ReconDecision = "AUTO_APPROVE"
	ReconDecisionPartialApprove ReconDecision = "PARTIAL_APPROVE"
	ReconDecisionBlock          ReconDecision = "BLOCK"
)

var validReconDecisions = []ReconDecision{
	ReconDecisionAutoApprove,
	ReconDecisionPartialApprove,
	ReconDecisionBlock,
}

// IsValid reports whether the value matches a canonical reconciliation decision.
func (d ReconDecision) IsValid() bool {
	for _, candidate := range validReconDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseReconDecision converts raw input into ReconDecision.
func ParseReconDecision(value string) (ReconDecision, error) {
	for _, candidate := range validReconDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation decision %q", value)
}

// ReconLineStatus is the per-invoice-line reconciliation outcome.
type ReconLineStatus string

const (
	ReconLineMatched          ReconLineStatus = "MATCHED"
	ReconLineOverDelivered    ReconLineStatus = "OVER_DELIVERED"
	ReconLineUnderDelivered   ReconLineStatus = "UNDER_DELIVERED"
	ReconLineQualityViolation ReconLineStatus = "QUALITY_VIOLATION"
)

var validReconLineStatuses = []ReconLineStatus{
	ReconLineMatched,
	ReconLineOverDelivered,
	ReconLineUnderDelivered,
	ReconLineQualityViolation,
}

// IsValid reports whether the value matches a canonical line status.
func (s ReconLineStatus) IsValid() bool {
	for _, candidate := range validReconLineStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
