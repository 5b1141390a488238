package recon

import (
	"github.com/shopspring/decimal"

	"github.com/chainsettle/chainsettle-backend/pkg/config"
)

// Policy carries the explicit reconciliation parameters. Every knob is a
// named field so operators can see what a policy id actually means.
type Policy struct {
	ID                      string
	ToleranceBand           decimal.Decimal
	HoldbackRate            decimal.Decimal
	MaxTempExcursionMinutes int
}

// DefaultPolicy returns the standard tolerance/holdback policy.
func DefaultPolicy() Policy {
	return Policy{
		ID:                      "default-v1",
		ToleranceBand:           decimal.NewFromFloat(0.10),
		HoldbackRate:            decimal.NewFromFloat(0.10),
		MaxTempExcursionMinutes: 0,
	}
}

// PolicyFromConfig materializes a policy from service configuration.
func PolicyFromConfig(cfg config.ReconConfig) Policy {
	policy := DefaultPolicy()
	if cfg.PolicyID != "" {
		policy.ID = cfg.PolicyID
	}
	if cfg.ToleranceBand > 0 {
		policy.ToleranceBand = decimal.NewFromFloat(cfg.ToleranceBand)
	}
	if cfg.HoldbackRate > 0 {
		policy.HoldbackRate = decimal.NewFromFloat(cfg.HoldbackRate)
	}
	if cfg.MaxTempExcursionMinutes > 0 {
		policy.MaxTempExcursionMinutes = cfg.MaxTempExcursionMinutes
	}
	return policy
}
