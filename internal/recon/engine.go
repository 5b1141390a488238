package recon

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
)

// ReasonNoMatchingOrderLine marks an invoice line with no ordered counterpart.
const (
	ReasonOverDelivery        = "OVER_DELIVERY_HOLDBACK"
	ReasonUnderDelivery       = "UNDER_DELIVERY_HOLDBACK"
	ReasonTempExcursion       = "TEMP_EXCURSION"
	ReasonNoMatchingOrderLine = "NO_MATCHING_ORDER_LINE"
)

// FlagTempExcursion is added to the result when a quality discount fires.
const FlagTempExcursion = "TEMP_EXCURSION_DISCOUNT_APPLIED"

// Line is one ordered, executed or invoiced quantity/price pair.
type Line struct {
	LineID    string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Bundle is the transient engine input. Nothing in it is persisted; the
// caller assembles it per run and stores only the Result.
type Bundle struct {
	SettlementID uuid.UUID
	Policy       Policy
	Currency     enums.Currency

	OrderedLines  []Line
	ExecutedLines []Line
	InvoicedLines []Line

	// Minutes the shipment spent outside its temperature band. Anything
	// above Policy.MaxTempExcursionMinutes triggers the quality holdback.
	TempExcursionMinutes int
}

// LineResult is the per-invoice-line verdict.
type LineResult struct {
	LineID         string                `json:"line_id"`
	Status         enums.ReconLineStatus `json:"status"`
	ContractAmount decimal.Decimal       `json:"contract_amount"`
	BilledAmount   decimal.Decimal       `json:"billed_amount"`
	ApprovedAmount decimal.Decimal       `json:"approved_amount"`
	HeldAmount     decimal.Decimal       `json:"held_amount"`
	ReasonCode     string                `json:"reason_code,omitempty"`
}

// Result aggregates the run. The caller persists it onto the settlement
// intent's derived fields.
type Result struct {
	Decision       enums.ReconDecision `json:"decision"`
	ApprovedAmount decimal.Decimal     `json:"approved_amount"`
	HeldAmount     decimal.Decimal     `json:"held_amount"`
	Score          int                 `json:"score"`
	PolicyID       string              `json:"policy_id"`
	Flags          []string            `json:"flags,omitempty"`
	Lines          []LineResult        `json:"lines"`
}

// Reconcile computes the approved/held split for a bundle. It is pure and
// deterministic: no I/O, no clock reads, identical input yields identical
// output, so it is safe to call concurrently.
func Reconcile(bundle Bundle) (Result, error) {
	if err := validateBundle(bundle); err != nil {
		return Result{}, err
	}

	policy := bundle.Policy
	ordered := make(map[string]Line, len(bundle.OrderedLines))
	for _, line := range bundle.OrderedLines {
		if _, ok := ordered[line.LineID]; ok {
			return Result{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate ordered line %q", line.LineID))
		}
		ordered[line.LineID] = line
	}

	qualityViolated := bundle.TempExcursionMinutes > policy.MaxTempExcursionMinutes

	lowerBound := decimal.NewFromInt(1).Sub(policy.ToleranceBand)
	upperBound := decimal.NewFromInt(1).Add(policy.ToleranceBand)

	approvedTotal := decimal.Zero
	heldTotal := decimal.Zero
	billedTotal := decimal.Zero
	results := make([]LineResult, 0, len(bundle.InvoicedLines))

	for _, invoiced := range bundle.InvoicedLines {
		billed := invoiced.Quantity.Mul(invoiced.UnitPrice).Round(2)
		billedTotal = billedTotal.Add(billed)

		result := LineResult{
			LineID:       invoiced.LineID,
			BilledAmount: billed,
		}

		orderLine, matched := ordered[invoiced.LineID]
		if !matched {
			// No contract to approve against; the whole line is held.
			result.Status = enums.ReconLineQualityViolation
			result.ReasonCode = ReasonNoMatchingOrderLine
			result.ContractAmount = decimal.Zero
			result.ApprovedAmount = decimal.Zero
			result.HeldAmount = billed
			approvedTotal = approvedTotal.Add(result.ApprovedAmount)
			heldTotal = heldTotal.Add(result.HeldAmount)
			results = append(results, result)
			continue
		}

		result.ContractAmount = orderLine.Quantity.Mul(orderLine.UnitPrice).Round(2)

		ratio := invoiced.Quantity.Div(orderLine.Quantity)
		switch {
		case ratio.GreaterThan(upperBound):
			result.Status = enums.ReconLineOverDelivered
			result.ReasonCode = ReasonOverDelivery
		case ratio.LessThan(lowerBound):
			result.Status = enums.ReconLineUnderDelivered
			result.ReasonCode = ReasonUnderDelivery
		default:
			result.Status = enums.ReconLineMatched
		}

		// Quality overrides the line status; the holdback still fires at
		// most once per line.
		if qualityViolated {
			result.Status = enums.ReconLineQualityViolation
			if result.ReasonCode == "" {
				result.ReasonCode = ReasonTempExcursion
			}
		}

		if result.ReasonCode == "" {
			result.ApprovedAmount = billed
			result.HeldAmount = decimal.Zero
		} else {
			held := billed.Mul(policy.HoldbackRate).Round(2)
			result.HeldAmount = held
			result.ApprovedAmount = billed.Sub(held)
		}

		approvedTotal = approvedTotal.Add(result.ApprovedAmount)
		heldTotal = heldTotal.Add(result.HeldAmount)
		results = append(results, result)
	}

	var flags []string
	if qualityViolated {
		flags = append(flags, FlagTempExcursion)
	}

	score := 0
	if billedTotal.IsPositive() {
		score = int(approvedTotal.Mul(decimal.NewFromInt(100)).Div(billedTotal).Round(0).IntPart())
	}

	decision := enums.ReconDecisionPartialApprove
	switch {
	case heldTotal.IsZero():
		decision = enums.ReconDecisionAutoApprove
	case heldTotal.Equal(billedTotal):
		decision = enums.ReconDecisionBlock
	}

	return Result{
		Decision:       decision,
		ApprovedAmount: approvedTotal,
		HeldAmount:     heldTotal,
		Score:          score,
		PolicyID:       policy.ID,
		Flags:          flags,
		Lines:          results,
	}, nil
}

func validateBundle(bundle Bundle) error {
	if bundle.SettlementID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "settlement id is required")
	}
	if !bundle.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", bundle.Currency))
	}
	if len(bundle.InvoicedLines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one invoiced line is required")
	}
	if bundle.Policy.ToleranceBand.IsNegative() || bundle.Policy.HoldbackRate.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "policy rates must be non-negative")
	}
	for _, group := range []struct {
		name  string
		lines []Line
	}{
		{"ordered", bundle.OrderedLines},
		{"executed", bundle.ExecutedLines},
		{"invoiced", bundle.InvoicedLines},
	} {
		for _, line := range group.lines {
			if line.LineID == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s line missing line id", group.name))
			}
			if !line.Quantity.IsPositive() {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s line %q has non-positive quantity", group.name, line.LineID))
			}
			if line.UnitPrice.IsNegative() || line.UnitPrice.IsZero() {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s line %q has non-positive unit price", group.name, line.LineID))
			}
		}
	}
	return nil
}
