package recon

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
)

func lines(qty, price string) []Line {
	return []Line{{
		LineID:    "line-1",
		Quantity:  decimal.RequireFromString(qty),
		UnitPrice: decimal.RequireFromString(price),
	}}
}

func baseBundle() Bundle {
	return Bundle{
		SettlementID:  uuid.New(),
		Policy:        DefaultPolicy(),
		Currency:      enums.CurrencyUSD,
		OrderedLines:  lines("10", "100"),
		ExecutedLines: lines("10", "100"),
		InvoicedLines: lines("10", "100"),
	}
}

func TestReconcilePerfectMatchAutoApproves(t *testing.T) {
	result, err := Reconcile(baseBundle())
	require.NoError(t, err)

	assert.Equal(t, enums.ReconDecisionAutoApprove, result.Decision)
	assert.Equal(t, "1000.00", result.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "0.00", result.HeldAmount.StringFixed(2))
	assert.Equal(t, 100, result.Score)
	assert.Empty(t, result.Flags)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, enums.ReconLineMatched, result.Lines[0].Status)
	assert.Empty(t, result.Lines[0].ReasonCode)
}

func TestReconcileOverDeliveryHoldsTenPercent(t *testing.T) {
	bundle := baseBundle()
	bundle.InvoicedLines = lines("15", "100")

	result, err := Reconcile(bundle)
	require.NoError(t, err)

	assert.Equal(t, enums.ReconDecisionPartialApprove, result.Decision)
	assert.Equal(t, "1350.00", result.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "150.00", result.HeldAmount.StringFixed(2))
	assert.Equal(t, 90, result.Score)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, enums.ReconLineOverDelivered, result.Lines[0].Status)
	assert.Equal(t, ReasonOverDelivery, result.Lines[0].ReasonCode)
}

func TestReconcileUnderDeliveryHoldsTenPercent(t *testing.T) {
	bundle := baseBundle()
	bundle.InvoicedLines = lines("5", "100")

	result, err := Reconcile(bundle)
	require.NoError(t, err)

	assert.Equal(t, enums.ReconDecisionPartialApprove, result.Decision)
	assert.Equal(t, "450.00", result.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "50.00", result.HeldAmount.StringFixed(2))
	require.Len(t, result.Lines, 1)
	assert.Equal(t, enums.ReconLineUnderDelivered, result.Lines[0].Status)
}

func TestReconcileTempExcursionDiscountsOnce(t *testing.T) {
	bundle := baseBundle()
	bundle.TempExcursionMinutes = 30

	result, err := Reconcile(bundle)
	require.NoError(t, err)

	assert.Equal(t, enums.ReconDecisionPartialApprove, result.Decision)
	assert.Equal(t, "900.00", result.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "100.00", result.HeldAmount.StringFixed(2))
	assert.Equal(t, 90, result.Score)
	assert.Contains(t, result.Flags, FlagTempExcursion)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, enums.ReconLineQualityViolation, result.Lines[0].Status)
	assert.Equal(t, ReasonTempExcursion, result.Lines[0].ReasonCode)
}

func TestReconcileQuantityAndQualityViolationDiscountsOnce(t *testing.T) {
	bundle := baseBundle()
	bundle.InvoicedLines = lines("15", "100")
	bundle.TempExcursionMinutes = 5

	result, err := Reconcile(bundle)
	require.NoError(t, err)

	// Holdback fires once even though both checks failed.
	assert.Equal(t, "1350.00", result.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "150.00", result.HeldAmount.StringFixed(2))
	require.Len(t, result.Lines, 1)
	assert.Equal(t, enums.ReconLineQualityViolation, result.Lines[0].Status)
	assert.Equal(t, ReasonOverDelivery, result.Lines[0].ReasonCode)
}

func TestReconcileUnmatchedInvoiceLineBlocks(t *testing.T) {
	bundle := baseBundle()
	bundle.InvoicedLines = []Line{{
		LineID:    "ghost-line",
		Quantity:  decimal.RequireFromString("10"),
		UnitPrice: decimal.RequireFromString("100"),
	}}

	result, err := Reconcile(bundle)
	require.NoError(t, err)

	assert.Equal(t, enums.ReconDecisionBlock, result.Decision)
	assert.Equal(t, "0.00", result.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "1000.00", result.HeldAmount.StringFixed(2))
	assert.Equal(t, 0, result.Score)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, ReasonNoMatchingOrderLine, result.Lines[0].ReasonCode)
}

func TestReconcileMixedLinesAggregate(t *testing.T) {
	bundle := baseBundle()
	bundle.OrderedLines = []Line{
		{LineID: "line-1", Quantity: decimal.RequireFromString("10"), UnitPrice: decimal.RequireFromString("100")},
		{LineID: "line-2", Quantity: decimal.RequireFromString("4"), UnitPrice: decimal.RequireFromString("50")},
	}
	bundle.InvoicedLines = []Line{
		{LineID: "line-1", Quantity: decimal.RequireFromString("10"), UnitPrice: decimal.RequireFromString("100")},
		{LineID: "line-2", Quantity: decimal.RequireFromString("8"), UnitPrice: decimal.RequireFromString("50")},
	}

	result, err := Reconcile(bundle)
	require.NoError(t, err)

	assert.Equal(t, enums.ReconDecisionPartialApprove, result.Decision)
	assert.Equal(t, "1360.00", result.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "40.00", result.HeldAmount.StringFixed(2))
	require.Len(t, result.Lines, 2)
	assert.Equal(t, enums.ReconLineMatched, result.Lines[0].Status)
	assert.Equal(t, enums.ReconLineOverDelivered, result.Lines[1].Status)
}

func TestReconcileIsDeterministic(t *testing.T) {
	bundle := baseBundle()
	bundle.InvoicedLines = lines("15", "100")
	bundle.TempExcursionMinutes = 12

	first, err := Reconcile(bundle)
	require.NoError(t, err)
	second, err := Reconcile(bundle)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestReconcileValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Bundle)
	}{
		{"missing settlement id", func(b *Bundle) { b.SettlementID = uuid.Nil }},
		{"invalid currency", func(b *Bundle) { b.Currency = "DOGE" }},
		{"no invoiced lines", func(b *Bundle) { b.InvoicedLines = nil }},
		{"empty line id", func(b *Bundle) { b.InvoicedLines[0].LineID = "" }},
		{"zero quantity", func(b *Bundle) { b.InvoicedLines[0].Quantity = decimal.Zero }},
		{"negative quantity", func(b *Bundle) { b.OrderedLines[0].Quantity = decimal.RequireFromString("-1") }},
		{"zero unit price", func(b *Bundle) { b.InvoicedLines[0].UnitPrice = decimal.Zero }},
		{"duplicate ordered line", func(b *Bundle) { b.OrderedLines = append(b.OrderedLines, b.OrderedLines[0]) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bundle := baseBundle()
			tc.mutate(&bundle)

			_, err := Reconcile(bundle)
			require.Error(t, err)
			appErr := pkgerrors.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
		})
	}
}
