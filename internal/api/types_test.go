package api

import (
	"testing"

	"quantcore/pkg/types"
)

func TestNewAccountSummaryViewRoundsToDeclaredPrecision(t *testing.T) {
	t.Parallel()

	view := NewAccountSummaryView(types.AccountSummary{
		TotalPositionValue: 12345.678912,
		DailyPnL:           -10.00005,
		Equity:             99999.99995,
	})

	if view.TotalPositionValue != "12345.6789" {
		t.Fatalf("TotalPositionValue = %q, want %q", view.TotalPositionValue, "12345.6789")
	}
	if view.DailyPnL != "-10.0001" {
		t.Fatalf("DailyPnL = %q, want %q", view.DailyPnL, "-10.0001")
	}
	if view.Equity != "100000.0000" {
		t.Fatalf("Equity = %q, want %q", view.Equity, "100000.0000")
	}
}
