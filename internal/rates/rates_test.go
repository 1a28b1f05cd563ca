package rates

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const year = int64(365 * 86_400)

// --- Utilization ---

func TestUtilization(t *testing.T) {
	m := DefaultModel()

	tests := []struct {
		name                       string
		borrowed, supplied, backup float64
		want                       float64
	}{
		{"empty pool counts as full", 0, 0, 0, 1},
		{"half utilized", 5000, 10000, 0, 0.5},
		{"backup extends the denominator", 5000, 5000, 5000, 0.5},
		{"over-borrowed clamps to one", 20000, 10000, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := m.Utilization(d(tt.borrowed), d(tt.supplied), d(tt.backup))
			if !u.Equal(d(tt.want)) {
				t.Errorf("got %s, want %v", u, tt.want)
			}
		})
	}
}

// --- Kinked curve ---

func TestAnnualRate_BelowKink(t *testing.T) {
	m := NewModel(0.02, 0.15, 0.6, 0.8)

	if got := m.AnnualRate(decimal.Zero); !got.Equal(d(0.02)) {
		t.Errorf("rate at zero utilization should be base, got %s", got)
	}
	// base + slope1·0.5 = 0.095
	if got := m.AnnualRate(d(0.5)); !got.Equal(d(0.095)) {
		t.Errorf("expected 0.095 at u=0.5, got %s", got)
	}
}

func TestAnnualRate_AboveKink(t *testing.T) {
	m := NewModel(0.02, 0.15, 0.6, 0.8)

	atKink := m.AnnualRate(d(0.8))
	if !atKink.Equal(d(0.14)) { // 0.02 + 0.15·0.8
		t.Errorf("expected 0.14 at kink, got %s", atKink)
	}
	// 0.14 + 0.6·0.2 = 0.26
	if got := m.AnnualRate(d(1)); !got.Equal(d(0.26)) {
		t.Errorf("expected 0.26 at full utilization, got %s", got)
	}
}

func TestAnnualRate_Monotonic(t *testing.T) {
	m := DefaultModel()
	prev := decimal.Decimal{}
	for _, u := range []float64{0, 0.2, 0.4, 0.6, 0.8, 0.9, 1} {
		rate := m.AnnualRate(d(u))
		if rate.LessThan(prev) {
			t.Errorf("rate decreased at u=%v: %s < %s", u, rate, prev)
		}
		prev = rate
	}
}

// --- Maturity scaling ---

func TestFixedBorrowRate_ScalesWithTime(t *testing.T) {
	m := DefaultModel()
	now := int64(1_000_000)

	full := m.FixedBorrowRate(d(1000), now+year, now, d(0), d(10000), d(0))
	half := m.FixedBorrowRate(d(1000), now+year/2, now, d(0), d(10000), d(0))

	if !full.IsPositive() {
		t.Fatalf("expected positive rate, got %s", full)
	}
	ratio := half.DivRound(full, 6)
	if ratio.Sub(d(0.5)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("half the time should quote half the rate: full=%s half=%s", full, half)
	}
}

func TestFixedBorrowRate_MaturedQuotesZero(t *testing.T) {
	m := DefaultModel()
	now := int64(1_000_000)

	if got := m.FixedBorrowRate(d(1000), now, now, d(0), d(10000), d(0)); !got.IsZero() {
		t.Errorf("matured pool should quote zero, got %s", got)
	}
	if got := m.FixedBorrowRate(d(1000), now-1, now, d(0), d(10000), d(0)); !got.IsZero() {
		t.Errorf("past maturity should quote zero, got %s", got)
	}
}

func TestFixedBorrowRate_UsesPostTradeUtilization(t *testing.T) {
	m := DefaultModel()
	now := int64(1_000_000)

	small := m.FixedBorrowRate(d(100), now+year, now, d(0), d(10000), d(0))
	large := m.FixedBorrowRate(d(9000), now+year, now, d(0), d(10000), d(0))

	if large.LessThanOrEqual(small) {
		t.Errorf("larger borrow should quote a higher rate: small=%s large=%s", small, large)
	}
}

func TestFixedDepositRate_BoundedByBorrowRate(t *testing.T) {
	m := DefaultModel()
	now := int64(1_000_000)

	borrow := m.FixedBorrowRate(d(0), now+year, now, d(8000), d(10000), d(0))
	deposit := m.FixedDepositRate(d(0), now+year, now, d(8000), d(10000), d(0))

	if deposit.GreaterThan(borrow) {
		t.Errorf("deposit rate exceeds borrow rate: %s > %s", deposit, borrow)
	}
	if !deposit.IsPositive() {
		t.Errorf("expected positive deposit rate with active borrows, got %s", deposit)
	}
}
