// Package rates provides the fee-rate model maturity pools quote borrows and
// deposits against: a kinked utilization curve scaled by time to maturity.
// All functions are pure — rates depend only on the inputs passed in.
package rates

import (
	"github.com/shopspring/decimal"
)

// RateScale is the number of decimal places quoted rates are rounded to.
const RateScale int32 = 18

var (
	one            = decimal.NewFromInt(1)
	secondsPerYear = decimal.NewFromInt(365 * 86_400)
)

// Model is a kinked interest curve: rate(u) = base + slope1·u up to the kink
// utilization, then an additional slope2 on the excess beyond it.
type Model struct {
	Base   decimal.Decimal
	Slope1 decimal.Decimal
	Slope2 decimal.Decimal
	Kink   decimal.Decimal
}

// NewModel constructs a rate model from decimal fractions, e.g. a 2% base
// rate is 0.02 and an 80% kink utilization is 0.8.
func NewModel(base, slope1, slope2, kink float64) *Model {
	return &Model{
		Base:   decimal.NewFromFloat(base),
		Slope1: decimal.NewFromFloat(slope1),
		Slope2: decimal.NewFromFloat(slope2),
		Kink:   decimal.NewFromFloat(kink),
	}
}

// DefaultModel is a modest starting configuration: 2% base, kink at 80%.
func DefaultModel() *Model {
	return NewModel(0.02, 0.15, 0.6, 0.8)
}

// Utilization computes borrowed / (supplied + backupAvailable), the share of
// reachable liquidity the pool has lent out. An empty denominator counts as
// full utilization.
func (m *Model) Utilization(borrowed, supplied, backupAvailable decimal.Decimal) decimal.Decimal {
	denom := supplied.Add(backupAvailable)
	if !denom.IsPositive() {
		return one
	}
	u := borrowed.DivRound(denom, RateScale)
	if u.GreaterThan(one) {
		return one
	}
	if u.IsNegative() {
		return decimal.Zero
	}
	return u
}

// AnnualRate evaluates the kinked curve at utilization u.
func (m *Model) AnnualRate(u decimal.Decimal) decimal.Decimal {
	if !m.Kink.IsPositive() || u.LessThanOrEqual(m.Kink) {
		return m.Base.Add(m.Slope1.Mul(u)).Round(RateScale)
	}
	atKink := m.Base.Add(m.Slope1.Mul(m.Kink))
	excess := u.Sub(m.Kink)
	return atKink.Add(m.Slope2.Mul(excess)).Round(RateScale)
}

// FixedBorrowRate quotes the fee rate a borrow of the given size pays at this
// maturity: the annual rate at the post-trade utilization, scaled by the time
// remaining to maturity. Matured pools quote zero time and therefore zero.
func (m *Model) FixedBorrowRate(principal decimal.Decimal, maturity, now int64,
	borrowed, supplied, backupAvailable decimal.Decimal) decimal.Decimal {

	u := m.Utilization(borrowed.Add(principal), supplied, backupAvailable)
	return m.scaleToMaturity(m.AnnualRate(u), maturity, now)
}

// FixedDepositRate quotes the earnings rate a deposit of the given size can
// expect: the borrow-side annual rate weighted by current utilization (only
// lent-out funds generate fees), scaled by time remaining to maturity.
func (m *Model) FixedDepositRate(principal decimal.Decimal, maturity, now int64,
	borrowed, supplied, backupAvailable decimal.Decimal) decimal.Decimal {

	u := m.Utilization(borrowed, supplied.Add(principal), backupAvailable)
	return m.scaleToMaturity(m.AnnualRate(u).Mul(u), maturity, now)
}

func (m *Model) scaleToMaturity(annual decimal.Decimal, maturity, now int64) decimal.Decimal {
	if maturity <= now {
		return decimal.Zero
	}
	ttm := decimal.NewFromInt(maturity - now).DivRound(secondsPerYear, RateScale)
	return annual.Mul(ttm).Round(RateScale)
}
