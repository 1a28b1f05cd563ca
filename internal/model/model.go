// Package model defines the core domain types shared across the term pool
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position sides. A fixed position is either money lent to a maturity pool
// (deposit) or money owed to it (borrow).
const (
	SideDeposit = "deposit"
	SideBorrow  = "borrow"
)

// Settlement operation names, recorded on every SettlementEntry.
const (
	OpDeposit  = "deposit"
	OpBorrow   = "borrow"
	OpRepay    = "repay"
	OpWithdraw = "withdraw"
)

// MaturityPool is the aggregate ledger bucket for all fixed-rate positions
// sharing one maturity timestamp (unix seconds, a multiple of the pool
// interval). Borrowed and Supplied carry principal plus fee; BackupBorrowed
// is the slice of Borrowed funded by the floating backup pool rather than by
// fixed deposits.
type MaturityPool struct {
	Maturity           int64           `json:"maturity" db:"maturity"`
	Borrowed           decimal.Decimal `json:"borrowed" db:"borrowed"`
	Supplied           decimal.Decimal `json:"supplied" db:"supplied"`
	BackupBorrowed     decimal.Decimal `json:"backup_borrowed" db:"backup_borrowed"`
	EarningsUnassigned decimal.Decimal `json:"earnings_unassigned" db:"earnings_unassigned"`
	LastAccrual        int64           `json:"last_accrual" db:"last_accrual"`
}

// FixedPosition is one account's stake in one maturity pool, on one side.
// Fee is the fixed extra amount owed (borrow) or earned (deposit), locked in
// when the position was opened or last resized.
type FixedPosition struct {
	Account   string          `json:"account" db:"account"`
	Maturity  int64           `json:"maturity" db:"maturity"`
	Side      string          `json:"side" db:"side"`
	Principal decimal.Decimal `json:"principal" db:"principal"`
	Fee       decimal.Decimal `json:"fee" db:"fee"`
}

// Assets returns principal + fee, the full amount the position settles at.
func (p FixedPosition) Assets() decimal.Decimal {
	return p.Principal.Add(p.Fee)
}

// SettlementEntry is an immutable record of one settled operation.
// Once created, these are never modified or deleted.
type SettlementEntry struct {
	ID        string          `json:"id" db:"id"`
	Op        string          `json:"op" db:"op"`
	Account   string          `json:"account" db:"account"`     // position owner
	Initiator string          `json:"initiator" db:"initiator"` // payer or receiver when distinct
	Maturity  int64           `json:"maturity" db:"maturity"`
	Principal decimal.Decimal `json:"principal" db:"principal"`
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Discount  decimal.Decimal `json:"discount" db:"discount"` // early-repay discount or withdraw forfeit
	Penalty   decimal.Decimal `json:"penalty" db:"penalty"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// AccountSnapshot aggregates one account's open fixed positions, the surface
// the risk/collateral engine reads to compute borrowing power.
type AccountSnapshot struct {
	Account       string          `json:"account"`
	Positions     []FixedPosition `json:"positions"`
	TotalDeposits decimal.Decimal `json:"total_deposits"` // Σ deposit principal+fee
	TotalDebt     decimal.Decimal `json:"total_debt"`     // Σ borrow principal+fee
}

// Parameters are the externally governed protocol constants.
type Parameters struct {
	// Interval is the maturity grid spacing in seconds. Maturities must be
	// exact multiples of it.
	Interval int64

	// MaxFuturePools bounds how many intervals ahead of now a maturity may be.
	MaxFuturePools int

	// BackupFeeRate is the cut of depositor-realized earnings skimmed to the
	// backup pool, as a fraction in [0, 1].
	BackupFeeRate decimal.Decimal

	// PenaltyRatePerDay is the late-repayment penalty per day past maturity,
	// as a fraction of the debt covered.
	PenaltyRatePerDay decimal.Decimal
}

// DefaultParameters mirror a 4-week maturity grid with a 12-pool horizon and
// a 2%/day late penalty.
func DefaultParameters() Parameters {
	return Parameters{
		Interval:          4 * 7 * 24 * 3600,
		MaxFuturePools:    12,
		BackupFeeRate:     decimal.NewFromFloat(0.1),
		PenaltyRatePerDay: decimal.NewFromFloat(0.02),
	}
}
