// Package fixed implements the settlement math for fixed-maturity pools:
// time-proportional accrual of unassigned earnings, deposit and borrow
// settlement with three-way fee splits (depositor / backup pool / treasury),
// early-repayment discounts, late-repayment penalties, and early-withdrawal
// forfeits.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Division rounds down on amounts owed to the protocol so settlement is
// reproducible bit-for-bit.
//
// Functions mutate the MaturityPool passed to them and return a breakdown of
// where value moved; they perform no I/O. Callers operate on a copy of the
// pool record and persist it only after every guard has passed, which keeps
// each operation all-or-nothing.
package fixed

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cadian99/termpool/internal/model"
)

var (
	// ErrInvalidMaturity is returned when a maturity timestamp is not on the
	// interval grid or lies outside the allowed future window.
	ErrInvalidMaturity = errors.New("fixed: invalid maturity")

	// ErrZeroAmount is returned when an operation is invoked with a zero or
	// negative amount.
	ErrZeroAmount = errors.New("fixed: amount must be positive")

	// ErrNoPosition is returned when repaying or withdrawing against an
	// account that holds nothing at the maturity.
	ErrNoPosition = errors.New("fixed: no position at this maturity")

	// ErrSuppliedExceeded is returned when a withdrawal would drive the
	// pool's supplied total negative. The per-position bounds make this
	// unreachable unless the ledger is already inconsistent.
	ErrSuppliedExceeded = errors.New("fixed: withdrawal exceeds pool supplied")
)

// AmountScale is the number of decimal places ledger amounts are kept at.
const AmountScale int32 = 18

var (
	two            = decimal.NewFromInt(2)
	secondsPerDay  = decimal.NewFromInt(86_400)
	secondsPerYear = decimal.NewFromInt(365 * 86_400)
)

// mulDivDown computes a*b/c rounded down at AmountScale. Zero divisor yields
// zero rather than panicking; every call site treats that as "no share".
func mulDivDown(a, b, c decimal.Decimal) decimal.Decimal {
	if c.IsZero() {
		return decimal.Zero
	}
	return a.Mul(b).DivRound(c, AmountScale+2).RoundDown(AmountScale)
}

// divDown computes a/b rounded down at AmountScale.
func divDown(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, AmountScale+2).RoundDown(AmountScale)
}

// ValidateMaturity checks that a maturity is usable for opening new positions:
// on the interval grid, strictly in the future, and no further ahead than
// MaxFuturePools intervals past the current interval boundary.
func ValidateMaturity(maturity, now int64, params model.Parameters) error {
	if err := ValidateMaturityGrid(maturity, params); err != nil {
		return err
	}
	if maturity <= now {
		return ErrInvalidMaturity
	}
	horizon := now - now%params.Interval + int64(params.MaxFuturePools)*params.Interval
	if maturity > horizon {
		return ErrInvalidMaturity
	}
	return nil
}

// ValidateMaturityGrid checks only the interval alignment. Repay and withdraw
// accept matured pools, so they skip the future-window check.
func ValidateMaturityGrid(maturity int64, params model.Parameters) error {
	if params.Interval <= 0 || maturity <= 0 || maturity%params.Interval != 0 {
		return ErrInvalidMaturity
	}
	return nil
}

// settleBackup restores the conservation invariant
// backupBorrowed == max(0, borrowed − supplied) after a settling mutation and
// returns the signed change: positive means the pool drew that much from the
// backup pool, negative means it released it.
func settleBackup(p *model.MaturityPool) decimal.Decimal {
	target := p.Borrowed.Sub(p.Supplied)
	if target.IsNegative() {
		target = decimal.Zero
	}
	delta := target.Sub(p.BackupBorrowed)
	p.BackupBorrowed = target
	return delta
}

// Accrued reports where an accrual realized its earnings slice.
type Accrued struct {
	// BackupEarnings is realized to the backup pool when backup capital was
	// at risk during the elapsed window.
	BackupEarnings decimal.Decimal

	// TreasuryEarnings is realized to the treasury when no backup capital
	// was at risk.
	TreasuryEarnings decimal.Decimal
}

// Accrue advances the pool's lastAccrual to now, realizing the slice of
// unassigned earnings proportional to elapsed time over time remaining to
// maturity. At or past maturity everything is realized. Repeated calls with
// the same now are idempotent.
func Accrue(p *model.MaturityPool, now int64) Accrued {
	var out Accrued
	if now <= p.LastAccrual {
		return out
	}
	if p.EarningsUnassigned.IsZero() {
		p.LastAccrual = now
		return out
	}

	elapsed := now - p.LastAccrual
	remaining := p.Maturity - p.LastAccrual

	realized := p.EarningsUnassigned
	if remaining > elapsed {
		realized = mulDivDown(p.EarningsUnassigned,
			decimal.NewFromInt(elapsed), decimal.NewFromInt(remaining))
	}

	p.EarningsUnassigned = p.EarningsUnassigned.Sub(realized)
	p.LastAccrual = now

	if p.BackupBorrowed.IsPositive() {
		out.BackupEarnings = realized
	} else {
		out.TreasuryEarnings = realized
	}
	return out
}

// DepositOutcome reports how a deposit settled.
type DepositOutcome struct {
	// BackupRepaid is the slice of the deposit that displaces backup funding.
	BackupRepaid decimal.Decimal

	// DepositorShare is the depositor's cut of the realized unassigned
	// earnings; it becomes the position's fee.
	DepositorShare decimal.Decimal

	// BackupShare is the backup pool's cut, including the backupFeeRate skim.
	BackupShare decimal.Decimal

	// AdapterRepay is the cash to return to the backup liquidity adapter.
	AdapterRepay decimal.Decimal
}

// Deposit settles a fixed deposit of principal into the pool. When the pool
// carries backup debt, the deposit displaces it and realizes the matching
// fraction of unassigned earnings, split evenly between depositor and backup
// with backupFeeRate skimmed from the depositor half to the backup half.
func Deposit(p *model.MaturityPool, principal, backupFeeRate decimal.Decimal) DepositOutcome {
	var out DepositOutcome

	if p.BackupBorrowed.IsPositive() {
		out.BackupRepaid = decimal.Min(principal, p.BackupBorrowed)
		realized := mulDivDown(p.EarningsUnassigned, out.BackupRepaid, p.BackupBorrowed)
		half := divDown(realized, two)
		skim := half.Mul(backupFeeRate).RoundDown(AmountScale)
		out.BackupShare = half.Add(skim)
		out.DepositorShare = realized.Sub(out.BackupShare)
		p.EarningsUnassigned = p.EarningsUnassigned.Sub(realized)
	}

	p.Supplied = p.Supplied.Add(principal).Add(out.DepositorShare)

	if released := settleBackup(p); released.IsNegative() {
		out.AdapterRepay = released.Neg()
	}
	return out
}

// BorrowOutcome reports how a borrow settled.
type BorrowOutcome struct {
	// Fee is the fixed fee charged on the principal.
	Fee decimal.Decimal

	// FromBackup is the new debt not covered by spare fixed-deposit capacity;
	// it is the cash to request from the backup liquidity adapter.
	FromBackup decimal.Decimal

	// FeeToUnassigned is the backup-funded share of the fee, held in the
	// pool's unassigned earnings until accrual or settlement resolves it.
	FeeToUnassigned decimal.Decimal

	// FeeToTreasury is the deposit-funded share of the fee.
	FeeToTreasury decimal.Decimal
}

// Borrow settles a fixed borrow of principal with the given fee. The share of
// the fee matching the backup-funded fraction of the new debt is routed to
// unassigned earnings; the deposit-funded remainder goes to the treasury.
func Borrow(p *model.MaturityPool, principal, fee decimal.Decimal) BorrowOutcome {
	total := principal.Add(fee)

	p.Borrowed = p.Borrowed.Add(total)
	fromBackup := settleBackup(p)

	out := BorrowOutcome{Fee: fee, FromBackup: fromBackup}
	if fromBackup.IsPositive() {
		out.FeeToUnassigned = mulDivDown(fee, decimal.Min(fromBackup, total), total)
	}
	out.FeeToTreasury = fee.Sub(out.FeeToUnassigned)
	p.EarningsUnassigned = p.EarningsUnassigned.Add(out.FeeToUnassigned)
	return out
}

// RepayOutcome reports how a repayment settled.
type RepayOutcome struct {
	// DebtCovered is the position debt extinguished, principal plus fee.
	DebtCovered      decimal.Decimal
	PrincipalCovered decimal.Decimal
	FeeCovered       decimal.Decimal

	// Discount is the early-repayment rebate to the payer, funded from
	// unassigned earnings. Zero at or after maturity.
	Discount decimal.Decimal

	// Penalty is the late-repayment surcharge. Zero before maturity.
	Penalty           decimal.Decimal
	PenaltyToBackup   decimal.Decimal
	PenaltyToTreasury decimal.Decimal

	// ActualPay is what the payer owes: debtCovered − discount + penalty.
	ActualPay decimal.Decimal

	// BackupReleased is the cash to return to the backup liquidity adapter.
	BackupReleased decimal.Decimal
}

// Repay settles up to amount of the borrower's position against the pool at
// time now. Before maturity the payer receives a discount proportional to the
// pool's unassigned earnings; at or after maturity (now >= maturity is
// uniformly the late path) a per-day penalty is charged and split between
// backup pool and treasury by the backup-backed fraction of the pool's debt.
// The position is reduced preserving its principal:fee ratio.
func Repay(p *model.MaturityPool, pos model.FixedPosition, amount decimal.Decimal,
	now int64, penaltyRatePerDay decimal.Decimal) (RepayOutcome, error) {

	var out RepayOutcome
	if !amount.IsPositive() {
		return out, ErrZeroAmount
	}
	if !pos.Assets().IsPositive() {
		return out, ErrNoPosition
	}

	out.DebtCovered = decimal.Min(amount, pos.Assets())
	out.PrincipalCovered, out.FeeCovered = CoverProportionally(pos, out.DebtCovered)

	if now < p.Maturity {
		if p.Borrowed.IsPositive() {
			out.Discount = decimal.Min(
				mulDivDown(p.EarningsUnassigned, out.DebtCovered, p.Borrowed),
				p.EarningsUnassigned,
			)
			p.EarningsUnassigned = p.EarningsUnassigned.Sub(out.Discount)
		}
		out.ActualPay = out.DebtCovered.Sub(out.Discount)
	} else {
		daysLate := divDown(decimal.NewFromInt(now-p.Maturity), secondsPerDay)
		out.Penalty = out.DebtCovered.Mul(penaltyRatePerDay).Mul(daysLate).RoundDown(AmountScale)
		out.PenaltyToBackup = mulDivDown(out.Penalty, p.BackupBorrowed, p.Borrowed)
		out.PenaltyToTreasury = out.Penalty.Sub(out.PenaltyToBackup)
		out.ActualPay = out.DebtCovered.Add(out.Penalty)
	}

	p.Borrowed = p.Borrowed.Sub(out.DebtCovered)
	if released := settleBackup(p); released.IsNegative() {
		out.BackupReleased = released.Neg()
	}
	return out, nil
}

// WithdrawOutcome reports how a withdrawal settled.
type WithdrawOutcome struct {
	// PositionAssets is the position slice being exited, principal plus fee.
	PositionAssets   decimal.Decimal
	PrincipalCovered decimal.Decimal
	FeeCovered       decimal.Decimal

	// AssetsDiscounted is what the depositor actually receives. Equal to
	// PositionAssets at or after maturity.
	AssetsDiscounted decimal.Decimal

	// Forfeit is the early-exit haircut, PositionAssets − AssetsDiscounted.
	Forfeit             decimal.Decimal
	ForfeitToTreasury   decimal.Decimal
	ForfeitToUnassigned decimal.Decimal

	// BackupDrawn is the cash to request from the backup liquidity adapter
	// to replace the departing fixed deposit.
	BackupDrawn decimal.Decimal
}

// Withdraw settles an exit of up to requested assets from the depositor's
// position at time now. Before maturity the payout is discounted as if the
// pool borrowed the funds back at periodRate (the fixed rate for the time
// remaining); the forfeited difference is skimmed backupFeeRate to the
// treasury with the remainder held as unassigned earnings. At or after
// maturity the full amount is paid.
func Withdraw(p *model.MaturityPool, pos model.FixedPosition, requested decimal.Decimal,
	now int64, periodRate, backupFeeRate decimal.Decimal) (WithdrawOutcome, error) {

	var out WithdrawOutcome
	if !requested.IsPositive() {
		return out, ErrZeroAmount
	}
	if !pos.Assets().IsPositive() {
		return out, ErrNoPosition
	}

	out.PositionAssets = decimal.Min(requested, pos.Assets())
	out.PrincipalCovered, out.FeeCovered = CoverProportionally(pos, out.PositionAssets)

	if now < p.Maturity {
		out.AssetsDiscounted = divDown(out.PositionAssets, decimal.NewFromInt(1).Add(periodRate))
	} else {
		out.AssetsDiscounted = out.PositionAssets
	}
	out.Forfeit = out.PositionAssets.Sub(out.AssetsDiscounted)
	out.ForfeitToTreasury = out.Forfeit.Mul(backupFeeRate).RoundDown(AmountScale)
	out.ForfeitToUnassigned = out.Forfeit.Sub(out.ForfeitToTreasury)

	if out.PositionAssets.GreaterThan(p.Supplied) {
		return WithdrawOutcome{}, ErrSuppliedExceeded
	}
	p.Supplied = p.Supplied.Sub(out.PositionAssets)
	p.EarningsUnassigned = p.EarningsUnassigned.Add(out.ForfeitToUnassigned)

	if drawn := settleBackup(p); drawn.IsPositive() {
		out.BackupDrawn = drawn
	}
	return out, nil
}

// CoverProportionally splits debtCovered across a position's principal and
// fee preserving their ratio. The principal slice rounds down; the fee slice
// absorbs the remainder so the two always sum to debtCovered exactly.
func CoverProportionally(pos model.FixedPosition, debtCovered decimal.Decimal) (principal, fee decimal.Decimal) {
	assets := pos.Assets()
	if !assets.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	principal = mulDivDown(debtCovered, pos.Principal, assets)
	fee = debtCovered.Sub(principal)
	return principal, fee
}
