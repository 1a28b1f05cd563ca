// Package backup defines the external collaborators the settlement engine
// draws on: the floating backup liquidity pool that funds maturity-pool
// shortfalls, and the treasury sink that absorbs protocol fee earnings.
// An in-memory floating pool serves single-instance deployments and tests;
// a share-vault implementation can satisfy the same interfaces.
package backup

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientLiquidity is returned when the backup pool cannot cover a
// requested draw.
var ErrInsufficientLiquidity = errors.New("backup: insufficient liquidity")

// Pool is the backup liquidity adapter. Borrow must either reserve the full
// amount or fail without side effects.
type Pool interface {
	// Borrow reserves amount of floating liquidity for a maturity pool.
	Borrow(amount decimal.Decimal) error

	// Repay releases previously borrowed liquidity back to the pool.
	Repay(amount decimal.Decimal)

	// CreditEarnings adds realized fee earnings to the pool's assets.
	CreditEarnings(amount decimal.Decimal)

	// AvailableLiquidity reports how much the pool can still lend.
	AvailableLiquidity() decimal.Decimal
}

// Treasury accepts realized fee earnings not owed to depositors or backup.
type Treasury interface {
	Credit(amount decimal.Decimal)
}

// FloatingPool is an in-memory Pool: a fixed asset base, the amount currently
// lent to maturity pools, and cumulative earnings.
type FloatingPool struct {
	mu       sync.Mutex
	assets   decimal.Decimal
	lent     decimal.Decimal
	earnings decimal.Decimal
}

// NewFloatingPool creates a backup pool seeded with the given assets.
func NewFloatingPool(assets decimal.Decimal) *FloatingPool {
	return &FloatingPool{assets: assets}
}

func (f *FloatingPool) Borrow(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount.GreaterThan(f.assets.Sub(f.lent)) {
		return ErrInsufficientLiquidity
	}
	f.lent = f.lent.Add(amount)
	return nil
}

func (f *FloatingPool) Repay(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lent = f.lent.Sub(decimal.Min(amount, f.lent))
}

func (f *FloatingPool) CreditEarnings(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.earnings = f.earnings.Add(amount)
	f.assets = f.assets.Add(amount)
}

func (f *FloatingPool) AvailableLiquidity() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assets.Sub(f.lent)
}

// Lent reports the amount currently drawn by maturity pools.
func (f *FloatingPool) Lent() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lent
}

// Earnings reports cumulative fee earnings realized to the pool.
func (f *FloatingPool) Earnings() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.earnings
}

// Ledger is an in-memory Treasury accumulating credited earnings.
type Ledger struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

// NewLedger creates an empty treasury ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Credit(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
}

// Balance reports the total credited to the treasury.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}
