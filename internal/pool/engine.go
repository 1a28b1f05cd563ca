// Package pool orchestrates settlement against maturity pools: every public
// operation accrues the target pool, settles through the fixed-math
// calculators, and persists the pool, the position, and an immutable
// settlement entry — or nothing at all.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cadian99/termpool/internal/backup"
	"github.com/cadian99/termpool/internal/fixed"
	"github.com/cadian99/termpool/internal/metrics"
	"github.com/cadian99/termpool/internal/model"
	"github.com/cadian99/termpool/internal/rates"
	"github.com/cadian99/termpool/internal/store"
)

var (
	// ErrCallerNotAuthorized is returned when the capability presented does
	// not match the one the engine was constructed with.
	ErrCallerNotAuthorized = errors.New("pool: caller not authorized")

	// ErrTooMuchSlippage is returned when the settled amount breaches the
	// caller's bound.
	ErrTooMuchSlippage = errors.New("pool: settled amount breaches caller bound")

	// ErrInsufficientProtocolLiquidity is returned when the backup pool
	// cannot supply the funds an operation needs.
	ErrInsufficientProtocolLiquidity = errors.New("pool: insufficient protocol liquidity")
)

// Capability identifies the collaborator allowed to mutate the ledger.
// Only the settlement-initiating caller holding the engine's capability may
// invoke Deposit, Borrow, Repay, or Withdraw; reads are unrestricted.
type Capability string

// Engine serializes settlement against the ledger. Operations on the same
// maturity pool must be strictly ordered; a single mutex covers all pools
// (single-instance). For horizontal scaling, replace with per-maturity
// distributed locking.
type Engine struct {
	store      store.Store
	rates      *rates.Model
	backup     backup.Pool
	treasury   backup.Treasury
	params     model.Parameters
	capability Capability
	now        func() time.Time
	mu         sync.Mutex
	hub        *WSHub // optional WebSocket hub for settlement broadcasts
}

// NewEngine creates a settlement engine. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewEngine(st store.Store, rm *rates.Model, bp backup.Pool, tr backup.Treasury,
	params model.Parameters, capability Capability, hub *WSHub) *Engine {
	return &Engine{
		store:      st,
		rates:      rm,
		backup:     bp,
		treasury:   tr,
		params:     params,
		capability: capability,
		now:        time.Now,
		hub:        hub,
	}
}

// SetClock overrides the engine's time source. Tests use it to settle at
// chosen points on the maturity timeline.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Params returns the protocol parameters the engine settles with.
func (e *Engine) Params() model.Parameters {
	return e.params
}

// --- Request/Result types ---

// DepositRequest lends principal to a maturity pool. MinAssets is the
// slippage floor on principal plus earned share; zero disables the guard.
type DepositRequest struct {
	Account   string          `json:"account"`
	Maturity  int64           `json:"maturity"`
	Principal decimal.Decimal `json:"principal"`
	MinAssets decimal.Decimal `json:"min_assets"`
}

// DepositResult reports a settled deposit.
type DepositResult struct {
	EntryID      string          `json:"entry_id"`
	Principal    decimal.Decimal `json:"principal"`
	Fee          decimal.Decimal `json:"fee"` // depositor's earned share
	Total        decimal.Decimal `json:"total"`
	BackupRepaid decimal.Decimal `json:"backup_repaid"`
}

// BorrowRequest borrows principal from a maturity pool for Receiver.
// MaxAssets is the slippage ceiling on principal plus fee; zero disables it.
type BorrowRequest struct {
	Account   string          `json:"account"`
	Receiver  string          `json:"receiver"`
	Maturity  int64           `json:"maturity"`
	Principal decimal.Decimal `json:"principal"`
	MaxAssets decimal.Decimal `json:"max_assets"`
}

// BorrowResult reports a settled borrow.
type BorrowResult struct {
	EntryID    string          `json:"entry_id"`
	Principal  decimal.Decimal `json:"principal"`
	Fee        decimal.Decimal `json:"fee"`
	Total      decimal.Decimal `json:"total"`
	Rate       decimal.Decimal `json:"rate"`
	FromBackup decimal.Decimal `json:"from_backup"`
}

// RepayRequest covers up to Amount of Borrower's debt, paid by Payer.
// MaxAssets is the ceiling on the actual payment after discount or penalty;
// zero disables it.
type RepayRequest struct {
	Payer     string          `json:"payer"`
	Borrower  string          `json:"borrower"`
	Maturity  int64           `json:"maturity"`
	Amount    decimal.Decimal `json:"amount"`
	MaxAssets decimal.Decimal `json:"max_assets"`
}

// RepayResult reports a settled repayment.
type RepayResult struct {
	EntryID     string          `json:"entry_id"`
	DebtCovered decimal.Decimal `json:"debt_covered"`
	Discount    decimal.Decimal `json:"discount"`
	Penalty     decimal.Decimal `json:"penalty"`
	ActualPay   decimal.Decimal `json:"actual_pay"`
	SpareAmount decimal.Decimal `json:"spare_amount"`
}

// WithdrawRequest exits up to Assets of the account's deposit position.
// MinAssets is the slippage floor on the discounted payout; zero disables it.
type WithdrawRequest struct {
	Account   string          `json:"account"`
	Maturity  int64           `json:"maturity"`
	Assets    decimal.Decimal `json:"assets"`
	MinAssets decimal.Decimal `json:"min_assets"`
}

// WithdrawResult reports a settled withdrawal.
type WithdrawResult struct {
	EntryID        string          `json:"entry_id"`
	PositionAssets decimal.Decimal `json:"position_assets"`
	AssetsReceived decimal.Decimal `json:"assets_received"`
	Forfeit        decimal.Decimal `json:"forfeit"`
}

// RateQuote is a read-only preview of the rates the next operation would pay.
type RateQuote struct {
	Maturity    int64           `json:"maturity"`
	BorrowRate  decimal.Decimal `json:"borrow_rate"`
	DepositRate decimal.Decimal `json:"deposit_rate"`
}

// --- Operations ---

// Deposit lends principal to the maturity pool, displacing backup funding
// first and realizing the depositor's share of unassigned earnings.
func (e *Engine) Deposit(ctx context.Context, cap Capability, req DepositRequest) (*DepositResult, error) {
	if err := e.authorize(cap); err != nil {
		return nil, err
	}
	if !req.Principal.IsPositive() {
		return nil, fixed.ErrZeroAmount
	}
	start := time.Now()
	now := e.now().UTC()
	if err := fixed.ValidateMaturity(req.Maturity, now.Unix(), e.params); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.loadPool(ctx, req.Maturity, now.Unix())
	if err != nil {
		return nil, err
	}
	accrued := fixed.Accrue(p, now.Unix())
	dep := fixed.Deposit(p, req.Principal, e.params.BackupFeeRate)

	total := req.Principal.Add(dep.DepositorShare)
	if req.MinAssets.IsPositive() && total.LessThan(req.MinAssets) {
		metrics.SettlementRejections.WithLabelValues("slippage").Inc()
		return nil, ErrTooMuchSlippage
	}

	pos, err := e.loadPosition(ctx, req.Account, req.Maturity, model.SideDeposit)
	if err != nil {
		return nil, err
	}
	pos.Principal = pos.Principal.Add(req.Principal)
	pos.Fee = pos.Fee.Add(dep.DepositorShare)

	entry := e.newEntry(model.OpDeposit, req.Account, req.Account, req.Maturity, now)
	entry.Principal = req.Principal
	entry.Fee = dep.DepositorShare

	if err := e.persist(ctx, p, pos, entry); err != nil {
		return nil, err
	}

	e.settleAccrual(accrued)
	if dep.BackupShare.IsPositive() {
		e.backup.CreditEarnings(dep.BackupShare)
	}
	if dep.AdapterRepay.IsPositive() {
		e.backup.Repay(dep.AdapterRepay)
		metrics.BackupExposure.Sub(dep.AdapterRepay.InexactFloat64())
	}

	e.finish(model.OpDeposit, req.Principal, start, entry)
	slog.Info("deposit settled",
		"account", req.Account,
		"maturity", req.Maturity,
		"principal", req.Principal.String(),
		"earned", dep.DepositorShare.String(),
		"backup_repaid", dep.AdapterRepay.String(),
	)

	return &DepositResult{
		EntryID:      entry.ID,
		Principal:    req.Principal,
		Fee:          dep.DepositorShare,
		Total:        total,
		BackupRepaid: dep.AdapterRepay,
	}, nil
}

// Borrow draws principal from the maturity pool at the quoted fixed rate,
// funding any shortfall beyond spare deposit capacity from the backup pool.
func (e *Engine) Borrow(ctx context.Context, cap Capability, req BorrowRequest) (*BorrowResult, error) {
	if err := e.authorize(cap); err != nil {
		return nil, err
	}
	if !req.Principal.IsPositive() {
		return nil, fixed.ErrZeroAmount
	}
	start := time.Now()
	now := e.now().UTC()
	if err := fixed.ValidateMaturity(req.Maturity, now.Unix(), e.params); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.loadPool(ctx, req.Maturity, now.Unix())
	if err != nil {
		return nil, err
	}
	accrued := fixed.Accrue(p, now.Unix())

	rate := e.rates.FixedBorrowRate(req.Principal, req.Maturity, now.Unix(),
		p.Borrowed, p.Supplied, e.backup.AvailableLiquidity())
	fee := req.Principal.Mul(rate).RoundDown(fixed.AmountScale)
	total := req.Principal.Add(fee)

	if req.MaxAssets.IsPositive() && total.GreaterThan(req.MaxAssets) {
		metrics.SettlementRejections.WithLabelValues("slippage").Inc()
		return nil, ErrTooMuchSlippage
	}

	bor := fixed.Borrow(p, req.Principal, fee)

	if bor.FromBackup.IsPositive() {
		if err := e.backup.Borrow(bor.FromBackup); err != nil {
			metrics.SettlementRejections.WithLabelValues("liquidity").Inc()
			return nil, ErrInsufficientProtocolLiquidity
		}
	}

	pos, err := e.loadPosition(ctx, req.Account, req.Maturity, model.SideBorrow)
	if err != nil {
		e.unwindBackup(bor.FromBackup)
		return nil, err
	}
	pos.Principal = pos.Principal.Add(req.Principal)
	pos.Fee = pos.Fee.Add(fee)

	entry := e.newEntry(model.OpBorrow, req.Account, req.Receiver, req.Maturity, now)
	entry.Principal = req.Principal
	entry.Fee = fee

	if err := e.persist(ctx, p, pos, entry); err != nil {
		e.unwindBackup(bor.FromBackup)
		return nil, err
	}

	e.settleAccrual(accrued)
	if bor.FeeToTreasury.IsPositive() {
		e.treasury.Credit(bor.FeeToTreasury)
	}
	metrics.BackupExposure.Add(bor.FromBackup.InexactFloat64())

	e.finish(model.OpBorrow, req.Principal, start, entry)
	slog.Info("borrow settled",
		"account", req.Account,
		"receiver", req.Receiver,
		"maturity", req.Maturity,
		"principal", req.Principal.String(),
		"fee", fee.String(),
		"rate", rate.String(),
		"from_backup", bor.FromBackup.String(),
	)

	return &BorrowResult{
		EntryID:    entry.ID,
		Principal:  req.Principal,
		Fee:        fee,
		Total:      total,
		Rate:       rate,
		FromBackup: bor.FromBackup,
	}, nil
}

// Repay covers up to Amount of the borrower's debt: discounted from
// unassigned earnings before maturity, penalized per day after it.
func (e *Engine) Repay(ctx context.Context, cap Capability, req RepayRequest) (*RepayResult, error) {
	if err := e.authorize(cap); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, fixed.ErrZeroAmount
	}
	start := time.Now()
	now := e.now().UTC()
	if err := fixed.ValidateMaturityGrid(req.Maturity, e.params); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetPool(ctx, req.Maturity)
	if errors.Is(err, store.ErrPoolNotFound) {
		return nil, fixed.ErrNoPosition
	}
	if err != nil {
		return nil, err
	}
	accrued := fixed.Accrue(p, now.Unix())

	pos, err := e.store.GetPosition(ctx, req.Borrower, req.Maturity, model.SideBorrow)
	if errors.Is(err, store.ErrPositionNotFound) {
		return nil, fixed.ErrNoPosition
	}
	if err != nil {
		return nil, err
	}

	outcome, err := fixed.Repay(p, *pos, req.Amount, now.Unix(), e.params.PenaltyRatePerDay)
	if err != nil {
		return nil, err
	}
	if req.MaxAssets.IsPositive() && outcome.ActualPay.GreaterThan(req.MaxAssets) {
		metrics.SettlementRejections.WithLabelValues("slippage").Inc()
		return nil, ErrTooMuchSlippage
	}

	pos.Principal = pos.Principal.Sub(outcome.PrincipalCovered)
	pos.Fee = pos.Fee.Sub(outcome.FeeCovered)

	entry := e.newEntry(model.OpRepay, req.Borrower, req.Payer, req.Maturity, now)
	entry.Principal = outcome.PrincipalCovered
	entry.Fee = outcome.FeeCovered
	entry.Discount = outcome.Discount
	entry.Penalty = outcome.Penalty

	if err := e.persist(ctx, p, pos, entry); err != nil {
		return nil, err
	}

	e.settleAccrual(accrued)
	if outcome.BackupReleased.IsPositive() {
		e.backup.Repay(outcome.BackupReleased)
		metrics.BackupExposure.Sub(outcome.BackupReleased.InexactFloat64())
	}
	if outcome.PenaltyToBackup.IsPositive() {
		e.backup.CreditEarnings(outcome.PenaltyToBackup)
	}
	if outcome.PenaltyToTreasury.IsPositive() {
		e.treasury.Credit(outcome.PenaltyToTreasury)
	}

	spare := req.Amount.Sub(outcome.ActualPay)
	if spare.IsNegative() {
		spare = decimal.Zero
	}

	e.finish(model.OpRepay, outcome.PrincipalCovered, start, entry)
	slog.Info("repay settled",
		"payer", req.Payer,
		"borrower", req.Borrower,
		"maturity", req.Maturity,
		"debt_covered", outcome.DebtCovered.String(),
		"discount", outcome.Discount.String(),
		"penalty", outcome.Penalty.String(),
	)

	return &RepayResult{
		EntryID:     entry.ID,
		DebtCovered: outcome.DebtCovered,
		Discount:    outcome.Discount,
		Penalty:     outcome.Penalty,
		ActualPay:   outcome.ActualPay,
		SpareAmount: spare,
	}, nil
}

// Withdraw exits up to Assets of the account's deposit position, discounted
// before maturity and drawing replacement liquidity from the backup pool.
func (e *Engine) Withdraw(ctx context.Context, cap Capability, req WithdrawRequest) (*WithdrawResult, error) {
	if err := e.authorize(cap); err != nil {
		return nil, err
	}
	if !req.Assets.IsPositive() {
		return nil, fixed.ErrZeroAmount
	}
	start := time.Now()
	now := e.now().UTC()
	if err := fixed.ValidateMaturityGrid(req.Maturity, e.params); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetPool(ctx, req.Maturity)
	if errors.Is(err, store.ErrPoolNotFound) {
		return nil, fixed.ErrNoPosition
	}
	if err != nil {
		return nil, err
	}
	accrued := fixed.Accrue(p, now.Unix())

	pos, err := e.store.GetPosition(ctx, req.Account, req.Maturity, model.SideDeposit)
	if errors.Is(err, store.ErrPositionNotFound) {
		return nil, fixed.ErrNoPosition
	}
	if err != nil {
		return nil, err
	}

	rate := e.rates.FixedBorrowRate(req.Assets, req.Maturity, now.Unix(),
		p.Borrowed, p.Supplied, e.backup.AvailableLiquidity())

	outcome, err := fixed.Withdraw(p, *pos, req.Assets, now.Unix(), rate, e.params.BackupFeeRate)
	if err != nil {
		return nil, err
	}
	if req.MinAssets.IsPositive() && outcome.AssetsDiscounted.LessThan(req.MinAssets) {
		metrics.SettlementRejections.WithLabelValues("slippage").Inc()
		return nil, ErrTooMuchSlippage
	}

	if outcome.BackupDrawn.IsPositive() {
		if err := e.backup.Borrow(outcome.BackupDrawn); err != nil {
			metrics.SettlementRejections.WithLabelValues("liquidity").Inc()
			return nil, ErrInsufficientProtocolLiquidity
		}
	}

	pos.Principal = pos.Principal.Sub(outcome.PrincipalCovered)
	pos.Fee = pos.Fee.Sub(outcome.FeeCovered)

	entry := e.newEntry(model.OpWithdraw, req.Account, req.Account, req.Maturity, now)
	entry.Principal = outcome.PrincipalCovered
	entry.Fee = outcome.FeeCovered
	entry.Discount = outcome.Forfeit

	if err := e.persist(ctx, p, pos, entry); err != nil {
		e.unwindBackup(outcome.BackupDrawn)
		return nil, err
	}

	e.settleAccrual(accrued)
	if outcome.ForfeitToTreasury.IsPositive() {
		e.treasury.Credit(outcome.ForfeitToTreasury)
	}
	metrics.BackupExposure.Add(outcome.BackupDrawn.InexactFloat64())

	e.finish(model.OpWithdraw, outcome.PrincipalCovered, start, entry)
	slog.Info("withdraw settled",
		"account", req.Account,
		"maturity", req.Maturity,
		"assets", outcome.PositionAssets.String(),
		"received", outcome.AssetsDiscounted.String(),
		"forfeit", outcome.Forfeit.String(),
	)

	return &WithdrawResult{
		EntryID:        entry.ID,
		PositionAssets: outcome.PositionAssets,
		AssetsReceived: outcome.AssetsDiscounted,
		Forfeit:        outcome.Forfeit,
	}, nil
}

// --- Read surface ---

// Pool returns the aggregate record for one maturity.
func (e *Engine) Pool(ctx context.Context, maturity int64) (*model.MaturityPool, error) {
	return e.store.GetPool(ctx, maturity)
}

// Pools returns all known maturity pools.
func (e *Engine) Pools(ctx context.Context) ([]model.MaturityPool, error) {
	return e.store.ListPools(ctx)
}

// Account returns the snapshot the risk engine reads: every open position
// with deposit and debt totals.
func (e *Engine) Account(ctx context.Context, account string) (*model.AccountSnapshot, error) {
	positions, err := e.store.ListAccountPositions(ctx, account)
	if err != nil {
		return nil, err
	}

	snap := &model.AccountSnapshot{Account: account, Positions: positions}
	for _, p := range positions {
		switch p.Side {
		case model.SideDeposit:
			snap.TotalDeposits = snap.TotalDeposits.Add(p.Assets())
		case model.SideBorrow:
			snap.TotalDebt = snap.TotalDebt.Add(p.Assets())
		}
	}
	return snap, nil
}

// History returns the settlement entries recorded against one maturity.
func (e *Engine) History(ctx context.Context, maturity int64) ([]model.SettlementEntry, error) {
	return e.store.SettlementsByMaturity(ctx, maturity)
}

// Quote previews the fixed rates an operation of the given size would pay at
// a maturity, without mutating anything.
func (e *Engine) Quote(ctx context.Context, maturity int64, amount decimal.Decimal) (*RateQuote, error) {
	now := e.now().UTC().Unix()
	if err := fixed.ValidateMaturity(maturity, now, e.params); err != nil {
		return nil, err
	}

	p, err := e.store.GetPool(ctx, maturity)
	if errors.Is(err, store.ErrPoolNotFound) {
		p = &model.MaturityPool{Maturity: maturity, LastAccrual: now}
	} else if err != nil {
		return nil, err
	}

	available := e.backup.AvailableLiquidity()
	return &RateQuote{
		Maturity:    maturity,
		BorrowRate:  e.rates.FixedBorrowRate(amount, maturity, now, p.Borrowed, p.Supplied, available),
		DepositRate: e.rates.FixedDepositRate(amount, maturity, now, p.Borrowed, p.Supplied, available),
	}, nil
}

// --- Internals ---

func (e *Engine) authorize(cap Capability) error {
	if cap != e.capability {
		metrics.SettlementRejections.WithLabelValues("unauthorized").Inc()
		return ErrCallerNotAuthorized
	}
	return nil
}

// loadPool fetches a pool record, creating a zero pool on first use at a
// maturity. New pools start accruing at now.
func (e *Engine) loadPool(ctx context.Context, maturity, now int64) (*model.MaturityPool, error) {
	p, err := e.store.GetPool(ctx, maturity)
	if errors.Is(err, store.ErrPoolNotFound) {
		return &model.MaturityPool{Maturity: maturity, LastAccrual: now}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) loadPosition(ctx context.Context, account string, maturity int64, side string) (*model.FixedPosition, error) {
	pos, err := e.store.GetPosition(ctx, account, maturity, side)
	if errors.Is(err, store.ErrPositionNotFound) {
		return &model.FixedPosition{Account: account, Maturity: maturity, Side: side}, nil
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

func (e *Engine) newEntry(op, account, initiator string, maturity int64, now time.Time) *model.SettlementEntry {
	return &model.SettlementEntry{
		ID:        uuid.New().String(),
		Op:        op,
		Account:   account,
		Initiator: initiator,
		Maturity:  maturity,
		Timestamp: now,
	}
}

// persist writes the pool, the position (deleting it once empty), and the
// settlement entry. Called only after every guard has passed.
func (e *Engine) persist(ctx context.Context, p *model.MaturityPool, pos *model.FixedPosition, entry *model.SettlementEntry) error {
	if err := e.store.PutPool(ctx, p); err != nil {
		return err
	}
	if pos.Assets().IsPositive() {
		if err := e.store.PutPosition(ctx, pos); err != nil {
			return err
		}
	} else if err := e.store.DeletePosition(ctx, pos.Account, pos.Maturity, pos.Side); err != nil {
		return err
	}
	return e.store.InsertSettlement(ctx, entry)
}

// settleAccrual routes earnings realized by the pre-operation accrual. Only
// called after the operation commits, so a failed guard discards the accrual
// along with everything else.
func (e *Engine) settleAccrual(a fixed.Accrued) {
	if a.BackupEarnings.IsPositive() {
		e.backup.CreditEarnings(a.BackupEarnings)
	}
	if a.TreasuryEarnings.IsPositive() {
		e.treasury.Credit(a.TreasuryEarnings)
	}
}

// unwindBackup returns a reserved draw after a persistence failure.
func (e *Engine) unwindBackup(amount decimal.Decimal) {
	if amount.IsPositive() {
		e.backup.Repay(amount)
	}
}

func (e *Engine) finish(op string, principal decimal.Decimal, start time.Time, entry *model.SettlementEntry) {
	metrics.SettlementsTotal.WithLabelValues(op).Inc()
	metrics.SettlementLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.VolumeTotal.WithLabelValues(op).Add(principal.InexactFloat64())

	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:      entry.Op,
			Maturity:  entry.Maturity,
			Account:   entry.Account,
			Principal: entry.Principal.String(),
			Fee:       entry.Fee.String(),
			Discount:  entry.Discount.String(),
			Penalty:   entry.Penalty.String(),
		})
	}
}
