package fixed

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cadian99/termpool/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const day = int64(86_400)

// maturity used throughout: an aligned grid point well in the future.
const interval = int64(4 * 7 * 24 * 3600)

func testParams() model.Parameters {
	p := model.DefaultParameters()
	p.Interval = interval
	return p
}

func poolAt(maturity int64, borrowed, supplied, backupBorrowed, unassigned float64, lastAccrual int64) *model.MaturityPool {
	return &model.MaturityPool{
		Maturity:           maturity,
		Borrowed:           d(borrowed),
		Supplied:           d(supplied),
		BackupBorrowed:     d(backupBorrowed),
		EarningsUnassigned: d(unassigned),
		LastAccrual:        lastAccrual,
	}
}

// --- Maturity validation ---

func TestValidateMaturity(t *testing.T) {
	params := testParams()
	now := 700*interval - interval/2 // mid-interval

	tests := []struct {
		name     string
		maturity int64
		wantErr  bool
	}{
		{"next grid point", 700 * interval, false},
		{"several intervals out", 705 * interval, false},
		{"at horizon", 711 * interval, false},
		{"beyond horizon", 712 * interval, true},
		{"off grid", 700*interval + 1, true},
		{"in the past", 698 * interval, true},
		{"equal to now rounded", now, true},
		{"zero", 0, true},
		{"negative", -interval, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaturity(tt.maturity, now, params)
			if tt.wantErr && err == nil {
				t.Errorf("expected error for maturity %d", tt.maturity)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for maturity %d: %v", tt.maturity, err)
			}
		})
	}
}

func TestValidateMaturityGrid_AcceptsMatured(t *testing.T) {
	// Repay and withdraw run against pools already past maturity.
	if err := ValidateMaturityGrid(5*interval, testParams()); err != nil {
		t.Errorf("unexpected error for matured grid point: %v", err)
	}
	if err := ValidateMaturityGrid(5*interval+3, testParams()); err != ErrInvalidMaturity {
		t.Errorf("expected ErrInvalidMaturity off grid, got %v", err)
	}
}

// --- Accrual ---

func TestAccrue_Proportional(t *testing.T) {
	m := 700 * interval
	// 250 unassigned, 6 days to maturity, 3 days elapse: half realizes.
	p := poolAt(m, 15750, 15750, 0, 250, m-6*day)

	out := Accrue(p, m-3*day)

	if !out.TreasuryEarnings.Equal(d(125)) {
		t.Errorf("expected 125 to treasury, got %s", out.TreasuryEarnings)
	}
	if !out.BackupEarnings.IsZero() {
		t.Errorf("expected no backup earnings, got %s", out.BackupEarnings)
	}
	if !p.EarningsUnassigned.Equal(d(125)) {
		t.Errorf("expected 125 unassigned left, got %s", p.EarningsUnassigned)
	}
	if p.LastAccrual != m-3*day {
		t.Errorf("lastAccrual not advanced: %d", p.LastAccrual)
	}
}

func TestAccrue_RoutesToBackupWhenExposed(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 15250, 10250, 5000, 250, m-6*day)

	out := Accrue(p, m-3*day)

	if !out.BackupEarnings.Equal(d(125)) {
		t.Errorf("expected 125 to backup, got %s", out.BackupEarnings)
	}
	if !out.TreasuryEarnings.IsZero() {
		t.Errorf("expected no treasury earnings, got %s", out.TreasuryEarnings)
	}
}

func TestAccrue_Idempotent(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 0, 0, 100, m-6*day)

	Accrue(p, m-3*day)
	out := Accrue(p, m-3*day)

	if !out.TreasuryEarnings.IsZero() || !out.BackupEarnings.IsZero() {
		t.Errorf("second accrual at same time realized earnings: %+v", out)
	}
}

func TestAccrue_AtMaturityRealizesAll(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 0, 0, 100, m-6*day)

	out := Accrue(p, m)

	if !out.TreasuryEarnings.Equal(d(100)) {
		t.Errorf("expected all 100 realized at maturity, got %s", out.TreasuryEarnings)
	}
	if !p.EarningsUnassigned.IsZero() {
		t.Errorf("expected zero unassigned, got %s", p.EarningsUnassigned)
	}

	// Past maturity behaves the same.
	p2 := poolAt(m, 0, 0, 0, 100, m-6*day)
	out2 := Accrue(p2, m+10*day)
	if !out2.TreasuryEarnings.Equal(d(100)) {
		t.Errorf("expected all realized past maturity, got %s", out2.TreasuryEarnings)
	}
}

// --- Deposit ---

func TestDeposit_NoBackupDebt(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 0, 0, 0, m-6*day)

	out := Deposit(p, d(10000), d(0.1))

	if !out.DepositorShare.IsZero() {
		t.Errorf("expected no earned share without backup debt, got %s", out.DepositorShare)
	}
	if !out.AdapterRepay.IsZero() {
		t.Errorf("expected no adapter repay, got %s", out.AdapterRepay)
	}
	if !p.Supplied.Equal(d(10000)) {
		t.Errorf("expected supplied=10000, got %s", p.Supplied)
	}
}

func TestDeposit_DisplacesBackup(t *testing.T) {
	m := 700 * interval
	// borrowed 15250 vs supplied 10250: 5000 backup-funded, 250 unassigned.
	p := poolAt(m, 15250, 10250, 5000, 250, m-6*day)

	out := Deposit(p, d(5000), decimal.Zero)

	if !out.BackupRepaid.Equal(d(5000)) {
		t.Errorf("expected 5000 backup repaid, got %s", out.BackupRepaid)
	}
	if !out.DepositorShare.Equal(d(125)) {
		t.Errorf("expected depositor share 125, got %s", out.DepositorShare)
	}
	if !out.BackupShare.Equal(d(125)) {
		t.Errorf("expected backup share 125, got %s", out.BackupShare)
	}
	if !out.AdapterRepay.Equal(d(5000)) {
		t.Errorf("expected adapter repay 5000, got %s", out.AdapterRepay)
	}
	if !p.Supplied.Equal(d(15375)) { // 10250 + 5000 + 125
		t.Errorf("expected supplied=15375, got %s", p.Supplied)
	}
	if !p.BackupBorrowed.IsZero() {
		t.Errorf("expected zero backup debt, got %s", p.BackupBorrowed)
	}
	if !p.EarningsUnassigned.IsZero() {
		t.Errorf("expected zero unassigned, got %s", p.EarningsUnassigned)
	}
}

func TestDeposit_BackupFeeRateSkim(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 15250, 10250, 5000, 250, m-6*day)

	out := Deposit(p, d(5000), d(0.1))

	// Realized 250: half 125 each, 10% of the depositor half moves to backup.
	if !out.BackupShare.Equal(d(137.5)) {
		t.Errorf("expected backup share 137.5, got %s", out.BackupShare)
	}
	if !out.DepositorShare.Equal(d(112.5)) {
		t.Errorf("expected depositor share 112.5, got %s", out.DepositorShare)
	}
	if !out.DepositorShare.Add(out.BackupShare).Equal(d(250)) {
		t.Errorf("shares do not sum to realized earnings")
	}
}

func TestDeposit_PartialDisplacement(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 15250, 10250, 5000, 250, m-6*day)

	out := Deposit(p, d(2500), decimal.Zero)

	// Half the backup debt displaced: half the unassigned realizes.
	if !out.BackupRepaid.Equal(d(2500)) {
		t.Errorf("expected 2500 backup repaid, got %s", out.BackupRepaid)
	}
	if !out.DepositorShare.Equal(d(62.5)) {
		t.Errorf("expected depositor share 62.5, got %s", out.DepositorShare)
	}
	if !p.EarningsUnassigned.Equal(d(125)) {
		t.Errorf("expected 125 unassigned left, got %s", p.EarningsUnassigned)
	}
	if !p.BackupBorrowed.Equal(d(2437.5)) { // 15250 − (10250+2500+62.5)
		t.Errorf("expected backup debt 2437.5, got %s", p.BackupBorrowed)
	}
}

// --- Borrow ---

func TestBorrow_DepositFunded(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 10000, 0, 0, m-6*day)

	out := Borrow(p, d(5000), d(250))

	if !out.FromBackup.IsZero() {
		t.Errorf("expected fully deposit-funded, got from_backup=%s", out.FromBackup)
	}
	if !out.FeeToTreasury.Equal(d(250)) {
		t.Errorf("expected full fee to treasury, got %s", out.FeeToTreasury)
	}
	if !out.FeeToUnassigned.IsZero() {
		t.Errorf("expected no unassigned fee, got %s", out.FeeToUnassigned)
	}
	if !p.Borrowed.Equal(d(5250)) {
		t.Errorf("expected borrowed=5250, got %s", p.Borrowed)
	}
}

func TestBorrow_BackupFunded(t *testing.T) {
	m := 700 * interval
	// Fully utilized pool: the whole new borrow comes from backup.
	p := poolAt(m, 10000, 10000, 0, 0, m-6*day)

	out := Borrow(p, d(5000), d(250))

	if !out.FromBackup.Equal(d(5250)) {
		t.Errorf("expected from_backup=5250, got %s", out.FromBackup)
	}
	if !out.FeeToUnassigned.Equal(d(250)) {
		t.Errorf("expected full fee unassigned, got %s", out.FeeToUnassigned)
	}
	if !out.FeeToTreasury.IsZero() {
		t.Errorf("expected no treasury fee, got %s", out.FeeToTreasury)
	}
	if !p.BackupBorrowed.Equal(d(5250)) {
		t.Errorf("expected backup debt 5250, got %s", p.BackupBorrowed)
	}
	if !p.EarningsUnassigned.Equal(d(250)) {
		t.Errorf("expected unassigned=250, got %s", p.EarningsUnassigned)
	}
}

func TestBorrow_SplitFee(t *testing.T) {
	m := 700 * interval
	// 2000 of spare deposit capacity, rest from backup.
	p := poolAt(m, 8000, 10000, 0, 0, m-6*day)

	out := Borrow(p, d(5000), d(250))

	if !out.FromBackup.Equal(d(3250)) {
		t.Errorf("expected from_backup=3250, got %s", out.FromBackup)
	}
	if !out.FeeToUnassigned.Add(out.FeeToTreasury).Equal(d(250)) {
		t.Errorf("fee split does not sum: unassigned=%s treasury=%s",
			out.FeeToUnassigned, out.FeeToTreasury)
	}
	if !out.FeeToUnassigned.IsPositive() || out.FeeToUnassigned.GreaterThanOrEqual(d(250)) {
		t.Errorf("expected partial unassigned fee, got %s", out.FeeToUnassigned)
	}
}

// --- Repay ---

func borrowPos(principal, fee float64) model.FixedPosition {
	return model.FixedPosition{
		Account: "bob", Maturity: 700 * interval, Side: model.SideBorrow,
		Principal: d(principal), Fee: d(fee),
	}
}

func TestRepay_EarlyDiscount(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 15750, 15750, 0, 250, m-3*day)

	out, err := Repay(p, borrowPos(15000, 750), d(15750), m-3*day, d(0.02))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !out.DebtCovered.Equal(d(15750)) {
		t.Errorf("expected debt covered 15750, got %s", out.DebtCovered)
	}
	// Covering all of borrowed releases all unassigned as discount.
	if !out.Discount.Equal(d(250)) {
		t.Errorf("expected discount 250, got %s", out.Discount)
	}
	if !out.ActualPay.Equal(d(15500)) {
		t.Errorf("expected actual pay 15500, got %s", out.ActualPay)
	}
	if !out.Penalty.IsZero() {
		t.Errorf("expected no penalty before maturity, got %s", out.Penalty)
	}
	if !p.Borrowed.IsZero() {
		t.Errorf("expected borrowed zero, got %s", p.Borrowed)
	}
}

func TestRepay_PartialKeepsRatio(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 5250, 10000, 0, 0, m-3*day)

	out, err := Repay(p, borrowPos(5000, 250), d(2100), m-3*day, d(0.02))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !out.PrincipalCovered.Equal(d(2000)) {
		t.Errorf("expected principal covered 2000, got %s", out.PrincipalCovered)
	}
	if !out.FeeCovered.Equal(d(100)) {
		t.Errorf("expected fee covered 100, got %s", out.FeeCovered)
	}
	if !out.PrincipalCovered.Add(out.FeeCovered).Equal(out.DebtCovered) {
		t.Error("principal+fee covered must equal debt covered")
	}
}

func TestRepay_LatePenalty(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 15750, 10500, 5250, 0, m)

	out, err := Repay(p, borrowPos(15000, 750), d(15750), m+day, d(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1 day late at 10%/day on 15750 covered.
	if !out.Penalty.Equal(d(1575)) {
		t.Errorf("expected penalty 1575, got %s", out.Penalty)
	}
	// Split by the backup-backed third of the pool's debt.
	if !out.PenaltyToBackup.Equal(d(525)) {
		t.Errorf("expected 525 to backup, got %s", out.PenaltyToBackup)
	}
	if !out.PenaltyToTreasury.Equal(d(1050)) {
		t.Errorf("expected 1050 to treasury, got %s", out.PenaltyToTreasury)
	}
	if !out.ActualPay.Equal(d(17325)) {
		t.Errorf("expected actual pay 17325, got %s", out.ActualPay)
	}
	if !out.Discount.IsZero() {
		t.Errorf("expected no discount after maturity, got %s", out.Discount)
	}
}

func TestRepay_AtMaturityTakesLatePath(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 5250, 10000, 0, 100, m)

	out, err := Repay(p, borrowPos(5000, 250), d(5250), m, d(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Exactly at maturity: zero days late, zero penalty, and no discount.
	if !out.Penalty.IsZero() {
		t.Errorf("expected zero penalty at maturity, got %s", out.Penalty)
	}
	if !out.Discount.IsZero() {
		t.Errorf("expected zero discount at maturity, got %s", out.Discount)
	}
	if !out.ActualPay.Equal(d(5250)) {
		t.Errorf("expected actual pay 5250, got %s", out.ActualPay)
	}
}

func TestRepay_ReleasesBackup(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 15250, 10250, 5000, 0, m-3*day)

	out, err := Repay(p, borrowPos(15000, 250), d(5250), m-3*day, d(0.02))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// borrowed drops to 10000 ≤ supplied 10250: all backup debt releases.
	if !out.BackupReleased.Equal(d(5000)) {
		t.Errorf("expected 5000 released, got %s", out.BackupReleased)
	}
	if !p.BackupBorrowed.IsZero() {
		t.Errorf("expected zero backup debt, got %s", p.BackupBorrowed)
	}
}

func TestRepay_Errors(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 5250, 10000, 0, 0, m-3*day)

	if _, err := Repay(p, borrowPos(5000, 250), decimal.Zero, m-3*day, d(0.02)); err != ErrZeroAmount {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := Repay(p, borrowPos(0, 0), d(100), m-3*day, d(0.02)); err != ErrNoPosition {
		t.Errorf("expected ErrNoPosition, got %v", err)
	}
}

// --- Withdraw ---

func depositPos(principal, fee float64) model.FixedPosition {
	return model.FixedPosition{
		Account: "alice", Maturity: 700 * interval, Side: model.SideDeposit,
		Principal: d(principal), Fee: d(fee),
	}
}

func TestWithdraw_AtMaturityFull(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 10000, 0, 0, m)

	out, err := Withdraw(p, depositPos(5000, 0), d(5000), m, d(0.05), d(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !out.AssetsDiscounted.Equal(d(5000)) {
		t.Errorf("expected full payout at maturity, got %s", out.AssetsDiscounted)
	}
	if !out.Forfeit.IsZero() {
		t.Errorf("expected no forfeit at maturity, got %s", out.Forfeit)
	}
	if !p.Supplied.Equal(d(5000)) {
		t.Errorf("expected supplied 5000, got %s", p.Supplied)
	}
}

func TestWithdraw_EarlyDiscount(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 10000, 0, 0, m-3*day)

	// 1050 at a 5% period rate discounts to 1000.
	out, err := Withdraw(p, depositPos(1050, 0), d(1050), m-3*day, d(0.05), d(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !out.AssetsDiscounted.Equal(d(1000)) {
		t.Errorf("expected discounted 1000, got %s", out.AssetsDiscounted)
	}
	if !out.Forfeit.Equal(d(50)) {
		t.Errorf("expected forfeit 50, got %s", out.Forfeit)
	}
	if !out.ForfeitToTreasury.Equal(d(5)) {
		t.Errorf("expected 5 to treasury, got %s", out.ForfeitToTreasury)
	}
	if !out.ForfeitToUnassigned.Equal(d(45)) {
		t.Errorf("expected 45 unassigned, got %s", out.ForfeitToUnassigned)
	}
	if !p.EarningsUnassigned.Equal(d(45)) {
		t.Errorf("expected pool unassigned 45, got %s", p.EarningsUnassigned)
	}
}

func TestWithdraw_DrawsBackup(t *testing.T) {
	m := 700 * interval
	// Fully lent pool: a departing deposit must be replaced by backup funds.
	p := poolAt(m, 10000, 10000, 0, 0, m)

	out, err := Withdraw(p, depositPos(5000, 0), d(5000), m, d(0.05), d(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !out.BackupDrawn.Equal(d(5000)) {
		t.Errorf("expected 5000 drawn from backup, got %s", out.BackupDrawn)
	}
	if !p.BackupBorrowed.Equal(d(5000)) {
		t.Errorf("expected backup debt 5000, got %s", p.BackupBorrowed)
	}
}

func TestWithdraw_CapsAtPosition(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 10000, 0, 0, m)

	out, err := Withdraw(p, depositPos(3000, 0), d(9999), m, d(0.05), d(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.PositionAssets.Equal(d(3000)) {
		t.Errorf("expected capped at 3000, got %s", out.PositionAssets)
	}
}

func TestWithdraw_SuppliedExceeded(t *testing.T) {
	m := 700 * interval
	// A position larger than the pool's supplied total means the ledger is
	// inconsistent; the withdrawal must not settle.
	p := poolAt(m, 0, 1000, 0, 0, m)

	if _, err := Withdraw(p, depositPos(5000, 0), d(5000), m, decimal.Zero, d(0.1)); err != ErrSuppliedExceeded {
		t.Errorf("expected ErrSuppliedExceeded, got %v", err)
	}
	if !p.Supplied.Equal(d(1000)) {
		t.Errorf("pool mutated on failed withdraw: supplied=%s", p.Supplied)
	}
}

// --- Proportional cover ---

func TestCoverProportionally(t *testing.T) {
	pos := borrowPos(5000, 250)

	principal, fee := CoverProportionally(pos, d(2100))
	if !principal.Equal(d(2000)) || !fee.Equal(d(100)) {
		t.Errorf("expected 2000/100, got %s/%s", principal, fee)
	}

	// Remainder lands on the fee side so the parts always sum exactly.
	principal, fee = CoverProportionally(pos, d(1))
	if !principal.Add(fee).Equal(d(1)) {
		t.Errorf("parts do not sum: %s + %s", principal, fee)
	}

	principal, fee = CoverProportionally(borrowPos(0, 0), d(100))
	if !principal.IsZero() || !fee.IsZero() {
		t.Errorf("expected zero cover on empty position, got %s/%s", principal, fee)
	}
}

// --- Conservation invariant ---

func TestConservation_AcrossOperations(t *testing.T) {
	m := 700 * interval
	p := poolAt(m, 0, 0, 0, 0, m-6*day)

	check := func(step string) {
		t.Helper()
		want := p.Borrowed.Sub(p.Supplied)
		if want.IsNegative() {
			want = decimal.Zero
		}
		if !p.BackupBorrowed.Equal(want) {
			t.Fatalf("%s: backup debt %s, want max(0, borrowed−supplied)=%s",
				step, p.BackupBorrowed, want)
		}
	}

	Deposit(p, d(10000), d(0.1))
	check("deposit")

	Borrow(p, d(12000), d(600))
	check("borrow beyond supplied")

	Deposit(p, d(1500), d(0.1))
	check("deposit displacing backup")

	if _, err := Repay(p, borrowPos(12000, 600), d(4000), m-3*day, d(0.02)); err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	check("partial repay")

	if _, err := Withdraw(p, depositPos(6000, 0), d(3000), m-2*day, d(0.05), d(0.1)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	check("early withdraw")
}
