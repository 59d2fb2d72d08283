package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	fpmath "TroveLedger/internal/math"
)

// price of 2000 stable per unit of collateral, 18 decimals
func price2000() *big.Int { return amt(2000) }

func testParams() *RiskParams {
	return defaultRiskParams("ETH")
}

func mustOpen(t *testing.T, pl *PositionLedger, owner uuid.UUID, coll, debt int64) *Trove {
	t.Helper()
	tr, err := pl.Open(owner, "ETH", amt(coll), amt(debt), price2000(), testParams())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return tr
}

func TestOpen_FirstTroveStakeEqualsCollateral(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	owner := uuid.New()

	tr := mustOpen(t, pl, owner, 10, 4000)

	if tr.Status != TroveStatusActive {
		t.Errorf("status = %s, want Active", tr.Status)
	}
	if tr.Stake.Cmp(amt(10)) != 0 {
		t.Errorf("stake = %s, want collateral 10e18", tr.Stake)
	}
	if got := pl.TotalStakes("ETH"); got.Cmp(amt(10)) != 0 {
		t.Errorf("total stakes = %s, want 10e18", got)
	}
	if got := pl.TotalDebt("ETH"); got.Cmp(amt(4000)) != 0 {
		t.Errorf("total debt = %s, want 4000e18", got)
	}
}

func TestOpen_Validation(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	owner := uuid.New()
	params := testParams()

	if _, err := pl.Open(owner, "DOGE", amt(10), amt(4000), price2000(), params); !errors.Is(err, ErrInvalidAsset) {
		t.Errorf("unknown asset: got %v", err)
	}
	if _, err := pl.Open(owner, "ETH", amt(10), amt(100), price2000(), params); !errors.Is(err, ErrDebtBelowMinimum) {
		t.Errorf("below min debt: got %v", err)
	}
	// 2 ETH at 2000 = 4000 value against 4000 debt: ICR 100% < 110%
	if _, err := pl.Open(owner, "ETH", amt(2), amt(4000), price2000(), params); !errors.Is(err, ErrInsufficientCollateralRatio) {
		t.Errorf("below mcr: got %v", err)
	}

	mustOpen(t, pl, owner, 10, 4000)
	if _, err := pl.Open(owner, "ETH", amt(10), amt(4000), price2000(), params); !errors.Is(err, ErrPositionAlreadyExists) {
		t.Errorf("duplicate: got %v", err)
	}
	// same owner may hold a trove in a different asset
	if _, err := pl.Open(owner, "BTC", amt(10), amt(4000), price2000(), defaultRiskParams("BTC")); err != nil {
		t.Errorf("second asset open failed: %v", err)
	}
}

func TestAdjust_AtomicCheckThenCommit(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	owner := uuid.New()
	mustOpen(t, pl, owner, 10, 4000)

	// withdrawing 9 ETH would leave ICR 1*2000/4000 = 50%
	_, err := pl.Adjust(owner, "ETH", amt(9), false, nil, false, price2000(), testParams())
	if !errors.Is(err, ErrInsufficientCollateralRatio) {
		t.Fatalf("expected icr rejection, got %v", err)
	}

	// the failed adjustment left nothing behind
	tr := pl.GetTrove(owner, "ETH")
	if tr.Collateral.Cmp(amt(10)) != 0 || tr.Debt.Cmp(amt(4000)) != 0 {
		t.Errorf("trove mutated by failed adjust: coll=%s debt=%s", tr.Collateral, tr.Debt)
	}
	if got := pl.TotalCollateral("ETH"); got.Cmp(amt(10)) != 0 {
		t.Errorf("total collateral mutated: %s", got)
	}

	// a valid adjustment commits everything together
	tr, err = pl.Adjust(owner, "ETH", amt(5), true, amt(1000), true, price2000(), testParams())
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if tr.Collateral.Cmp(amt(15)) != 0 || tr.Debt.Cmp(amt(5000)) != 0 {
		t.Errorf("coll=%s debt=%s, want 15e18/5000e18", tr.Collateral, tr.Debt)
	}
	if got := pl.TotalDebt("ETH"); got.Cmp(amt(5000)) != 0 {
		t.Errorf("total debt = %s, want 5000e18", got)
	}
}

func TestAdjust_DebtFloor(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	owner := uuid.New()
	mustOpen(t, pl, owner, 10, 4000)

	// repaying below the composite minimum is rejected; close is the only
	// way to clear the escrowed gas compensation
	_, err := pl.Adjust(owner, "ETH", nil, false, amt(3900), false, price2000(), testParams())
	if !errors.Is(err, ErrDebtBelowMinimum) {
		t.Errorf("expected debt floor rejection, got %v", err)
	}
}

func TestClose_RemovesFromAggregates(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	a := uuid.New()
	b := uuid.New()
	mustOpen(t, pl, a, 10, 4000)
	mustOpen(t, pl, b, 20, 8000)

	tr, err := pl.Close(a, "ETH")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if tr.Status != TroveStatusClosedByOwner {
		t.Errorf("status = %s, want ClosedByOwner", tr.Status)
	}
	if tr.Stake.Sign() != 0 {
		t.Errorf("stake = %s, want 0", tr.Stake)
	}
	if pl.GetTrove(a, "ETH") != nil {
		t.Errorf("closed trove still present")
	}
	if got := pl.TotalCollateral("ETH"); got.Cmp(amt(20)) != 0 {
		t.Errorf("total collateral = %s, want 20e18", got)
	}

	if _, err := pl.Close(a, "ETH"); !errors.Is(err, ErrPositionNotActive) {
		t.Errorf("double close: got %v", err)
	}
}

func TestRedistribute_LazyFold(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	a := uuid.New()
	b := uuid.New()
	mustOpen(t, pl, a, 10, 4000) // stake 10
	mustOpen(t, pl, b, 30, 8000) // stake 30

	if err := pl.Redistribute("ETH", amt(400), amt(4)); err != nil {
		t.Fatalf("redistribute failed: %v", err)
	}

	// totals include the redistributed amounts immediately
	if got := pl.TotalDebt("ETH"); got.Cmp(amt(12_400)) != 0 {
		t.Errorf("total debt = %s, want 12400e18", got)
	}
	if got := pl.TotalCollateral("ETH"); got.Cmp(amt(44)) != 0 {
		t.Errorf("total collateral = %s, want 44e18", got)
	}

	// pending shares are pull-based: balances unchanged until a touch
	trA := pl.GetTrove(a, "ETH")
	if trA.Debt.Cmp(amt(4000)) != 0 {
		t.Errorf("debt folded eagerly: %s", trA.Debt)
	}
	pendColl, pendDebt := pl.PendingRewards(trA)
	if pendColl.Cmp(amt(1)) != 0 { // 10/40 of 4
		t.Errorf("pending coll(a) = %s, want 1e18", pendColl)
	}
	if pendDebt.Cmp(amt(100)) != 0 { // 10/40 of 400
		t.Errorf("pending debt(a) = %s, want 100e18", pendDebt)
	}

	pl.ApplyPendingRewards(trA)
	if trA.Collateral.Cmp(amt(11)) != 0 || trA.Debt.Cmp(amt(4100)) != 0 {
		t.Errorf("folded coll=%s debt=%s, want 11e18/4100e18", trA.Collateral, trA.Debt)
	}
	// folding twice is a no-op
	pl.ApplyPendingRewards(trA)
	if trA.Collateral.Cmp(amt(11)) != 0 {
		t.Errorf("second fold changed collateral: %s", trA.Collateral)
	}

	trB := pl.GetTrove(b, "ETH")
	pendColl, pendDebt = pl.PendingRewards(trB)
	if pendColl.Cmp(amt(3)) != 0 || pendDebt.Cmp(amt(300)) != 0 {
		t.Errorf("pending(b) = %s/%s, want 3e18/300e18", pendColl, pendDebt)
	}
}

func TestRedistribute_NoStakes(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	if err := pl.Redistribute("ETH", amt(100), amt(1)); !errors.Is(err, ErrNothingToRedistribute) {
		t.Errorf("got %v", err)
	}
}

func TestStake_ProportionalAfterRedistribution(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	a := uuid.New()
	b := uuid.New()
	mustOpen(t, pl, a, 10, 4000)
	// redistribution shifts the stakes-to-collateral ratio below 1
	if err := pl.Redistribute("ETH", amt(400), amt(10)); err != nil {
		t.Fatalf("redistribute failed: %v", err)
	}

	// totalStakes 10, totalCollateral 20: b's 10 ETH earns stake 5
	tr := mustOpen(t, pl, b, 10, 4000)
	if tr.Stake.Cmp(amt(5)) != 0 {
		t.Errorf("stake = %s, want 5e18", tr.Stake)
	}
	if got := pl.TotalStakes("ETH"); got.Cmp(amt(15)) != 0 {
		t.Errorf("total stakes = %s, want 15e18", got)
	}
}

func TestSurplus_AssignAndClaim(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	owner := uuid.New()

	if _, err := pl.ClaimSurplus(owner, "ETH"); !errors.Is(err, ErrNoSurplus) {
		t.Errorf("empty claim: got %v", err)
	}

	pl.AssignSurplus(owner, "ETH", amt(2))
	pl.AssignSurplus(owner, "ETH", amt(3))
	if got := pl.GetSurplus(owner, "ETH"); got.Cmp(amt(5)) != 0 {
		t.Errorf("surplus = %s, want 5e18", got)
	}

	claimed, err := pl.ClaimSurplus(owner, "ETH")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed.Cmp(amt(5)) != 0 {
		t.Errorf("claimed = %s, want 5e18", claimed)
	}
	if _, err := pl.ClaimSurplus(owner, "ETH"); !errors.Is(err, ErrNoSurplus) {
		t.Errorf("second claim: got %v", err)
	}
}

func TestTCR(t *testing.T) {
	pl := NewPositionLedger(testAssets)
	owner := uuid.New()
	mustOpen(t, pl, owner, 10, 4000)

	// 10 ETH * 2000 / 4000 = 500%
	want := new(big.Int).Mul(fpmath.Precision, big.NewInt(5))
	if got := pl.TCR("ETH", price2000()); got.Cmp(want) != 0 {
		t.Errorf("tcr = %s, want 5e18", got)
	}
}
