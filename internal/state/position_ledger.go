package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	fpmath "TroveLedger/internal/math"
)

type troveKey struct {
	Owner uuid.UUID
	Asset string
}

type surplusKey struct {
	Owner uuid.UUID
	Asset string
}

// PositionLedger owns every trove's collateral/debt/stake plus the per-asset
// redistribution accumulators. Leaf component: no dependencies beyond math.
type PositionLedger struct {
	troves map[troveKey]*Trove

	totalStakes     map[string]*big.Int
	totalCollateral map[string]*big.Int // active + pending redistribution
	totalDebt       map[string]*big.Int

	// per-stake accumulators (1e18 fixed point per unit stake) and the
	// carried division remainders bounding redistribution rounding loss
	lColl     map[string]*big.Int
	lDebt     map[string]*big.Int
	collError map[string]*big.Int
	debtError map[string]*big.Int

	// collateral owed to owners after capped Recovery Mode liquidations
	surplus map[surplusKey]*big.Int

	arrivalSeq int64
}

func NewPositionLedger(assets []string) *PositionLedger {
	pl := &PositionLedger{
		troves:          make(map[troveKey]*Trove),
		totalStakes:     make(map[string]*big.Int),
		totalCollateral: make(map[string]*big.Int),
		totalDebt:       make(map[string]*big.Int),
		lColl:           make(map[string]*big.Int),
		lDebt:           make(map[string]*big.Int),
		collError:       make(map[string]*big.Int),
		debtError:       make(map[string]*big.Int),
		surplus:         make(map[surplusKey]*big.Int),
	}
	for _, asset := range assets {
		pl.totalStakes[asset] = big.NewInt(0)
		pl.totalCollateral[asset] = big.NewInt(0)
		pl.totalDebt[asset] = big.NewInt(0)
		pl.lColl[asset] = big.NewInt(0)
		pl.lDebt[asset] = big.NewInt(0)
		pl.collError[asset] = big.NewInt(0)
		pl.debtError[asset] = big.NewInt(0)
	}
	return pl
}

// GetTrove returns the trove for owner+asset, nil if absent.
func (pl *PositionLedger) GetTrove(owner uuid.UUID, asset string) *Trove {
	return pl.troves[troveKey{owner, asset}]
}

func (pl *PositionLedger) TotalStakes(asset string) *big.Int {
	return fpmath.Clone(pl.totalStakes[asset])
}

func (pl *PositionLedger) TotalCollateral(asset string) *big.Int {
	return fpmath.Clone(pl.totalCollateral[asset])
}

func (pl *PositionLedger) TotalDebt(asset string) *big.Int {
	return fpmath.Clone(pl.totalDebt[asset])
}

func (pl *PositionLedger) TroveCount() int { return len(pl.troves) }

// TCR returns the system-wide collateral ratio for one asset at a price.
func (pl *PositionLedger) TCR(asset string, price *big.Int) *big.Int {
	return fpmath.ComputeCR(pl.totalCollateral[asset], price, pl.totalDebt[asset])
}

// computeStake snapshots the system-wide stakes-to-collateral ratio before
// the trove's own change is applied. The first trove in an asset gets a
// stake equal to its collateral.
func (pl *PositionLedger) computeStake(asset string, collateral *big.Int) *big.Int {
	total := pl.totalCollateral[asset]
	if total.Sign() == 0 {
		return new(big.Int).Set(collateral)
	}
	return fpmath.MulDiv(collateral, pl.totalStakes[asset], total)
}

// PendingRewards returns the redistribution amounts accrued since the
// trove's last touch, without applying them.
func (pl *PositionLedger) PendingRewards(t *Trove) (pendingColl, pendingDebt *big.Int) {
	collDiff := new(big.Int).Sub(pl.lColl[t.Asset], t.Snapshot.CollateralPerStake)
	debtDiff := new(big.Int).Sub(pl.lDebt[t.Asset], t.Snapshot.DebtPerStake)
	pendingColl = fpmath.MulDiv(t.Stake, collDiff, fpmath.Precision)
	pendingDebt = fpmath.MulDiv(t.Stake, debtDiff, fpmath.Precision)
	return pendingColl, pendingDebt
}

// ApplyPendingRewards folds the trove's pending redistribution share into
// its balances and refreshes the snapshot. Totals are unchanged: they
// already counted redistributed amounts at redistribution time. Runs at the
// top of every operation that reads or mutates a trove.
func (pl *PositionLedger) ApplyPendingRewards(t *Trove) (appliedColl, appliedDebt *big.Int) {
	pendingColl, pendingDebt := pl.PendingRewards(t)
	if pendingColl.Sign() > 0 {
		t.Collateral.Add(t.Collateral, pendingColl)
	}
	if pendingDebt.Sign() > 0 {
		t.Debt.Add(t.Debt, pendingDebt)
	}
	t.Snapshot.CollateralPerStake.Set(pl.lColl[t.Asset])
	t.Snapshot.DebtPerStake.Set(pl.lDebt[t.Asset])
	return pendingColl, pendingDebt
}

// Open creates a trove. Debt is the composite amount (drawn stablecoin plus
// escrowed gas compensation); it must clear the minimum-debt floor and the
// resulting ICR must clear MCR at the given price.
func (pl *PositionLedger) Open(owner uuid.UUID, asset string, collateral, debt, price *big.Int, params *RiskParams) (*Trove, error) {
	if _, ok := pl.totalStakes[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, asset)
	}
	if collateral == nil || collateral.Sign() <= 0 || debt == nil || debt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: collateral=%v debt=%v", ErrInvalidAmount, collateral, debt)
	}
	key := troveKey{owner, asset}
	if existing, ok := pl.troves[key]; ok && existing.Status == TroveStatusActive {
		return nil, fmt.Errorf("%w: owner=%s asset=%s", ErrPositionAlreadyExists, owner, asset)
	}
	if debt.Cmp(params.MinDebt) < 0 {
		return nil, fmt.Errorf("%w: debt %v below minimum %v", ErrDebtBelowMinimum, debt, params.MinDebt)
	}
	icr := fpmath.ComputeCR(collateral, price, debt)
	if icr.Cmp(params.MCR) < 0 {
		return nil, fmt.Errorf("%w: icr %v below mcr %v", ErrInsufficientCollateralRatio, icr, params.MCR)
	}

	stake := pl.computeStake(asset, collateral)
	pl.arrivalSeq++
	t := &Trove{
		Owner:      owner,
		Asset:      asset,
		Collateral: new(big.Int).Set(collateral),
		Debt:       new(big.Int).Set(debt),
		Stake:      stake,
		GasComp:    new(big.Int).Set(params.GasCompFlat),
		Status:     TroveStatusActive,
		Snapshot: RewardSnapshot{
			CollateralPerStake: new(big.Int).Set(pl.lColl[asset]),
			DebtPerStake:       new(big.Int).Set(pl.lDebt[asset]),
		},
		ArrivalSeq: pl.arrivalSeq,
	}
	pl.troves[key] = t

	pl.totalStakes[asset].Add(pl.totalStakes[asset], stake)
	pl.totalCollateral[asset].Add(pl.totalCollateral[asset], collateral)
	pl.totalDebt[asset].Add(pl.totalDebt[asset], debt)
	return t, nil
}

// Adjust changes a trove's collateral and/or debt. Pending rewards fold in
// first; the new state is validated in full before any mutation so a
// failure leaves the trove untouched.
func (pl *PositionLedger) Adjust(
	owner uuid.UUID, asset string,
	collChange *big.Int, collIncrease bool,
	debtChange *big.Int, debtIncrease bool,
	price *big.Int, params *RiskParams,
) (*Trove, error) {
	t := pl.troves[troveKey{owner, asset}]
	if t == nil || t.Status != TroveStatusActive {
		return nil, fmt.Errorf("%w: owner=%s asset=%s", ErrPositionNotActive, owner, asset)
	}
	if (collChange == nil || collChange.Sign() == 0) && (debtChange == nil || debtChange.Sign() == 0) {
		return nil, fmt.Errorf("%w: adjustment must change collateral or debt", ErrInvalidAmount)
	}
	if (collChange != nil && collChange.Sign() < 0) || (debtChange != nil && debtChange.Sign() < 0) {
		return nil, fmt.Errorf("%w: deltas must be non-negative with explicit direction", ErrInvalidAmount)
	}

	pl.ApplyPendingRewards(t)

	// compute the post-adjustment state without committing it
	newColl := new(big.Int).Set(t.Collateral)
	newDebt := new(big.Int).Set(t.Debt)
	if collChange != nil {
		if collIncrease {
			newColl.Add(newColl, collChange)
		} else {
			newColl.Sub(newColl, collChange)
		}
	}
	if debtChange != nil {
		if debtIncrease {
			newDebt.Add(newDebt, debtChange)
		} else {
			newDebt.Sub(newDebt, debtChange)
		}
	}
	if newColl.Sign() <= 0 {
		return nil, fmt.Errorf("%w: resulting collateral %v must be positive", ErrInvalidAmount, newColl)
	}
	if newDebt.Cmp(params.MinDebt) < 0 {
		return nil, fmt.Errorf("%w: resulting debt %v below minimum %v", ErrDebtBelowMinimum, newDebt, params.MinDebt)
	}
	icr := fpmath.ComputeCR(newColl, price, newDebt)
	if icr.Cmp(params.MCR) < 0 {
		return nil, fmt.Errorf("%w: icr %v below mcr %v", ErrInsufficientCollateralRatio, icr, params.MCR)
	}

	// commit: stake recomputed from the pre-change system ratio
	newStake := pl.computeStake(asset, newColl)

	pl.totalCollateral[asset].Sub(pl.totalCollateral[asset], t.Collateral)
	pl.totalCollateral[asset].Add(pl.totalCollateral[asset], newColl)
	pl.totalDebt[asset].Sub(pl.totalDebt[asset], t.Debt)
	pl.totalDebt[asset].Add(pl.totalDebt[asset], newDebt)
	pl.totalStakes[asset].Sub(pl.totalStakes[asset], t.Stake)
	pl.totalStakes[asset].Add(pl.totalStakes[asset], newStake)

	t.Collateral = newColl
	t.Debt = newDebt
	t.Stake = newStake
	return t, nil
}

// Close marks a trove ClosedByOwner and removes it from the aggregates.
// The caller burns the composite debt and releases the collateral.
func (pl *PositionLedger) Close(owner uuid.UUID, asset string) (*Trove, error) {
	return pl.closeWith(owner, asset, TroveStatusClosedByOwner)
}

// CloseByLiquidation is used by the liquidation coordinator after the
// trove's debt and collateral have been routed to offset/redistribution.
func (pl *PositionLedger) CloseByLiquidation(owner uuid.UUID, asset string) (*Trove, error) {
	return pl.closeWith(owner, asset, TroveStatusClosedByLiquidation)
}

func (pl *PositionLedger) closeWith(owner uuid.UUID, asset string, status TroveStatus) (*Trove, error) {
	key := troveKey{owner, asset}
	t := pl.troves[key]
	if t == nil || t.Status != TroveStatusActive {
		return nil, fmt.Errorf("%w: owner=%s asset=%s", ErrPositionNotActive, owner, asset)
	}
	if !t.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: cannot transition %s -> %s", ErrPositionNotActive, t.Status, status)
	}

	pl.ApplyPendingRewards(t)

	pl.totalStakes[asset].Sub(pl.totalStakes[asset], t.Stake)
	pl.totalCollateral[asset].Sub(pl.totalCollateral[asset], t.Collateral)
	pl.totalDebt[asset].Sub(pl.totalDebt[asset], t.Debt)

	t.Stake = big.NewInt(0)
	t.Status = status
	delete(pl.troves, key)
	return t, nil
}

// Redistribute spreads debt and collateral a depleted stability pool could
// not absorb across remaining stakes. Division remainders carry into the
// next call's numerator, same scheme as the reward pool's offset errors.
// Totals are re-credited here: the amounts never left the system, they are
// owed to the surviving troves and fold in lazily on their next touch.
func (pl *PositionLedger) Redistribute(asset string, debt, coll *big.Int) error {
	stakes := pl.totalStakes[asset]
	if stakes == nil || stakes.Sign() == 0 {
		return ErrNothingToRedistribute
	}

	collNum := new(big.Int).Mul(coll, fpmath.Precision)
	collNum.Add(collNum, pl.collError[asset])
	collPerStake, collRem := fpmath.DivWithRemainder(collNum, stakes)
	pl.collError[asset].Set(collRem)
	pl.lColl[asset].Add(pl.lColl[asset], collPerStake)

	debtNum := new(big.Int).Mul(debt, fpmath.Precision)
	debtNum.Add(debtNum, pl.debtError[asset])
	debtPerStake, debtRem := fpmath.DivWithRemainder(debtNum, stakes)
	pl.debtError[asset].Set(debtRem)
	pl.lDebt[asset].Add(pl.lDebt[asset], debtPerStake)

	pl.totalCollateral[asset].Add(pl.totalCollateral[asset], coll)
	pl.totalDebt[asset].Add(pl.totalDebt[asset], debt)
	return nil
}

// AssignSurplus records collateral owed to an owner after a capped seizure.
func (pl *PositionLedger) AssignSurplus(owner uuid.UUID, asset string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	key := surplusKey{owner, asset}
	cur, ok := pl.surplus[key]
	if !ok {
		cur = big.NewInt(0)
		pl.surplus[key] = cur
	}
	cur.Add(cur, amount)
}

// GetSurplus returns the claimable surplus for owner+asset.
func (pl *PositionLedger) GetSurplus(owner uuid.UUID, asset string) *big.Int {
	if v, ok := pl.surplus[surplusKey{owner, asset}]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// ClaimSurplus removes and returns the owner's surplus collateral.
func (pl *PositionLedger) ClaimSurplus(owner uuid.UUID, asset string) (*big.Int, error) {
	key := surplusKey{owner, asset}
	v, ok := pl.surplus[key]
	if !ok || v.Sign() == 0 {
		return nil, ErrNoSurplus
	}
	delete(pl.surplus, key)
	return v, nil
}

// Troves returns all active troves, order unspecified. Used by snapshots.
func (pl *PositionLedger) Troves() []*Trove {
	out := make([]*Trove, 0, len(pl.troves))
	for _, t := range pl.troves {
		out = append(out, t)
	}
	return out
}

// Accumulators exposes the per-asset redistribution state for snapshots.
func (pl *PositionLedger) Accumulators(asset string) (lColl, lDebt, collErr, debtErr *big.Int) {
	return fpmath.Clone(pl.lColl[asset]), fpmath.Clone(pl.lDebt[asset]),
		fpmath.Clone(pl.collError[asset]), fpmath.Clone(pl.debtError[asset])
}
