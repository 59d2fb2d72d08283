package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	fpmath "TroveLedger/internal/math"
)

// LiquidationOutcome reports every value movement of one liquidation so the
// caller can generate the matching journal batch and events.
type LiquidationOutcome struct {
	Owner uuid.UUID
	Asset string

	ICR          *big.Int
	RecoveryMode bool

	// full trove balances after pending rewards were folded in
	TotalDebt       *big.Int
	TotalCollateral *big.Int

	// redistribution share folded in by this liquidation, still parked in
	// the default pool until the caller accounts for the pull
	PendingCollFolded *big.Int
	PendingDebtFolded *big.Int

	DebtOffset        *big.Int // absorbed by the stability pool (burned)
	CollateralToPool  *big.Int // seized for pool depositors
	DebtRedistributed *big.Int
	CollRedistributed *big.Int

	GasCompStable     *big.Int // flat, paid from the gas escrow
	GasCompCollateral *big.Int // percentage of seized collateral
	Surplus           *big.Int // returned to the owner after a capped seizure

	EpochAdvanced bool
	ScaleAdvanced bool
}

// LiquidationCoordinator orchestrates liquidations across the position
// ledger, the reward pool, and the ordered index. One call is one atomic
// state transition; any error leaves all three components unchanged.
type LiquidationCoordinator struct {
	ledger *PositionLedger
	pool   *RewardPool
	index  *OrderedIndex
	params *RiskParamsManager
}

func NewLiquidationCoordinator(
	ledger *PositionLedger,
	pool *RewardPool,
	index *OrderedIndex,
	params *RiskParamsManager,
) *LiquidationCoordinator {
	return &LiquidationCoordinator{
		ledger: ledger,
		pool:   pool,
		index:  index,
		params: params,
	}
}

// InRecoveryMode reports whether the system-wide ratio for an asset is
// below its critical threshold.
func (lc *LiquidationCoordinator) InRecoveryMode(asset string, price *big.Int) bool {
	params, ok := lc.params.GetRiskParams(asset)
	if !ok {
		return false
	}
	return lc.ledger.TCR(asset, price).Cmp(params.CCR) < 0
}

// Liquidate closes one undercollateralized trove, splitting its debt and
// collateral between pool offset and peer redistribution. In Recovery Mode
// a trove with MCR <= ICR < CCR is also liquidatable, but seizure is capped
// at debt * MCR / price worth of collateral and requires the pool to absorb
// the entire debt; the un-seized remainder goes back to the owner.
func (lc *LiquidationCoordinator) Liquidate(owner uuid.UUID, asset string, price *big.Int) (*LiquidationOutcome, error) {
	params, ok := lc.params.GetRiskParams(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, asset)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price=%v", ErrPriceUnavailable, price)
	}

	t := lc.ledger.GetTrove(owner, asset)
	if t == nil || t.Status != TroveStatusActive {
		return nil, fmt.Errorf("%w: owner=%s asset=%s", ErrPositionNotActive, owner, asset)
	}

	// recovery check uses the system state before this trove is removed
	recovery := lc.InRecoveryMode(asset, price)

	foldedColl, foldedDebt := lc.ledger.ApplyPendingRewards(t)
	icr := t.ICR(price)

	capped := false
	switch {
	case icr.Cmp(params.MCR) < 0:
		// normal liquidation, in or out of Recovery Mode
	case recovery && icr.Cmp(params.CCR) < 0:
		// capped seizure needs the pool to take the whole debt; a partial
		// offset would redistribute debt from a solvent trove
		if lc.pool.TotalDeposits().Cmp(t.Debt) < 0 {
			return nil, fmt.Errorf("%w: icr %v >= mcr %v and pool %v cannot absorb debt %v",
				ErrPositionNotLiquidatable, icr, params.MCR, lc.pool.TotalDeposits(), t.Debt)
		}
		capped = true
	default:
		threshold := params.MCR
		if recovery {
			threshold = params.CCR
		}
		return nil, fmt.Errorf("%w: icr %v not below threshold %v", ErrPositionNotLiquidatable, icr, threshold)
	}

	totalDebt := new(big.Int).Set(t.Debt)
	totalColl := new(big.Int).Set(t.Collateral)
	gasComp := new(big.Int).Set(t.GasComp)

	// collateral actually seized; capped mode returns the rest to the owner
	seized := totalColl
	surplus := big.NewInt(0)
	if capped {
		seized = fpmath.MulDiv(totalDebt, params.MCR, price)
		if seized.Cmp(totalColl) > 0 {
			seized = new(big.Int).Set(totalColl)
		}
		surplus = new(big.Int).Sub(totalColl, seized)
	}

	gasCompColl := new(big.Int).Quo(seized, big.NewInt(params.GasCompDivisor))
	collToDistribute := new(big.Int).Sub(seized, gasCompColl)

	debtToOffset := fpmath.Min(totalDebt, lc.pool.TotalDeposits())
	var collToPool *big.Int
	if debtToOffset.Sign() > 0 {
		collToPool = fpmath.MulDiv(collToDistribute, debtToOffset, totalDebt)
	} else {
		collToPool = big.NewInt(0)
	}
	debtToRedistribute := new(big.Int).Sub(totalDebt, debtToOffset)
	collToRedistribute := new(big.Int).Sub(collToDistribute, collToPool)

	// all preconditions are checked before any mutation so a refusal leaves
	// every component untouched
	if debtToRedistribute.Sign() > 0 {
		remainingStakes := new(big.Int).Sub(lc.ledger.TotalStakes(asset), t.Stake)
		if remainingStakes.Sign() == 0 {
			return nil, fmt.Errorf("%w: %v debt has no remaining stakes", ErrNothingToRedistribute, debtToRedistribute)
		}
	}

	// remove the trove first so redistribution lands only on survivors
	if _, err := lc.ledger.CloseByLiquidation(owner, asset); err != nil {
		return nil, err
	}

	var poolRes OffsetResult
	if debtToOffset.Sign() > 0 {
		var err error
		poolRes, err = lc.pool.Offset(asset, debtToOffset, collToPool)
		if err != nil {
			panic(fmt.Sprintf("pool offset failed after close: %v", err))
		}
	}
	if debtToRedistribute.Sign() > 0 || collToRedistribute.Sign() > 0 {
		if err := lc.ledger.Redistribute(asset, debtToRedistribute, collToRedistribute); err != nil {
			panic(fmt.Sprintf("redistribution failed after offset: %v", err))
		}
	}
	if surplus.Sign() > 0 {
		lc.ledger.AssignSurplus(owner, asset, surplus)
	}
	if err := lc.index.Remove(asset, owner); err != nil && err != ErrNodeDoesNotExist {
		panic(fmt.Sprintf("index remove failed for liquidated trove %s: %v", owner, err))
	}

	return &LiquidationOutcome{
		Owner:             owner,
		Asset:             asset,
		ICR:               icr,
		RecoveryMode:      recovery,
		TotalDebt:         totalDebt,
		TotalCollateral:   totalColl,
		PendingCollFolded: foldedColl,
		PendingDebtFolded: foldedDebt,
		DebtOffset:        debtToOffset,
		CollateralToPool:  collToPool,
		DebtRedistributed: debtToRedistribute,
		CollRedistributed: collToRedistribute,
		GasCompStable:     gasComp,
		GasCompCollateral: gasCompColl,
		Surplus:           surplus,
		EpochAdvanced:     poolRes.EpochAdvanced,
		ScaleAdvanced:     poolRes.ScaleAdvanced,
	}, nil
}

// LiquidateSequence walks the ordered index from the riskiest trove and
// liquidates up to maxTroves, stopping at the first trove that is not
// liquidatable. The index is sorted by nominal ratio, so for a single asset
// at one price the tail order is the ICR order.
func (lc *LiquidationCoordinator) LiquidateSequence(asset string, maxTroves int, price *big.Int) ([]*LiquidationOutcome, error) {
	if maxTroves <= 0 {
		return nil, fmt.Errorf("%w: max troves must be positive, got %d", ErrInvalidAmount, maxTroves)
	}

	outcomes := make([]*LiquidationOutcome, 0, maxTroves)
	for len(outcomes) < maxTroves {
		id, ok := lc.index.Last(asset)
		if !ok {
			break
		}
		outcome, err := lc.Liquidate(id, asset, price)
		if err != nil {
			if len(outcomes) > 0 {
				break // sequence ends at the first healthy trove
			}
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
