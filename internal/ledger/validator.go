package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total)
		}
	}

	return nil
}

// ValidateStableBacked verifies outstanding stablecoin supply covers total
// trove debt (trove debt includes the flat gas compensation escrowed at
// open). Offsets burn pool stablecoin and reduce trove debt by the same
// amount, so the identity survives liquidations. Redistribution folds are
// floor-rounded per stake, which strands dust in the debt total when a
// trove closes after a partial fold; the total may exceed supply by at
// most maxDust.
func (v *InvariantValidator) ValidateStableBacked(totalTroveDebt, maxDust *big.Int) error {
	supply := v.tracker.GetStableSupply()
	diff := new(big.Int).Sub(totalTroveDebt, supply)
	if diff.Sign() < 0 || diff.Cmp(maxDust) > 0 {
		return fmt.Errorf("stable supply %s does not match total trove debt %s",
			supply, totalTroveDebt)
	}
	return nil
}

// ValidateCollateralBacked verifies active + default pool collateral covers
// the trove ledger's collateral total for one asset. Redistribution rounding
// leaves dust in the default pool, so the pools may exceed the trove total
// by at most maxDust.
func (v *InvariantValidator) ValidateCollateralBacked(
	assetID AssetID,
	totalTroveColl *big.Int,
	maxDust *big.Int,
) error {
	active := v.tracker.GetActivePoolCollateral(assetID)
	deflt := v.tracker.GetDefaultPoolCollateral(assetID)
	pools := new(big.Int).Add(active, deflt)

	diff := new(big.Int).Sub(pools, totalTroveColl)
	if diff.Sign() < 0 || diff.Cmp(maxDust) > 0 {
		assetName, _ := GetAssetName(assetID)
		return fmt.Errorf("collateral pools for %s (%s) diverge from trove total (%s)",
			assetName, pools, totalTroveColl)
	}
	return nil
}

// ValidateUserStableNonNegative checks a user's stablecoin balance >= 0
func (v *InvariantValidator) ValidateUserStableNonNegative(userID uuid.UUID) error {
	id, _ := GetAssetID(StableAsset)
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, SubTypeStable, id))
}

// ValidateStabilityPoolNonNegative checks the pooled stablecoin account >= 0
func (v *InvariantValidator) ValidateStabilityPoolNonNegative() error {
	id, _ := GetAssetID(StableAsset)
	return v.tracker.ValidateNonNegative(NewSystemAccountKey(SubTypeSystemStabilityPool, id))
}
