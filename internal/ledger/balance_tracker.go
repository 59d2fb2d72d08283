package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.add(j.DebitAccount, j.Amount)
	bt.sub(j.CreditAccount, j.Amount)
}

func (bt *BalanceTracker) add(key AccountKey, amount *big.Int) {
	bal, ok := bt.balances[key]
	if !ok {
		bal = new(big.Int)
		bt.balances[key] = bal
	}
	bal.Add(bal, amount)
}

func (bt *BalanceTracker) sub(key AccountKey, amount *big.Int) {
	bal, ok := bt.balances[key]
	if !ok {
		bal = new(big.Int)
		bt.balances[key] = bal
	}
	bal.Sub(bal, amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if bal, ok := bt.balances[key]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// SetBalance directly sets a balance (used for snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// === User balance queries ===

// GetUserStableBalance returns the user's stablecoin balance.
func (bt *BalanceTracker) GetUserStableBalance(userID uuid.UUID) *big.Int {
	id, _ := GetAssetID(StableAsset)
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeStable, id))
}

// GetUserCollateralBalance returns the user's in-ledger collateral balance.
func (bt *BalanceTracker) GetUserCollateralBalance(userID uuid.UUID, assetID AssetID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeCollateral, assetID))
}

// GetUserSurplusBalance returns collateral claimable after capped liquidations.
func (bt *BalanceTracker) GetUserSurplusBalance(userID uuid.UUID, assetID AssetID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeSurplus, assetID))
}

// === System balance queries ===

// GetStableSupply returns total stablecoin outstanding. Every mint credits
// the issuance account, so outstanding supply is its negated balance.
func (bt *BalanceTracker) GetStableSupply() *big.Int {
	id, _ := GetAssetID(StableAsset)
	bal := bt.GetBalance(NewSystemAccountKey(SubTypeSystemIssuance, id))
	return bal.Neg(bal)
}

// GetStabilityPoolBalance returns the pooled stablecoin total.
func (bt *BalanceTracker) GetStabilityPoolBalance() *big.Int {
	id, _ := GetAssetID(StableAsset)
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemStabilityPool, id))
}

// GetActivePoolCollateral returns collateral backing active troves.
func (bt *BalanceTracker) GetActivePoolCollateral(assetID AssetID) *big.Int {
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemActivePool, assetID))
}

// GetDefaultPoolCollateral returns redistributed collateral not yet pulled.
func (bt *BalanceTracker) GetDefaultPoolCollateral(assetID AssetID) *big.Int {
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemDefaultPool, assetID))
}

// === Invariant checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if bal, ok := bt.balances[key]; ok && bal.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), bal)
	}
	return nil
}

// ValidateSufficient checks that an account holds at least the required amount.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *big.Int) error {
	bal := bt.GetBalance(key)
	if bal.Cmp(required) < 0 {
		return fmt.Errorf("insufficient balance on %s: have=%s, need=%s",
			key.AccountPath(), bal, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (zero for a
// zero-sum ledger).
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		total, ok := totals[key.AssetID]
		if !ok {
			total = new(big.Int)
			totals[key.AssetID] = total
		}
		total.Add(total, balance)
	}

	return totals
}

// Snapshot returns a deep copy of all balances (for state hashing and persistence)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
