package ledger

import (
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator builds balanced journal batches for engine operations.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type JournalGenerator struct {
	sequence int64
	tracker  *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
		tracker:  tracker,
	}
}

// SetSequence resets the generator sequence (used for snapshot restore)
func (g *JournalGenerator) SetSequence(seq int64) {
	g.sequence = seq
}

func (g *JournalGenerator) newBatch(eventRef string, ts int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  g.sequence,
		Timestamp: ts,
		Journals:  make([]Journal, 0, 4),
	}
}

func (g *JournalGenerator) appendEntry(
	b *Batch,
	debit, credit AccountKey,
	assetID AssetID,
	amount *big.Int,
	jt JournalType,
	ts int64,
) {
	if amount == nil || amount.Sign() <= 0 {
		return // zero-value legs are dropped, batches stay balanced
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      g.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     ts,
	})
}

// GenerateTroveOpen mints drawn debt to the owner, mints the flat gas
// compensation into escrow, and locks the collateral in the active pool.
func (g *JournalGenerator) GenerateTroveOpen(
	ownerID uuid.UUID,
	eventRef string,
	collAssetID AssetID,
	collateral, drawnDebt, gasComp *big.Int,
	ts int64,
) *Batch {
	stableID, _ := GetAssetID(StableAsset)
	b := g.newBatch(eventRef, ts)

	g.appendEntry(b,
		NewUserAccountKey(ownerID, SubTypeStable, stableID),
		NewSystemAccountKey(SubTypeSystemIssuance, stableID),
		stableID, drawnDebt, JournalTypeMint, ts)

	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemGasEscrow, stableID),
		NewSystemAccountKey(SubTypeSystemIssuance, stableID),
		stableID, gasComp, JournalTypeMint, ts)

	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
		NewExternalAccountKey(SubTypeExternalCollateralIn, collAssetID),
		collAssetID, collateral, JournalTypeCollateralLock, ts)

	return b
}

// GenerateTroveAdjust moves collateral in or out of the active pool and
// mints or burns stablecoin for the debt delta.
func (g *JournalGenerator) GenerateTroveAdjust(
	ownerID uuid.UUID,
	eventRef string,
	collAssetID AssetID,
	collChange *big.Int, collIncrease bool,
	debtChange *big.Int, debtIncrease bool,
	ts int64,
) *Batch {
	stableID, _ := GetAssetID(StableAsset)
	b := g.newBatch(eventRef, ts)

	if collChange != nil && collChange.Sign() > 0 {
		if collIncrease {
			g.appendEntry(b,
				NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
				NewExternalAccountKey(SubTypeExternalCollateralIn, collAssetID),
				collAssetID, collChange, JournalTypeCollateralLock, ts)
		} else {
			g.appendEntry(b,
				NewExternalAccountKey(SubTypeExternalCollateralOut, collAssetID),
				NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
				collAssetID, collChange, JournalTypeCollateralRelease, ts)
		}
	}

	if debtChange != nil && debtChange.Sign() > 0 {
		if debtIncrease {
			g.appendEntry(b,
				NewUserAccountKey(ownerID, SubTypeStable, stableID),
				NewSystemAccountKey(SubTypeSystemIssuance, stableID),
				stableID, debtChange, JournalTypeMint, ts)
		} else {
			g.appendEntry(b,
				NewSystemAccountKey(SubTypeSystemIssuance, stableID),
				NewUserAccountKey(ownerID, SubTypeStable, stableID),
				stableID, debtChange, JournalTypeBurn, ts)
		}
	}

	return b
}

// GenerateTroveClose burns the owner's repayment, burns the escrowed gas
// compensation, and releases all collateral.
func (g *JournalGenerator) GenerateTroveClose(
	ownerID uuid.UUID,
	eventRef string,
	collAssetID AssetID,
	collateral, repaidDebt, gasComp *big.Int,
	ts int64,
) *Batch {
	stableID, _ := GetAssetID(StableAsset)
	b := g.newBatch(eventRef, ts)

	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemIssuance, stableID),
		NewUserAccountKey(ownerID, SubTypeStable, stableID),
		stableID, repaidDebt, JournalTypeBurn, ts)

	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemIssuance, stableID),
		NewSystemAccountKey(SubTypeSystemGasEscrow, stableID),
		stableID, gasComp, JournalTypeBurn, ts)

	g.appendEntry(b,
		NewExternalAccountKey(SubTypeExternalCollateralOut, collAssetID),
		NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
		collAssetID, collateral, JournalTypeCollateralRelease, ts)

	return b
}

// GeneratePoolDeposit moves stablecoin from the depositor into the pool.
func (g *JournalGenerator) GeneratePoolDeposit(
	depositorID uuid.UUID,
	eventRef string,
	amount *big.Int,
	ts int64,
) *Batch {
	stableID, _ := GetAssetID(StableAsset)
	b := g.newBatch(eventRef, ts)

	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemStabilityPool, stableID),
		NewUserAccountKey(depositorID, SubTypeStable, stableID),
		stableID, amount, JournalTypePoolDeposit, ts)

	return b
}

// GeneratePoolWithdraw moves compounded stablecoin back to the depositor.
func (g *JournalGenerator) GeneratePoolWithdraw(
	depositorID uuid.UUID,
	eventRef string,
	amount *big.Int,
	ts int64,
) *Batch {
	stableID, _ := GetAssetID(StableAsset)
	b := g.newBatch(eventRef, ts)

	g.appendEntry(b,
		NewUserAccountKey(depositorID, SubTypeStable, stableID),
		NewSystemAccountKey(SubTypeSystemStabilityPool, stableID),
		stableID, amount, JournalTypePoolWithdraw, ts)

	return b
}

// GenerateGainPayout credits a depositor's pending collateral and governance
// gains out of the seized-collateral and emission accounts.
func (g *JournalGenerator) GenerateGainPayout(
	depositorID uuid.UUID,
	eventRef string,
	collGains map[AssetID]*big.Int,
	govGain *big.Int,
	ts int64,
) *Batch {
	b := g.newBatch(eventRef, ts)

	for assetID, gain := range collGains {
		g.appendEntry(b,
			NewUserAccountKey(depositorID, SubTypeCollateral, assetID),
			NewSystemAccountKey(SubTypeSystemPoolCollateral, assetID),
			assetID, gain, JournalTypeGainPayout, ts)
	}

	govID, _ := GetAssetID(GovernanceAsset)
	g.appendEntry(b,
		NewUserAccountKey(depositorID, SubTypeGovernance, govID),
		NewSystemAccountKey(SubTypeSystemGovIssuance, govID),
		govID, govGain, JournalTypeGovernancePayout, ts)

	return b
}

// GenerateLiquidation records the value movements of one liquidation:
// pool offset (stablecoin burn + collateral seize), redistribution
// (collateral to the default pool), gas compensation to the caller,
// and any capped-seizure surplus back to the owner.
func (g *JournalGenerator) GenerateLiquidation(
	ownerID, callerID uuid.UUID,
	eventRef string,
	collAssetID AssetID,
	debtOffset, collToPool *big.Int,
	collRedistributed *big.Int,
	gasCompStable, gasCompColl *big.Int,
	surplusColl *big.Int,
	ts int64,
) *Batch {
	stableID, _ := GetAssetID(StableAsset)
	b := g.newBatch(eventRef, ts)

	// Offset: pooled stablecoin is burned against the absorbed debt,
	// seized collateral moves to the pool-collateral account.
	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemIssuance, stableID),
		NewSystemAccountKey(SubTypeSystemStabilityPool, stableID),
		stableID, debtOffset, JournalTypePoolOffset, ts)

	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemPoolCollateral, collAssetID),
		NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
		collAssetID, collToPool, JournalTypeCollateralSeize, ts)

	// Redistribution: collateral parked in the default pool until peers
	// pull it on their next touch. Redistributed debt moves no stablecoin.
	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemDefaultPool, collAssetID),
		NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
		collAssetID, collRedistributed, JournalTypeRedistribution, ts)

	// Gas compensation to the liquidation caller.
	g.appendEntry(b,
		NewUserAccountKey(callerID, SubTypeStable, stableID),
		NewSystemAccountKey(SubTypeSystemGasEscrow, stableID),
		stableID, gasCompStable, JournalTypeGasCompensation, ts)

	g.appendEntry(b,
		NewUserAccountKey(callerID, SubTypeCollateral, collAssetID),
		NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
		collAssetID, gasCompColl, JournalTypeGasCompensation, ts)

	// Recovery Mode cap: over-collateralized remainder back to the owner.
	g.appendEntry(b,
		NewUserAccountKey(ownerID, SubTypeSurplus, collAssetID),
		NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
		collAssetID, surplusColl, JournalTypeSurplusAssign, ts)

	return b
}

// GenerateRedistributionPull moves a trove's pending redistributed collateral
// from the default pool back into the active pool when the trove is touched.
func (g *JournalGenerator) GenerateRedistributionPull(
	eventRef string,
	collAssetID AssetID,
	pendingColl *big.Int,
	ts int64,
) *Batch {
	b := g.newBatch(eventRef, ts)

	g.appendEntry(b,
		NewSystemAccountKey(SubTypeSystemActivePool, collAssetID),
		NewSystemAccountKey(SubTypeSystemDefaultPool, collAssetID),
		collAssetID, pendingColl, JournalTypeRedistribution, ts)

	return b
}

// GenerateSurplusClaim pays out an owner's surplus collateral.
func (g *JournalGenerator) GenerateSurplusClaim(
	ownerID uuid.UUID,
	eventRef string,
	collAssetID AssetID,
	amount *big.Int,
	ts int64,
) *Batch {
	b := g.newBatch(eventRef, ts)

	g.appendEntry(b,
		NewExternalAccountKey(SubTypeExternalCollateralOut, collAssetID),
		NewUserAccountKey(ownerID, SubTypeSurplus, collAssetID),
		collAssetID, amount, JournalTypeSurplusClaim, ts)

	return b
}
