package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	fpmath "TroveLedger/internal/math"
)

// epochScale keys the S and G sums. Each (epoch, scale) pair has its own
// running sum so snapshots taken before a reset never read post-reset values.
type epochScale struct {
	Epoch int64
	Scale int64
}

// DepositSnapshot captures pool state at the depositor's last touch.
type DepositSnapshot struct {
	P     *big.Int
	S     map[string]*big.Int // per collateral asset, at snapshot epoch/scale
	G     *big.Int
	Epoch int64
	Scale int64
}

// Deposit holds one depositor's balance as of their last touch. The balance
// is never updated between touches; compounding is derived from P.
type Deposit struct {
	Depositor    uuid.UUID
	InitialValue *big.Int
	Snapshot     DepositSnapshot
}

// RewardPool is the stability pool accounting engine. A single offset call
// updates every depositor's entitlement in O(1) via the P/S/G sums.
type RewardPool struct {
	assets        []string
	totalDeposits *big.Int
	p             *big.Int
	epoch         int64
	scale         int64
	s             map[string]map[epochScale]*big.Int
	g             map[epochScale]*big.Int
	deposits      map[uuid.UUID]*Deposit

	// division remainders carried into the next offset's numerator,
	// bounding cumulative rounding loss to under one unit
	lastCollError map[string]*big.Int
	lastDebtError *big.Int
	lastGovError  *big.Int

	// counters for conservation checks and metrics
	totalDebtAbsorbed *big.Int
}

func NewRewardPool(assets []string) *RewardPool {
	s := make(map[string]map[epochScale]*big.Int)
	collErr := make(map[string]*big.Int)
	for _, asset := range assets {
		s[asset] = make(map[epochScale]*big.Int)
		collErr[asset] = big.NewInt(0)
	}
	return &RewardPool{
		assets:            assets,
		totalDeposits:     big.NewInt(0),
		p:                 new(big.Int).Set(fpmath.Precision),
		s:                 s,
		g:                 make(map[epochScale]*big.Int),
		deposits:          make(map[uuid.UUID]*Deposit),
		lastCollError:     collErr,
		lastDebtError:     big.NewInt(0),
		lastGovError:      big.NewInt(0),
		totalDebtAbsorbed: big.NewInt(0),
	}
}

func (rp *RewardPool) sum(asset string, es epochScale) *big.Int {
	perAsset, ok := rp.s[asset]
	if !ok {
		return big.NewInt(0)
	}
	if v, ok := perAsset[es]; ok {
		return v
	}
	return big.NewInt(0)
}

func (rp *RewardPool) gSum(es epochScale) *big.Int {
	if v, ok := rp.g[es]; ok {
		return v
	}
	return big.NewInt(0)
}

// TotalDeposits returns the pool's current stablecoin holdings.
func (rp *RewardPool) TotalDeposits() *big.Int {
	return new(big.Int).Set(rp.totalDeposits)
}

func (rp *RewardPool) P() *big.Int     { return new(big.Int).Set(rp.p) }
func (rp *RewardPool) Epoch() int64    { return rp.epoch }
func (rp *RewardPool) Scale() int64    { return rp.scale }
func (rp *RewardPool) Depositors() int { return len(rp.deposits) }

// TotalDebtAbsorbed returns cumulative debt burned against the pool.
func (rp *RewardPool) TotalDebtAbsorbed() *big.Int {
	return new(big.Int).Set(rp.totalDebtAbsorbed)
}

// GetDeposit returns the raw deposit record, nil if absent.
func (rp *RewardPool) GetDeposit(depositor uuid.UUID) *Deposit {
	return rp.deposits[depositor]
}

// GetCompoundedDeposit returns the depositor's current balance after all
// offsets since their snapshot. A stale epoch means the pool was fully wiped
// out since the last touch and the balance is exactly zero. A scale gap of
// one divides by ScaleFactor; a gap above one is an accepted precision-loss
// edge and also returns zero.
func (rp *RewardPool) GetCompoundedDeposit(depositor uuid.UUID) *big.Int {
	dep, ok := rp.deposits[depositor]
	if !ok || dep.InitialValue.Sign() == 0 {
		return big.NewInt(0)
	}
	snap := dep.Snapshot

	if snap.Epoch < rp.epoch {
		return big.NewInt(0)
	}

	scaleDiff := rp.scale - snap.Scale
	var compounded *big.Int
	switch {
	case scaleDiff == 0:
		compounded = fpmath.MulDiv(dep.InitialValue, rp.p, snap.P)
	case scaleDiff == 1:
		compounded = fpmath.MulDiv(dep.InitialValue, rp.p, snap.P)
		compounded.Quo(compounded, fpmath.ScaleFactor)
	default:
		return big.NewInt(0)
	}
	return compounded
}

// GetCollateralGain returns the depositor's pending collateral gain for one
// asset. The snapshot deposit value is used, never the current compounded
// balance: the sums already encode every balance reduction through P, and
// compounding here again would overpay shrunken deposits.
func (rp *RewardPool) GetCollateralGain(depositor uuid.UUID, asset string) *big.Int {
	dep, ok := rp.deposits[depositor]
	if !ok || dep.InitialValue.Sign() == 0 {
		return big.NewInt(0)
	}
	snap := dep.Snapshot

	first := new(big.Int).Sub(
		rp.sum(asset, epochScale{snap.Epoch, snap.Scale}),
		snap.S[asset],
	)
	second := new(big.Int).Quo(
		rp.sum(asset, epochScale{snap.Epoch, snap.Scale + 1}),
		fpmath.ScaleFactor,
	)

	gain := fpmath.MulDiv(dep.InitialValue, first.Add(first, second), snap.P)
	return gain.Quo(gain, fpmath.Precision)
}

// GetGovernanceGain returns the depositor's pending governance-token gain,
// same scale-aware scheme as collateral gains.
func (rp *RewardPool) GetGovernanceGain(depositor uuid.UUID) *big.Int {
	dep, ok := rp.deposits[depositor]
	if !ok || dep.InitialValue.Sign() == 0 {
		return big.NewInt(0)
	}
	snap := dep.Snapshot

	first := new(big.Int).Sub(
		rp.gSum(epochScale{snap.Epoch, snap.Scale}),
		snap.G,
	)
	second := new(big.Int).Quo(
		rp.gSum(epochScale{snap.Epoch, snap.Scale + 1}),
		fpmath.ScaleFactor,
	)

	gain := fpmath.MulDiv(dep.InitialValue, first.Add(first, second), snap.P)
	return gain.Quo(gain, fpmath.Precision)
}

// pendingGains collects all gains owed to a depositor before a fresh snapshot.
func (rp *RewardPool) pendingGains(depositor uuid.UUID) (map[string]*big.Int, *big.Int) {
	collGains := make(map[string]*big.Int, len(rp.assets))
	for _, asset := range rp.assets {
		gain := rp.GetCollateralGain(depositor, asset)
		if gain.Sign() > 0 {
			collGains[asset] = gain
		}
	}
	return collGains, rp.GetGovernanceGain(depositor)
}

func (rp *RewardPool) writeSnapshot(dep *Deposit) {
	es := epochScale{rp.epoch, rp.scale}
	s := make(map[string]*big.Int, len(rp.assets))
	for _, asset := range rp.assets {
		s[asset] = new(big.Int).Set(rp.sum(asset, es))
	}
	dep.Snapshot = DepositSnapshot{
		P:     new(big.Int).Set(rp.p),
		S:     s,
		G:     new(big.Int).Set(rp.gSum(es)),
		Epoch: rp.epoch,
		Scale: rp.scale,
	}
}

// Deposit folds in all pending gains, adds amount to the compounded balance,
// and writes a fresh snapshot. The returned gains must be paid out by the
// caller (they are no longer recoverable from the pool state).
func (rp *RewardPool) Deposit(depositor uuid.UUID, amount *big.Int) (map[string]*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: deposit amount must be positive, got %v", ErrInvalidAmount, amount)
	}

	collGains, govGain := rp.pendingGains(depositor)
	compounded := rp.GetCompoundedDeposit(depositor)

	dep, ok := rp.deposits[depositor]
	if !ok {
		dep = &Deposit{Depositor: depositor}
		rp.deposits[depositor] = dep
	}
	dep.InitialValue = compounded.Add(compounded, amount)
	rp.writeSnapshot(dep)

	rp.totalDeposits.Add(rp.totalDeposits, amount)
	return collGains, govGain, nil
}

// Withdraw folds in pending gains, removes min(amount, compounded balance),
// and writes a fresh snapshot. Returns the amount actually withdrawn plus
// the gains owed.
func (rp *RewardPool) Withdraw(depositor uuid.UUID, amount *big.Int) (*big.Int, map[string]*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: withdraw amount must be positive, got %v", ErrInvalidAmount, amount)
	}
	dep, ok := rp.deposits[depositor]
	if !ok {
		return nil, nil, nil, ErrNoDeposit
	}

	collGains, govGain := rp.pendingGains(depositor)
	compounded := rp.GetCompoundedDeposit(depositor)

	withdrawn := fpmath.Min(amount, compounded)
	remaining := new(big.Int).Sub(compounded, withdrawn)

	if remaining.Sign() == 0 {
		delete(rp.deposits, depositor)
	} else {
		dep.InitialValue = remaining
		rp.writeSnapshot(dep)
	}

	rp.totalDeposits.Sub(rp.totalDeposits, withdrawn)
	return withdrawn, collGains, govGain, nil
}

// Claim pays out pending gains without touching the principal. The balance
// is re-snapshotted at its compounded value.
func (rp *RewardPool) Claim(depositor uuid.UUID) (map[string]*big.Int, *big.Int, error) {
	dep, ok := rp.deposits[depositor]
	if !ok {
		return nil, nil, ErrNoDeposit
	}

	collGains, govGain := rp.pendingGains(depositor)
	compounded := rp.GetCompoundedDeposit(depositor)

	if compounded.Sign() == 0 {
		delete(rp.deposits, depositor)
	} else {
		dep.InitialValue = compounded
		rp.writeSnapshot(dep)
	}
	return collGains, govGain, nil
}

// OffsetResult reports what an offset did to the pool's epoch/scale state.
type OffsetResult struct {
	EpochAdvanced bool
	ScaleAdvanced bool
}

// Offset absorbs debtToOffset against the pool and credits collateralGain to
// all current depositors, in O(1). Callable only with a non-empty pool and
// debtToOffset <= totalDeposits (the coordinator routes any remainder to
// redistribution).
func (rp *RewardPool) Offset(asset string, debtToOffset, collateralGain *big.Int) (OffsetResult, error) {
	var res OffsetResult
	if rp.totalDeposits.Sign() == 0 {
		return res, ErrEmptyPool
	}
	if _, ok := rp.s[asset]; !ok {
		return res, fmt.Errorf("%w: %s", ErrInvalidAsset, asset)
	}
	if debtToOffset == nil || debtToOffset.Sign() <= 0 {
		return res, fmt.Errorf("%w: debt to offset must be positive, got %v", ErrInvalidAmount, debtToOffset)
	}
	if debtToOffset.Cmp(rp.totalDeposits) > 0 {
		return res, fmt.Errorf("%w: offset %v exceeds pool %v", ErrInvalidAmount, debtToOffset, rp.totalDeposits)
	}

	// Per-unit loss, remainder carried into the next offset.
	debtNum := new(big.Int).Mul(debtToOffset, fpmath.Precision)
	debtNum.Add(debtNum, rp.lastDebtError)
	lossPerUnit, debtRem := fpmath.DivWithRemainder(debtNum, rp.totalDeposits)
	if lossPerUnit.Cmp(fpmath.Precision) >= 0 {
		// full wipeout: every unit of deposit is consumed
		lossPerUnit.Set(fpmath.Precision)
		rp.lastDebtError.SetInt64(0)
	} else {
		rp.lastDebtError.Set(debtRem)
	}

	// Per-unit gain, remainder carried the same way.
	gainNum := new(big.Int).Mul(collateralGain, fpmath.Precision)
	gainNum.Add(gainNum, rp.lastCollError[asset])
	gainPerUnit, gainRem := fpmath.DivWithRemainder(gainNum, rp.totalDeposits)
	rp.lastCollError[asset].Set(gainRem)

	// Fold the gain into S weighted by the current P, so that dividing by a
	// depositor's snapshot P later yields exactly their compounded share.
	// Adding the raw per-unit gain instead would credit depositors as if
	// their balances had never shrunk.
	es := epochScale{rp.epoch, rp.scale}
	marginalGain := new(big.Int).Mul(gainPerUnit, rp.p)
	cur, ok := rp.s[asset][es]
	if !ok {
		cur = big.NewInt(0)
		rp.s[asset][es] = cur
	}
	cur.Add(cur, marginalGain)

	newProductFactor := new(big.Int).Sub(fpmath.Precision, lossPerUnit)
	if newProductFactor.Sign() == 0 {
		// all deposits consumed: new epoch, deposits with older snapshots
		// read as zero from now on
		rp.epoch++
		rp.scale = 0
		rp.p.Set(fpmath.Precision)
		rp.totalDeposits.SetInt64(0)
		res.EpochAdvanced = true
	} else {
		rp.p = fpmath.MulDiv(rp.p, newProductFactor, fpmath.Precision)
		if rp.p.Cmp(fpmath.ScaleThreshold) < 0 {
			rp.p.Mul(rp.p, fpmath.ScaleFactor)
			rp.scale++
			res.ScaleAdvanced = true
		}
		if rp.p.Sign() == 0 {
			panic(fmt.Sprintf("reward pool P reached zero: loss_per_unit=%v epoch=%d scale=%d",
				lossPerUnit, rp.epoch, rp.scale))
		}
		rp.totalDeposits.Sub(rp.totalDeposits, debtToOffset)
	}

	rp.totalDebtAbsorbed.Add(rp.totalDebtAbsorbed, debtToOffset)
	return res, nil
}

// TriggerGovernanceIssuance folds a governance-token emission into G, giving
// every current depositor a share proportional to their compounded balance.
func (rp *RewardPool) TriggerGovernanceIssuance(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: issuance must be positive, got %v", ErrInvalidAmount, amount)
	}
	if rp.totalDeposits.Sign() == 0 {
		return ErrEmptyPool
	}

	num := new(big.Int).Mul(amount, fpmath.Precision)
	num.Add(num, rp.lastGovError)
	perUnit, rem := fpmath.DivWithRemainder(num, rp.totalDeposits)
	rp.lastGovError.Set(rem)

	es := epochScale{rp.epoch, rp.scale}
	marginal := new(big.Int).Mul(perUnit, rp.p)
	cur, ok := rp.g[es]
	if !ok {
		cur = big.NewInt(0)
		rp.g[es] = cur
	}
	cur.Add(cur, marginal)
	return nil
}
