package state

import (
	"math/big"

	"github.com/google/uuid"

	fpmath "TroveLedger/internal/math"
)

// AssetAccumulators holds the per-asset aggregates and redistribution
// accumulators of the position ledger.
type AssetAccumulators struct {
	Asset           string
	TotalStakes     *big.Int
	TotalCollateral *big.Int
	TotalDebt       *big.Int
	LColl           *big.Int
	LDebt           *big.Int
	CollError       *big.Int
	DebtError       *big.Int
}

// SurplusEntry is one owner's claimable surplus for one asset.
type SurplusEntry struct {
	Owner  uuid.UUID
	Asset  string
	Amount *big.Int
}

// LedgerSnapshot is the serializable state of a PositionLedger.
type LedgerSnapshot struct {
	Troves       []*Trove
	Accumulators []*AssetAccumulators
	Surplus      []*SurplusEntry
	ArrivalSeq   int64
}

// Export captures the full ledger state. Troves and amounts are deep copies.
func (pl *PositionLedger) Export() *LedgerSnapshot {
	snap := &LedgerSnapshot{ArrivalSeq: pl.arrivalSeq}

	for _, t := range pl.troves {
		snap.Troves = append(snap.Troves, &Trove{
			Owner:      t.Owner,
			Asset:      t.Asset,
			Collateral: fpmath.Clone(t.Collateral),
			Debt:       fpmath.Clone(t.Debt),
			Stake:      fpmath.Clone(t.Stake),
			GasComp:    fpmath.Clone(t.GasComp),
			Status:     t.Status,
			Snapshot: RewardSnapshot{
				CollateralPerStake: fpmath.Clone(t.Snapshot.CollateralPerStake),
				DebtPerStake:       fpmath.Clone(t.Snapshot.DebtPerStake),
			},
			ArrivalSeq: t.ArrivalSeq,
		})
	}

	for asset := range pl.totalStakes {
		snap.Accumulators = append(snap.Accumulators, &AssetAccumulators{
			Asset:           asset,
			TotalStakes:     fpmath.Clone(pl.totalStakes[asset]),
			TotalCollateral: fpmath.Clone(pl.totalCollateral[asset]),
			TotalDebt:       fpmath.Clone(pl.totalDebt[asset]),
			LColl:           fpmath.Clone(pl.lColl[asset]),
			LDebt:           fpmath.Clone(pl.lDebt[asset]),
			CollError:       fpmath.Clone(pl.collError[asset]),
			DebtError:       fpmath.Clone(pl.debtError[asset]),
		})
	}

	for key, amount := range pl.surplus {
		snap.Surplus = append(snap.Surplus, &SurplusEntry{
			Owner:  key.Owner,
			Asset:  key.Asset,
			Amount: fpmath.Clone(amount),
		})
	}

	return snap
}

// Restore replaces the ledger state with a previously exported snapshot.
func (pl *PositionLedger) Restore(snap *LedgerSnapshot) {
	pl.troves = make(map[troveKey]*Trove, len(snap.Troves))
	pl.surplus = make(map[surplusKey]*big.Int, len(snap.Surplus))
	pl.arrivalSeq = snap.ArrivalSeq

	for _, acc := range snap.Accumulators {
		pl.totalStakes[acc.Asset] = fpmath.Clone(acc.TotalStakes)
		pl.totalCollateral[acc.Asset] = fpmath.Clone(acc.TotalCollateral)
		pl.totalDebt[acc.Asset] = fpmath.Clone(acc.TotalDebt)
		pl.lColl[acc.Asset] = fpmath.Clone(acc.LColl)
		pl.lDebt[acc.Asset] = fpmath.Clone(acc.LDebt)
		pl.collError[acc.Asset] = fpmath.Clone(acc.CollError)
		pl.debtError[acc.Asset] = fpmath.Clone(acc.DebtError)
	}

	for _, t := range snap.Troves {
		pl.troves[troveKey{t.Owner, t.Asset}] = &Trove{
			Owner:      t.Owner,
			Asset:      t.Asset,
			Collateral: fpmath.Clone(t.Collateral),
			Debt:       fpmath.Clone(t.Debt),
			Stake:      fpmath.Clone(t.Stake),
			GasComp:    fpmath.Clone(t.GasComp),
			Status:     t.Status,
			Snapshot: RewardSnapshot{
				CollateralPerStake: fpmath.Clone(t.Snapshot.CollateralPerStake),
				DebtPerStake:       fpmath.Clone(t.Snapshot.DebtPerStake),
			},
			ArrivalSeq: t.ArrivalSeq,
		}
	}

	for _, s := range snap.Surplus {
		pl.surplus[surplusKey{s.Owner, s.Asset}] = fpmath.Clone(s.Amount)
	}
}

// SumEntry is one (asset, epoch, scale) cumulative collateral sum.
type SumEntry struct {
	Asset string
	Epoch int64
	Scale int64
	Value *big.Int
}

// GSumEntry is one (epoch, scale) cumulative governance sum.
type GSumEntry struct {
	Epoch int64
	Scale int64
	Value *big.Int
}

// PoolSnapshot is the serializable state of a RewardPool.
type PoolSnapshot struct {
	TotalDeposits     *big.Int
	P                 *big.Int
	Epoch             int64
	Scale             int64
	Sums              []*SumEntry
	GSums             []*GSumEntry
	Deposits          []*Deposit
	LastCollError     map[string]*big.Int
	LastDebtError     *big.Int
	LastGovError      *big.Int
	TotalDebtAbsorbed *big.Int
}

// Export captures the full pool state, including historical epoch/scale sums
// so depositors who have not touched the pool since a wipeout still read
// their gains correctly after a restore.
func (rp *RewardPool) Export() *PoolSnapshot {
	snap := &PoolSnapshot{
		TotalDeposits:     fpmath.Clone(rp.totalDeposits),
		P:                 fpmath.Clone(rp.p),
		Epoch:             rp.epoch,
		Scale:             rp.scale,
		LastCollError:     make(map[string]*big.Int, len(rp.lastCollError)),
		LastDebtError:     fpmath.Clone(rp.lastDebtError),
		LastGovError:      fpmath.Clone(rp.lastGovError),
		TotalDebtAbsorbed: fpmath.Clone(rp.totalDebtAbsorbed),
	}

	for asset, perAsset := range rp.s {
		for es, v := range perAsset {
			snap.Sums = append(snap.Sums, &SumEntry{
				Asset: asset,
				Epoch: es.Epoch,
				Scale: es.Scale,
				Value: fpmath.Clone(v),
			})
		}
	}
	for es, v := range rp.g {
		snap.GSums = append(snap.GSums, &GSumEntry{
			Epoch: es.Epoch,
			Scale: es.Scale,
			Value: fpmath.Clone(v),
		})
	}

	for _, dep := range rp.deposits {
		snap.Deposits = append(snap.Deposits, copyDeposit(dep))
	}

	for asset, v := range rp.lastCollError {
		snap.LastCollError[asset] = fpmath.Clone(v)
	}

	return snap
}

// Restore replaces the pool state with a previously exported snapshot.
func (rp *RewardPool) Restore(snap *PoolSnapshot) {
	rp.totalDeposits = fpmath.Clone(snap.TotalDeposits)
	rp.p = fpmath.Clone(snap.P)
	rp.epoch = snap.Epoch
	rp.scale = snap.Scale
	rp.lastDebtError = fpmath.Clone(snap.LastDebtError)
	rp.lastGovError = fpmath.Clone(snap.LastGovError)
	rp.totalDebtAbsorbed = fpmath.Clone(snap.TotalDebtAbsorbed)

	rp.s = make(map[string]map[epochScale]*big.Int)
	for _, asset := range rp.assets {
		rp.s[asset] = make(map[epochScale]*big.Int)
	}
	for _, e := range snap.Sums {
		perAsset, ok := rp.s[e.Asset]
		if !ok {
			perAsset = make(map[epochScale]*big.Int)
			rp.s[e.Asset] = perAsset
		}
		perAsset[epochScale{e.Epoch, e.Scale}] = fpmath.Clone(e.Value)
	}

	rp.g = make(map[epochScale]*big.Int, len(snap.GSums))
	for _, e := range snap.GSums {
		rp.g[epochScale{e.Epoch, e.Scale}] = fpmath.Clone(e.Value)
	}

	rp.deposits = make(map[uuid.UUID]*Deposit, len(snap.Deposits))
	for _, dep := range snap.Deposits {
		rp.deposits[dep.Depositor] = copyDeposit(dep)
	}

	for asset, v := range snap.LastCollError {
		rp.lastCollError[asset] = fpmath.Clone(v)
	}
}

func copyDeposit(dep *Deposit) *Deposit {
	s := make(map[string]*big.Int, len(dep.Snapshot.S))
	for asset, v := range dep.Snapshot.S {
		s[asset] = fpmath.Clone(v)
	}
	return &Deposit{
		Depositor:    dep.Depositor,
		InitialValue: fpmath.Clone(dep.InitialValue),
		Snapshot: DepositSnapshot{
			P:     fpmath.Clone(dep.Snapshot.P),
			S:     s,
			G:     fpmath.Clone(dep.Snapshot.G),
			Epoch: dep.Snapshot.Epoch,
			Scale: dep.Snapshot.Scale,
		},
	}
}

// IndexEntry is one node of an ordered-index list, in list order.
type IndexEntry struct {
	ID         uuid.UUID
	Key        *big.Int
	ArrivalSeq int64
}

// Export returns the list for one asset from head (safest) to tail.
func (oi *OrderedIndex) Export(asset string) []*IndexEntry {
	l, ok := oi.lists[asset]
	if !ok {
		return nil
	}
	entries := make([]*IndexEntry, 0, len(l.nodes))
	for n := l.head; n != nil; n = n.next {
		entries = append(entries, &IndexEntry{
			ID:         n.id,
			Key:        fpmath.Clone(n.key),
			ArrivalSeq: n.arrivalSeq,
		})
	}
	return entries
}

// Restore rebuilds one asset's list from exported entries. Entries must be in
// head-to-tail order; the links are rebuilt directly without hint searches.
func (oi *OrderedIndex) Restore(asset string, entries []*IndexEntry) {
	l := &assetList{nodes: make(map[uuid.UUID]*indexNode, len(entries))}
	oi.lists[asset] = l

	var prev *indexNode
	for _, e := range entries {
		n := &indexNode{
			id:         e.ID,
			key:        fpmath.Clone(e.Key),
			arrivalSeq: e.ArrivalSeq,
			prev:       prev,
		}
		if prev == nil {
			l.head = n
		} else {
			prev.next = n
		}
		l.nodes[n.id] = n
		prev = n

		if e.ArrivalSeq > oi.arrivalSeq {
			oi.arrivalSeq = e.ArrivalSeq
		}
	}
	l.tail = prev
}

// ExportParams returns all risk parameter sets.
func (rpm *RiskParamsManager) ExportParams() []*RiskParams {
	out := make([]*RiskParams, 0, len(rpm.params))
	for _, p := range rpm.params {
		out = append(out, &RiskParams{
			Asset:          p.Asset,
			MCR:            fpmath.Clone(p.MCR),
			CCR:            fpmath.Clone(p.CCR),
			MinDebt:        fpmath.Clone(p.MinDebt),
			GasCompFlat:    fpmath.Clone(p.GasCompFlat),
			GasCompDivisor: p.GasCompDivisor,
			EffectiveSeq:   p.EffectiveSeq,
		})
	}
	return out
}

// RestoreParams installs parameter sets from a snapshot without revalidation.
func (rpm *RiskParamsManager) RestoreParams(params []*RiskParams) {
	for _, p := range params {
		rpm.params[p.Asset] = &RiskParams{
			Asset:          p.Asset,
			MCR:            fpmath.Clone(p.MCR),
			CCR:            fpmath.Clone(p.CCR),
			MinDebt:        fpmath.Clone(p.MinDebt),
			GasCompFlat:    fpmath.Clone(p.GasCompFlat),
			GasCompDivisor: p.GasCompDivisor,
			EffectiveSeq:   p.EffectiveSeq,
		}
	}
}
