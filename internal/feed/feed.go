// Package feed tracks the latest validated price per collateral asset.
// Prices arrive as versioned events; the core never reads the wall clock,
// staleness is judged against the event timestamp of the operation that
// needs the price.
package feed

import (
	"math/big"
)

// PriceState is the latest accepted price for one asset.
type PriceState struct {
	Asset     string
	Price     *big.Int // 18 decimals, stablecoin per unit of asset
	SourceSeq int64    // feed-assigned sequence, gaps tolerated
	Timestamp int64    // feed-assigned, epoch microseconds
}

// PriceFeed holds per-asset price state with a configured maximum age.
type PriceFeed struct {
	prices map[string]*PriceState
	maxAge int64 // microseconds; 0 disables the staleness check
}

func NewPriceFeed(maxAge int64) *PriceFeed {
	return &PriceFeed{
		prices: make(map[string]*PriceState),
		maxAge: maxAge,
	}
}

// Update accepts a new price if its source sequence advances. Out-of-order
// updates are dropped, not an error: feeds may fan out over multiple
// partitions and stale messages are expected.
func (pf *PriceFeed) Update(asset string, price *big.Int, sourceSeq, timestamp int64) bool {
	if price == nil || price.Sign() <= 0 {
		return false
	}
	cur, ok := pf.prices[asset]
	if ok && sourceSeq <= cur.SourceSeq {
		return false
	}
	pf.prices[asset] = &PriceState{
		Asset:     asset,
		Price:     new(big.Int).Set(price),
		SourceSeq: sourceSeq,
		Timestamp: timestamp,
	}
	return true
}

// GetPrice returns the current price for asset. ok is false when no price
// was ever accepted or the latest one is older than the configured maximum
// age relative to now; callers must refuse the dependent operation rather
// than substitute a default.
func (pf *PriceFeed) GetPrice(asset string, now int64) (*big.Int, bool) {
	cur, ok := pf.prices[asset]
	if !ok {
		return nil, false
	}
	if pf.maxAge > 0 && now-cur.Timestamp > pf.maxAge {
		return nil, false
	}
	return new(big.Int).Set(cur.Price), true
}

// States returns all per-asset price states, used by snapshots.
func (pf *PriceFeed) States() []*PriceState {
	out := make([]*PriceState, 0, len(pf.prices))
	for _, p := range pf.prices {
		out = append(out, &PriceState{
			Asset:     p.Asset,
			Price:     new(big.Int).Set(p.Price),
			SourceSeq: p.SourceSeq,
			Timestamp: p.Timestamp,
		})
	}
	return out
}

// Restore replaces the feed state from a snapshot.
func (pf *PriceFeed) Restore(states []*PriceState) {
	pf.prices = make(map[string]*PriceState, len(states))
	for _, p := range states {
		pf.prices[p.Asset] = &PriceState{
			Asset:     p.Asset,
			Price:     new(big.Int).Set(p.Price),
			SourceSeq: p.SourceSeq,
			Timestamp: p.Timestamp,
		}
	}
}
