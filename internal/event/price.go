package event

import (
	"fmt"
	"math/big"
)

// PriceUpdate carries a fresh oracle price for one collateral asset.
// Price sequences may have gaps (unlike operation sequences); stale
// sequences are ignored idempotently.
type PriceUpdate struct {
	CollateralAsset string
	Price           *big.Int
	PriceSequence   int64
	PriceTimestamp  int64 // epoch microseconds
}

func (e *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%s:%d", e.CollateralAsset, e.PriceSequence)
}
func (e *PriceUpdate) EventType() EventType  { return EventTypePriceUpdate }
func (e *PriceUpdate) Asset() *string        { return &e.CollateralAsset }
func (e *PriceUpdate) SourceSequence() int64 { return e.PriceSequence }
