package event

import (
	"fmt"
	"math/big"
)

// RiskParamUpdate changes the risk parameters for one collateral asset.
// All ratios are 18-decimal fixed point (1.1e18 = 110%).
type RiskParamUpdate struct {
	CollateralAsset string
	MCR             *big.Int
	CCR             *big.Int
	MinDebt         *big.Int
	GasCompFlat     *big.Int
	GasCompDivisor  int64 // collateral share to the caller, e.g. 200 = 0.5%
	EffectiveSeq    int64
	Sequence        int64
	Timestamp       int64 // epoch microseconds
}

func (e *RiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("risk:%s:%d", e.CollateralAsset, e.EffectiveSeq)
}
func (e *RiskParamUpdate) EventType() EventType  { return EventTypeRiskParamUpdate }
func (e *RiskParamUpdate) Asset() *string        { return &e.CollateralAsset }
func (e *RiskParamUpdate) SourceSequence() int64 { return e.Sequence }
