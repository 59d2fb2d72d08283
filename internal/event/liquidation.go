package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LiquidationRequest asks the coordinator to liquidate one trove. The caller
// (a keeper bot) receives gas compensation if the trove is liquidatable.
type LiquidationRequest struct {
	RequestID       uuid.UUID
	CallerID        uuid.UUID
	OwnerID         uuid.UUID
	CollateralAsset string
	Sequence        int64
	Timestamp       time.Time
}

func (e *LiquidationRequest) IdempotencyKey() string { return e.RequestID.String() }
func (e *LiquidationRequest) EventType() EventType   { return EventTypeLiquidationRequest }
func (e *LiquidationRequest) Asset() *string         { return &e.CollateralAsset }
func (e *LiquidationRequest) SourceSequence() int64  { return e.Sequence }

// LiquidationSequenceRequest liquidates up to MaxTroves troves from the
// riskiest end of the ordered index, stopping at the first healthy one.
type LiquidationSequenceRequest struct {
	RequestID       uuid.UUID
	CallerID        uuid.UUID
	CollateralAsset string
	MaxTroves       int
	Sequence        int64
	Timestamp       time.Time
}

func (e *LiquidationSequenceRequest) IdempotencyKey() string {
	return fmt.Sprintf("liqseq:%s", e.RequestID)
}
func (e *LiquidationSequenceRequest) EventType() EventType {
	return EventTypeLiquidationSequenceRequest
}
func (e *LiquidationSequenceRequest) Asset() *string        { return &e.CollateralAsset }
func (e *LiquidationSequenceRequest) SourceSequence() int64 { return e.Sequence }
