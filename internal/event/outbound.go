package event

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Outbound events are derived by the core while applying an inbound event.
// They are appended to the event log and published for downstream consumers;
// they are never accepted back as inputs.

// LiquidationExecuted reports one completed liquidation.
type LiquidationExecuted struct {
	RequestID       uuid.UUID
	OwnerID         uuid.UUID
	CallerID        uuid.UUID
	CollateralAsset string
	RecoveryMode    bool

	DebtOffset        *big.Int
	CollateralToPool  *big.Int
	DebtRedistributed *big.Int
	CollRedistributed *big.Int
	GasCompStable     *big.Int
	GasCompCollateral *big.Int
	Surplus           *big.Int

	Sequence  int64
	Timestamp int64 // epoch microseconds
}

func (e *LiquidationExecuted) IdempotencyKey() string {
	return fmt.Sprintf("liqexec:%s:%s", e.RequestID, e.OwnerID)
}
func (e *LiquidationExecuted) EventType() EventType  { return EventTypeLiquidationExecuted }
func (e *LiquidationExecuted) Asset() *string        { return &e.CollateralAsset }
func (e *LiquidationExecuted) SourceSequence() int64 { return e.Sequence }

// EpochAdvanced reports a full pool wipeout: every deposit compounded to
// zero and the epoch counter incremented.
type EpochAdvanced struct {
	CollateralAsset string
	Epoch           int64
	Sequence        int64
	Timestamp       int64
}

func (e *EpochAdvanced) IdempotencyKey() string {
	return fmt.Sprintf("epoch:%d:%d", e.Epoch, e.Sequence)
}
func (e *EpochAdvanced) EventType() EventType  { return EventTypeEpochAdvanced }
func (e *EpochAdvanced) Asset() *string        { return &e.CollateralAsset }
func (e *EpochAdvanced) SourceSequence() int64 { return e.Sequence }

// ScaleAdvanced reports a rescale of the cumulative product P.
type ScaleAdvanced struct {
	CollateralAsset string
	Epoch           int64
	Scale           int64
	Sequence        int64
	Timestamp       int64
}

func (e *ScaleAdvanced) IdempotencyKey() string {
	return fmt.Sprintf("scale:%d:%d:%d", e.Epoch, e.Scale, e.Sequence)
}
func (e *ScaleAdvanced) EventType() EventType  { return EventTypeScaleAdvanced }
func (e *ScaleAdvanced) Asset() *string        { return &e.CollateralAsset }
func (e *ScaleAdvanced) SourceSequence() int64 { return e.Sequence }
