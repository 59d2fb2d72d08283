package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTroveOpen
	EventTypeTroveAdjust
	EventTypeTroveClose
	EventTypePoolDeposit
	EventTypePoolWithdraw
	EventTypePoolClaim
	EventTypePriceUpdate
	EventTypeLiquidationRequest
	EventTypeLiquidationSequenceRequest
	EventTypeLiquidationExecuted
	EventTypeRiskParamUpdate
	EventTypeSurplusClaim
	EventTypeGovernanceIssuance
	EventTypeEpochAdvanced
	EventTypeScaleAdvanced
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Collateral asset context (nullable for global events)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Asset returns the collateral asset context (nil for global events)
	Asset() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeTroveOpen:
		return "TroveOpen"
	case EventTypeTroveAdjust:
		return "TroveAdjust"
	case EventTypeTroveClose:
		return "TroveClose"
	case EventTypePoolDeposit:
		return "PoolDeposit"
	case EventTypePoolWithdraw:
		return "PoolWithdraw"
	case EventTypePoolClaim:
		return "PoolClaim"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeLiquidationRequest:
		return "LiquidationRequest"
	case EventTypeLiquidationSequenceRequest:
		return "LiquidationSequenceRequest"
	case EventTypeLiquidationExecuted:
		return "LiquidationExecuted"
	case EventTypeRiskParamUpdate:
		return "RiskParamUpdate"
	case EventTypeSurplusClaim:
		return "SurplusClaim"
	case EventTypeGovernanceIssuance:
		return "GovernanceIssuance"
	case EventTypeEpochAdvanced:
		return "EpochAdvanced"
	case EventTypeScaleAdvanced:
		return "ScaleAdvanced"
	default:
		return "Unknown"
	}
}
