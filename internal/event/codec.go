package event

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a typed event for the event log. big.Int fields
// marshal as arbitrary-precision JSON numbers, so no value is truncated.
func EncodePayload(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// EventTypeFromString maps the logged type name back to its discriminator.
func EventTypeFromString(s string) EventType {
	for et := EventTypeTroveOpen; et <= EventTypeScaleAdvanced; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// IsDerived reports whether the type is produced by the core rather than
// accepted as input. Derived events are skipped during replay: they are
// re-emitted as their parent event replays.
func (et EventType) IsDerived() bool {
	switch et {
	case EventTypeLiquidationExecuted, EventTypeEpochAdvanced, EventTypeScaleAdvanced:
		return true
	}
	return false
}

// DecodePayload reverses EncodePayload given the logged event type. Used on
// warm restart to replay events from the log into the core.
func DecodePayload(eventType EventType, data []byte) (Event, error) {
	var evt Event
	switch eventType {
	case EventTypeTroveOpen:
		evt = &TroveOpen{}
	case EventTypeTroveAdjust:
		evt = &TroveAdjust{}
	case EventTypeTroveClose:
		evt = &TroveClose{}
	case EventTypeSurplusClaim:
		evt = &SurplusClaim{}
	case EventTypePoolDeposit:
		evt = &PoolDeposit{}
	case EventTypePoolWithdraw:
		evt = &PoolWithdraw{}
	case EventTypePoolClaim:
		evt = &PoolClaim{}
	case EventTypeGovernanceIssuance:
		evt = &GovernanceIssuance{}
	case EventTypePriceUpdate:
		evt = &PriceUpdate{}
	case EventTypeRiskParamUpdate:
		evt = &RiskParamUpdate{}
	case EventTypeLiquidationRequest:
		evt = &LiquidationRequest{}
	case EventTypeLiquidationSequenceRequest:
		evt = &LiquidationSequenceRequest{}
	case EventTypeLiquidationExecuted:
		evt = &LiquidationExecuted{}
	case EventTypeEpochAdvanced:
		evt = &EpochAdvanced{}
	case EventTypeScaleAdvanced:
		evt = &ScaleAdvanced{}
	default:
		return nil, fmt.Errorf("cannot decode event type %s", eventType)
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return evt, nil
}
