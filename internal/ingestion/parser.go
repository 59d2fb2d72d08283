package ingestion

import (
	"TroveLedger/internal/event"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "TroveOpen":
		return parseTroveOpen(raw.Data)
	case "TroveAdjust":
		return parseTroveAdjust(raw.Data)
	case "TroveClose":
		return parseTroveClose(raw.Data)
	case "SurplusClaim":
		return parseSurplusClaim(raw.Data)
	case "PoolDeposit":
		return parsePoolDeposit(raw.Data)
	case "PoolWithdraw":
		return parsePoolWithdraw(raw.Data)
	case "PoolClaim":
		return parsePoolClaim(raw.Data)
	case "GovernanceIssuance":
		return parseGovernanceIssuance(raw.Data)
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "RiskParamUpdate":
		return parseRiskParamUpdate(raw.Data)
	case "LiquidationRequest":
		return parseLiquidationRequest(raw.Data)
	case "LiquidationSequenceRequest":
		return parseLiquidationSequenceRequest(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Amounts are
// 18-decimal fixed point carried as decimal strings, since the magnitudes
// overflow int64.

// parseAmount decodes a non-negative decimal-string amount.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: not a decimal integer: %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("parse %s: negative amount: %q", field, s)
	}
	return v, nil
}

// parseHint decodes an optional ordered-index neighbor hint. An absent or
// empty hint is valid; a malformed one is not.
func parseHint(field string, s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &id, nil
}

type troveOpenJSON struct {
	RequestID   string  `json:"request_id"`
	OwnerID     string  `json:"owner_id"`
	Asset       string  `json:"asset"`
	Collateral  string  `json:"collateral"`
	Debt        string  `json:"debt"`
	PrevHint    *string `json:"prev_hint,omitempty"`
	NextHint    *string `json:"next_hint,omitempty"`
	Sequence    int64   `json:"sequence"`
	TimestampUs int64   `json:"timestamp_us"`
}

func parseTroveOpen(data []byte) (*event.TroveOpen, error) {
	var j troveOpenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveOpen: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	coll, err := parseAmount("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	debt, err := parseAmount("debt", j.Debt)
	if err != nil {
		return nil, err
	}
	prevHint, err := parseHint("prev_hint", j.PrevHint)
	if err != nil {
		return nil, err
	}
	nextHint, err := parseHint("next_hint", j.NextHint)
	if err != nil {
		return nil, err
	}
	return &event.TroveOpen{
		RequestID:       requestID,
		OwnerID:         ownerID,
		CollateralAsset: j.Asset,
		Collateral:      coll,
		Debt:            debt,
		PrevHint:        prevHint,
		NextHint:        nextHint,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type troveAdjustJSON struct {
	RequestID    string  `json:"request_id"`
	OwnerID      string  `json:"owner_id"`
	Asset        string  `json:"asset"`
	CollChange   string  `json:"coll_change"`
	CollIncrease bool    `json:"coll_increase"`
	DebtChange   string  `json:"debt_change"`
	DebtIncrease bool    `json:"debt_increase"`
	PrevHint     *string `json:"prev_hint,omitempty"`
	NextHint     *string `json:"next_hint,omitempty"`
	Sequence     int64   `json:"sequence"`
	TimestampUs  int64   `json:"timestamp_us"`
}

func parseTroveAdjust(data []byte) (*event.TroveAdjust, error) {
	var j troveAdjustJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveAdjust: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	collChange, err := parseAmount("coll_change", j.CollChange)
	if err != nil {
		return nil, err
	}
	debtChange, err := parseAmount("debt_change", j.DebtChange)
	if err != nil {
		return nil, err
	}
	prevHint, err := parseHint("prev_hint", j.PrevHint)
	if err != nil {
		return nil, err
	}
	nextHint, err := parseHint("next_hint", j.NextHint)
	if err != nil {
		return nil, err
	}
	return &event.TroveAdjust{
		RequestID:       requestID,
		OwnerID:         ownerID,
		CollateralAsset: j.Asset,
		CollChange:      collChange,
		CollIncrease:    j.CollIncrease,
		DebtChange:      debtChange,
		DebtIncrease:    j.DebtIncrease,
		PrevHint:        prevHint,
		NextHint:        nextHint,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type troveCloseJSON struct {
	RequestID   string `json:"request_id"`
	OwnerID     string `json:"owner_id"`
	Asset       string `json:"asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTroveClose(data []byte) (*event.TroveClose, error) {
	var j troveCloseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveClose: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	return &event.TroveClose{
		RequestID:       requestID,
		OwnerID:         ownerID,
		CollateralAsset: j.Asset,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseSurplusClaim(data []byte) (*event.SurplusClaim, error) {
	var j troveCloseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SurplusClaim: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	return &event.SurplusClaim{
		RequestID:       requestID,
		OwnerID:         ownerID,
		CollateralAsset: j.Asset,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type poolMoveJSON struct {
	RequestID   string `json:"request_id"`
	DepositorID string `json:"depositor_id"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePoolDeposit(data []byte) (*event.PoolDeposit, error) {
	var j poolMoveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolDeposit: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	depositorID, err := uuid.Parse(j.DepositorID)
	if err != nil {
		return nil, fmt.Errorf("parse depositor_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.PoolDeposit{
		RequestID:   requestID,
		DepositorID: depositorID,
		Amount:      amount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

func parsePoolWithdraw(data []byte) (*event.PoolWithdraw, error) {
	var j poolMoveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolWithdraw: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	depositorID, err := uuid.Parse(j.DepositorID)
	if err != nil {
		return nil, fmt.Errorf("parse depositor_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.PoolWithdraw{
		RequestID:   requestID,
		DepositorID: depositorID,
		Amount:      amount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type poolClaimJSON struct {
	RequestID   string `json:"request_id"`
	DepositorID string `json:"depositor_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePoolClaim(data []byte) (*event.PoolClaim, error) {
	var j poolClaimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolClaim: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	depositorID, err := uuid.Parse(j.DepositorID)
	if err != nil {
		return nil, fmt.Errorf("parse depositor_id: %w", err)
	}
	return &event.PoolClaim{
		RequestID:   requestID,
		DepositorID: depositorID,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type governanceIssuanceJSON struct {
	IssuanceID  string `json:"issuance_id"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseGovernanceIssuance(data []byte) (*event.GovernanceIssuance, error) {
	var j governanceIssuanceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse GovernanceIssuance: %w", err)
	}
	issuanceID, err := uuid.Parse(j.IssuanceID)
	if err != nil {
		return nil, fmt.Errorf("parse issuance_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.GovernanceIssuance{
		IssuanceID: issuanceID,
		Amount:     amount,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type priceUpdateJSON struct {
	Asset         string `json:"asset"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	price, err := parseAmount("price", j.Price)
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return nil, fmt.Errorf("parse price: zero price for %s", j.Asset)
	}
	return &event.PriceUpdate{
		CollateralAsset: j.Asset,
		Price:           price,
		PriceSequence:   j.PriceSequence,
		PriceTimestamp:  j.TimestampUs,
	}, nil
}

type riskParamJSON struct {
	Asset          string `json:"asset"`
	MCR            string `json:"mcr"`
	CCR            string `json:"ccr"`
	MinDebt        string `json:"min_debt"`
	GasCompFlat    string `json:"gas_comp_flat"`
	GasCompDivisor int64  `json:"gas_comp_divisor"`
	EffectiveSeq   int64  `json:"effective_seq"`
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func parseRiskParamUpdate(data []byte) (*event.RiskParamUpdate, error) {
	var j riskParamJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RiskParamUpdate: %w", err)
	}
	mcr, err := parseAmount("mcr", j.MCR)
	if err != nil {
		return nil, err
	}
	ccr, err := parseAmount("ccr", j.CCR)
	if err != nil {
		return nil, err
	}
	minDebt, err := parseAmount("min_debt", j.MinDebt)
	if err != nil {
		return nil, err
	}
	gasCompFlat, err := parseAmount("gas_comp_flat", j.GasCompFlat)
	if err != nil {
		return nil, err
	}
	if j.GasCompDivisor <= 0 {
		return nil, fmt.Errorf("parse gas_comp_divisor: must be positive, got %d", j.GasCompDivisor)
	}
	return &event.RiskParamUpdate{
		CollateralAsset: j.Asset,
		MCR:             mcr,
		CCR:             ccr,
		MinDebt:         minDebt,
		GasCompFlat:     gasCompFlat,
		GasCompDivisor:  j.GasCompDivisor,
		EffectiveSeq:    j.EffectiveSeq,
		Sequence:        j.Sequence,
		Timestamp:       j.TimestampUs,
	}, nil
}

type liquidationRequestJSON struct {
	RequestID   string `json:"request_id"`
	CallerID    string `json:"caller_id"`
	OwnerID     string `json:"owner_id"`
	Asset       string `json:"asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidationRequest(data []byte) (*event.LiquidationRequest, error) {
	var j liquidationRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidationRequest: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	callerID, err := uuid.Parse(j.CallerID)
	if err != nil {
		return nil, fmt.Errorf("parse caller_id: %w", err)
	}
	ownerID, err := uuid.Parse(j.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	return &event.LiquidationRequest{
		RequestID:       requestID,
		CallerID:        callerID,
		OwnerID:         ownerID,
		CollateralAsset: j.Asset,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidationSequenceJSON struct {
	RequestID   string `json:"request_id"`
	CallerID    string `json:"caller_id"`
	Asset       string `json:"asset"`
	MaxTroves   int    `json:"max_troves"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidationSequenceRequest(data []byte) (*event.LiquidationSequenceRequest, error) {
	var j liquidationSequenceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidationSequenceRequest: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	callerID, err := uuid.Parse(j.CallerID)
	if err != nil {
		return nil, fmt.Errorf("parse caller_id: %w", err)
	}
	if j.MaxTroves <= 0 {
		return nil, fmt.Errorf("parse max_troves: must be positive, got %d", j.MaxTroves)
	}
	return &event.LiquidationSequenceRequest{
		RequestID:       requestID,
		CallerID:        callerID,
		CollateralAsset: j.Asset,
		MaxTroves:       j.MaxTroves,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}
