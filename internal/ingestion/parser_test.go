package ingestion_test

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
	"encoding/json"
	"math/big"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseTroveOpen(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner_id":     "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "ETH",
		"collateral":   "10000000000000000000",
		"debt":         "4000000000000000000000",
		"prev_hint":    "770e8400-e29b-41d4-a716-446655440002",
		"sequence":     int64(0),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	open, ok := evt.(*event.TroveOpen)
	if !ok {
		t.Fatalf("expected *event.TroveOpen, got %T", evt)
	}
	if open.CollateralAsset != "ETH" {
		t.Errorf("asset = %s, want ETH", open.CollateralAsset)
	}
	wantColl, _ := new(big.Int).SetString("10000000000000000000", 10)
	if open.Collateral.Cmp(wantColl) != 0 {
		t.Errorf("collateral = %s, want %s", open.Collateral, wantColl)
	}
	wantDebt, _ := new(big.Int).SetString("4000000000000000000000", 10)
	if open.Debt.Cmp(wantDebt) != 0 {
		t.Errorf("debt = %s, want %s", open.Debt, wantDebt)
	}
	if open.PrevHint == nil || open.PrevHint.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("prev_hint = %v, want 770e8400-e29b-41d4-a716-446655440002", open.PrevHint)
	}
	if open.NextHint != nil {
		t.Errorf("next_hint = %v, want nil", open.NextHint)
	}
	if open.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp = %d us", open.Timestamp.UnixMicro())
	}
}

func TestParseTroveAdjustDirections(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"owner_id":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":         "BTC",
		"coll_change":   "500000000000000000",
		"coll_increase": true,
		"debt_change":   "100000000000000000000",
		"debt_increase": false,
		"sequence":      int64(7),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TroveAdjust")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	adj := evt.(*event.TroveAdjust)
	if !adj.CollIncrease || adj.DebtIncrease {
		t.Errorf("directions = coll+%v debt+%v, want coll increase, debt decrease", adj.CollIncrease, adj.DebtIncrease)
	}
	if adj.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", adj.Sequence)
	}
}

func TestParseNegativeAmountRejected(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"depositor_id": "660e8400-e29b-41d4-a716-446655440001",
		"amount":       "-5000000000000000000",
		"sequence":     int64(0),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "PoolDeposit"); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestParseMalformedAmountRejected(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner_id":     "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "ETH",
		"collateral":   "10.5",
		"debt":         "4000000000000000000000",
		"sequence":     int64(0),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "TroveOpen"); err == nil {
		t.Fatal("expected error for non-integer amount")
	}
}

func TestParseBadHintRejected(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner_id":     "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "ETH",
		"collateral":   "10000000000000000000",
		"debt":         "4000000000000000000000",
		"prev_hint":    "not-a-uuid",
		"sequence":     int64(0),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "TroveOpen"); err == nil {
		t.Fatal("expected error for malformed hint")
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "ETH",
		"price":          "2000000000000000000000",
		"price_sequence": int64(99),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu := evt.(*event.PriceUpdate)
	if pu.PriceSequence != 99 {
		t.Errorf("price_sequence = %d, want 99", pu.PriceSequence)
	}
	if pu.PriceTimestamp != 1700000000000000 {
		t.Errorf("price_timestamp = %d", pu.PriceTimestamp)
	}

	payload["price"] = "0"
	raw = rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "PriceUpdate"); err == nil {
		t.Fatal("expected error for zero price")
	}
}

func TestParseRiskParamUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":            "ETH",
		"mcr":              "1100000000000000000",
		"ccr":              "1500000000000000000",
		"min_debt":         "1800000000000000000000",
		"gas_comp_flat":    "200000000000000000000",
		"gas_comp_divisor": int64(200),
		"effective_seq":    int64(10),
		"sequence":         int64(3),
		"timestamp_us":     int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RiskParamUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rp := evt.(*event.RiskParamUpdate)
	wantMCR, _ := new(big.Int).SetString("1100000000000000000", 10)
	if rp.MCR.Cmp(wantMCR) != 0 {
		t.Errorf("mcr = %s, want %s", rp.MCR, wantMCR)
	}
	if rp.GasCompDivisor != 200 {
		t.Errorf("gas_comp_divisor = %d, want 200", rp.GasCompDivisor)
	}

	payload["gas_comp_divisor"] = int64(0)
	raw = rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "RiskParamUpdate"); err == nil {
		t.Fatal("expected error for zero divisor")
	}
}

func TestParseLiquidationSequenceRequest(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"caller_id":    "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "ETH",
		"max_troves":   int64(10),
		"sequence":     int64(5),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "LiquidationSequenceRequest")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	seq := evt.(*event.LiquidationSequenceRequest)
	if seq.MaxTroves != 10 {
		t.Errorf("max_troves = %d, want 10", seq.MaxTroves)
	}

	payload["max_troves"] = int64(0)
	raw = rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "LiquidationSequenceRequest"); err == nil {
		t.Fatal("expected error for zero max_troves")
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "Redemption"); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
