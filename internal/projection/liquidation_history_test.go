package projection

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
)

func entryFor(owner uuid.UUID, seq int64) LiquidationHistoryEntry {
	return LiquidationHistoryEntry{
		Sequence:          seq,
		RequestID:         uuid.New(),
		OwnerID:           owner,
		CallerID:          uuid.New(),
		Asset:             "ETH",
		DebtOffset:        big.NewInt(1000),
		CollateralToPool:  big.NewInt(500),
		DebtRedistributed: big.NewInt(0),
		CollRedistributed: big.NewInt(0),
		GasCompStable:     big.NewInt(10),
		GasCompCollateral: big.NewInt(2),
		Surplus:           big.NewInt(0),
	}
}

func TestLiquidationHistoryNewestFirst(t *testing.T) {
	h := NewLiquidationHistory(10)
	owner := uuid.New()
	for seq := int64(1); seq <= 5; seq++ {
		h.Add(entryFor(owner, seq))
	}

	recent := h.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	if recent[0].Sequence != 5 || recent[2].Sequence != 3 {
		t.Fatalf("expected sequences [5 4 3], got [%d %d %d]",
			recent[0].Sequence, recent[1].Sequence, recent[2].Sequence)
	}
}

func TestLiquidationHistoryEvictsOldest(t *testing.T) {
	h := NewLiquidationHistory(3)
	owner := uuid.New()
	for seq := int64(1); seq <= 5; seq++ {
		h.Add(entryFor(owner, seq))
	}

	recent := h.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("expected capacity 3, got %d entries", len(recent))
	}
	if recent[len(recent)-1].Sequence != 3 {
		t.Fatalf("oldest surviving entry should be sequence 3, got %d",
			recent[len(recent)-1].Sequence)
	}
}

func TestLiquidationHistoryByOwner(t *testing.T) {
	h := NewLiquidationHistory(10)
	alice := uuid.New()
	bob := uuid.New()

	h.Add(entryFor(alice, 1))
	h.Add(entryFor(bob, 2))
	h.Add(entryFor(alice, 3))

	got := h.ByOwner(alice, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for owner, got %d", len(got))
	}
	if got[0].Sequence != 3 || got[1].Sequence != 1 {
		t.Fatalf("expected sequences [3 1], got [%d %d]", got[0].Sequence, got[1].Sequence)
	}
	if len(h.ByOwner(uuid.New(), 10)) != 0 {
		t.Fatal("unknown owner should have no entries")
	}
}
