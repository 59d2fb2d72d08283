package feed

import (
	"math/big"
	"testing"
)

func price(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestUpdate_SequenceGapsToleratedStaleDropped(t *testing.T) {
	pf := NewPriceFeed(0)

	if !pf.Update("ETH", price(2000), 10, 1000) {
		t.Fatalf("first update rejected")
	}
	// gap in source sequence is fine
	if !pf.Update("ETH", price(2100), 15, 1001) {
		t.Fatalf("gapped update rejected")
	}
	// stale sequence is dropped without error
	if pf.Update("ETH", price(1900), 12, 1002) {
		t.Fatalf("stale update accepted")
	}
	if pf.Update("ETH", price(1900), 15, 1002) {
		t.Fatalf("duplicate sequence accepted")
	}

	p, ok := pf.GetPrice("ETH", 1002)
	if !ok || p.Cmp(price(2100)) != 0 {
		t.Errorf("price = %v (ok=%v), want 2100e18", p, ok)
	}
}

func TestUpdate_RejectsNonPositive(t *testing.T) {
	pf := NewPriceFeed(0)
	if pf.Update("ETH", big.NewInt(0), 1, 1000) {
		t.Errorf("zero price accepted")
	}
	if pf.Update("ETH", big.NewInt(-5), 1, 1000) {
		t.Errorf("negative price accepted")
	}
}

func TestGetPrice_Staleness(t *testing.T) {
	pf := NewPriceFeed(5_000_000) // 5s in microseconds

	if _, ok := pf.GetPrice("ETH", 0); ok {
		t.Errorf("price reported before any update")
	}

	pf.Update("ETH", price(2000), 1, 1_000_000)
	if _, ok := pf.GetPrice("ETH", 6_000_000); !ok {
		t.Errorf("fresh price rejected")
	}
	if _, ok := pf.GetPrice("ETH", 6_000_001); ok {
		t.Errorf("stale price accepted")
	}

	// a newer update refreshes the window
	pf.Update("ETH", price(2050), 2, 7_000_000)
	if _, ok := pf.GetPrice("ETH", 10_000_000); !ok {
		t.Errorf("refreshed price rejected")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	pf := NewPriceFeed(0)
	pf.Update("ETH", price(2000), 3, 1000)
	pf.Update("BTC", price(60_000), 7, 1001)

	restored := NewPriceFeed(0)
	restored.Restore(pf.States())

	p, ok := restored.GetPrice("BTC", 2000)
	if !ok || p.Cmp(price(60_000)) != 0 {
		t.Errorf("restored price = %v (ok=%v)", p, ok)
	}
	// restored state keeps rejecting stale sequences
	if restored.Update("BTC", price(59_000), 7, 1002) {
		t.Errorf("stale sequence accepted after restore")
	}
}
