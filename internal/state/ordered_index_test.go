package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

func key(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000))
}

func mustInsert(t *testing.T, oi *OrderedIndex, id uuid.UUID, k *big.Int, prevHint, nextHint *uuid.UUID) {
	t.Helper()
	if err := oi.Insert("ETH", id, k, prevHint, nextHint); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}

func order(oi *OrderedIndex) []uuid.UUID {
	return oi.Keys("ETH")
}

func sameOrder(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInsert_MaintainsDescendingOrder(t *testing.T) {
	oi := NewOrderedIndex(0)
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	mustInsert(t, oi, b, key(200), nil, nil)
	mustInsert(t, oi, d, key(50), nil, nil)
	mustInsert(t, oi, a, key(300), nil, nil)
	mustInsert(t, oi, c, key(100), nil, nil)

	want := []uuid.UUID{a, b, c, d}
	if got := order(oi); !sameOrder(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	first, _ := oi.First("ETH")
	last, _ := oi.Last("ETH")
	if first != a || last != d {
		t.Errorf("first/last = %s/%s, want %s/%s", first, last, a, d)
	}
	if next, ok := oi.Next("ETH", b); !ok || next != c {
		t.Errorf("next(b) = %s, want %s", next, c)
	}
	if prev, ok := oi.Prev("ETH", b); !ok || prev != a {
		t.Errorf("prev(b) = %s, want %s", prev, a)
	}
	if oi.Size("ETH") != 4 {
		t.Errorf("size = %d, want 4", oi.Size("ETH"))
	}
}

func TestInsert_EqualKeysKeepArrivalOrder(t *testing.T) {
	oi := NewOrderedIndex(0)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	mustInsert(t, oi, a, key(100), nil, nil)
	mustInsert(t, oi, b, key(100), nil, nil)
	mustInsert(t, oi, c, key(100), nil, nil)

	want := []uuid.UUID{a, b, c}
	if got := order(oi); !sameOrder(got, want) {
		t.Errorf("order = %v, want FIFO %v", got, want)
	}
}

func TestInsert_Duplicate(t *testing.T) {
	oi := NewOrderedIndex(0)
	a := uuid.New()
	mustInsert(t, oi, a, key(100), nil, nil)
	if err := oi.Insert("ETH", a, key(200), nil, nil); !errors.Is(err, ErrNodeAlreadyExists) {
		t.Errorf("got %v", err)
	}
}

func TestRemove_PatchesNeighbors(t *testing.T) {
	oi := NewOrderedIndex(0)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, oi, a, key(300), nil, nil)
	mustInsert(t, oi, b, key(200), nil, nil)
	mustInsert(t, oi, c, key(100), nil, nil)

	if err := oi.Remove("ETH", b); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if got := order(oi); !sameOrder(got, []uuid.UUID{a, c}) {
		t.Errorf("order = %v, want [a c]", got)
	}
	if next, ok := oi.Next("ETH", a); !ok || next != c {
		t.Errorf("next(a) = %s, want %s", next, c)
	}
	if err := oi.Remove("ETH", b); !errors.Is(err, ErrNodeDoesNotExist) {
		t.Errorf("second remove: got %v", err)
	}
}

func TestInsertRemove_RoundTripWithStaleHints(t *testing.T) {
	oi := NewOrderedIndex(8)
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = uuid.New()
		mustInsert(t, oi, ids[i], key(int64(600-100*i)), nil, nil)
	}
	before := order(oi)

	x := uuid.New()
	hints := []struct {
		name string
		prev *uuid.UUID
		next *uuid.UUID
	}{
		{"no hints", nil, nil},
		{"exact", &ids[2], &ids[3]},
		{"prev only", &ids[2], nil},
		{"next only", nil, &ids[3]},
		{"stale low", &ids[5], nil},   // hint far below the target slot
		{"stale high", nil, &ids[0]},  // hint far above the target slot
		{"wrong pair", &ids[4], &ids[1]},
	}
	for _, h := range hints {
		t.Run(h.name, func(t *testing.T) {
			if err := oi.Insert("ETH", x, key(350), h.prev, h.next); err != nil {
				t.Fatalf("insert failed: %v", err)
			}
			if prev, _ := oi.Prev("ETH", x); prev != ids[2] {
				t.Errorf("inserted after %s, want %s", prev, ids[2])
			}
			if err := oi.Remove("ETH", x); err != nil {
				t.Fatalf("remove failed: %v", err)
			}
			if got := order(oi); !sameOrder(got, before) {
				t.Errorf("round trip changed order: %v != %v", got, before)
			}
		})
	}
}

func TestInsert_HintFallbackIsBounded(t *testing.T) {
	oi := NewOrderedIndex(4)
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		mustInsert(t, oi, ids[i], key(int64(1000-10*i)), &ids[max(0, i-1)], nil)
	}

	// the target slot is 9 hops from head, beyond the traversal bound:
	// the operation fails closed instead of walking the whole list
	x := uuid.New()
	err := oi.Insert("ETH", x, key(905), nil, nil)
	if !errors.Is(err, ErrHintTooFar) {
		t.Fatalf("got %v, want ErrHintTooFar", err)
	}
	if oi.Contains("ETH", x) {
		t.Errorf("failed insert left the node behind")
	}

	// a good hint near the slot succeeds under the same bound
	if err := oi.Insert("ETH", x, key(905), &ids[9], nil); err != nil {
		t.Fatalf("hinted insert failed: %v", err)
	}
	if prev, _ := oi.Prev("ETH", x); prev != ids[9] {
		t.Errorf("inserted after %s, want %s", prev, ids[9])
	}
}

func TestReinsert_InPlaceAndRelocate(t *testing.T) {
	oi := NewOrderedIndex(0)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, oi, a, key(300), nil, nil)
	mustInsert(t, oi, b, key(200), nil, nil)
	mustInsert(t, oi, c, key(100), nil, nil)

	// 250 still fits between a and c: in-place update
	if err := oi.Reinsert("ETH", b, key(250), nil, nil); err != nil {
		t.Fatalf("reinsert failed: %v", err)
	}
	if got := order(oi); !sameOrder(got, []uuid.UUID{a, b, c}) {
		t.Errorf("order = %v, want unchanged", got)
	}

	// 50 does not: relocate to the tail
	if err := oi.Reinsert("ETH", b, key(50), nil, nil); err != nil {
		t.Fatalf("reinsert failed: %v", err)
	}
	if got := order(oi); !sameOrder(got, []uuid.UUID{a, c, b}) {
		t.Errorf("order = %v, want [a c b]", got)
	}

	if err := oi.Reinsert("ETH", uuid.New(), key(50), nil, nil); !errors.Is(err, ErrNodeDoesNotExist) {
		t.Errorf("unknown id: got %v", err)
	}
}

func TestIndex_PerAssetIsolation(t *testing.T) {
	oi := NewOrderedIndex(0)
	a, b := uuid.New(), uuid.New()
	mustInsert(t, oi, a, key(100), nil, nil)
	if err := oi.Insert("BTC", b, key(100), nil, nil); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	// the same id may appear under another asset
	if err := oi.Insert("BTC", a, key(200), nil, nil); err != nil {
		t.Fatalf("cross-asset insert failed: %v", err)
	}
	if oi.Size("ETH") != 1 || oi.Size("BTC") != 2 {
		t.Errorf("sizes = %d/%d, want 1/2", oi.Size("ETH"), oi.Size("BTC"))
	}
}

func TestEmptyIndex(t *testing.T) {
	oi := NewOrderedIndex(0)
	if _, ok := oi.First("ETH"); ok {
		t.Errorf("first on empty index")
	}
	if _, ok := oi.Last("ETH"); ok {
		t.Errorf("last on empty index")
	}
	if oi.Size("ETH") != 0 {
		t.Errorf("size = %d, want 0", oi.Size("ETH"))
	}
}
