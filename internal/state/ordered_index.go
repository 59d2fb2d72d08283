package state

import (
	"math/big"

	"github.com/google/uuid"
)

// DefaultMaxTraversal bounds hint-fallback search. An out-of-range hint is
// treated as a signal to do a bounded scan and fail closed, never a full
// O(n) walk.
const DefaultMaxTraversal = 64

type indexNode struct {
	id         uuid.UUID
	key        *big.Int // nominal collateral ratio, descending order
	arrivalSeq int64    // FIFO tie-break for equal keys
	prev       *indexNode
	next       *indexNode
}

type assetList struct {
	head  *indexNode
	tail  *indexNode
	nodes map[uuid.UUID]*indexNode
}

// OrderedIndex keeps troves sorted descending by nominal collateral ratio,
// one list per collateral asset. Head is the safest trove, tail the riskiest.
type OrderedIndex struct {
	lists        map[string]*assetList
	maxTraversal int
	arrivalSeq   int64
}

func NewOrderedIndex(maxTraversal int) *OrderedIndex {
	if maxTraversal <= 0 {
		maxTraversal = DefaultMaxTraversal
	}
	return &OrderedIndex{
		lists:        make(map[string]*assetList),
		maxTraversal: maxTraversal,
	}
}

func (oi *OrderedIndex) list(asset string) *assetList {
	l, ok := oi.lists[asset]
	if !ok {
		l = &assetList{nodes: make(map[uuid.UUID]*indexNode)}
		oi.lists[asset] = l
	}
	return l
}

// validInsertPoint reports whether the new key belongs directly between
// prev and next (either may be nil at a list boundary).
func validInsertPoint(prev, next *indexNode, key *big.Int) bool {
	if prev != nil && prev.key.Cmp(key) < 0 {
		return false
	}
	// FIFO: a new node with a key equal to next's still goes before a
	// later-arriving equal node only if next arrived after it, which for
	// a fresh insert is never the case, so equal next keys push us right.
	if next != nil && next.key.Cmp(key) >= 0 {
		return false
	}
	if prev != nil && next != nil && prev.next != next {
		return false
	}
	return true
}

// findInsertPoint locates (prev, next) for key. Hints are validated first;
// a wrong or missing hint falls back to a scan bounded by maxTraversal
// starting from the nearest valid hint, or from head. Returns ErrHintTooFar
// when the bound is exhausted.
func (oi *OrderedIndex) findInsertPoint(l *assetList, key *big.Int, prevHint, nextHint *uuid.UUID) (*indexNode, *indexNode, error) {
	var start *indexNode

	if prevHint != nil {
		if p, ok := l.nodes[*prevHint]; ok {
			if validInsertPoint(p, p.next, key) {
				return p, p.next, nil
			}
			if p.key.Cmp(key) >= 0 {
				start = p // descend from the hint
			}
		}
	}
	if start == nil && nextHint != nil {
		if n, ok := l.nodes[*nextHint]; ok {
			if validInsertPoint(n.prev, n, key) {
				return n.prev, n, nil
			}
			if n.key.Cmp(key) >= 0 {
				start = n // slot is further down, descend from the hint
			} else {
				// slot is above the hint: walk back to the first node
				// sorting at or before the key
				cursor := n
				for steps := 0; cursor.prev != nil && cursor.prev.key.Cmp(key) < 0; steps++ {
					if steps >= oi.maxTraversal {
						return nil, nil, ErrHintTooFar
					}
					cursor = cursor.prev
				}
				return cursor.prev, cursor, nil
			}
		}
	}
	if start == nil {
		start = l.head
	}
	if start == nil {
		return nil, nil, nil // empty list
	}
	if start.key.Cmp(key) < 0 {
		// even the head sorts after the key
		if start == l.head {
			return nil, start, nil
		}
		return nil, nil, ErrHintTooFar
	}

	cursor := start
	for steps := 0; ; steps++ {
		if steps > oi.maxTraversal {
			return nil, nil, ErrHintTooFar
		}
		if cursor.next == nil || cursor.next.key.Cmp(key) < 0 {
			return cursor, cursor.next, nil
		}
		cursor = cursor.next
	}
}

func (l *assetList) link(prev, next, node *indexNode) {
	node.prev = prev
	node.next = next
	if prev != nil {
		prev.next = node
	} else {
		l.head = node
	}
	if next != nil {
		next.prev = node
	} else {
		l.tail = node
	}
	l.nodes[node.id] = node
}

func (l *assetList) unlink(node *indexNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	delete(l.nodes, node.id)
}

// Insert adds id with the given ratio key. Equal keys keep insertion order.
func (oi *OrderedIndex) Insert(asset string, id uuid.UUID, key *big.Int, prevHint, nextHint *uuid.UUID) error {
	l := oi.list(asset)
	if _, ok := l.nodes[id]; ok {
		return ErrNodeAlreadyExists
	}

	prev, next, err := oi.findInsertPoint(l, key, prevHint, nextHint)
	if err != nil {
		return err
	}

	oi.arrivalSeq++
	node := &indexNode{
		id:         id,
		key:        new(big.Int).Set(key),
		arrivalSeq: oi.arrivalSeq,
	}
	l.link(prev, next, node)
	return nil
}

// Remove unlinks id, patching its neighbors.
func (oi *OrderedIndex) Remove(asset string, id uuid.UUID) error {
	l := oi.list(asset)
	node, ok := l.nodes[id]
	if !ok {
		return ErrNodeDoesNotExist
	}
	l.unlink(node)
	return nil
}

// Reinsert updates id's key. If the node stays correctly ordered relative to
// its current neighbors the key is updated in place, otherwise the node is
// relocated. The insert point is resolved before unlinking so a hint failure
// leaves the list untouched.
func (oi *OrderedIndex) Reinsert(asset string, id uuid.UUID, newKey *big.Int, prevHint, nextHint *uuid.UUID) error {
	l := oi.list(asset)
	node, ok := l.nodes[id]
	if !ok {
		return ErrNodeDoesNotExist
	}

	if (node.prev == nil || node.prev.key.Cmp(newKey) >= 0) &&
		(node.next == nil || node.next.key.Cmp(newKey) <= 0) {
		node.key.Set(newKey)
		return nil
	}

	// resolve destination while the node is still linked so a hint failure
	// cannot leave the node unlinked
	prev, next, err := oi.findInsertPoint(l, newKey, prevHint, nextHint)
	if err != nil {
		return err
	}
	oldPrev, oldNext := node.prev, node.next
	l.unlink(node)
	// the destination may reference the node itself when it lands adjacent
	// to its old slot
	if prev == node {
		prev = oldPrev
	}
	if next == node {
		next = oldNext
	}
	node.key.Set(newKey)
	l.link(prev, next, node)
	return nil
}

// Contains reports whether id is present.
func (oi *OrderedIndex) Contains(asset string, id uuid.UUID) bool {
	_, ok := oi.list(asset).nodes[id]
	return ok
}

// First returns the id with the highest ratio key.
func (oi *OrderedIndex) First(asset string) (uuid.UUID, bool) {
	l := oi.list(asset)
	if l.head == nil {
		return uuid.Nil, false
	}
	return l.head.id, true
}

// Last returns the id with the lowest ratio key (riskiest trove).
func (oi *OrderedIndex) Last(asset string) (uuid.UUID, bool) {
	l := oi.list(asset)
	if l.tail == nil {
		return uuid.Nil, false
	}
	return l.tail.id, true
}

// Next returns the id after the given one (toward lower ratios).
func (oi *OrderedIndex) Next(asset string, id uuid.UUID) (uuid.UUID, bool) {
	node, ok := oi.list(asset).nodes[id]
	if !ok || node.next == nil {
		return uuid.Nil, false
	}
	return node.next.id, true
}

// Prev returns the id before the given one (toward higher ratios).
func (oi *OrderedIndex) Prev(asset string, id uuid.UUID) (uuid.UUID, bool) {
	node, ok := oi.list(asset).nodes[id]
	if !ok || node.prev == nil {
		return uuid.Nil, false
	}
	return node.prev.id, true
}

// Size returns the number of nodes for one asset.
func (oi *OrderedIndex) Size(asset string) int {
	return len(oi.list(asset).nodes)
}

// Keys returns ids in list order, used for snapshots and queries.
func (oi *OrderedIndex) Keys(asset string) []uuid.UUID {
	l := oi.list(asset)
	out := make([]uuid.UUID, 0, len(l.nodes))
	for n := l.head; n != nil; n = n.next {
		out = append(out, n.id)
	}
	return out
}
