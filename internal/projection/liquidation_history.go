package projection

import (
	"math/big"

	"github.com/google/uuid"
)

// LiquidationHistoryEntry is one executed liquidation, as projected for
// keeper and owner queries.
type LiquidationHistoryEntry struct {
	Sequence          int64
	RequestID         uuid.UUID
	OwnerID           uuid.UUID
	CallerID          uuid.UUID
	Asset             string
	RecoveryMode      bool
	DebtOffset        *big.Int
	CollateralToPool  *big.Int
	DebtRedistributed *big.Int
	CollRedistributed *big.Int
	GasCompStable     *big.Int
	GasCompCollateral *big.Int
	Surplus           *big.Int
	Timestamp         int64
}

// LiquidationHistory is a bounded in-memory ring of recent liquidations,
// serving hot queries without a round trip to the projection tables.
type LiquidationHistory struct {
	entries []LiquidationHistoryEntry
	max     int
}

func NewLiquidationHistory(max int) *LiquidationHistory {
	return &LiquidationHistory{
		entries: make([]LiquidationHistoryEntry, 0, max),
		max:     max,
	}
}

// Add records an executed liquidation, evicting the oldest past capacity.
func (h *LiquidationHistory) Add(entry LiquidationHistoryEntry) {
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Recent returns up to limit entries, newest first.
func (h *LiquidationHistory) Recent(limit int) []LiquidationHistoryEntry {
	result := make([]LiquidationHistoryEntry, 0, limit)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, h.entries[i])
	}
	return result
}

// ByOwner returns up to limit entries for one trove owner, newest first.
func (h *LiquidationHistory) ByOwner(owner uuid.UUID, limit int) []LiquidationHistoryEntry {
	result := make([]LiquidationHistoryEntry, 0, limit)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if h.entries[i].OwnerID == owner {
			result = append(result, h.entries[i])
		}
	}
	return result
}
