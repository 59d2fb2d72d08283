package query

import "github.com/google/uuid"

// BalanceResponse represents a user's ledger balances for API queries.
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Asset  string    `json:"asset"`

	// Ledger balances (from journal entries)
	Stable     string `json:"stable"`     // stablecoin holdings
	Collateral string `json:"collateral"` // free collateral, not locked in a trove
	Governance string `json:"governance"` // governance token gains paid out
	Surplus    string `json:"surplus"`    // claimable post-liquidation surplus

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected event sequence
}
