package query

import "github.com/google/uuid"

// Amounts are 1e18 fixed-point values carried as decimal strings: they are
// stored as NUMERIC and exceed int64.

// TroveResponse represents one trove's last folded state for API queries.
// Pending redistribution gains accrued since the trove was last touched are
// not included; they surface on the trove's next operation.
type TroveResponse struct {
	OwnerID      uuid.UUID `json:"owner_id"`
	Asset        string    `json:"asset"`
	Collateral   string    `json:"collateral"`
	Debt         string    `json:"debt"`
	Stake        string    `json:"stake"`
	Status       string    `json:"status"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PoolStatsResponse aggregates the system accounts that make up the
// stability pool and the collateral pools.
type PoolStatsResponse struct {
	StableDeposits    string            `json:"stable_deposits"`
	CollateralGains   map[string]string `json:"collateral_gains"`
	ActiveCollateral  map[string]string `json:"active_collateral"`
	DefaultCollateral map[string]string `json:"default_collateral"`
	GasEscrow         string            `json:"gas_escrow"`
	AsOfSequence      int64             `json:"as_of_sequence"`
}

// LiquidationHistoryResponse represents one completed liquidation.
type LiquidationHistoryResponse struct {
	Sequence          int64     `json:"sequence"`
	RequestID         uuid.UUID `json:"request_id"`
	OwnerID           uuid.UUID `json:"owner_id"`
	CallerID          uuid.UUID `json:"caller_id"`
	Asset             string    `json:"asset"`
	RecoveryMode      bool      `json:"recovery_mode"`
	DebtOffset        string    `json:"debt_offset"`
	CollateralToPool  string    `json:"collateral_to_pool"`
	DebtRedistributed string    `json:"debt_redistributed"`
	CollRedistributed string    `json:"coll_redistributed"`
	GasCompStable     string    `json:"gas_comp_stable"`
	GasCompCollateral string    `json:"gas_comp_collateral"`
	Surplus           string    `json:"surplus"`
	Timestamp         int64     `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
