package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"TroveLedger/internal/core"
	"TroveLedger/internal/feed"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot carries balances, troves, pool accumulators, the ordered index,
// prices, risk params, sequence counters, recent idempotency keys, and the
// hash chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// BalanceRow is one ledger account balance in serializable form. AccountKey
// is a struct map key in memory, which JSON cannot express directly.
type BalanceRow struct {
	Scope   uint8     `json:"scope"`
	Entity  uuid.UUID `json:"entity"`
	SubType int32     `json:"sub_type"`
	AssetID uint16    `json:"asset_id"`
	Amount  *big.Int  `json:"amount"`
}

// SnapshotData is the full serializable in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                          `json:"sequence"`
	StateHash       []byte                         `json:"state_hash"`
	Balances        []BalanceRow                   `json:"balances"`
	Positions       *state.LedgerSnapshot          `json:"positions"`
	Pool            *state.PoolSnapshot            `json:"pool"`
	Index           map[string][]*state.IndexEntry `json:"index"`
	Prices          []*feed.PriceState             `json:"prices"`
	RiskParams      []*state.RiskParams            `json:"risk_params"`
	SequenceState   map[string]int64               `json:"sequence_state"`
	IdempotencyKeys []string                       `json:"idempotency_keys"`
	CreatedAt       time.Time                      `json:"created_at"`
}

// FromCoreState converts the core's snapshot into its serializable form.
func FromCoreState(snap *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make([]BalanceRow, 0, len(snap.Balances))
	for key, amount := range snap.Balances {
		balances = append(balances, BalanceRow{
			Scope:   uint8(key.Scope),
			Entity:  uuid.UUID(key.EntityID),
			SubType: int32(key.SubType),
			AssetID: uint16(key.AssetID),
			Amount:  amount,
		})
	}
	return &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		Balances:        balances,
		Positions:       snap.Positions,
		Pool:            snap.Pool,
		Index:           snap.Index,
		Prices:          snap.Prices,
		RiskParams:      snap.RiskParams,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// ToCoreState converts a loaded snapshot back into the core's form.
func (sd *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	if len(sd.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want 32", len(sd.StateHash))
	}
	var stateHash [32]byte
	copy(stateHash[:], sd.StateHash)

	balances := make(map[ledger.AccountKey]*big.Int, len(sd.Balances))
	for _, row := range sd.Balances {
		key := ledger.AccountKey{
			Scope:    ledger.AccountScope(row.Scope),
			EntityID: row.Entity,
			SubType:  ledger.AccountSubType(row.SubType),
			AssetID:  ledger.AssetID(row.AssetID),
		}
		balances[key] = row.Amount
	}

	return &core.SnapshotState{
		Sequence:        sd.Sequence,
		StateHash:       stateHash,
		Balances:        balances,
		Positions:       sd.Positions,
		Pool:            sd.Pool,
		Index:           sd.Index,
		Prices:          sd.Prices,
		RiskParams:      sd.RiskParams,
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and marked verified once a replay check passes.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. A nil result
// with nil error is a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used for
// warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
