package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"TroveLedger/internal/ledger"
)

// QueryService provides read-only access to projection tables. All responses
// include as_of_sequence so callers can reason about freshness against the
// core's published sequence.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a user's ledger balances around one collateral asset:
// stablecoin and governance holdings plus free and surplus collateral.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	stable, err := qs.getProjectedBalance(ctx,
		fmt.Sprintf("user:%s:stable:%s", userID, ledger.StableAsset))
	if err != nil {
		return nil, err
	}
	collateral, err := qs.getProjectedBalance(ctx,
		fmt.Sprintf("user:%s:collateral:%s", userID, asset))
	if err != nil {
		return nil, err
	}
	governance, err := qs.getProjectedBalance(ctx,
		fmt.Sprintf("user:%s:governance:%s", userID, ledger.GovernanceAsset))
	if err != nil {
		return nil, err
	}
	surplus, err := qs.getProjectedBalance(ctx,
		fmt.Sprintf("user:%s:surplus:%s", userID, asset))
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:       userID,
		Asset:        asset,
		Stable:       stable,
		Collateral:   collateral,
		Governance:   governance,
		Surplus:      surplus,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetTrove returns one trove's last folded state.
func (qs *QueryService) GetTrove(
	ctx context.Context,
	ownerID uuid.UUID,
	asset string,
) (*TroveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	t := &TroveResponse{OwnerID: ownerID, Asset: asset, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT collateral::text, debt::text, stake::text, status
		FROM projections.troves
		WHERE owner_id = $1 AND asset = $2
	`, ownerID, asset).Scan(&t.Collateral, &t.Debt, &t.Stake, &t.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTroves returns active troves for one asset, riskiest first. Ordering
// uses the price-independent nominal ratio collateral/debt, the same key the
// core's ordered index sorts by.
func (qs *QueryService) ListTroves(
	ctx context.Context,
	asset string,
	limit int,
) ([]TroveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT owner_id, collateral::text, debt::text, stake::text, status
		FROM projections.troves
		WHERE asset = $1 AND status = 'active'
		ORDER BY collateral / NULLIF(debt, 0) ASC
		LIMIT $2
	`, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var troves []TroveResponse
	for rows.Next() {
		t := TroveResponse{Asset: asset, AsOfSequence: asOfSeq}
		if err := rows.Scan(&t.OwnerID, &t.Collateral, &t.Debt, &t.Stake, &t.Status); err != nil {
			return nil, err
		}
		troves = append(troves, t)
	}

	return troves, rows.Err()
}

// GetPoolStats aggregates the system accounts behind the stability pool and
// the collateral pools.
func (qs *QueryService) GetPoolStats(ctx context.Context) (*PoolStatsResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	stats := &PoolStatsResponse{
		CollateralGains:   make(map[string]string),
		ActiveCollateral:  make(map[string]string),
		DefaultCollateral: make(map[string]string),
		AsOfSequence:      asOfSeq,
	}

	stats.StableDeposits, err = qs.getProjectedBalance(ctx,
		fmt.Sprintf("system:stability_pool:%s", ledger.StableAsset))
	if err != nil {
		return nil, err
	}
	stats.GasEscrow, err = qs.getProjectedBalance(ctx,
		fmt.Sprintf("system:gas_escrow:%s", ledger.StableAsset))
	if err != nil {
		return nil, err
	}

	for _, asset := range ledger.CollateralAssets() {
		stats.CollateralGains[asset], err = qs.getProjectedBalance(ctx,
			fmt.Sprintf("system:pool_collateral:%s", asset))
		if err != nil {
			return nil, err
		}
		stats.ActiveCollateral[asset], err = qs.getProjectedBalance(ctx,
			fmt.Sprintf("system:active_pool:%s", asset))
		if err != nil {
			return nil, err
		}
		stats.DefaultCollateral[asset], err = qs.getProjectedBalance(ctx,
			fmt.Sprintf("system:default_pool:%s", asset))
		if err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// GetLiquidationHistory returns completed liquidations with cursor-based
// pagination, newest first.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	ownerID *uuid.UUID,
	asset *string,
	limit int,
	afterSequence *int64,
) ([]LiquidationHistoryResponse, error) {
	q := `
		SELECT sequence, request_id, owner_id, caller_id, asset, recovery_mode,
		       debt_offset::text, collateral_to_pool::text, debt_redistributed::text,
		       coll_redistributed::text, gas_comp_stable::text, gas_comp_collateral::text,
		       surplus::text, timestamp
		FROM projections.liquidation_history
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if ownerID != nil {
		q += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, *ownerID)
		argIdx++
	}
	if asset != nil {
		q += fmt.Sprintf(" AND asset = $%d", argIdx)
		args = append(args, *asset)
		argIdx++
	}
	if afterSequence != nil {
		q += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	q += " ORDER BY sequence DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []LiquidationHistoryResponse
	for rows.Next() {
		var h LiquidationHistoryResponse
		if err := rows.Scan(
			&h.Sequence, &h.RequestID, &h.OwnerID, &h.CallerID, &h.Asset,
			&h.RecoveryMode, &h.DebtOffset, &h.CollateralToPool,
			&h.DebtRedistributed, &h.CollRedistributed, &h.GasCompStable,
			&h.GasCompCollateral, &h.Surplus, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts with
// cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	q := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		q += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	q += " ORDER BY sequence DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and the
// zero-sum invariant over projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total string
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return balance, nil
}
