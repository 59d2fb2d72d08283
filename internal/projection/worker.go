package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
)

// ProjectionWorker updates projection tables from processed events. The
// projection channel is non-blocking with drop on the core side: if this
// worker falls behind, projections are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
	lastSeq   int64
	recent    *LiquidationHistory
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		logger:    logger,
		recent:    NewLiquidationHistory(1024),
	}
}

// Run starts the projection worker loop. The persisted watermark bounds
// replay: balance updates are additive deltas, so outputs at or below the
// watermark must not be applied twice. After a rebuild the watermark row is
// gone and replayed outputs flow through, repopulating the tables.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if err := pw.loadWatermark(ctx); err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Envelope.Sequence <= pw.lastSeq {
				continue
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and rebuildable,
				// so a failed update is logged and skipped.
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

// LastSequence returns the watermark of the last projected output.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// RecentLiquidations returns up to limit recently executed liquidations
// from the in-memory ring, newest first.
func (pw *ProjectionWorker) RecentLiquidations(limit int) []LiquidationHistoryEntry {
	return pw.recent.Recent(limit)
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) error {
	var seq int64
	err := pw.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		pw.lastSeq = 0
		return nil
	}
	if err != nil {
		return err
	}
	pw.lastSeq = seq
	return nil
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := pw.updateBalanceProjection(ctx, tx, j.DebitAccount.AccountPath(),
				j.CreditAccount.AccountPath(), uint16(j.AssetID), j.Amount.String(), output.Envelope.Sequence); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if output.Trove != nil {
		if err := pw.upsertTroveProjection(ctx, tx, output.Trove, output.Envelope.Sequence); err != nil {
			return fmt.Errorf("trove projection: %w", err)
		}
	}

	switch e := output.Event.(type) {
	case *event.TroveClose:
		if err := pw.closeTroveProjection(ctx, tx, e.OwnerID.String(), e.CollateralAsset,
			"closed", output.Envelope.Sequence); err != nil {
			return fmt.Errorf("trove projection: %w", err)
		}
	case *event.LiquidationExecuted:
		if err := pw.closeTroveProjection(ctx, tx, e.OwnerID.String(), e.CollateralAsset,
			"liquidated", output.Envelope.Sequence); err != nil {
			return fmt.Errorf("trove projection: %w", err)
		}
		if err := pw.insertLiquidationHistory(ctx, tx, e); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
		pw.recent.Add(LiquidationHistoryEntry{
			Sequence:          e.Sequence,
			RequestID:         e.RequestID,
			OwnerID:           e.OwnerID,
			CallerID:          e.CallerID,
			Asset:             e.CollateralAsset,
			RecoveryMode:      e.RecoveryMode,
			DebtOffset:        e.DebtOffset,
			CollateralToPool:  e.CollateralToPool,
			DebtRedistributed: e.DebtRedistributed,
			CollRedistributed: e.CollRedistributed,
			GasCompStable:     e.GasCompStable,
			GasCompCollateral: e.GasCompCollateral,
			Surplus:           e.Surplus,
			Timestamp:         e.Timestamp,
		})
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(
	ctx context.Context, tx *sql.Tx,
	debitAccount, creditAccount string, assetID uint16, amount string, sequence int64,
) error {
	// Debit account: balance increases (debit-normal convention)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, debitAccount, assetID, amount, sequence); err != nil {
		return err
	}

	// Credit account: balance decreases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, creditAccount, assetID, amount, sequence); err != nil {
		return err
	}

	return nil
}

// upsertTroveProjection records the folded post-state the core attached to
// the output. Rows for troves the event did not touch keep their last folded
// values; pending redistribution gains surface when the trove is next touched,
// matching the core's lazy folding.
func (pw *ProjectionWorker) upsertTroveProjection(
	ctx context.Context, tx *sql.Tx, tv *core.TroveView, sequence int64,
) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.troves (owner_id, asset, collateral, debt, stake, status, last_sequence)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, 'active', $6)
		ON CONFLICT (owner_id, asset)
		DO UPDATE SET collateral = $3::numeric, debt = $4::numeric, stake = $5::numeric,
		              status = 'active', last_sequence = $6
	`, tv.Owner, tv.Asset, tv.Collateral.String(), tv.Debt.String(), tv.Stake.String(), sequence)
	return err
}

func (pw *ProjectionWorker) closeTroveProjection(
	ctx context.Context, tx *sql.Tx, ownerID, asset, status string, sequence int64,
) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.troves
		SET collateral = 0, debt = 0, stake = 0, status = $3, last_sequence = $4
		WHERE owner_id = $1 AND asset = $2
	`, ownerID, asset, status, sequence)
	return err
}

func (pw *ProjectionWorker) insertLiquidationHistory(ctx context.Context, tx *sql.Tx, exec *event.LiquidationExecuted) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, request_id, owner_id, caller_id, asset, recovery_mode,
			 debt_offset, collateral_to_pool, debt_redistributed, coll_redistributed,
			 gas_comp_stable, gas_comp_collateral, surplus, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
		        $11::numeric, $12::numeric, $13::numeric, $14)
		ON CONFLICT (sequence) DO NOTHING
	`, exec.Sequence, exec.RequestID, exec.OwnerID, exec.CallerID, exec.CollateralAsset,
		exec.RecoveryMode,
		exec.DebtOffset.String(), exec.CollateralToPool.String(),
		exec.DebtRedistributed.String(), exec.CollRedistributed.String(),
		exec.GasCompStable.String(), exec.GasCompCollateral.String(),
		exec.Surplus.String(), exec.Timestamp)
	return err
}

// RebuildProjections rebuilds all projection tables from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	// Trove rows cannot be rebuilt from journals alone (debt folding leaves
	// no journal); they repopulate as the core replays the event log.
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.troves`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit-normal balances: sum debits minus credits per account
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
