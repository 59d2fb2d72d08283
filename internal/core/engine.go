package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/feed"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/state"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	assets            []string
	maxDust           *big.Int
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	positions         *state.PositionLedger
	rewardPool        *state.RewardPool
	index             *state.OrderedIndex
	liquidator        *state.LiquidationCoordinator
	riskParamsMgr     *state.RiskParamsManager
	priceFeed         *feed.PriceFeed
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput pairs an envelope with the journal batch it covers. Event is
// the applied payload; the persistence worker serializes it into the log.
// Trove, when set, is the post-state of the trove the event touched; the
// projection worker uses it instead of reconstructing reward folding from
// journal rows.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	Event      event.Event
	Trove      *TroveView
}

// TroveView is a copy of one trove's folded state after an event applied.
type TroveView struct {
	Owner      uuid.UUID
	Asset      string
	Collateral *big.Int
	Debt       *big.Int
	Stake      *big.Int
}

func NewDeterministicCore(
	startSequence int64,
	assets []string,
	priceMaxAge int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)
	positions := state.NewPositionLedger(assets)
	rewardPool := state.NewRewardPool(assets)
	index := state.NewOrderedIndex(state.DefaultMaxTraversal)
	riskParamsMgr := state.NewRiskParamsManager(assets)
	liquidator := state.NewLiquidationCoordinator(positions, rewardPool, index, riskParamsMgr)

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &DeterministicCore{
		sequence:          startSequence,
		assets:            assets,
		maxDust:           fpmath.FromUnits(1),
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		positions:         positions,
		rewardPool:        rewardPool,
		index:             index,
		liquidator:        liquidator,
		riskParamsMgr:     riskParamsMgr,
		priceFeed:         feed.NewPriceFeed(priceMaxAge),
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	// Special handling for price updates (gaps tolerated)
	if priceEvt, ok := evt.(*event.PriceUpdate); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(priceEvt.CollateralAsset, priceEvt.PriceSequence); err != nil {
			return err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			if c.metrics != nil {
				c.metrics.CoreEventsRejected.WithLabelValues(eventType, "sequence").Inc()
			}
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch - get batches and derived events
	c.journalGen.SetSequence(c.sequence)
	batches, derived, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "validation").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4-9: Process each batch
	outputs := make([]CoreOutput, 0, len(batches))

	for _, batch := range batches {
		// Skip validation and application for empty batches (state-only events
		// like PriceUpdate, RiskParamUpdate, GovernanceIssuance produce no
		// journals but still need an envelope in the event log).
		if len(batch.Journals) > 0 {
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
			}

			if err := c.balanceTracker.ApplyBatch(batch); err != nil {
				return fmt.Errorf("apply batch failed: %w", err)
			}

			if c.metrics != nil {
				c.metrics.CoreJournals.WithLabelValues(eventType).Add(float64(len(batch.Journals)))
			}
		}

		hashStart := time.Now()
		stateDigest := c.computeStateDigest(batch)
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
		if c.metrics != nil {
			c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
		}

		envelope := &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			Asset:          evt.Asset(),
			Timestamp:      c.getEventTimestamp(evt),
			SourceSequence: sourceSequence,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			StateDelta: stateDigest,
			Event:      evt,
		})
		c.sequence++
	}

	// Step 10: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Open and adjust leave the trove active; attach its folded post-state
	// for the projection worker.
	if len(outputs) > 0 {
		if tv := c.troveView(evt); tv != nil {
			outputs[len(outputs)-1].Trove = tv
		}
	}

	// Step 11: Emit outputs. Persist channel uses a BLOCKING send so no
	// event is lost; projection channel uses a NON-BLOCKING send with drop
	// (projections rebuild from the event log when they fall behind).
	for _, output := range outputs {
		c.sendOutput(output)
	}

	// Derived events are appended to the log after their parent's batches,
	// each with its own sequence and hash link.
	c.emitDerived(derived, c.getEventTimestamp(evt))

	// Step 12: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
		c.recordStateGauges(evt)
	}

	return nil
}

// troveView copies the folded state of the trove an open or adjust touched.
func (c *DeterministicCore) troveView(evt event.Event) *TroveView {
	var owner uuid.UUID
	var asset string
	switch e := evt.(type) {
	case *event.TroveOpen:
		owner, asset = e.OwnerID, e.CollateralAsset
	case *event.TroveAdjust:
		owner, asset = e.OwnerID, e.CollateralAsset
	default:
		return nil
	}

	t := c.positions.GetTrove(owner, asset)
	if t == nil || t.Status != state.TroveStatusActive {
		return nil
	}
	return &TroveView{
		Owner:      owner,
		Asset:      asset,
		Collateral: new(big.Int).Set(t.Collateral),
		Debt:       new(big.Int).Set(t.Debt),
		Stake:      new(big.Int).Set(t.Stake),
	}
}

// sendOutput pushes one output to both downstream channels.
func (c *DeterministicCore) sendOutput(output CoreOutput) {
	select {
	case c.persistChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- output
	}

	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}
}

// emitDerived allocates a sequence for each core-derived event and appends
// an envelope-only output to the log. Derived events carry no batch: their
// value movements are part of the parent event's journals.
func (c *DeterministicCore) emitDerived(events []event.Event, ts time.Time) {
	for _, ev := range events {
		seq := c.sequence
		c.sequence++

		switch e := ev.(type) {
		case *event.LiquidationExecuted:
			e.Sequence = seq
		case *event.EpochAdvanced:
			e.Sequence = seq
		case *event.ScaleAdvanced:
			e.Sequence = seq
		}

		stateDigest := c.computeStateDigest(nil)
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(seq, stateDigest)

		c.sendOutput(CoreOutput{
			Envelope: &event.EventEnvelope{
				Sequence:       seq,
				IdempotencyKey: ev.IdempotencyKey(),
				EventType:      ev.EventType(),
				Asset:          ev.Asset(),
				Timestamp:      ts,
				SourceSequence: ev.SourceSequence(),
				StateHash:      stateHash,
				PrevHash:       prevHash,
			},
			Event: ev,
		})
	}
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if asset := evt.Asset(); asset != nil {
		return fmt.Sprintf("asset:%s", *asset)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from an event. The
// core never calls time.Now(); all timestamps are inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.TroveOpen:
		return e.Timestamp
	case *event.TroveAdjust:
		return e.Timestamp
	case *event.TroveClose:
		return e.Timestamp
	case *event.SurplusClaim:
		return e.Timestamp
	case *event.PoolDeposit:
		return e.Timestamp
	case *event.PoolWithdraw:
		return e.Timestamp
	case *event.PoolClaim:
		return e.Timestamp
	case *event.GovernanceIssuance:
		return e.Timestamp
	case *event.LiquidationRequest:
		return e.Timestamp
	case *event.LiquidationSequenceRequest:
		return e.Timestamp
	case *event.PriceUpdate:
		return time.UnixMicro(e.PriceTimestamp)
	case *event.RiskParamUpdate:
		return time.UnixMicro(e.Timestamp)
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// account touched by the batch, sorted by path, with its post-apply balance.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendSignedBigInt(digest, balance)
	}

	return digest
}

// appendSignedBigInt encodes sign byte + length-prefixed magnitude.
func appendSignedBigInt(buf []byte, v *big.Int) []byte {
	if v.Sign() < 0 {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	b := v.Bytes()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}

// postCheckInvariants validates conservation after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	if err := c.checkEventInvariants(evt); err != nil {
		return err
	}

	// Periodic global zero-sum check across all accounts
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("global balance at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *DeterministicCore) checkEventInvariants(evt event.Event) error {
	switch e := evt.(type) {
	case *event.TroveOpen:
		return c.checkTroveInvariants(e.CollateralAsset, e.OwnerID)
	case *event.TroveAdjust:
		return c.checkTroveInvariants(e.CollateralAsset, e.OwnerID)
	case *event.TroveClose:
		return c.checkTroveInvariants(e.CollateralAsset, e.OwnerID)
	case *event.SurplusClaim:
		return c.checkTroveInvariants(e.CollateralAsset, e.OwnerID)

	case *event.LiquidationRequest:
		if err := c.checkTroveInvariants(e.CollateralAsset, uuid.Nil); err != nil {
			return err
		}
		return c.validator.ValidateStabilityPoolNonNegative()
	case *event.LiquidationSequenceRequest:
		if err := c.checkTroveInvariants(e.CollateralAsset, uuid.Nil); err != nil {
			return err
		}
		return c.validator.ValidateStabilityPoolNonNegative()

	case *event.PoolDeposit:
		if err := c.validator.ValidateUserStableNonNegative(e.DepositorID); err != nil {
			return err
		}
		return c.validator.ValidateStabilityPoolNonNegative()
	case *event.PoolWithdraw:
		return c.validator.ValidateStabilityPoolNonNegative()
	}

	return nil
}

// checkTroveInvariants verifies stablecoin supply backs total composite
// trove debt and the collateral pools cover the trove ledger's collateral
// total for the touched asset.
func (c *DeterministicCore) checkTroveInvariants(asset string, owner uuid.UUID) error {
	totalDebt := big.NewInt(0)
	for _, a := range c.assets {
		totalDebt.Add(totalDebt, c.positions.TotalDebt(a))
	}
	if err := c.validator.ValidateStableBacked(totalDebt, c.maxDust); err != nil {
		return err
	}

	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return fmt.Errorf("unknown asset: %s", asset)
	}
	if err := c.validator.ValidateCollateralBacked(assetID, c.positions.TotalCollateral(asset), c.maxDust); err != nil {
		return err
	}

	if owner != uuid.Nil {
		return c.validator.ValidateUserStableNonNegative(owner)
	}
	return nil
}

func (c *DeterministicCore) emptyBatch(eventRef string, ts int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: ts,
		Journals:  []ledger.Journal{},
	}
}

// resolvePrice returns the current price for an asset, judged for staleness
// against the requesting event's timestamp.
func (c *DeterministicCore) resolvePrice(asset string, ts int64) (*big.Int, error) {
	price, ok := c.priceFeed.GetPrice(asset, ts)
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrPriceUnavailable, asset)
	}
	return price, nil
}

func (c *DeterministicCore) handleTroveOpen(evt *event.TroveOpen) ([]*ledger.Batch, []event.Event, error) {
	params, ok := c.riskParamsMgr.GetRiskParams(evt.CollateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("no risk params for asset %s", evt.CollateralAsset)
	}
	assetID, ok := ledger.GetAssetID(evt.CollateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.CollateralAsset)
	}
	if evt.Collateral == nil || evt.Collateral.Sign() <= 0 || evt.Debt == nil || evt.Debt.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: collateral=%v debt=%v", state.ErrInvalidAmount, evt.Collateral, evt.Debt)
	}

	ts := evt.Timestamp.UnixMicro()
	price, err := c.resolvePrice(evt.CollateralAsset, ts)
	if err != nil {
		return nil, nil, err
	}

	// Composite debt: drawn stablecoin plus the escrowed flat gas comp.
	composite := new(big.Int).Add(evt.Debt, params.GasCompFlat)
	nominal := fpmath.ComputeNominalCR(evt.Collateral, composite)

	// Insert into the index first: a failed open rolls back with one Remove,
	// whereas unwinding a committed open would need full aggregate rollback.
	if err := c.index.Insert(evt.CollateralAsset, evt.OwnerID, nominal, evt.PrevHint, evt.NextHint); err != nil {
		if errors.Is(err, state.ErrHintTooFar) && c.metrics != nil {
			c.metrics.IndexHintTooFar.WithLabelValues(evt.CollateralAsset).Inc()
		}
		return nil, nil, err
	}
	if c.metrics != nil && evt.PrevHint == nil && evt.NextHint == nil {
		c.metrics.IndexHintFallback.WithLabelValues(evt.CollateralAsset).Inc()
	}

	if _, err := c.positions.Open(evt.OwnerID, evt.CollateralAsset, evt.Collateral, composite, price, params); err != nil {
		if rbErr := c.index.Remove(evt.CollateralAsset, evt.OwnerID); rbErr != nil {
			panic(fmt.Sprintf("FATAL: index rollback failed after rejected open: %v", rbErr))
		}
		return nil, nil, err
	}

	batch := c.journalGen.GenerateTroveOpen(evt.OwnerID, evt.IdempotencyKey(), assetID,
		evt.Collateral, evt.Debt, params.GasCompFlat, ts)

	if c.metrics != nil {
		c.metrics.TrovesOpened.WithLabelValues(evt.CollateralAsset).Inc()
	}
	return []*ledger.Batch{batch}, nil, nil
}

func (c *DeterministicCore) handleTroveAdjust(evt *event.TroveAdjust) ([]*ledger.Batch, []event.Event, error) {
	params, ok := c.riskParamsMgr.GetRiskParams(evt.CollateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("no risk params for asset %s", evt.CollateralAsset)
	}
	assetID, ok := ledger.GetAssetID(evt.CollateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.CollateralAsset)
	}
	if (evt.CollChange != nil && evt.CollChange.Sign() < 0) || (evt.DebtChange != nil && evt.DebtChange.Sign() < 0) {
		return nil, nil, fmt.Errorf("%w: deltas must be non-negative with explicit direction", state.ErrInvalidAmount)
	}

	t := c.positions.GetTrove(evt.OwnerID, evt.CollateralAsset)
	if t == nil {
		return nil, nil, fmt.Errorf("%w: owner=%s asset=%s", state.ErrPositionNotActive, evt.OwnerID, evt.CollateralAsset)
	}

	ts := evt.Timestamp.UnixMicro()
	price, err := c.resolvePrice(evt.CollateralAsset, ts)
	if err != nil {
		return nil, nil, err
	}

	// Predict the post-adjustment state (pending redistribution included)
	// without mutating anything. All validation and the index move happen
	// against the prediction; the position ledger commits last and must
	// agree with it.
	pendingColl, pendingDebt := c.positions.PendingRewards(t)
	newColl := new(big.Int).Add(t.Collateral, pendingColl)
	newDebt := new(big.Int).Add(t.Debt, pendingDebt)
	if evt.CollChange != nil {
		if evt.CollIncrease {
			newColl.Add(newColl, evt.CollChange)
		} else {
			newColl.Sub(newColl, evt.CollChange)
		}
	}
	if evt.DebtChange != nil {
		if evt.DebtIncrease {
			newDebt.Add(newDebt, evt.DebtChange)
		} else {
			newDebt.Sub(newDebt, evt.DebtChange)
		}
	}

	zeroChange := (evt.CollChange == nil || evt.CollChange.Sign() == 0) &&
		(evt.DebtChange == nil || evt.DebtChange.Sign() == 0)
	if zeroChange {
		return nil, nil, fmt.Errorf("%w: adjustment must change collateral or debt", state.ErrInvalidAmount)
	}
	if newColl.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: resulting collateral %v must be positive", state.ErrInvalidAmount, newColl)
	}
	if newDebt.Cmp(params.MinDebt) < 0 {
		return nil, nil, fmt.Errorf("%w: resulting debt %v below minimum %v", state.ErrDebtBelowMinimum, newDebt, params.MinDebt)
	}
	icr := fpmath.ComputeCR(newColl, price, newDebt)
	if icr.Cmp(params.MCR) < 0 {
		return nil, nil, fmt.Errorf("%w: icr %v below mcr %v", state.ErrInsufficientCollateralRatio, icr, params.MCR)
	}
	if evt.DebtChange != nil && evt.DebtChange.Sign() > 0 && !evt.DebtIncrease {
		if c.balanceTracker.GetUserStableBalance(evt.OwnerID).Cmp(evt.DebtChange) < 0 {
			return nil, nil, fmt.Errorf("%w: repayment exceeds stablecoin balance", state.ErrInvalidAmount)
		}
	}

	// Relocate in the index first; a stale hint fails closed here and the
	// trove is untouched.
	nominal := fpmath.ComputeNominalCR(newColl, newDebt)
	if err := c.index.Reinsert(evt.CollateralAsset, evt.OwnerID, nominal, evt.PrevHint, evt.NextHint); err != nil {
		if errors.Is(err, state.ErrHintTooFar) && c.metrics != nil {
			c.metrics.IndexHintTooFar.WithLabelValues(evt.CollateralAsset).Inc()
		}
		return nil, nil, err
	}

	// The prediction replicated every check Adjust performs, so a failure
	// here means the two disagree.
	if _, err := c.positions.Adjust(evt.OwnerID, evt.CollateralAsset,
		evt.CollChange, evt.CollIncrease, evt.DebtChange, evt.DebtIncrease, price, params); err != nil {
		panic(fmt.Sprintf("FATAL: adjust failed after index reinsert: %v", err))
	}

	seq := c.sequence
	batches := make([]*ledger.Batch, 0, 2)
	if pendingColl.Sign() > 0 {
		c.journalGen.SetSequence(seq)
		batches = append(batches, c.journalGen.GenerateRedistributionPull(evt.IdempotencyKey(), assetID, pendingColl, ts))
		seq++
	}
	c.journalGen.SetSequence(seq)
	batches = append(batches, c.journalGen.GenerateTroveAdjust(evt.OwnerID, evt.IdempotencyKey(), assetID,
		evt.CollChange, evt.CollIncrease, evt.DebtChange, evt.DebtIncrease, ts))

	return batches, nil, nil
}

func (c *DeterministicCore) handleTroveClose(evt *event.TroveClose) ([]*ledger.Batch, []event.Event, error) {
	assetID, ok := ledger.GetAssetID(evt.CollateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.CollateralAsset)
	}

	t := c.positions.GetTrove(evt.OwnerID, evt.CollateralAsset)
	if t == nil {
		return nil, nil, fmt.Errorf("%w: owner=%s asset=%s", state.ErrPositionNotActive, evt.OwnerID, evt.CollateralAsset)
	}

	ts := evt.Timestamp.UnixMicro()

	// The owner repays the drawn portion; the escrowed gas comp is burned
	// from the escrow account.
	pendingColl, pendingDebt := c.positions.PendingRewards(t)
	repay := new(big.Int).Add(t.Debt, pendingDebt)
	repay.Sub(repay, t.GasComp)
	if c.balanceTracker.GetUserStableBalance(evt.OwnerID).Cmp(repay) < 0 {
		return nil, nil, fmt.Errorf("%w: repayment %v exceeds stablecoin balance", state.ErrInvalidAmount, repay)
	}

	closed, err := c.positions.Close(evt.OwnerID, evt.CollateralAsset)
	if err != nil {
		return nil, nil, err
	}
	if err := c.index.Remove(evt.CollateralAsset, evt.OwnerID); err != nil && err != state.ErrNodeDoesNotExist {
		panic(fmt.Sprintf("FATAL: index remove failed for closed trove %s: %v", evt.OwnerID, err))
	}

	seq := c.sequence
	batches := make([]*ledger.Batch, 0, 2)
	if pendingColl.Sign() > 0 {
		c.journalGen.SetSequence(seq)
		batches = append(batches, c.journalGen.GenerateRedistributionPull(evt.IdempotencyKey(), assetID, pendingColl, ts))
		seq++
	}
	c.journalGen.SetSequence(seq)
	batches = append(batches, c.journalGen.GenerateTroveClose(evt.OwnerID, evt.IdempotencyKey(), assetID,
		closed.Collateral, repay, closed.GasComp, ts))

	if c.metrics != nil {
		c.metrics.TrovesClosed.WithLabelValues(evt.CollateralAsset, "owner").Inc()
	}
	return batches, nil, nil
}

func (c *DeterministicCore) handleSurplusClaim(evt *event.SurplusClaim) ([]*ledger.Batch, []event.Event, error) {
	assetID, ok := ledger.GetAssetID(evt.CollateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.CollateralAsset)
	}

	amount, err := c.positions.ClaimSurplus(evt.OwnerID, evt.CollateralAsset)
	if err != nil {
		return nil, nil, err
	}

	batch := c.journalGen.GenerateSurplusClaim(evt.OwnerID, evt.IdempotencyKey(), assetID,
		amount, evt.Timestamp.UnixMicro())
	return []*ledger.Batch{batch}, nil, nil
}

func (c *DeterministicCore) handlePoolDeposit(evt *event.PoolDeposit) ([]*ledger.Batch, []event.Event, error) {
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: deposit amount must be positive, got %v", state.ErrInvalidAmount, evt.Amount)
	}
	if c.balanceTracker.GetUserStableBalance(evt.DepositorID).Cmp(evt.Amount) < 0 {
		return nil, nil, fmt.Errorf("%w: deposit exceeds stablecoin balance", state.ErrInvalidAmount)
	}

	collGains, govGain, err := c.rewardPool.Deposit(evt.DepositorID, evt.Amount)
	if err != nil {
		return nil, nil, err
	}

	ts := evt.Timestamp.UnixMicro()
	seq := c.sequence
	batches := make([]*ledger.Batch, 0, 2)

	c.journalGen.SetSequence(seq)
	payout := c.journalGen.GenerateGainPayout(evt.DepositorID, evt.IdempotencyKey(), c.collGainsByID(collGains), govGain, ts)
	if len(payout.Journals) > 0 {
		batches = append(batches, payout)
		seq++
	}

	c.journalGen.SetSequence(seq)
	batches = append(batches, c.journalGen.GeneratePoolDeposit(evt.DepositorID, evt.IdempotencyKey(), evt.Amount, ts))

	if c.metrics != nil {
		c.metrics.PoolDeposits.Inc()
	}
	return batches, nil, nil
}

func (c *DeterministicCore) handlePoolWithdraw(evt *event.PoolWithdraw) ([]*ledger.Batch, []event.Event, error) {
	withdrawn, collGains, govGain, err := c.rewardPool.Withdraw(evt.DepositorID, evt.Amount)
	if err != nil {
		return nil, nil, err
	}

	ts := evt.Timestamp.UnixMicro()
	seq := c.sequence
	batches := make([]*ledger.Batch, 0, 2)

	c.journalGen.SetSequence(seq)
	payout := c.journalGen.GenerateGainPayout(evt.DepositorID, evt.IdempotencyKey(), c.collGainsByID(collGains), govGain, ts)
	if len(payout.Journals) > 0 {
		batches = append(batches, payout)
		seq++
	}

	// The compounded balance can be below the requested amount; the batch
	// moves only what was actually withdrawn. Zero is legal after a wipeout
	// and still produces an envelope via the (empty) batch.
	c.journalGen.SetSequence(seq)
	wb := c.journalGen.GeneratePoolWithdraw(evt.DepositorID, evt.IdempotencyKey(), withdrawn, ts)
	if len(wb.Journals) > 0 || len(batches) == 0 {
		batches = append(batches, wb)
	}

	if c.metrics != nil {
		c.metrics.PoolWithdrawals.Inc()
	}
	return batches, nil, nil
}

func (c *DeterministicCore) handlePoolClaim(evt *event.PoolClaim) ([]*ledger.Batch, []event.Event, error) {
	collGains, govGain, err := c.rewardPool.Claim(evt.DepositorID)
	if err != nil {
		return nil, nil, err
	}

	payout := c.journalGen.GenerateGainPayout(evt.DepositorID, evt.IdempotencyKey(),
		c.collGainsByID(collGains), govGain, evt.Timestamp.UnixMicro())
	return []*ledger.Batch{payout}, nil, nil
}

func (c *DeterministicCore) handleGovernanceIssuance(evt *event.GovernanceIssuance) ([]*ledger.Batch, []event.Event, error) {
	if err := c.rewardPool.TriggerGovernanceIssuance(evt.Amount); err != nil {
		return nil, nil, err
	}

	// The emission only moves the G accumulator; tokens hit the ledger when
	// a depositor's gain is paid out.
	return []*ledger.Batch{c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp.UnixMicro())}, nil, nil
}

func (c *DeterministicCore) handlePriceUpdate(evt *event.PriceUpdate) ([]*ledger.Batch, []event.Event, error) {
	c.priceFeed.Update(evt.CollateralAsset, evt.Price, evt.PriceSequence, evt.PriceTimestamp)

	if c.metrics != nil {
		if price, ok := c.priceFeed.GetPrice(evt.CollateralAsset, evt.PriceTimestamp); ok {
			v := 0.0
			if c.liquidator.InRecoveryMode(evt.CollateralAsset, price) {
				v = 1.0
			}
			c.metrics.RecoveryModeActive.WithLabelValues(evt.CollateralAsset).Set(v)
		}
	}

	return []*ledger.Batch{c.emptyBatch(evt.IdempotencyKey(), evt.PriceTimestamp)}, nil, nil
}

func (c *DeterministicCore) handleRiskParamUpdate(evt *event.RiskParamUpdate) ([]*ledger.Batch, []event.Event, error) {
	newParams := &state.RiskParams{
		Asset:          evt.CollateralAsset,
		MCR:            evt.MCR,
		CCR:            evt.CCR,
		MinDebt:        evt.MinDebt,
		GasCompFlat:    evt.GasCompFlat,
		GasCompDivisor: evt.GasCompDivisor,
		EffectiveSeq:   evt.EffectiveSeq,
	}

	if err := c.riskParamsMgr.UpdateRiskParams(newParams); err != nil {
		return nil, nil, fmt.Errorf("risk param update rejected: %w", err)
	}

	// Existing troves are not revalidated: a raised MCR makes them
	// liquidatable at the next price, not retroactively invalid.
	return []*ledger.Batch{c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp)}, nil, nil
}

func (c *DeterministicCore) handleLiquidationRequest(evt *event.LiquidationRequest) ([]*ledger.Batch, []event.Event, error) {
	if c.metrics != nil {
		c.metrics.LiquidationTriggered.WithLabelValues(evt.CollateralAsset).Inc()
	}

	ts := evt.Timestamp.UnixMicro()
	price, err := c.resolvePrice(evt.CollateralAsset, ts)
	if err != nil {
		if c.metrics != nil {
			c.metrics.LiquidationRefused.WithLabelValues(evt.CollateralAsset, "price").Inc()
		}
		return nil, nil, err
	}

	seq := c.sequence
	batches, derived, err := c.liquidateOne(evt.OwnerID, evt.CallerID, evt.RequestID, evt.CollateralAsset,
		evt.IdempotencyKey(), price, ts, &seq)
	if err != nil {
		if c.metrics != nil {
			c.metrics.LiquidationRefused.WithLabelValues(evt.CollateralAsset, refusalReason(err)).Inc()
		}
		return nil, nil, err
	}
	return batches, derived, nil
}

func (c *DeterministicCore) handleLiquidationSequence(evt *event.LiquidationSequenceRequest) ([]*ledger.Batch, []event.Event, error) {
	if evt.MaxTroves <= 0 {
		return nil, nil, fmt.Errorf("%w: max troves must be positive, got %d", state.ErrInvalidAmount, evt.MaxTroves)
	}
	if c.metrics != nil {
		c.metrics.LiquidationTriggered.WithLabelValues(evt.CollateralAsset).Inc()
	}

	ts := evt.Timestamp.UnixMicro()
	price, err := c.resolvePrice(evt.CollateralAsset, ts)
	if err != nil {
		return nil, nil, err
	}

	seq := c.sequence
	batches := make([]*ledger.Batch, 0, evt.MaxTroves)
	derived := make([]event.Event, 0, evt.MaxTroves)
	liquidated := 0

	// Walk the tail of the index: each liquidation removes the riskiest
	// trove, so Last always yields the next candidate. The walk ends at the
	// first trove that refuses.
	for liquidated < evt.MaxTroves {
		owner, ok := c.index.Last(evt.CollateralAsset)
		if !ok {
			break
		}
		b, d, err := c.liquidateOne(owner, evt.CallerID, evt.RequestID, evt.CollateralAsset,
			evt.IdempotencyKey(), price, ts, &seq)
		if err != nil {
			if liquidated == 0 {
				if c.metrics != nil {
					c.metrics.LiquidationRefused.WithLabelValues(evt.CollateralAsset, refusalReason(err)).Inc()
				}
				return nil, nil, err
			}
			break
		}
		batches = append(batches, b...)
		derived = append(derived, d...)
		liquidated++
	}

	return batches, derived, nil
}

// liquidateOne routes a single liquidation through the coordinator and
// translates its outcome into journal batches and derived events. seq
// tracks the sequence the next generated batch will carry.
func (c *DeterministicCore) liquidateOne(
	owner, caller, requestID uuid.UUID,
	asset, eventRef string,
	price *big.Int,
	ts int64,
	seq *int64,
) ([]*ledger.Batch, []event.Event, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", asset)
	}

	outcome, err := c.liquidator.Liquidate(owner, asset, price)
	if err != nil {
		return nil, nil, err
	}

	batches := make([]*ledger.Batch, 0, 2)
	if outcome.PendingCollFolded.Sign() > 0 {
		c.journalGen.SetSequence(*seq)
		batches = append(batches, c.journalGen.GenerateRedistributionPull(eventRef, assetID, outcome.PendingCollFolded, ts))
		*seq++
	}

	c.journalGen.SetSequence(*seq)
	batches = append(batches, c.journalGen.GenerateLiquidation(owner, caller, eventRef, assetID,
		outcome.DebtOffset, outcome.CollateralToPool,
		outcome.CollRedistributed,
		outcome.GasCompStable, outcome.GasCompCollateral,
		outcome.Surplus, ts))
	*seq++

	derived := make([]event.Event, 0, 3)
	derived = append(derived, &event.LiquidationExecuted{
		RequestID:         requestID,
		OwnerID:           owner,
		CallerID:          caller,
		CollateralAsset:   asset,
		RecoveryMode:      outcome.RecoveryMode,
		DebtOffset:        outcome.DebtOffset,
		CollateralToPool:  outcome.CollateralToPool,
		DebtRedistributed: outcome.DebtRedistributed,
		CollRedistributed: outcome.CollRedistributed,
		GasCompStable:     outcome.GasCompStable,
		GasCompCollateral: outcome.GasCompCollateral,
		Surplus:           outcome.Surplus,
		Timestamp:         ts,
	})
	if outcome.EpochAdvanced {
		derived = append(derived, &event.EpochAdvanced{
			CollateralAsset: asset,
			Epoch:           c.rewardPool.Epoch(),
			Timestamp:       ts,
		})
		if c.metrics != nil {
			c.metrics.PoolEpochAdvances.Inc()
		}
	}
	if outcome.ScaleAdvanced {
		derived = append(derived, &event.ScaleAdvanced{
			CollateralAsset: asset,
			Epoch:           c.rewardPool.Epoch(),
			Scale:           c.rewardPool.Scale(),
			Timestamp:       ts,
		})
		if c.metrics != nil {
			c.metrics.PoolScaleAdvances.Inc()
		}
	}

	if c.metrics != nil {
		mode := "normal"
		if params, ok := c.riskParamsMgr.GetRiskParams(asset); ok &&
			outcome.RecoveryMode && outcome.ICR.Cmp(params.MCR) >= 0 {
			mode = "capped"
		}
		c.metrics.LiquidationCompleted.WithLabelValues(asset, mode).Inc()
		c.metrics.TrovesClosed.WithLabelValues(asset, "liquidation").Inc()
		c.metrics.LiquidationOffsetDebt.WithLabelValues(asset).Add(unitsFloat(outcome.DebtOffset))
		c.metrics.RedistributedDebt.WithLabelValues(asset).Add(unitsFloat(outcome.DebtRedistributed))
	}

	return batches, derived, nil
}

func refusalReason(err error) string {
	switch {
	case errors.Is(err, state.ErrPositionNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, state.ErrPositionNotActive):
		return "not_active"
	case errors.Is(err, state.ErrPriceUnavailable):
		return "price"
	default:
		return "error"
	}
}

func (c *DeterministicCore) collGainsByID(gains map[string]*big.Int) map[ledger.AssetID]*big.Int {
	out := make(map[ledger.AssetID]*big.Int, len(gains))
	for asset, gain := range gains {
		if id, ok := ledger.GetAssetID(asset); ok {
			out[id] = gain
		}
	}
	return out
}

func unitsFloat(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18)).Float64()
	return f
}

func (c *DeterministicCore) recordStateGauges(evt event.Event) {
	if asset := evt.Asset(); asset != nil {
		c.metrics.TotalDebt.WithLabelValues(*asset).Set(unitsFloat(c.positions.TotalDebt(*asset)))
		c.metrics.TotalCollateral.WithLabelValues(*asset).Set(unitsFloat(c.positions.TotalCollateral(*asset)))
	}
	c.metrics.TroveCount.Set(float64(c.positions.TroveCount()))
	c.metrics.PoolTotalDeposits.Set(unitsFloat(c.rewardPool.TotalDeposits()))
	c.metrics.PoolDepositors.Set(float64(c.rewardPool.Depositors()))
	c.metrics.PoolProductP.Set(unitsFloat(c.rewardPool.P()))
	c.metrics.PoolEpoch.Set(float64(c.rewardPool.Epoch()))
	c.metrics.PoolScale.Set(float64(c.rewardPool.Scale()))
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) ([]*ledger.Batch, []event.Event, error) {
	switch e := evt.(type) {
	case *event.TroveOpen:
		return c.handleTroveOpen(e)
	case *event.TroveAdjust:
		return c.handleTroveAdjust(e)
	case *event.TroveClose:
		return c.handleTroveClose(e)
	case *event.SurplusClaim:
		return c.handleSurplusClaim(e)
	case *event.PoolDeposit:
		return c.handlePoolDeposit(e)
	case *event.PoolWithdraw:
		return c.handlePoolWithdraw(e)
	case *event.PoolClaim:
		return c.handlePoolClaim(e)
	case *event.GovernanceIssuance:
		return c.handleGovernanceIssuance(e)
	case *event.PriceUpdate:
		return c.handlePriceUpdate(e)
	case *event.RiskParamUpdate:
		return c.handleRiskParamUpdate(e)
	case *event.LiquidationRequest:
		return c.handleLiquidationRequest(e)
	case *event.LiquidationSequenceRequest:
		return c.handleLiquidationSequence(e)
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]*big.Int
	Positions       *state.LedgerSnapshot
	Pool            *state.PoolSnapshot
	Index           map[string][]*state.IndexEntry
	Prices          []*feed.PriceState
	RiskParams      []*state.RiskParams
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot replaces the core's in-memory state. On warm restart
// the caller loads the latest snapshot, restores, then replays the event
// log from Sequence+1.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // next sequence to assign

	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.positions.Restore(snap.Positions)
	c.rewardPool.Restore(snap.Pool)
	for asset, entries := range snap.Index {
		c.index.Restore(asset, entries)
	}
	c.priceFeed.Restore(snap.Prices)
	c.riskParamsMgr.RestoreParams(snap.RiskParams)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.journalGen.SetSequence(c.sequence)
}

// WarmLRU loads recent idempotency keys into the LRU cache so replayed
// duplicates are caught without cold-path DB lookups.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	index := make(map[string][]*state.IndexEntry, len(c.assets))
	for _, asset := range c.assets {
		index[asset] = c.index.Export(asset)
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1, // last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Positions:       c.positions.Export(),
		Pool:            c.rewardPool.Export(),
		Index:           index,
		Prices:          c.priceFeed.States(),
		RiskParams:      c.riskParamsMgr.ExportParams(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Read-side accessors. The core is single-threaded: callers outside its
// goroutine must only touch these through the projection/query layer.

func (c *DeterministicCore) Positions() *state.PositionLedger { return c.positions }

func (c *DeterministicCore) Pool() *state.RewardPool { return c.rewardPool }

func (c *DeterministicCore) Index() *state.OrderedIndex { return c.index }

func (c *DeterministicCore) PriceFeed() *feed.PriceFeed { return c.priceFeed }

func (c *DeterministicCore) RiskParams() *state.RiskParamsManager { return c.riskParamsMgr }

func (c *DeterministicCore) Balances() *ledger.BalanceTracker { return c.balanceTracker }
