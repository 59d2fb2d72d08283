package event

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// TroveOpen creates a new trove: collateral is locked, debt is minted.
// PrevHint/NextHint are the caller's guesses at the ordered-index neighbors;
// stale hints trigger a bounded fallback search in the index.
type TroveOpen struct {
	RequestID       uuid.UUID
	OwnerID         uuid.UUID
	CollateralAsset string
	Collateral      *big.Int
	Debt            *big.Int
	PrevHint        *uuid.UUID
	NextHint        *uuid.UUID
	Sequence        int64
	Timestamp       time.Time
}

func (e *TroveOpen) IdempotencyKey() string { return e.RequestID.String() }
func (e *TroveOpen) EventType() EventType   { return EventTypeTroveOpen }
func (e *TroveOpen) Asset() *string         { return &e.CollateralAsset }
func (e *TroveOpen) SourceSequence() int64  { return e.Sequence }

// TroveAdjust changes an existing trove's collateral and/or debt.
// Deltas are non-negative magnitudes; the direction flags say which way.
type TroveAdjust struct {
	RequestID       uuid.UUID
	OwnerID         uuid.UUID
	CollateralAsset string
	CollChange      *big.Int
	CollIncrease    bool
	DebtChange      *big.Int
	DebtIncrease    bool
	PrevHint        *uuid.UUID
	NextHint        *uuid.UUID
	Sequence        int64
	Timestamp       time.Time
}

func (e *TroveAdjust) IdempotencyKey() string { return e.RequestID.String() }
func (e *TroveAdjust) EventType() EventType   { return EventTypeTroveAdjust }
func (e *TroveAdjust) Asset() *string         { return &e.CollateralAsset }
func (e *TroveAdjust) SourceSequence() int64  { return e.Sequence }

// TroveClose repays all debt and withdraws all collateral.
type TroveClose struct {
	RequestID       uuid.UUID
	OwnerID         uuid.UUID
	CollateralAsset string
	Sequence        int64
	Timestamp       time.Time
}

func (e *TroveClose) IdempotencyKey() string { return e.RequestID.String() }
func (e *TroveClose) EventType() EventType   { return EventTypeTroveClose }
func (e *TroveClose) Asset() *string         { return &e.CollateralAsset }
func (e *TroveClose) SourceSequence() int64  { return e.Sequence }

// SurplusClaim withdraws collateral left over for an owner after a capped
// Recovery Mode liquidation.
type SurplusClaim struct {
	RequestID       uuid.UUID
	OwnerID         uuid.UUID
	CollateralAsset string
	Sequence        int64
	Timestamp       time.Time
}

func (e *SurplusClaim) IdempotencyKey() string {
	return fmt.Sprintf("surplus:%s", e.RequestID)
}
func (e *SurplusClaim) EventType() EventType  { return EventTypeSurplusClaim }
func (e *SurplusClaim) Asset() *string        { return &e.CollateralAsset }
func (e *SurplusClaim) SourceSequence() int64 { return e.Sequence }
