package state

import (
	"math/big"

	"github.com/google/uuid"

	fpmath "TroveLedger/internal/math"
)

// TroveStatus tracks a trove's lifecycle. Non-Active states are terminal.
type TroveStatus int32

const (
	TroveStatusNonExistent TroveStatus = iota
	TroveStatusActive
	TroveStatusClosedByOwner
	TroveStatusClosedByLiquidation
	TroveStatusClosedByRedemption
)

func (ts TroveStatus) String() string {
	switch ts {
	case TroveStatusNonExistent:
		return "NonExistent"
	case TroveStatusActive:
		return "Active"
	case TroveStatusClosedByOwner:
		return "ClosedByOwner"
	case TroveStatusClosedByLiquidation:
		return "ClosedByLiquidation"
	case TroveStatusClosedByRedemption:
		return "ClosedByRedemption"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. Closed states accept nothing.
func (ts TroveStatus) CanTransitionTo(next TroveStatus) bool {
	switch ts {
	case TroveStatusNonExistent:
		return next == TroveStatusActive
	case TroveStatusActive:
		return next == TroveStatusClosedByOwner ||
			next == TroveStatusClosedByLiquidation ||
			next == TroveStatusClosedByRedemption
	default:
		return false
	}
}

// RewardSnapshot captures the global per-stake accumulators at the trove's
// last touch. Pending redistribution rewards are stake * (L - snapshot).
type RewardSnapshot struct {
	CollateralPerStake *big.Int
	DebtPerStake       *big.Int
}

// Trove is one owner's collateralized debt record for a single asset.
// Debt is composite: drawn stablecoin plus the escrowed flat gas compensation.
type Trove struct {
	Owner      uuid.UUID
	Asset      string
	Collateral *big.Int
	Debt       *big.Int
	Stake      *big.Int
	// GasComp is the flat stablecoin amount escrowed for this trove at open.
	// It is part of Debt and is burned (or paid to the liquidation caller)
	// at close, even if the flat parameter changes while the trove is open.
	GasComp *big.Int
	Status  TroveStatus
	Snapshot RewardSnapshot
	// ArrivalSeq orders troves with identical ratio keys (FIFO)
	ArrivalSeq int64
}

// ICR returns collateral * price / debt at 1e18 precision.
func (t *Trove) ICR(price *big.Int) *big.Int {
	return fpmath.ComputeCR(t.Collateral, price, t.Debt)
}

// NominalICR returns the price-independent ordering key.
func (t *Trove) NominalICR() *big.Int {
	return fpmath.ComputeNominalCR(t.Collateral, t.Debt)
}

// CanonicalBytes returns deterministic serialization for hashing
func (t *Trove) CanonicalBytes() []byte {
	buf := make([]byte, 0, 192)

	// owner (16 bytes UUID binary)
	buf = append(buf, t.Owner[:]...)

	// asset (length-prefixed)
	buf = append(buf, byte(len(t.Asset)))
	buf = append(buf, []byte(t.Asset)...)

	// status (1 byte)
	buf = append(buf, byte(t.Status))

	// amounts (length-prefixed big-endian magnitudes)
	buf = appendBigInt(buf, t.Collateral)
	buf = appendBigInt(buf, t.Debt)
	buf = appendBigInt(buf, t.Stake)
	buf = appendBigInt(buf, t.GasComp)
	buf = appendBigInt(buf, t.Snapshot.CollateralPerStake)
	buf = appendBigInt(buf, t.Snapshot.DebtPerStake)

	// arrival_seq (8 bytes LE)
	buf = appendInt64LE(buf, t.ArrivalSeq)

	return buf
}

func appendBigInt(buf []byte, v *big.Int) []byte {
	if v == nil {
		return append(buf, 0)
	}
	b := v.Bytes()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
