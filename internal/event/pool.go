package event

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// PoolDeposit adds stablecoin to the stability pool. Pending collateral and
// governance gains are paid out and the depositor's snapshot is refreshed.
type PoolDeposit struct {
	RequestID   uuid.UUID
	DepositorID uuid.UUID
	Amount      *big.Int
	Sequence    int64
	Timestamp   time.Time
}

func (e *PoolDeposit) IdempotencyKey() string { return e.RequestID.String() }
func (e *PoolDeposit) EventType() EventType   { return EventTypePoolDeposit }
func (e *PoolDeposit) Asset() *string         { return nil }
func (e *PoolDeposit) SourceSequence() int64  { return e.Sequence }

// PoolWithdraw removes up to Amount of the depositor's compounded balance.
type PoolWithdraw struct {
	RequestID   uuid.UUID
	DepositorID uuid.UUID
	Amount      *big.Int
	Sequence    int64
	Timestamp   time.Time
}

func (e *PoolWithdraw) IdempotencyKey() string { return e.RequestID.String() }
func (e *PoolWithdraw) EventType() EventType   { return EventTypePoolWithdraw }
func (e *PoolWithdraw) Asset() *string         { return nil }
func (e *PoolWithdraw) SourceSequence() int64  { return e.Sequence }

// PoolClaim pays out pending gains without touching the deposit principal.
type PoolClaim struct {
	RequestID   uuid.UUID
	DepositorID uuid.UUID
	Sequence    int64
	Timestamp   time.Time
}

func (e *PoolClaim) IdempotencyKey() string {
	return fmt.Sprintf("claim:%s", e.RequestID)
}
func (e *PoolClaim) EventType() EventType  { return EventTypePoolClaim }
func (e *PoolClaim) Asset() *string        { return nil }
func (e *PoolClaim) SourceSequence() int64 { return e.Sequence }

// GovernanceIssuance folds a governance-token emission into the pool's
// cumulative G sum. The emission schedule lives upstream; the engine only
// accounts for the amount it is handed.
type GovernanceIssuance struct {
	IssuanceID uuid.UUID
	Amount     *big.Int
	Sequence   int64
	Timestamp  time.Time
}

func (e *GovernanceIssuance) IdempotencyKey() string { return e.IssuanceID.String() }
func (e *GovernanceIssuance) EventType() EventType   { return EventTypeGovernanceIssuance }
func (e *GovernanceIssuance) Asset() *string         { return nil }
func (e *GovernanceIssuance) SourceSequence() int64  { return e.Sequence }
