package redemption

import (
	"time"

	"github.com/google/uuid"
)

// Status of a reward redemption.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Redemption records a reward handed out (Confirmed) or awaiting staff
// approval (Pending) against a loyalty account.
type Redemption struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	AccountID         uuid.UUID  `db:"loyalty_account_id" json:"loyalty_account_id"`
	BusinessID        uuid.UUID  `db:"business_id" json:"business_id"`
	RewardTierID      uuid.UUID  `db:"reward_tier_id" json:"reward_tier_id"`
	SessionID         *uuid.UUID `db:"scan_session_id" json:"-"`
	Quantity          int        `db:"quantity" json:"quantity"`
	PointsSpent       int64      `db:"points_spent" json:"points_spent"`
	Status            Status     `db:"status" json:"status"`
	TransactionID     *uuid.UUID `db:"transaction_id" json:"transaction_id,omitempty"`
	Version           int64      `db:"version" json:"version"`
	ConfirmedByUserID *uuid.UUID `db:"confirmed_by_user_id" json:"confirmed_by_user_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	ConfirmedAt       *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// ConfirmInput is a staff approval of a pending redemption.
// RowVersion, when set, must match the stored version.
type ConfirmInput struct {
	RedemptionID uuid.UUID
	BusinessID   uuid.UUID
	StaffID      uuid.UUID
	RowVersion   *int64
}

// CancelInput is a staff rejection of a pending redemption.
type CancelInput struct {
	RedemptionID uuid.UUID
	BusinessID   uuid.UUID
	StaffID      uuid.UUID
	RowVersion   *int64
}

type ConfirmResult struct {
	Redemption *Redemption
	NewBalance int64
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}
