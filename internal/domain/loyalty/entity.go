package loyalty

import (
	"time"

	"github.com/google/uuid"
)

// Status of a loyalty account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Account is a consumer's point balance at one business.
type Account struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	BusinessID     uuid.UUID  `db:"business_id" json:"business_id"`
	UserID         uuid.UUID  `db:"user_id" json:"-"`
	PointsBalance  int64      `db:"points_balance" json:"points_balance"`
	LifetimePoints int64      `db:"lifetime_points" json:"lifetime_points"`
	Status         Status     `db:"status" json:"status"`
	LastAccrualAt  *time.Time `db:"last_accrual_at" json:"last_accrual_at,omitempty"`
	Version        int64      `db:"version" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// RewardTier is a redeemable catalog entry.
type RewardTier struct {
	ID                  uuid.UUID `db:"id"`
	ProgramID           uuid.UUID `db:"program_id"`
	BusinessID          uuid.UUID `db:"business_id"`
	Name                string    `db:"name"`
	PointsRequired      int64     `db:"points_required"`
	RewardType          string    `db:"reward_type"`
	AllowSelfRedemption bool      `db:"allow_self_redemption"`
}
