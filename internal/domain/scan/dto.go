package scan

import (
	"time"

	"github.com/google/uuid"
)

// SelectionRequest is one reward line in a prepare request.
type SelectionRequest struct {
	TierID   uuid.UUID `json:"tier_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"omitempty,gte=1,lte=99"`
}

// PrepareRequest for POST /scan/sessions
type PrepareRequest struct {
	BusinessID    uuid.UUID          `json:"business_id" validate:"required"`
	Mode          string             `json:"mode" validate:"required,scan_mode"`
	Selections    []SelectionRequest `json:"selections,omitempty" validate:"omitempty,max=50,dive"`
	RewardTierIDs []uuid.UUID        `json:"reward_tier_ids,omitempty" validate:"omitempty,max=50"`
	DeviceID      string             `json:"device_id,omitempty" validate:"max=128"`
}

// selections merges both request shapes; bare tier ids mean quantity 1.
func (r *PrepareRequest) selections() []Selection {
	out := make([]Selection, 0, len(r.Selections)+len(r.RewardTierIDs))
	for _, s := range r.Selections {
		q := s.Quantity
		if q == 0 {
			q = 1
		}
		out = append(out, Selection{TierID: s.TierID, Quantity: q})
	}
	for _, id := range r.RewardTierIDs {
		out = append(out, Selection{TierID: id, Quantity: 1})
	}
	return out
}

// PrepareResponse never carries internal ids.
type PrepareResponse struct {
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	CurrentBalance int64     `json:"current_balance"`
}

// ResolveRequest for POST /business/scan/resolve
type ResolveRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

// PreviewResponse shows a business what a token will do.
type PreviewResponse struct {
	Mode           Mode           `json:"mode"`
	ExpiresAt      time.Time      `json:"expires_at"`
	Lines          []SnapshotLine `json:"lines,omitempty"`
	TotalPoints    int64          `json:"total_points"`
	CurrentBalance int64          `json:"current_balance"`
}

// AccrualRequest for POST /business/scan/accrual
type AccrualRequest struct {
	Token      string     `json:"token" validate:"required,max=128"`
	Points     int64      `json:"points" validate:"gte=1"`
	Note       string     `json:"note,omitempty" validate:"max=500"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
}

type AccrualResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	NewBalance    int64     `json:"new_balance"`
}

// RedemptionRequest for POST /business/scan/redemption
type RedemptionRequest struct {
	Token      string     `json:"token" validate:"required,max=128"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
}

type RedemptionResponse struct {
	TransactionID        *uuid.UUID  `json:"transaction_id,omitempty"`
	NewBalance           int64       `json:"new_balance"`
	RedemptionIDs        []uuid.UUID `json:"redemption_ids"`
	PendingRedemptionIDs []uuid.UUID `json:"pending_redemption_ids"`
}

// StatusResponse for GET /scan/sessions/status
type StatusResponse struct {
	BusinessID  uuid.UUID  `json:"business_id"`
	Mode        Mode       `json:"mode"`
	Status      Status     `json:"status"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
