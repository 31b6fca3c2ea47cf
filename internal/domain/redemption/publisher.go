package redemption

import (
	"context"

	"github.com/google/uuid"
)

const EventRedemptionUpdated = "redemption:updated"

// Update tells the consumer a deferred redemption was settled.
type Update struct {
	RedemptionID uuid.UUID `json:"redemption_id"`
	BusinessID   uuid.UUID `json:"business_id"`
	Status       Status    `json:"status"`
	NewBalance   *int64    `json:"new_balance,omitempty"`
}

type EventPublisher interface {
	PublishRedemption(ctx context.Context, userID uuid.UUID, update Update) error
}

type userSender interface {
	SendToUserJSON(userID uuid.UUID, payload any) error
}

// WSPublisher publishes redemption updates over the realtime hub.
type WSPublisher struct {
	sender userSender
}

func NewWSPublisher(sender userSender) *WSPublisher {
	return &WSPublisher{sender: sender}
}

func (p *WSPublisher) PublishRedemption(ctx context.Context, userID uuid.UUID, update Update) error {
	if p == nil || p.sender == nil {
		return nil
	}
	return p.sender.SendToUserJSON(userID, map[string]interface{}{
		"type": EventRedemptionUpdated,
		"data": update,
	})
}
