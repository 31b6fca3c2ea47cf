package scan

import (
	"context"

	"github.com/google/uuid"
)

const EventSessionUpdated = "scan:session"

// SessionUpdate is pushed to the consumer's phone on every terminal transition.
type SessionUpdate struct {
	BusinessID uuid.UUID `json:"business_id"`
	Mode       Mode      `json:"mode"`
	Status     Status    `json:"status"`
	Outcome    Outcome   `json:"outcome"`
	NewBalance *int64    `json:"new_balance,omitempty"`
}

// EventPublisher delivers session updates to a consumer.
type EventPublisher interface {
	PublishSession(ctx context.Context, userID uuid.UUID, update SessionUpdate) error
}

type userSender interface {
	SendToUserJSON(userID uuid.UUID, payload any) error
}

// WSPublisher publishes session updates over the realtime hub.
type WSPublisher struct {
	sender userSender
}

func NewWSPublisher(sender userSender) *WSPublisher {
	return &WSPublisher{sender: sender}
}

func (p *WSPublisher) PublishSession(ctx context.Context, userID uuid.UUID, update SessionUpdate) error {
	if p == nil || p.sender == nil {
		return nil
	}

	payload := map[string]interface{}{
		"type": EventSessionUpdated,
		"data": update,
	}
	return p.sender.SendToUserJSON(userID, payload)
}
