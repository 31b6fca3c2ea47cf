package scan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists tokens, sessions and their settlement.
type Repository interface {
	// CreatePrepared supersedes older pending sessions of the same account at
	// the same business, then stores the token and session in one commit.
	CreatePrepared(ctx context.Context, token *Token, session *Session) (superseded int64, err error)
	GetTokenByDigest(ctx context.Context, digest string) (*Token, error)
	GetSessionByTokenID(ctx context.Context, tokenID uuid.UUID) (*Session, error)
	// ConsumeToken is the compare-and-set on consumed_at. It reports whether
	// this caller won the token.
	ConsumeToken(ctx context.Context, c Consumption) (bool, error)
	// FinishSession moves a pending session to a terminal state. It reports
	// false when the session was no longer pending.
	FinishSession(ctx context.Context, f Finish) (bool, error)
	RecordAttempt(ctx context.Context, a *Attempt) error
	SettleAccrual(ctx context.Context, s AccrualSettlement) (*AccrualResult, error)
	SettleRedemption(ctx context.Context, s RedemptionSettlement) (*RedemptionResult, error)
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}
