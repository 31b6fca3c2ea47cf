package scan

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the operation a session was prepared for.
type Mode string

const (
	ModeAccrual    Mode = "accrual"
	ModeRedemption Mode = "redemption"
)

func (m Mode) Valid() bool {
	return m == ModeAccrual || m == ModeRedemption
}

// Status of a scan session. Pending is the only non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s != StatusPending
}

// Outcome explains why a session reached its terminal state.
type Outcome string

const (
	OutcomeNone                 Outcome = ""
	OutcomeCompleted            Outcome = "Completed"
	OutcomeTokenAlreadyConsumed Outcome = "TokenAlreadyConsumed"
	OutcomeExpired              Outcome = "Expired"
	OutcomeAccountNotFound      Outcome = "AccountNotFound"
	OutcomeAccountNotActive     Outcome = "AccountNotActive"
	OutcomeInsufficientPoints   Outcome = "InsufficientPoints"
	OutcomeNoSelections         Outcome = "NoSelections"
	OutcomeSuperseded           Outcome = "Superseded"
	OutcomeInternalError        Outcome = "InternalError"
)

// Valid reports whether o is one of the declared outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeNone, OutcomeCompleted, OutcomeTokenAlreadyConsumed, OutcomeExpired,
		OutcomeAccountNotFound, OutcomeAccountNotActive, OutcomeInsufficientPoints,
		OutcomeNoSelections, OutcomeSuperseded, OutcomeInternalError:
		return true
	}
	return false
}

// Token is a single-use opaque credential. Only its keyed digest is stored.
type Token struct {
	ID                   uuid.UUID  `db:"id"`
	Digest               string     `db:"token_digest"`
	UserID               uuid.UUID  `db:"user_id"`
	AccountID            uuid.UUID  `db:"loyalty_account_id"`
	Purpose              Mode       `db:"purpose"`
	DeviceID             string     `db:"device_id"`
	IssuedAt             time.Time  `db:"issued_at"`
	ExpiresAt            time.Time  `db:"expires_at"`
	ConsumedAt           *time.Time `db:"consumed_at"`
	ConsumedByBusinessID *uuid.UUID `db:"consumed_by_business_id"`
	ConsumedAtLocationID *uuid.UUID `db:"consumed_at_location_id"`
}

func (t *Token) Consumed() bool {
	return t.ConsumedAt != nil
}

// ExpiredAt reports whether the token is unusable at now.
func (t *Token) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Session is the business-side wrapper around a token.
type Session struct {
	ID                     uuid.UUID  `db:"id"`
	TokenID                uuid.UUID  `db:"qr_code_token_id"`
	AccountID              uuid.UUID  `db:"loyalty_account_id"`
	BusinessID             uuid.UUID  `db:"business_id"`
	LocationID             *uuid.UUID `db:"business_location_id"`
	Mode                   Mode       `db:"mode"`
	Status                 Status     `db:"status"`
	Snapshot               *Snapshot  `db:"selected_rewards_snapshot"`
	ExpiresAt              time.Time  `db:"expires_at"`
	Outcome                Outcome    `db:"outcome"`
	ResultingTransactionID *uuid.UUID `db:"resulting_transaction_id"`
	PerformedByUserID      *uuid.UUID `db:"performed_by_user_id"`
	CreatedAt              time.Time  `db:"created_at"`
	CompletedAt            *time.Time `db:"completed_at"`
}

// Attempt is an audit row for a confirmation that did not own the session's
// terminal transition, such as the loser of a consumption race.
type Attempt struct {
	ID                uuid.UUID  `db:"id"`
	SessionID         uuid.UUID  `db:"scan_session_id"`
	BusinessID        uuid.UUID  `db:"business_id"`
	PerformedByUserID *uuid.UUID `db:"performed_by_user_id"`
	Outcome           Outcome    `db:"outcome"`
	CreatedAt         time.Time  `db:"created_at"`
}

// Consumption is a compare-and-set claim on a token.
type Consumption struct {
	TokenID    uuid.UUID
	BusinessID uuid.UUID
	LocationID *uuid.UUID
	At         time.Time
}

// Finish moves a pending session to a terminal state.
type Finish struct {
	SessionID uuid.UUID
	Status    Status
	Outcome   Outcome
	StaffID   uuid.UUID
	At        time.Time
}

// AccrualSettlement credits points and completes the session atomically.
type AccrualSettlement struct {
	Session *Session
	Points  int64
	StaffID uuid.UUID
	Note    string
	At      time.Time
}

type AccrualResult struct {
	TransactionID uuid.UUID
	NewBalance    int64
}

// RedemptionSettlement debits the snapshot and completes the session atomically.
type RedemptionSettlement struct {
	Session *Session
	StaffID uuid.UUID
	At      time.Time
}

type RedemptionResult struct {
	TransactionID        *uuid.UUID
	NewBalance           int64
	RedemptionIDs        []uuid.UUID
	PendingRedemptionIDs []uuid.UUID
}
