package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Type of a ledger entry.
type Type string

const (
	TypeAccrual    Type = "accrual"
	TypeRedemption Type = "redemption"
	TypeAdjustment Type = "adjustment"
)

// Transaction is an append-only ledger row. Rows are never updated or deleted.
type Transaction struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	AccountID         uuid.UUID  `db:"loyalty_account_id" json:"loyalty_account_id"`
	BusinessID        uuid.UUID  `db:"business_id" json:"business_id"`
	Type              Type       `db:"type" json:"type"`
	PointsDelta       int64      `db:"points_delta" json:"points_delta"`
	PerformedByUserID *uuid.UUID `db:"performed_by_user_id" json:"performed_by_user_id,omitempty"`
	Reference         string     `db:"reference" json:"reference"`
	Note              string     `db:"note" json:"note,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Entry is a balance change to post.
type Entry struct {
	AccountID   uuid.UUID
	BusinessID  uuid.UUID
	Type        Type
	Delta       int64
	PerformedBy uuid.UUID
	Reference   string
	Note        string
	At          time.Time
}

// Posting is the result of a successful post.
type Posting struct {
	Transaction *Transaction
	Balance     int64
}

// Reconciliation compares the cached balance with the ledger sum.
type Reconciliation struct {
	AccountID  uuid.UUID `db:"id" json:"loyalty_account_id"`
	Balance    int64     `db:"points_balance" json:"points_balance"`
	LedgerSum  int64     `db:"ledger_sum" json:"ledger_sum"`
	Entries    int       `db:"entries" json:"entries"`
	Consistent bool      `db:"-" json:"consistent"`
}

// Adjustment is a manual staff correction.
type Adjustment struct {
	AccountID  uuid.UUID
	BusinessID uuid.UUID
	StaffID    uuid.UUID
	Delta      int64
	Note       string
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}
