package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
	"github.com/stampcard/loyalty-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

// Poster is the single balance-mutation primitive. Every path that changes a
// balance goes through PostTx inside its own settlement transaction.
type Poster interface {
	PostTx(ctx context.Context, tx *sqlx.Tx, e Entry) (*Posting, error)
}

type Repository interface {
	Poster
	Post(ctx context.Context, e Entry) (*Posting, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, p Pagination) ([]Transaction, int, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error)
}

// LedgerRepository provides point postings and ledger reads.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// PostTx applies e.Delta to the account with one conditional UPDATE and
// appends the ledger row. It does NOT commit or roll back.
func (r *LedgerRepository) PostTx(ctx context.Context, tx *sqlx.Tx, e Entry) (*Posting, error) {
	if e.Delta == 0 {
		return nil, ErrZeroDelta
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	var accrued int64
	if e.Type == TypeAccrual && e.Delta > 0 {
		accrued = e.Delta
	}

	var balance int64
	err := tx.QueryRowxContext(ctx, `
		UPDATE loyalty_accounts
		SET points_balance = points_balance + $3,
		    lifetime_points = lifetime_points + $4::bigint,
		    last_accrual_at = CASE WHEN $4::bigint > 0 THEN $5::timestamptz ELSE last_accrual_at END,
		    version = version + 1,
		    updated_at = $5::timestamptz
		WHERE id = $1
		  AND business_id = $2
		  AND deleted_at IS NULL
		  AND status = 'active'
		  AND points_balance + $3 >= 0
		RETURNING points_balance
	`, e.AccountID, e.BusinessID, e.Delta, accrued, e.At).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifyTx(ctx, tx, e)
		}
		if database.IsCheckViolation(err) {
			return nil, loyalty.ErrInsufficientPoints
		}
		return nil, fmt.Errorf("%w: update account balance", apperr.ErrInternal)
	}

	t := &Transaction{
		ID:          uuid.New(),
		AccountID:   e.AccountID,
		BusinessID:  e.BusinessID,
		Type:        e.Type,
		PointsDelta: e.Delta,
		Reference:   e.Reference,
		Note:        e.Note,
		CreatedAt:   e.At,
	}
	if e.PerformedBy != uuid.Nil {
		by := e.PerformedBy
		t.PerformedByUserID = &by
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO loyalty_points_transactions
			(id, loyalty_account_id, business_id, type, points_delta, performed_by_user_id, reference, note, created_at)
		VALUES
			(:id, :loyalty_account_id, :business_id, :type, :points_delta, :performed_by_user_id, :reference, :note, :created_at)
	`, t)
	if err != nil {
		return nil, fmt.Errorf("%w: insert ledger row", apperr.ErrInternal)
	}

	return &Posting{Transaction: t, Balance: balance}, nil
}

// classifyTx explains why the conditional UPDATE matched no row.
func (r *LedgerRepository) classifyTx(ctx context.Context, tx *sqlx.Tx, e Entry) error {
	var row struct {
		BusinessID uuid.UUID      `db:"business_id"`
		Status     loyalty.Status `db:"status"`
	}
	err := tx.GetContext(ctx, &row, `
		SELECT business_id, status FROM loyalty_accounts WHERE id = $1 AND deleted_at IS NULL
	`, e.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return loyalty.ErrAccountNotFound
		}
		return fmt.Errorf("%w: classify posting", apperr.ErrInternal)
	}
	switch {
	case row.BusinessID != e.BusinessID:
		return loyalty.ErrAccountNotFound
	case row.Status != loyalty.StatusActive:
		return loyalty.ErrAccountInactive
	default:
		return loyalty.ErrInsufficientPoints
	}
}

// Post runs PostTx in its own transaction.
func (r *LedgerRepository) Post(ctx context.Context, e Entry) (*Posting, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var posting *Posting
	err := database.InTx(ctx2, r.db, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		p, err := r.PostTx(ctx2, tx, e)
		if err != nil {
			return err
		}
		posting = p
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err, "post entry")
	}
	return posting, nil
}

func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, p Pagination) ([]Transaction, int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := p.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int
	if err := r.db.GetContext(ctx2, &total, `
		SELECT COUNT(*) FROM loyalty_points_transactions WHERE loyalty_account_id = $1
	`, accountID); err != nil {
		return nil, 0, fmt.Errorf("%w: count transactions", apperr.ErrInternal)
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, loyalty_account_id, business_id, type, points_delta, performed_by_user_id, reference, note, created_at
		FROM loyalty_points_transactions
		WHERE loyalty_account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, accountID, limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list transactions", apperr.ErrInternal)
	}

	return transactions, total, nil
}

func (r *LedgerRepository) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec Reconciliation
	err := r.db.GetContext(ctx2, &rec, `
		SELECT a.id,
		       a.points_balance,
		       COALESCE(SUM(t.points_delta), 0) AS ledger_sum,
		       COUNT(t.id) AS entries
		FROM loyalty_accounts a
		LEFT JOIN loyalty_points_transactions t ON t.loyalty_account_id = a.id
		WHERE a.id = $1 AND a.deleted_at IS NULL
		GROUP BY a.id, a.points_balance
	`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loyalty.ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: reconcile account", apperr.ErrInternal)
	}
	rec.Consistent = rec.Balance == rec.LedgerSum
	return &rec, nil
}
