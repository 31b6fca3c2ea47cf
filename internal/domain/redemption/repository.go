package redemption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stampcard/loyalty-api/internal/domain/ledger"
	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
	"github.com/stampcard/loyalty-api/internal/pkg/database"
)

const queryTimeout = 5 * time.Second

const columns = `id, loyalty_account_id, business_id, reward_tier_id, scan_session_id, quantity, points_spent,
	status, transaction_id, version, confirmed_by_user_id, created_at, confirmed_at, cancelled_at`

type Repository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, r *Redemption) error
	GetByID(ctx context.Context, id uuid.UUID) (*Redemption, error)
	ListByStatus(ctx context.Context, businessID uuid.UUID, status Status, p Pagination) ([]Redemption, error)
	Confirm(ctx context.Context, in ConfirmInput, at time.Time) (*ConfirmResult, error)
	Cancel(ctx context.Context, in CancelInput, at time.Time) (*Redemption, error)
}

// RedemptionRepository stores reward redemptions.
type RedemptionRepository struct {
	db     *sqlx.DB
	ledger ledger.Poster
}

func NewRepository(db *sqlx.DB, poster ledger.Poster) *RedemptionRepository {
	return &RedemptionRepository{db: db, ledger: poster}
}

// CreateTx inserts r inside the caller's transaction.
func (r *RedemptionRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, red *Redemption) error {
	if red.Version == 0 {
		red.Version = 1
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO loyalty_reward_redemptions
			(id, loyalty_account_id, business_id, reward_tier_id, scan_session_id, quantity, points_spent,
			 status, transaction_id, version, confirmed_by_user_id, created_at, confirmed_at)
		VALUES
			(:id, :loyalty_account_id, :business_id, :reward_tier_id, :scan_session_id, :quantity, :points_spent,
			 :status, :transaction_id, :version, :confirmed_by_user_id, :created_at, :confirmed_at)
	`, red)
	if err != nil {
		return fmt.Errorf("%w: insert redemption", apperr.ErrInternal)
	}
	return nil
}

func (r *RedemptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Redemption, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var red Redemption
	err := r.db.GetContext(ctx2, &red, `SELECT `+columns+` FROM loyalty_reward_redemptions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get redemption", apperr.ErrInternal)
	}
	return &red, nil
}

func (r *RedemptionRepository) ListByStatus(ctx context.Context, businessID uuid.UUID, status Status, p Pagination) ([]Redemption, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := p.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	items := make([]Redemption, 0)
	err := r.db.SelectContext(ctx2, &items, `
		SELECT `+columns+`
		FROM loyalty_reward_redemptions
		WHERE business_id = $1 AND status = $2
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4
	`, businessID, status, limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list redemptions", apperr.ErrInternal)
	}
	return items, nil
}

// Confirm locks the redemption row, then debits the account through the
// ledger, then marks the row confirmed. Lock order matches scan settlement.
func (r *RedemptionRepository) Confirm(ctx context.Context, in ConfirmInput, at time.Time) (*ConfirmResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var result *ConfirmResult
	err := database.InTx(ctx2, r.db, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		red, err := r.lockPendingTx(ctx2, tx, in.RedemptionID, in.BusinessID, in.RowVersion)
		if err != nil {
			return err
		}

		posting, err := r.ledger.PostTx(ctx2, tx, ledger.Entry{
			AccountID:   red.AccountID,
			BusinessID:  red.BusinessID,
			Type:        ledger.TypeRedemption,
			Delta:       -red.PointsSpent,
			PerformedBy: in.StaffID,
			Reference:   "redemption:" + red.ID.String(),
			At:          at,
		})
		if err != nil {
			return err
		}

		txID := posting.Transaction.ID
		staff := in.StaffID
		if _, err := tx.ExecContext(ctx2, `
			UPDATE loyalty_reward_redemptions
			SET status = 'confirmed',
			    transaction_id = $2,
			    confirmed_by_user_id = $3,
			    confirmed_at = $4,
			    version = version + 1
			WHERE id = $1 AND status = 'pending'
		`, red.ID, txID, staff, at); err != nil {
			return fmt.Errorf("%w: confirm redemption", apperr.ErrInternal)
		}

		red.Status = StatusConfirmed
		red.TransactionID = &txID
		red.ConfirmedByUserID = &staff
		red.ConfirmedAt = &at
		red.Version++
		result = &ConfirmResult{Redemption: red, NewBalance: posting.Balance}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err, "confirm redemption")
	}
	return result, nil
}

// Cancel moves a pending redemption to cancelled without touching the balance.
func (r *RedemptionRepository) Cancel(ctx context.Context, in CancelInput, at time.Time) (*Redemption, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out *Redemption
	err := database.InTx(ctx2, r.db, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		red, err := r.lockPendingTx(ctx2, tx, in.RedemptionID, in.BusinessID, in.RowVersion)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx2, `
			UPDATE loyalty_reward_redemptions
			SET status = 'cancelled', cancelled_at = $2, version = version + 1
			WHERE id = $1 AND status = 'pending'
		`, red.ID, at); err != nil {
			return fmt.Errorf("%w: cancel redemption", apperr.ErrInternal)
		}
		red.Status = StatusCancelled
		red.CancelledAt = &at
		red.Version++
		out = red
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err, "cancel redemption")
	}
	return out, nil
}

func (r *RedemptionRepository) lockPendingTx(ctx context.Context, tx *sqlx.Tx, id, businessID uuid.UUID, rowVersion *int64) (*Redemption, error) {
	var red Redemption
	err := tx.GetContext(ctx, &red, `SELECT `+columns+` FROM loyalty_reward_redemptions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: lock redemption row", apperr.ErrInternal)
	}
	if err := checkPending(&red, businessID, rowVersion); err != nil {
		return nil, err
	}
	return &red, nil
}

// checkPending validates a locked row for a state change by businessID.
func checkPending(red *Redemption, businessID uuid.UUID, rowVersion *int64) error {
	if red.BusinessID != businessID {
		return ErrBusinessMismatch
	}
	switch red.Status {
	case StatusConfirmed:
		return ErrAlreadyConfirmed
	case StatusCancelled:
		return ErrCancelled
	}
	if rowVersion != nil && *rowVersion != red.Version {
		return ErrVersionConflict
	}
	return nil
}
