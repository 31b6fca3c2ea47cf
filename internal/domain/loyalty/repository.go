package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
)

const queryTimeout = 3 * time.Second

const accountColumns = `id, business_id, user_id, points_balance, lifetime_points, status,
	last_accrual_at, version, created_at, updated_at`

type Repository interface {
	GetByBusinessAndUser(ctx context.Context, businessID, userID uuid.UUID) (*Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Account, error)
	ListTiersForBusiness(ctx context.Context, businessID uuid.UUID, tierIDs []uuid.UUID) ([]RewardTier, error)
}

// AccountRepository reads loyalty accounts and the reward catalog.
type AccountRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByBusinessAndUser(ctx context.Context, businessID, userID uuid.UUID) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Account
	err := r.db.GetContext(ctx2, &a, `
		SELECT `+accountColumns+`
		FROM loyalty_accounts
		WHERE business_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, businessID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: get account by business and user", apperr.ErrInternal)
	}
	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Account
	err := r.db.GetContext(ctx2, &a, `
		SELECT `+accountColumns+`
		FROM loyalty_accounts
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: get account", apperr.ErrInternal)
	}
	return &a, nil
}

// LockTx loads the account with a FOR UPDATE row lock inside the caller's
// transaction. The caller commits or rolls back.
func (r *AccountRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Account, error) {
	var a Account
	err := tx.GetContext(ctx, &a, `
		SELECT `+accountColumns+`
		FROM loyalty_accounts
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: lock account row", apperr.ErrInternal)
	}
	return &a, nil
}

// ListTiersForBusiness returns the requested tiers that belong to an active
// program of businessID. Unknown or foreign ids are simply absent.
func (r *AccountRepository) ListTiersForBusiness(ctx context.Context, businessID uuid.UUID, tierIDs []uuid.UUID) ([]RewardTier, error) {
	if len(tierIDs) == 0 {
		return nil, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := make([]string, len(tierIDs))
	for i, id := range tierIDs {
		ids[i] = id.String()
	}

	tiers := make([]RewardTier, 0, len(tierIDs))
	err := r.db.SelectContext(ctx2, &tiers, `
		SELECT t.id, t.program_id, p.business_id, t.name, t.points_required, t.reward_type, t.allow_self_redemption
		FROM loyalty_reward_tiers t
		JOIN loyalty_programs p ON p.id = t.program_id
		WHERE p.business_id = $1
		  AND p.is_active
		  AND t.is_active
		  AND t.id = ANY($2::uuid[])
	`, businessID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: list reward tiers", apperr.ErrInternal)
	}
	return tiers, nil
}
