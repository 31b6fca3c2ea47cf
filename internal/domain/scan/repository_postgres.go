package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stampcard/loyalty-api/internal/domain/ledger"
	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/domain/redemption"
	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
	"github.com/stampcard/loyalty-api/internal/pkg/database"
)

const queryTimeout = 5 * time.Second

const (
	tokenColumns = `id, token_digest, user_id, loyalty_account_id, purpose, device_id, issued_at, expires_at,
		consumed_at, consumed_by_business_id, consumed_at_location_id`
	sessionColumns = `id, qr_code_token_id, loyalty_account_id, business_id, business_location_id, mode, status,
		selected_rewards_snapshot, expires_at, outcome, resulting_transaction_id, performed_by_user_id,
		created_at, completed_at`
)

// AccountLocker locks a loyalty account row inside a settlement transaction.
type AccountLocker interface {
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*loyalty.Account, error)
}

// RedemptionWriter records redemption rows inside a settlement transaction.
type RedemptionWriter interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, r *redemption.Redemption) error
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db          *sqlx.DB
	accounts    AccountLocker
	ledger      ledger.Poster
	redemptions RedemptionWriter
}

func NewRepository(db *sqlx.DB, accounts AccountLocker, poster ledger.Poster, redemptions RedemptionWriter) *PostgresRepository {
	return &PostgresRepository{db: db, accounts: accounts, ledger: poster, redemptions: redemptions}
}

func (r *PostgresRepository) CreatePrepared(ctx context.Context, token *Token, session *Session) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var superseded int64
	err := database.InTx(ctx2, r.db, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx2, `
			UPDATE scan_sessions
			SET status = 'cancelled', outcome = $3, completed_at = $4
			WHERE loyalty_account_id = $1 AND business_id = $2 AND status = 'pending'
		`, session.AccountID, session.BusinessID, OutcomeSuperseded, token.IssuedAt)
		if err != nil {
			return fmt.Errorf("%w: supersede sessions", apperr.ErrInternal)
		}
		superseded, _ = res.RowsAffected()

		if _, err := tx.NamedExecContext(ctx2, `
			INSERT INTO qr_code_tokens
				(id, token_digest, user_id, loyalty_account_id, purpose, device_id, issued_at, expires_at)
			VALUES
				(:id, :token_digest, :user_id, :loyalty_account_id, :purpose, :device_id, :issued_at, :expires_at)
		`, token); err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("%w: token digest collision", apperr.ErrInternal)
			}
			return fmt.Errorf("%w: insert token", apperr.ErrInternal)
		}

		if _, err := tx.NamedExecContext(ctx2, `
			INSERT INTO scan_sessions
				(id, qr_code_token_id, loyalty_account_id, business_id, mode, status,
				 selected_rewards_snapshot, expires_at, outcome, created_at)
			VALUES
				(:id, :qr_code_token_id, :loyalty_account_id, :business_id, :mode, :status,
				 :selected_rewards_snapshot, :expires_at, :outcome, :created_at)
		`, session); err != nil {
			return fmt.Errorf("%w: insert session", apperr.ErrInternal)
		}
		return nil
	})
	if err != nil {
		return 0, apperr.Internal(err, "create prepared session")
	}
	return superseded, nil
}

func (r *PostgresRepository) GetTokenByDigest(ctx context.Context, digest string) (*Token, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Token
	err := r.db.GetContext(ctx2, &t, `SELECT `+tokenColumns+` FROM qr_code_tokens WHERE token_digest = $1`, digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: get token", apperr.ErrInternal)
	}
	return &t, nil
}

func (r *PostgresRepository) GetSessionByTokenID(ctx context.Context, tokenID uuid.UUID) (*Session, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var s Session
	err := r.db.GetContext(ctx2, &s, `SELECT `+sessionColumns+` FROM scan_sessions WHERE qr_code_token_id = $1`, tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: get session", apperr.ErrInternal)
	}
	return &s, nil
}

func (r *PostgresRepository) ConsumeToken(ctx context.Context, c Consumption) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE qr_code_tokens
		SET consumed_at = $2,
		    consumed_by_business_id = $3,
		    consumed_at_location_id = $4
		WHERE id = $1
		  AND consumed_at IS NULL
		  AND expires_at >= $2
	`, c.TokenID, c.At, c.BusinessID, c.LocationID)
	if err != nil {
		return false, fmt.Errorf("%w: consume token", apperr.ErrInternal)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected", apperr.ErrInternal)
	}
	return rows == 1, nil
}

func (r *PostgresRepository) FinishSession(ctx context.Context, f Finish) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE scan_sessions
		SET status = $2,
		    outcome = $3,
		    performed_by_user_id = COALESCE($4, performed_by_user_id),
		    completed_at = $5
		WHERE id = $1 AND status = 'pending'
	`, f.SessionID, f.Status, f.Outcome, nullableID(f.StaffID), f.At)
	if err != nil {
		return false, fmt.Errorf("%w: finish session", apperr.ErrInternal)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected", apperr.ErrInternal)
	}
	return rows == 1, nil
}

func (r *PostgresRepository) RecordAttempt(ctx context.Context, a *Attempt) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx2, `
		INSERT INTO scan_attempts (id, scan_session_id, business_id, performed_by_user_id, outcome, created_at)
		VALUES (:id, :scan_session_id, :business_id, :performed_by_user_id, :outcome, :created_at)
	`, a)
	if err != nil {
		return fmt.Errorf("%w: record attempt", apperr.ErrInternal)
	}
	return nil
}

func (r *PostgresRepository) SettleAccrual(ctx context.Context, s AccrualSettlement) (*AccrualResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var result *AccrualResult
	err := database.InTx(ctx2, r.db, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		if err := lockPendingSessionTx(ctx2, tx, s.Session.ID); err != nil {
			return err
		}

		posting, err := r.ledger.PostTx(ctx2, tx, ledger.Entry{
			AccountID:   s.Session.AccountID,
			BusinessID:  s.Session.BusinessID,
			Type:        ledger.TypeAccrual,
			Delta:       s.Points,
			PerformedBy: s.StaffID,
			Reference:   "scan_session:" + s.Session.ID.String(),
			Note:        s.Note,
			At:          s.At,
		})
		if err != nil {
			return err
		}

		txID := posting.Transaction.ID
		if err := completeSessionTx(ctx2, tx, s.Session, &txID, s.StaffID, s.At); err != nil {
			return err
		}
		result = &AccrualResult{TransactionID: txID, NewBalance: posting.Balance}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err, "settle accrual")
	}
	return result, nil
}

func (r *PostgresRepository) SettleRedemption(ctx context.Context, s RedemptionSettlement) (*RedemptionResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	snap := s.Session.Snapshot
	if snap.Empty() {
		return nil, ErrNoSelections
	}

	var result *RedemptionResult
	err := database.InTx(ctx2, r.db, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		if err := lockPendingSessionTx(ctx2, tx, s.Session.ID); err != nil {
			return err
		}

		acc, err := r.accounts.LockTx(ctx2, tx, s.Session.AccountID)
		if err != nil {
			return err
		}
		if acc.BusinessID != s.Session.BusinessID {
			return loyalty.ErrAccountNotFound
		}
		if !acc.IsActive() {
			return loyalty.ErrAccountInactive
		}
		// The whole snapshot must be covered, including lines staff approve later.
		if acc.PointsBalance < snap.Total() {
			return loyalty.ErrInsufficientPoints
		}

		res := &RedemptionResult{NewBalance: acc.PointsBalance}
		if self := snap.SelfRedeemTotal(); self > 0 {
			posting, err := r.ledger.PostTx(ctx2, tx, ledger.Entry{
				AccountID:   acc.ID,
				BusinessID:  acc.BusinessID,
				Type:        ledger.TypeRedemption,
				Delta:       -self,
				PerformedBy: s.StaffID,
				Reference:   "scan_session:" + s.Session.ID.String(),
				At:          s.At,
			})
			if err != nil {
				return err
			}
			txID := posting.Transaction.ID
			res.TransactionID = &txID
			res.NewBalance = posting.Balance
		}

		sessionID := s.Session.ID
		for _, line := range snap.Lines {
			red := &redemption.Redemption{
				ID:           uuid.New(),
				AccountID:    acc.ID,
				BusinessID:   acc.BusinessID,
				RewardTierID: line.TierID,
				SessionID:    &sessionID,
				Quantity:     line.Quantity,
				PointsSpent:  line.Points(),
				Status:       redemption.StatusPending,
				CreatedAt:    s.At,
			}
			if line.AllowSelfRedemption {
				at, staff := s.At, s.StaffID
				red.Status = redemption.StatusConfirmed
				red.TransactionID = res.TransactionID
				red.ConfirmedAt = &at
				red.ConfirmedByUserID = &staff
			}
			if err := r.redemptions.CreateTx(ctx2, tx, red); err != nil {
				return err
			}
			if red.Status == redemption.StatusConfirmed {
				res.RedemptionIDs = append(res.RedemptionIDs, red.ID)
			} else {
				res.PendingRedemptionIDs = append(res.PendingRedemptionIDs, red.ID)
			}
		}

		if err := completeSessionTx(ctx2, tx, s.Session, res.TransactionID, s.StaffID, s.At); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err, "settle redemption")
	}
	return result, nil
}

func (r *PostgresRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE scan_sessions
		SET status = 'expired', outcome = $2, completed_at = NOW()
		WHERE status = 'pending' AND expires_at < $1
	`, cutoff, OutcomeExpired)
	if err != nil {
		return 0, fmt.Errorf("%w: expire stale sessions", apperr.ErrInternal)
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}

// lockPendingSessionTx takes the session row lock first; every settlement
// locks the session before the account.
func lockPendingSessionTx(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) error {
	var status Status
	err := tx.GetContext(ctx, &status, `SELECT status FROM scan_sessions WHERE id = $1 FOR UPDATE`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: lock session row", apperr.ErrInternal)
	}
	if status != StatusPending {
		return ErrSessionNotPending
	}
	return nil
}

func completeSessionTx(ctx context.Context, tx *sqlx.Tx, s *Session, txID *uuid.UUID, staffID uuid.UUID, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE scan_sessions
		SET status = 'completed',
		    outcome = $2,
		    resulting_transaction_id = $3,
		    performed_by_user_id = $4,
		    completed_at = $5
		WHERE id = $1 AND status = 'pending'
	`, s.ID, OutcomeCompleted, txID, nullableID(staffID), at)
	if err != nil {
		return fmt.Errorf("%w: complete session", apperr.ErrInternal)
	}
	return nil
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
