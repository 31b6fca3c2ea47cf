package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
	"github.com/stampcard/loyalty-api/internal/pkg/logger"
	"github.com/stampcard/loyalty-api/internal/pkg/metrics"
)

const maxNoteLength = 500

var ErrNoteTooLong = apperr.New(apperr.KindInputInvalid, "NOTE_TOO_LONG", "note is too long")

// Service exposes balances, history, adjustments and reconciliation.
type Service struct {
	repo     Repository
	accounts loyalty.Repository
	metrics  *metrics.ScanMetrics
	now      func() time.Time
}

func NewService(repo Repository, accounts loyalty.Repository, m *metrics.ScanMetrics) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Balance returns the consumer's account at businessID.
func (s *Service) Balance(ctx context.Context, userID, businessID uuid.UUID) (*loyalty.Account, error) {
	return s.accounts.GetByBusinessAndUser(ctx, businessID, userID)
}

// History lists the consumer's ledger rows at businessID, newest first.
func (s *Service) History(ctx context.Context, userID, businessID uuid.UUID, p Pagination) ([]Transaction, int, error) {
	acc, err := s.accounts.GetByBusinessAndUser(ctx, businessID, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByAccount(ctx, acc.ID, p)
}

// Adjust posts a manual correction. The balance can never go negative.
func (s *Service) Adjust(ctx context.Context, a Adjustment) (*Posting, error) {
	if a.Delta == 0 {
		return nil, ErrZeroDelta
	}
	note := strings.TrimSpace(a.Note)
	if note == "" {
		return nil, ErrNoteRequired
	}
	if len(note) > maxNoteLength {
		return nil, ErrNoteTooLong
	}

	posting, err := s.repo.Post(ctx, Entry{
		AccountID:   a.AccountID,
		BusinessID:  a.BusinessID,
		Type:        TypeAdjustment,
		Delta:       a.Delta,
		PerformedBy: a.StaffID,
		Reference:   "adjustment:" + uuid.NewString(),
		Note:        note,
		At:          s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObservePoints(string(TypeAdjustment), a.Delta)
	logger.FromContext(ctx).Info().
		Str("account_id", a.AccountID.String()).
		Str("business_id", a.BusinessID.String()).
		Int64("delta", a.Delta).
		Int64("balance", posting.Balance).
		Msg("Points adjusted")

	return posting, nil
}

// Reconcile compares the balance of an account owned by businessID with its ledger.
func (s *Service) Reconcile(ctx context.Context, businessID, accountID uuid.UUID) (*Reconciliation, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.BusinessID != businessID {
		return nil, loyalty.ErrAccountNotFound
	}

	rec, err := s.repo.Reconcile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !rec.Consistent {
		logger.FromContext(ctx).Warn().
			Str("account_id", accountID.String()).
			Int64("balance", rec.Balance).
			Int64("ledger_sum", rec.LedgerSum).
			Msg("Ledger does not reconcile with balance")
	}
	return rec, nil
}
