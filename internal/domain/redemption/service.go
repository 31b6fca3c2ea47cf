package redemption

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/pkg/logger"
	"github.com/stampcard/loyalty-api/internal/pkg/metrics"
)

type accountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*loyalty.Account, error)
}

// Service lets staff settle redemptions that were deferred at scan time.
type Service struct {
	repo     Repository
	accounts accountReader
	events   EventPublisher
	metrics  *metrics.ScanMetrics
	now      func() time.Time
}

func NewService(repo Repository, accounts accountReader, events EventPublisher, m *metrics.ScanMetrics) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		events:   events,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns the business's redemptions in the given status, oldest first.
func (s *Service) List(ctx context.Context, businessID uuid.UUID, status Status, p Pagination) ([]Redemption, error) {
	if status == "" {
		status = StatusPending
	}
	return s.repo.ListByStatus(ctx, businessID, status, p)
}

// Get returns a redemption owned by businessID.
func (s *Service) Get(ctx context.Context, businessID, id uuid.UUID) (*Redemption, error) {
	red, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if red.BusinessID != businessID {
		return nil, ErrNotFound
	}
	return red, nil
}

// Confirm debits the account and marks the redemption confirmed.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	res, err := s.repo.Confirm(ctx, in, s.now())
	if err != nil {
		return nil, err
	}

	s.metrics.ObservePoints("redemption", -res.Redemption.PointsSpent)
	logger.FromContext(ctx).Info().
		Str("redemption_id", res.Redemption.ID.String()).
		Str("business_id", in.BusinessID.String()).
		Str("staff_id", in.StaffID.String()).
		Int64("points", res.Redemption.PointsSpent).
		Int64("new_balance", res.NewBalance).
		Msg("Redemption confirmed")

	balance := res.NewBalance
	s.notify(ctx, res.Redemption, &balance)
	return res, nil
}

// Cancel rejects a pending redemption. The balance is untouched.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (*Redemption, error) {
	red, err := s.repo.Cancel(ctx, in, s.now())
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("redemption_id", red.ID.String()).
		Str("business_id", in.BusinessID.String()).
		Str("staff_id", in.StaffID.String()).
		Msg("Redemption cancelled")

	s.notify(ctx, red, nil)
	return red, nil
}

func (s *Service) notify(ctx context.Context, red *Redemption, balance *int64) {
	if s.events == nil || s.accounts == nil {
		return
	}
	acc, err := s.accounts.GetByID(ctx, red.AccountID)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("redemption_id", red.ID.String()).Msg("Redemption owner lookup failed")
		return
	}
	update := Update{
		RedemptionID: red.ID,
		BusinessID:   red.BusinessID,
		Status:       red.Status,
		NewBalance:   balance,
	}
	if err := s.events.PublishRedemption(ctx, acc.UserID, update); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("redemption_id", red.ID.String()).Msg("Redemption event not delivered")
	}
}
