package scan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stampcard/loyalty-api/internal/domain/directory"
	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
	"github.com/stampcard/loyalty-api/internal/pkg/logger"
	"github.com/stampcard/loyalty-api/internal/pkg/metrics"
)

const (
	defaultSessionTTL        = 5 * time.Minute
	defaultMaxAccrualPoints  = 10000
	defaultMaxSelectionLines = 20
	maxQuantityPerLine       = 99
)

// AccountReader is the read side of the loyalty account store.
type AccountReader interface {
	GetByBusinessAndUser(ctx context.Context, businessID, userID uuid.UUID) (*loyalty.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*loyalty.Account, error)
	ListTiersForBusiness(ctx context.Context, businessID uuid.UUID, tierIDs []uuid.UUID) ([]loyalty.RewardTier, error)
}

// TokenCodec generates opaque tokens and the digests they are stored under.
type TokenCodec interface {
	Generate() (string, error)
	Digest(token string) string
	WellFormed(token string) bool
}

// ServiceConfig holds service dependencies and limits.
type ServiceConfig struct {
	Repo              Repository
	Accounts          AccountReader
	Identity          directory.Identity
	Businesses        directory.Businesses
	Codec             TokenCodec
	Events            EventPublisher
	Metrics           *metrics.ScanMetrics
	SessionTTL        time.Duration
	MaxAccrualPoints  int64
	MaxSelectionLines int
	Clock             func() time.Time
}

// Service runs the scan session state machine:
// Pending -> {Completed, Expired, Cancelled}.
type Service struct {
	repo              Repository
	accounts          AccountReader
	identity          directory.Identity
	businesses        directory.Businesses
	codec             TokenCodec
	events            EventPublisher
	metrics           *metrics.ScanMetrics
	sessionTTL        time.Duration
	maxAccrualPoints  int64
	maxSelectionLines int
	now               func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:              cfg.Repo,
		accounts:          cfg.Accounts,
		identity:          cfg.Identity,
		businesses:        cfg.Businesses,
		codec:             cfg.Codec,
		events:            cfg.Events,
		metrics:           cfg.Metrics,
		sessionTTL:        cfg.SessionTTL,
		maxAccrualPoints:  cfg.MaxAccrualPoints,
		maxSelectionLines: cfg.MaxSelectionLines,
		now:               cfg.Clock,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = defaultSessionTTL
	}
	if s.maxAccrualPoints <= 0 {
		s.maxAccrualPoints = defaultMaxAccrualPoints
	}
	if s.maxSelectionLines <= 0 {
		s.maxSelectionLines = defaultMaxSelectionLines
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Selection is one requested reward line.
type Selection struct {
	TierID   uuid.UUID
	Quantity int
}

type PrepareInput struct {
	UserID     uuid.UUID
	BusinessID uuid.UUID
	Mode       Mode
	Selections []Selection
	DeviceID   string
}

type PrepareResult struct {
	Token          string
	ExpiresAt      time.Time
	CurrentBalance int64
}

// Prepare issues a token and a pending session for the consumer.
// The returned token is the only way to reach the session.
func (s *Service) Prepare(ctx context.Context, in PrepareInput) (*PrepareResult, error) {
	if !in.Mode.Valid() {
		return nil, ErrInvalidMode
	}
	if in.Mode == ModeAccrual && len(in.Selections) > 0 {
		return nil, ErrInvalidSelection
	}

	// Unknown businesses look exactly like a missing account.
	exists, err := s.businesses.BusinessExists(ctx, in.BusinessID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, loyalty.ErrAccountNotFound
	}

	active, err := s.identity.IsActive(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, loyalty.ErrAccountInactive
	}

	acc, err := s.accounts.GetByBusinessAndUser(ctx, in.BusinessID, in.UserID)
	if err != nil {
		return nil, err
	}
	if !acc.IsActive() {
		return nil, loyalty.ErrAccountInactive
	}

	var snap *Snapshot
	if in.Mode == ModeRedemption && len(in.Selections) > 0 {
		snap, err = s.buildSnapshot(ctx, in.BusinessID, in.Selections)
		if err != nil {
			return nil, err
		}
		// Optimistic pre-check; confirmation checks again.
		if acc.PointsBalance < snap.Total() {
			return nil, loyalty.ErrInsufficientPoints
		}
	}

	raw, err := s.codec.Generate()
	if err != nil {
		return nil, apperr.Internal(err, "generate token")
	}

	now := s.now()
	token := &Token{
		ID:        uuid.New(),
		Digest:    s.codec.Digest(raw),
		UserID:    in.UserID,
		AccountID: acc.ID,
		Purpose:   in.Mode,
		DeviceID:  in.DeviceID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	session := &Session{
		ID:         uuid.New(),
		TokenID:    token.ID,
		AccountID:  acc.ID,
		BusinessID: in.BusinessID,
		Mode:       in.Mode,
		Status:     StatusPending,
		Snapshot:   snap,
		ExpiresAt:  token.ExpiresAt,
		CreatedAt:  now,
	}

	superseded, err := s.repo.CreatePrepared(ctx, token, session)
	if err != nil {
		return nil, err
	}

	s.metrics.ObservePrepared(string(in.Mode))
	logger.FromContext(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("business_id", in.BusinessID.String()).
		Str("mode", string(in.Mode)).
		Int64("superseded", superseded).
		Msg("Scan session prepared")

	return &PrepareResult{
		Token:          raw,
		ExpiresAt:      token.ExpiresAt,
		CurrentBalance: acc.PointsBalance,
	}, nil
}

func (s *Service) buildSnapshot(ctx context.Context, businessID uuid.UUID, selections []Selection) (*Snapshot, error) {
	merged := make([]Selection, 0, len(selections))
	index := make(map[uuid.UUID]int, len(selections))
	for _, sel := range selections {
		if sel.TierID == uuid.Nil || sel.Quantity <= 0 {
			return nil, ErrInvalidSelection
		}
		if i, ok := index[sel.TierID]; ok {
			merged[i].Quantity += sel.Quantity
			continue
		}
		index[sel.TierID] = len(merged)
		merged = append(merged, sel)
	}
	if len(merged) > s.maxSelectionLines {
		return nil, ErrInvalidSelection
	}

	ids := make([]uuid.UUID, len(merged))
	for i, sel := range merged {
		if sel.Quantity > maxQuantityPerLine {
			return nil, ErrInvalidSelection
		}
		ids[i] = sel.TierID
	}

	tiers, err := s.accounts.ListTiersForBusiness(ctx, businessID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]loyalty.RewardTier, len(tiers))
	for _, t := range tiers {
		if t.BusinessID == businessID {
			byID[t.ID] = t
		}
	}

	snap := &Snapshot{Version: SnapshotVersion, Lines: make([]SnapshotLine, 0, len(merged))}
	for _, sel := range merged {
		tier, ok := byID[sel.TierID]
		if !ok || tier.PointsRequired <= 0 {
			return nil, ErrInvalidSelection
		}
		snap.Lines = append(snap.Lines, SnapshotLine{
			TierID:              tier.ID,
			Quantity:            sel.Quantity,
			PointsPerUnit:       tier.PointsRequired,
			RewardType:          tier.RewardType,
			AllowSelfRedemption: tier.AllowSelfRedemption,
		})
	}
	return snap, nil
}

// Preview is what a business terminal sees before confirming.
type Preview struct {
	Mode           Mode
	ExpiresAt      time.Time
	Lines          []SnapshotLine
	TotalPoints    int64
	CurrentBalance int64
}

// Resolve validates a token for businessID without consuming it.
func (s *Service) Resolve(ctx context.Context, raw string, businessID uuid.UUID) (*Preview, error) {
	_, session, err := s.lookup(ctx, raw, businessID, uuid.Nil, s.now())
	if err != nil {
		return nil, err
	}

	acc, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Mode:           session.Mode,
		ExpiresAt:      session.ExpiresAt,
		TotalPoints:    session.Snapshot.Total(),
		CurrentBalance: acc.PointsBalance,
	}
	if session.Snapshot != nil {
		p.Lines = session.Snapshot.Lines
	}
	return p, nil
}

type AccrualInput struct {
	Token      string
	BusinessID uuid.UUID
	StaffID    uuid.UUID
	LocationID *uuid.UUID
	Points     int64
	Note       string
}

// ConfirmAccrual consumes the token and credits points. It is the single
// accrual entry point.
func (s *Service) ConfirmAccrual(ctx context.Context, in AccrualInput) (*AccrualResult, error) {
	if in.Points < 1 || in.Points > s.maxAccrualPoints {
		return nil, ErrInvalidPoints
	}
	if err := s.checkLocation(ctx, in.LocationID, in.BusinessID); err != nil {
		return nil, err
	}

	now := s.now()
	token, session, err := s.lookup(ctx, in.Token, in.BusinessID, in.StaffID, now)
	if err != nil {
		return nil, err
	}
	if session.Mode != ModeAccrual {
		return nil, ErrModeMismatch
	}

	if err := s.consume(ctx, token, session, in.BusinessID, in.LocationID, in.StaffID, now); err != nil {
		return nil, err
	}

	res, err := s.repo.SettleAccrual(ctx, AccrualSettlement{
		Session: session,
		Points:  in.Points,
		StaffID: in.StaffID,
		Note:    in.Note,
		At:      now,
	})
	if err != nil {
		s.fail(ctx, token, session, in.StaffID, err, now)
		return nil, err
	}

	s.metrics.ObservePoints("accrual", in.Points)
	s.completed(ctx, token, session, res.NewBalance)
	return res, nil
}

type RedemptionInput struct {
	Token      string
	BusinessID uuid.UUID
	StaffID    uuid.UUID
	LocationID *uuid.UUID
}

// ConfirmRedemption consumes the token and settles the snapshot taken at
// preparation. No pricing input is accepted here.
func (s *Service) ConfirmRedemption(ctx context.Context, in RedemptionInput) (*RedemptionResult, error) {
	if err := s.checkLocation(ctx, in.LocationID, in.BusinessID); err != nil {
		return nil, err
	}

	now := s.now()
	token, session, err := s.lookup(ctx, in.Token, in.BusinessID, in.StaffID, now)
	if err != nil {
		return nil, err
	}
	if session.Mode != ModeRedemption {
		return nil, ErrModeMismatch
	}

	if err := s.consume(ctx, token, session, in.BusinessID, in.LocationID, in.StaffID, now); err != nil {
		return nil, err
	}

	if session.Snapshot.Empty() {
		s.finish(ctx, token, session, StatusCancelled, OutcomeNoSelections, in.StaffID, now, nil)
		return nil, ErrNoSelections
	}

	res, err := s.repo.SettleRedemption(ctx, RedemptionSettlement{
		Session: session,
		StaffID: in.StaffID,
		At:      now,
	})
	if err != nil {
		s.fail(ctx, token, session, in.StaffID, err, now)
		return nil, err
	}

	s.metrics.ObservePoints("redemption", session.Snapshot.SelfRedeemTotal())
	s.completed(ctx, token, session, res.NewBalance)
	return res, nil
}

// StatusView is the consumer's view of their own session.
type StatusView struct {
	BusinessID  uuid.UUID
	Mode        Mode
	Status      Status
	Outcome     Outcome
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

// SessionStatus reports the session behind raw to the consumer who owns it.
// Any other caller gets ErrTokenNotFound.
func (s *Service) SessionStatus(ctx context.Context, userID uuid.UUID, raw string) (*StatusView, error) {
	if !s.codec.WellFormed(raw) {
		return nil, ErrTokenNotFound
	}
	token, err := s.repo.GetTokenByDigest(ctx, s.codec.Digest(raw))
	if err != nil {
		return nil, err
	}
	if token.UserID != userID {
		return nil, ErrTokenNotFound
	}
	session, err := s.repo.GetSessionByTokenID(ctx, token.ID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		BusinessID:  session.BusinessID,
		Mode:        session.Mode,
		Status:      session.Status,
		Outcome:     session.Outcome,
		ExpiresAt:   session.ExpiresAt,
		CompletedAt: session.CompletedAt,
	}
	if session.Status == StatusPending && token.ExpiredAt(s.now()) {
		view.Status = StatusExpired
		view.Outcome = OutcomeExpired
	}
	return view, nil
}

// lookup resolves raw for businessID in this order: TokenNotFound,
// TokenAlreadyConsumed, TokenExpired, SessionNotFound, BusinessMismatch.
// An expired token moves its pending session to Expired, unless the caller
// is a foreign business.
func (s *Service) lookup(ctx context.Context, raw string, businessID, staffID uuid.UUID, now time.Time) (*Token, *Session, error) {
	if !s.codec.WellFormed(raw) {
		return nil, nil, ErrTokenNotFound
	}
	token, err := s.repo.GetTokenByDigest(ctx, s.codec.Digest(raw))
	if err != nil {
		return nil, nil, err
	}

	session, sessErr := s.repo.GetSessionByTokenID(ctx, token.ID)
	if sessErr != nil && !errors.Is(sessErr, ErrSessionNotFound) {
		return nil, nil, sessErr
	}
	owned := sessErr == nil && session.BusinessID == businessID

	if token.Consumed() {
		if owned && staffID != uuid.Nil {
			s.recordAttempt(ctx, session, businessID, staffID, OutcomeTokenAlreadyConsumed, now)
		}
		return nil, nil, ErrTokenAlreadyConsumed
	}
	if token.ExpiredAt(now) || (sessErr == nil && now.After(session.ExpiresAt)) {
		if owned {
			s.finish(ctx, token, session, StatusExpired, OutcomeExpired, staffID, now, nil)
		}
		return nil, nil, ErrTokenExpired
	}
	if sessErr != nil {
		return nil, nil, sessErr
	}
	if !owned {
		return nil, nil, ErrBusinessMismatch
	}
	if session.Status != StatusPending {
		// A concurrent confirmation may have finished between the two reads.
		if current, err := s.repo.GetTokenByDigest(ctx, token.Digest); err == nil && current.Consumed() {
			if staffID != uuid.Nil {
				s.recordAttempt(ctx, session, businessID, staffID, OutcomeTokenAlreadyConsumed, now)
			}
			return nil, nil, ErrTokenAlreadyConsumed
		}
		return nil, nil, ErrSessionNotPending
	}
	return token, session, nil
}

// consume claims the token. Losing the claim leaves the session to the
// winner and records an audit attempt.
func (s *Service) consume(ctx context.Context, token *Token, session *Session, businessID uuid.UUID, locationID *uuid.UUID, staffID uuid.UUID, now time.Time) error {
	won, err := s.repo.ConsumeToken(ctx, Consumption{
		TokenID:    token.ID,
		BusinessID: businessID,
		LocationID: locationID,
		At:         now,
	})
	if err != nil {
		return err
	}
	if won {
		return nil
	}

	current, err := s.repo.GetTokenByDigest(ctx, token.Digest)
	if err != nil {
		return err
	}
	if current.Consumed() {
		s.metrics.ObserveConsumeRace()
		s.recordAttempt(ctx, session, businessID, staffID, OutcomeTokenAlreadyConsumed, now)
		return ErrTokenAlreadyConsumed
	}

	s.finish(ctx, token, session, StatusExpired, OutcomeExpired, staffID, now, nil)
	return ErrTokenExpired
}

func (s *Service) checkLocation(ctx context.Context, locationID *uuid.UUID, businessID uuid.UUID) error {
	if locationID == nil {
		return nil
	}
	ok, err := s.businesses.LocationBelongsToBusiness(ctx, *locationID, businessID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocationMismatch
	}
	return nil
}

// fail moves a consumed session to the terminal state explaining err.
func (s *Service) fail(ctx context.Context, token *Token, session *Session, staffID uuid.UUID, cause error, now time.Time) {
	if errors.Is(cause, ErrSessionNotPending) {
		return
	}
	outcome := outcomeFor(cause)
	status := StatusCancelled
	if outcome == OutcomeExpired {
		status = StatusExpired
	}
	if outcome == OutcomeInternalError {
		logger.FromContext(ctx).Error().Err(cause).
			Str("session_id", session.ID.String()).
			Msg("Scan settlement failed")
	}
	s.finish(ctx, token, session, status, outcome, staffID, now, nil)
}

func outcomeFor(err error) Outcome {
	switch {
	case errors.Is(err, loyalty.ErrAccountNotFound):
		return OutcomeAccountNotFound
	case errors.Is(err, loyalty.ErrAccountInactive):
		return OutcomeAccountNotActive
	case errors.Is(err, loyalty.ErrInsufficientPoints):
		return OutcomeInsufficientPoints
	case errors.Is(err, ErrNoSelections):
		return OutcomeNoSelections
	case errors.Is(err, ErrTokenExpired):
		return OutcomeExpired
	default:
		return OutcomeInternalError
	}
}

func (s *Service) finish(ctx context.Context, token *Token, session *Session, status Status, outcome Outcome, staffID uuid.UUID, now time.Time, balance *int64) {
	ok, err := s.repo.FinishSession(ctx, Finish{
		SessionID: session.ID,
		Status:    status,
		Outcome:   outcome,
		StaffID:   staffID,
		At:        now,
	})
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).
			Str("session_id", session.ID.String()).
			Str("outcome", string(outcome)).
			Msg("Failed to finish scan session")
		return
	}
	if !ok {
		return
	}
	s.terminal(ctx, token, session, status, outcome, balance)
}

func (s *Service) completed(ctx context.Context, token *Token, session *Session, balance int64) {
	s.terminal(ctx, token, session, StatusCompleted, OutcomeCompleted, &balance)
}

func (s *Service) terminal(ctx context.Context, token *Token, session *Session, status Status, outcome Outcome, balance *int64) {
	s.metrics.ObserveOutcome(string(session.Mode), string(outcome))
	logger.FromContext(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("business_id", session.BusinessID.String()).
		Str("mode", string(session.Mode)).
		Str("status", string(status)).
		Str("outcome", string(outcome)).
		Msg("Scan session finished")

	if s.events == nil {
		return
	}
	err := s.events.PublishSession(ctx, token.UserID, SessionUpdate{
		BusinessID: session.BusinessID,
		Mode:       session.Mode,
		Status:     status,
		Outcome:    outcome,
		NewBalance: balance,
	})
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Failed to publish scan session update")
	}
}

func (s *Service) recordAttempt(ctx context.Context, session *Session, businessID, staffID uuid.UUID, outcome Outcome, now time.Time) {
	var by *uuid.UUID
	if staffID != uuid.Nil {
		by = &staffID
	}
	err := s.repo.RecordAttempt(ctx, &Attempt{
		ID:                uuid.New(),
		SessionID:         session.ID,
		BusinessID:        businessID,
		PerformedByUserID: by,
		Outcome:           outcome,
		CreatedAt:         now,
	})
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).
			Str("session_id", session.ID.String()).
			Msg("Failed to record scan attempt")
	}
}
