package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/domain/redemption"
)

type ledgerRow struct {
	AccountID uuid.UUID
	Delta     int64
}

// memStore is an in-memory Repository with the same atomicity as the
// Postgres one: every method runs under one mutex.
type memStore struct {
	mu             sync.Mutex
	tokens         map[uuid.UUID]*Token
	byDigest       map[string]uuid.UUID
	sessions       map[uuid.UUID]*Session
	sessionByToken map[uuid.UUID]uuid.UUID
	accounts       map[uuid.UUID]*loyalty.Account
	tiers          map[uuid.UUID]loyalty.RewardTier
	ledger         []ledgerRow
	attempts       []Attempt
	redemptions    []redemption.Redemption
	businesses     map[uuid.UUID]bool
	locations      map[uuid.UUID]uuid.UUID
	inactiveUsers  map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{
		tokens:         make(map[uuid.UUID]*Token),
		byDigest:       make(map[string]uuid.UUID),
		sessions:       make(map[uuid.UUID]*Session),
		sessionByToken: make(map[uuid.UUID]uuid.UUID),
		accounts:       make(map[uuid.UUID]*loyalty.Account),
		tiers:          make(map[uuid.UUID]loyalty.RewardTier),
		businesses:     make(map[uuid.UUID]bool),
		locations:      make(map[uuid.UUID]uuid.UUID),
		inactiveUsers:  make(map[uuid.UUID]bool),
	}
}

// addAccount opens an account backed by an opening ledger row.
func (m *memStore) addAccount(businessID, userID uuid.UUID, balance int64) *loyalty.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.businesses[businessID] = true
	acc := &loyalty.Account{
		ID:             uuid.New(),
		BusinessID:     businessID,
		UserID:         userID,
		PointsBalance:  balance,
		LifetimePoints: balance,
		Status:         loyalty.StatusActive,
	}
	m.accounts[acc.ID] = acc
	if balance != 0 {
		m.ledger = append(m.ledger, ledgerRow{AccountID: acc.ID, Delta: balance})
	}
	cp := *acc
	return &cp
}

func (m *memStore) addTier(businessID uuid.UUID, points int64, self bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := loyalty.RewardTier{
		ID:                  uuid.New(),
		ProgramID:           uuid.New(),
		BusinessID:          businessID,
		PointsRequired:      points,
		RewardType:          "product",
		AllowSelfRedemption: self,
	}
	m.tiers[t.ID] = t
	return t.ID
}

func (m *memStore) setTierPrice(id uuid.UUID, points int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tiers[id]
	t.PointsRequired = points
	m.tiers[id] = t
}

func (m *memStore) setBalance(accountID uuid.UUID, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.accounts[accountID]
	m.ledger = append(m.ledger, ledgerRow{AccountID: accountID, Delta: balance - acc.PointsBalance})
	acc.PointsBalance = balance
}

func (m *memStore) setStatus(accountID uuid.UUID, status loyalty.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountID].Status = status
}

func (m *memStore) account(id uuid.UUID) loyalty.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *memStore) ledgerSum(accountID uuid.UUID) (sum int64, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ledger {
		if r.AccountID == accountID {
			sum += r.Delta
			rows++
		}
	}
	return sum, rows
}

func (m *memStore) onlySession() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		return *s
	}
	return Session{}
}

func (m *memStore) sessionsByStatus(status Status) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out
}

func (m *memStore) counts() (tokens, sessions, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens), len(m.sessions), len(m.attempts)
}

// Repository

func (m *memStore) CreatePrepared(_ context.Context, token *Token, session *Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var superseded int64
	for _, s := range m.sessions {
		if s.AccountID == session.AccountID && s.BusinessID == session.BusinessID && s.Status == StatusPending {
			at := token.IssuedAt
			s.Status = StatusCancelled
			s.Outcome = OutcomeSuperseded
			s.CompletedAt = &at
			superseded++
		}
	}

	t := *token
	s := *session
	m.tokens[t.ID] = &t
	m.byDigest[t.Digest] = t.ID
	m.sessions[s.ID] = &s
	m.sessionByToken[t.ID] = s.ID
	return superseded, nil
}

func (m *memStore) GetTokenByDigest(_ context.Context, digest string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byDigest[digest]
	if !ok {
		return nil, ErrTokenNotFound
	}
	t := *m.tokens[id]
	return &t, nil
}

func (m *memStore) GetSessionByTokenID(_ context.Context, tokenID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.sessionByToken[tokenID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s := *m.sessions[id]
	return &s, nil
}

func (m *memStore) ConsumeToken(_ context.Context, c Consumption) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[c.TokenID]
	if !ok || t.ConsumedAt != nil || c.At.After(t.ExpiresAt) {
		return false, nil
	}
	at, by := c.At, c.BusinessID
	t.ConsumedAt = &at
	t.ConsumedByBusinessID = &by
	t.ConsumedAtLocationID = c.LocationID
	return true, nil
}

func (m *memStore) FinishSession(_ context.Context, f Finish) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[f.SessionID]
	if !ok || s.Status != StatusPending {
		return false, nil
	}
	at := f.At
	s.Status = f.Status
	s.Outcome = f.Outcome
	s.CompletedAt = &at
	return true, nil
}

func (m *memStore) RecordAttempt(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memStore) pendingSessionLocked(id uuid.UUID) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Status != StatusPending {
		return nil, ErrSessionNotPending
	}
	return s, nil
}

func (m *memStore) activeAccountLocked(id, businessID uuid.UUID) (*loyalty.Account, error) {
	acc, ok := m.accounts[id]
	if !ok || acc.BusinessID != businessID {
		return nil, loyalty.ErrAccountNotFound
	}
	if !acc.IsActive() {
		return nil, loyalty.ErrAccountInactive
	}
	return acc, nil
}

func (m *memStore) complete(s *Session, txID *uuid.UUID, at time.Time) {
	s.Status = StatusCompleted
	s.Outcome = OutcomeCompleted
	s.ResultingTransactionID = txID
	s.CompletedAt = &at
}

func (m *memStore) SettleAccrual(_ context.Context, in AccrualSettlement) (*AccrualResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.pendingSessionLocked(in.Session.ID)
	if err != nil {
		return nil, err
	}
	acc, err := m.activeAccountLocked(s.AccountID, s.BusinessID)
	if err != nil {
		return nil, err
	}

	acc.PointsBalance += in.Points
	acc.LifetimePoints += in.Points
	at := in.At
	acc.LastAccrualAt = &at
	m.ledger = append(m.ledger, ledgerRow{AccountID: acc.ID, Delta: in.Points})

	txID := uuid.New()
	m.complete(s, &txID, in.At)
	return &AccrualResult{TransactionID: txID, NewBalance: acc.PointsBalance}, nil
}

func (m *memStore) SettleRedemption(_ context.Context, in RedemptionSettlement) (*RedemptionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.pendingSessionLocked(in.Session.ID)
	if err != nil {
		return nil, err
	}
	acc, err := m.activeAccountLocked(s.AccountID, s.BusinessID)
	if err != nil {
		return nil, err
	}
	if acc.PointsBalance < s.Snapshot.Total() {
		return nil, loyalty.ErrInsufficientPoints
	}

	res := &RedemptionResult{NewBalance: acc.PointsBalance}
	if self := s.Snapshot.SelfRedeemTotal(); self > 0 {
		acc.PointsBalance -= self
		m.ledger = append(m.ledger, ledgerRow{AccountID: acc.ID, Delta: -self})
		txID := uuid.New()
		res.TransactionID = &txID
		res.NewBalance = acc.PointsBalance
	}
	for _, line := range s.Snapshot.Lines {
		r := redemption.Redemption{
			ID:           uuid.New(),
			AccountID:    acc.ID,
			BusinessID:   acc.BusinessID,
			RewardTierID: line.TierID,
			Quantity:     line.Quantity,
			PointsSpent:  line.Points(),
			Status:       redemption.StatusPending,
		}
		if line.AllowSelfRedemption {
			r.Status = redemption.StatusConfirmed
			r.TransactionID = res.TransactionID
			res.RedemptionIDs = append(res.RedemptionIDs, r.ID)
		} else {
			res.PendingRedemptionIDs = append(res.PendingRedemptionIDs, r.ID)
		}
		m.redemptions = append(m.redemptions, r)
	}

	m.complete(s, res.TransactionID, in.At)
	return res, nil
}

func (m *memStore) ExpireStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.sessions {
		if s.Status == StatusPending && s.ExpiresAt.Before(cutoff) {
			s.Status = StatusExpired
			s.Outcome = OutcomeExpired
			n++
		}
	}
	return n, nil
}

// AccountReader

func (m *memStore) GetByBusinessAndUser(_ context.Context, businessID, userID uuid.UUID) (*loyalty.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.BusinessID == businessID && a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, loyalty.ErrAccountNotFound
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*loyalty.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, loyalty.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListTiersForBusiness(_ context.Context, businessID uuid.UUID, ids []uuid.UUID) ([]loyalty.RewardTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []loyalty.RewardTier
	for _, id := range ids {
		if t, ok := m.tiers[id]; ok && t.BusinessID == businessID {
			out = append(out, t)
		}
	}
	return out, nil
}

// directory

func (m *memStore) IsActive(_ context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.inactiveUsers[userID], nil
}

func (m *memStore) BusinessExists(_ context.Context, businessID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.businesses[businessID], nil
}

func (m *memStore) LocationBelongsToBusiness(_ context.Context, locationID, businessID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locations[locationID] == businessID, nil
}

type recordedEvent struct {
	UserID uuid.UUID
	Update SessionUpdate
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) PublishSession(_ context.Context, userID uuid.UUID, u SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{UserID: userID, Update: u})
	return nil
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
