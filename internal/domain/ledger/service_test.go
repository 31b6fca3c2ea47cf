package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
)

type stubLedgerRepo struct {
	posted []Entry
	rec    *Reconciliation
	err    error
}

func (s *stubLedgerRepo) PostTx(context.Context, *sqlx.Tx, Entry) (*Posting, error) {
	return nil, errors.New("not used")
}

func (s *stubLedgerRepo) Post(_ context.Context, e Entry) (*Posting, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.posted = append(s.posted, e)
	return &Posting{Transaction: &Transaction{ID: uuid.New(), PointsDelta: e.Delta}, Balance: 10 + e.Delta}, nil
}

func (s *stubLedgerRepo) ListByAccount(context.Context, uuid.UUID, Pagination) ([]Transaction, int, error) {
	return nil, 0, nil
}

func (s *stubLedgerRepo) Reconcile(context.Context, uuid.UUID) (*Reconciliation, error) {
	return s.rec, nil
}

type stubAccounts struct {
	account *loyalty.Account
}

func (s *stubAccounts) GetByBusinessAndUser(_ context.Context, businessID, userID uuid.UUID) (*loyalty.Account, error) {
	if s.account == nil || s.account.BusinessID != businessID || s.account.UserID != userID {
		return nil, loyalty.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *stubAccounts) GetByID(_ context.Context, id uuid.UUID) (*loyalty.Account, error) {
	if s.account == nil || s.account.ID != id {
		return nil, loyalty.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *stubAccounts) LockTx(context.Context, *sqlx.Tx, uuid.UUID) (*loyalty.Account, error) {
	return nil, errors.New("not used")
}

func (s *stubAccounts) ListTiersForBusiness(context.Context, uuid.UUID, []uuid.UUID) ([]loyalty.RewardTier, error) {
	return nil, nil
}

func TestAdjustValidatesInput(t *testing.T) {
	repo := &stubLedgerRepo{}
	svc := NewService(repo, &stubAccounts{}, nil)

	if _, err := svc.Adjust(context.Background(), Adjustment{Delta: 0, Note: "x"}); !errors.Is(err, ErrZeroDelta) {
		t.Fatalf("expected ErrZeroDelta, got %v", err)
	}
	if _, err := svc.Adjust(context.Background(), Adjustment{Delta: 5, Note: "   "}); !errors.Is(err, ErrNoteRequired) {
		t.Fatalf("expected ErrNoteRequired, got %v", err)
	}
	if len(repo.posted) != 0 {
		t.Fatalf("expected nothing posted, got %d", len(repo.posted))
	}
}

func TestAdjustPostsAdjustmentEntry(t *testing.T) {
	repo := &stubLedgerRepo{}
	svc := NewService(repo, &stubAccounts{}, nil)
	accountID, businessID, staffID := uuid.New(), uuid.New(), uuid.New()

	posting, err := svc.Adjust(context.Background(), Adjustment{
		AccountID:  accountID,
		BusinessID: businessID,
		StaffID:    staffID,
		Delta:      -4,
		Note:       " goodwill correction ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posting.Balance != 6 {
		t.Fatalf("expected balance 6, got %d", posting.Balance)
	}

	e := repo.posted[0]
	if e.Type != TypeAdjustment || e.AccountID != accountID || e.BusinessID != businessID || e.PerformedBy != staffID {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Note != "goodwill correction" {
		t.Fatalf("expected trimmed note, got %q", e.Note)
	}
}

func TestAdjustPropagatesInsufficientPoints(t *testing.T) {
	repo := &stubLedgerRepo{err: loyalty.ErrInsufficientPoints}
	svc := NewService(repo, &stubAccounts{}, nil)

	_, err := svc.Adjust(context.Background(), Adjustment{Delta: -100, Note: "fix"})
	if !errors.Is(err, loyalty.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
}

func TestReconcileHidesForeignAccounts(t *testing.T) {
	acc := &loyalty.Account{ID: uuid.New(), BusinessID: uuid.New()}
	repo := &stubLedgerRepo{rec: &Reconciliation{AccountID: acc.ID, Balance: 3, LedgerSum: 3, Consistent: true}}
	svc := NewService(repo, &stubAccounts{account: acc}, nil)

	if _, err := svc.Reconcile(context.Background(), uuid.New(), acc.ID); !errors.Is(err, loyalty.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	rec, err := svc.Reconcile(context.Background(), acc.BusinessID, acc.ID)
	if err != nil || !rec.Consistent {
		t.Fatalf("expected consistent reconciliation, got %+v, %v", rec, err)
	}
}
