package scan_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/stampcard/loyalty-api/internal/domain/directory"
	"github.com/stampcard/loyalty-api/internal/domain/ledger"
	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/domain/redemption"
	"github.com/stampcard/loyalty-api/internal/domain/scan"
	"github.com/stampcard/loyalty-api/internal/pkg/database/dbtest"
	"github.com/stampcard/loyalty-api/internal/pkg/tokencodec"
)

type pgStack struct {
	svc    *scan.Service
	ledger *ledger.LedgerRepository
}

func newPGStack(t *testing.T, db *sqlx.DB) pgStack {
	t.Helper()

	codec, err := tokencodec.New("scan-pg-test-key")
	require.NoError(t, err)

	accounts := loyalty.NewRepository(db)
	ledgerRepo := ledger.NewRepository(db)
	redemptions := redemption.NewRepository(db, ledgerRepo)
	dir := directory.NewRepository(db)

	svc := scan.NewService(scan.ServiceConfig{
		Repo:       scan.NewRepository(db, accounts, ledgerRepo, redemptions),
		Accounts:   accounts,
		Identity:   dir,
		Businesses: dir,
		Codec:      codec,
	})
	return pgStack{svc: svc, ledger: ledgerRepo}
}

func TestPostgresAccrualFlow(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db, 5)
	stack := newPGStack(t, db)
	ctx := context.Background()
	staff := uuid.New()

	prep, err := stack.svc.Prepare(ctx, scan.PrepareInput{UserID: f.UserID, BusinessID: f.BusinessID, Mode: scan.ModeAccrual})
	require.NoError(t, err)

	var stored int
	require.NoError(t, db.Get(&stored, `SELECT count(*) FROM qr_code_tokens WHERE token_digest = $1`, prep.Token))
	require.Zero(t, stored)

	res, err := stack.svc.ConfirmAccrual(ctx, scan.AccrualInput{
		Token:      prep.Token,
		BusinessID: f.BusinessID,
		StaffID:    staff,
		LocationID: &f.LocationID,
		Points:     3,
	})
	require.NoError(t, err)
	require.EqualValues(t, 8, res.NewBalance)

	var row struct {
		Status        string     `db:"status"`
		Outcome       string     `db:"outcome"`
		TransactionID *uuid.UUID `db:"resulting_transaction_id"`
	}
	require.NoError(t, db.Get(&row, `
		SELECT s.status, s.outcome, s.resulting_transaction_id
		FROM scan_sessions s JOIN qr_code_tokens t ON t.id = s.qr_code_token_id
		WHERE s.loyalty_account_id = $1
	`, f.AccountID))
	require.Equal(t, "completed", row.Status)
	require.Equal(t, string(scan.OutcomeCompleted), row.Outcome)
	require.NotNil(t, row.TransactionID)
	require.Equal(t, res.TransactionID, *row.TransactionID)

	_, err = stack.svc.ConfirmAccrual(ctx, scan.AccrualInput{Token: prep.Token, BusinessID: f.BusinessID, StaffID: staff, Points: 3})
	require.ErrorIs(t, err, scan.ErrTokenAlreadyConsumed)

	rec, err := stack.ledger.Reconcile(ctx, f.AccountID)
	require.NoError(t, err)
	require.EqualValues(t, 8, rec.Balance)
	require.True(t, rec.Consistent)
}

func TestPostgresConcurrentConfirmConsumesOnce(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db, 0)
	stack := newPGStack(t, db)
	ctx := context.Background()

	prep, err := stack.svc.Prepare(ctx, scan.PrepareInput{UserID: f.UserID, BusinessID: f.BusinessID, Mode: scan.ModeAccrual})
	require.NoError(t, err)

	const goroutines = 8
	var wg sync.WaitGroup
	var success int32
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := stack.svc.ConfirmAccrual(ctx, scan.AccrualInput{Token: prep.Token, BusinessID: f.BusinessID, StaffID: uuid.New(), Points: 2})
			if err == nil {
				atomic.AddInt32(&success, 1)
				return
			}
			if !errors.Is(err, scan.ErrTokenAlreadyConsumed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, success)

	var attempts int
	require.NoError(t, db.Get(&attempts, `
		SELECT count(*) FROM scan_attempts a JOIN scan_sessions s ON s.id = a.scan_session_id
		WHERE s.loyalty_account_id = $1 AND a.outcome = $2
	`, f.AccountID, string(scan.OutcomeTokenAlreadyConsumed)))
	require.Equal(t, goroutines-1, attempts)

	rec, err := stack.ledger.Reconcile(ctx, f.AccountID)
	require.NoError(t, err)
	require.EqualValues(t, 2, rec.Balance)
	require.True(t, rec.Consistent)
}

func TestPostgresRedemptionSplitsDeferredLines(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db, 10)
	selfTier := dbtest.SeedTier(t, db, f, 3, true)
	staffTier := dbtest.SeedTier(t, db, f, 2, false)
	stack := newPGStack(t, db)
	ctx := context.Background()

	prep, err := stack.svc.Prepare(ctx, scan.PrepareInput{
		UserID:     f.UserID,
		BusinessID: f.BusinessID,
		Mode:       scan.ModeRedemption,
		Selections: []scan.Selection{{TierID: selfTier, Quantity: 1}, {TierID: staffTier, Quantity: 2}},
	})
	require.NoError(t, err)

	res, err := stack.svc.ConfirmRedemption(ctx, scan.RedemptionInput{Token: prep.Token, BusinessID: f.BusinessID, StaffID: uuid.New()})
	require.NoError(t, err)
	require.NotNil(t, res.TransactionID)
	require.EqualValues(t, 7, res.NewBalance)
	require.Len(t, res.RedemptionIDs, 1)
	require.Len(t, res.PendingRedemptionIDs, 1)

	var pending int
	require.NoError(t, db.Get(&pending, `
		SELECT count(*) FROM loyalty_reward_redemptions WHERE loyalty_account_id = $1 AND status = 'pending' AND points_spent = 4
	`, f.AccountID))
	require.Equal(t, 1, pending)

	rec, err := stack.ledger.Reconcile(ctx, f.AccountID)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
}
