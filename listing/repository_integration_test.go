package listing_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/account"
	"escrowflow/ledger"
	"escrowflow/listing"
)

// TestListingLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and walks the full escrow lifecycle: stake custody on create,
// price custody on commit, settlement on delivery confirmation.
func TestListingLifecycle_Integration(t *testing.T) {
	pool, svc, ldg := setupIntegration(t)
	ctx := context.Background()

	seller := seedAccount(t, pool, "seller", 10_000)
	buyer := seedAccount(t, pool, "buyer", 10_000)

	l, err := svc.Create(ctx, seller, 1000, "content://item-1")
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if l.Status != listing.StatusActive {
		t.Fatalf("status = %s, want active", l.Status)
	}
	if l.SellerStake != 100 {
		t.Fatalf("seller stake = %d, want 100", l.SellerStake)
	}
	assertCustody(t, ldg, l.ID, 100)
	assertBalance(t, ldg, seller, 9_900)

	if err := svc.Commit(ctx, l.ID, buyer); err != nil {
		t.Fatalf("commit: %v", err)
	}
	assertCustody(t, ldg, l.ID, 1100)
	assertBalance(t, ldg, buyer, 9_000)

	// Seller cannot unilaterally cancel once a buyer committed.
	if err := svc.Cancel(ctx, l.ID, seller); !errors.Is(err, listing.ErrInvalidState) {
		t.Fatalf("cancel committed listing: err = %v, want ErrInvalidState", err)
	}
	assertCustody(t, ldg, l.ID, 1100)

	if err := svc.ConfirmDelivery(ctx, l.ID, buyer); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	assertCustody(t, ldg, l.ID, 0)
	// 9_900 + 980 payout + 100 stake back.
	assertBalance(t, ldg, seller, 10_980)

	got, err := svc.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != listing.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	// Terminal states are idempotent: no further mutation, no ledger change.
	if err := svc.ConfirmDelivery(ctx, l.ID, buyer); !errors.Is(err, listing.ErrInvalidState) {
		t.Fatalf("confirm terminal listing: err = %v, want ErrInvalidState", err)
	}
	assertCustody(t, ldg, l.ID, 0)

	events, err := ldg.Events(ctx, l.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var in, out int64
	for _, e := range events {
		if e.CreditAccount == ledger.CustodyAccountName {
			in += e.Amount
		}
		if e.DebitAccount == ledger.CustodyAccountName {
			out += e.Amount
		}
	}
	if in != out || in != 1100 {
		t.Fatalf("event log: %d in / %d out, want 1100 both ways", in, out)
	}
}

func TestListingCancel_Integration(t *testing.T) {
	pool, svc, ldg := setupIntegration(t)
	ctx := context.Background()

	seller := seedAccount(t, pool, "seller", 1_000)
	stranger := seedAccount(t, pool, "stranger", 1_000)

	l, err := svc.Create(ctx, seller, 500, "content://item-2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	assertBalance(t, ldg, seller, 950)

	if err := svc.Cancel(ctx, l.ID, stranger); !errors.Is(err, listing.ErrNotAuthorized) {
		t.Fatalf("cancel by stranger: err = %v, want ErrNotAuthorized", err)
	}

	if err := svc.Cancel(ctx, l.ID, seller); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertCustody(t, ldg, l.ID, 0)
	assertBalance(t, ldg, seller, 1_000)

	if err := svc.Cancel(ctx, l.ID, seller); !errors.Is(err, listing.ErrInvalidState) {
		t.Fatalf("double cancel: err = %v, want ErrInvalidState", err)
	}
}

func TestListingBackOut_Integration(t *testing.T) {
	pool, svc, ldg := setupIntegration(t)
	ctx := context.Background()

	seller := seedAccount(t, pool, "seller", 10_000)
	buyer := seedAccount(t, pool, "buyer", 10_000)

	l, err := svc.Create(ctx, seller, 1000, "content://item-3")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Commit(ctx, l.ID, buyer); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Only the buyer may back out.
	if err := svc.BackOut(ctx, l.ID, seller); !errors.Is(err, listing.ErrNotAuthorized) {
		t.Fatalf("back out by seller: err = %v, want ErrNotAuthorized", err)
	}

	if err := svc.BackOut(ctx, l.ID, buyer); err != nil {
		t.Fatalf("back out: %v", err)
	}
	assertCustody(t, ldg, l.ID, 0)
	// Buyer recovers 75% of the price.
	assertBalance(t, ldg, buyer, 9_750)
	// Seller keeps 25% plus the returned stake.
	assertBalance(t, ldg, seller, 10_250)

	got, err := svc.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != listing.StatusBackedOut {
		t.Fatalf("status = %s, want backed_out", got.Status)
	}
}

func TestListingPreconditions_Integration(t *testing.T) {
	pool, svc, ldg := setupIntegration(t)
	ctx := context.Background()

	seller := seedAccount(t, pool, "seller", 10_000)
	broke := seedAccount(t, pool, "broke", 10)

	if _, err := svc.Create(ctx, seller, 0, ""); !errors.Is(err, listing.ErrInvalidPrice) {
		t.Fatalf("zero price: err = %v, want ErrInvalidPrice", err)
	}

	// Stake exceeds the free balance.
	if _, err := svc.Create(ctx, broke, 1000, ""); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("underfunded create: err = %v, want ErrInsufficientFunds", err)
	}

	// Accounts not flagged trade-eligible are rejected outright.
	ineligible := seedIneligibleAccount(t, pool, "pending", 10_000)
	if _, err := svc.Create(ctx, ineligible, 1000, ""); !errors.Is(err, listing.ErrNotEligible) {
		t.Fatalf("ineligible create: err = %v, want ErrNotEligible", err)
	}

	l, err := svc.Create(ctx, seller, 1000, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Seller cannot buy their own listing.
	if err := svc.Commit(ctx, l.ID, seller); !errors.Is(err, listing.ErrNotAuthorized) {
		t.Fatalf("self-commit: err = %v, want ErrNotAuthorized", err)
	}

	// Buyer cannot cover the price.
	if err := svc.Commit(ctx, l.ID, broke); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("underfunded commit: err = %v, want ErrInsufficientFunds", err)
	}
	assertCustody(t, ldg, l.ID, 100)

	history, err := svc.History(ctx, seller)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected seller history to include the listing")
	}
}

func setupIntegration(t *testing.T) (*pgxpool.Pool, *listing.Service, *ledger.Repository) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"listings", "custody", "balances", "ledger_events", "accounts"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations first", table)
		}
	}

	ldg := ledger.NewRepository(pool)
	accounts := account.NewService(account.NewRepository(pool), "itest-secret")
	svc := listing.NewService(pool, listing.NewRepository(pool), ldg, accounts)
	return pool, svc, ldg
}

func seedAccount(t *testing.T, pool *pgxpool.Pool, role string, balance int64) string {
	t.Helper()
	id := seedIneligibleAccount(t, pool, role, balance)
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `UPDATE accounts SET trade_eligible = true WHERE id = $1`, id); err != nil {
		t.Fatalf("seed eligibility: %v", err)
	}
	return id
}

func seedIneligibleAccount(t *testing.T, pool *pgxpool.Pool, role string, balance int64) string {
	t.Helper()
	ctx := context.Background()

	var id string
	email := fmt.Sprintf("%s+%d@example.com", role, time.Now().UnixNano())
	if err := pool.QueryRow(ctx, `
        INSERT INTO accounts (email, full_name, password_hash)
        VALUES ($1, $2, 'x') RETURNING id
    `, email, role).Scan(&id); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO balances (account_id, amount) VALUES ($1, $2)`, id, balance); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	return id
}

func assertCustody(t *testing.T, ldg *ledger.Repository, listingID string, want int64) {
	t.Helper()
	got, err := ldg.CustodyBalance(context.Background(), listingID)
	if err != nil {
		t.Fatalf("custody balance: %v", err)
	}
	if got != want {
		t.Fatalf("custody = %d, want %d", got, want)
	}
}

func assertBalance(t *testing.T, ldg *ledger.Repository, account string, want int64) {
	t.Helper()
	got, err := ldg.FreeBalance(context.Background(), account)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	if got != want {
		t.Fatalf("balance(%s) = %d, want %d", account, got, want)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
