package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInsufficientFunds signals the debited account cannot cover the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrCustodyNotFound is returned when no custody account exists for the listing.
	ErrCustodyNotFound = errors.New("ledger: custody account not found")
	// ErrNegativeAmount rejects transfers of negative value.
	ErrNegativeAmount = errors.New("ledger: negative amount")
)

// Repository moves value between free balances and per-listing custody
// accounts. All mutating methods run inside the caller's transaction so a
// listing operation commits its state change and its value movement as one
// indivisible step.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DebitFree withdraws amount from an account's free balance. The platform
// treasury may go negative; every other account is floored at zero and the
// debit fails with ErrInsufficientFunds instead.
func (r *Repository) DebitFree(ctx context.Context, tx pgx.Tx, account string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	if account == PlatformAccount {
		_, err := tx.Exec(ctx, `UPDATE balances SET amount = amount - $1 WHERE account_id = $2`, amount, account)
		if err != nil {
			return fmt.Errorf("ledger: debit platform: %w", err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
        UPDATE balances
        SET amount = amount - $1
        WHERE account_id = $2 AND amount >= $1
    `, amount, account)
	if err != nil {
		return fmt.Errorf("ledger: debit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// CreditFree deposits amount into an account's free balance, creating the
// balance row on first use.
func (r *Repository) CreditFree(ctx context.Context, tx pgx.Tx, account string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO balances (account_id, amount) VALUES ($1, $2)
        ON CONFLICT (account_id) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
    `, account, amount)
	if err != nil {
		return fmt.Errorf("ledger: credit %s: %w", account, err)
	}
	return nil
}

// OpenCustody creates the custody account for a freshly created listing.
func (r *Repository) OpenCustody(ctx context.Context, tx pgx.Tx, listingID string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO custody (listing_id, amount) VALUES ($1, 0)`, listingID); err != nil {
		return fmt.Errorf("ledger: open custody: %w", err)
	}
	return nil
}

// CreditCustody locks value into the listing's custody account.
func (r *Repository) CreditCustody(ctx context.Context, tx pgx.Tx, listingID string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	tag, err := tx.Exec(ctx, `UPDATE custody SET amount = amount + $1 WHERE listing_id = $2`, amount, listingID)
	if err != nil {
		return fmt.Errorf("ledger: credit custody: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustodyNotFound
	}
	return nil
}

// DebitCustody releases value from the listing's custody account. Custody may
// never go negative; a short balance indicates a settlement-plan defect, not a
// caller error, so it surfaces as a wrapped conservation failure.
func (r *Repository) DebitCustody(ctx context.Context, tx pgx.Tx, listingID string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	tag, err := tx.Exec(ctx, `
        UPDATE custody
        SET amount = amount - $1
        WHERE listing_id = $2 AND amount >= $1
    `, amount, listingID)
	if err != nil {
		return fmt.Errorf("ledger: debit custody: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: custody conservation violated for listing %s (debit %d)", listingID, amount)
	}
	return nil
}

// CustodyBalanceTx reads the custody balance inside a transaction, locking the
// row for the duration.
func (r *Repository) CustodyBalanceTx(ctx context.Context, tx pgx.Tx, listingID string) (int64, error) {
	var amount int64
	err := tx.QueryRow(ctx, `SELECT amount FROM custody WHERE listing_id = $1 FOR UPDATE`, listingID).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCustodyNotFound
		}
		return 0, fmt.Errorf("ledger: custody balance: %w", err)
	}
	return amount, nil
}

// CustodyBalance reads the custody balance outside any transaction.
func (r *Repository) CustodyBalance(ctx context.Context, listingID string) (int64, error) {
	var amount int64
	err := r.pool.QueryRow(ctx, `SELECT amount FROM custody WHERE listing_id = $1`, listingID).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCustodyNotFound
		}
		return 0, fmt.Errorf("ledger: custody balance: %w", err)
	}
	return amount, nil
}

// FreeBalance reads an account's free balance; missing rows read as zero.
func (r *Repository) FreeBalance(ctx context.Context, account string) (int64, error) {
	var amount int64
	err := r.pool.QueryRow(ctx, `SELECT amount FROM balances WHERE account_id = $1`, account).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: free balance: %w", err)
	}
	return amount, nil
}

// AppendEvent records one value movement in the append-only settlement log.
// seq is allocated per listing under the listing row lock held by the caller.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, listingID, kind, debit, credit string, amount int64, payload map[string]any) error {
	body := []byte(`{}`)
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ledger: marshal event payload: %w", err)
		}
	}

	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM ledger_events WHERE listing_id = $1`, listingID).Scan(&seq); err != nil {
		return fmt.Errorf("ledger: next event seq: %w", err)
	}

	_, err := tx.Exec(ctx, `
        INSERT INTO ledger_events (listing_id, seq, kind, debit_account, credit_account, amount, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
    `, listingID, seq, kind, debit, credit, amount, body)
	if err != nil {
		return fmt.Errorf("ledger: append event: %w", err)
	}
	return nil
}

// Deposit moves value from an account's free balance into the listing's
// custody account and records it in the event log.
func (r *Repository) Deposit(ctx context.Context, tx pgx.Tx, listingID, from, kind string, amount int64) error {
	if err := r.DebitFree(ctx, tx, from, amount); err != nil {
		return err
	}
	if err := r.CreditCustody(ctx, tx, listingID, amount); err != nil {
		return err
	}
	return r.AppendEvent(ctx, tx, listingID, kind, from, CustodyAccountName, amount, nil)
}

// Apply executes a settlement plan against the listing's custody account:
// each transfer debits custody, credits the target's free balance, and lands
// in the event log. The plan is expected to drain custody to exactly zero;
// Apply verifies the remainder and fails the transaction otherwise.
func (r *Repository) Apply(ctx context.Context, tx pgx.Tx, listingID string, transfers []Transfer) error {
	for _, t := range transfers {
		if t.Debit != CustodyAccountName {
			return fmt.Errorf("ledger: settlement transfer must debit custody, got %q", t.Debit)
		}
		if err := r.DebitCustody(ctx, tx, listingID, t.Amount); err != nil {
			return err
		}
		if err := r.CreditFree(ctx, tx, t.Credit, t.Amount); err != nil {
			return err
		}
		if err := r.AppendEvent(ctx, tx, listingID, t.Kind, CustodyAccountName, t.Credit, t.Amount, t.Payload); err != nil {
			return err
		}
	}

	var remaining int64
	if err := tx.QueryRow(ctx, `SELECT amount FROM custody WHERE listing_id = $1`, listingID).Scan(&remaining); err != nil {
		return fmt.Errorf("ledger: verify settlement: %w", err)
	}
	if remaining != 0 {
		return fmt.Errorf("ledger: custody conservation violated for listing %s (remainder %d)", listingID, remaining)
	}
	return nil
}

// Events returns the settlement log for a listing in append order.
func (r *Repository) Events(ctx context.Context, listingID string) ([]Event, error) {
	const query = `
        SELECT id, listing_id, seq, kind, debit_account, credit_account, amount, created_at
        FROM ledger_events
        WHERE listing_id = $1
        ORDER BY seq ASC
    `

	rows, err := r.pool.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 8)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ListingID, &e.Seq, &e.Kind, &e.DebitAccount, &e.CreditAccount, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate events: %w", err)
	}
	return out, nil
}
