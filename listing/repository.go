package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested listing does not exist.
	ErrNotFound = errors.New("listing: not found")
	// ErrInvalidState signals the operation is not legal for the listing's
	// current lifecycle state.
	ErrInvalidState = errors.New("listing: invalid state for operation")
	// ErrNotAuthorized signals the caller is not the party the operation requires.
	ErrNotAuthorized = errors.New("listing: caller not authorized")
	// ErrNotEligible signals the account failed the trade-eligibility gate.
	ErrNotEligible = errors.New("listing: account not trade-eligible")
	// ErrInvalidPrice rejects non-positive prices.
	ErrInvalidPrice = errors.New("listing: price must be positive")
)

// Repository provides row access for listings. Mutating methods take the
// caller's transaction so state changes land atomically with the ledger
// movements they imply.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const listingColumns = `id, seller_id, buyer_id, price, seller_stake, content_ref, status::text, created_at, updated_at`

func scanListing(row pgx.Row) (Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.SellerID, &l.BuyerID, &l.Price, &l.SellerStake, &l.ContentRef, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: scan: %w", err)
	}
	return l, nil
}

// InsertParams enumerates the fields required to create a listing row.
type InsertParams struct {
	SellerID    string
	Price       int64
	SellerStake int64
	ContentRef  string
}

// Insert creates the listing row in Active state.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Listing, error) {
	const query = `
        INSERT INTO listings (seller_id, price, seller_stake, content_ref, status)
        VALUES ($1, $2, $3, $4, 'active')
        RETURNING ` + listingColumns

	l, err := scanListing(tx.QueryRow(ctx, query, params.SellerID, params.Price, params.SellerStake, params.ContentRef))
	if err != nil {
		return Listing{}, fmt.Errorf("listing: insert: %w", err)
	}
	return l, nil
}

// GetForUpdate loads a listing inside the transaction, holding the row lock
// until commit so no other mutating operation can interleave.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Listing, error) {
	const query = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1 FOR UPDATE`
	return scanListing(tx.QueryRow(ctx, query, id))
}

// SetCommitted records the buyer and flips the listing to Committed.
func (r *Repository) SetCommitted(ctx context.Context, tx pgx.Tx, id, buyer string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE listings
        SET buyer_id = $1, status = 'committed', updated_at = now()
        WHERE id = $2 AND status = 'active'
    `, buyer, id)
	if err != nil {
		return fmt.Errorf("listing: set committed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// SetStatus transitions the listing's status field.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	tag, err := tx.Exec(ctx, `
        UPDATE listings
        SET status = $1::listing_status, updated_at = now()
        WHERE id = $2 AND status = $3::listing_status
    `, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("listing: set status %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Get fetches a listing by id outside any transaction.
func (r *Repository) Get(ctx context.Context, id string) (Listing, error) {
	const query = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	return scanListing(r.pool.QueryRow(ctx, query, id))
}

// History returns all listings in which the account participated as seller or
// buyer, newest first.
func (r *Repository) History(ctx context.Context, account string) ([]Listing, error) {
	const query = `
        SELECT ` + listingColumns + `
        FROM listings
        WHERE seller_id = $1 OR buyer_id = $1
        ORDER BY created_at DESC
    `

	rows, err := r.pool.Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("listing: history: %w", err)
	}
	defer rows.Close()

	out := make([]Listing, 0, 8)
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.SellerID, &l.BuyerID, &l.Price, &l.SellerStake, &l.ContentRef, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("listing: scan history: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate history: %w", err)
	}
	return out, nil
}

// EnqueueOutbox emits a message for downstream delivery in the caller's
// transaction.
func EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("listing: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("listing: enqueue outbox: %w", err)
	}
	return nil
}
