package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrAlreadyResolved signals a mutating call against a resolved dispute.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
	// ErrDuplicateVote signals the validator has already voted on this dispute.
	ErrDuplicateVote = errors.New("dispute: duplicate vote")
	// ErrNotParty signals the raiser is neither the buyer nor the seller.
	ErrNotParty = errors.New("dispute: raiser is not a party to the listing")
	// ErrValidatorIneligible signals the voter is inactive or has no stake left.
	ErrValidatorIneligible = errors.New("dispute: validator not eligible to vote")
)

// Repository provides row access for disputes and their votes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const disputeColumns = `id, listing_id, raised_by, reason, evidence_ref, status::text, outcome, created_at, resolved_at`

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(&d.ID, &d.ListingID, &d.RaisedBy, &d.Reason, &d.EvidenceRef, &d.Status, &d.Outcome, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: scan: %w", err)
	}
	return d, nil
}

// Insert files a new open dispute against the listing.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, listingID, raisedBy, reason, evidenceRef string) (Dispute, error) {
	const query = `
        INSERT INTO disputes (listing_id, raised_by, reason, evidence_ref, status)
        VALUES ($1, $2, $3, $4, 'open')
        RETURNING ` + disputeColumns

	d, err := scanDispute(tx.QueryRow(ctx, query, listingID, raisedBy, reason, evidenceRef))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return d, nil
}

// GetForUpdate loads a dispute inside the transaction, holding the row lock
// so concurrent votes serialize.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	return scanDispute(tx.QueryRow(ctx, query, id))
}

// Get fetches a dispute by id outside any transaction.
func (r *Repository) Get(ctx context.Context, id string) (Dispute, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	return scanDispute(r.pool.QueryRow(ctx, query, id))
}

// ListOpen returns all unresolved disputes, oldest first.
func (r *Repository) ListOpen(ctx context.Context) ([]Dispute, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE status = 'open' ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dispute: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		var d Dispute
		if err := rows.Scan(&d.ID, &d.ListingID, &d.RaisedBy, &d.Reason, &d.EvidenceRef, &d.Status, &d.Outcome, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan open: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate open: %w", err)
	}
	return out, nil
}

// InsertVote records a validator's vote. The unique constraint on
// (dispute_id, validator_id) guards the one-vote-per-validator invariant.
func (r *Repository) InsertVote(ctx context.Context, tx pgx.Tx, disputeID, validatorID string, productValid bool) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO dispute_votes (dispute_id, validator_id, product_valid)
        VALUES ($1, $2, $3)
    `, disputeID, validatorID, productValid)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateVote
		}
		return fmt.Errorf("dispute: insert vote: %w", err)
	}
	return nil
}

// Votes returns the immutable snapshot of cast votes inside the transaction.
func (r *Repository) Votes(ctx context.Context, tx pgx.Tx, disputeID string) ([]Vote, error) {
	rows, err := tx.Query(ctx, `
        SELECT dispute_id, validator_id, product_valid, created_at
        FROM dispute_votes
        WHERE dispute_id = $1
        ORDER BY created_at ASC
    `, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: load votes: %w", err)
	}
	defer rows.Close()

	out := make([]Vote, 0, Quorum)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.DisputeID, &v.ValidatorID, &v.ProductValid, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan vote: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate votes: %w", err)
	}
	return out, nil
}

// Resolve stamps the outcome and flips the dispute to resolved. Votes and
// outcome are immutable from here on.
func (r *Repository) Resolve(ctx context.Context, tx pgx.Tx, id, outcome string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE disputes
        SET status = 'resolved', outcome = $2, resolved_at = now()
        WHERE id = $1 AND status = 'open'
    `, id, outcome)
	if err != nil {
		return fmt.Errorf("dispute: resolve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}
