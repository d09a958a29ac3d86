// Package actors contains concurrent workload drivers for the stress
// harness. Each actor loops until its context is cancelled, hammering one
// slice of the marketplace through the real service layer. Domain errors
// (insufficient funds, lost races on listing state, duplicate votes) are
// expected under contention and are swallowed; only context cancellation
// stops an actor.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/dispute"
	"escrowflow/listing"
)

// Seller creates listings and occasionally cancels one of its own active
// listings before a buyer shows up.
func Seller(ctx context.Context, pool *pgxpool.Pool, svc *listing.Service, sellerID string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		price := int64(100+rand.Intn(5000)) * 10
		l, err := svc.Create(ctx, sellerID, price, "ref://stress-item")
		if err != nil {
			continue
		}

		if rand.Intn(4) == 0 {
			// Races with Buyer commits; ErrInvalidState is the
			// expected loser's outcome.
			_ = svc.Cancel(ctx, l.ID, sellerID)
		}
		sleep(ctx, 5*time.Millisecond)
	}
}

// Buyer commits to a random active listing and then drives it to a
// terminal state: confirm delivery, back out, or leave it committed for
// the Disputer to pick up.
func Buyer(ctx context.Context, pool *pgxpool.Pool, svc *listing.Service, buyerID string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		id, ok := randomListing(ctx, pool, "active", "")
		if !ok {
			sleep(ctx, 10*time.Millisecond)
			continue
		}
		if err := svc.Commit(ctx, id, buyerID); err != nil {
			continue
		}

		switch rand.Intn(3) {
		case 0:
			_ = svc.ConfirmDelivery(ctx, id, buyerID)
		case 1:
			_ = svc.BackOut(ctx, id, buyerID)
		default:
			// Leave committed; a dispute may be raised on it.
		}
		sleep(ctx, 5*time.Millisecond)
	}
}

// Disputer raises disputes on committed listings where the given account
// is the buyer.
func Disputer(ctx context.Context, pool *pgxpool.Pool, svc *dispute.Service, buyerID string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		id, ok := randomListing(ctx, pool, "committed", buyerID)
		if !ok {
			sleep(ctx, 20*time.Millisecond)
			continue
		}
		_, _ = svc.Raise(ctx, id, buyerID, "stress dispute", "ref://stress-evidence")
		sleep(ctx, 10*time.Millisecond)
	}
}

// Voter casts a random verdict on a random open dispute. Duplicate votes
// and already-resolved disputes are the common case under contention.
func Voter(ctx context.Context, pool *pgxpool.Pool, svc *dispute.Service, validatorID string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var disputeID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM disputes WHERE status = 'open' ORDER BY random() LIMIT 1`,
		).Scan(&disputeID)
		if err != nil {
			sleep(ctx, 20*time.Millisecond)
			continue
		}
		_, _ = svc.Vote(ctx, disputeID, validatorID, rand.Intn(2) == 0)
		sleep(ctx, 5*time.Millisecond)
	}
}

// OutboxWorker drains the outbox the way a real dispatcher would:
// SKIP LOCKED claim inside a transaction, mark processed, commit. Multiple
// workers may run concurrently against the same table.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := drainOne(ctx, pool); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				sleep(ctx, 10*time.Millisecond)
			}
			continue
		}
	}
}

func drainOne(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx,
		`SELECT id FROM outbox
		 WHERE status = 'pending'
		 ORDER BY created_at
		 FOR UPDATE SKIP LOCKED
		 LIMIT 1`,
	).Scan(&id)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE outbox SET status = 'delivered', attempts = attempts + 1 WHERE id = $1`, id,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// randomListing picks a random listing in the given status, optionally
// restricted to a specific buyer.
func randomListing(ctx context.Context, pool *pgxpool.Pool, status, buyerID string) (string, bool) {
	var (
		id  string
		err error
	)
	if buyerID == "" {
		err = pool.QueryRow(ctx,
			`SELECT id FROM listings WHERE status = $1 ORDER BY random() LIMIT 1`,
			status,
		).Scan(&id)
	} else {
		err = pool.QueryRow(ctx,
			`SELECT id FROM listings WHERE status = $1 AND buyer_id = $2 ORDER BY random() LIMIT 1`,
			status, buyerID,
		).Scan(&id)
	}
	return id, err == nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
