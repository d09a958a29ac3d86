// Package oracles holds SQL invariant checks run against a live database
// while the stress actors are hammering it. Every oracle is a single query
// that returns zero rows when the invariant holds; any returned row is a
// violation with enough context to debug it.
package oracles

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a named invariant over the current database state.
type Oracle struct {
	Name  string
	Query string
}

// All returns every invariant the stress harness checks. Oracles must be
// safe to run mid-transaction-storm: they only read committed state, so a
// violation is a real broken invariant, not an artifact of timing.
func All() []Oracle {
	return []Oracle{
		{
			// Escrow conservation. The custody balance of a listing
			// is fully determined by its status: stake only while
			// active, stake plus price while committed or disputed,
			// exactly zero once terminal.
			Name: "custody_matches_status",
			Query: `
				SELECT l.id, l.status, l.price, l.seller_stake, c.amount
				FROM listings l
				JOIN custody c ON c.listing_id = l.id
				WHERE (l.status = 'active'    AND c.amount <> l.seller_stake)
				   OR (l.status IN ('committed','disputed')
				                             AND c.amount <> l.seller_stake + l.price)
				   OR (l.status IN ('completed','backed_out','refunded','cancelled')
				                             AND c.amount <> 0)`,
		},
		{
			// The event log must replay to the custody balance:
			// credits in minus debits out equals what is held now.
			Name: "events_replay_to_custody",
			Query: `
				SELECT c.listing_id, c.amount, COALESCE(SUM(
					CASE WHEN e.credit_account = 'custody' THEN e.amount
					     WHEN e.debit_account  = 'custody' THEN -e.amount
					     ELSE 0 END), 0) AS replayed
				FROM custody c
				LEFT JOIN ledger_events e ON e.listing_id = c.listing_id
				GROUP BY c.listing_id, c.amount
				HAVING c.amount <> COALESCE(SUM(
					CASE WHEN e.credit_account = 'custody' THEN e.amount
					     WHEN e.debit_account  = 'custody' THEN -e.amount
					     ELSE 0 END), 0)`,
		},
		{
			// Per-listing event sequences are dense and start at 1.
			Name: "event_seq_dense",
			Query: `
				SELECT listing_id, COUNT(*) AS events, MAX(seq) AS max_seq
				FROM ledger_events
				GROUP BY listing_id
				HAVING COUNT(*) <> MAX(seq) OR MIN(seq) <> 1`,
		},
		{
			// No account balance other than the platform treasury may
			// go negative, no matter how the transfers interleave.
			Name: "free_balances_nonnegative",
			Query: `
				SELECT account_id, amount FROM balances
				WHERE amount < 0 AND account_id <> 'platform'`,
		},
		{
			// One vote per validator per dispute; the unique index
			// enforces this, the oracle proves nothing slipped past it.
			Name: "no_double_votes",
			Query: `
				SELECT dispute_id, validator_id, COUNT(*)
				FROM dispute_votes
				GROUP BY dispute_id, validator_id
				HAVING COUNT(*) > 1`,
		},
		{
			// A resolved dispute recorded an outcome and its listing
			// left the disputed state; an open dispute did neither.
			Name: "dispute_listing_agreement",
			Query: `
				SELECT d.id, d.status, d.outcome, l.status AS listing_status
				FROM disputes d
				JOIN listings l ON l.id = d.listing_id
				WHERE (d.status = 'resolved' AND (d.outcome IS NULL
				       OR l.status NOT IN ('completed','refunded')))
				   OR (d.status = 'open' AND l.status <> 'disputed')`,
		},
		{
			// A buyer is recorded exactly when the listing has ever
			// been committed: never while active or cancelled, always
			// otherwise.
			Name: "buyer_presence",
			Query: `
				SELECT id, status, buyer_id FROM listings
				WHERE (status IN ('active','cancelled') AND buyer_id IS NOT NULL)
				   OR (status NOT IN ('active','cancelled') AND buyer_id IS NULL)`,
		},
		{
			// Validator stake and reputation never go below zero;
			// penalties clamp, they do not overdraw.
			Name: "validator_floors",
			Query: `
				SELECT account_id, stake_current, reputation_earned, validation_count
				FROM validators
				WHERE stake_current < 0 OR reputation_earned < 0 OR validation_count < 0`,
		},
		{
			// Outbox rows must not rot: anything unprocessed for more
			// than a minute means a worker wedged or an enqueue leaked
			// outside its transaction.
			Name: "outbox_not_stale",
			Query: `
				SELECT id, topic, created_at FROM outbox
				WHERE status = 'pending'
				  AND created_at < now() - interval '60 seconds'`,
		},
		{
			// The append-only guard triggers must still be attached.
			Name: "worm_triggers_present",
			Query: `
				SELECT t.relname FROM (VALUES ('listings'), ('ledger_events')) AS t(relname)
				WHERE NOT EXISTS (
					SELECT 1 FROM pg_trigger tr
					JOIN pg_class c ON c.oid = tr.tgrelid
					WHERE c.relname = t.relname AND tr.tgname LIKE '%no_delete%')`,
		},
	}
}

// Check runs one oracle and formats any violating rows.
func Check(ctx context.Context, pool *pgxpool.Pool, o Oracle) error {
	rows, err := pool.Query(ctx, o.Query)
	if err != nil {
		return fmt.Errorf("oracle %s: query: %w", o.Name, err)
	}
	defer rows.Close()

	var violations []string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("oracle %s: scan: %w", o.Name, err)
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprint(v)
		}
		violations = append(violations, strings.Join(parts, " | "))
		if len(violations) >= 10 {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("oracle %s: rows: %w", o.Name, err)
	}
	if len(violations) > 0 {
		return fmt.Errorf("oracle %s: %d violation(s):\n  %s",
			o.Name, len(violations), strings.Join(violations, "\n  "))
	}
	return nil
}
