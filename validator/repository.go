package validator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no validator record exists for the account.
	ErrNotFound = errors.New("validator: not found")
	// ErrNotActive signals the validator has unstaked.
	ErrNotActive = errors.New("validator: not active")
	// ErrAlreadyStaked signals the account already holds an active stake.
	ErrAlreadyStaked = errors.New("validator: already staked")
	// ErrBelowMinimum rejects stakes under the minimum bond.
	ErrBelowMinimum = errors.New("validator: stake below minimum")
	// ErrOpenObligations blocks unstaking while the validator has votes on
	// unresolved disputes.
	ErrOpenObligations = errors.New("validator: open dispute obligations")
)

// Repository provides row access for validator records.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const validatorColumns = `account_id, stake_initial, stake_current, reputation_earned, validation_count, active, created_at, updated_at`

func scanValidator(row pgx.Row) (Validator, error) {
	var v Validator
	err := row.Scan(&v.AccountID, &v.StakeInitial, &v.StakeCurrent, &v.ReputationEarned, &v.ValidationCount, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Validator{}, ErrNotFound
		}
		return Validator{}, fmt.Errorf("validator: scan: %w", err)
	}
	return v, nil
}

// Get fetches the validator record outside any transaction.
func (r *Repository) Get(ctx context.Context, account string) (Validator, error) {
	const query = `SELECT ` + validatorColumns + ` FROM validators WHERE account_id = $1`
	return scanValidator(r.pool.QueryRow(ctx, query, account))
}

// GetForUpdate loads the validator inside the transaction holding its row lock.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, account string) (Validator, error) {
	const query = `SELECT ` + validatorColumns + ` FROM validators WHERE account_id = $1 FOR UPDATE`
	return scanValidator(tx.QueryRow(ctx, query, account))
}

// Activate creates the validator record or reactivates an unstaked one with a
// fresh bond. Reputation and validation counters survive reactivation.
func (r *Repository) Activate(ctx context.Context, tx pgx.Tx, account string, amount int64) (Validator, error) {
	const query = `
        INSERT INTO validators (account_id, stake_initial, stake_current, active)
        VALUES ($1, $2, $2, true)
        ON CONFLICT (account_id) DO UPDATE
        SET stake_initial = EXCLUDED.stake_initial,
            stake_current = EXCLUDED.stake_current,
            active = true,
            updated_at = now()
        WHERE validators.active = false
        RETURNING ` + validatorColumns

	v, err := scanValidator(tx.QueryRow(ctx, query, account, amount))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Conflict with an active record: the upsert's WHERE clause
			// filtered the update, so no row came back.
			return Validator{}, ErrAlreadyStaked
		}
		return Validator{}, fmt.Errorf("validator: activate: %w", err)
	}
	return v, nil
}

// Deactivate zeroes the stake and marks the validator inactive. The caller
// reads the refundable amount under the row lock before invoking this.
func (r *Repository) Deactivate(ctx context.Context, tx pgx.Tx, account string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE validators
        SET stake_current = 0, active = false, updated_at = now()
        WHERE account_id = $1 AND active = true
    `, account)
	if err != nil {
		return fmt.Errorf("validator: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// OpenObligations counts unresolved disputes the validator has voted on.
func (r *Repository) OpenObligations(ctx context.Context, tx pgx.Tx, account string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM dispute_votes dv
        JOIN disputes d ON d.id = dv.dispute_id
        WHERE dv.validator_id = $1 AND d.status = 'open'
    `, account).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("validator: count obligations: %w", err)
	}
	return n, nil
}

// PenalizeTx slashes the validator's stake, clamped at a floor of zero, and
// returns the amount actually deducted so the caller can forfeit it to the
// treasury. Only the dispute engine calls this, inside its resolution
// transaction.
func (r *Repository) PenalizeTx(ctx context.Context, tx pgx.Tx, account string, amount int64) (int64, error) {
	v, err := r.GetForUpdate(ctx, tx, account)
	if err != nil {
		return 0, err
	}
	deducted := amount
	if deducted > v.StakeCurrent {
		deducted = v.StakeCurrent
	}

	_, err = tx.Exec(ctx, `
        UPDATE validators
        SET stake_current = stake_current - $2,
            validation_count = validation_count + 1,
            updated_at = now()
        WHERE account_id = $1
    `, account, deducted)
	if err != nil {
		return 0, fmt.Errorf("validator: penalize: %w", err)
	}
	return deducted, nil
}

// RewardTx credits the validator's stake and reputation for voting with the
// majority. Only the dispute engine calls this, inside its resolution
// transaction.
func (r *Repository) RewardTx(ctx context.Context, tx pgx.Tx, account string, amount int64) error {
	tag, err := tx.Exec(ctx, `
        UPDATE validators
        SET stake_current = stake_current + $2,
            reputation_earned = reputation_earned + $2,
            validation_count = validation_count + 1,
            updated_at = now()
        WHERE account_id = $1
    `, account, amount)
	if err != nil {
		return fmt.Errorf("validator: reward: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
