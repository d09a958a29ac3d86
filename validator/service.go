package validator

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

// Service manages the validator registry and its stake pool. Stake moves
// between the account's free balance and the validator record in one
// transaction.
type Service struct {
	pool   *pgxpool.Pool
	repo   *Repository
	ledger *ledger.Repository
}

func NewService(pool *pgxpool.Pool, repo *Repository, ldg *ledger.Repository) *Service {
	return &Service{pool: pool, repo: repo, ledger: ldg}
}

// Stake bonds the account as a validator. The amount must cover the minimum
// bond and is debited from the account's free balance.
func (s *Service) Stake(ctx context.Context, account string, amount int64) (Validator, error) {
	if amount < MinimumStake {
		return Validator{}, ErrBelowMinimum
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Validator{}, fmt.Errorf("validator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ledger.DebitFree(ctx, tx, account, amount); err != nil {
		return Validator{}, err
	}

	v, err := s.repo.Activate(ctx, tx, account, amount)
	if err != nil {
		return Validator{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Validator{}, fmt.Errorf("validator: commit tx: %w", err)
	}
	return v, nil
}

// Unstake refunds the current stake and deactivates the validator. It is
// refused while the validator has votes on unresolved disputes.
func (s *Service) Unstake(ctx context.Context, account string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("validator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetForUpdate(ctx, tx, account)
	if err != nil {
		return err
	}
	if !v.Active {
		return ErrNotActive
	}

	open, err := s.repo.OpenObligations(ctx, tx, account)
	if err != nil {
		return err
	}
	if open > 0 {
		return ErrOpenObligations
	}

	if err := s.repo.Deactivate(ctx, tx, account); err != nil {
		return err
	}
	if err := s.ledger.CreditFree(ctx, tx, account, v.StakeCurrent); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("validator: commit tx: %w", err)
	}
	return nil
}

// Info returns the validator record for the account.
func (s *Service) Info(ctx context.Context, account string) (Validator, error) {
	return s.repo.Get(ctx, account)
}
