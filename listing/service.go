package listing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
	"escrowflow/settlement"
)

// Gate is the externally supplied trade-eligibility check consulted before
// an account may list or commit. The core never decides eligibility itself.
type Gate interface {
	IsTradeEligible(ctx context.Context, account string) (bool, error)
}

// Service owns the listing lifecycle. Every mutating operation runs as one
// transaction: the listing row is locked, preconditions are validated, and
// the status change plus all ledger movements commit together or not at all.
type Service struct {
	pool   *pgxpool.Pool
	repo   *Repository
	ledger *ledger.Repository
	gate   Gate
}

func NewService(pool *pgxpool.Pool, repo *Repository, ldg *ledger.Repository, gate Gate) *Service {
	return &Service{pool: pool, repo: repo, ledger: ldg, gate: gate}
}

// Create posts a new listing for the seller, locking the 10% commitment
// stake into the listing's custody account.
func (s *Service) Create(ctx context.Context, seller string, price int64, contentRef string) (Listing, error) {
	if price <= 0 {
		return Listing{}, ErrInvalidPrice
	}

	eligible, err := s.gate.IsTradeEligible(ctx, seller)
	if err != nil {
		return Listing{}, fmt.Errorf("listing: eligibility check: %w", err)
	}
	if !eligible {
		return Listing{}, ErrNotEligible
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Listing{}, fmt.Errorf("listing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.Insert(ctx, tx, InsertParams{
		SellerID:    seller,
		Price:       price,
		SellerStake: settlement.Stake(price),
		ContentRef:  contentRef,
	})
	if err != nil {
		return Listing{}, err
	}

	if err := s.ledger.OpenCustody(ctx, tx, l.ID); err != nil {
		return Listing{}, err
	}
	if err := s.ledger.Deposit(ctx, tx, l.ID, seller, "stake_deposit", l.SellerStake); err != nil {
		return Listing{}, err
	}

	if err := EnqueueOutbox(ctx, tx, OutboxTopicListingCreated, map[string]any{
		"listing_id": l.ID,
		"seller_id":  l.SellerID,
		"price":      l.Price,
	}); err != nil {
		return Listing{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Listing{}, fmt.Errorf("listing: commit tx: %w", err)
	}
	return l, nil
}

// Commit records the buyer on an Active listing and locks the full price
// into custody alongside the seller's stake.
func (s *Service) Commit(ctx context.Context, listingID, buyer string) error {
	eligible, err := s.gate.IsTradeEligible(ctx, buyer)
	if err != nil {
		return fmt.Errorf("listing: eligibility check: %w", err)
	}
	if !eligible {
		return ErrNotEligible
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("listing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.GetForUpdate(ctx, tx, listingID)
	if err != nil {
		return err
	}
	if l.Status != StatusActive {
		return ErrInvalidState
	}
	if buyer == l.SellerID {
		return ErrNotAuthorized
	}

	if err := s.repo.SetCommitted(ctx, tx, listingID, buyer); err != nil {
		return err
	}
	if err := s.ledger.Deposit(ctx, tx, listingID, buyer, "payment_deposit", l.Price); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("listing: commit tx: %w", err)
	}
	return nil
}

// Cancel withdraws an Active listing. Only the seller may cancel, and only
// while no buyer has committed; the stake is refunded in full.
func (s *Service) Cancel(ctx context.Context, listingID, caller string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("listing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.GetForUpdate(ctx, tx, listingID)
	if err != nil {
		return err
	}
	if l.Status != StatusActive {
		return ErrInvalidState
	}
	if caller != l.SellerID {
		return ErrNotAuthorized
	}

	if err := s.SettleTx(ctx, tx, l, settlement.Cancelled, StatusCancelled); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("listing: commit tx: %w", err)
	}
	return nil
}

// ConfirmDelivery settles a Committed listing as a successful deal. Only the
// buyer may confirm.
func (s *Service) ConfirmDelivery(ctx context.Context, listingID, caller string) error {
	return s.buyerTerminal(ctx, listingID, caller, settlement.SuccessfulDeal, StatusCompleted)
}

// BackOut lets the committed buyer withdraw before delivery: 75% of the price
// is refunded and the seller keeps the remainder plus the stake.
func (s *Service) BackOut(ctx context.Context, listingID, caller string) error {
	return s.buyerTerminal(ctx, listingID, caller, settlement.BuyerBacksOut, StatusBackedOut)
}

func (s *Service) buyerTerminal(ctx context.Context, listingID, caller string, outcome settlement.Outcome, terminal Status) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("listing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.GetForUpdate(ctx, tx, listingID)
	if err != nil {
		return err
	}
	if l.Status != StatusCommitted {
		return ErrInvalidState
	}
	if caller != l.Buyer() {
		return ErrNotAuthorized
	}

	if err := s.SettleTx(ctx, tx, l, outcome, terminal); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("listing: commit tx: %w", err)
	}
	return nil
}

// SettleTx applies the settlement plan for the outcome and moves the listing
// to its terminal status, inside the caller's transaction. The dispute engine
// calls this when a quorum resolution settles the listing. The custody
// account reaches exactly zero or the whole transaction fails.
func (s *Service) SettleTx(ctx context.Context, tx pgx.Tx, l Listing, outcome settlement.Outcome, terminal Status) error {
	plan, err := settlement.Plan(settlement.Snapshot{
		ListingID:   l.ID,
		Seller:      l.SellerID,
		Buyer:       l.Buyer(),
		Price:       l.Price,
		SellerStake: l.SellerStake,
	}, outcome)
	if err != nil {
		return err
	}

	if err := s.ledger.Apply(ctx, tx, l.ID, plan); err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, tx, l.ID, l.Status, terminal); err != nil {
		return err
	}

	return EnqueueOutbox(ctx, tx, OutboxTopicListingSettled, map[string]any{
		"listing_id": l.ID,
		"outcome":    outcome.String(),
		"status":     string(terminal),
	})
}

// Get returns the listing by id.
func (s *Service) Get(ctx context.Context, id string) (Listing, error) {
	return s.repo.Get(ctx, id)
}

// History returns the account's listings as buyer or seller.
func (s *Service) History(ctx context.Context, account string) ([]Listing, error) {
	return s.repo.History(ctx, account)
}
