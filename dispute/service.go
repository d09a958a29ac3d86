package dispute

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
	"escrowflow/listing"
	"escrowflow/settlement"
	"escrowflow/validator"
)

// Settler settles a listing under a terminal outcome inside the caller's
// transaction. Implemented by listing.Service.
type Settler interface {
	SettleTx(ctx context.Context, tx pgx.Tx, l listing.Listing, outcome settlement.Outcome, terminal listing.Status) error
}

// Service is the dispute engine: it files disputes against committed
// listings, collects validator votes, and resolves the dispute, settles the
// listing, and rewards/penalizes voters in one transaction the moment quorum
// produces a strict majority.
type Service struct {
	pool       *pgxpool.Pool
	repo       *Repository
	listings   *listing.Repository
	validators *validator.Repository
	ledger     *ledger.Repository
	settler    Settler
}

func NewService(pool *pgxpool.Pool, repo *Repository, listings *listing.Repository, validators *validator.Repository, ldg *ledger.Repository, settler Settler) *Service {
	return &Service{
		pool:       pool,
		repo:       repo,
		listings:   listings,
		validators: validators,
		ledger:     ldg,
		settler:    settler,
	}
}

// Raise files a dispute against a committed listing. Only the buyer or the
// seller may raise one; the listing moves to Disputed.
func (s *Service) Raise(ctx context.Context, listingID, raisedBy, reason, evidenceRef string) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.listings.GetForUpdate(ctx, tx, listingID)
	if err != nil {
		return Dispute{}, err
	}
	if l.Status != listing.StatusCommitted {
		return Dispute{}, listing.ErrInvalidState
	}
	if raisedBy != l.SellerID && raisedBy != l.Buyer() {
		return Dispute{}, ErrNotParty
	}

	if err := s.listings.SetStatus(ctx, tx, listingID, listing.StatusCommitted, listing.StatusDisputed); err != nil {
		return Dispute{}, err
	}

	d, err := s.repo.Insert(ctx, tx, listingID, raisedBy, reason, evidenceRef)
	if err != nil {
		return Dispute{}, err
	}

	if err := listing.EnqueueOutbox(ctx, tx, OutboxTopicDisputeRaised, map[string]any{
		"dispute_id": d.ID,
		"listing_id": listingID,
		"raised_by":  raisedBy,
	}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return d, nil
}

// Vote records a validator's verdict and re-evaluates quorum over the fresh
// vote snapshot. When the tally reaches quorum with a strict majority the
// dispute resolves in this same transaction: the listing settles, majority
// voters are rewarded and minority voters penalized. A tie leaves the
// dispute open awaiting more votes.
func (s *Service) Vote(ctx context.Context, disputeID, validatorID string, productValid bool) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != StatusOpen {
		return Dispute{}, ErrAlreadyResolved
	}

	v, err := s.validators.GetForUpdate(ctx, tx, validatorID)
	if err != nil {
		return Dispute{}, err
	}
	if !v.CanVote() {
		return Dispute{}, ErrValidatorIneligible
	}

	if err := s.repo.InsertVote(ctx, tx, disputeID, validatorID, productValid); err != nil {
		return Dispute{}, err
	}

	votes, err := s.repo.Votes(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}

	majorityValid, decided := TallyVotes(votes).Decision(Quorum)
	if decided {
		if err := s.resolve(ctx, tx, &d, votes, majorityValid); err != nil {
			return Dispute{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return d, nil
}

// resolve finalizes the dispute: settle the listing under the majority
// outcome, stamp the dispute resolved, and move stake between the treasury
// and the voters.
func (s *Service) resolve(ctx context.Context, tx pgx.Tx, d *Dispute, votes []Vote, majorityValid bool) error {
	l, err := s.listings.GetForUpdate(ctx, tx, d.ListingID)
	if err != nil {
		return err
	}
	if l.Status != listing.StatusDisputed {
		return listing.ErrInvalidState
	}

	outcome := settlement.SellerScam
	terminal := listing.StatusRefunded
	if majorityValid {
		outcome = settlement.SuccessfulDeal
		terminal = listing.StatusCompleted
	}

	if err := s.settler.SettleTx(ctx, tx, l, outcome, terminal); err != nil {
		return err
	}
	if err := s.repo.Resolve(ctx, tx, d.ID, outcome.String()); err != nil {
		return err
	}

	for _, vote := range votes {
		if vote.ProductValid == majorityValid {
			if err := s.validators.RewardTx(ctx, tx, vote.ValidatorID, MajorityReward); err != nil {
				return err
			}
			if err := s.ledger.DebitFree(ctx, tx, ledger.PlatformAccount, MajorityReward); err != nil {
				return err
			}
			if err := s.ledger.AppendEvent(ctx, tx, d.ListingID, "validator_reward", ledger.PlatformAccount, vote.ValidatorID, MajorityReward, nil); err != nil {
				return err
			}
			continue
		}

		deducted, err := s.validators.PenalizeTx(ctx, tx, vote.ValidatorID, MinorityPenalty)
		if err != nil {
			return err
		}
		if err := s.ledger.CreditFree(ctx, tx, ledger.PlatformAccount, deducted); err != nil {
			return err
		}
		if err := s.ledger.AppendEvent(ctx, tx, d.ListingID, "validator_penalty", vote.ValidatorID, ledger.PlatformAccount, deducted, nil); err != nil {
			return err
		}
	}

	outcomeLabel := outcome.String()
	d.Status = StatusResolved
	d.Outcome = &outcomeLabel

	return listing.EnqueueOutbox(ctx, tx, OutboxTopicDisputeResolved, map[string]any{
		"dispute_id": d.ID,
		"listing_id": d.ListingID,
		"outcome":    outcomeLabel,
	})
}

// Get returns the dispute by id.
func (s *Service) Get(ctx context.Context, id string) (Dispute, error) {
	return s.repo.Get(ctx, id)
}

// ListOpen returns all unresolved disputes.
func (s *Service) ListOpen(ctx context.Context) ([]Dispute, error) {
	return s.repo.ListOpen(ctx)
}
