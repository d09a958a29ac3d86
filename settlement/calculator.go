package settlement

import (
	"errors"
	"fmt"

	"escrowflow/ledger"
)

var (
	// ErrBuyerRequired signals an outcome that pays the buyer was planned
	// for a listing without one.
	ErrBuyerRequired = errors.New("settlement: outcome requires a buyer")
	// ErrInvalidPrice rejects non-positive prices.
	ErrInvalidPrice = errors.New("settlement: price must be positive")
)

// Money math. Amounts are minor units; derived values use integer division
// and complements by subtraction so every plan conserves value exactly.

// Stake returns the seller's commitment bond for a price: 10%.
func Stake(price int64) int64 { return price * 10 / 100 }

// Fee returns the platform fee on a successful deal: 2% of price, deducted
// from the seller's payout.
func Fee(price int64) int64 { return price * 2 / 100 }

// BackOutRefund returns the buyer's refund when backing out post-commit: 75%.
func BackOutRefund(price int64) int64 { return price * 75 / 100 }

// Snapshot is the immutable view of a listing the calculator plans against.
type Snapshot struct {
	ListingID   string
	Seller      string
	Buyer       string
	Price       int64
	SellerStake int64
}

// Plan maps a listing snapshot and a terminal outcome to the exact set of
// custody debits that settle it. The transfers drain the custody account to
// zero; the ledger verifies the remainder when applying them. Plan performs
// no I/O.
func Plan(snap Snapshot, outcome Outcome) ([]ledger.Transfer, error) {
	if snap.Price <= 0 {
		return nil, ErrInvalidPrice
	}

	switch outcome {
	case SuccessfulDeal:
		if snap.Buyer == "" {
			return nil, ErrBuyerRequired
		}
		fee := Fee(snap.Price)
		return []ledger.Transfer{
			{Kind: "seller_payout", Debit: ledger.CustodyAccountName, Credit: snap.Seller, Amount: snap.Price - fee},
			{Kind: "stake_return", Debit: ledger.CustodyAccountName, Credit: snap.Seller, Amount: snap.SellerStake},
			{Kind: "platform_fee", Debit: ledger.CustodyAccountName, Credit: ledger.PlatformAccount, Amount: fee},
		}, nil

	case BuyerBacksOut:
		if snap.Buyer == "" {
			return nil, ErrBuyerRequired
		}
		refund := BackOutRefund(snap.Price)
		return []ledger.Transfer{
			{Kind: "backout_refund", Debit: ledger.CustodyAccountName, Credit: snap.Buyer, Amount: refund},
			{Kind: "backout_compensation", Debit: ledger.CustodyAccountName, Credit: snap.Seller, Amount: snap.Price - refund},
			{Kind: "stake_return", Debit: ledger.CustodyAccountName, Credit: snap.Seller, Amount: snap.SellerStake},
		}, nil

	case SellerScam:
		if snap.Buyer == "" {
			return nil, ErrBuyerRequired
		}
		return []ledger.Transfer{
			{Kind: "payment_refund", Debit: ledger.CustodyAccountName, Credit: snap.Buyer, Amount: snap.Price},
			{Kind: "stake_forfeit", Debit: ledger.CustodyAccountName, Credit: snap.Buyer, Amount: snap.SellerStake},
		}, nil

	case Cancelled:
		return []ledger.Transfer{
			{Kind: "stake_return", Debit: ledger.CustodyAccountName, Credit: snap.Seller, Amount: snap.SellerStake},
		}, nil

	default:
		return nil, fmt.Errorf("settlement: unknown outcome %v", outcome)
	}
}

// Total returns the value a plan moves out of custody.
func Total(transfers []ledger.Transfer) int64 {
	var sum int64
	for _, t := range transfers {
		sum += t.Amount
	}
	return sum
}
