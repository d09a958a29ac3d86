package settlement

import "fmt"

// Outcome is the closed set of terminal events a listing can settle under.
// The calculator switches over it exhaustively so a new outcome cannot
// silently fall through unhandled.
type Outcome uint8

const (
	// SuccessfulDeal releases the payment to the seller minus the platform
	// fee and returns the stake.
	SuccessfulDeal Outcome = iota + 1
	// BuyerBacksOut refunds 75% of the price to the buyer; the seller keeps
	// the remainder plus the stake.
	BuyerBacksOut
	// SellerScam refunds the full price to the buyer and forfeits the
	// seller's stake to the buyer.
	SellerScam
	// Cancelled returns the stake to the seller; only reachable before a
	// buyer commits.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case SuccessfulDeal:
		return "successful_deal"
	case BuyerBacksOut:
		return "buyer_backs_out"
	case SellerScam:
		return "seller_scam"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Valid reports whether the outcome value is a member of the closed set.
func (o Outcome) Valid() bool {
	switch o {
	case SuccessfulDeal, BuyerBacksOut, SellerScam, Cancelled:
		return true
	default:
		return false
	}
}
