package listing

import "time"

// Status represents the lifecycle of a listing record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCommitted Status = "committed"
	StatusDisputed  Status = "disputed"
	StatusCompleted Status = "completed"
	StatusBackedOut Status = "backed_out"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBackedOut, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Listing mirrors the listings table.
type Listing struct {
	ID          string
	SellerID    string
	BuyerID     *string
	Price       int64
	SellerStake int64
	ContentRef  string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Buyer returns the committed buyer or empty when none is set.
func (l Listing) Buyer() string {
	if l.BuyerID == nil {
		return ""
	}
	return *l.BuyerID
}

const (
	// OutboxTopicListingCreated is published when a seller posts a listing.
	OutboxTopicListingCreated = "listing.created"
	// OutboxTopicListingSettled is published on every terminal settlement.
	OutboxTopicListingSettled = "listing.settled"
)
