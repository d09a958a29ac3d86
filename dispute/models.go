package dispute

import "time"

// Status represents the lifecycle of a dispute record. Resolved is terminal;
// there is no transition back to Open.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Policy constants for adjudication.
const (
	// Quorum is the minimum number of cast votes before an outcome can be
	// finalized.
	Quorum = 3
	// MajorityReward is credited to each validator who voted with the
	// majority, in minor units.
	MajorityReward int64 = 50
	// MinorityPenalty is slashed from each validator who voted against the
	// majority. Deliberately smaller than the reward.
	MinorityPenalty int64 = 25
)

// Dispute mirrors the disputes table.
type Dispute struct {
	ID          string
	ListingID   string
	RaisedBy    string
	Reason      string
	EvidenceRef string
	Status      Status
	Outcome     *string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Vote is one validator's verdict on a dispute: true means the product
// matches its description, false means misleading.
type Vote struct {
	DisputeID    string
	ValidatorID  string
	ProductValid bool
	CreatedAt    time.Time
}

const (
	// OutboxTopicDisputeRaised is published when a dispute is filed.
	OutboxTopicDisputeRaised = "dispute.raised"
	// OutboxTopicDisputeResolved is published when quorum resolves a dispute.
	OutboxTopicDisputeResolved = "dispute.resolved"
)
