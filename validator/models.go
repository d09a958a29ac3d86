package validator

import "time"

// MinimumStake is the refundable bond required to become an eligible
// validator, in minor units.
const MinimumStake int64 = 500

// Validator mirrors the validators table.
type Validator struct {
	AccountID        string
	StakeInitial     int64
	StakeCurrent     int64
	ReputationEarned int64
	ValidationCount  int64
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CanVote reports whether the validator is currently allowed to vote on
// disputes.
func (v Validator) CanVote() bool {
	return v.Active && v.StakeCurrent > 0
}
