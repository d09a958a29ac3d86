package dispute

// Tally is the pure count of a dispute's cast votes. It is computed over an
// immutable snapshot taken inside the voting transaction, so quorum
// evaluation has no side effects of its own.
type Tally struct {
	Valid      int
	Misleading int
}

// TallyVotes counts the cast votes.
func TallyVotes(votes []Vote) Tally {
	var t Tally
	for _, v := range votes {
		if v.ProductValid {
			t.Valid++
		} else {
			t.Misleading++
		}
	}
	return t
}

// Total returns the number of cast votes.
func (t Tally) Total() int { return t.Valid + t.Misleading }

// Decision reports whether the tally finalizes an outcome under the given
// quorum: the vote count must reach the quorum AND a strict majority must
// exist. An even split at or above quorum leaves the dispute open awaiting
// further votes.
func (t Tally) Decision(quorum int) (productValid bool, decided bool) {
	if t.Total() < quorum {
		return false, false
	}
	switch {
	case t.Valid > t.Misleading:
		return true, true
	case t.Misleading > t.Valid:
		return false, true
	default:
		return false, false
	}
}
