package ledger

import "time"

// PlatformAccount is the reserved treasury account. It collects platform fees
// and forfeited validator stake and funds validator rewards. It is the only
// balance row allowed to go negative.
const PlatformAccount = "platform"

// Transfer is one instruction to move value out of a listing's custody
// account into a free balance.
type Transfer struct {
	Kind    string
	Debit   string
	Credit  string
	Amount  int64
	Payload map[string]any
}

// Event mirrors one row of the append-only ledger_events log.
type Event struct {
	ID            int64
	ListingID     string
	Seq           int
	Kind          string
	DebitAccount  string
	CreditAccount string
	Amount        int64
	CreatedAt     time.Time
}

// Custody accounts and free balances are addressed by well-known pseudo
// account names inside a settlement plan.
const (
	// CustodyAccountName marks the listing's own custody account as the
	// debit or credit side of a transfer.
	CustodyAccountName = "custody"
)
