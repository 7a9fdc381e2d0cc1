package wallet

import "time"

// EntryKind enumerates ledger entry kinds. Holds keep points attached to an
// in-flight job; captures settle them, releases return them.
type EntryKind string

const (
	EntryGrant   EntryKind = "grant"
	EntryDeposit EntryKind = "deposit"
	EntryHold    EntryKind = "hold"
	EntryCapture EntryKind = "capture"
	EntryRelease EntryKind = "release"
)

// Account is a user's points balance. Held is the sum of active holds;
// Balance - Held is what new jobs can draw on.
type Account struct {
	ID        string
	UserID    string
	Balance   int64
	Held      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the points not locked by active holds.
func (a Account) Available() int64 { return a.Balance - a.Held }

// Entry is one append-only ledger row. Amount is always positive; the kind
// determines the direction. JobID links hold/capture/release entries to the
// generation job that caused them.
type Entry struct {
	ID        string
	UserID    string
	JobID     string
	Kind      EntryKind
	Amount    int64
	Note      string
	CreatedAt time.Time
}
