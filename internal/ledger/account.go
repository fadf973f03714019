package ledger

import (
	"sync"
)

// BalanceField selects which side of an account a changeset entry touches
type BalanceField uint8

const (
	FieldAvailable BalanceField = iota
	FieldLocked
)

func (f BalanceField) String() string {
	switch f {
	case FieldAvailable:
		return "available"
	case FieldLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of an account after a mutation
type Snapshot struct {
	AccountID string `json:"account_id"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
	Version   uint64 `json:"version"`
}

// Total returns available + locked
func (s Snapshot) Total() int64 {
	return s.Available + s.Locked
}

// account holds one balance pair behind its own lock.
// Invariant: available >= 0 && locked >= 0.
type account struct {
	mu        sync.Mutex
	id        string
	available int64
	locked    int64
	version   uint64
}

func (a *account) snapshot() Snapshot {
	return Snapshot{
		AccountID: a.id,
		Available: a.available,
		Locked:    a.locked,
		Version:   a.version,
	}
}

// field returns a pointer to the requested balance. Caller holds a.mu.
func (a *account) field(f BalanceField) *int64 {
	if f == FieldLocked {
		return &a.locked
	}
	return &a.available
}

// BalanceChange is emitted after every successful mutation
type BalanceChange struct {
	Sequence  uint64       `json:"sequence"`
	AccountID string       `json:"account_id"`
	Field     BalanceField `json:"field"`
	Delta     int64        `json:"delta"`
	Reason    string       `json:"reason"`
	Balance   Snapshot     `json:"balance"`
}

// Listener receives balance changes synchronously, under the account lock.
// Listeners must not call back into the ledger.
type Listener func(BalanceChange)
