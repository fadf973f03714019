package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// addChecked returns bal + amount, or ErrBalanceOverflow when the sum does not
// fit in int64. amount is always positive here.
func addChecked(field BalanceField, bal, amount int64) (int64, error) {
	if bal > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: %s=%d, adding %d", ErrBalanceOverflow, field, bal, amount)
	}
	return bal + amount, nil
}

// Ledger maintains in-memory account balances.
// Accounts are shared across orderbooks, so each one is guarded by its own mutex;
// mu only protects the account map.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account

	sequence  atomic.Uint64
	listeners []Listener
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
	}
}

// OnChange registers a listener. Not safe to call once the ledger is in use.
func (l *Ledger) OnChange(fn Listener) {
	l.listeners = append(l.listeners, fn)
}

// EnsureAccount returns the account, creating an empty one on first reference
func (l *Ledger) EnsureAccount(accountID string) Snapshot {
	acc := l.getOrCreate(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.snapshot()
}

// Balance returns the current balance. Unknown accounts read as empty.
func (l *Ledger) Balance(accountID string) Snapshot {
	l.mu.RLock()
	acc, ok := l.accounts[accountID]
	l.mu.RUnlock()
	if !ok {
		return Snapshot{AccountID: accountID}
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.snapshot()
}

// Credit adds amount to available
func (l *Ledger) Credit(accountID string, amount int64, reason string) (Snapshot, error) {
	return l.mutate(accountID, amount, reason, func(a *account) (BalanceField, int64, error) {
		next, err := addChecked(FieldAvailable, a.available, amount)
		if err != nil {
			return 0, 0, err
		}
		a.available = next
		return FieldAvailable, amount, nil
	})
}

// Debit removes amount from available
func (l *Ledger) Debit(accountID string, amount int64, reason string) (Snapshot, error) {
	return l.mutate(accountID, amount, reason, func(a *account) (BalanceField, int64, error) {
		if a.available < amount {
			return 0, 0, fmt.Errorf("%w: available=%d, need=%d", ErrInsufficientFunds, a.available, amount)
		}
		a.available -= amount
		return FieldAvailable, -amount, nil
	})
}

// Lock moves amount from available to locked
func (l *Ledger) Lock(accountID string, amount int64, reason string) (Snapshot, error) {
	return l.mutate(accountID, amount, reason, func(a *account) (BalanceField, int64, error) {
		if a.available < amount {
			return 0, 0, fmt.Errorf("%w: available=%d, need=%d", ErrInsufficientFunds, a.available, amount)
		}
		locked, err := addChecked(FieldLocked, a.locked, amount)
		if err != nil {
			return 0, 0, err
		}
		a.available -= amount
		a.locked = locked
		return FieldLocked, amount, nil
	})
}

// Unlock moves amount from locked back to available
func (l *Ledger) Unlock(accountID string, amount int64, reason string) (Snapshot, error) {
	return l.mutate(accountID, amount, reason, func(a *account) (BalanceField, int64, error) {
		if a.locked < amount {
			return 0, 0, fmt.Errorf("%w: locked=%d, need=%d", ErrInsufficientFunds, a.locked, amount)
		}
		available, err := addChecked(FieldAvailable, a.available, amount)
		if err != nil {
			return 0, 0, err
		}
		a.locked -= amount
		a.available = available
		return FieldLocked, -amount, nil
	})
}

// ApplyChangeset applies every debit, then every credit, in order.
// A failing entry stops the batch; entries already applied stay applied.
// Credits that could not fit in their balance reject the whole changeset
// before anything is applied.
func (l *Ledger) ApplyChangeset(cs *Changeset) error {
	if err := cs.Validate(); err != nil {
		return fmt.Errorf("invalid changeset: %w", err)
	}
	if err := l.checkCreditHeadroom(cs); err != nil {
		return fmt.Errorf("changeset %s: %w", cs.ID, err)
	}

	for i, e := range cs.Debits {
		if err := l.applyEntry(e, -1, cs.reasonFor(e)); err != nil {
			return fmt.Errorf("changeset %s debit %d (%s): %w", cs.ID, i, e.AccountID, err)
		}
	}
	for i, e := range cs.Credits {
		if err := l.applyEntry(e, 1, cs.reasonFor(e)); err != nil {
			return fmt.Errorf("changeset %s credit %d (%s): %w", cs.ID, i, e.AccountID, err)
		}
	}
	return nil
}

func (l *Ledger) checkCreditHeadroom(cs *Changeset) error {
	type slot struct {
		account string
		field   BalanceField
	}
	incoming := make(map[slot]int64, len(cs.Credits))
	for _, e := range cs.Credits {
		k := slot{e.AccountID, e.Field}
		sum, err := addChecked(e.Field, incoming[k], e.Amount)
		if err != nil {
			return err
		}
		incoming[k] = sum
	}
	for k, amount := range incoming {
		snap := l.Balance(k.account)
		bal := snap.Available
		if k.field == FieldLocked {
			bal = snap.Locked
		}
		if _, err := addChecked(k.field, bal, amount); err != nil {
			return fmt.Errorf("%s: %w", k.account, err)
		}
	}
	return nil
}

func (l *Ledger) applyEntry(e Entry, sign int64, reason string) error {
	_, err := l.mutate(e.AccountID, e.Amount, reason, func(a *account) (BalanceField, int64, error) {
		bal := a.field(e.Field)
		if sign < 0 {
			if *bal < e.Amount {
				return 0, 0, fmt.Errorf("%w: %s=%d, need=%d", ErrInsufficientFunds, e.Field, *bal, e.Amount)
			}
			*bal -= e.Amount
			return e.Field, -e.Amount, nil
		}
		next, err := addChecked(e.Field, *bal, e.Amount)
		if err != nil {
			return 0, 0, err
		}
		*bal = next
		return e.Field, e.Amount, nil
	})
	return err
}

func (l *Ledger) mutate(
	accountID string,
	amount int64,
	reason string,
	apply func(a *account) (BalanceField, int64, error),
) (Snapshot, error) {
	if amount <= 0 {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	acc := l.getOrCreate(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	field, delta, err := apply(acc)
	if err != nil {
		return acc.snapshot(), err
	}
	acc.version++
	snap := acc.snapshot()

	change := BalanceChange{
		Sequence:  l.sequence.Add(1),
		AccountID: accountID,
		Field:     field,
		Delta:     delta,
		Reason:    reason,
		Balance:   snap,
	}
	for _, fn := range l.listeners {
		fn(change)
	}
	return snap, nil
}

func (l *Ledger) getOrCreate(accountID string) *account {
	l.mu.RLock()
	acc, ok := l.accounts[accountID]
	l.mu.RUnlock()
	if ok {
		return acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok = l.accounts[accountID]; ok {
		return acc
	}
	acc = &account{id: accountID}
	l.accounts[accountID] = acc
	return acc
}

// Snapshot returns a copy of all balances, sorted by account id
func (l *Ledger) Snapshot() []Snapshot {
	l.mu.RLock()
	accs := make([]*account, 0, len(l.accounts))
	for _, a := range l.accounts {
		accs = append(accs, a)
	}
	l.mu.RUnlock()

	out := make([]Snapshot, 0, len(accs))
	for _, a := range accs {
		a.mu.Lock()
		out = append(out, a.snapshot())
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// TotalSupply sums available + locked across all accounts
func (l *Ledger) TotalSupply() int64 {
	var total int64
	for _, s := range l.Snapshot() {
		total += s.Total()
	}
	return total
}
