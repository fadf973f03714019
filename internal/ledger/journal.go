package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Entry is a single leg of a changeset
type Entry struct {
	AccountID string       `json:"account_id"`
	Field     BalanceField `json:"field"`
	Amount    int64        `json:"amount"` // ALWAYS positive
	Reason    string       `json:"reason,omitempty"`
}

// Changeset is a batch of balance movements applied as debits then credits.
// No rollback: callers only build changesets whose debits are backed by
// collateral that is already locked.
type Changeset struct {
	ID      uuid.UUID `json:"id"`
	Reason  string    `json:"reason"`
	Debits  []Entry   `json:"debits"`
	Credits []Entry   `json:"credits"`
}

// Validate ensures the changeset is well-formed
func (cs *Changeset) Validate() error {
	if len(cs.Debits) == 0 && len(cs.Credits) == 0 {
		return fmt.Errorf("changeset %s is empty", cs.ID)
	}

	for _, e := range append(append([]Entry(nil), cs.Debits...), cs.Credits...) {
		if e.Amount <= 0 {
			return fmt.Errorf("changeset %s: %w: %s has %d", cs.ID, ErrInvalidAmount, e.AccountID, e.Amount)
		}
		if e.AccountID == "" {
			return fmt.Errorf("changeset %s has entry without account", cs.ID)
		}
		if e.Field != FieldAvailable && e.Field != FieldLocked {
			return fmt.Errorf("changeset %s has entry with unknown field %d", cs.ID, e.Field)
		}
	}

	return nil
}

// Net returns the signed change the changeset makes to an account field
func (cs *Changeset) Net(accountID string, field BalanceField) int64 {
	var net int64
	for _, e := range cs.Debits {
		if e.AccountID == accountID && e.Field == field {
			net -= e.Amount
		}
	}
	for _, e := range cs.Credits {
		if e.AccountID == accountID && e.Field == field {
			net += e.Amount
		}
	}
	return net
}

func (cs *Changeset) reasonFor(e Entry) string {
	if e.Reason != "" {
		return e.Reason
	}
	return cs.Reason
}
