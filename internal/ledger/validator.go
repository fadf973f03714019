package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	ledger *Ledger
}

func NewInvariantValidator(l *Ledger) *InvariantValidator {
	return &InvariantValidator{
		ledger: l,
	}
}

// ValidateNonNegative checks available >= 0 and locked >= 0 for one account
func (v *InvariantValidator) ValidateNonNegative(accountID string) error {
	s := v.ledger.Balance(accountID)
	if s.Available < 0 {
		return fmt.Errorf("account %s has negative available balance: %d", accountID, s.Available)
	}
	if s.Locked < 0 {
		return fmt.Errorf("account %s has negative locked balance: %d", accountID, s.Locked)
	}
	return nil
}

// ValidateAccounts runs ValidateNonNegative over every known account
func (v *InvariantValidator) ValidateAccounts() error {
	for _, s := range v.ledger.Snapshot() {
		if err := v.ValidateNonNegative(s.AccountID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSupply verifies total balances equal externally credited minus debited funds.
// Settlement only moves funds between accounts, so the total never drifts.
func (v *InvariantValidator) ValidateSupply(expected int64) error {
	if total := v.ledger.TotalSupply(); total != expected {
		return fmt.Errorf("total supply is %d, expected %d", total, expected)
	}
	return nil
}

// ValidateLocked checks an account holds at least min locked
func (v *InvariantValidator) ValidateLocked(accountID string, min int64) error {
	if s := v.ledger.Balance(accountID); s.Locked < min {
		return fmt.Errorf("account %s has locked=%d, need at least %d", accountID, s.Locked, min)
	}
	return nil
}
