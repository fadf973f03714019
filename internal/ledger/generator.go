package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// PayoutLegs describes a verified hit that must move collateral
type PayoutLegs struct {
	Ref        string // position id, used in reasons
	MakerID    string
	FillerID   string
	Collateral int64 // collateral locked behind the position
	Payout     int64 // already clamped to [0, Collateral]
}

// GeneratePayout builds the changeset settling a hit:
// maker:locked -> filler:available for the payout, and
// maker:locked -> maker:available for the residual.
// Returns nil when nothing moves.
func GeneratePayout(legs PayoutLegs) (*Changeset, error) {
	if legs.Payout < 0 || legs.Payout > legs.Collateral {
		return nil, fmt.Errorf("payout %d outside [0, %d] for %s", legs.Payout, legs.Collateral, legs.Ref)
	}
	if legs.Payout > 0 && legs.MakerID == legs.FillerID {
		return nil, fmt.Errorf("payout %s has same maker and filler %s", legs.Ref, legs.MakerID)
	}

	cs := &Changeset{
		ID:     uuid.New(),
		Reason: fmt.Sprintf("position:%s:settle", legs.Ref),
	}

	if legs.Payout > 0 {
		cs.Debits = append(cs.Debits, Entry{
			AccountID: legs.MakerID,
			Field:     FieldLocked,
			Amount:    legs.Payout,
			Reason:    fmt.Sprintf("position:%s:payout_debit", legs.Ref),
		})
		cs.Credits = append(cs.Credits, Entry{
			AccountID: legs.FillerID,
			Field:     FieldAvailable,
			Amount:    legs.Payout,
			Reason:    fmt.Sprintf("position:%s:payout_credit", legs.Ref),
		})
	}

	if residual := legs.Collateral - legs.Payout; residual > 0 {
		cs.Debits = append(cs.Debits, Entry{
			AccountID: legs.MakerID,
			Field:     FieldLocked,
			Amount:    residual,
			Reason:    fmt.Sprintf("position:%s:residual_release", legs.Ref),
		})
		cs.Credits = append(cs.Credits, Entry{
			AccountID: legs.MakerID,
			Field:     FieldAvailable,
			Amount:    residual,
			Reason:    fmt.Sprintf("position:%s:residual_release", legs.Ref),
		})
	}

	if len(cs.Debits) == 0 {
		return nil, nil
	}
	return cs, nil
}
