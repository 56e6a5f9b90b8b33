package domain

import "time"

// RedeemableKind tags the two entity kinds whose redeemed state is
// derived from transaction positions.
type RedeemableKind string

const (
	RedeemablePreorderPosition RedeemableKind = "preorder_position"
	RedeemableListEntry        RedeemableKind = "list_entry"
)

// Redeemable references a preorder position or a list entry.
type Redeemable struct {
	Kind RedeemableKind
	ID   int64
}

func PreorderRef(id int64) Redeemable {
	return Redeemable{Kind: RedeemablePreorderPosition, ID: id}
}

func ListEntryRef(id int64) Redeemable {
	return Redeemable{Kind: RedeemableListEntry, ID: id}
}

// Tally counts redeeming positions (Positives) against reversals
// referencing them (Negatives). For preorder positions only redeem-type
// positions count as positive; for list entries sell-type positions
// count too, since a list entry can gate both redemption and sale.
type Tally struct {
	Positives int
	Negatives int
}

// Redeemed reports whether the referenced entity is currently used up.
func (t Tally) Redeemed() bool {
	return t.Positives > 0 && t.Positives > t.Negatives
}

// AvailabilityFacts is the snapshot needed to evaluate whether a product
// can be sold right now.
type AvailabilityFacts struct {
	Visible         bool
	TimeConstraints []TimeConstraint
	Quotas          []QuotaUsage
}

// AvailableByTime is true when no time constraint targets the product or
// at least one currently matches.
func (f AvailabilityFacts) AvailableByTime(now time.Time) bool {
	if len(f.TimeConstraints) == 0 {
		return true
	}
	for _, tc := range f.TimeConstraints {
		if tc.Matches(now) {
			return true
		}
	}
	return false
}

// Available is true when the product is visible, inside its time window
// and every bound quota still has capacity.
func (f AvailabilityFacts) Available(now time.Time) bool {
	for _, q := range f.Quotas {
		if !q.IsAvailable() {
			return false
		}
	}
	return f.Visible && f.AvailableByTime(now)
}
