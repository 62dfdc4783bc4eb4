package model

import "time"

// SuppressionEntry records that a user deleted one side of a duplicate pair.
// The (HashA, HashB) pair is unordered and the entry is permanent.
type SuppressionEntry struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	HashA     string    `json:"hashA"`
	HashB     string    `json:"hashB"`
	LabelA    string    `json:"labelA,omitempty"`
	LabelB    string    `json:"labelB,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Matches reports whether the entry covers the pair {a, b} in either order.
func (e SuppressionEntry) Matches(a, b string) bool {
	return (e.HashA == a && e.HashB == b) || (e.HashA == b && e.HashB == a)
}

// PairKey is the canonical key for an unordered hash pair: the lexically
// smaller hash first.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
