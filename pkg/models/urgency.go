package models

// Urgency is a closed enumeration. Ordering goes through CompareUrgency, not
// declaration position, so reordering constants can never change sort results.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

var urgencyRank = map[Urgency]int{
	UrgencyLow:      1,
	UrgencyMedium:   2,
	UrgencyHigh:     3,
	UrgencyCritical: 4,
}

// Valid reports whether u is a member of the enumeration.
func (u Urgency) Valid() bool {
	_, ok := urgencyRank[u]
	return ok
}

// Rank returns the total-order position of u. Unknown values rank below low.
func (u Urgency) Rank() int {
	return urgencyRank[u]
}

// CompareUrgency returns -1, 0, or 1 as a is less than, equal to, or greater
// than b under the urgency total order.
func CompareUrgency(a, b Urgency) int {
	switch {
	case a.Rank() < b.Rank():
		return -1
	case a.Rank() > b.Rank():
		return 1
	default:
		return 0
	}
}
