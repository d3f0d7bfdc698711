package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUrgency_Valid(t *testing.T) {
	for _, u := range []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical} {
		assert.True(t, u.Valid(), "expected %q to be valid", u)
	}

	for _, u := range []Urgency{"", "urgent", "LOW", "Critical"} {
		assert.False(t, u.Valid(), "expected %q to be invalid", u)
	}
}

func TestCompareUrgency_TotalOrder(t *testing.T) {
	ordered := []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical}

	for i, a := range ordered {
		for j, b := range ordered {
			got := CompareUrgency(a, b)
			switch {
			case i < j:
				assert.Equal(t, -1, got, "%s vs %s", a, b)
			case i > j:
				assert.Equal(t, 1, got, "%s vs %s", a, b)
			default:
				assert.Equal(t, 0, got, "%s vs %s", a, b)
			}
		}
	}
}

func TestUrgency_UnknownRanksBelowLow(t *testing.T) {
	assert.Equal(t, -1, CompareUrgency(Urgency("bogus"), UrgencyLow))
	assert.Equal(t, 1, CompareUrgency(UrgencyLow, Urgency("")))
}
