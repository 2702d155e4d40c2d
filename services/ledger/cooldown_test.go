package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextEligible_FromNeverSubmitted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next := NextEligible(nil, now, 2)
	require.Equal(t, now.Add(2*time.Hour), next)
}

func TestNextEligible_StacksOnPendingCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pending := now.Add(90 * time.Minute)

	next := NextEligible(&pending, now, 2)
	require.Equal(t, pending.Add(2*time.Hour), next)
}

func TestNextEligible_IgnoresElapsedCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	next := NextEligible(&past, now, 2)
	require.Equal(t, now.Add(2*time.Hour), next)
}

func TestNextEligible_NeverBeforeNowOrPrev(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, prev := range []time.Time{
		now.Add(-24 * time.Hour),
		now,
		now.Add(time.Minute),
		now.Add(72 * time.Hour),
	} {
		prev := prev
		next := NextEligible(&prev, now, 3)
		require.False(t, next.Before(now))
		require.False(t, next.Before(prev))
	}
}

func TestPrevEligible_IsExactInverse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for hours := 1; hours <= 48; hours *= 2 {
		prev := now.Add(time.Duration(hours) * time.Minute) // still pending
		next := NextEligible(&prev, now, hours)
		require.Equal(t, prev, PrevEligible(next, hours))
	}
}
