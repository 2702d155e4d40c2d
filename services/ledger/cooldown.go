package ledger

import "time"

// NextEligible computes the timestamp before which the member may not
// submit again: max(prev, now) + cooldown. prev may be nil for a member
// who has never submitted.
func NextEligible(prev *time.Time, now time.Time, cooldownHours int) time.Time {
	base := now
	if prev != nil && prev.After(now) {
		base = *prev
	}
	return base.Add(time.Duration(cooldownHours) * time.Hour)
}

// PrevEligible undoes exactly one NextEligible step. Accept/deny symmetry
// relies on this being an exact inverse.
func PrevEligible(next time.Time, cooldownHours int) time.Time {
	return next.Add(-time.Duration(cooldownHours) * time.Hour)
}
