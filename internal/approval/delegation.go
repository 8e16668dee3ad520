package approval

import "time"

// ActiveDelegate selects the delegation covering asOf from the approver's
// delegations. When several overlap the most recently created one wins, with
// the higher id breaking exact creation-time ties; overlap is not prevented
// at write time, so selection must be deterministic. Returns nil when none
// covers the date.
func ActiveDelegate(delegations []Delegation, asOf time.Time) *Delegation {
	var active *Delegation
	for i := range delegations {
		d := &delegations[i]
		if !d.Covers(asOf) {
			continue
		}
		if active == nil ||
			d.CreatedAt.After(active.CreatedAt) ||
			(d.CreatedAt.Equal(active.CreatedAt) && d.ID > active.ID) {
			active = d
		}
	}
	return active
}
