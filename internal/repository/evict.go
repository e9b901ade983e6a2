package repository

import (
	"fmt"
	"sort"
	"time"

	"wificonf/internal/profile"
)

// planEviction returns the profiles to drop so that incoming fits. Nothing
// is removed here. ErrCapacity is returned when incoming would be one of
// the victims.
func (r *Repository) planEviction(incoming *profile.Profile) ([]*profile.Profile, error) {
	limit := r.cfg.MaxProfiles
	if limit <= 0 || len(r.profiles) < limit {
		return nil, nil
	}
	need := len(r.profiles) + 1 - limit
	all := append(r.sorted(), incoming)
	now := r.clock.Now()
	sort.SliceStable(all, func(i, j int) bool { return r.evictBefore(all[i], all[j], incoming, now) })

	victims := all[:need]
	for _, v := range victims {
		if v == incoming {
			return nil, fmt.Errorf("%w: %d profiles, %s ranks for removal", ErrCapacity, len(r.profiles), incoming.Key())
		}
	}
	return victims, nil
}

// evictBefore orders profiles most deletable first.
func (r *Repository) evictBefore(a, b, incoming *profile.Profile, now time.Time) bool {
	if a.DeletionPriority != b.DeletionPriority {
		return a.DeletionPriority < b.DeletionPriority
	}
	ac, bc := r.isConnected(a), r.isConnected(b)
	if ac != bc {
		return !ac
	}
	if a.HasEverConnected != b.HasEverConnected {
		return !a.HasEverConnected
	}
	if a.HasEverConnected && !a.LastConnected.Equal(b.LastConnected) {
		return a.LastConnected.Before(b.LastConnected)
	}
	ar, br := r.recentlyUpdated(a, now), r.recentlyUpdated(b, now)
	if ar != br {
		return !ar
	}
	if a.NumAssociation == 0 && b.NumAssociation == 0 && a.NumRebootsSinceLastUse != b.NumRebootsSinceLastUse {
		return a.NumRebootsSinceLastUse > b.NumRebootsSinceLastUse
	}
	ai, bi := a.Validate() != nil, b.Validate() != nil
	if ai != bi {
		return ai
	}
	if a.IsCarrier() != b.IsCarrier() {
		return !a.IsCarrier()
	}
	if (a == incoming) != (b == incoming) {
		return b == incoming
	}
	return a.ID < b.ID
}

func (r *Repository) isConnected(p *profile.Profile) bool {
	return p.ID != profile.InvalidID && p.ID == r.connected
}

func (r *Repository) recentlyUpdated(p *profile.Profile, now time.Time) bool {
	return now.Sub(p.LastUpdate.Time) < r.cfg.RecentUpdateWindow
}
