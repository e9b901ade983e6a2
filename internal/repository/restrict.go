package repository

import (
	"sort"
	"time"

	"wificonf/internal/profile"
)

type userDisable struct {
	until    time.Time
	maxUntil time.Time
}

// UserTemporarilyDisable blocks autojoin to every profile named name (SSID
// or Passpoint FQDN) for the configured base duration.
func (r *Repository) UserTemporarilyDisable(name string) {
	now := r.clock.Now()
	r.userDisabled[name] = userDisable{
		until:    now.Add(r.cfg.UserDisableDuration),
		maxUntil: now.Add(r.cfg.UserDisableMaxDuration),
	}
	if p := r.profiles[r.lastSelected]; p != nil && p.Name() == name {
		r.lastSelected = profile.InvalidID
		r.lastSelectedTime = time.Time{}
	}
	r.logger.Info("network temporarily disabled by user", "name", name)
}

// IsUserTemporarilyDisabled reports whether name is still blocked. Expired
// entries are dropped on the way.
func (r *Repository) IsUserTemporarilyDisabled(name string) bool {
	d, ok := r.userDisabled[name]
	if !ok {
		return false
	}
	if !r.clock.Now().Before(d.until) {
		delete(r.userDisabled, name)
		return false
	}
	return true
}

// UserEnable lifts a user temporary disable.
func (r *Repository) UserEnable(name string) {
	delete(r.userDisabled, name)
}

// UserDisabledNames returns the names still blocked, sorted.
func (r *Repository) UserDisabledNames() []string {
	var out []string
	for name := range r.userDisabled {
		if r.IsUserTemporarilyDisabled(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// observeScan extends the block of every disabled name missing from a
// scan, never past the entry's maximum.
func (r *Repository) observeScan(seen map[string]bool) {
	now := r.clock.Now()
	for name, d := range r.userDisabled {
		if !now.Before(d.until) {
			delete(r.userDisabled, name)
			continue
		}
		if seen[name] {
			continue
		}
		next := now.Add(r.cfg.UserDisableDuration)
		if next.After(d.maxUntil) {
			next = d.maxUntil
		}
		if next.After(d.until) {
			d.until = next
			r.userDisabled[name] = d
		}
	}
}

type carrierRestriction struct {
	subscription int
	until        map[int]time.Time
}

// StartRestrictingAutojoinToSubscription keeps autojoin on the carrier
// networks of subscription by disabling every other profile for a while.
// Profiles present in a scan cache get the longer duration.
func (r *Repository) StartRestrictingAutojoinToSubscription(subscription int) {
	now := r.clock.Now()
	rest := &carrierRestriction{subscription: subscription, until: make(map[int]time.Time)}
	for _, p := range r.sorted() {
		if p.CarrierMerged && p.SubscriptionID == subscription {
			continue
		}
		d := r.cfg.CarrierRestrictHidden
		if r.scanCacheLen(p.ID) > 0 {
			d = r.cfg.CarrierRestrictVisible
		}
		rest.until[p.ID] = now.Add(d)
	}
	r.restriction = rest
	r.logger.Info("restricting autojoin to subscription", "subscription", subscription, "restricted", len(rest.until))
}

// StopRestrictingAutojoinToSubscription cancels the restriction.
func (r *Repository) StopRestrictingAutojoinToSubscription() {
	if r.restriction != nil {
		r.logger.Info("autojoin restriction lifted", "subscription", r.restriction.subscription)
	}
	r.restriction = nil
}

// OnCellularConnectivityLost lifts the carrier restriction.
func (r *Repository) OnCellularConnectivityLost() {
	r.StopRestrictingAutojoinToSubscription()
}

// IsCarrierRestricted reports whether id is held back by the carrier
// restriction.
func (r *Repository) IsCarrierRestricted(id int) bool {
	if r.restriction == nil {
		return false
	}
	until, ok := r.restriction.until[id]
	if !ok {
		return false
	}
	if !r.clock.Now().Before(until) {
		delete(r.restriction.until, id)
		return false
	}
	return true
}
