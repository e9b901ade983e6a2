package repository

import (
	"fmt"
	"time"

	"wificonf/internal/profile"
)

// refreshStatus re-enables p if its temporary disable has run out and
// returns the current value of the profile.
func (r *Repository) refreshStatus(p *profile.Profile) *profile.Profile {
	st := p.Status
	if st.Kind != profile.StatusTemporarilyDisabled || st.DisableUntil.IsZero() {
		return p
	}
	if r.clock.Now().Before(st.DisableUntil) {
		return p
	}
	return r.setEnabled(p)
}

func (r *Repository) setEnabled(p *profile.Profile) *profile.Profile {
	if p.Status.Enabled() && p.Status.DisableCount == nil {
		return p
	}
	wasEnabled := p.Status.Enabled()
	next := r.mutate(p.ID, func(q *profile.Profile) { q.Status = profile.SelectionStatus{} })
	if !wasEnabled {
		r.emit(EventEnabled, next, nil)
		r.metrics.SelectionStatusChanged(profile.StatusEnabled, profile.ReasonNone)
	}
	r.markDirty(next)
	return next
}

func (r *Repository) applyDecision(p *profile.Profile, reason profile.DisableReason, d Decision) *profile.Profile {
	if d.Kind == profile.StatusEnabled {
		if reason == profile.ReasonNone {
			return r.setEnabled(p)
		}
		return r.countFailure(p, reason)
	}

	now := r.clock.Now()
	next := r.mutate(p.ID, func(q *profile.Profile) {
		counts := q.Status.DisableCount
		if counts == nil {
			counts = make(map[profile.DisableReason]int)
		}
		counts[reason]++
		q.Status = profile.SelectionStatus{
			Kind:         d.Kind,
			Reason:       reason,
			DisableCount: counts,
			DisableTime:  now,
		}
		if d.Kind == profile.StatusTemporarilyDisabled && d.Duration > 0 {
			q.Status.DisableUntil = now.Add(d.Duration)
		}
	})
	if r.lastSelected == p.ID {
		r.lastSelected = profile.InvalidID
		r.lastSelectedTime = time.Time{}
	}
	typ := EventTemporarilyDisabled
	if d.Kind == profile.StatusPermanentlyDisabled {
		typ = EventPermanentlyDisabled
	}
	r.emit(typ, next, func(e *Event) { e.Reason = reason.String() })
	r.markDirty(next)
	r.metrics.SelectionStatusChanged(d.Kind, reason)
	r.logger.Info("profile disabled", "id", p.ID, "key", p.Key(), "status", d.Kind, "reason", reason)
	return next
}

// countFailure records a failure that does not change the status.
func (r *Repository) countFailure(p *profile.Profile, reason profile.DisableReason) *profile.Profile {
	next := r.mutate(p.ID, func(q *profile.Profile) {
		counts := q.Status.DisableCount
		if counts == nil {
			counts = make(map[profile.DisableReason]int)
		}
		counts[reason]++
		q.Status.DisableCount = counts
	})
	r.markDirty(next)
	r.logger.Debug("failure recorded", "id", p.ID, "reason", reason, "count", next.Status.Count(reason))
	return next
}

// UpdateSelectionStatus asks the blocklist what reason means for id and
// applies the transition. ReasonNone re-enables the profile.
func (r *Repository) UpdateSelectionStatus(id int, reason profile.DisableReason) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	p = r.refreshStatus(p)
	if reason == profile.ReasonNone {
		r.setEnabled(p)
	} else {
		r.applyDecision(p, reason, r.blocklist.Decide(p.Clone(), reason))
	}
	r.recomputeLinks(id)
	return nil
}

// SelectionStatus returns the status of id with expired temporary
// disables cleared.
func (r *Repository) SelectionStatus(id int) (profile.SelectionStatus, bool) {
	p, ok := r.profiles[id]
	if !ok {
		return profile.SelectionStatus{}, false
	}
	return r.refreshStatus(p).Status, true
}

// EnableNetwork re-enables id on behalf of a caller. With disableOthers
// the profile also becomes the last user-selected network.
func (r *Repository) EnableNetwork(id int, disableOthers bool, req Requester) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if !r.canModify(p, req) {
		return fmt.Errorf("%w: uid %d cannot enable %s", ErrPermissionDenied, req.UID, p.Key())
	}
	p = r.setEnabled(p)
	delete(r.userDisabled, p.Name())
	if disableOthers {
		r.lastSelected = id
		r.lastSelectedTime = r.clock.Now()
	}
	r.recomputeLinks(id)
	return nil
}

// DisableNetwork permanently disables id on behalf of a caller.
func (r *Repository) DisableNetwork(id int, req Requester) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if !r.canModify(p, req) {
		return fmt.Errorf("%w: uid %d cannot disable %s", ErrPermissionDenied, req.UID, p.Key())
	}
	r.applyDecision(p, profile.ReasonByWifiManager, Decision{Kind: profile.StatusPermanentlyDisabled})
	r.recomputeLinks(id)
	return nil
}

// LastSelected returns the network the user selected most recently.
func (r *Repository) LastSelected() (int, time.Time) {
	return r.lastSelected, r.lastSelectedTime
}

// AllowAutojoin toggles autojoin for id. Disallowing clears the profile's
// own connect choice and every choice that points at it.
func (r *Repository) AllowAutojoin(id int, allow bool, req Requester) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if !r.canModify(p, req) {
		return fmt.Errorf("%w: uid %d cannot change autojoin of %s", ErrPermissionDenied, req.UID, p.Key())
	}
	if p.AllowAutojoin != allow {
		old := p
		p = r.mutate(id, func(q *profile.Profile) { q.AllowAutojoin = allow })
		r.markDirty(p)
		r.emit(EventUpdated, p, func(e *Event) { e.Old = old.Masked() })
	}
	if !allow {
		r.clearConnectChoice(p)
		r.clearChoicesReferencing(p.Key())
	}
	return nil
}

// IsAutojoinEligible reports whether network selection may pick id on its
// own.
func (r *Repository) IsAutojoinEligible(id int) bool {
	p, ok := r.profiles[id]
	if !ok || !p.AllowAutojoin {
		return false
	}
	p = r.refreshStatus(p)
	if !p.Status.Enabled() {
		return false
	}
	if r.IsUserTemporarilyDisabled(p.Name()) || r.IsCarrierRestricted(id) {
		return false
	}
	for _, v := range p.Variants {
		if v.Enabled {
			return true
		}
	}
	return false
}
