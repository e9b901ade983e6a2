package repository

import (
	"fmt"
	"time"

	"wificonf/internal/profile"
)

// OnConnected records a successful association with id.
func (r *Repository) OnConnected(id int) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	now := r.clock.Now()
	p = r.mutate(id, func(q *profile.Profile) {
		q.HasEverConnected = true
		q.LastConnected = now
		q.NumAssociation++
		q.NumRebootsSinceLastUse = 0
	})
	r.connected = id
	delete(r.userDisabled, p.Name())
	r.setEnabled(p)
	r.markDirty(p)
	return nil
}

// OnDisconnect records that the link to id went down. lease is the
// remaining DHCP lease and extends the life of an enhanced MAC.
func (r *Repository) OnDisconnect(id int, lease time.Duration) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if r.connected == id {
		r.connected = profile.InvalidID
	}
	r.extendEnhancedMac(p, lease)
	return nil
}

// Connected returns the id of the connected profile or InvalidID.
func (r *Repository) Connected() int { return r.connected }

// OnCaptivePortal marks id as having shown a captive portal.
func (r *Repository) OnCaptivePortal(id int) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if !p.EverCaptivePortal {
		p = r.mutate(id, func(q *profile.Profile) { q.EverCaptivePortal = true })
		r.markDirty(p)
	}
	return nil
}

// IncrementRebootCounts ages every profile not in use by one reboot.
func (r *Repository) IncrementRebootCounts() {
	for _, p := range r.sorted() {
		if p.ID == r.connected || !p.Durable() {
			continue
		}
		p = r.mutate(p.ID, func(q *profile.Profile) { q.NumRebootsSinceLastUse++ })
		r.markDirty(p)
	}
}
