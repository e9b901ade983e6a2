package repository

import (
	"fmt"
	"time"

	"wificonf/internal/profile"
)

const (
	// EnhancedMacLifetime is how long an enhanced MAC lives without a
	// disconnect-driven extension.
	EnhancedMacLifetime = 24 * time.Hour
	// DisconnectMacWait is the minimum extension applied at disconnect.
	DisconnectMacWait = 4 * time.Hour
	MacRefreshMin     = 30 * time.Minute
	MacRefreshMax     = 6 * time.Hour
)

// MacIdentity is the randomized-address state kept per profile key. It
// outlives the profile so a re-added network keeps its address.
type MacIdentity struct {
	Persistent   profile.MAC `json:"persistent"`
	Enhanced     profile.MAC `json:"enhanced,omitempty"`
	LastModified time.Time   `json:"last_modified,omitempty"`
	Expiration   time.Time   `json:"expiration,omitempty"`
}

func (r *Repository) derivePersistent(key string) profile.MAC {
	if r.deriver != nil {
		for attempt := 1; attempt <= 2; attempt++ {
			m, err := r.deriver.Derive(key, []byte(r.cfg.MacSalt))
			if err == nil && m.ValidRandomized() {
				return m
			}
			if err == nil {
				err = fmt.Errorf("derived unusable address %s", m)
			}
			r.logger.Warn("mac derivation failed", "key", key, "attempt", attempt, "err", err)
		}
	}
	return profile.RandomMAC()
}

// persistentIdentity returns the identity for key with its persistent
// address generated.
func (r *Repository) persistentIdentity(key string) MacIdentity {
	id := r.macs[key]
	if !id.Persistent.ValidRandomized() {
		id.Persistent = r.derivePersistent(key)
		r.macs[key] = id
	}
	return id
}

// assignPersistentMAC mirrors the persistent address into a profile that is
// about to be committed.
func (r *Repository) assignPersistentMAC(p *profile.Profile) {
	id := r.persistentIdentity(p.StableKey())
	p.RandomizedMAC = id.Persistent
}

// seedMacIdentity restores identity state from a stored profile.
func (r *Repository) seedMacIdentity(p *profile.Profile) {
	if !p.RandomizedMAC.ValidRandomized() {
		return
	}
	key := p.StableKey()
	id := r.macs[key]
	if p.MacExpiration.IsZero() {
		id.Persistent = p.RandomizedMAC
	} else {
		id.Enhanced = p.RandomizedMAC
		id.LastModified = p.MacLastModified
		id.Expiration = p.MacExpiration
	}
	r.macs[key] = id
}

// useEnhanced decides between the rotating and the persistent address.
// The SSID deny-list overrides every other trigger.
func (r *Repository) useEnhanced(p *profile.Profile) bool {
	if r.policy.DenySSID(p.SSID) {
		return false
	}
	switch p.MacRandomization {
	case profile.MacNonPersistent:
		return true
	case profile.MacAuto:
		if p.Passpoint && r.policy.AllowFQDN(p.FQDN) {
			return true
		}
		if r.policy.ForceEnhancedMac {
			return true
		}
		if r.policy.EnhancedMacForOpenNetworks && p.IsOpenFamily() && p.HasEverConnected && !p.EverCaptivePortal {
			return true
		}
	}
	return false
}

// UsableMAC returns the station address to use when connecting to id,
// rotating the enhanced address when it has expired.
func (r *Repository) UsableMAC(id int) (profile.MAC, error) {
	p, ok := r.profiles[id]
	if !ok {
		return profile.ZeroMAC, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if p.MacRandomization == profile.MacNone {
		if r.cfg.FactoryMAC.IsZero() {
			return profile.ZeroMAC, fmt.Errorf("%w: profile %d does not randomize", ErrNoFactoryMAC, id)
		}
		return r.cfg.FactoryMAC, nil
	}

	key := p.StableKey()
	ident := r.persistentIdentity(key)
	now := r.clock.Now()
	mac := ident.Persistent
	var modified, expires time.Time
	if r.useEnhanced(p) {
		if !ident.Enhanced.ValidRandomized() || !now.Before(ident.Expiration) {
			ident.Enhanced = profile.RandomMAC()
			ident.LastModified = now
			ident.Expiration = now.Add(EnhancedMacLifetime)
			r.logger.Debug("rotated enhanced mac", "key", key)
		}
		mac, modified, expires = ident.Enhanced, ident.LastModified, ident.Expiration
	}
	r.macs[key] = ident

	if p.RandomizedMAC != mac || !p.MacExpiration.Equal(expires) || !p.MacLastModified.Equal(modified) {
		p = r.mutate(id, func(p *profile.Profile) {
			p.RandomizedMAC = mac
			p.MacLastModified = modified
			p.MacExpiration = expires
		})
		r.markDirty(p)
	}
	return mac, nil
}

// MacIdentity returns the identity kept for profile id.
func (r *Repository) MacIdentity(id int) (MacIdentity, bool) {
	p, ok := r.profiles[id]
	if !ok {
		return MacIdentity{}, false
	}
	ident, ok := r.macs[p.StableKey()]
	return ident, ok
}

func disconnectExtension(lease time.Duration) time.Duration {
	d := max(DisconnectMacWait, lease)
	return min(max(d, MacRefreshMin), MacRefreshMax)
}

// extendEnhancedMac pushes the enhanced address expiry out after a
// disconnect. The expiry never moves earlier.
func (r *Repository) extendEnhancedMac(p *profile.Profile, lease time.Duration) {
	key := p.StableKey()
	ident, ok := r.macs[key]
	if !ok || !ident.Enhanced.ValidRandomized() {
		return
	}
	next := r.clock.Now().Add(disconnectExtension(lease))
	if next.After(ident.Expiration) {
		ident.Expiration = next
		r.macs[key] = ident
		if p.RandomizedMAC == ident.Enhanced {
			r.mutate(p.ID, func(p *profile.Profile) { p.MacExpiration = next })
		}
	}
}
