package repository

import (
	"fmt"
	"strings"

	"wificonf/internal/profile"
)

const (
	// LinkMaxScanCacheEntries excludes profiles seen on many BSSIDs from
	// BSSID-prefix linking.
	LinkMaxScanCacheEntries = 6

	vrrpPrefix     = "00:00:5e:00:01"
	bssidPrefixLen = 16
)

func linkable(p *profile.Profile) bool {
	return !p.Passpoint && p.DefaultSecurity.IsPSKFamily()
}

func (r *Repository) gatewayLinked(a, b *profile.Profile) bool {
	if a.GatewayMAC == "" || a.GatewayMAC != b.GatewayMAC {
		return false
	}
	if strings.HasPrefix(a.GatewayMAC, vrrpPrefix) {
		return false
	}
	if r.policy.LinkRequiresCredentialMatch && a.Credentials.PSK != b.Credentials.PSK {
		return false
	}
	return true
}

func (r *Repository) bssidLinked(a, b *profile.Profile) bool {
	ca, cb := r.scanCaches[a.ID], r.scanCaches[b.ID]
	if ca == nil || cb == nil {
		return false
	}
	if ca.Len() == 0 || cb.Len() == 0 || ca.Len() > LinkMaxScanCacheEntries || cb.Len() > LinkMaxScanCacheEntries {
		return false
	}
	for _, x := range ca.BSSIDs() {
		for _, y := range cb.BSSIDs() {
			if len(x) >= bssidPrefixLen && len(y) >= bssidPrefixLen && x[:bssidPrefixLen] == y[:bssidPrefixLen] {
				return true
			}
		}
	}
	return false
}

func (r *Repository) shouldLink(a, b *profile.Profile) bool {
	if a.ID == b.ID || !linkable(a) || !linkable(b) {
		return false
	}
	return r.gatewayLinked(a, b) || r.bssidLinked(a, b)
}

// recomputeLinks rebuilds the links of profile id and mirrors every added
// or removed link on the other side.
func (r *Repository) recomputeLinks(id int) {
	p, ok := r.profiles[id]
	if !ok {
		return
	}
	key := p.Key()
	want := make(map[string]bool)
	for _, q := range r.sorted() {
		if r.shouldLink(p, q) {
			want[q.Key()] = true
		}
	}

	for _, q := range r.sorted() {
		if q.ID == id {
			continue
		}
		should := want[q.Key()]
		if q.Linked[key] != should {
			r.mutate(q.ID, func(q *profile.Profile) { setLink(q, key, should) })
		}
	}
	if !sameLinks(p.Linked, want) {
		r.mutate(id, func(p *profile.Profile) {
			p.Linked = nil
			for k := range want {
				setLink(p, k, true)
			}
		})
	}
}

func setLink(p *profile.Profile, key string, on bool) {
	if !on {
		delete(p.Linked, key)
		if len(p.Linked) == 0 {
			p.Linked = nil
		}
		return
	}
	if p.Linked == nil {
		p.Linked = make(map[string]bool)
	}
	p.Linked[key] = true
}

func sameLinks(have, want map[string]bool) bool {
	n := 0
	for k, v := range have {
		if !v {
			continue
		}
		if !want[k] {
			return false
		}
		n++
	}
	return n == len(want)
}

// Linked returns the keys of the profiles linked to id.
func (r *Repository) Linked(id int) []string {
	p, ok := r.profiles[id]
	if !ok {
		return nil
	}
	return p.LinkedKeys()
}

// SetGatewayMAC records the default gateway seen while connected to id and
// recomputes its links.
func (r *Repository) SetGatewayMAC(id int, mac string) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	gw := ""
	if mac != "" {
		m, err := profile.ParseMAC(mac)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		gw = m.String()
	}
	if p.GatewayMAC != gw {
		p = r.mutate(id, func(p *profile.Profile) { p.GatewayMAC = gw })
		r.markDirty(p)
	}
	r.recomputeLinks(id)
	return nil
}
