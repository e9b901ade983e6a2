package repository

import (
	"fmt"
	"sort"
	"time"

	"wificonf/internal/profile"
)

const (
	// MaxScanCacheEntries is the size at which a profile's cache is trimmed.
	MaxScanCacheEntries = 192
	// TrimScanCacheEntries is how many of the most recent sightings survive a trim.
	TrimScanCacheEntries = 128
)

// Sighting is one access point observed in a scan.
type Sighting struct {
	BSSID     string               `json:"bssid"`
	SSID      string               `json:"ssid"`
	FQDN      string               `json:"fqdn,omitempty"`
	Security  profile.SecurityType `json:"security"`
	Level     int                  `json:"level"`
	Frequency int                  `json:"frequency"`
	Seen      time.Time            `json:"seen"`
}

type cacheEntry struct {
	s   Sighting
	seq uint64
}

// ScanCache maps BSSID to the latest sighting for one profile.
type ScanCache struct {
	entries map[string]cacheEntry
	seq     uint64
}

// NewScanCache returns an empty cache.
func NewScanCache() *ScanCache {
	return &ScanCache{entries: make(map[string]cacheEntry)}
}

// Len returns the number of distinct BSSIDs.
func (c *ScanCache) Len() int { return len(c.entries) }

// Put records s, trimming the cache first when a new BSSID would not fit.
func (c *ScanCache) Put(s Sighting) {
	c.seq++
	if _, ok := c.entries[s.BSSID]; !ok && len(c.entries) >= MaxScanCacheEntries {
		c.trim(TrimScanCacheEntries)
	}
	c.entries[s.BSSID] = cacheEntry{s: s, seq: c.seq}
}

func (c *ScanCache) trim(keep int) {
	all := c.ordered()
	for _, e := range all[keep:] {
		delete(c.entries, e.s.BSSID)
	}
}

// ordered returns entries most recent first.
func (c *ScanCache) ordered() []cacheEntry {
	all := make([]cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].s.Seen.Equal(all[j].s.Seen) {
			return all[i].s.Seen.After(all[j].s.Seen)
		}
		return all[i].seq > all[j].seq
	})
	return all
}

// Sightings returns the cached sightings, most recent first.
func (c *ScanCache) Sightings() []Sighting {
	all := c.ordered()
	out := make([]Sighting, len(all))
	for i, e := range all {
		out[i] = e.s
	}
	return out
}

// BSSIDs returns the cached BSSIDs in no particular order.
func (c *ScanCache) BSSIDs() []string {
	out := make([]string, 0, len(c.entries))
	for b := range c.entries {
		out = append(out, b)
	}
	return out
}

// UpdateScanCache records a sighting for profile id.
func (r *Repository) UpdateScanCache(id int, s Sighting) error {
	if _, ok := r.profiles[id]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if _, err := profile.ParseMAC(s.BSSID); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s.BSSID = profile.NormalizeBSSID(s.BSSID)
	if s.Seen.IsZero() {
		s.Seen = r.clock.Now()
	}
	c := r.scanCaches[id]
	if c == nil {
		c = NewScanCache()
		r.scanCaches[id] = c
	}
	c.Put(s)
	return nil
}

// ScanCache returns the sightings cached for profile id, most recent first.
func (r *Repository) ScanCache(id int) []Sighting {
	c := r.scanCaches[id]
	if c == nil {
		return nil
	}
	return c.Sightings()
}

func (r *Repository) scanCacheLen(id int) int {
	if c := r.scanCaches[id]; c != nil {
		return c.Len()
	}
	return 0
}

// matchSighting returns the profile a sighting belongs to.
func (r *Repository) matchSighting(s Sighting) *profile.Profile {
	for _, p := range r.sorted() {
		if p.Passpoint {
			if s.FQDN != "" && p.FQDN == s.FQDN {
				return p
			}
			continue
		}
		if p.SSID == s.SSID && p.HasVariant(s.Security) {
			return p
		}
	}
	return nil
}

// IngestScan files each sighting under its matching profile and returns
// the matched ids in ascending order. It also advances the user-disable
// bookkeeping for every name seen.
func (r *Repository) IngestScan(sightings []Sighting) []int {
	matched := make(map[int]bool)
	seen := make(map[string]bool)
	for _, s := range sightings {
		if s.SSID != "" {
			seen[s.SSID] = true
		}
		if s.FQDN != "" {
			seen[s.FQDN] = true
		}
		p := r.matchSighting(s)
		if p == nil {
			continue
		}
		if err := r.UpdateScanCache(p.ID, s); err != nil {
			r.logger.Debug("drop sighting", "bssid", s.BSSID, "err", err)
			continue
		}
		matched[p.ID] = true
	}
	r.observeScan(seen)

	ids := make([]int, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
