package repository

import (
	"sort"

	"wificonf/internal/profile"
)

// normalizeVariants appends the enabled upgrade of every base variant.
func (r *Repository) normalizeVariants(p *profile.Profile) {
	if p.Passpoint {
		return
	}
	for _, v := range append([]profile.SecurityVariant(nil), p.Variants...) {
		up, ok := v.Type.Upgrade()
		if !ok || !r.cfg.AutoUpgrade.enabled(v.Type) {
			continue
		}
		p.AddVariant(profile.SecurityVariant{Type: up, Enabled: true, AddedByAutoUpgrade: true})
	}
}

// findExisting returns the profile an add should land on. The bool is true
// when the match is an upgrade-compatible merge rather than a duplicate.
func (r *Repository) findExisting(cand *profile.Profile) (*profile.Profile, bool) {
	var compatible *profile.Profile
	key := cand.Key()
	for _, p := range r.sorted() {
		if p.Passpoint != cand.Passpoint || p.Name() != cand.Name() {
			continue
		}
		if p.Key() == key {
			return p, false
		}
		if p.HasVariant(cand.DefaultSecurity) {
			return p, true
		}
		if compatible == nil && variantsCompatible(p, cand) {
			compatible = p
		}
	}
	return compatible, compatible != nil
}

// variantsCompatible reports whether a and b share a security type or an
// upgrade pair.
func variantsCompatible(a, b *profile.Profile) bool {
	for _, va := range a.Variants {
		for _, vb := range b.Variants {
			if va.Type == vb.Type || profile.UpgradeCompatible(va.Type, vb.Type) {
				return true
			}
		}
	}
	return false
}

// explicitUpgrade reports the advanced type p asks to be the default: the
// default is an upgrade type, was not added automatically, and the base
// type is listed too.
func explicitUpgrade(p *profile.Profile) (profile.SecurityType, bool) {
	base, ok := p.DefaultSecurity.Base()
	if !ok || !p.HasVariant(base) {
		return 0, false
	}
	v, _ := p.Variant(p.DefaultSecurity)
	if v.AddedByAutoUpgrade {
		return 0, false
	}
	return p.DefaultSecurity, true
}

// mergeVariants unions the variants of a and b. A type present on both
// sides is auto-upgraded if either side says so; a type present on one
// side whose base is only on the other side counts as auto-upgraded. The
// default is the least advanced type unless one of explicit names an
// upgrade type.
func mergeVariants(a, b *profile.Profile, explicit ...*profile.Profile) ([]profile.SecurityVariant, profile.SecurityType) {
	byType := make(map[profile.SecurityType]profile.SecurityVariant)
	inA := make(map[profile.SecurityType]bool)
	inB := make(map[profile.SecurityType]bool)
	for _, v := range a.Variants {
		byType[v.Type] = v
		inA[v.Type] = true
	}
	for _, v := range b.Variants {
		inB[v.Type] = true
		cur, ok := byType[v.Type]
		if !ok {
			byType[v.Type] = v
			continue
		}
		cur.Enabled = cur.Enabled || v.Enabled
		cur.AddedByAutoUpgrade = cur.AddedByAutoUpgrade || v.AddedByAutoUpgrade
		cur.ModeFlags |= v.ModeFlags
		byType[v.Type] = cur
	}
	for t, v := range byType {
		base, ok := t.Base()
		if !ok {
			continue
		}
		onlyA := inA[t] && !inB[t] && inB[base] && !inA[base]
		onlyB := inB[t] && !inA[t] && inA[base] && !inB[base]
		if onlyA || onlyB {
			v.AddedByAutoUpgrade = true
			byType[t] = v
		}
	}

	def, found := profile.SecurityType(0), false
	for _, p := range explicit {
		if t, ok := explicitUpgrade(p); ok {
			v := byType[t]
			v.AddedByAutoUpgrade = false
			byType[t] = v
			def, found = t, true
		}
	}

	out := make([]profile.SecurityVariant, 0, len(byType))
	for _, v := range byType {
		out = append(out, v)
	}
	profile.SortVariants(out)
	if !found {
		def = out[0].Type
	}
	return out, def
}

// mergeLoaded folds upgrade-compatible and duplicate profiles of a loaded
// set into one profile each. Input order does not affect the result. The
// returned aliases map every key that merged away to the surviving key.
func mergeLoaded(in []*profile.Profile) ([]*profile.Profile, int, map[string]string) {
	sorted := make([]*profile.Profile, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool { return loadLess(sorted[i], sorted[j]) })

	var out []*profile.Profile
	var sources [][]string
	merged := 0
next:
	for _, p := range sorted {
		for i, q := range out {
			if q.Passpoint != p.Passpoint || q.Name() != p.Name() || q.Shared != p.Shared {
				continue
			}
			if q.Key() != p.Key() && !variantsCompatible(q, p) {
				continue
			}
			m := q.Clone()
			m.Variants, m.DefaultSecurity = mergeVariants(q, p, q, p)
			if m.Credentials.PSK == "" {
				m.Credentials.PSK = p.Credentials.PSK
			}
			out[i] = m
			sources[i] = append(sources[i], p.Key())
			merged++
			continue next
		}
		out = append(out, p.Clone())
		sources = append(sources, []string{p.Key()})
	}

	aliases := make(map[string]string)
	for i, p := range out {
		for _, k := range sources[i] {
			if k != p.Key() {
				aliases[k] = p.Key()
			}
		}
	}
	return out, merged, aliases
}

func loadLess(a, b *profile.Profile) bool {
	if a.Name() != b.Name() {
		return a.Name() < b.Name()
	}
	if a.DefaultSecurity != b.DefaultSecurity {
		return a.DefaultSecurity < b.DefaultSecurity
	}
	if !a.LastUpdate.Time.Equal(b.LastUpdate.Time) {
		return a.LastUpdate.Time.After(b.LastUpdate.Time)
	}
	if a.OwnerUID != b.OwnerUID {
		return a.OwnerUID < b.OwnerUID
	}
	return a.Creator.UID < b.Creator.UID
}
