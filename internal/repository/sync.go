package repository

import (
	"errors"
	"fmt"

	"wificonf/internal/profile"
)

type syncState struct {
	loaded      bool
	currentUser int
	unlocked    map[int]bool
	// pendingRead is set while the current user's private store waits for
	// the user to unlock.
	pendingRead bool
	// held are private profiles of other users found in the shared store.
	held []*profile.Profile
	// shadowed are stored profiles whose key another in-memory profile
	// already holds. They are written back as read and take over the key
	// when its holder leaves.
	shadowed          []*profile.Profile
	passpointMigrated bool
}

// Loaded reports whether Load has succeeded.
func (r *Repository) Loaded() bool { return r.sync.loaded }

// CurrentUser returns the foreground user.
func (r *Repository) CurrentUser() int { return r.sync.currentUser }

// Load replaces the in-memory set with the contents of the store. The
// current user is assumed unlocked.
func (r *Repository) Load() error {
	if r.store == nil {
		return errors.New("no persistent store configured")
	}
	data, err := r.store.Read()
	if err != nil {
		r.metrics.StoreLoaded(0, 0, err)
		if !r.cfg.TolerateStoreErrors {
			return fmt.Errorf("read store: %w", err)
		}
		r.logger.Warn("store unreadable, starting empty", "err", err)
		data = StoreData{}
	}

	r.profiles = make(map[int]*profile.Profile)
	r.scanCaches = make(map[int]*ScanCache)
	r.lastSelected = profile.InvalidID
	r.connected = profile.InvalidID
	r.candidates = nil
	r.sync.held = nil
	r.sync.shadowed = nil
	r.dirty = false
	if r.sync.unlocked == nil {
		r.sync.unlocked = make(map[int]bool)
	}
	r.sync.unlocked[r.sync.currentUser] = true
	r.sync.pendingRead = !data.HasPrivate

	skipped := data.Skipped + r.install(append(data.Shared, data.Private...))
	r.sync.loaded = true
	r.metrics.StoreLoaded(len(r.profiles), skipped, nil)
	r.emit(EventStoreLoaded, nil, func(e *Event) { e.User = r.sync.currentUser })
	r.logger.Info("store loaded", "profiles", len(r.profiles), "skipped", skipped,
		"held", len(r.sync.held), "shadowed", len(r.sync.shadowed))
	return nil
}

// install repairs, merges and commits loaded profiles. It returns how many
// were dropped as invalid.
func (r *Repository) install(loaded []*profile.Profile) int {
	var keep []*profile.Profile
	skipped := 0
	for _, p := range loaded {
		if p == nil {
			continue
		}
		p = p.Clone()
		r.repairLoaded(p)
		if err := p.Validate(); err != nil {
			r.logger.Warn("skipping stored profile", "ssid", p.SSID, "err", err)
			skipped++
			continue
		}
		if !p.Shared && p.UserID() != r.sync.currentUser {
			r.sync.held = append(r.sync.held, p)
			continue
		}
		r.normalizeVariants(p)
		keep = append(keep, p)
	}

	merged, n, aliases := mergeLoaded(keep)
	if n > 0 {
		r.logger.Info("merged stored profiles", "count", n)
		r.dirty = true
	}
	for _, p := range merged {
		if other := r.byKey(p.Key()); other != nil {
			r.logger.Warn("stored profile shadowed by another with the same key", "key", p.Key(), "id", other.ID, "shared", p.Shared)
			r.sync.shadowed = append(r.sync.shadowed, p)
			continue
		}
		r.installLoaded(p)
	}
	r.sweepReferences(aliases)
	return skipped
}

func (r *Repository) installLoaded(p *profile.Profile) {
	p.ID = r.nextID()
	p.Status = r.loadedStatus(p.Status)
	r.seedMacIdentity(p)
	if !p.RandomizedMAC.ValidRandomized() {
		r.assignPersistentMAC(p)
		r.dirty = true
	}
	r.commit(p)
	r.scanCaches[p.ID] = NewScanCache()
}

// promoteShadowed installs the shadowed profile for key, if any, after the
// profile holding the key left memory.
func (r *Repository) promoteShadowed(key string) {
	for i, p := range r.sync.shadowed {
		if p.Key() != key || r.byKey(key) != nil {
			continue
		}
		r.sync.shadowed = append(r.sync.shadowed[:i:i], r.sync.shadowed[i+1:]...)
		r.installLoaded(p)
		r.sweepReferences(nil)
		r.emit(EventAdded, r.profiles[p.ID], func(e *Event) { e.Reason = "unshadowed" })
		r.logger.Info("shadowed profile restored", "id", p.ID, "key", key)
		return
	}
}

// sweepReferences rewrites links and connect choices that name a key which
// merged away, then drops those naming no profile in memory.
func (r *Repository) sweepReferences(aliases map[string]string) {
	keys := make(map[string]bool, len(r.profiles))
	for _, p := range r.profiles {
		keys[p.Key()] = true
	}
	resolve := func(self, k string) (string, bool) {
		if a, ok := aliases[k]; ok {
			k = a
		}
		return k, keys[k] && k != self
	}

	fixed := 0
	for _, p := range r.sorted() {
		self := p.Key()
		changed := false
		var linked map[string]bool
		for k := range p.Linked {
			nk, ok := resolve(self, k)
			if nk != k || !ok {
				changed = true
			}
			if ok {
				if linked == nil {
					linked = make(map[string]bool)
				}
				linked[nk] = true
			}
		}
		var choice *profile.ConnectChoice
		if p.ConnectChoice != nil {
			nk, ok := resolve(self, p.ConnectChoice.Key)
			if nk != p.ConnectChoice.Key || !ok {
				changed = true
			}
			if ok {
				cc := *p.ConnectChoice
				cc.Key = nk
				choice = &cc
			}
		}
		if !changed {
			continue
		}
		q := r.mutate(p.ID, func(q *profile.Profile) {
			q.Linked = linked
			q.ConnectChoice = choice
		})
		r.markDirty(q)
		fixed++
	}
	if fixed > 0 {
		r.logger.Info("repaired profile references", "profiles", fixed)
	}
}

// loadedStatus drops temporary disables, which do not survive a restart.
func (r *Repository) loadedStatus(s profile.SelectionStatus) profile.SelectionStatus {
	if s.Kind == profile.StatusTemporarilyDisabled {
		return profile.SelectionStatus{}
	}
	return s
}

// repairLoaded fixes records written by older versions.
func (r *Repository) repairLoaded(p *profile.Profile) {
	if p.Credentials.PSK != "" && !p.IsPSKFamily() && !p.IsEnterprise() && !p.Passpoint {
		r.logger.Warn("stored profile has a psk but no psk variant, repairing", "ssid", p.SSID)
		p.Variants = []profile.SecurityVariant{{Type: profile.SecurityPSK, Enabled: true}}
		p.DefaultSecurity = profile.SecurityPSK
		r.dirty = true
	}
	if p.IP == nil {
		p.IP = &profile.IPConfig{Assignment: profile.AssignDHCP}
	}
	if r.packages == nil {
		return
	}
	name, ok := r.packages.NameForUID(p.Creator.UID)
	if !ok {
		r.logger.Warn("creator uid not found, reassigning to system", "ssid", p.SSID, "uid", p.Creator.UID)
		p.Creator.UID = profile.SystemUID
		name, _ = r.packages.NameForUID(profile.SystemUID)
		r.dirty = true
	}
	if name != "" && name != p.Creator.Package {
		p.Creator.Package = name
		r.dirty = true
	}
}

// snapshot builds the data a Flush writes. Ephemeral, suggestion and
// specifier profiles are never included.
func (r *Repository) snapshot() StoreData {
	data := StoreData{HasPrivate: !r.sync.pendingRead}
	for _, p := range r.sorted() {
		if !p.Durable() {
			continue
		}
		if p.Shared {
			data.Shared = append(data.Shared, p.Clone())
		} else if data.HasPrivate {
			data.Private = append(data.Private, p.Clone())
		}
	}
	for _, p := range r.sync.held {
		data.Shared = append(data.Shared, p.Clone())
	}
	for _, p := range r.sync.shadowed {
		if p.Shared {
			data.Shared = append(data.Shared, p.Clone())
		} else if data.HasPrivate && p.UserID() == r.sync.currentUser {
			data.Private = append(data.Private, p.Clone())
		}
	}
	return data
}

// Flush writes the durable profiles when something changed or force is set.
func (r *Repository) Flush(force bool) error {
	if !r.sync.loaded {
		return ErrNotLoaded
	}
	if !r.dirty && !force {
		return nil
	}
	data := r.snapshot()
	err := r.store.Write(data)
	r.metrics.StoreWritten(len(data.Shared)+len(data.Private), err)
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	r.dirty = false
	r.logger.Debug("store written", "shared", len(data.Shared), "private", len(data.Private))
	return nil
}

// HandleUserSwitch makes userID the foreground user. The outgoing user's
// private profiles leave memory; the incoming user's are read now if the
// user is unlocked and on unlock otherwise.
func (r *Repository) HandleUserSwitch(userID int, unlocked bool) error {
	if !r.sync.loaded {
		return ErrNotLoaded
	}
	if userID == r.sync.currentUser {
		return nil
	}
	if err := r.Flush(false); err != nil {
		return fmt.Errorf("flush before user switch: %w", err)
	}
	r.evictPrivate(r.sync.currentUser, "user_switch")

	prev := r.sync.currentUser
	r.sync.currentUser = userID
	r.sync.pendingRead = true
	if unlocked {
		r.sync.unlocked[userID] = true
	}
	r.emit(EventUserSwitched, nil, func(e *Event) { e.User = userID })
	r.logger.Info("user switched", "from", prev, "to", userID, "unlocked", r.sync.unlocked[userID])
	if r.sync.unlocked[userID] {
		return r.readPrivate(userID)
	}
	return nil
}

// HandleUserUnlock reads the private store of userID if it is the
// foreground user. The first unlock also migrates Passpoint profiles.
func (r *Repository) HandleUserUnlock(userID int) error {
	if !r.sync.loaded {
		return ErrNotLoaded
	}
	r.sync.unlocked[userID] = true
	if !r.sync.passpointMigrated {
		r.migratePasspoint()
		r.sync.passpointMigrated = true
	}
	if userID == r.sync.currentUser && r.sync.pendingRead {
		return r.readPrivate(userID)
	}
	return nil
}

// HandleUserStop writes and evicts the private profiles of a stopping
// foreground user.
func (r *Repository) HandleUserStop(userID int) error {
	if !r.sync.loaded {
		return ErrNotLoaded
	}
	delete(r.sync.unlocked, userID)
	if userID != r.sync.currentUser {
		return nil
	}
	if err := r.Flush(false); err != nil {
		return err
	}
	r.evictPrivate(userID, "user_stop")
	r.sync.pendingRead = true
	return nil
}

func (r *Repository) evictPrivate(userID int, reason string) {
	var shadowed []*profile.Profile
	for _, p := range r.sync.shadowed {
		if p.Shared || p.UserID() != userID {
			shadowed = append(shadowed, p)
		}
	}
	r.sync.shadowed = shadowed
	for _, p := range r.sorted() {
		if !p.Shared && p.UserID() == userID {
			r.removeProfile(p, reason, removeEvict)
		}
	}
}

// readPrivate swaps in the private store of userID and relocates held
// profiles that belong to it.
func (r *Repository) readPrivate(userID int) error {
	list, err := r.store.SwitchUser(userID)
	if err != nil {
		if !r.cfg.TolerateStoreErrors {
			return fmt.Errorf("read private store of user %d: %w", userID, err)
		}
		r.logger.Warn("private store unreadable", "user", userID, "err", err)
		list = nil
	}
	r.sync.pendingRead = false

	var stillHeld []*profile.Profile
	for _, p := range r.sync.held {
		if p.UserID() == userID {
			list = append(list, p)
			r.dirty = true
			continue
		}
		stillHeld = append(stillHeld, p)
	}
	r.sync.held = stillHeld

	skipped := r.install(list)
	r.logger.Info("private store loaded", "user", userID, "profiles", len(list)-skipped, "skipped", skipped)
	return nil
}

// migratePasspoint hands stored Passpoint profiles to the Passpoint
// authority and drops them from memory.
func (r *Repository) migratePasspoint() {
	if r.passpoint == nil {
		return
	}
	for _, p := range r.sorted() {
		if !p.Passpoint || !p.Durable() {
			continue
		}
		if err := r.passpoint.MigratePasspoint(p.Clone()); err != nil {
			r.logger.Error("passpoint migration failed", "fqdn", p.FQDN, "err", err)
			continue
		}
		r.removeProfile(p, "passpoint_migration", removeMigrate)
		r.logger.Info("passpoint profile migrated", "fqdn", p.FQDN)
	}
}
