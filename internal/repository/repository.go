// Package repository owns the authoritative set of saved network profiles.
//
// A Repository has no locks. Every call must come from one goroutine; Loop
// provides that for concurrent callers. Mutations queue Events which the
// caller drains with TakeEvents.
package repository

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"wificonf/internal/policy"
	"wificonf/internal/profile"
)

// AutoUpgrade enables adding the upgrade variant of each base type.
type AutoUpgrade struct {
	PSKToSAE  bool `yaml:"psk_to_sae"`
	OpenToOWE bool `yaml:"open_to_owe"`
	EAPToWPA3 bool `yaml:"eap_to_wpa3"`
}

func (a AutoUpgrade) enabled(base profile.SecurityType) bool {
	switch base {
	case profile.SecurityPSK:
		return a.PSKToSAE
	case profile.SecurityOpen:
		return a.OpenToOWE
	case profile.SecurityEAP:
		return a.EAPToWPA3
	}
	return false
}

// Config tunes the repository.
type Config struct {
	MaxProfiles        int
	MacSalt            string
	FactoryMAC         profile.MAC
	AutoUpgrade        AutoUpgrade
	RecentUpdateWindow time.Duration

	UserDisableDuration    time.Duration
	UserDisableMaxDuration time.Duration

	CarrierRestrictVisible time.Duration
	CarrierRestrictHidden  time.Duration

	// TolerateStoreErrors continues with an empty set when the store
	// cannot be read.
	TolerateStoreErrors bool
}

// DefaultConfig returns the defaults used by the daemon.
func DefaultConfig() Config {
	return Config{
		MaxProfiles:            1000,
		AutoUpgrade:            AutoUpgrade{PSKToSAE: true, OpenToOWE: true, EAPToWPA3: true},
		RecentUpdateWindow:     24 * time.Hour,
		UserDisableDuration:    5 * time.Minute,
		UserDisableMaxDuration: 24 * time.Hour,
		CarrierRestrictVisible: 24 * time.Hour,
		CarrierRestrictHidden:  2 * time.Hour,
	}
}

// Deps are the collaborators a Repository calls. Nil fields fall back to
// inert defaults except Store, which Load requires.
type Deps struct {
	Clock       Clock
	Permissions Permissions
	MacDeriver  MacDeriver
	Blocklist   Blocklist
	Store       PersistentStore
	Passpoint   PasspointMigrator
	Keystore    Keystore
	Packages    PackageResolver
	Metrics     Metrics
	Logger      *slog.Logger
}

// UpdateOutcome describes a successful AddOrUpdate.
type UpdateOutcome struct {
	ID                int  `json:"id"`
	IsNew             bool `json:"is_new"`
	Merged            bool `json:"merged"`
	IPChanged         bool `json:"ip_changed"`
	ProxyChanged      bool `json:"proxy_changed"`
	CredentialChanged bool `json:"credential_changed"`
}

// Repository is the in-memory profile set plus every engine that mutates it.
type Repository struct {
	cfg    Config
	policy policy.Policy

	clock     Clock
	perms     Permissions
	deriver   MacDeriver
	blocklist Blocklist
	store     PersistentStore
	passpoint PasspointMigrator
	keystore  Keystore
	packages  PackageResolver
	metrics   Metrics
	logger    *slog.Logger

	profiles   map[int]*profile.Profile
	scanCaches map[int]*ScanCache
	macs       map[string]MacIdentity

	lastSelected     int
	lastSelectedTime time.Time
	connected        int
	candidates       []int

	userDisabled map[string]userDisable
	restriction  *carrierRestriction

	sync   syncState
	dirty  bool
	events []Event
}

// New creates an unloaded repository.
func New(cfg Config, pol policy.Policy, deps Deps) *Repository {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Permissions == nil {
		deps.Permissions = noPermissions{}
	}
	if deps.Blocklist == nil {
		deps.Blocklist = enableAll{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	return &Repository{
		cfg:          cfg,
		policy:       pol,
		clock:        deps.Clock,
		perms:        deps.Permissions,
		deriver:      deps.MacDeriver,
		blocklist:    deps.Blocklist,
		store:        deps.Store,
		passpoint:    deps.Passpoint,
		keystore:     deps.Keystore,
		packages:     deps.Packages,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With("component", "repository"),
		profiles:     make(map[int]*profile.Profile),
		scanCaches:   make(map[int]*ScanCache),
		macs:         make(map[string]MacIdentity),
		lastSelected: profile.InvalidID,
		connected:    profile.InvalidID,
		userDisabled: make(map[string]userDisable),
	}
}

// SetPolicy replaces the active policy. Profiles pick it up on their next
// MAC or linking evaluation.
func (r *Repository) SetPolicy(p policy.Policy) {
	r.policy = p
}

// Policy returns the active policy.
func (r *Repository) Policy() policy.Policy { return r.policy }

// Len returns the number of profiles in memory.
func (r *Repository) Len() int { return len(r.profiles) }

// Dirty reports whether durable state changed since the last write.
func (r *Repository) Dirty() bool { return r.dirty }

// sorted returns the profiles ordered by id.
func (r *Repository) sorted() []*profile.Profile {
	out := make([]*profile.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repository) byKey(key string) *profile.Profile {
	for _, p := range r.profiles {
		if p.Key() == key {
			return p
		}
	}
	return nil
}

func (r *Repository) nextID() int {
	for id := 0; ; id++ {
		if _, ok := r.profiles[id]; !ok {
			return id
		}
	}
}

// commit installs p as the current value of its id.
func (r *Repository) commit(p *profile.Profile) {
	r.profiles[p.ID] = p
}

// mutate clones the profile with id, applies fn and commits the clone.
func (r *Repository) mutate(id int, fn func(p *profile.Profile)) *profile.Profile {
	cur, ok := r.profiles[id]
	if !ok {
		return nil
	}
	next := cur.Clone()
	fn(next)
	r.commit(next)
	return next
}

func (r *Repository) markDirty(p *profile.Profile) {
	if p.Durable() {
		r.dirty = true
	}
}

func (r *Repository) elevated(req Requester) bool {
	return r.perms.HasNetworkSettings(req.UID) || r.perms.HasSetupWizard(req.UID)
}

func (r *Repository) isOwner(req Requester) bool {
	return r.perms.IsDeviceOwner(req.UID, req.Package) || r.perms.IsProfileOwner(req.UID, req.Package)
}

func (r *Repository) canModify(p *profile.Profile, req Requester) bool {
	if p.Creator.UID == req.UID {
		return true
	}
	return r.elevated(req) || r.isOwner(req)
}

func (r *Repository) canChangeProxy(req Requester) bool {
	return r.perms.HasNetworkSettings(req.UID) || r.isOwner(req)
}

func (r *Repository) canChangeMac(req Requester) bool {
	return r.elevated(req) || r.isOwner(req)
}

func (r *Repository) canReadCredentials(p *profile.Profile, req Requester) bool {
	return p.Creator.UID == req.UID || r.perms.HasNetworkSettings(req.UID)
}

// view returns the copy of p a requester may see.
func (r *Repository) view(p *profile.Profile, req Requester) *profile.Profile {
	out := p.Clone()
	if !r.canReadCredentials(p, req) {
		out.Credentials = p.MaskedCredentials()
	}
	if !r.perms.HasNetworkSettings(req.UID) && !out.RandomizedMAC.IsZero() {
		out.RandomizedMAC = profile.DefaultMAC
	}
	return out
}

// Get returns the profile with id as the requester may see it.
func (r *Repository) Get(id int, req Requester) (*profile.Profile, bool) {
	p, ok := r.profiles[id]
	if !ok || !p.VisibleTo(req.User()) {
		return nil, false
	}
	p = r.refreshStatus(p)
	return r.view(p, req), true
}

// GetWithCredentials returns an unmasked copy. Callers must already hold
// the privilege to see secrets.
func (r *Repository) GetWithCredentials(id int) (*profile.Profile, bool) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, false
	}
	return r.refreshStatus(p).Clone(), true
}

// GetByKey returns the profile whose key is key.
func (r *Repository) GetByKey(key string, req Requester) (*profile.Profile, bool) {
	p := r.byKey(key)
	if p == nil {
		return nil, false
	}
	return r.Get(p.ID, req)
}

// List returns every profile visible to the requester's user, by id.
func (r *Repository) List(req Requester) []*profile.Profile {
	user := req.User()
	var out []*profile.Profile
	for _, p := range r.sorted() {
		if !p.VisibleTo(user) {
			continue
		}
		out = append(out, r.view(r.refreshStatus(p), req))
	}
	return out
}

// AddOrUpdate adds a new profile, merges it into an upgrade-compatible
// one, or updates the existing profile with the same id or key. Nothing
// changes when an error is returned.
func (r *Repository) AddOrUpdate(in *profile.Profile, req Requester) (UpdateOutcome, error) {
	out, err := r.addOrUpdate(in, req)
	if err != nil {
		r.metrics.Rejected(RejectReason(err))
		r.logger.Debug("add or update rejected", "uid", req.UID, "err", err)
	}
	return out, err
}

func (r *Repository) addOrUpdate(in *profile.Profile, req Requester) (UpdateOutcome, error) {
	if !r.sync.loaded {
		return UpdateOutcome{}, ErrNotLoaded
	}
	if err := in.Validate(); err != nil {
		return UpdateOutcome{}, err
	}
	cand := in.Clone()
	r.normalizeVariants(cand)

	var existing *profile.Profile
	merged := false
	if cand.ID != profile.InvalidID {
		existing = r.profiles[cand.ID]
		if existing == nil {
			return UpdateOutcome{}, fmt.Errorf("%w: %d", ErrInvalidID, cand.ID)
		}
	} else {
		existing, merged = r.findExisting(cand)
	}

	now := r.clock.Now()
	if existing == nil {
		return r.addNew(cand, req, now)
	}
	return r.update(existing, cand, req, now, merged)
}

func (r *Repository) addNew(p *profile.Profile, req Requester, now time.Time) (UpdateOutcome, error) {
	if p.Credentials.HasMaskedSecret() {
		return UpdateOutcome{}, fmt.Errorf("%w: masked credentials on a new profile", ErrMalformed)
	}
	stamp := profile.Stamp{UID: req.UID, Package: req.Package, Time: now}
	p.Creator = stamp
	p.LastUpdate = stamp
	p.OwnerUID = req.UID
	p.Status = profile.SelectionStatus{}
	p.Linked = nil
	p.ConnectChoice = nil
	p.RandomizedMAC = profile.ZeroMAC
	p.MacLastModified = time.Time{}
	p.MacExpiration = time.Time{}

	victims, err := r.planEviction(p)
	if err != nil {
		return UpdateOutcome{}, err
	}
	if err := r.installCredentials(p); err != nil {
		return UpdateOutcome{}, err
	}
	for _, v := range victims {
		r.logger.Info("evicting profile for capacity", "id", v.ID, "key", v.Key())
		r.removeProfile(v, "capacity", removeDelete)
	}

	p.ID = r.nextID()
	r.assignPersistentMAC(p)
	r.commit(p)
	r.scanCaches[p.ID] = NewScanCache()
	r.emit(EventAdded, p, nil)
	r.markDirty(p)
	r.metrics.ProfileAdded(false)
	r.logger.Info("profile added", "id", p.ID, "key", p.Key(), "uid", req.UID)
	return UpdateOutcome{ID: p.ID, IsNew: true}, nil
}

func (r *Repository) update(old, in *profile.Profile, req Requester, now time.Time, merged bool) (UpdateOutcome, error) {
	if !r.canModify(old, req) {
		return UpdateOutcome{}, fmt.Errorf("%w: uid %d cannot modify %s", ErrPermissionDenied, req.UID, old.Key())
	}
	if in.Passpoint != old.Passpoint || in.Name() != old.Name() {
		return UpdateOutcome{}, fmt.Errorf("%w: network name cannot change", ErrMalformed)
	}

	next := old.Clone()
	if variantsCompatible(old, in) {
		next.Variants, next.DefaultSecurity = mergeVariants(old, in, in)
	} else {
		next.Variants = append([]profile.SecurityVariant(nil), in.Variants...)
		next.DefaultSecurity = in.DefaultSecurity
	}
	if other := r.byKey(next.Key()); other != nil && other.ID != old.ID {
		return UpdateOutcome{}, fmt.Errorf("%w: key %s belongs to profile %d", ErrMalformed, next.Key(), other.ID)
	}
	next.Credentials = mergeCredentials(old.Credentials, in.Credentials)
	next.Hidden = in.Hidden
	next.ProviderName = in.ProviderName
	next.IP = in.IP.Clone()
	next.MacRandomization = in.MacRandomization
	next.MeteredOverride = in.MeteredOverride
	next.DeletionPriority = in.DeletionPriority
	next.CarrierID = in.CarrierID
	next.SubscriptionID = in.SubscriptionID
	next.CarrierMerged = in.CarrierMerged
	if err := next.Validate(); err != nil {
		return UpdateOutcome{}, err
	}

	out := UpdateOutcome{
		ID:                old.ID,
		Merged:            merged,
		IPChanged:         !old.IP.AddressingEqual(next.IP),
		ProxyChanged:      !old.IP.Proxy.Equal(next.IP.Proxy),
		CredentialChanged: !profile.CredentialsEqual(old.Credentials, next.Credentials),
	}
	if out.ProxyChanged && !r.canChangeProxy(req) {
		return UpdateOutcome{}, fmt.Errorf("%w: proxy change requires network settings or owner", ErrPermissionDenied)
	}
	if old.MacRandomization != next.MacRandomization && !r.canChangeMac(req) {
		return UpdateOutcome{}, fmt.Errorf("%w: mac randomization change requires network settings or owner", ErrPermissionDenied)
	}
	oldKey, newKey := old.Key(), next.Key()
	if out.CredentialChanged || next.IsEnterprise() && (!old.IsEnterprise() || oldKey != newKey) {
		if err := r.installCredentials(next); err != nil {
			return UpdateOutcome{}, err
		}
	}

	next.LastUpdate = profile.Stamp{UID: req.UID, Package: req.Package, Time: now}
	r.commit(next)
	if oldKey != newKey {
		r.rekey(oldKey, newKey)
	}
	if old.IsEnterprise() && (!next.IsEnterprise() || oldKey != newKey) {
		r.removeCredentials(oldKey)
	}
	if next.StableKey() != old.StableKey() {
		r.assignPersistentMAC(next)
	}
	r.emit(EventUpdated, next, func(e *Event) { e.Old = old.Masked() })
	r.markDirty(next)
	if merged {
		r.metrics.ProfileAdded(true)
	}
	r.logger.Info("profile updated", "id", next.ID, "key", next.Key(), "uid", req.UID, "merged", merged)
	return out, nil
}

// mergeCredentials keeps existing secrets wherever the incoming value is
// the masked placeholder.
func mergeCredentials(old, in profile.Credentials) profile.Credentials {
	out := in
	if out.PSK == profile.MaskedSecret {
		out.PSK = old.PSK
	}
	for i, k := range out.WEPKeys {
		if k == profile.MaskedSecret {
			out.WEPKeys[i] = old.WEPKeys[i]
		}
	}
	if in.Enterprise != nil {
		e := *in.Enterprise
		if e.Password == profile.MaskedSecret && old.Enterprise != nil {
			e.Password = old.Enterprise.Password
		}
		out.Enterprise = &e
	}
	return out
}

func (r *Repository) installCredentials(p *profile.Profile) error {
	if r.keystore == nil || !p.IsEnterprise() {
		return nil
	}
	if err := r.keystore.Install(p); err != nil {
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}
	return nil
}

func (r *Repository) removeCredentials(key string) {
	if r.keystore == nil {
		return
	}
	if err := r.keystore.Remove(key); err != nil {
		r.logger.Warn("remove enterprise credentials", "key", key, "err", err)
	}
}

// rekey rewrites links and connect choices after a profile's key changed.
func (r *Repository) rekey(oldKey, newKey string) {
	for _, p := range r.sorted() {
		refLink := p.Linked[oldKey]
		refChoice := p.ConnectChoice != nil && p.ConnectChoice.Key == oldKey
		if !refLink && !refChoice {
			continue
		}
		r.mutate(p.ID, func(q *profile.Profile) {
			if refLink {
				delete(q.Linked, oldKey)
				q.Linked[newKey] = true
			}
			if refChoice {
				q.ConnectChoice.Key = newKey
			}
		})
	}
}

// Remove deletes the profile with id.
func (r *Repository) Remove(id int, req Requester) (bool, error) {
	if !r.sync.loaded {
		return false, ErrNotLoaded
	}
	p, ok := r.profiles[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if !r.canModify(p, req) {
		r.metrics.Rejected(RejectPermissionDenied)
		return false, fmt.Errorf("%w: uid %d cannot remove %s", ErrPermissionDenied, req.UID, p.Key())
	}
	r.removeProfile(p, "user", removeDelete)
	r.logger.Info("profile removed", "id", id, "key", p.Key(), "uid", req.UID)
	return true, nil
}

type removal int

const (
	// removeDelete forgets the profile for good.
	removeDelete removal = iota
	// removeMigrate hands the profile to another authority, which keeps
	// its installed credentials.
	removeMigrate
	// removeEvict drops the profile from memory only; its store keeps it.
	removeEvict
)

// removeProfile drops p and every reference to it. The MAC identity for
// its key is kept so a re-added profile gets the same address.
func (r *Repository) removeProfile(p *profile.Profile, reason string, kind removal) {
	delete(r.profiles, p.ID)
	delete(r.scanCaches, p.ID)
	if r.lastSelected == p.ID {
		r.lastSelected = profile.InvalidID
	}
	if r.connected == p.ID {
		r.connected = profile.InvalidID
	}
	for i, id := range r.candidates {
		if id == p.ID {
			r.candidates = append(r.candidates[:i:i], r.candidates[i+1:]...)
			break
		}
	}
	if r.restriction != nil {
		delete(r.restriction.until, p.ID)
	}
	key := p.Key()
	if kind == removeDelete && p.IsEnterprise() {
		r.removeCredentials(key)
	}
	for _, q := range r.sorted() {
		if q.Linked[key] {
			r.mutate(q.ID, func(q *profile.Profile) { delete(q.Linked, key) })
		}
	}
	r.emit(EventRemoved, p, func(e *Event) { e.Reason = reason })
	r.clearChoicesReferencing(key)
	if kind != removeEvict {
		r.markDirty(p)
	}
	r.metrics.ProfileRemoved(reason)
	r.promoteShadowed(key)
}
