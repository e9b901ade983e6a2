package repository

import (
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"wificonf/internal/policy"
	"wificonf/internal/profile"
)

const (
	creatorUID  = 10010
	otherUID    = 10020
	settingsUID = 1000
)

var (
	creator  = Requester{UID: creatorUID, Package: "com.example.app"}
	stranger = Requester{UID: otherUID, Package: "com.example.other"}
	settings = Requester{UID: settingsUID, Package: "com.android.settings"}
)

type fakeClock struct {
	now  time.Time
	boot time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Elapsed() time.Duration { return c.boot }
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	c.boot += d
}

type fakePerms struct {
	settings map[int]bool
	owners   map[int]bool
}

func (f *fakePerms) HasNetworkSettings(uid int) bool { return f.settings[uid] }
func (f *fakePerms) HasSetupWizard(int) bool { return false }
func (f *fakePerms) HasManagedProvisioning(int) bool { return false }
func (f *fakePerms) IsDeviceOwner(uid int, _ string) bool { return f.owners[uid] }
func (f *fakePerms) IsProfileOwner(int, string) bool { return false }

// memStore is a minimal in-memory PersistentStore.
type memStore struct {
	shared   []*profile.Profile
	private  map[int][]*profile.Profile
	user     int
	readErr  error
	writeErr error
	writes   int
	last     StoreData
}

func newMemStore() *memStore {
	return &memStore{private: make(map[int][]*profile.Profile)}
}

func cloneAll(in []*profile.Profile) []*profile.Profile {
	out := make([]*profile.Profile, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

func (m *memStore) Read() (StoreData, error) {
	if m.readErr != nil {
		return StoreData{}, m.readErr
	}
	return StoreData{Shared: cloneAll(m.shared), Private: cloneAll(m.private[m.user]), HasPrivate: true}, nil
}

func (m *memStore) Write(d StoreData) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.last = d
	m.shared = cloneAll(d.Shared)
	if d.HasPrivate {
		m.private[m.user] = cloneAll(d.Private)
	}
	return nil
}

func (m *memStore) SwitchUser(user int) ([]*profile.Profile, error) {
	m.user = user
	if m.readErr != nil {
		return nil, m.readErr
	}
	return cloneAll(m.private[user]), nil
}

// hashDeriver derives addresses from a hash of the key; the first fail
// calls return an error.
type hashDeriver struct {
	fail  int
	calls int
}

func (d *hashDeriver) Derive(key string, salt []byte) (profile.MAC, error) {
	d.calls++
	if d.calls <= d.fail {
		return profile.ZeroMAC, errors.New("derivation unavailable")
	}
	sum := sha256.Sum256(append([]byte(key), salt...))
	var b [6]byte
	copy(b[:], sum[:6])
	return profile.LocalUnicast(b), nil
}

type fakeKeystore struct {
	installErr error
	installed  map[string]bool
	removed    []string
}

func (k *fakeKeystore) Install(p *profile.Profile) error {
	if k.installErr != nil {
		return k.installErr
	}
	if k.installed == nil {
		k.installed = make(map[string]bool)
	}
	k.installed[p.Key()] = true
	return nil
}

func (k *fakeKeystore) Remove(key string) error {
	k.removed = append(k.removed, key)
	return nil
}

type fixedBlocklist struct{ d Decision }

func (b fixedBlocklist) Decide(*profile.Profile, profile.DisableReason) Decision { return b.d }

type fakePasspoint struct{ got []string }

func (f *fakePasspoint) MigratePasspoint(p *profile.Profile) error {
	f.got = append(f.got, p.FQDN)
	return nil
}

type fakePackages map[int]string

func (f fakePackages) NameForUID(uid int) (string, bool) {
	n, ok := f[uid]
	return n, ok
}

type testEnv struct {
	repo     *Repository
	clock    *fakeClock
	store    *memStore
	perms    *fakePerms
	deriver  *hashDeriver
	keystore *fakeKeystore
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, mods ...func(*Config, *policy.Policy, *Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		store:    newMemStore(),
		perms:    &fakePerms{settings: map[int]bool{settingsUID: true}, owners: map[int]bool{}},
		deriver:  &hashDeriver{},
		keystore: &fakeKeystore{},
	}
	cfg := DefaultConfig()
	cfg.MacSalt = "salt"
	var pol policy.Policy
	deps := Deps{
		Clock:       env.clock,
		Permissions: env.perms,
		MacDeriver:  env.deriver,
		Store:       env.store,
		Keystore:    env.keystore,
		Logger:      testLogger(),
	}
	for _, m := range mods {
		m(&cfg, &pol, &deps)
	}
	env.repo = New(cfg, pol, deps)
	if err := env.repo.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	env.repo.TakeEvents()
	return env
}

func pskProfile(ssid string) *profile.Profile {
	p := profile.New(ssid, profile.SecurityPSK)
	p.Credentials.PSK = "password123"
	return p
}

func saeProfile(ssid string) *profile.Profile {
	p := profile.New(ssid, profile.SecuritySAE)
	p.Credentials.PSK = "password123"
	return p
}

func openProfile(ssid string) *profile.Profile {
	return profile.New(ssid, profile.SecurityOpen)
}

func eapProfile(ssid string) *profile.Profile {
	p := profile.New(ssid, profile.SecurityEAP)
	p.Credentials.Enterprise = &profile.Enterprise{EAP: profile.EAPPEAP, Identity: "alice", Password: "secret"}
	return p
}

func mustAdd(t *testing.T, r *Repository, p *profile.Profile, req Requester) int {
	t.Helper()
	out, err := r.AddOrUpdate(p, req)
	if err != nil {
		t.Fatalf("AddOrUpdate(%s): %v", p.SSID, err)
	}
	return out.ID
}

func eventTypes(evs []Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func hasEvent(evs []Event, typ string) bool {
	for _, e := range evs {
		if e.Type == typ {
			return true
		}
	}
	return false
}
