package repository

import (
	"errors"
	"testing"

	"wificonf/internal/policy"
	"wificonf/internal/profile"
)

func TestAddAssignsLowestFreeID(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo

	a := mustAdd(t, r, pskProfile("a"), creator)
	b := mustAdd(t, r, pskProfile("b"), creator)
	if a != 0 || b != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", a, b)
	}
	if _, err := r.Remove(a, creator); err != nil {
		t.Fatal(err)
	}
	c := mustAdd(t, r, pskProfile("c"), creator)
	if c != 0 {
		t.Errorf("id after removal = %d, want 0", c)
	}
	if _, ok := r.Get(b, creator); !ok {
		t.Error("profile b disappeared")
	}
}

func TestAddEmitsEventAndMarksDirty(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo

	id := mustAdd(t, r, pskProfile("home"), creator)
	evs := r.TakeEvents()
	if len(evs) != 1 || evs[0].Type != EventAdded {
		t.Fatalf("events = %v, want [%s]", eventTypes(evs), EventAdded)
	}
	if evs[0].ID == "" {
		t.Error("event id is empty")
	}
	if evs[0].Profile.Credentials.PSK != profile.MaskedSecret {
		t.Errorf("event psk = %q, want masked", evs[0].Profile.Credentials.PSK)
	}
	if !r.Dirty() {
		t.Error("repository not dirty after add")
	}
	p, _ := r.GetWithCredentials(id)
	if p.Creator.UID != creatorUID || p.OwnerUID != creatorUID {
		t.Errorf("creator = %d, owner = %d, want %d", p.Creator.UID, p.OwnerUID, creatorUID)
	}
}

func TestEphemeralAddDoesNotMarkDirty(t *testing.T) {
	env := newTestEnv(t)
	p := pskProfile("cafe")
	p.Ephemeral = true
	mustAdd(t, env.repo, p, creator)
	if env.repo.Dirty() {
		t.Error("ephemeral add marked repository dirty")
	}
}

func TestAddRejectsMalformedWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	mustAdd(t, r, pskProfile("home"), creator)
	r.TakeEvents()

	noIP := pskProfile("x")
	noIP.IP = nil
	noEAP := eapProfile("corp")
	noEAP.Credentials.Enterprise.EAP = profile.EAPNone
	shortPSK := pskProfile("y")
	shortPSK.Credentials.PSK = "short"
	masked := pskProfile("z")
	masked.Credentials.PSK = profile.MaskedSecret

	for name, p := range map[string]*profile.Profile{
		"nil":        nil,
		"no ip":      noIP,
		"no eap":     noEAP,
		"short psk":  shortPSK,
		"masked psk": masked,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.AddOrUpdate(p, creator)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
			if RejectReason(err) != RejectMalformed {
				t.Errorf("reason = %v, want malformed", RejectReason(err))
			}
			if r.Len() != 1 {
				t.Errorf("len = %d, want 1", r.Len())
			}
			if evs := r.TakeEvents(); len(evs) != 0 {
				t.Errorf("events = %v, want none", eventTypes(evs))
			}
		})
	}
}

func TestNotLoaded(t *testing.T) {
	r := New(DefaultConfig(), policy.Policy{}, Deps{Logger: testLogger(), Store: newMemStore()})
	if _, err := r.AddOrUpdate(pskProfile("a"), creator); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("add err = %v, want ErrNotLoaded", err)
	}
	if _, err := r.Remove(0, creator); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("remove err = %v, want ErrNotLoaded", err)
	}
	if err := r.Flush(true); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("flush err = %v, want ErrNotLoaded", err)
	}
}

func TestRemoveUnknownID(t *testing.T) {
	env := newTestEnv(t)
	ok, err := env.repo.Remove(42, creator)
	if ok || !errors.Is(err, ErrInvalidID) {
		t.Errorf("Remove = %v, %v, want false, ErrInvalidID", ok, err)
	}
}

func TestUpdateByInvalidID(t *testing.T) {
	env := newTestEnv(t)
	p := pskProfile("a")
	p.ID = 7
	if _, err := env.repo.AddOrUpdate(p, creator); !errors.Is(err, ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestUpdatePermissions(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)

	upd := pskProfile("home")
	upd.Hidden = true
	if _, err := r.AddOrUpdate(upd, stranger); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("stranger update err = %v, want ErrPermissionDenied", err)
	}
	if p, _ := r.GetWithCredentials(id); p.Hidden {
		t.Fatal("denied update was applied")
	}
	if _, err := r.Remove(id, stranger); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("stranger remove err = %v, want ErrPermissionDenied", err)
	}

	out, err := r.AddOrUpdate(upd, settings)
	if err != nil {
		t.Fatalf("settings update: %v", err)
	}
	if out.ID != id || out.IsNew {
		t.Errorf("outcome = %+v, want id %d, not new", out, id)
	}
}

func TestProxyAndMacChangesNeedPrivilege(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)

	proxied := pskProfile("home")
	proxied.IP.Proxy = profile.Proxy{Mode: profile.ProxyStatic, Host: "proxy.local", Port: 3128}
	if _, err := r.AddOrUpdate(proxied, creator); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("creator proxy change err = %v, want ErrPermissionDenied", err)
	}

	noRandom := pskProfile("home")
	noRandom.MacRandomization = profile.MacNone
	if _, err := r.AddOrUpdate(noRandom, creator); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("creator mac change err = %v, want ErrPermissionDenied", err)
	}

	env.perms.owners[creatorUID] = true
	out, err := r.AddOrUpdate(proxied, creator)
	if err != nil {
		t.Fatalf("owner proxy change: %v", err)
	}
	if !out.ProxyChanged || out.IPChanged || out.CredentialChanged {
		t.Errorf("outcome = %+v, want only proxy changed", out)
	}
	p, _ := r.GetWithCredentials(id)
	if p.IP.Proxy.Host != "proxy.local" {
		t.Errorf("proxy host = %q", p.IP.Proxy.Host)
	}
}

func TestUpdateKeepsMaskedSecret(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)

	seen, _ := r.Get(id, stranger)
	seen.Hidden = true
	out, err := r.AddOrUpdate(seen, settings)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.CredentialChanged {
		t.Error("masked psk reported as credential change")
	}
	p, _ := r.GetWithCredentials(id)
	if p.Credentials.PSK != "password123" {
		t.Errorf("psk = %q, want original", p.Credentials.PSK)
	}

	changed := pskProfile("home")
	changed.Credentials.PSK = "another-secret"
	out, err = r.AddOrUpdate(changed, creator)
	if err != nil {
		t.Fatal(err)
	}
	if !out.CredentialChanged {
		t.Error("credential change not reported")
	}
	if evs := r.TakeEvents(); !hasEvent(evs, EventUpdated) {
		t.Errorf("events = %v, want %s", eventTypes(evs), EventUpdated)
	}
}

func TestCredentialMasking(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	psk := mustAdd(t, r, pskProfile("home"), creator)
	eap := mustAdd(t, r, eapProfile("corp"), creator)
	wep := profile.New("old", profile.SecurityWEP)
	wep.Credentials.WEPKeys[0] = "abcde"
	wepID := mustAdd(t, r, wep, creator)

	for _, id := range []int{psk, eap, wepID} {
		p, ok := r.Get(id, stranger)
		if !ok {
			t.Fatalf("Get(%d) not visible", id)
		}
		c := p.Credentials
		if c.PSK != "" && c.PSK != profile.MaskedSecret {
			t.Errorf("stranger sees psk %q", c.PSK)
		}
		if c.WEPKeys[0] != "" && c.WEPKeys[0] != profile.MaskedSecret {
			t.Errorf("stranger sees wep key %q", c.WEPKeys[0])
		}
		if c.Enterprise != nil && c.Enterprise.Password != profile.MaskedSecret {
			t.Errorf("stranger sees eap password %q", c.Enterprise.Password)
		}
		if p.RandomizedMAC != profile.DefaultMAC {
			t.Errorf("stranger sees mac %s", p.RandomizedMAC)
		}
	}

	for _, req := range []Requester{creator, settings} {
		p, _ := r.Get(psk, req)
		if p.Credentials.PSK != "password123" {
			t.Errorf("uid %d sees psk %q, want cleartext", req.UID, p.Credentials.PSK)
		}
		e, _ := r.Get(eap, req)
		if e.Credentials.Enterprise.Password != "secret" {
			t.Errorf("uid %d sees eap password %q, want cleartext", req.UID, e.Credentials.Enterprise.Password)
		}
	}
	if p, _ := r.Get(psk, settings); p.RandomizedMAC == profile.DefaultMAC {
		t.Error("settings caller sees masked mac")
	}

	list := r.List(stranger)
	if len(list) != 3 {
		t.Fatalf("list = %d profiles, want 3", len(list))
	}
	for _, p := range list {
		if p.Credentials.PSK == "password123" {
			t.Error("List leaked psk")
		}
	}
	stored, _ := r.GetWithCredentials(psk)
	if stored.Credentials.PSK != "password123" {
		t.Error("view masked the stored profile")
	}
}

func TestPrivateProfileVisibility(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	p := pskProfile("mine")
	p.Shared = false
	id := mustAdd(t, r, p, creator)

	other := Requester{UID: 1*profile.PerUserRange + 10010, Package: "com.example.app"}
	if _, ok := r.Get(id, other); ok {
		t.Error("private profile visible to another user")
	}
	if len(r.List(other)) != 0 {
		t.Error("List shows another user's private profile")
	}
	if _, ok := r.Get(id, stranger); !ok {
		t.Error("private profile hidden from its own user")
	}
}

func TestKeystoreFailureLeavesProfile(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, eapProfile("corp"), creator)
	if !env.keystore.installed[`"corp"WPA_EAP`] {
		t.Fatalf("installed = %v", env.keystore.installed)
	}
	r.TakeEvents()

	env.keystore.installErr = errors.New("keystore locked")
	upd := eapProfile("corp")
	upd.Credentials.Enterprise.Password = "new-secret"
	_, err := r.AddOrUpdate(upd, creator)
	if !errors.Is(err, ErrKeystore) {
		t.Fatalf("err = %v, want ErrKeystore", err)
	}
	p, _ := r.GetWithCredentials(id)
	if p.Credentials.Enterprise.Password != "secret" {
		t.Errorf("password = %q, want unchanged", p.Credentials.Enterprise.Password)
	}
	if evs := r.TakeEvents(); len(evs) != 0 {
		t.Errorf("events = %v, want none", eventTypes(evs))
	}

	env.keystore.installErr = nil
	if _, err := r.Remove(id, creator); err != nil {
		t.Fatal(err)
	}
	if len(env.keystore.removed) != 1 || env.keystore.removed[0] != `"corp"WPA_EAP` {
		t.Errorf("removed = %v", env.keystore.removed)
	}
}

func TestKeyChangeDropsEnterpriseCredentials(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, eapProfile("corp"), creator)

	upd := pskProfile("corp")
	upd.ID = id
	if _, err := r.AddOrUpdate(upd, creator); err != nil {
		t.Fatal(err)
	}
	if p, _ := r.GetWithCredentials(id); p.Key() != `"corp"WPA_PSK` {
		t.Fatalf("key = %s, want psk", p.Key())
	}
	if len(env.keystore.removed) != 1 || env.keystore.removed[0] != `"corp"WPA_EAP` {
		t.Errorf("removed = %v, want the old enterprise key", env.keystore.removed)
	}

	env.keystore.installed = nil
	back := eapProfile("corp")
	back.ID = id
	if _, err := r.AddOrUpdate(back, creator); err != nil {
		t.Fatal(err)
	}
	if len(env.keystore.removed) != 1 {
		t.Errorf("removed = %v, want no removal when becoming enterprise", env.keystore.removed)
	}
	if !env.keystore.installed[`"corp"WPA_EAP`] {
		t.Error("credentials not reinstalled")
	}
}

func TestRejectReason(t *testing.T) {
	tests := []struct {
		err  error
		want Rejection
	}{
		{nil, RejectNone},
		{ErrInvalidID, RejectInvalidID},
		{ErrPermissionDenied, RejectPermissionDenied},
		{profile.ErrMalformed, RejectMalformed},
		{ErrCapacity, RejectCapacity},
		{ErrNotLoaded, RejectNotLoaded},
		{ErrKeystore, RejectKeystore},
		{errors.New("boom"), RejectInternal},
	}
	for _, tt := range tests {
		if got := RejectReason(tt.err); got != tt.want {
			t.Errorf("RejectReason(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
