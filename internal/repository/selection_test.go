package repository

import (
	"errors"
	"testing"
	"time"

	"wificonf/internal/policy"
	"wificonf/internal/profile"
)

func withBlocklist(d Decision) func(*Config, *policy.Policy, *Deps) {
	return func(_ *Config, _ *policy.Policy, deps *Deps) { deps.Blocklist = fixedBlocklist{d: d} }
}

func TestTemporaryDisableExpiresLazily(t *testing.T) {
	env := newTestEnv(t, withBlocklist(Decision{Kind: profile.StatusTemporarilyDisabled, Duration: 5 * time.Minute}))
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)
	r.TakeEvents()

	if err := r.UpdateSelectionStatus(id, profile.ReasonAuthenticationFailure); err != nil {
		t.Fatal(err)
	}
	st, _ := r.SelectionStatus(id)
	if st.Kind != profile.StatusTemporarilyDisabled || st.Reason != profile.ReasonAuthenticationFailure {
		t.Fatalf("status = %+v", st)
	}
	if st.DisableCount[profile.ReasonAuthenticationFailure] != 1 {
		t.Errorf("count = %d, want 1", st.DisableCount[profile.ReasonAuthenticationFailure])
	}
	if !hasEvent(r.TakeEvents(), EventTemporarilyDisabled) {
		t.Error("no temporarily-disabled event")
	}
	if r.IsAutojoinEligible(id) {
		t.Error("disabled profile is autojoin eligible")
	}

	env.clock.Advance(5 * time.Minute)
	st, _ = r.SelectionStatus(id)
	if !st.Enabled() {
		t.Errorf("status after expiry = %v, want enabled", st.Kind)
	}
	if !hasEvent(r.TakeEvents(), EventEnabled) {
		t.Error("no enabled event on expiry")
	}
	if !r.IsAutojoinEligible(id) {
		t.Error("re-enabled profile not eligible")
	}
}

func TestPermanentDisableStays(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)
	r.UpdateSelectionStatus(id, profile.ReasonAuthenticationFailure)
	env.clock.Advance(48 * time.Hour)
	st, _ := r.SelectionStatus(id)
	if st.Kind != profile.StatusPermanentlyDisabled {
		t.Errorf("status = %v, want permanently disabled", st.Kind)
	}
	if err := r.UpdateSelectionStatus(id, profile.ReasonNone); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.SelectionStatus(id); !st.Enabled() || st.DisableCount != nil {
		t.Errorf("status after reset = %+v", st)
	}
}

func TestDisableClearsLastSelected(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)
	if err := r.EnableNetwork(id, true, creator); err != nil {
		t.Fatal(err)
	}
	if got, at := r.LastSelected(); got != id || at.IsZero() {
		t.Fatalf("last selected = %d at %v", got, at)
	}
	if err := r.DisableNetwork(id, creator); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.LastSelected(); got != profile.InvalidID {
		t.Errorf("last selected = %d after disable", got)
	}
	st, _ := r.SelectionStatus(id)
	if st.Kind != profile.StatusPermanentlyDisabled || st.Reason != profile.ReasonByWifiManager {
		t.Errorf("status = %+v", st)
	}
}

func TestEnableDisablePermissions(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)
	if err := r.DisableNetwork(id, stranger); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("stranger disable err = %v", err)
	}
	if err := r.DisableNetwork(id, settings); err != nil {
		t.Errorf("settings disable err = %v", err)
	}
	if err := r.EnableNetwork(id, false, stranger); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("stranger enable err = %v", err)
	}
	if err := r.EnableNetwork(id, false, creator); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.SelectionStatus(id); !st.Enabled() {
		t.Errorf("status = %v, want enabled", st.Kind)
	}
	if err := r.EnableNetwork(42, false, settings); !errors.Is(err, ErrInvalidID) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestUserDisableExtendsWhileUnseen(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)
	r.UserTemporarilyDisable("home")
	if r.IsAutojoinEligible(id) {
		t.Fatal("user-disabled network eligible")
	}

	// Scans that do not include the network keep pushing the block out,
	// but never past the maximum.
	step := 4 * time.Minute
	steps := int(DefaultConfig().UserDisableMaxDuration / step)
	for i := 1; i <= steps; i++ {
		env.clock.Advance(step)
		r.IngestScan([]Sighting{{BSSID: "aa:bb:cc:00:00:01", SSID: "other"}})
		if i < steps && !r.IsUserTemporarilyDisabled("home") {
			t.Fatalf("block expired after %v", time.Duration(i)*step)
		}
	}
	if r.IsUserTemporarilyDisabled("home") {
		t.Error("block outlived its maximum")
	}
}

func TestUserDisableExpiresWhenSeen(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	r.UserTemporarilyDisable("home")
	env.clock.Advance(4 * time.Minute)
	r.IngestScan([]Sighting{{BSSID: "aa:bb:cc:00:00:01", SSID: "home"}})
	env.clock.Advance(2 * time.Minute)
	if r.IsUserTemporarilyDisabled("home") {
		t.Error("block extended although the network was seen")
	}
	if names := r.UserDisabledNames(); len(names) != 0 {
		t.Errorf("names = %v", names)
	}
}

func TestConnectClearsUserDisable(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)
	r.UserTemporarilyDisable("home")
	if err := r.OnConnected(id); err != nil {
		t.Fatal(err)
	}
	if r.IsUserTemporarilyDisabled("home") {
		t.Error("connection did not lift the user disable")
	}
}

func TestCarrierRestriction(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	visible := mustAdd(t, r, pskProfile("visible"), creator)
	hidden := mustAdd(t, r, pskProfile("hidden"), creator)
	carrier := eapProfile("carrier")
	carrier.CarrierMerged = true
	carrier.SubscriptionID = 7
	exempt := mustAdd(t, r, carrier, settings)
	r.UpdateScanCache(visible, Sighting{BSSID: "aa:bb:cc:00:00:01", SSID: "visible"})

	r.StartRestrictingAutojoinToSubscription(7)
	if r.IsCarrierRestricted(exempt) {
		t.Error("subscription network restricted")
	}
	if !r.IsCarrierRestricted(visible) || !r.IsCarrierRestricted(hidden) {
		t.Fatal("other networks not restricted")
	}

	env.clock.Advance(DefaultConfig().CarrierRestrictHidden)
	if r.IsCarrierRestricted(hidden) {
		t.Error("hidden network still restricted after its duration")
	}
	if !r.IsCarrierRestricted(visible) {
		t.Error("visible network released early")
	}

	r.OnCellularConnectivityLost()
	if r.IsCarrierRestricted(visible) {
		t.Error("restriction survived cellular loss")
	}
}

func TestAllowAutojoin(t *testing.T) {
	env := newTestEnv(t)
	r := env.repo
	a := mustAdd(t, r, pskProfile("a"), creator)
	b := mustAdd(t, r, pskProfile("b"), creator)
	r.SetSelectionCandidates([]int{a, b})
	if err := r.OnConnectionSuccess(b, -50); err != nil {
		t.Fatal(err)
	}
	if c, ok := r.ConnectChoice(a); !ok || c.Key != `"b"WPA_PSK` {
		t.Fatalf("choice of a = %+v, %v", c, ok)
	}

	if err := r.AllowAutojoin(b, false, stranger); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("stranger err = %v", err)
	}
	r.TakeEvents()
	if err := r.AllowAutojoin(b, false, creator); err != nil {
		t.Fatal(err)
	}
	if !hasEvent(r.TakeEvents(), EventUpdated) {
		t.Error("no updated event for autojoin change")
	}
	if _, ok := r.ConnectChoice(a); ok {
		t.Error("choice pointing at b survived")
	}
	if r.IsAutojoinEligible(b) {
		t.Error("b eligible with autojoin off")
	}
	if !r.IsAutojoinEligible(a) {
		t.Error("a not eligible")
	}
}

func TestFailureBelowThresholdOnlyCounts(t *testing.T) {
	env := newTestEnv(t, withBlocklist(Decision{Kind: profile.StatusEnabled}))
	r := env.repo
	id := mustAdd(t, r, pskProfile("home"), creator)
	r.TakeEvents()

	r.UpdateSelectionStatus(id, profile.ReasonDHCPFailure)
	r.UpdateSelectionStatus(id, profile.ReasonDHCPFailure)
	st, _ := r.SelectionStatus(id)
	if !st.Enabled() || st.Count(profile.ReasonDHCPFailure) != 2 {
		t.Errorf("status = %+v, want enabled with 2 failures", st)
	}
	if len(r.TakeEvents()) != 0 {
		t.Error("counting a failure emitted events")
	}
	if err := r.OnConnected(id); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.SelectionStatus(id); st.DisableCount != nil {
		t.Errorf("counts survived a connection: %v", st.DisableCount)
	}
}
