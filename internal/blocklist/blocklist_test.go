package blocklist

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withCount(reason profile.DisableReason, n int) *profile.Profile {
	p := profile.New("home", profile.SecurityPSK)
	p.Credentials.PSK = "password123"
	if n > 0 {
		p.Status.DisableCount = map[profile.DisableReason]int{reason: n}
	}
	return p
}

func TestThresholdsBackoff(t *testing.T) {
	th, err := NewThresholds(Config{})
	if err != nil {
		t.Fatal(err)
	}
	r := profile.ReasonAuthenticationFailure
	tests := []struct {
		seen int
		want repository.Decision
	}{
		{0, repository.Decision{Kind: profile.StatusEnabled}},
		{1, repository.Decision{Kind: profile.StatusEnabled}},
		{2, repository.Decision{Kind: profile.StatusTemporarilyDisabled, Duration: 5 * time.Minute}},
		{3, repository.Decision{Kind: profile.StatusTemporarilyDisabled, Duration: 10 * time.Minute}},
		{4, repository.Decision{Kind: profile.StatusTemporarilyDisabled, Duration: 20 * time.Minute}},
		{40, repository.Decision{Kind: profile.StatusTemporarilyDisabled, Duration: DefaultMaxDuration}},
	}
	for _, tt := range tests {
		if got := th.Decide(withCount(r, tt.seen), r); got != tt.want {
			t.Errorf("seen %d: Decide = %+v, want %+v", tt.seen, got, tt.want)
		}
	}
}

func TestThresholdsPermanentAndReset(t *testing.T) {
	th, _ := NewThresholds(Config{})
	p := withCount(profile.ReasonNone, 0)
	if got := th.Decide(p, profile.ReasonWrongPassword); got.Kind != profile.StatusPermanentlyDisabled {
		t.Errorf("wrong password = %v, want permanent", got.Kind)
	}
	if got := th.Decide(p, profile.ReasonNoInternetTemporary); got.Kind != profile.StatusTemporarilyDisabled {
		t.Errorf("no internet = %v, want temporary on first failure", got.Kind)
	}
	if got := th.Decide(p, profile.ReasonNone); got.Kind != profile.StatusEnabled {
		t.Errorf("none = %v, want enabled", got.Kind)
	}
}

func TestThresholdsConfig(t *testing.T) {
	th, err := NewThresholds(Config{
		BaseDuration: time.Minute,
		MaxDuration:  time.Hour,
		Counts:       map[string]int{"dhcp-failure": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := th.Decide(withCount(profile.ReasonNone, 0), profile.ReasonDHCPFailure)
	if got.Kind != profile.StatusTemporarilyDisabled || got.Duration != time.Minute {
		t.Errorf("Decide = %+v", got)
	}

	bad := []Config{
		{Counts: map[string]int{"bogus": 2}},
		{Counts: map[string]int{"dhcp-failure": 0}},
		{BaseDuration: time.Hour, MaxDuration: time.Minute},
	}
	for _, cfg := range bad {
		if _, err := NewThresholds(cfg); err == nil {
			t.Errorf("config %+v accepted", cfg)
		}
	}
}

func TestLuaPolicy(t *testing.T) {
	th, _ := NewThresholds(Config{})
	script := `
function decide(net, reason, count)
  if net.ssid == "guest" then
    return "temporarily-disabled", 30
  end
  if reason == "dhcp-failure" and count >= 2 then
    return "permanently-disabled"
  end
  return nil
end`
	lp, err := NewLuaPolicy(script, th, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer lp.Close()

	guest := profile.New("guest", profile.SecurityOpen)
	if got := lp.Decide(guest, profile.ReasonAssociationRejection); got.Kind != profile.StatusTemporarilyDisabled || got.Duration != 30*time.Second {
		t.Errorf("guest = %+v", got)
	}
	if got := lp.Decide(withCount(profile.ReasonDHCPFailure, 1), profile.ReasonDHCPFailure); got.Kind != profile.StatusPermanentlyDisabled {
		t.Errorf("second dhcp failure = %+v, want permanent", got)
	}
	// nil defers to the thresholds
	if got := lp.Decide(withCount(profile.ReasonNone, 0), profile.ReasonWrongPassword); got.Kind != profile.StatusPermanentlyDisabled {
		t.Errorf("fallback = %+v", got)
	}
}

func TestLuaPolicyFallsBack(t *testing.T) {
	th, _ := NewThresholds(Config{})
	scripts := map[string]string{
		"error":    `function decide() error("boom") end`,
		"bad kind": `function decide() return "sideways" end`,
		"no secs":  `function decide() return "temporarily-disabled" end`,
		"loop":     `function decide() while true do end end`,
	}
	for name, script := range scripts {
		lp, err := NewLuaPolicy(script, th, quietLogger())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		got := lp.Decide(withCount(profile.ReasonNone, 0), profile.ReasonAuthenticationFailure)
		if got.Kind != profile.StatusEnabled {
			t.Errorf("%s: Decide = %+v, want threshold result", name, got)
		}
		lp.Close()
	}
}

func TestLuaSandbox(t *testing.T) {
	th, _ := NewThresholds(Config{})
	if _, err := NewLuaPolicy(`os.exit(1)`, th, quietLogger()); err == nil {
		t.Error("script reached os")
	}
	if _, err := NewLuaPolicy(`x = 1`, th, quietLogger()); err == nil {
		t.Error("script without decide accepted")
	}
}

func TestNew(t *testing.T) {
	b, closeFn, err := New(Config{}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	closeFn()
	if _, ok := b.(*Thresholds); !ok {
		t.Errorf("policy = %T, want *Thresholds", b)
	}
	b, closeFn, err = New(Config{Script: `function decide() return nil end`}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := b.(*LuaPolicy); !ok {
		t.Errorf("policy = %T, want *LuaPolicy", b)
	}
}
