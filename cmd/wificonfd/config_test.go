package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wificonf/internal/profile"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeFile(t, "config.yaml", "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Path != "wificonf.db" || cfg.Store.FlushInterval != 30*time.Second {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.MQTT.TopicPrefix != "wificonf" {
		t.Errorf("web = %+v, mqtt prefix = %q", cfg.Web, cfg.MQTT.TopicPrefix)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}

	rc := cfg.repositoryConfig()
	if rc.MaxProfiles != 1000 || !rc.AutoUpgrade.PSKToSAE || rc.UserDisableDuration != 5*time.Minute {
		t.Errorf("repository config = %+v", rc)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(writeFile(t, "config.yaml", `
store:
  path: /var/lib/wificonf/profiles.db
  flush_interval: 2m
mac:
  salt: device-1
  factory_mac: "00:11:22:33:44:55"
repository:
  max_profiles: 50
  auto_upgrade:
    psk_to_sae: false
  user_disable_duration: 10m
blocklist:
  base_duration: 1m
  counts:
    dhcp-failure: 5
access:
  network_settings: [1010]
log:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Store.FlushInterval != 2*time.Minute {
		t.Errorf("flush interval = %v", cfg.Store.FlushInterval)
	}
	if cfg.Blocklist.BaseDuration != time.Minute || cfg.Blocklist.Counts["dhcp-failure"] != 5 {
		t.Errorf("blocklist = %+v", cfg.Blocklist)
	}
	if len(cfg.Access.NetworkSettings) != 1 || cfg.Access.NetworkSettings[0] != 1010 {
		t.Errorf("access = %+v", cfg.Access)
	}

	rc := cfg.repositoryConfig()
	if rc.MaxProfiles != 50 || rc.AutoUpgrade.PSKToSAE || rc.UserDisableDuration != 10*time.Minute {
		t.Errorf("repository config = %+v", rc)
	}
	if rc.MacSalt != "device-1" || rc.FactoryMAC.String() != "00:11:22:33:44:55" {
		t.Errorf("mac = %q %s", rc.MacSalt, rc.FactoryMAC)
	}
	if rc.CarrierRestrictHidden != 2*time.Hour {
		t.Errorf("unset duration lost its default: %v", rc.CarrierRestrictHidden)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"both keys", "store: {secret_key: aa, secret_key_file: k}", "mutually exclusive"},
		{"short flush", "store: {flush_interval: 10ms}", "flush_interval"},
		{"disable over max", "repository: {user_disable_duration: 2h, user_disable_max_duration: 1h}", "exceeds"},
		{"mqtt no broker", "mqtt: {enabled: true}", "mqtt.broker"},
		{"local factory mac", `mac: {factory_mac: "02:00:00:00:00:01"}`, "locally administered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeFile(t, "config.yaml", tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: want error")
	}
	if _, err := loadConfig(writeFile(t, "bad.yaml", "store: [")); err == nil {
		t.Error("bad yaml: want error")
	}
	if _, err := loadConfig(writeFile(t, "bad.yaml", "store: {flush_interval: soon}")); err == nil {
		t.Error("bad duration: want error")
	}
}

func TestSealer(t *testing.T) {
	cfg := &Config{}
	if s, err := cfg.sealer(); err != nil || s != nil {
		t.Errorf("no key: sealer = %v, err = %v", s, err)
	}
	cfg.Store.SecretKeyFile = writeFile(t, "key", strings.Repeat("ab", 32)+"\n")
	if s, err := cfg.sealer(); err != nil || s == nil {
		t.Errorf("key file: sealer = %v, err = %v", s, err)
	}
	cfg.Store.SecretKeyFile = ""
	cfg.Store.SecretKey = "abcd"
	if _, err := cfg.sealer(); err == nil {
		t.Error("short key: want error")
	}
}

func TestParseImport(t *testing.T) {
	list, err := parseImport([]byte(`
profiles:
  - ssid: home
    security: psk
    credentials:
      psk: password123
  - ssid: guest
    security: open
    hidden: true
    autojoin: false
    mac_randomization: non-persistent
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d profiles, want 2", len(list))
	}
	if list[0].Key() != `"home"WPA_PSK` || list[0].Credentials.PSK != "password123" || !list[0].AllowAutojoin {
		t.Errorf("home = %+v", list[0])
	}
	g := list[1]
	if !g.Hidden || g.AllowAutojoin || g.MacRandomization != profile.MacNonPersistent || !g.Shared {
		t.Errorf("guest = %+v", g)
	}
	if _, err := parseImport([]byte("profiles:\n  - ssid: x\n    security: wpa9\n")); err == nil {
		t.Error("unknown security: want error")
	}
}

func TestImportThenList(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(writeFile(t, "config.yaml", "store: {path: "+filepath.Join(dir, "p.db")+"}\nmac: {secret_file: "+filepath.Join(dir, "mac")+"}\n"))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := writeFile(t, "import.yaml", `
profiles:
  - ssid: home
    security: psk
    credentials: {psk: password123}
  - ssid: broken
    security: psk
    credentials: {psk: short}
`)

	var out bytes.Buffer
	if err := runImport(cfg, logger, src, profile.SystemUID, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "added home") || !strings.Contains(out.String(), "skip broken") {
		t.Errorf("import output = %q", out.String())
	}

	out.Reset()
	if err := runList(cfg, logger, &out); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "home") || !strings.Contains(lines[1], "psk") {
		t.Errorf("list output = %q", out.String())
	}
}
