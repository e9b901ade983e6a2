package access

import (
	"testing"

	"gopkg.in/yaml.v3"

	"wificonf/internal/profile"
)

const sample = `
network_settings: [1010]
setup_wizard: [1020]
managed_provisioning: [1030]
device_owner: {uid: 10050, package: com.example.dpc}
profile_owners:
  - {uid: 1010060, package: com.example.work}
packages:
  10050: com.example.dpc
  10010: com.example.app
`

func TestAuthorityFromYAML(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(sample), &cfg); err != nil {
		t.Fatal(err)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"settings", a.HasNetworkSettings(1010), true},
		{"system settings", a.HasNetworkSettings(profile.SystemUID), true},
		{"app settings", a.HasNetworkSettings(10010), false},
		{"wizard", a.HasSetupWizard(1020), true},
		{"provisioning", a.HasManagedProvisioning(1030), true},
		{"device owner", a.IsDeviceOwner(10050, "com.example.dpc"), true},
		{"device owner wrong package", a.IsDeviceOwner(10050, "com.example.app"), false},
		{"profile owner", a.IsProfileOwner(1010060, "com.example.work"), true},
		{"profile owner wrong uid", a.IsProfileOwner(10060, "com.example.work"), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if name, ok := a.NameForUID(10010); !ok || name != "com.example.app" {
		t.Errorf("NameForUID(10010) = %q, %v", name, ok)
	}
	if name, ok := a.NameForUID(profile.SystemUID); !ok || name != "android" {
		t.Errorf("system package = %q, %v", name, ok)
	}
	if _, ok := a.NameForUID(10099); ok {
		t.Error("unknown uid resolved")
	}
}

func TestInvalidConfig(t *testing.T) {
	bad := []Config{
		{DeviceOwner: &Owner{UID: 1}},
		{ProfileOwners: []Owner{{UID: 2}}},
		{Packages: map[int]string{3: ""}},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Errorf("config %d accepted", i)
		}
	}
}

func TestNoDeviceOwner(t *testing.T) {
	a, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if a.IsDeviceOwner(0, "") {
		t.Error("empty config has a device owner")
	}
}
