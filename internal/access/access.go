// Package access answers permission and package-name questions from the
// daemon configuration.
package access

import (
	"fmt"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

// Owner identifies an app by UID and package.
type Owner struct {
	UID     int    `yaml:"uid"`
	Package string `yaml:"package"`
}

// Config lists the privileged apps. The system UID always holds the
// network-settings permission.
type Config struct {
	NetworkSettings     []int          `yaml:"network_settings"`
	SetupWizard         []int          `yaml:"setup_wizard"`
	ManagedProvisioning []int          `yaml:"managed_provisioning"`
	DeviceOwner         *Owner         `yaml:"device_owner"`
	ProfileOwners       []Owner        `yaml:"profile_owners"`
	Packages            map[int]string `yaml:"packages"`
}

// Authority implements repository.Permissions and repository.PackageResolver.
type Authority struct {
	settings      map[int]bool
	wizard        map[int]bool
	provisioning  map[int]bool
	deviceOwner   *Owner
	profileOwners map[Owner]bool
	packages      map[int]string
}

var (
	_ repository.Permissions     = (*Authority)(nil)
	_ repository.PackageResolver = (*Authority)(nil)
)

// New builds an Authority from cfg.
func New(cfg Config) (*Authority, error) {
	a := &Authority{
		settings:      set(cfg.NetworkSettings),
		wizard:        set(cfg.SetupWizard),
		provisioning:  set(cfg.ManagedProvisioning),
		profileOwners: make(map[Owner]bool, len(cfg.ProfileOwners)),
		packages:      make(map[int]string, len(cfg.Packages)+1),
	}
	a.settings[profile.SystemUID] = true
	if o := cfg.DeviceOwner; o != nil {
		if o.Package == "" {
			return nil, fmt.Errorf("device owner %d has no package", o.UID)
		}
		a.deviceOwner = o
	}
	for _, o := range cfg.ProfileOwners {
		if o.Package == "" {
			return nil, fmt.Errorf("profile owner %d has no package", o.UID)
		}
		a.profileOwners[o] = true
	}
	for uid, name := range cfg.Packages {
		if name == "" {
			return nil, fmt.Errorf("empty package name for uid %d", uid)
		}
		a.packages[uid] = name
	}
	if _, ok := a.packages[profile.SystemUID]; !ok {
		a.packages[profile.SystemUID] = "android"
	}
	return a, nil
}

func set(uids []int) map[int]bool {
	m := make(map[int]bool, len(uids))
	for _, u := range uids {
		m[u] = true
	}
	return m
}

func (a *Authority) HasNetworkSettings(uid int) bool { return a.settings[uid] }

func (a *Authority) HasSetupWizard(uid int) bool { return a.wizard[uid] }

func (a *Authority) HasManagedProvisioning(uid int) bool { return a.provisioning[uid] }

func (a *Authority) IsDeviceOwner(uid int, pkg string) bool {
	return a.deviceOwner != nil && a.deviceOwner.UID == uid && a.deviceOwner.Package == pkg
}

func (a *Authority) IsProfileOwner(uid int, pkg string) bool {
	return a.profileOwners[Owner{UID: uid, Package: pkg}]
}

// NameForUID returns the package configured for uid.
func (a *Authority) NameForUID(uid int) (string, bool) {
	name, ok := a.packages[uid]
	return name, ok
}
