package repository

import (
	"time"

	"wificonf/internal/profile"
)

// Clock supplies wall-clock and boot-elapsed time.
type Clock interface {
	Now() time.Time
	Elapsed() time.Duration
}

type systemClock struct{ start time.Time }

func (c systemClock) Now() time.Time { return time.Now() }
func (c systemClock) Elapsed() time.Duration { return time.Since(c.start) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{start: time.Now()} }

// Requester identifies the caller of a public operation.
type Requester struct {
	UID     int
	Package string
}

// User returns the user the requester runs as.
func (r Requester) User() int { return profile.UserOf(r.UID) }

// Permissions answers capability checks for a caller.
type Permissions interface {
	HasNetworkSettings(uid int) bool
	HasSetupWizard(uid int) bool
	HasManagedProvisioning(uid int) bool
	IsDeviceOwner(uid int, pkg string) bool
	IsProfileOwner(uid int, pkg string) bool
}

// MacDeriver derives a stable MAC address from a profile key.
type MacDeriver interface {
	Derive(key string, salt []byte) (profile.MAC, error)
}

// Decision is the transition a Blocklist asks the repository to apply. A
// StatusEnabled decision for a failure only records it in the profile's
// disable counters.
type Decision struct {
	Kind profile.StatusKind
	// Duration bounds a temporary disable. Zero means until re-enabled.
	Duration time.Duration
}

// Blocklist decides whether a failure disables a profile.
type Blocklist interface {
	Decide(p *profile.Profile, reason profile.DisableReason) Decision
}

// StoreData is what a PersistentStore reads and writes.
type StoreData struct {
	Shared  []*profile.Profile
	Private []*profile.Profile
	// HasPrivate is false when the current user's private store is not
	// available. Write leaves the private store untouched in that case.
	HasPrivate bool
	// Skipped counts records that could not be decoded.
	Skipped int
}

// PersistentStore holds the shared and per-user profile files.
type PersistentStore interface {
	Read() (StoreData, error)
	Write(StoreData) error
	SwitchUser(userID int) ([]*profile.Profile, error)
}

// PasspointMigrator receives Passpoint profiles found in the shared store.
type PasspointMigrator interface {
	MigratePasspoint(p *profile.Profile) error
}

// Keystore installs enterprise credentials outside the repository.
type Keystore interface {
	Install(p *profile.Profile) error
	Remove(key string) error
}

// PackageResolver maps UIDs to package names.
type PackageResolver interface {
	NameForUID(uid int) (string, bool)
}

// Metrics records repository activity.
type Metrics interface {
	ProfileAdded(merged bool)
	ProfileRemoved(reason string)
	Rejected(r Rejection)
	SelectionStatusChanged(kind profile.StatusKind, reason profile.DisableReason)
	StoreLoaded(profiles, skipped int, err error)
	StoreWritten(profiles int, err error)
}

type noopMetrics struct{}

func (noopMetrics) ProfileAdded(bool) {}
func (noopMetrics) ProfileRemoved(string) {}
func (noopMetrics) Rejected(Rejection) {}
func (noopMetrics) SelectionStatusChanged(profile.StatusKind, profile.DisableReason) {}
func (noopMetrics) StoreLoaded(int, int, error) {}
func (noopMetrics) StoreWritten(int, error) {}

type noPermissions struct{}

func (noPermissions) HasNetworkSettings(int) bool { return false }
func (noPermissions) HasSetupWizard(int) bool { return false }
func (noPermissions) HasManagedProvisioning(int) bool { return false }
func (noPermissions) IsDeviceOwner(int, string) bool { return false }
func (noPermissions) IsProfileOwner(int, string) bool { return false }

type enableAll struct{}

func (enableAll) Decide(_ *profile.Profile, reason profile.DisableReason) Decision {
	if reason == profile.ReasonNone {
		return Decision{Kind: profile.StatusEnabled}
	}
	return Decision{Kind: profile.StatusPermanentlyDisabled}
}
