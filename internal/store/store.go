// Package store persists saved network profiles in a bbolt database.
package store

import (
	"errors"

	"wificonf/internal/repository"
)

var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrDecode marks a record that could not be turned back into a profile.
	ErrDecode = errors.New("undecodable record")
)

// Compile-time checks that BoltStore serves every persistence role the
// repository needs.
var (
	_ repository.PersistentStore   = (*BoltStore)(nil)
	_ repository.Keystore          = (*BoltStore)(nil)
	_ repository.PasspointMigrator = (*BoltStore)(nil)
)
