package repository

import (
	"errors"

	"wificonf/internal/profile"
)

var (
	ErrInvalidID        = errors.New("invalid profile id")
	ErrPermissionDenied = errors.New("permission denied")
	ErrMalformed        = profile.ErrMalformed
	ErrCapacity         = errors.New("profile capacity exceeded")
	ErrNotLoaded        = errors.New("store not loaded")
	ErrKeystore         = errors.New("credential installation failed")
	ErrNoFactoryMAC     = errors.New("factory mac address not configured")
)

// Rejection is the typed outcome a transport reports for a failed mutation.
type Rejection int

const (
	RejectNone Rejection = iota
	RejectInvalidID
	RejectPermissionDenied
	RejectMalformed
	RejectCapacity
	RejectNotLoaded
	RejectKeystore
	RejectInternal
)

func (r Rejection) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectInvalidID:
		return "invalid_id"
	case RejectPermissionDenied:
		return "permission_denied"
	case RejectMalformed:
		return "malformed"
	case RejectCapacity:
		return "capacity"
	case RejectNotLoaded:
		return "not_loaded"
	case RejectKeystore:
		return "keystore"
	}
	return "internal"
}

// RejectReason classifies err.
func RejectReason(err error) Rejection {
	switch {
	case err == nil:
		return RejectNone
	case errors.Is(err, ErrInvalidID):
		return RejectInvalidID
	case errors.Is(err, ErrPermissionDenied):
		return RejectPermissionDenied
	case errors.Is(err, ErrMalformed):
		return RejectMalformed
	case errors.Is(err, ErrCapacity):
		return RejectCapacity
	case errors.Is(err, ErrNotLoaded):
		return RejectNotLoaded
	case errors.Is(err, ErrKeystore):
		return RejectKeystore
	}
	return RejectInternal
}
