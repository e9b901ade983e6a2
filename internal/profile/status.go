package profile

import (
	"fmt"
	"time"
)

// StatusKind is the network selection state of a profile.
type StatusKind int

const (
	StatusEnabled StatusKind = iota
	StatusTemporarilyDisabled
	StatusPermanentlyDisabled
)

func (k StatusKind) String() string {
	switch k {
	case StatusEnabled:
		return "enabled"
	case StatusTemporarilyDisabled:
		return "temporarily-disabled"
	case StatusPermanentlyDisabled:
		return "permanently-disabled"
	}
	return fmt.Sprintf("status(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k StatusKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StatusKind) UnmarshalText(b []byte) error {
	for v := StatusEnabled; v <= StatusPermanentlyDisabled; v++ {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// DisableReason explains why a profile left the enabled state.
type DisableReason int

const (
	ReasonNone DisableReason = iota
	ReasonAssociationRejection
	ReasonAuthenticationFailure
	ReasonDHCPFailure
	ReasonNoInternetTemporary
	ReasonAuthenticationNoCredentials
	ReasonNoInternetPermanent
	ReasonByWifiManager
	ReasonWrongPassword
	ReasonAuthenticationNoSubscription
	ReasonConsecutiveFailures
	ReasonTransitionDisable
)

var reasonNames = map[DisableReason]string{
	ReasonNone:                         "none",
	ReasonAssociationRejection:         "association-rejection",
	ReasonAuthenticationFailure:        "authentication-failure",
	ReasonDHCPFailure:                  "dhcp-failure",
	ReasonNoInternetTemporary:          "no-internet-temporary",
	ReasonAuthenticationNoCredentials:  "authentication-no-credentials",
	ReasonNoInternetPermanent:          "no-internet-permanent",
	ReasonByWifiManager:                "by-wifi-manager",
	ReasonWrongPassword:                "wrong-password",
	ReasonAuthenticationNoSubscription: "authentication-no-subscription",
	ReasonConsecutiveFailures:          "consecutive-failures",
	ReasonTransitionDisable:            "transition-disable",
}

func (r DisableReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ParseDisableReason parses the String form of a reason.
func ParseDisableReason(s string) (DisableReason, error) {
	for r, name := range reasonNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown disable reason %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r DisableReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *DisableReason) UnmarshalText(b []byte) error {
	v, err := ParseDisableReason(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// SelectionStatus is the per-profile selection state. Reason and
// DisableUntil are only meaningful when Kind is not StatusEnabled.
type SelectionStatus struct {
	Kind         StatusKind            `json:"kind"`
	Reason       DisableReason         `json:"reason"`
	DisableCount map[DisableReason]int `json:"disable_count,omitempty"`
	DisableTime  time.Time             `json:"disable_time,omitempty"`
	DisableUntil time.Time             `json:"disable_until,omitempty"`
}

// Enabled reports whether the status is StatusEnabled.
func (s SelectionStatus) Enabled() bool { return s.Kind == StatusEnabled }

// Count returns how many times the profile was disabled for r.
func (s SelectionStatus) Count(r DisableReason) int {
	return s.DisableCount[r]
}

func (s SelectionStatus) clone() SelectionStatus {
	out := s
	if s.DisableCount != nil {
		out.DisableCount = make(map[DisableReason]int, len(s.DisableCount))
		for k, v := range s.DisableCount {
			out.DisableCount[k] = v
		}
	}
	return out
}
