package profile

import "fmt"

// SecurityType is an authentication/encryption scheme a network can use.
type SecurityType int

const (
	SecurityOpen SecurityType = iota
	SecurityOWE
	SecurityWEP
	SecurityPSK
	SecuritySAE
	SecurityEAP
	SecurityEAPWPA3
	SecurityEAPSuiteB
)

// AllSecurityTypes lists every security type in base-first order.
var AllSecurityTypes = []SecurityType{
	SecurityOpen, SecurityOWE, SecurityWEP, SecurityPSK,
	SecuritySAE, SecurityEAP, SecurityEAPWPA3, SecurityEAPSuiteB,
}

func (t SecurityType) String() string {
	switch t {
	case SecurityOpen:
		return "open"
	case SecurityOWE:
		return "owe"
	case SecurityWEP:
		return "wep"
	case SecurityPSK:
		return "psk"
	case SecuritySAE:
		return "sae"
	case SecurityEAP:
		return "eap"
	case SecurityEAPWPA3:
		return "eap-wpa3"
	case SecurityEAPSuiteB:
		return "eap-suite-b-192"
	}
	return fmt.Sprintf("security(%d)", int(t))
}

// ParseSecurityType parses the String form of a security type.
func ParseSecurityType(s string) (SecurityType, error) {
	for _, t := range AllSecurityTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown security type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t SecurityType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SecurityType) UnmarshalText(b []byte) error {
	v, err := ParseSecurityType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// keyMgmt is the key-management token used in profile keys.
func (t SecurityType) keyMgmt() string {
	switch t {
	case SecurityOpen:
		return "NONE"
	case SecurityOWE:
		return "OWE"
	case SecurityWEP:
		return "WEP"
	case SecurityPSK:
		return "WPA_PSK"
	case SecuritySAE:
		return "SAE"
	case SecurityEAP, SecurityEAPWPA3:
		return "WPA_EAP"
	case SecurityEAPSuiteB:
		return "WPA_EAP_SUITE_B_192"
	}
	return "UNKNOWN"
}

// IsEnterprise reports whether the type needs an EAP method.
func (t SecurityType) IsEnterprise() bool {
	switch t {
	case SecurityEAP, SecurityEAPWPA3, SecurityEAPSuiteB:
		return true
	}
	return false
}

// IsPSKFamily reports whether the type authenticates with a pre-shared key.
func (t SecurityType) IsPSKFamily() bool {
	return t == SecurityPSK || t == SecuritySAE
}

// IsOpenFamily reports whether the type has no credentials.
func (t SecurityType) IsOpenFamily() bool {
	return t == SecurityOpen || t == SecurityOWE
}

// Upgrade returns the more advanced type that t can be transparently upgraded
// to, if any.
func (t SecurityType) Upgrade() (SecurityType, bool) {
	switch t {
	case SecurityPSK:
		return SecuritySAE, true
	case SecurityOpen:
		return SecurityOWE, true
	case SecurityEAP:
		return SecurityEAPWPA3, true
	}
	return 0, false
}

// Base returns the less advanced type that t was upgraded from, if any.
func (t SecurityType) Base() (SecurityType, bool) {
	switch t {
	case SecuritySAE:
		return SecurityPSK, true
	case SecurityOWE:
		return SecurityOpen, true
	case SecurityEAPWPA3:
		return SecurityEAP, true
	}
	return 0, false
}

// UpgradeCompatible reports whether a and b are the two halves of an
// upgrade pair (PSK/SAE, Open/OWE, EAP/EAP-WPA3).
func UpgradeCompatible(a, b SecurityType) bool {
	if up, ok := a.Upgrade(); ok && up == b {
		return true
	}
	if up, ok := b.Upgrade(); ok && up == a {
		return true
	}
	return false
}

// SecurityVariant is one security scheme attached to a profile.
type SecurityVariant struct {
	Type               SecurityType `json:"type" yaml:"type"`
	Enabled            bool         `json:"enabled" yaml:"enabled"`
	AddedByAutoUpgrade bool         `json:"added_by_auto_upgrade,omitempty" yaml:"added_by_auto_upgrade,omitempty"`
	ModeFlags          uint32       `json:"mode_flags,omitempty" yaml:"mode_flags,omitempty"`
}

// EAPMethod is the outer EAP method of an enterprise network.
type EAPMethod int

const (
	EAPNone EAPMethod = iota
	EAPPEAP
	EAPTLS
	EAPTTLS
	EAPPWD
	EAPSIM
	EAPAKA
	EAPAKAPrime
)

func (m EAPMethod) String() string {
	switch m {
	case EAPNone:
		return "none"
	case EAPPEAP:
		return "peap"
	case EAPTLS:
		return "tls"
	case EAPTTLS:
		return "ttls"
	case EAPPWD:
		return "pwd"
	case EAPSIM:
		return "sim"
	case EAPAKA:
		return "aka"
	case EAPAKAPrime:
		return "aka-prime"
	}
	return fmt.Sprintf("eap(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m EAPMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *EAPMethod) UnmarshalText(b []byte) error {
	for v := EAPNone; v <= EAPAKAPrime; v++ {
		if v.String() == string(b) {
			*m = v
			return nil
		}
	}
	return fmt.Errorf("unknown eap method %q", string(b))
}
