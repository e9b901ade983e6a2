// Package profile defines the saved Wi-Fi network profile model.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// InvalidID marks a profile that has not been assigned an id.
	InvalidID = -1
	// UnknownCarrierID marks a profile not associated with a carrier.
	UnknownCarrierID = -1
	// SystemUID owns profiles whose creator cannot be resolved.
	SystemUID = 1000
	// PerUserRange is the number of UIDs per user.
	PerUserRange = 100000
	// MaskedSecret replaces credentials on public reads.
	MaskedSecret = "*"
)

// ErrMalformed is returned by Validate for profiles that cannot be stored.
var ErrMalformed = errors.New("malformed profile")

// UserOf returns the user id a UID belongs to.
func UserOf(uid int) int { return uid / PerUserRange }

// Stamp records who touched a profile and when.
type Stamp struct {
	UID     int       `json:"uid"`
	Package string    `json:"package,omitempty"`
	Time    time.Time `json:"time,omitempty"`
}

// MacSetting selects how a profile's station address is randomized.
type MacSetting int

const (
	MacAuto MacSetting = iota
	MacPersistent
	MacNonPersistent
	MacNone
)

func (s MacSetting) String() string {
	switch s {
	case MacAuto:
		return "auto"
	case MacPersistent:
		return "persistent"
	case MacNonPersistent:
		return "non-persistent"
	case MacNone:
		return "none"
	}
	return fmt.Sprintf("mac-setting(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s MacSetting) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MacSetting) UnmarshalText(b []byte) error {
	for v := MacAuto; v <= MacNone; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown mac randomization setting %q", string(b))
}

// Enterprise holds 802.1X settings.
type Enterprise struct {
	EAP               EAPMethod `json:"eap" yaml:"eap"`
	Phase2            string    `json:"phase2,omitempty" yaml:"phase2,omitempty"`
	Identity          string    `json:"identity,omitempty" yaml:"identity,omitempty"`
	AnonymousIdentity string    `json:"anonymous_identity,omitempty" yaml:"anonymous_identity,omitempty"`
	Password          string    `json:"password,omitempty" yaml:"password,omitempty"`
	CACertAlias       string    `json:"ca_cert_alias,omitempty" yaml:"ca_cert_alias,omitempty"`
	ClientCertAlias   string    `json:"client_cert_alias,omitempty" yaml:"client_cert_alias,omitempty"`
	Domain            string    `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Credentials are the secrets attached to a profile.
type Credentials struct {
	PSK           string      `json:"psk,omitempty" yaml:"psk,omitempty"`
	WEPKeys       [4]string   `json:"wep_keys,omitempty" yaml:"wep_keys,omitempty"`
	WEPTxKeyIndex int         `json:"wep_tx_key_index,omitempty" yaml:"wep_tx_key_index,omitempty"`
	Enterprise    *Enterprise `json:"enterprise,omitempty" yaml:"enterprise,omitempty"`
}

// ConnectChoice records that the user preferred another profile over this one.
type ConnectChoice struct {
	Key  string    `json:"key"`
	RSSI int       `json:"rssi"`
	Time time.Time `json:"time,omitempty"`
}

// Profile is one remembered wireless network.
type Profile struct {
	ID           int    `json:"id"`
	SSID         string `json:"ssid"`
	Hidden       bool   `json:"hidden,omitempty"`
	FQDN         string `json:"fqdn,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`

	Variants        []SecurityVariant `json:"variants"`
	DefaultSecurity SecurityType      `json:"default_security"`

	Shared         bool `json:"shared"`
	OwnerUID       int  `json:"owner_uid"`
	Ephemeral      bool `json:"ephemeral,omitempty"`
	FromSuggestion bool `json:"from_suggestion,omitempty"`
	FromSpecifier  bool `json:"from_specifier,omitempty"`
	Passpoint      bool `json:"passpoint,omitempty"`

	Creator    Stamp `json:"creator"`
	LastUpdate Stamp `json:"last_update"`

	Credentials Credentials `json:"credentials"`
	IP          *IPConfig   `json:"ip"`

	MacRandomization MacSetting `json:"mac_randomization"`
	RandomizedMAC    MAC        `json:"randomized_mac,omitempty"`
	MacLastModified  time.Time  `json:"mac_last_modified,omitempty"`
	MacExpiration    time.Time  `json:"mac_expiration,omitempty"`

	Status        SelectionStatus `json:"status"`
	Linked        map[string]bool `json:"linked,omitempty"`
	ConnectChoice *ConnectChoice  `json:"connect_choice,omitempty"`
	GatewayMAC    string          `json:"gateway_mac,omitempty"`

	HasEverConnected       bool      `json:"has_ever_connected,omitempty"`
	LastConnected          time.Time `json:"last_connected,omitempty"`
	NumAssociation         int       `json:"num_association,omitempty"`
	NumRebootsSinceLastUse int       `json:"num_reboots_since_last_use,omitempty"`
	EverCaptivePortal      bool      `json:"ever_captive_portal,omitempty"`
	AllowAutojoin          bool      `json:"allow_autojoin"`
	DeletionPriority       int       `json:"deletion_priority,omitempty"`
	CarrierID              int       `json:"carrier_id"`
	SubscriptionID         int       `json:"subscription_id,omitempty"`
	CarrierMerged          bool      `json:"carrier_merged,omitempty"`
	MeteredOverride        int       `json:"metered_override,omitempty"`
}

// New returns a profile with a single enabled variant and the defaults every
// new profile starts from.
func New(ssid string, t SecurityType) *Profile {
	return &Profile{
		ID:              InvalidID,
		SSID:            ssid,
		Variants:        []SecurityVariant{{Type: t, Enabled: true}},
		DefaultSecurity: t,
		Shared:          true,
		IP:              &IPConfig{Assignment: AssignDHCP},
		AllowAutojoin:   true,
		CarrierID:       UnknownCarrierID,
	}
}

// VariantKey is the profile key a single-variant profile of type t would have.
func (p *Profile) VariantKey(t SecurityType) string {
	if p.Passpoint && p.FQDN != "" {
		return p.FQDN + SecurityEAP.keyMgmt()
	}
	return `"` + p.SSID + `"` + t.keyMgmt()
}

// Key is the deterministic identity of the profile: SSID plus the key
// management of its default security type.
func (p *Profile) Key() string {
	return p.VariantKey(p.DefaultSecurity)
}

// StableKey is the key of the least advanced type in the default type's
// upgrade pair. It survives an upgrade variant becoming the default.
func (p *Profile) StableKey() string {
	t := p.DefaultSecurity
	if b, ok := t.Base(); ok {
		t = b
	}
	return p.VariantKey(t)
}

// HasVariant reports whether the profile carries security type t.
func (p *Profile) HasVariant(t SecurityType) bool {
	return p.variantIndex(t) >= 0
}

// Variant returns the variant of type t.
func (p *Profile) Variant(t SecurityType) (SecurityVariant, bool) {
	if i := p.variantIndex(t); i >= 0 {
		return p.Variants[i], true
	}
	return SecurityVariant{}, false
}

func (p *Profile) variantIndex(t SecurityType) int {
	for i, v := range p.Variants {
		if v.Type == t {
			return i
		}
	}
	return -1
}

// AddVariant appends v unless a variant of the same type already exists.
// Variants stay ordered base-first.
func (p *Profile) AddVariant(v SecurityVariant) bool {
	if p.HasVariant(v.Type) {
		return false
	}
	p.Variants = append(p.Variants, v)
	SortVariants(p.Variants)
	return true
}

// SortVariants orders variants by security type.
func SortVariants(vs []SecurityVariant) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Type < vs[j].Type })
}

// IsPSKFamily reports whether any variant uses a pre-shared key.
func (p *Profile) IsPSKFamily() bool {
	for _, v := range p.Variants {
		if v.Type.IsPSKFamily() {
			return true
		}
	}
	return false
}

// IsOpenFamily reports whether every variant is open or OWE.
func (p *Profile) IsOpenFamily() bool {
	for _, v := range p.Variants {
		if !v.Type.IsOpenFamily() {
			return false
		}
	}
	return len(p.Variants) > 0
}

// IsOpen reports whether the default security type is plain open.
func (p *Profile) IsOpen() bool {
	return p.DefaultSecurity == SecurityOpen
}

// IsEnterprise reports whether the default security type uses EAP.
func (p *Profile) IsEnterprise() bool {
	return p.DefaultSecurity.IsEnterprise()
}

// IsCarrier reports whether the profile is associated with a carrier.
func (p *Profile) IsCarrier() bool {
	return p.CarrierID != UnknownCarrierID
}

// Durable reports whether the profile is ever written to a store.
func (p *Profile) Durable() bool {
	return !p.Ephemeral && !p.FromSuggestion && !p.FromSpecifier
}

// Name is SSID for regular networks and FQDN for Passpoint.
func (p *Profile) Name() string {
	if p.Passpoint && p.FQDN != "" {
		return p.FQDN
	}
	return p.SSID
}

// UserID returns the user that owns a private profile.
func (p *Profile) UserID() int {
	return UserOf(p.OwnerUID)
}

// VisibleTo reports whether a caller running as user can see the profile.
func (p *Profile) VisibleTo(user int) bool {
	return p.Shared || p.UserID() == user
}

// LinkedKeys returns the linked profile keys, sorted.
func (p *Profile) LinkedKeys() []string {
	keys := make([]string, 0, len(p.Linked))
	for k := range p.Linked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Variants = append([]SecurityVariant(nil), p.Variants...)
	if p.Credentials.Enterprise != nil {
		e := *p.Credentials.Enterprise
		out.Credentials.Enterprise = &e
	}
	out.IP = p.IP.Clone()
	out.Status = p.Status.clone()
	if p.Linked != nil {
		out.Linked = make(map[string]bool, len(p.Linked))
		for k, v := range p.Linked {
			out.Linked[k] = v
		}
	}
	if p.ConnectChoice != nil {
		cc := *p.ConnectChoice
		out.ConnectChoice = &cc
	}
	return &out
}

// Masked returns a copy with credentials and the randomized MAC hidden.
func (p *Profile) Masked() *Profile {
	out := p.Clone()
	out.Credentials = maskCredentials(out.Credentials)
	if !out.RandomizedMAC.IsZero() {
		out.RandomizedMAC = DefaultMAC
	}
	return out
}

// MaskedCredentials returns the profile's credentials with every secret
// replaced by MaskedSecret.
func (p *Profile) MaskedCredentials() Credentials {
	c := p.Credentials
	if c.Enterprise != nil {
		e := *c.Enterprise
		c.Enterprise = &e
	}
	return maskCredentials(c)
}

// HasMaskedSecret reports whether any secret equals MaskedSecret.
func (c Credentials) HasMaskedSecret() bool {
	if c.PSK == MaskedSecret {
		return true
	}
	for _, k := range c.WEPKeys {
		if k == MaskedSecret {
			return true
		}
	}
	return c.Enterprise != nil && c.Enterprise.Password == MaskedSecret
}

func maskCredentials(c Credentials) Credentials {
	if c.PSK != "" {
		c.PSK = MaskedSecret
	}
	for i, k := range c.WEPKeys {
		if k != "" {
			c.WEPKeys[i] = MaskedSecret
		}
	}
	if c.Enterprise != nil && c.Enterprise.Password != "" {
		c.Enterprise.Password = MaskedSecret
	}
	return c
}

// CredentialsEqual reports whether two profiles carry the same secrets.
func CredentialsEqual(a, b Credentials) bool {
	if a.PSK != b.PSK || a.WEPKeys != b.WEPKeys || a.WEPTxKeyIndex != b.WEPTxKeyIndex {
		return false
	}
	if (a.Enterprise == nil) != (b.Enterprise == nil) {
		return false
	}
	return a.Enterprise == nil || *a.Enterprise == *b.Enterprise
}

// Validate checks the fields a profile needs before it can be stored.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrMalformed)
	}
	if p.Passpoint {
		if p.FQDN == "" {
			return fmt.Errorf("%w: passpoint profile without fqdn", ErrMalformed)
		}
	} else if p.SSID == "" || len(p.SSID) > 32 {
		return fmt.Errorf("%w: ssid must be 1-32 bytes", ErrMalformed)
	}
	if len(p.Variants) == 0 {
		return fmt.Errorf("%w: no security variants", ErrMalformed)
	}
	if !p.HasVariant(p.DefaultSecurity) {
		return fmt.Errorf("%w: default security %s is not a variant", ErrMalformed, p.DefaultSecurity)
	}
	if p.IP == nil {
		return fmt.Errorf("%w: missing ip configuration", ErrMalformed)
	}
	if err := p.IP.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, v := range p.Variants {
		switch {
		case v.Type.IsEnterprise():
			if p.Credentials.Enterprise == nil || p.Credentials.Enterprise.EAP == EAPNone {
				return fmt.Errorf("%w: %s requires an eap method", ErrMalformed, v.Type)
			}
		case v.Type.IsPSKFamily():
			if v.AddedByAutoUpgrade {
				continue
			}
			if err := validatePSK(p.Credentials.PSK, v.Type); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		case v.Type == SecurityWEP:
			i := p.Credentials.WEPTxKeyIndex
			if i < 0 || i > 3 || p.Credentials.WEPKeys[i] == "" {
				return fmt.Errorf("%w: wep key %d not set", ErrMalformed, i)
			}
		}
	}
	return nil
}

func validatePSK(psk string, t SecurityType) error {
	if psk == MaskedSecret {
		return nil
	}
	if len(psk) == 64 && isHex(psk) && t == SecurityPSK {
		return nil
	}
	if len(psk) < 8 || len(psk) > 63 {
		return fmt.Errorf("psk must be 8-63 characters or 64 hex digits")
	}
	for _, r := range psk {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("psk must be printable ascii")
		}
	}
	return nil
}

func isHex(s string) bool {
	return strings.Trim(strings.ToLower(s), "0123456789abcdef") == ""
}
