// Package policy loads the device policy that tunes MAC randomization and
// linking, and watches the policy file for changes.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy holds the operator-controlled switches consulted by the repository.
type Policy struct {
	// ForceEnhancedMac rotates the MAC of every auto-randomized profile.
	ForceEnhancedMac bool `yaml:"force_enhanced_mac" json:"force_enhanced_mac"`
	// EnhancedMacForOpenNetworks rotates the MAC of open networks that
	// connected before and never showed a captive portal.
	EnhancedMacForOpenNetworks bool `yaml:"enhanced_mac_for_open_networks" json:"enhanced_mac_for_open_networks"`
	// SSIDDenylist always forces the persistent MAC.
	SSIDDenylist []string `yaml:"ssid_denylist" json:"ssid_denylist,omitempty"`
	// FQDNAllowlist enables the enhanced MAC for matching Passpoint profiles.
	FQDNAllowlist []string `yaml:"fqdn_allowlist" json:"fqdn_allowlist,omitempty"`
	// LinkRequiresCredentialMatch restricts gateway linking to equal PSKs.
	LinkRequiresCredentialMatch bool `yaml:"link_requires_credential_match" json:"link_requires_credential_match"`
}

// DenySSID reports whether ssid is on the deny-list.
func (p Policy) DenySSID(ssid string) bool {
	for _, s := range p.SSIDDenylist {
		if s == ssid {
			return true
		}
	}
	return false
}

// AllowFQDN reports whether fqdn is on the allow-list. FQDNs compare
// case-insensitively.
func (p Policy) AllowFQDN(fqdn string) bool {
	if fqdn == "" {
		return false
	}
	for _, f := range p.FQDNAllowlist {
		if strings.EqualFold(f, fqdn) {
			return true
		}
	}
	return false
}

// Parse decodes a policy document.
func Parse(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	for _, s := range p.SSIDDenylist {
		if s == "" || len(s) > 32 {
			return Policy{}, fmt.Errorf("ssid_denylist: invalid ssid %q", s)
		}
	}
	return p, nil
}

// Load reads and parses the policy file at path. A missing file yields the
// zero policy.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Policy{}, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}
