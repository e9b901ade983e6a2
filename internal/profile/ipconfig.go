package profile

import (
	"fmt"
	"net/netip"
	"slices"
)

// IPAssignment selects how the interface obtains an address.
type IPAssignment string

const (
	AssignDHCP   IPAssignment = "dhcp"
	AssignStatic IPAssignment = "static"
)

// ProxyMode selects the HTTP proxy configuration.
type ProxyMode string

const (
	ProxyNone   ProxyMode = "none"
	ProxyStatic ProxyMode = "static"
	ProxyPAC    ProxyMode = "pac"
)

// Proxy is the HTTP proxy attached to a network.
type Proxy struct {
	Mode       ProxyMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	Host       string    `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int       `json:"port,omitempty" yaml:"port,omitempty"`
	PACURL     string    `json:"pac_url,omitempty" yaml:"pac_url,omitempty"`
	Exclusions []string  `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`
}

// Equal reports whether two proxy settings are the same.
func (p Proxy) Equal(o Proxy) bool {
	return p.mode() == o.mode() && p.Host == o.Host && p.Port == o.Port &&
		p.PACURL == o.PACURL && slices.Equal(p.Exclusions, o.Exclusions)
}

func (p Proxy) mode() ProxyMode {
	if p.Mode == "" {
		return ProxyNone
	}
	return p.Mode
}

// IPConfig is the layer-3 configuration of a network.
type IPConfig struct {
	Assignment    IPAssignment `json:"assignment" yaml:"assignment"`
	StaticAddress string       `json:"static_address,omitempty" yaml:"static_address,omitempty"`
	Gateway       string       `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	DNS           []string     `json:"dns,omitempty" yaml:"dns,omitempty"`
	Proxy         Proxy        `json:"proxy" yaml:"proxy"`
}

// Clone returns a deep copy.
func (c *IPConfig) Clone() *IPConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.DNS = slices.Clone(c.DNS)
	out.Proxy.Exclusions = slices.Clone(c.Proxy.Exclusions)
	return &out
}

// AddressingEqual compares everything except the proxy.
func (c *IPConfig) AddressingEqual(o *IPConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Assignment == o.Assignment && c.StaticAddress == o.StaticAddress &&
		c.Gateway == o.Gateway && slices.Equal(c.DNS, o.DNS)
}

func (c *IPConfig) validate() error {
	switch c.Assignment {
	case AssignDHCP, "":
	case AssignStatic:
		if _, err := netip.ParsePrefix(c.StaticAddress); err != nil {
			return fmt.Errorf("static address %q: %v", c.StaticAddress, err)
		}
	default:
		return fmt.Errorf("unknown ip assignment %q", c.Assignment)
	}
	switch c.Proxy.mode() {
	case ProxyNone:
	case ProxyStatic:
		if c.Proxy.Host == "" || c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
			return fmt.Errorf("static proxy needs host and port")
		}
	case ProxyPAC:
		if c.Proxy.PACURL == "" {
			return fmt.Errorf("pac proxy needs a url")
		}
	default:
		return fmt.Errorf("unknown proxy mode %q", c.Proxy.Mode)
	}
	return nil
}
