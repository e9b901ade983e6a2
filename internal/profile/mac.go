package profile

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// MAC is a 48-bit hardware address.
type MAC [6]byte

var (
	// ZeroMAC is the unset address.
	ZeroMAC = MAC{}
	// BroadcastMAC is ff:ff:ff:ff:ff:ff.
	BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// DefaultMAC is shown to callers that may not see the randomized address.
	DefaultMAC = MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
)

// ParseMAC parses "aa:bb:cc:dd:ee:ff", "aa-bb-..." or "aabbccddeeff".
func ParseMAC(s string) (MAC, error) {
	var m MAC
	clean := strings.NewReplacer(":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return m, fmt.Errorf("parse mac %q: %w", s, err)
	}
	if len(b) != 6 {
		return m, fmt.Errorf("mac address must be 6 bytes, got %d", len(b))
	}
	copy(m[:], b)
	return m, nil
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether the address is unset.
func (m MAC) IsZero() bool { return m == ZeroMAC }

// ValidRandomized reports whether m can be used as a randomized station
// address: not null, not broadcast, not multicast.
func (m MAC) ValidRandomized() bool {
	if m == ZeroMAC || m == BroadcastMAC || m == DefaultMAC {
		return false
	}
	return m[0]&0x01 == 0
}

// MarshalText implements encoding.TextMarshaler.
func (m MAC) MarshalText() ([]byte, error) {
	if m.IsZero() {
		return []byte{}, nil
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*m = ZeroMAC
		return nil
	}
	v, err := ParseMAC(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// LocalUnicast forces the locally-administered bit and clears the multicast
// bit of the first octet.
func LocalUnicast(b [6]byte) MAC {
	b[0] = (b[0] | 0x02) &^ 0x01
	return MAC(b)
}

// RandomMAC returns a random locally administered unicast address.
func RandomMAC() MAC {
	for {
		var b [6]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		m := LocalUnicast(b)
		if m.ValidRandomized() {
			return m
		}
	}
}

// NormalizeBSSID lowercases a colon-form BSSID string.
func NormalizeBSSID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ":"))
}
