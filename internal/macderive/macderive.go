// Package macderive derives persistent randomized station addresses from a
// device secret, the profile key and a per-device salt.
package macderive

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"

	"wificonf/internal/profile"
)

// MinSecretLen is the shortest secret New accepts.
const MinSecretLen = 16

// ErrInvalidAddress is returned when the derived bytes do not form a usable
// randomized address.
var ErrInvalidAddress = errors.New("derived address is not a valid randomized mac")

// Service derives addresses with HKDF-SHA256.
type Service struct {
	secret []byte
}

// New returns a Service keyed with secret.
func New(secret []byte) (*Service, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("mac secret must be at least %d bytes, got %d", MinSecretLen, len(secret))
	}
	return &Service{secret: append([]byte(nil), secret...)}, nil
}

// Derive maps key and salt to a locally administered unicast address. The
// same inputs always give the same address.
func (s *Service) Derive(key string, salt []byte) (profile.MAC, error) {
	r := hkdf.New(sha256.New, s.secret, salt, []byte(key))
	var b [6]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return profile.ZeroMAC, fmt.Errorf("hkdf: %w", err)
	}
	m := profile.LocalUnicast(b)
	if !m.ValidRandomized() {
		return profile.ZeroMAC, ErrInvalidAddress
	}
	return m, nil
}

// LoadOrCreateSecret reads a hex secret from path, creating a random
// 32-byte one when the file does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode mac secret %s: %w", path, err)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read mac secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate mac secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("write mac secret: %w", err)
	}
	return secret, nil
}
