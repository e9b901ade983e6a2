// Package blocklist decides how a profile's selection status changes after a
// connection failure.
package blocklist

import (
	"fmt"
	"time"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

// Defaults for Thresholds.
const (
	DefaultBaseDuration = 5 * time.Minute
	DefaultMaxDuration  = 18 * time.Hour
	DefaultThreshold    = 3
)

// permanentReasons disable a profile on the first occurrence.
var permanentReasons = map[profile.DisableReason]bool{
	profile.ReasonByWifiManager:                true,
	profile.ReasonWrongPassword:                true,
	profile.ReasonAuthenticationNoCredentials:  true,
	profile.ReasonNoInternetPermanent:          true,
	profile.ReasonAuthenticationNoSubscription: true,
	profile.ReasonTransitionDisable:            true,
}

// Config tunes Thresholds. Zero fields take the defaults.
type Config struct {
	BaseDuration time.Duration `yaml:"base_duration"`
	MaxDuration  time.Duration `yaml:"max_duration"`
	// Counts maps a reason name to the failures tolerated before the first
	// temporary disable.
	Counts map[string]int `yaml:"counts"`
	Script string         `yaml:"script"`
}

// Thresholds disables a profile temporarily once a reason has been seen
// enough times, doubling the duration on every further failure.
type Thresholds struct {
	base, max time.Duration
	counts    map[profile.DisableReason]int
}

// NewThresholds builds a policy from cfg.
func NewThresholds(cfg Config) (*Thresholds, error) {
	t := &Thresholds{
		base: cfg.BaseDuration,
		max:  cfg.MaxDuration,
		counts: map[profile.DisableReason]int{
			profile.ReasonAssociationRejection:  DefaultThreshold,
			profile.ReasonAuthenticationFailure: DefaultThreshold,
			profile.ReasonDHCPFailure:           DefaultThreshold,
			profile.ReasonNoInternetTemporary:   1,
			profile.ReasonConsecutiveFailures:   1,
		},
	}
	if t.base <= 0 {
		t.base = DefaultBaseDuration
	}
	if t.max <= 0 {
		t.max = DefaultMaxDuration
	}
	if t.max < t.base {
		return nil, fmt.Errorf("max duration %v below base duration %v", t.max, t.base)
	}
	for name, n := range cfg.Counts {
		r, err := profile.ParseDisableReason(name)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("threshold for %s must be at least 1", name)
		}
		t.counts[r] = n
	}
	return t, nil
}

// Decide implements repository.Blocklist.
func (t *Thresholds) Decide(p *profile.Profile, reason profile.DisableReason) repository.Decision {
	if reason == profile.ReasonNone {
		return repository.Decision{Kind: profile.StatusEnabled}
	}
	if permanentReasons[reason] {
		return repository.Decision{Kind: profile.StatusPermanentlyDisabled}
	}
	threshold := t.counts[reason]
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	// The failure being reported is not yet in the count.
	seen := p.Status.Count(reason) + 1
	if seen < threshold {
		return repository.Decision{Kind: profile.StatusEnabled}
	}
	return repository.Decision{Kind: profile.StatusTemporarilyDisabled, Duration: t.backoff(seen - threshold)}
}

func (t *Thresholds) backoff(extra int) time.Duration {
	d := t.base
	for i := 0; i < extra && d < t.max; i++ {
		d *= 2
	}
	if d > t.max {
		d = t.max
	}
	return d
}
