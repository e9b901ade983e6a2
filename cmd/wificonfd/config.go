package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wificonf/internal/access"
	"wificonf/internal/blocklist"
	"wificonf/internal/profile"
	"wificonf/internal/repository"
	"wificonf/internal/store"
)

type Config struct {
	Store struct {
		Path string `yaml:"path"`
		// SecretKey is a hex 32-byte key sealing credentials at rest.
		SecretKey     string        `yaml:"secret_key"`
		SecretKeyFile string        `yaml:"secret_key_file"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"store"`
	MAC struct {
		SecretFile string      `yaml:"secret_file"`
		Salt       string      `yaml:"salt"`
		FactoryMAC profile.MAC `yaml:"factory_mac"`
	} `yaml:"mac"`
	Repository struct {
		MaxProfiles            int                     `yaml:"max_profiles"`
		AutoUpgrade            *repository.AutoUpgrade `yaml:"auto_upgrade"`
		RecentUpdateWindow     time.Duration           `yaml:"recent_update_window"`
		UserDisableDuration    time.Duration           `yaml:"user_disable_duration"`
		UserDisableMaxDuration time.Duration           `yaml:"user_disable_max_duration"`
		CarrierRestrictVisible time.Duration           `yaml:"carrier_restrict_visible"`
		CarrierRestrictHidden  time.Duration           `yaml:"carrier_restrict_hidden"`
		TolerateStoreErrors    bool                    `yaml:"tolerate_store_errors"`
	} `yaml:"repository"`
	PolicyFile string           `yaml:"policy_file"`
	Blocklist  blocklist.Config `yaml:"blocklist"`
	Access     access.Config    `yaml:"access"`
	Web        struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		Metrics        bool     `yaml:"metrics"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Store.SecretKey != "" && c.Store.SecretKeyFile != "" {
		return fmt.Errorf("store.secret_key and store.secret_key_file are mutually exclusive")
	}
	if c.Store.FlushInterval < time.Second {
		return fmt.Errorf("store.flush_interval must be at least 1s, got %v", c.Store.FlushInterval)
	}
	if c.Repository.MaxProfiles < 0 {
		return fmt.Errorf("repository.max_profiles must not be negative")
	}
	if d, max := c.Repository.UserDisableDuration, c.Repository.UserDisableMaxDuration; d > 0 && max > 0 && d > max {
		return fmt.Errorf("repository.user_disable_duration %v exceeds user_disable_max_duration %v", d, max)
	}
	if m := c.MAC.FactoryMAC; !m.IsZero() && m[0]&0x02 != 0 {
		return fmt.Errorf("mac.factory_mac %s is locally administered", m)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "wificonf.db"
	}
	if cfg.Store.FlushInterval == 0 {
		cfg.Store.FlushInterval = 30 * time.Second
	}
	if cfg.MAC.SecretFile == "" {
		cfg.MAC.SecretFile = "mac_secret"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "wificonf"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// repositoryConfig overlays the configured values on the repository
// defaults.
func (c *Config) repositoryConfig() repository.Config {
	rc := repository.DefaultConfig()
	r := c.Repository
	if r.MaxProfiles > 0 {
		rc.MaxProfiles = r.MaxProfiles
	}
	if r.AutoUpgrade != nil {
		rc.AutoUpgrade = *r.AutoUpgrade
	}
	if r.RecentUpdateWindow > 0 {
		rc.RecentUpdateWindow = r.RecentUpdateWindow
	}
	if r.UserDisableDuration > 0 {
		rc.UserDisableDuration = r.UserDisableDuration
	}
	if r.UserDisableMaxDuration > 0 {
		rc.UserDisableMaxDuration = r.UserDisableMaxDuration
	}
	if r.CarrierRestrictVisible > 0 {
		rc.CarrierRestrictVisible = r.CarrierRestrictVisible
	}
	if r.CarrierRestrictHidden > 0 {
		rc.CarrierRestrictHidden = r.CarrierRestrictHidden
	}
	rc.TolerateStoreErrors = r.TolerateStoreErrors
	rc.MacSalt = c.MAC.Salt
	rc.FactoryMAC = c.MAC.FactoryMAC
	return rc
}

// sealer returns the credential sealer, or nil when no key is configured.
func (c *Config) sealer() (*store.Sealer, error) {
	key := c.Store.SecretKey
	if c.Store.SecretKeyFile != "" {
		data, err := os.ReadFile(c.Store.SecretKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read store secret key: %w", err)
		}
		key = string(data)
	}
	if key == "" {
		return nil, nil
	}
	return store.NewSealerHex(key)
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
