// Package config assembles runtime settings for the passvault CLI.
// Values are applied in three layers, later ones overriding earlier ones:
// built-in defaults, a JSON file (-c/-config), and command-line flags.
package config

import "time"

// Backup holds the object-store settings for encrypted snapshots. It is
// configurable from JSON only; an empty Bucket disables the feature.
type Backup struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Config holds runtime settings for the passvault CLI.
type Config struct {
	// DatabaseDSN is the path of the local SQLite store.
	DatabaseDSN string
	// RemoteAddr is the base URL of the remote table API.
	RemoteAddr string
	// ServiceKey is the JWT service credential sent with every remote call.
	ServiceKey string
	// DeviceName identifies this installation in audit events.
	DeviceName string

	// UnlockAttempts and UnlockWindow parameterize the unlock rate limiter.
	UnlockAttempts int
	UnlockWindow   time.Duration

	// SyncInterval is the period of the background sync loop; zero
	// disables background sync (explicit `sync` still works).
	SyncInterval time.Duration

	Backup Backup
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabaseDSN = "passvault.db"
	c.RemoteAddr = ""
	c.DeviceName = "local"
	c.UnlockAttempts = 5
	c.UnlockWindow = 60 * time.Second
	c.SyncInterval = 30 * time.Second
	c.Backup.Region = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
