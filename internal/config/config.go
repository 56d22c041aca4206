// Package config holds operator-level configuration for a Foyer
// installation.
//
// This is infrastructure config set by whoever deploys Foyer, NOT the
// per-identity gateway policy. The boundary is:
//
//   - Operator config (this package): listen address, data directory,
//     transport throttle, janitor intervals. Set via env vars (FOYER_*)
//     or config file (foyer.config.yaml).
//
//   - Gateway config (internal/gateway): identities and API keys,
//     admission limits, cache bounds, upstream model. Loaded from the
//     YAML file named by gateway_config.
//
// The upstream API key lives in neither file; it is read from the
// environment variable named by the gateway config's api_key_env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the FOYER_ prefix
// (e.g. "listen_addr" → FOYER_LISTEN_ADDR) and to a YAML field in
// foyer.config.yaml (e.g. listen_addr: "...").
const (
	KeyDataDir       = "data_dir"
	KeyGatewayConfig = "gateway_config"
	KeyListenAddr    = "listen_addr"
	KeyThrottleRPS   = "throttle_rps"
	KeyThrottleBurst = "throttle_burst"
	KeySweepEvery    = "sweep_every"
	KeyPurgeEvery    = "purge_every"
)

// Defaults for everything except data_dir, which resolves against the
// user's home directory.
const (
	DefaultGatewayConfig = "foyer.gateway.yaml"
	DefaultListenAddr    = ":8080"
	DefaultThrottleRPS   = 50.0
	DefaultThrottleBurst = 100
	DefaultSweepEvery    = "5m"
	DefaultPurgeEvery    = "1m"
)

// Config holds resolved operator-level configuration for a Foyer
// process.
type Config struct {
	DataDir       string  // Base directory for all state (~/.foyer)
	GatewayConfig string  // Path to the gateway YAML (identities, limits, cache, upstream)
	ListenAddr    string  // HTTP listen address
	ThrottleRPS   float64 // Transport throttle refill per client, tokens/second; 0 disables
	ThrottleBurst int     // Transport throttle burst per client
	SweepEvery    string  // Janitor interval for the identity sweep
	PurgeEvery    string  // Janitor interval for the cache purge
}

// DBPath returns the full path to the conversations SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "foyer.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// Intervals returns the parsed janitor intervals.
func (c *Config) Intervals() (sweep, purge time.Duration, err error) {
	sweep, err = time.ParseDuration(c.SweepEvery)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing sweep_every: %w", err)
	}
	purge, err = time.ParseDuration(c.PurgeEvery)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing purge_every: %w", err)
	}
	return sweep, purge, nil
}

func init() {
	viper.SetEnvPrefix("FOYER")
	viper.AutomaticEnv()
	viper.SetDefault(KeyGatewayConfig, DefaultGatewayConfig)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyThrottleRPS, DefaultThrottleRPS)
	viper.SetDefault(KeyThrottleBurst, DefaultThrottleBurst)
	viper.SetDefault(KeySweepEvery, DefaultSweepEvery)
	viper.SetDefault(KeyPurgeEvery, DefaultPurgeEvery)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		GatewayConfig: viper.GetString(KeyGatewayConfig),
		ListenAddr:    viper.GetString(KeyListenAddr),
		ThrottleRPS:   viper.GetFloat64(KeyThrottleRPS),
		ThrottleBurst: viper.GetInt(KeyThrottleBurst),
		SweepEvery:    viper.GetString(KeySweepEvery),
		PurgeEvery:    viper.GetString(KeyPurgeEvery),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foyer"
	}
	return filepath.Join(home, ".foyer")
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.ThrottleRPS < 0 {
		return fmt.Errorf("throttle_rps must not be negative")
	}
	if c.ThrottleBurst < 0 {
		return fmt.Errorf("throttle_burst must not be negative")
	}
	if _, _, err := c.Intervals(); err != nil {
		return err
	}
	return nil
}
