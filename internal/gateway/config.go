// Package gateway implements the protective layer between the
// conversational API and its rate-limited upstream: token-bucket
// admission control, a bounded TTL cache for storage reads, and
// in-flight request coalescing, owned together by one Gateway value.
package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foyerhq/foyer/internal/admission"
)

// Default gateway config values.
const (
	DefaultIdentityCapacity     = 30
	DefaultIdentityRefillPerMin = 30
	DefaultGlobalCapacity       = 100
	DefaultGlobalRefillPerMin   = 100
	DefaultCacheMaxSize         = 100
	DefaultCacheTTL             = "5m"
	DefaultIdleSweepThreshold   = "1h"
	DefaultUpstreamBaseURL      = "https://api.openai.com/v1"
	DefaultUpstreamModel        = "gpt-4o-mini"
	DefaultUpstreamAPIKeyEnv    = "OPENAI_API_KEY"
	DefaultUpstreamTimeout      = "120s"
)

// Config is the top-level gateway configuration (foyer.gateway.yaml).
type Config struct {
	Identities []IdentityConfig `yaml:"identities" json:"identities"`
	Limits     LimitsConfig     `yaml:"limits" json:"limits"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Upstream   UpstreamConfig   `yaml:"upstream" json:"upstream"`
}

// IdentityConfig identifies one caller of the gateway.
type IdentityConfig struct {
	Name   string      `yaml:"name" json:"name"`
	APIKey string      `yaml:"api_key" json:"api_key"` // #nosec G117 -- auth identifier from config, not a hardcoded secret
	Limits *TierConfig `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// TierConfig describes one bucket tier in operator units: a burst
// capacity and a sustained refill in tokens per minute.
type TierConfig struct {
	Capacity     float64 `yaml:"capacity" json:"capacity"`
	RefillPerMin float64 `yaml:"refill_per_min" json:"refill_per_min"`
}

// LimitsConfig holds the admission tiers and the sweep threshold.
type LimitsConfig struct {
	Identity           TierConfig `yaml:"identity" json:"identity"` // default tier for identities without overrides
	Global             TierConfig `yaml:"global" json:"global"`
	IdleSweepThreshold string     `yaml:"idle_sweep_threshold" json:"idle_sweep_threshold"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	MaxSize int    `yaml:"max_size" json:"max_size"`
	TTL     string `yaml:"ttl" json:"ttl"`
}

// UpstreamConfig points at the generation API the gateway protects.
// The API key itself is read from the environment variable named by
// api_key_env, never from this file.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Model          string `yaml:"model" json:"model"`
	APIKeyEnv      string `yaml:"api_key_env" json:"api_key_env"`
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	MaxTokens      int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Durations holds the parsed duration fields for runtime use.
type Durations struct {
	CacheTTL        time.Duration
	IdleThreshold   time.Duration
	UpstreamTimeout time.Duration
}

// LoadConfig loads gateway configuration from a YAML file. If the file
// has a top-level "gateway" key that subtree is unmarshaled; otherwise
// the whole file is the Config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading gateway config %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing gateway config: %w", err)
	}

	var cfg Config
	if g, ok := raw["gateway"]; ok {
		sub, _ := yaml.Marshal(g)
		if err := yaml.Unmarshal(sub, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling gateway block: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling gateway config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults sets default values for missing fields.
func (c *Config) ApplyDefaults() {
	if c.Identities == nil {
		c.Identities = []IdentityConfig{}
	}
	if c.Limits.Identity.Capacity == 0 {
		c.Limits.Identity.Capacity = DefaultIdentityCapacity
	}
	if c.Limits.Identity.RefillPerMin == 0 {
		c.Limits.Identity.RefillPerMin = DefaultIdentityRefillPerMin
	}
	if c.Limits.Global.Capacity == 0 {
		c.Limits.Global.Capacity = DefaultGlobalCapacity
	}
	if c.Limits.Global.RefillPerMin == 0 {
		c.Limits.Global.RefillPerMin = DefaultGlobalRefillPerMin
	}
	if c.Limits.IdleSweepThreshold == "" {
		c.Limits.IdleSweepThreshold = DefaultIdleSweepThreshold
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = DefaultUpstreamModel
	}
	if c.Upstream.APIKeyEnv == "" {
		c.Upstream.APIKeyEnv = DefaultUpstreamAPIKeyEnv
	}
	if c.Upstream.RequestTimeout == "" {
		c.Upstream.RequestTimeout = DefaultUpstreamTimeout
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Limits.Identity.Capacity < 0 || c.Limits.Identity.RefillPerMin < 0 {
		return fmt.Errorf("gateway limits.identity: capacity and refill_per_min must be positive")
	}
	if c.Limits.Global.Capacity < 0 || c.Limits.Global.RefillPerMin < 0 {
		return fmt.Errorf("gateway limits.global: capacity and refill_per_min must be positive")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("gateway cache.max_size must be positive")
	}
	if _, err := c.ParseDurations(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Identities))
	for i := range c.Identities {
		id := &c.Identities[i]
		if id.Name == "" {
			return fmt.Errorf("gateway identity at index %d: name is required", i)
		}
		if seen[id.Name] {
			return fmt.Errorf("gateway identity %q: duplicate name", id.Name)
		}
		seen[id.Name] = true
		if id.APIKey == "" {
			return fmt.Errorf("gateway identity %q: api_key is required", id.Name)
		}
		if lim := id.Limits; lim != nil && (lim.Capacity < 0 || lim.RefillPerMin < 0) {
			return fmt.Errorf("gateway identity %q: limits must be positive", id.Name)
		}
	}
	return nil
}

// ParseDurations returns the parsed duration fields.
func (c *Config) ParseDurations() (Durations, error) {
	var d Durations
	var err error
	d.CacheTTL, err = time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return d, fmt.Errorf("cache.ttl %q: %w", c.Cache.TTL, err)
	}
	d.IdleThreshold, err = time.ParseDuration(c.Limits.IdleSweepThreshold)
	if err != nil {
		return d, fmt.Errorf("limits.idle_sweep_threshold %q: %w", c.Limits.IdleSweepThreshold, err)
	}
	d.UpstreamTimeout, err = time.ParseDuration(c.Upstream.RequestTimeout)
	if err != nil {
		return d, fmt.Errorf("upstream.request_timeout %q: %w", c.Upstream.RequestTimeout, err)
	}
	return d, nil
}

// AdmissionConfig converts the YAML tiers into the admission
// controller's config. Identities carrying their own limits become
// per-identity overrides.
func (c *Config) AdmissionConfig() (admission.Config, error) {
	d, err := c.ParseDurations()
	if err != nil {
		return admission.Config{}, err
	}

	cfg := admission.Config{
		Identity:      tierToLimits(c.Limits.Identity),
		Global:        tierToLimits(c.Limits.Global),
		IdleThreshold: d.IdleThreshold,
	}
	for i := range c.Identities {
		id := &c.Identities[i]
		if id.Limits == nil {
			continue
		}
		if cfg.Overrides == nil {
			cfg.Overrides = make(map[string]admission.Limits)
		}
		cfg.Overrides[id.Name] = tierToLimits(*id.Limits)
	}
	return cfg, nil
}

func tierToLimits(t TierConfig) admission.Limits {
	return admission.Limits{
		Capacity:   t.Capacity,
		RefillRate: t.RefillPerMin / 60.0,
	}
}

// IdentityByName returns the identity config by name.
func (c *Config) IdentityByName(name string) *IdentityConfig {
	for i := range c.Identities {
		if c.Identities[i].Name == name {
			return &c.Identities[i]
		}
	}
	return nil
}
