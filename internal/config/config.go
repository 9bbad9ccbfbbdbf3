package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/mitchellh/mapstructure"

	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/validation"
)

type Config struct {
	Authentication BackendConfig        `yaml:"authentication"`
	Database       BackendConfig        `yaml:"database"`
	Encryption     BackendConfig        `yaml:"encryption"`
	Provider       BackendConfig        `yaml:"provider"`
	ProxyUsers     []core.ProxyRule     `yaml:"proxy_users"`
	Groups         GroupsConfig         `yaml:"groups"`
	Mapping        MappingConfig        `yaml:"mapping"`
	AccessBoundary AccessBoundaryConfig `yaml:"access_boundary"`
	Session        SessionConfig        `yaml:"session"`
	Cache          CacheConfig          `yaml:"cache"`
	Audit          AuditConfig          `yaml:"audit"`
	Admin          AdminConfig          `yaml:"admin"`

	// ReloadInterval re-reads the config file periodically. Zero disables reloading.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// BackendConfig selects a backend implementation by Type.
// Timeout bounds every call made to the backend. All other keys of the block are
// backend-specific settings.
type BackendConfig struct {
	Type     string
	Timeout  time.Duration
	Settings map[string]any
}

func (b *BackendConfig) UnmarshalYAML(unmarshal func(any) error) error {
	var raw map[string]any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	typ, _ := raw["type"].(string)
	delete(raw, "type")
	b.Type = typ

	if v, ok := raw["timeout"]; ok {
		delete(raw, "timeout")
		str, isString := v.(string)
		if !isString {
			return fmt.Errorf("backend 'timeout' must be a duration string, got %T", v)
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("parsing backend 'timeout': %w", err)
		}
		if d < 0 {
			return fmt.Errorf("backend 'timeout' must not be negative")
		}
		b.Timeout = d
	}

	b.Settings = raw
	return nil
}

// Decode decodes the backend settings into out (a pointer to a settings struct with mapstructure tags).
// Unknown keys are rejected.
func (b BackendConfig) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("creating decoder for %s backend: %w", b.Type, err)
	}
	if err := decoder.Decode(b.Settings); err != nil {
		return fmt.Errorf("decoding settings for %s backend: %w", b.Type, err)
	}
	return nil
}

// GroupsConfig configures group membership resolution for the proxy-user validator.
type GroupsConfig struct {
	// Type selects the membership source: "static" (default) or "directory".
	Type string `yaml:"type"`

	// Members maps a group to its member identities for the static source.
	// Groups and members are cloud identities, as produced by the mapping rules.
	Members map[string][]string `yaml:"members"`

	Directory DirectoryConfig `yaml:"directory"`

	// Timeout bounds a single remote membership lookup.
	Timeout time.Duration `yaml:"timeout"`

	// CacheTTL caches resolved memberships. Zero disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheSize bounds the membership cache.
	CacheSize int `yaml:"cache_size"`
}

// DirectoryConfig configures the Google Workspace Directory API membership source.
type DirectoryConfig struct {
	// CredentialsFile is a service account key with domain-wide delegation.
	// Application Default Credentials are used when empty.
	CredentialsFile string `yaml:"credentials_file"`

	// Subject is the admin user the service account acts as.
	Subject string `yaml:"subject"`

	// Endpoint overrides the Directory API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// MappingConfig holds the ordered user-mapping rules and the static values templates can use.
type MappingConfig struct {
	Project string             `yaml:"project"`
	Domain  string             `yaml:"domain"`
	Rules   []core.MappingRule `yaml:"rules"`
}

// AccessBoundaryConfig controls whether the request target constrains issued tokens.
type AccessBoundaryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SessionConfig struct {
	// RenewPeriod is the default lifetime at issue and the default extension on renewal.
	RenewPeriod time.Duration `yaml:"renew_period"`

	// MaxLifetime caps the expiry of a session relative to its issue time.
	MaxLifetime time.Duration `yaml:"max_lifetime"`

	// SweepInterval runs the expired-session sweep periodically. Zero disables the task schedule.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type CacheConfig struct {
	// Size bounds the number of cached access tokens.
	Size int `yaml:"size"`

	// SafetyMargin is subtracted from token expiry when deciding whether a cached token is still live.
	SafetyMargin time.Duration `yaml:"safety_margin"`

	// MintTimeout bounds a single provider call.
	MintTimeout time.Duration `yaml:"mint_timeout"`
}

// AuditConfig holds configuration for auditing.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Type    string `yaml:"type"` // e.g., "file", "memory"

	// MaxEntries bounds the memory auditor.
	MaxEntries int `yaml:"max_entries"`
}

// AdminConfig protects the admin API.
type AdminConfig struct {
	// SigningKey is the HS256 key admin JWTs are verified with. Empty disables the admin API.
	SigningKey string `yaml:"signing_key"`
}

const (
	DefaultRenewPeriod  = 24 * time.Hour
	DefaultMaxLifetime  = 7 * 24 * time.Hour
	DefaultCacheSize    = 1024
	DefaultSafetyMargin = time.Minute
	DefaultMintTimeout  = 30 * time.Second
	DefaultGroupsCache  = 512

	// DefaultBackendTimeout bounds database and encryption calls when the block sets no timeout.
	DefaultBackendTimeout = 10 * time.Second
)

// Load reads and parses the configuration file at the given path.
// It returns a Config struct or an error if loading/parsing/validation fails.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration, applies defaults and compiles the mapping rules.
func (c *Config) Validate() error {
	backends := map[string]BackendConfig{
		"authentication": c.Authentication,
		"database":       c.Database,
		"encryption":     c.Encryption,
		"provider":       c.Provider,
	}
	for role, b := range backends {
		if b.Type == "" {
			return fmt.Errorf("%s backend is missing 'type'", role)
		}
	}

	if err := validation.ValidateProxyRules(c.ProxyUsers); err != nil {
		return fmt.Errorf("validating proxy users: %w", err)
	}

	validRules, err := validation.ValidateMappingRules(c.Mapping.Rules)
	if err != nil {
		return fmt.Errorf("validating mapping rules: %w", err)
	}
	c.Mapping.Rules = validRules

	c.applyDefaults()

	if c.Session.MaxLifetime < c.Session.RenewPeriod {
		return fmt.Errorf("session.max_lifetime (%s) must not be shorter than session.renew_period (%s)",
			c.Session.MaxLifetime, c.Session.RenewPeriod)
	}
	switch c.Groups.Type {
	case "", "static", "directory":
	default:
		return fmt.Errorf("unknown groups type %q", c.Groups.Type)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size must not be negative")
	}

	if c.Audit.Enabled {
		switch c.Audit.Type {
		case "file":
			if c.Audit.Path == "" {
				return fmt.Errorf("audit.path is required for file audit")
			}
		case "memory":
		default:
			return fmt.Errorf("unknown audit type %q", c.Audit.Type)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Session.RenewPeriod == 0 {
		c.Session.RenewPeriod = DefaultRenewPeriod
	}
	if c.Session.MaxLifetime == 0 {
		c.Session.MaxLifetime = DefaultMaxLifetime
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = DefaultCacheSize
	}
	if c.Cache.SafetyMargin == 0 {
		c.Cache.SafetyMargin = DefaultSafetyMargin
	}
	if c.Cache.MintTimeout == 0 {
		c.Cache.MintTimeout = DefaultMintTimeout
	}
	if c.Groups.CacheSize == 0 {
		c.Groups.CacheSize = DefaultGroupsCache
	}
	if c.Database.Timeout == 0 {
		c.Database.Timeout = DefaultBackendTimeout
	}
	if c.Encryption.Timeout == 0 {
		c.Encryption.Timeout = DefaultBackendTimeout
	}
}
