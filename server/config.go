package server

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before YAML and environment overrides.
const (
	DefaultListenAddr    = "127.0.0.1:3000"
	DefaultOrigin        = "http://127.0.0.1:3000"
	DefaultClientTimeout = 10 * time.Second
	DefaultDiscoveryTTL  = 5 * time.Minute
)

// Provider holds the relying-party registration for one upstream issuer,
// keyed by a small tenant key. Immutable after load.
type Provider struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Providers map[string]Provider `yaml:"providers"`
	Stores    StoreConfig         `yaml:"stores"`
}

// ServerConfig controls the listener and outbound HTTP behaviour. Durations
// are strings in time.ParseDuration format.
type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	Origin        string `yaml:"origin"`
	ClientTimeout string `yaml:"client_timeout"`
}

// StoreConfig bounds the in-memory stores.
type StoreConfig struct {
	TTL          string `yaml:"ttl"`
	Capacity     int    `yaml:"capacity"`
	DiscoveryTTL string `yaml:"discovery_ttl"`
}

// LoadConfig reads the YAML config file, merges environment overrides, and
// validates the result. An empty path loads defaults plus environment only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	// Providers without an explicit redirect land on the shared callback.
	for key, p := range cfg.Providers {
		if p.RedirectURI == "" {
			p.RedirectURI = strings.TrimSuffix(cfg.Server.Origin, "/") + "/cb"
			cfg.Providers[key] = p
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in configuration template.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			Origin:     DefaultOrigin,
		},
		Providers: map[string]Provider{},
		Stores: StoreConfig{
			Capacity: DefaultStoreCapacity,
		},
	}
}

// ClientTimeout returns the outbound HTTP timeout.
func (c Config) ClientTimeout() time.Duration {
	return parseDuration(c.Server.ClientTimeout, DefaultClientTimeout)
}

// StoreTTL returns the age bound for state and session records.
func (c Config) StoreTTL() time.Duration {
	return parseDuration(c.Stores.TTL, DefaultStoreTTL)
}

// DiscoveryTTL returns how long cached provider metadata stays live.
func (c Config) DiscoveryTTL() time.Duration {
	return parseDuration(c.Stores.DiscoveryTTL, DefaultDiscoveryTTL)
}

// LookupProvider returns the registration for a tenant key.
func (c Config) LookupProvider(tenant string) (Provider, error) {
	p, ok := c.Providers[tenant]
	if !ok {
		return Provider{}, &ConfigError{Tenant: tenant}
	}
	return p, nil
}

func applyEnvOverrides(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]Provider{}
	}

	if v, ok := os.LookupEnv("OIDCRP_LISTEN_ADDR"); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := os.LookupEnv("OIDCRP_ORIGIN"); ok {
		cfg.Server.Origin = v
	}
	if v, ok := os.LookupEnv("OIDCRP_CLIENT_TIMEOUT"); ok {
		cfg.Server.ClientTimeout = v
	}
	if v, ok := os.LookupEnv("OIDCRP_STORE_TTL"); ok {
		cfg.Stores.TTL = v
	}
	if v, ok := os.LookupEnv("OIDCRP_STORE_CAPACITY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stores.Capacity = n
		}
	}

	// The two numbered tenants the demo has always shipped with.
	for _, tenant := range []string{"1", "2"} {
		prefix := "OIDCRP_PROVIDER" + tenant + "_"
		issuer, hasIssuer := os.LookupEnv(prefix + "ISSUER")
		clientID, hasID := os.LookupEnv(prefix + "CLIENT_ID")
		secret, hasSecret := os.LookupEnv(prefix + "CLIENT_SECRET")
		if !hasIssuer && !hasID && !hasSecret {
			continue
		}
		p := cfg.Providers[tenant]
		if hasIssuer {
			p.Issuer = issuer
		}
		if hasID {
			p.ClientID = clientID
		}
		if hasSecret {
			p.ClientSecret = secret
		}
		cfg.Providers[tenant] = p
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin required")
	}
	if c.Stores.Capacity <= 0 {
		return fmt.Errorf("stores.capacity must be positive")
	}
	for key, p := range c.Providers {
		if p.Issuer == "" {
			return fmt.Errorf("provider %q: issuer required", key)
		}
		if p.ClientID == "" {
			return fmt.Errorf("provider %q: client_id required", key)
		}
		if p.RedirectURI == "" {
			return fmt.Errorf("provider %q: redirect_uri required", key)
		}
	}
	return nil
}
