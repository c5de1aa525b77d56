package config

import (
	"fmt"
	"time"

	"github.com/iTrooz/phoxy/internal/cache"
	"github.com/iTrooz/phoxy/internal/cache/httpcache"

	"github.com/docker/go-units"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
	Cache  CacheConfig  `koanf:"cache" yaml:"cache"`
	Rules  RulesConfig  `koanf:"rules" yaml:"rules"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port  int         `koanf:"port" yaml:"port"`
	HTTPS HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig configures TLS interception of CONNECT requests
type HTTPSConfig struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	CACertFile string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file" yaml:"ca_key_file"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Adapter   string `koanf:"adapter" yaml:"adapter"` // "array" or "filesystem"
	Namespace string `koanf:"namespace" yaml:"namespace"`
	Folder    string `koanf:"folder" yaml:"folder"`
	// TTL maps a content category to a duration such as "1h"
	TTL map[string]string `koanf:"ttl" yaml:"ttl"`
	// MaxSize maps a content category to a size such as "2MB"
	MaxSize map[string]string `koanf:"max_size" yaml:"max_size"`
	// InvertCacheable only caches content types outside the cacheable list
	InvertCacheable bool `koanf:"invert_cacheable" yaml:"invert_cacheable"`
}

// RulesConfig contains caching rules configuration
type RulesConfig struct {
	Mode  string      `koanf:"mode" yaml:"mode"` // "whitelist" or "blacklist"
	Rules []CacheRule `koanf:"rules" yaml:"rules"`
}

// CacheRule defines a caching rule
type CacheRule struct {
	BaseURI string   `koanf:"base_uri" yaml:"base_uri"`
	Methods []string `koanf:"methods" yaml:"methods"`
}

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	policy := httpcache.DefaultPolicy()
	ttl := make(map[string]string, len(policy.TTL))
	for c, d := range policy.TTL {
		ttl[string(c)] = d.String()
	}
	maxSize := make(map[string]string, len(policy.MaxSize))
	for c, s := range policy.MaxSize {
		maxSize[string(c)] = units.BytesSize(float64(s))
	}

	return Config{
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
		Cache: CacheConfig{
			Adapter:   cache.AdapterFilesystem,
			Namespace: "phoxy",
			Folder:    "cache",
			TTL:       ttl,
			MaxSize:   maxSize,
		},
		Rules: RulesConfig{Mode: "blacklist"},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &config, nil
}

// YAML renders the configuration
func (c *Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// CacheOptions returns the adapter selection for cache.NewAdapter
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Adapter:   c.Cache.Adapter,
		Namespace: c.Cache.Namespace,
		Folder:    c.Cache.Folder,
	}
}

// Policy resolves the per-category limits of the response cache
func (c *Config) Policy() (httpcache.Policy, error) {
	policy := httpcache.Policy{
		TTL:             make(map[httpcache.Category]time.Duration, len(c.Cache.TTL)),
		MaxSize:         make(map[httpcache.Category]int64, len(c.Cache.MaxSize)),
		InvertCacheable: c.Cache.InvertCacheable,
	}

	for name, value := range c.Cache.TTL {
		category, err := parseCategory(name)
		if err != nil {
			return httpcache.Policy{}, fmt.Errorf("cache.ttl: %w", err)
		}
		ttl, err := time.ParseDuration(value)
		if err != nil {
			return httpcache.Policy{}, fmt.Errorf("cache.ttl.%s: %w", name, err)
		}
		if ttl <= 0 {
			return httpcache.Policy{}, fmt.Errorf("cache.ttl.%s: must be positive, got %s", name, value)
		}
		policy.TTL[category] = ttl
	}

	for name, value := range c.Cache.MaxSize {
		category, err := parseCategory(name)
		if err != nil {
			return httpcache.Policy{}, fmt.Errorf("cache.max_size: %w", err)
		}
		size, err := units.RAMInBytes(value)
		if err != nil {
			return httpcache.Policy{}, fmt.Errorf("cache.max_size.%s: %w", name, err)
		}
		if size < 0 {
			return httpcache.Policy{}, fmt.Errorf("cache.max_size.%s: must not be negative, got %s", name, value)
		}
		policy.MaxSize[category] = size
	}

	return policy, nil
}

func parseCategory(name string) (httpcache.Category, error) {
	for _, c := range httpcache.Categories {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown content category %q", name)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	switch c.Cache.Adapter {
	case cache.AdapterArray:
	case cache.AdapterFilesystem:
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required for the filesystem adapter")
		}
	default:
		return fmt.Errorf("cache adapter must be '%s' or '%s', got: %s", cache.AdapterArray, cache.AdapterFilesystem, c.Cache.Adapter)
	}

	if c.Cache.Namespace == "" {
		return fmt.Errorf("cache namespace is required")
	}

	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("invalid cache policy: %w", err)
	}

	if c.Rules.Mode != "whitelist" && c.Rules.Mode != "blacklist" {
		return fmt.Errorf("rules mode must be 'whitelist' or 'blacklist', got: %s", c.Rules.Mode)
	}

	if c.Server.HTTPS.Enabled && (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https CA certificate and key must be set together")
	}

	return nil
}
