// Package config loads the sw-cache server settings from a YAML file and
// the environment. Environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Cache providers.
const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
	ProviderRedis  = "redis"
)

type Config struct {
	Port int `yaml:"port" env:"SW_CACHE_PORT"`
	// URL of the origin server.
	Origin string `yaml:"origin" env:"SW_CACHE_ORIGIN"`
	// Hostname to use for HTTP requests and TLS negotiation.
	Host string `yaml:"host" env:"SW_CACHE_HOST"`
	// Additional hostnames served by the worker.
	Hosts []string `yaml:"hosts" env:"SW_CACHE_HOSTS" envSeparator:","`

	Version     int           `yaml:"version" env:"SW_CACHE_VERSION"`
	CachePrefix string        `yaml:"cachePrefix" env:"SW_CACHE_PREFIX"`
	Manifest    []string      `yaml:"manifest" env:"SW_CACHE_MANIFEST" envSeparator:","`
	SettleDelay time.Duration `yaml:"settleDelay" env:"SW_CACHE_SETTLE_DELAY"`
	// Believe the session is online before any page reported its status.
	AssumeOnline bool `yaml:"assumeOnline" env:"SW_CACHE_ASSUME_ONLINE"`

	Provider       string `yaml:"provider" env:"SW_CACHE_PROVIDER"`
	DBFilename     string `yaml:"db" env:"SW_CACHE_DB"`
	RedisAddr      string `yaml:"redisAddr" env:"SW_CACHE_REDIS_ADDR"`
	RedisNamespace string `yaml:"redisNamespace" env:"SW_CACHE_REDIS_NAMESPACE"`

	LogFile string `yaml:"logFile" env:"SW_CACHE_LOG_FILE"`

	Routes Routes `yaml:"routes" envPrefix:"SW_CACHE_ROUTE_"`
}

// Routes overrides the paths the router treats specially.
// Empty values keep the worker defaults.
type Routes struct {
	APIPrefix  string `yaml:"apiPrefix" env:"API_PREFIX"`
	Catalog    string `yaml:"catalog" env:"CATALOG"`
	ItemPrefix string `yaml:"itemPrefix" env:"ITEM_PREFIX"`
	CreatePost string `yaml:"createPost" env:"CREATE_POST"`
	Home       string `yaml:"home" env:"HOME"`
	Login      string `yaml:"login" env:"LOGIN"`
	Logout     string `yaml:"logout" env:"LOGOUT"`
	AddPost    string `yaml:"addPost" env:"ADD_POST"`
	Offline    string `yaml:"offline" env:"OFFLINE"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Port:           8080,
		Version:        1,
		SettleDelay:    5 * time.Second,
		AssumeOnline:   true,
		Provider:       ProviderSQLite,
		DBFilename:     "cache.db",
		RedisAddr:      "localhost:6379",
		RedisNamespace: "sw-cache",
	}
}

// Load reads the defaults, then the file if given, then the environment.
func Load(filename string) (Config, error) {
	config := Defaults()
	if filename != "" {
		if err := readFile(filename, &config); err != nil {
			return config, err
		}
	}
	if err := ParseEnv(&config); err != nil {
		return config, err
	}
	return config, nil
}

func readFile(filename string, config *Config) error {
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}
	return nil
}

// ParseEnv loads configuration from environment variables.
// Fields without a matching variable keep their value.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that the configuration can start a server.
func (c Config) Validate() error {
	var errs []error
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	} else if _, err := c.OriginURL(); err != nil {
		errs = append(errs, err)
	}
	if c.Port <= 0 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Version < 0 {
		errs = append(errs, fmt.Errorf("invalid version %d", c.Version))
	}
	switch c.Provider {
	case ProviderMemory, ProviderSQLite, ProviderRedis:
	default:
		errs = append(errs, fmt.Errorf("unsupported cache provider %q", c.Provider))
	}
	return errors.Join(errs...)
}

// OriginURL parses the origin. Origins with paths are not supported.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", c.Origin)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("origin %q must not have a path", c.Origin)
	}
	return u, nil
}
