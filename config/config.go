// Package config loads the dashboard client configuration from the
// environment, an optional .env file and an optional YAML file of
// per-resource read policies.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

// Config is the root configuration.
type Config struct {
	API     APIConfig     `envPrefix:"FLEETDESK_API_"`
	Cache   CacheConfig   `envPrefix:"FLEETDESK_CACHE_"`
	Log     LogConfig     `envPrefix:"FLEETDESK_LOG_"`
	Session SessionConfig `envPrefix:"FLEETDESK_SESSION_"`
	Redis   RedisConfig   `envPrefix:"FLEETDESK_REDIS_"`
	Metrics MetricsConfig `envPrefix:"FLEETDESK_METRICS_"`

	PoliciesFile string `env:"FLEETDESK_POLICIES_FILE"`

	// Policies holds the per-resource read policies loaded from
	// PoliciesFile, keyed by resource name.
	Policies Policies `env:"-"`
}

type APIConfig struct {
	BaseURL   string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s"`
	UserAgent string        `env:"USER_AGENT" envDefault:"fleetdesk-client/1.0"`
}

type CacheConfig struct {
	StaleTime          time.Duration `env:"STALE_TIME" envDefault:"5m"`
	GCTime             time.Duration `env:"GC_TIME" envDefault:"5m"`
	Capacity           int           `env:"CAPACITY" envDefault:"10000"`
	NumShards          int           `env:"NUM_SHARDS" envDefault:"256"`
	EvictionPercentage int           `env:"EVICTION_PERCENTAGE" envDefault:"10"`
	NotifyOnChangeOnly bool          `env:"NOTIFY_ON_CHANGE_ONLY" envDefault:"false"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"` // json or text
}

type SessionConfig struct {
	TokenFile string `env:"TOKEN_FILE"`
	LoginPath string `env:"LOGIN_PATH" envDefault:"/login"`
	Token     string `env:"TOKEN"`
}

type RedisConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Channel  string `env:"CHANNEL" envDefault:"fleetdesk:cache:invalidate"`
}

type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Addr    string `env:"ADDR" envDefault:":9090"`
}

// Load reads the optional .env files (the working directory .env when none
// are given), then the environment, then the policies file.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

// LoadFrom builds a Config from environ instead of the process
// environment. Missing keys take their defaults.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		// a missing .env is the normal case outside development
		_ = godotenv.Load()
		return nil
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.Policies = Policies{Default: Policy{StaleTime: cfg.Cache.StaleTime}}
	if cfg.PoliciesFile != "" {
		policies, err := LoadPolicies(cfg.PoliciesFile, cfg.Cache.StaleTime)
		if err != nil {
			return nil, err
		}
		cfg.Policies = policies
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.API),
		validation.Field(&c.Cache),
		validation.Field(&c.Log),
		validation.Field(&c.Session),
		validation.Field(&c.Redis),
		validation.Field(&c.Policies),
	)
}

func (a APIConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.BaseURL, validation.Required, is.URL),
		validation.Field(&a.Timeout, validation.Min(time.Duration(0))),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.StaleTime, validation.Min(time.Duration(0))),
		validation.Field(&c.GCTime, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1), validation.Max(c.Capacity)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("trace", "debug", "info", "warn", "warning", "error", "fatal", "panic")),
		validation.Field(&l.Format, validation.In("json", "text")),
	)
}

func (s SessionConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.LoginPath, validation.Required),
	)
}

func (r RedisConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.When(r.Enabled, validation.Required)),
		validation.Field(&r.Channel, validation.When(r.Enabled, validation.Required)),
		validation.Field(&r.DB, validation.Min(0)),
	)
}
