package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Auth    AuthConfig    `yaml:"auth"`
	Jobs    JobsConfig    `yaml:"jobs"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type StorageConfig struct {
	// Backend selects the remote comment store: memory, redis or postgres.
	Backend     string `yaml:"backend"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
	DatabaseURL string `yaml:"database_url"`
}

type CacheConfig struct {
	// Path of the sqlite file holding embedded threads. Empty keeps them in memory.
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type JobsConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			Env:      "dev",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Backend:     BackendMemory,
			RedisPrefix: "teamboard",
		},
		Cache: CacheConfig{
			Prefix: "teamboard_embedded_comments",
		},
		Jobs: JobsConfig{
			SweepSchedule: "@every 10m",
		},
	}
}

// Load applies the yaml file at path (if it exists) and then environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if v := os.Getenv("TEAMBOARD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("TEAMBOARD_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("TEAMBOARD_REDIS_PREFIX"); v != "" {
		cfg.Storage.RedisPrefix = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("TEAMBOARD_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("TEAMBOARD_CACHE_PREFIX"); v != "" {
		cfg.Cache.Prefix = v
	}
	if v := os.Getenv("TEAMBOARD_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TEAMBOARD_SWEEP_SCHEDULE"); v != "" {
		cfg.Jobs.SweepSchedule = v
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("config: redis backend requires REDIS_URL")
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("config: postgres backend requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Storage.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: TEAMBOARD_JWT_SECRET is required")
	}
	return nil
}
