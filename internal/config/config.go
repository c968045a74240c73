package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	bserr "bitespeed/pkg/errors"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"

	EnvProduction = "production"
	EnvTest       = "test"
)

// Config is the top-level service configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Log         LogConfig       `mapstructure:"log"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Redis       RedisConfig     `mapstructure:"redis"`
}

// ServerConfig controls the HTTP listener. TrustProxy takes the client IP
// from X-Forwarded-For / X-Real-IP and must only be set behind a proxy.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy        bool          `mapstructure:"trust_proxy"`
}

// DatabaseConfig selects and tunes the contact store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
	Backend string        `mapstructure:"backend"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// Production reports whether internal error details must be hidden.
func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.url", "./bitespeed.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.limit", 100)
	v.SetDefault("ratelimit.window", 15*time.Minute)
	v.SetDefault("ratelimit.backend", RateLimitBackendMemory)
	v.SetDefault("redis.url", "")
}

// SetupEnv binds BITESPEED_* variables plus the bare PORT, DATABASE_URL and
// NODE_ENV names older deployments set.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("BITESPEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "BITESPEED_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.url", "BITESPEED_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("environment", "BITESPEED_ENVIRONMENT", "NODE_ENV")
	_ = v.BindEnv("redis.url", "BITESPEED_REDIS_URL", "REDIS_URL")
}

// Load reads configuration from .env, the environment and, when path is
// set, a config file. Precedence is env > file > defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, bserr.Errorf(bserr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
			}
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates an already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, bserr.Errorf(bserr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = InferDriver(cfg.Database.URL)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// InferDriver picks postgres for postgres URLs and sqlite for anything else.
func InferDriver(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return invalid("database.driver", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return invalid("database.url", c.Database.URL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port", c.Server.Port)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return invalid("ratelimit.limit", c.RateLimit.Limit)
		}
		if c.RateLimit.Window <= 0 {
			return invalid("ratelimit.window", c.RateLimit.Window)
		}
		switch c.RateLimit.Backend {
		case RateLimitBackendMemory:
		case RateLimitBackendRedis:
			if c.Redis.URL == "" {
				return bserr.New(bserr.CodeConfigValidateInvalidValue, "ratelimit.backend redis requires redis.url")
			}
		default:
			return invalid("ratelimit.backend", c.RateLimit.Backend)
		}
	}
	return nil
}

func invalid(key string, value any) error {
	return bserr.New(bserr.CodeConfigValidateInvalidValue, "invalid value for "+key,
		bserr.Field("key", key), bserr.Field("value", value))
}
