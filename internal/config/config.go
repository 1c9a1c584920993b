// Package config loads the kernel configuration from defaults, an optional
// YAML file, .env files and CROPYIELD_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/manthysbr/cropyield/internal/core/domain"
)

const EnvPrefix = "CROPYIELD"

// Store drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Log      LogConfig             `mapstructure:"log"`
	Server   ServerConfig          `mapstructure:"server"`
	Store    StoreConfig           `mapstructure:"store"`
	Engine   domain.EngineConfig   `mapstructure:"engine"`
	Dispatch domain.DispatchConfig `mapstructure:"dispatch"`
	Queue    domain.QueueConfig    `mapstructure:"queue"`
	Pools    domain.PoolsConfig    `mapstructure:"pools"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	ValidateRequests bool          `mapstructure:"validate_requests"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	SeedDemo bool   `mapstructure:"seed_demo"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.validate_requests", true)

	v.SetDefault("store.driver", DriverDuckDB)
	v.SetDefault("store.dsn", "cropyield.db")
	v.SetDefault("store.seed_demo", false)
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("engine.base_url", "")
	v.SetDefault("engine.connect_timeout", 2*time.Second)
	v.SetDefault("engine.read_timeout", 8*time.Second)
	v.SetDefault("engine.rate_limit", 5.0)
	v.SetDefault("engine.burst", 5)
	v.SetDefault("engine.max_forecast_periods", 3)

	v.SetDefault("dispatch.schedule", "@every 30m")
	v.SetDefault("dispatch.batch_size", 100)

	v.SetDefault("queue.capacity", 256)
	v.SetDefault("queue.overflow", string(domain.QueueBlock))
	v.SetDefault("queue.consumers", 2)

	pools := domain.DefaultPoolsConfig()
	for key, p := range map[string]domain.PoolConfig{
		"general":      pools.General,
		"forecast":     pools.Forecast,
		"import":       pools.Import,
		"notification": pools.Notification,
	} {
		prefix := "pools." + key + "."
		v.SetDefault(prefix+"core_size", p.CoreSize)
		v.SetDefault(prefix+"max_size", p.MaxSize)
		v.SetDefault(prefix+"queue_capacity", p.QueueCapacity)
		v.SetDefault(prefix+"keep_alive", p.KeepAlive)
		v.SetDefault(prefix+"policy", string(p.Policy))
		v.SetDefault(prefix+"await_termination", p.AwaitTermination)
	}
}

// LoadDotEnv loads the given env files into the process environment.
// Missing files are skipped. Variables already set are never overridden,
// so list the most specific file first.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "failed to load %s", f)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from file (optional, YAML) on top of defaults
// and the environment, then validates it.
func Load(file string) (Config, error) {
	v := New()
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", file)
		}
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}

	cfg.Pools.General.Name = domain.PoolGeneral
	cfg.Pools.Forecast.Name = domain.PoolForecast
	cfg.Pools.Import.Name = domain.PoolImport
	cfg.Pools.Notification.Name = domain.PoolNotification
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Queue.Overflow = domain.QueueOverflow(strings.ToLower(string(cfg.Queue.Overflow)))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(key, format string, args ...any) error {
	return errors.Newf("config %s: "+format, append([]any{key}, args...)...)
}

// Validate reports the first offending key.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "unknown format %q", c.Log.Format)
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "must be positive")
	}

	switch c.Store.Driver {
	case DriverDuckDB, DriverPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn", "is required for driver %s", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return invalid("store.driver", "unknown driver %q", c.Store.Driver)
	}

	if c.Engine.ConnectTimeout <= 0 {
		return invalid("engine.connect_timeout", "must be positive")
	}
	if c.Engine.ReadTimeout <= 0 {
		return invalid("engine.read_timeout", "must be positive")
	}
	if c.Engine.RateLimit < 0 {
		return invalid("engine.rate_limit", "must not be negative")
	}
	if c.Engine.MaxForecastPeriods < 1 {
		return invalid("engine.max_forecast_periods", "must be at least 1")
	}

	if strings.TrimSpace(c.Dispatch.Schedule) == "" {
		return invalid("dispatch.schedule", "must not be empty")
	}
	if c.Dispatch.BatchSize < 1 {
		return invalid("dispatch.batch_size", "must be at least 1")
	}

	if c.Queue.Capacity < 1 {
		return invalid("queue.capacity", "must be at least 1")
	}
	switch c.Queue.Overflow {
	case domain.QueueBlock, domain.QueueReject:
	default:
		return invalid("queue.overflow", "unknown policy %q", c.Queue.Overflow)
	}
	if c.Queue.Consumers < 1 {
		return invalid("queue.consumers", "must be at least 1")
	}

	for _, p := range []domain.PoolConfig{c.Pools.General, c.Pools.Forecast, c.Pools.Import, c.Pools.Notification} {
		if err := validatePool(p); err != nil {
			return err
		}
	}
	return nil
}

func validatePool(p domain.PoolConfig) error {
	key := "pools." + p.Name
	if p.CoreSize < 1 {
		return invalid(key+".core_size", "must be at least 1")
	}
	if p.MaxSize < p.CoreSize {
		return invalid(key+".max_size", "must be >= core_size (%d)", p.CoreSize)
	}
	if p.QueueCapacity < 0 {
		return invalid(key+".queue_capacity", "must not be negative")
	}
	switch p.Policy {
	case domain.PolicyCallerRuns, domain.PolicyReject:
	default:
		return invalid(key+".policy", "unknown policy %q", p.Policy)
	}
	return nil
}
