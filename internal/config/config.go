// Package config loads service configuration with viper.
//
// Sources, lowest to highest precedence: built-in defaults, the defaults of
// the selected profile (app.profile), config.yaml (searched in ., ./config,
// /etc/coffeeshop), environment variables with "." replaced by "_"
// (e.g. STORAGE_DRIVER, PROJECTION_DEMO_FAULTS, APP_PROFILE).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Profiles. The dev profile turns the demonstrations on: poison-value
// faults, legacy product seeding and console debug logs.
const (
	ProfileDefault = ""
	ProfileDev     = "dev"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the root configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
	River      RiverConfig      `mapstructure:"river"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Projection ProjectionConfig `mapstructure:"projection"`
	DeadLetter DeadLetterConfig `mapstructure:"deadletter"`
	Upcast     UpcastConfig     `mapstructure:"upcast"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns URL when set, otherwise a postgres URL built from the parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

type AppConfig struct {
	Profile string `mapstructure:"profile"`
}

// StorageConfig selects the backend for the event log and every keyed store.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory or postgres
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

type WorkerConfig struct {
	ProjectionPoolSize int `mapstructure:"projection_pool_size"`
	SnapshotPoolSize   int `mapstructure:"snapshot_pool_size"`
}

// SnapshotConfig holds per-aggregate event-count thresholds.
type SnapshotConfig struct {
	Async   bool `mapstructure:"async"`
	Order   int  `mapstructure:"order"`
	Payment int  `mapstructure:"payment"`
	Product int  `mapstructure:"product"`
}

type ProjectionConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	// DemoFaults turns on the poison-value failures used to demonstrate
	// dead-lettering (payment reset of 13.13, product price 99.99,
	// customer "error-customer").
	DemoFaults bool `mapstructure:"demo_faults"`
}

// DeadLetterConfig is the bounded redrive policy.
type DeadLetterConfig struct {
	RedriveInterval time.Duration `mapstructure:"redrive_interval"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

type UpcastConfig struct {
	SkuMappingPath string `mapstructure:"sku_mapping_path"`
	// SeedLegacyProducts appends this many revision 1 ProductCreated
	// records at startup so the upcaster has history to work on. 0 is off.
	SeedLegacyProducts int `mapstructure:"seed_legacy_products"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/coffeeshop")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := setProfileDefaults(v, v.GetString("app.profile")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage.Driver)
	}
	if c.Snapshot.Order <= 0 || c.Snapshot.Payment <= 0 || c.Snapshot.Product <= 0 {
		return fmt.Errorf("snapshot thresholds must be positive")
	}
	if c.Projection.BatchSize <= 0 {
		return fmt.Errorf("projection.batch_size must be positive")
	}
	if c.Projection.HandlerTimeout <= 0 {
		return fmt.Errorf("projection.handler_timeout must be positive")
	}
	if c.DeadLetter.MaxAttempts <= 0 {
		return fmt.Errorf("deadletter.max_attempts must be positive")
	}
	if c.DeadLetter.BaseBackoff <= 0 || c.DeadLetter.MaxBackoff < c.DeadLetter.BaseBackoff {
		return fmt.Errorf("deadletter backoff must satisfy 0 < base_backoff <= max_backoff")
	}
	return nil
}

func setProfileDefaults(v *viper.Viper, profile string) error {
	switch profile {
	case ProfileDefault:
	case ProfileDev:
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "console")
		v.SetDefault("projection.demo_faults", true)
		v.SetDefault("upcast.seed_legacy_products", 10)
	default:
		return fmt.Errorf("app.profile must be empty or %q, got %q", ProfileDev, profile)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.profile", ProfileDefault)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "coffeeshop")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "coffeeshop")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.driver", StorageMemory)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("river.max_workers", 5)
	v.SetDefault("river.completed_job_retention_period", "24h")

	v.SetDefault("worker.projection_pool_size", 32)
	v.SetDefault("worker.snapshot_pool_size", 8)

	v.SetDefault("snapshot.async", true)
	v.SetDefault("snapshot.order", 50)
	v.SetDefault("snapshot.payment", 25)
	v.SetDefault("snapshot.product", 200)

	v.SetDefault("projection.batch_size", 100)
	v.SetDefault("projection.poll_interval", "1s")
	v.SetDefault("projection.handler_timeout", "5s")
	v.SetDefault("projection.demo_faults", false)

	v.SetDefault("deadletter.redrive_interval", "60s")
	v.SetDefault("deadletter.max_attempts", 10)
	v.SetDefault("deadletter.base_backoff", "1m")
	v.SetDefault("deadletter.max_backoff", "1h")

	v.SetDefault("upcast.sku_mapping_path", "/etc/coffeeshop/sku-mappings.csv")
	v.SetDefault("upcast.seed_legacy_products", 0)
}
