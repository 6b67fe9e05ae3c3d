// Package config loads the orchestrator process's own configuration: where
// to listen, how to reach its datastore and cache, how verbosely to log. It
// is deliberately distinct from package schedconfig, which holds the
// domain-level SchedulingConfig every capacity computation depends on — this
// package answers "how does the process start", schedconfig answers "how
// should the scheduler size nodes".
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the orchestrator process's full ambient configuration.
type Config struct {
	Profile  DeploymentProfile `mapstructure:"profile"`
	Database DatabaseConfig    `mapstructure:"database"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Log      LogConfig         `mapstructure:"log"`
	Cache    CacheConfig       `mapstructure:"cache"`
	Lock     LockConfig        `mapstructure:"lock"`
	App      AppConfig         `mapstructure:"app"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
	Command  CommandConfig     `mapstructure:"command"`
}

// DeploymentProfile selects between embedded (SQLite, in-process lock) and
// externally-backed (Postgres, Redis) operation.
type DeploymentProfile string

const (
	// ProfileStandalone runs with SQLite storage and an in-process lock —
	// no external dependencies, single replica.
	ProfileStandalone DeploymentProfile = "standalone"

	// ProfileCluster runs with Postgres storage and Redis-backed caching and
	// locking, suitable for more than one orchestrator replica.
	ProfileCluster DeploymentProfile = "cluster"
)

// DatabaseConfig configures the Postgres connection used in ProfileCluster,
// or the SQLite file path used in ProfileStandalone.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	SqlitePath      string        `mapstructure:"sqlite_path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig configures both the cache and distributed-lock clients when
// the cluster profile is active.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig carries a default cache TTL. schedconfig.Service does not read
// it; its config slot uses a fixed five-minute TTL.
type CacheConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// LockConfig configures the distributed/in-process lock used by the
// configuration store's reload path, the command registry's per-node ack
// serialization, and the GPU setup controller's per-node state transitions.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// AppConfig carries process identity used in logs and metrics labels.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// CommandConfig configures the command registry's reaper loop and delivery
// throttling.
type CommandConfig struct {
	ReapInterval          time.Duration `mapstructure:"reap_interval"`
	ConfigureGpuTimeout   time.Duration `mapstructure:"configure_gpu_timeout"`
	DefaultTimeout        time.Duration `mapstructure:"default_timeout"`
	DeliveryQueueSize     int           `mapstructure:"delivery_queue_size"`
	DeliveryRatePerSecond float64       `mapstructure:"delivery_rate_per_second"`
	DeliveryBurst         int           `mapstructure:"delivery_burst"`
}

// LoadConfig loads configuration from defaults, an optional YAML file, and
// environment variables, in that ascending order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("profile", "standalone")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.sqlite_path", "./orchd.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "orchd")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")

	viper.SetDefault("cache.default_ttl", "5m")

	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.value_prefix", "orchd:lock")

	viper.SetDefault("app.name", "orchd")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("command.reap_interval", "1m")
	viper.SetDefault("command.configure_gpu_timeout", "30m")
	viper.SetDefault("command.default_timeout", "10m")
	viper.SetDefault("command.delivery_queue_size", 64)
	viper.SetDefault("command.delivery_rate_per_second", 5.0)
	viper.SetDefault("command.delivery_burst", 10)
}

// Validate checks invariants LoadConfig cannot express as viper defaults.
func (c *Config) Validate() error {
	if c.Profile != ProfileStandalone && c.Profile != ProfileCluster {
		return fmt.Errorf("invalid deployment profile: %s", c.Profile)
	}
	if c.Profile == ProfileCluster {
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("cluster profile requires database.host and database.database")
		}
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	return nil
}

// IsCluster reports whether Postgres/Redis-backed operation is configured.
func (c *Config) IsCluster() bool { return c.Profile == ProfileCluster }

// DatabaseURL constructs the Postgres connection string for cluster profile.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Database, c.Database.SSLMode)
}
