package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxConnections  int           `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	LogLevel    string `mapstructure:"log_level"` // "silent" "error" "warn" "info"
}

// AdmissionConfig holds the parameters of the admission pipeline. The cache
// TTLs bound how stale a plan or key revocation can be.
type AdmissionConfig struct {
	CredentialHeader    string        `mapstructure:"credential_header"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	IdentityCacheTTL    time.Duration `mapstructure:"identity_cache_ttl"`
	PlanCacheTTL        time.Duration `mapstructure:"plan_cache_ttl"`
	BurstRefillInterval time.Duration `mapstructure:"burst_refill_interval"`
	BurstBucketTTL      time.Duration `mapstructure:"burst_bucket_ttl"`
	SustainedWindow     time.Duration `mapstructure:"sustained_window"`
}

type BreakerConfig struct {
	MaxFailures     int           `mapstructure:"max_failures"`
	Timeout         time.Duration `mapstructure:"timeout"`
	HalfOpenSuccess int           `mapstructure:"half_open_success"`
}

type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTExpiryHours int    `mapstructure:"jwt_expiry_hours"`
	AdminEmail     string `mapstructure:"admin_email"`
	AdminPassword  string `mapstructure:"admin_password"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

const envPrefix = "GATEWAY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_connections", 4096)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.dsn", "host=localhost user=postgres password=postgres dbname=gateway port=5432 sslmode=disable")
	v.SetDefault("postgres.auto_migrate", false)
	v.SetDefault("postgres.log_level", "warn")

	v.SetDefault("admission.credential_header", "X-API-Key")
	v.SetDefault("admission.call_timeout", 500*time.Millisecond)
	v.SetDefault("admission.identity_cache_ttl", 600*time.Second)
	v.SetDefault("admission.plan_cache_ttl", 300*time.Second)
	v.SetDefault("admission.burst_refill_interval", time.Second)
	v.SetDefault("admission.burst_bucket_ttl", 60*time.Second)
	v.SetDefault("admission.sustained_window", 60*time.Second)

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.half_open_success", 1)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry_hours", 24)
	v.SetDefault("auth.admin_email", "")
	v.SetDefault("auth.admin_password", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("health.interval", 10*time.Second)
	v.SetDefault("health.timeout", 2*time.Second)

	v.SetDefault("logging.level", "info")
}

// Load builds the configuration from defaults, an optional YAML file and
// GATEWAY_* environment variables, in increasing order of precedence. An
// empty path falls back to GATEWAY_CONFIG and then ./config.yaml; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	a := c.Admission
	if strings.TrimSpace(a.CredentialHeader) == "" {
		return errors.New("admission.credential_header must not be empty")
	}
	if a.CallTimeout <= 0 {
		return errors.New("admission.call_timeout must be positive")
	}
	if a.IdentityCacheTTL < time.Second || a.PlanCacheTTL < time.Second {
		return errors.New("admission cache TTLs must be at least one second")
	}
	if a.BurstRefillInterval < time.Second {
		return errors.New("admission.burst_refill_interval must be at least one second")
	}
	if a.BurstBucketTTL < time.Second {
		return errors.New("admission.burst_bucket_ttl must be at least one second")
	}
	if a.BurstBucketTTL < a.BurstRefillInterval {
		return errors.New("admission.burst_bucket_ttl must not be shorter than admission.burst_refill_interval")
	}
	if a.SustainedWindow < time.Second {
		return errors.New("admission.sustained_window must be at least one second")
	}
	if c.Auth.AdminEmail != "" && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when an admin user is configured")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
