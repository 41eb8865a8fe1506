package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the adherence engine
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Engine timing and policy knobs
	Engine EngineConfig `mapstructure:"engine"`

	// Outbound notification transport
	Notify NotifyConfig `mapstructure:"notify"`

	// Authentication for triggers and admin endpoints
	Auth AuthConfig `mapstructure:"auth"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	Migrate         bool   `mapstructure:"migrate"`
}

// EngineConfig holds scheduling and reconciliation policy knobs
type EngineConfig struct {
	SessionTTLHours             int    `mapstructure:"session_ttl_hours"`
	DefaultAdvanceWindowMinutes int    `mapstructure:"default_advance_window_minutes"`
	ReconcileBucketMinutes      int    `mapstructure:"reconcile_bucket_minutes"`
	AdherencePeriodDays         int    `mapstructure:"adherence_period_days"`
	DefaultTimezone             string `mapstructure:"default_timezone"`
}

// NotifyConfig holds outbound transport configuration. Credentials are
// validated only when notifications are enabled: the dispatcher is the one
// component that fails fast on missing credentials.
type NotifyConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	AccountSID     string `mapstructure:"account_sid"`
	AuthToken      string `mapstructure:"auth_token"`
	FromNumber     string `mapstructure:"from_number"`
	ConfirmBaseURL string `mapstructure:"confirm_base_url"`
	SendTimeout    int    `mapstructure:"send_timeout"`
}

// AuthConfig holds trigger and admin authentication configuration
type AuthConfig struct {
	CronSecret string `mapstructure:"cron_secret"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	JWTIssuer  string `mapstructure:"jwt_issuer"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/simpiller")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables
	overrideWithEnv(&config)

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "simpiller")
	viper.SetDefault("database.user", "simpiller")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)
	viper.SetDefault("database.migrate", false)

	// Engine defaults
	viper.SetDefault("engine.session_ttl_hours", 2)
	viper.SetDefault("engine.default_advance_window_minutes", 15)
	viper.SetDefault("engine.reconcile_bucket_minutes", 15)
	viper.SetDefault("engine.adherence_period_days", 30)
	viper.SetDefault("engine.default_timezone", "America/Denver")

	// Notify defaults
	viper.SetDefault("notify.enabled", true)
	viper.SetDefault("notify.send_timeout", 10)
	viper.SetDefault("notify.confirm_base_url", "https://app.simpiller.com/confirm")

	// Auth defaults
	viper.SetDefault("auth.jwt_issuer", "simpiller-adherence")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		config.Auth.CronSecret = secret
	}

	if secret := os.Getenv("JWT_SECRET_KEY"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if sid := os.Getenv("TRANSPORT_ACCOUNT_SID"); sid != "" {
		config.Notify.AccountSID = sid
	}

	if token := os.Getenv("TRANSPORT_AUTH_TOKEN"); token != "" {
		config.Notify.AuthToken = token
	}

	if from := os.Getenv("TRANSPORT_FROM_NUMBER"); from != "" {
		config.Notify.FromNumber = from
	}

	if migrate := os.Getenv("DB_MIGRATE"); migrate != "" {
		if m, err := strconv.ParseBool(migrate); err == nil {
			config.Database.Migrate = m
		}
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Auth.CronSecret == "" {
		return fmt.Errorf("cron trigger secret is required")
	}

	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Engine.SessionTTLHours <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	return nil
}
