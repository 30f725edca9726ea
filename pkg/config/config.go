package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required,url|uri"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	// Tenant stacks live under WorkspaceRoot, one directory per tenant.
	WorkspaceRoot string `mapstructure:"WORKSPACE_ROOT" validate:"required"`
	BackupDir     string `mapstructure:"BACKUP_DIR" validate:"required"`

	// Production and staging port ranges must be disjoint.
	PortRangeStart        int `mapstructure:"PORT_RANGE_START" validate:"gte=1024,lte=65535"`
	PortRangeEnd          int `mapstructure:"PORT_RANGE_END" validate:"gtefield=PortRangeStart,lte=65535"`
	StagingPortRangeStart int `mapstructure:"STAGING_PORT_RANGE_START" validate:"gte=1024,lte=65535"`
	StagingPortRangeEnd   int `mapstructure:"STAGING_PORT_RANGE_END" validate:"gtefield=StagingPortRangeStart,lte=65535"`

	NginxVhostDir string `mapstructure:"NGINX_VHOST_DIR" validate:"required"`
	AccessLogDir  string `mapstructure:"ACCESS_LOG_DIR" validate:"required"`

	DockerBin  string `mapstructure:"DOCKER_BIN" validate:"required"`
	NginxBin   string `mapstructure:"NGINX_BIN" validate:"required"`
	CertbotBin string `mapstructure:"CERTBOT_BIN" validate:"required"`
	// Optional xfs_quota-style command for disk measurement; empty means
	// fall back to a directory walk.
	QuotaCmd string `mapstructure:"QUOTA_CMD"`

	CertbotEmail string `mapstructure:"CERTBOT_EMAIL" validate:"omitempty,email"`

	EnforceInterval     time.Duration `mapstructure:"ENFORCE_INTERVAL" validate:"required"`
	AlertCooldown       time.Duration `mapstructure:"ALERT_COOLDOWN" validate:"required"`
	StagingMaxPerTenant int           `mapstructure:"STAGING_MAX_PER_TENANT" validate:"gte=1,lte=20"`

	ResendAPIKey string `mapstructure:"RESEND_API_KEY"`
	MailFrom     string `mapstructure:"MAIL_FROM" validate:"omitempty,email"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("WORKSPACE_ROOT", "/srv/tenants")
	v.SetDefault("BACKUP_DIR", "/srv/backups")
	v.SetDefault("PORT_RANGE_START", 8001)
	v.SetDefault("PORT_RANGE_END", 8999)
	v.SetDefault("STAGING_PORT_RANGE_START", 9001)
	v.SetDefault("STAGING_PORT_RANGE_END", 9499)
	v.SetDefault("NGINX_VHOST_DIR", "/etc/nginx/sites-enabled")
	v.SetDefault("ACCESS_LOG_DIR", "/var/log/nginx")
	v.SetDefault("DOCKER_BIN", "docker")
	v.SetDefault("NGINX_BIN", "nginx")
	v.SetDefault("CERTBOT_BIN", "certbot")
	v.SetDefault("QUOTA_CMD", "")
	v.SetDefault("ENFORCE_INTERVAL", "10m")
	v.SetDefault("ALERT_COOLDOWN", "24h")
	v.SetDefault("STAGING_MAX_PER_TENANT", 3)
	v.SetDefault("GOMAXPROCS", 0)

	// Optional config file
	_ = v.ReadInConfig()

	// Bind env without prefix for convenience
	keys := []string{
		"APP_ENV",
		"HTTP_ADDR",
		"SHUTDOWN_TIMEOUT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"ASYNQ_CONCURRENCY",
		"WORKSPACE_ROOT",
		"BACKUP_DIR",
		"PORT_RANGE_START",
		"PORT_RANGE_END",
		"STAGING_PORT_RANGE_START",
		"STAGING_PORT_RANGE_END",
		"NGINX_VHOST_DIR",
		"ACCESS_LOG_DIR",
		"DOCKER_BIN",
		"NGINX_BIN",
		"CERTBOT_BIN",
		"QUOTA_CMD",
		"CERTBOT_EMAIL",
		"ENFORCE_INTERVAL",
		"ALERT_COOLDOWN",
		"STAGING_MAX_PER_TENANT",
		"RESEND_API_KEY",
		"MAIL_FROM",
		"GOMAXPROCS",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Parse duration types that may come as string
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"ENFORCE_INTERVAL", &c.EnforceInterval},
		{"ALERT_COOLDOWN", &c.AlertCooldown},
	} {
		if s := v.GetString(d.key); s != "" {
			dur, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = dur
		}
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.StagingPortRangeStart <= c.PortRangeEnd && c.PortRangeStart <= c.StagingPortRangeEnd {
		return nil, fmt.Errorf("staging port range %d-%d overlaps production range %d-%d",
			c.StagingPortRangeStart, c.StagingPortRangeEnd, c.PortRangeStart, c.PortRangeEnd)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}
