package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode          `mapstructure:"mode"`
	HTTPAddr string        `mapstructure:"http_addr"`
	SiteID   string        `mapstructure:"site_id"`
	DB       DBConfig      `mapstructure:"db"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Log      LogConfig     `mapstructure:"log"`
	Auth     AuthConfig    `mapstructure:"auth"`
	CORS     CORSConfig    `mapstructure:"cors"`
	Grading  GradingConfig `mapstructure:"grading"`
	Blob     BlobConfig    `mapstructure:"blob"`
	Sync     SyncConfig    `mapstructure:"sync"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"` // sqlite|postgres
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the trigger queue when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Queue    string `mapstructure:"queue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json|console
}

type AuthConfig struct {
	HMACSecret string `mapstructure:"hmac_secret"`
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

type GradingConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

type BlobConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// SyncConfig enables the transcript publisher when WebhookURL is set.
// With TokenURL the webhook is called with an OAuth2 client-credentials token,
// otherwise with Token as a static bearer.
type SyncConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	Token        string        `mapstructure:"token"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Load reads defaults, then an optional config file, then GRADING_* env vars.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GRADING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.CORS.Origins = splitOrigins(cfg.CORS.Origins)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeOffline))
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("site_id", "local")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue", "grading:triggers")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.hmac_secret", "dev-secret-change-me")
	v.SetDefault("cors.origins", []string{"http://localhost:3000"})
	v.SetDefault("grading.max_concurrency", 4)
	v.SetDefault("blob.base_path", "./data")

	v.SetDefault("sync.webhook_url", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.token_url", "")
	v.SetDefault("sync.client_id", "")
	v.SetDefault("sync.client_secret", "")
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.timeout", "10s")
}

// Validate rejects values the services cannot start with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		return fmt.Errorf("config: mode must be offline or online, got %q", c.Mode)
	}
	switch strings.ToLower(c.DB.Driver) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pg", "pgx":
	default:
		return fmt.Errorf("config: db.driver %q is not supported", c.DB.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Grading.MaxConcurrency < 1 {
		return fmt.Errorf("config: grading.max_concurrency must be at least 1")
	}
	if c.Auth.HMACSecret == "" {
		return fmt.Errorf("config: auth.hmac_secret must not be empty")
	}
	if c.Mode == ModeOnline && len(c.Auth.HMACSecret) < 16 {
		return fmt.Errorf("config: auth.hmac_secret must be at least 16 characters in online mode")
	}
	if c.Redis.Addr != "" && c.Redis.Queue == "" {
		return fmt.Errorf("config: redis.queue must be set when redis.addr is")
	}
	if c.Sync.TokenURL != "" && c.Sync.ClientID == "" {
		return fmt.Errorf("config: sync.client_id must be set when sync.token_url is")
	}
	if c.SyncEnabled() && c.Sync.Interval <= 0 {
		return fmt.Errorf("config: sync.interval must be positive")
	}
	return nil
}

// SyncEnabled reports whether final grades are published to a webhook.
func (c *Config) SyncEnabled() bool { return c.Sync.WebhookURL != "" }

// QueueEnabled reports whether triggers go through Redis.
func (c *Config) QueueEnabled() bool { return c.Redis.Addr != "" }

// env vars arrive as one comma-separated string
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
