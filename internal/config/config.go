package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Quota     QuotaConfig
	Retention RetentionConfig
	Log       LogConfig

	// TierOverrides adjusts the built-in tier table, keyed by tier name.
	// The table itself is assembled in main; config carries only values.
	TierOverrides map[string]TierOverride
}

type ServerConfig struct {
	Host string
	Port int

	// CORSAllowedOrigins lists origins allowed by the CORS middleware.
	// Empty falls back to the middleware's development default.
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32

	// MigrationsPath is applied at startup when non-empty.
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled bool
	URL     string
}

type QuotaConfig struct {
	// StoreTimeout bounds every counter-store round-trip.
	StoreTimeout time.Duration

	// BurstPerMinute caps admission checks per user per minute; 0 disables
	// the burst limiter.
	BurstPerMinute int

	// FallbackTier is used when a user's tier cannot be resolved. It must
	// name the most restrictive tier in the table.
	FallbackTier string
}

type RetentionConfig struct {
	// Schedule is a cron expression for the attachment sweep, e.g.
	// "0 3 * * *". Empty disables scheduled sweeping.
	Schedule  string
	BatchSize int
	BlobDir   string
}

type LogConfig struct {
	Level  string
	Format string
}

// TierOverride carries per-tier adjustments from the environment, e.g.
// TIERS_FREE_MESSAGES=50 or TIERS_PRO_RETENTION_DAYS=60. A negative limit
// means unlimited. Tier and metric names are validated where the table is
// built, not here.
type TierOverride struct {
	// MaxPerDay maps metric name to the overridden daily cap.
	MaxPerDay map[string]int64

	RetentionDays *int
	Strict        *bool
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),

			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			Enabled: k.Bool("nats.enabled"),
			URL:     k.String("nats.url"),
		},
		Quota: QuotaConfig{
			BurstPerMinute: k.Int("quota.burst.per.minute"),
			FallbackTier:   k.String("quota.fallback.tier"),
		},
		Retention: RetentionConfig{
			Schedule:  k.String("retention.schedule"),
			BatchSize: k.Int("retention.batch.size"),
			BlobDir:   k.String("retention.blob.dir"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if raw := k.String("cors.allowed.origins"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.CORSAllowedOrigins = append(cfg.Server.CORSAllowedOrigins, o)
			}
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "converso"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "converso"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Quota.BurstPerMinute == 0 {
		cfg.Quota.BurstPerMinute = 120
	}
	if cfg.Quota.FallbackTier == "" {
		cfg.Quota.FallbackTier = "free"
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}
	if cfg.Retention.BatchSize == 0 {
		cfg.Retention.BatchSize = 200
	}
	if cfg.Retention.BlobDir == "" {
		cfg.Retention.BlobDir = "data/attachments"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	storeTimeoutStr := k.String("quota.store.timeout")
	if storeTimeoutStr == "" {
		storeTimeoutStr = "3s"
	}
	cfg.Quota.StoreTimeout, err = time.ParseDuration(storeTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing quota store timeout: %w", err)
	}

	cfg.TierOverrides = tierOverrides(k)

	return cfg, nil
}

// tierOverrides collects every tiers.<name>.<field> key into per-tier value
// overrides. Fields other than retention.days and strict are metric caps.
func tierOverrides(k *koanf.Koanf) map[string]TierOverride {
	sub := k.Cut("tiers")
	out := make(map[string]TierOverride)

	for _, key := range sub.Keys() {
		name, field, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}

		ov := out[name]
		switch field {
		case "retention.days":
			days := sub.Int(key)
			ov.RetentionDays = &days
		case "strict":
			strict := sub.Bool(key)
			ov.Strict = &strict
		default:
			if ov.MaxPerDay == nil {
				ov.MaxPerDay = make(map[string]int64)
			}
			ov.MaxPerDay[field] = sub.Int64(key)
		}
		out[name] = ov
	}
	return out
}
