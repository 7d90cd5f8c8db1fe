// config.go - Configuration management for auctiond
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Auction   AuctionConfig   `toml:"auction"`
	ZKP       ZKPConfig       `toml:"zkp"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

type AuctionConfig struct {
	ReplayBinding          bool `toml:"replay_binding"`
	AllowForceClose        bool `toml:"allow_force_close"`
	CloseRequiresRevealEnd bool `toml:"close_requires_reveal_end"`
	ClosedCacheSize        int  `toml:"closed_cache_size"`
	MaxDurationMinutes     int  `toml:"max_duration_minutes"`
}

// ZKPConfig locates the Groth16 keys. The verifying key is required; the
// proving key is only written by bidkeys.
type ZKPConfig struct {
	VerifyingKeyPath string `toml:"verifying_key_path"`
	ProvingKeyPath   string `toml:"proving_key_path"`
}

// PostgresConfig selects the durable store. An empty DSN and Host runs the
// in-memory store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

func (s S3Config) Enabled() bool { return strings.TrimSpace(s.Bucket) != "" }

// RateLimitConfig bounds requests per caller. With Redis the limit is a
// sliding window shared by all replicas; without it each replica keeps a
// token bucket of Requests refilled over Window.
type RateLimitConfig struct {
	Enabled  bool     `toml:"enabled"`
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

type LogConfig struct {
	Level        string `toml:"level"`
	File         string `toml:"file"`
	EnableAudit  bool   `toml:"enable_audit"`
	AuditLogPath string `toml:"audit_log_path"`
}

// duration decodes TOML strings such as "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: duration{10 * time.Second},
		},
		Auction: AuctionConfig{
			ReplayBinding:      true,
			ClosedCacheSize:    1024,
			MaxDurationMinutes: 7 * 24 * 60,
		},
		ZKP: ZKPConfig{
			VerifyingKeyPath: "keys/bid_vk.bin",
			ProvingKeyPath:   "keys/bid_pk.bin",
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			MaxConns:      10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "auctions",
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 60,
			Window:   duration{time.Minute},
		},
		Log: LogConfig{
			Level:        "info",
			File:         "auctiond.log",
			EnableAudit:  true,
			AuditLogPath: "audit.log",
		},
	}
}

// LoadConfig reads configPath over the defaults, writing the defaults there
// first if the file does not exist. A .env file in the working directory and
// AUCTIOND_* variables are applied afterwards.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := SaveConfig(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Warnings lists settings that are valid but leave the service exposed.
func (c *Config) Warnings() []string {
	var out []string
	if strings.TrimSpace(c.Server.APIKey) == "" {
		out = append(out, "server.api_key is empty; any client can set X-User-ID and X-User-Role, including admin")
	}
	if !c.Auction.ReplayBinding {
		out = append(out, "replay binding is disabled; proofs are not tied to an auction")
	}
	if c.Auction.AllowForceClose {
		out = append(out, "force close is enabled; sellers can close auctions before bids are revealed")
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.ZKP.VerifyingKeyPath == "" {
		return fmt.Errorf("zkp.verifying_key_path is required")
	}
	if c.Auction.ClosedCacheSize <= 0 {
		return fmt.Errorf("auction.closed_cache_size must be positive")
	}
	if c.Auction.MaxDurationMinutes < 0 {
		return fmt.Errorf("auction.max_duration_minutes must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("ratelimit.requests must be positive")
		}
		if c.RateLimit.Window.Duration <= 0 {
			return fmt.Errorf("ratelimit.window must be positive")
		}
	}
	if c.S3.Enabled() && c.S3.Region == "" {
		return fmt.Errorf("s3.region is required when s3.bucket is set")
	}
	if c.Log.EnableAudit && c.Log.AuditLogPath == "" {
		return fmt.Errorf("log.audit_log_path is required when auditing is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "AUCTIOND_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "AUCTIOND_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTIOND_SERVER_CORS_ORIGINS")

	setBool(&cfg.Auction.ReplayBinding, "AUCTIOND_AUCTION_REPLAY_BINDING")
	setBool(&cfg.Auction.AllowForceClose, "AUCTIOND_AUCTION_ALLOW_FORCE_CLOSE")
	setBool(&cfg.Auction.CloseRequiresRevealEnd, "AUCTIOND_AUCTION_CLOSE_REQUIRES_REVEAL_END")

	setStr(&cfg.ZKP.VerifyingKeyPath, "AUCTIOND_ZKP_VERIFYING_KEY_PATH")
	setStr(&cfg.ZKP.ProvingKeyPath, "AUCTIOND_ZKP_PROVING_KEY_PATH")

	setStr(&cfg.Postgres.DSN, "AUCTIOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AUCTIOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTIOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTIOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTIOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTIOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTIOND_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "AUCTIOND_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "AUCTIOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTIOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTIOND_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "AUCTIOND_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "AUCTIOND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTIOND_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTIOND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTIOND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTIOND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTIOND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTIOND_S3_FORCE_PATH_STYLE")

	setBool(&cfg.RateLimit.Enabled, "AUCTIOND_RATELIMIT_ENABLED")
	setInt(&cfg.RateLimit.Requests, "AUCTIOND_RATELIMIT_REQUESTS")

	setStr(&cfg.Log.Level, "AUCTIOND_LOG_LEVEL")
	setStr(&cfg.Log.File, "AUCTIOND_LOG_FILE")
	setStr(&cfg.Log.AuditLogPath, "AUCTIOND_LOG_AUDIT_PATH")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
