package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "auctiond.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults written to %s: %v", path, err)
	}

	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reloading saved defaults failed: %v", err)
	}
	if again.RateLimit.Window.Duration != time.Minute || again.Server.ShutdownTimeout.Duration != 10*time.Second {
		t.Errorf("durations did not round-trip: %+v %+v", again.RateLimit, again.Server)
	}
	if !again.Auction.ReplayBinding {
		t.Errorf("replay binding should default to on")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auctiond.toml")
	data := `
[server]
addr = ":9090"

[auction]
allow_force_close = true

[postgres]
host = "db"
database = "auctions"

[ratelimit]
requests = 5
window = "10s"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUCTIOND_REDIS_ADDR", "redis:6379")
	t.Setenv("AUCTIOND_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUCTIOND_AUCTION_REPLAY_BINDING", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" || !cfg.Auction.AllowForceClose {
		t.Errorf("file values not applied: %+v %+v", cfg.Server, cfg.Auction)
	}
	if cfg.Log.Level != "info" || cfg.Auction.ClosedCacheSize != 1024 {
		t.Errorf("defaults should survive a partial file")
	}
	if !cfg.Postgres.Enabled() || cfg.Postgres.Port != 5432 {
		t.Errorf("unexpected postgres config %+v", cfg.Postgres)
	}
	if cfg.RateLimit.Requests != 5 || cfg.RateLimit.Window.Duration != 10*time.Second {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("env override for redis not applied")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected CORS origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.Auction.ReplayBinding {
		t.Errorf("env override should disable replay binding")
	}
	if cfg.S3.Enabled() {
		t.Errorf("s3 should be disabled without a bucket")
	}
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auctiond.toml")
	os.WriteFile(path, []byte("[ratelimit]\nwindow = \"soon\"\n"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("expected an error for an unparsable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no addr", func(c *Config) { c.Server.Addr = "" }},
		{"no verifying key", func(c *Config) { c.ZKP.VerifyingKeyPath = "" }},
		{"zero cache", func(c *Config) { c.Auction.ClosedCacheSize = 0 }},
		{"negative max duration", func(c *Config) { c.Auction.MaxDurationMinutes = -1 }},
		{"zero rate", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"zero window", func(c *Config) { c.RateLimit.Window.Duration = 0 }},
		{"bucket without region", func(c *Config) { c.S3.Bucket = "b"; c.S3.Region = "" }},
		{"audit without path", func(c *Config) { c.Log.AuditLogPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected a validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Requests = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("a disabled rate limit needs no settings: %v", err)
	}
}

func TestWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKey = ""
	warnings := cfg.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "api_key") {
		t.Fatalf("expected one api_key warning for the defaults, got %q", warnings)
	}

	cfg.Server.APIKey = "secret"
	if w := cfg.Warnings(); len(w) != 0 {
		t.Errorf("expected no warnings with an api key, got %q", w)
	}

	cfg.Auction.ReplayBinding = false
	cfg.Auction.AllowForceClose = true
	if w := cfg.Warnings(); len(w) != 2 {
		t.Errorf("expected replay and force close warnings, got %q", w)
	}
}
