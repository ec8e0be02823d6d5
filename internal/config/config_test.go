package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "50051" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.PresenceTTL != time.Hour {
		t.Fatalf("expected 1h presence TTL, got %v", cfg.PresenceTTL)
	}
	if cfg.CacheTimeout != 150*time.Millisecond {
		t.Fatalf("expected 150ms cache timeout, got %v", cfg.CacheTimeout)
	}
}

func TestLoad_RequiresMongoURI(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when MONGODB_URI is empty")
	}
}

func TestLoad_JWTKeys(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_KEYS", "k1:one,k2:two")
	t.Setenv("JWT_ACTIVE_KID", "k2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.JWTKeys["k1"] != "one" || cfg.JWTKeys["k2"] != "two" {
		t.Fatalf("unexpected keys: %v", cfg.JWTKeys)
	}
}

func TestValidate(t *testing.T) {
	base := Config{JWTSecret: "s", SendRateLimit: 10, SendRateWindow: time.Minute}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no jwt", func(c *Config) { c.JWTSecret = "" }, true},
		{"unknown active kid", func(c *Config) {
			c.JWTKeys = map[string]string{"a": "x"}
			c.JWTActiveKid = "b"
		}, true},
		{"tls required without certs", func(c *Config) { c.RequireTLS = true }, true},
		{"zero rate", func(c *Config) { c.SendRateLimit = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
