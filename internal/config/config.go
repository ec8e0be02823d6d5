// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting the API server reads at startup.
type Config struct {
	Port string `env:"PORT" envDefault:"50051"`

	MongoURI      string        `env:"MONGODB_URI,required,notEmpty"`
	MongoDatabase string        `env:"MONGODB_DATABASE" envDefault:"chat_db"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	RedisURL       string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	CacheTimeout   time.Duration `env:"CACHE_TIMEOUT" envDefault:"150ms"`
	UnreadCacheTTL time.Duration `env:"UNREAD_CACHE_TTL" envDefault:"24h"`
	PresenceTTL    time.Duration `env:"PRESENCE_TTL" envDefault:"1h"`

	SendRateLimit  int64         `env:"SEND_RATE_LIMIT" envDefault:"30"`
	SendRateWindow time.Duration `env:"SEND_RATE_WINDOW" envDefault:"1m"`
	// HandshakeRPM throttles new realtime connections per peer address.
	HandshakeRPM int `env:"HANDSHAKE_RATE_LIMIT_RPM" envDefault:"10"`
	// RoomCreateRPM throttles room creation per user.
	RoomCreateRPM int `env:"ROOM_CREATE_RATE_LIMIT_RPM" envDefault:"30"`

	// NATSURL enables cross-instance fanout when set.
	NATSURL string `env:"NATS_URL"`

	JWTSecret    string            `env:"JWT_SECRET"`
	JWTKeys      map[string]string `env:"JWT_KEYS" envKeyValSeparator:":"`
	JWTActiveKid string            `env:"JWT_ACTIVE_KID"`

	TLSCert    string `env:"TLS_CERT"`
	TLSKey     string `env:"TLS_KEY"`
	RequireTLS bool   `env:"REQUIRE_TLS"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the struct tags cannot express.
func (c Config) Validate() error {
	if c.JWTSecret == "" && len(c.JWTKeys) == 0 {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(c.JWTKeys) > 0 {
		if c.JWTActiveKid == "" {
			return errors.New("JWT_ACTIVE_KID must be set when JWT_KEYS is used")
		}
		if _, ok := c.JWTKeys[c.JWTActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q not present in JWT_KEYS", c.JWTActiveKid)
		}
	}
	if c.RequireTLS && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.SendRateLimit <= 0 || c.SendRateWindow <= 0 {
		return errors.New("SEND_RATE_LIMIT and SEND_RATE_WINDOW must be positive")
	}
	return nil
}
