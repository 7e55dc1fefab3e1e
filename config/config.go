package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// RelayConfig holds relay server configuration.
type RelayConfig struct {
	Addr            string        `env:"RELAY_ADDR" default:":8080"`
	PingInterval    time.Duration `env:"RELAY_PING_INTERVAL" default:"5s"`
	ClientTimeout   time.Duration `env:"RELAY_CLIENT_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `env:"RELAY_WRITE_TIMEOUT" default:"10s"`
	SendBuffer      int           `env:"RELAY_SEND_BUFFER" default:"256"`
	MailboxSize     int           `env:"RELAY_MAILBOX_SIZE" default:"256"`
	ReadBufferSize  int           `env:"RELAY_READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `env:"RELAY_WRITE_BUFFER_SIZE" default:"1024"`
	MaxConnections  int           `env:"RELAY_MAX_CONNECTIONS" default:"1000"`
	SystemID        string        `env:"RELAY_SYSTEM_ID" default:"system"`

	AuthURL     string        `env:"AUTH_URL"`
	AuthTimeout time.Duration `env:"AUTH_TIMEOUT" default:"3s"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`

	Redis RedisConfig
}

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" default:"false"`
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`
	Prefix   string `env:"REDIS_WS_PREFIX" default:"orchestra:relay:"`
}

// Default returns the configuration used when no environment is set.
func Default() *RelayConfig {
	return &RelayConfig{
		Addr:            ":8080",
		PingInterval:    5 * time.Second,
		ClientTimeout:   10 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      256,
		MailboxSize:     256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxConnections:  1000,
		SystemID:        "system",
		AuthTimeout:     3 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "orchestra:relay:",
		},
	}
}

// Load reads an optional .env file, then the environment.
func Load() (*RelayConfig, error) {
	// A missing .env file is fine; the process environment still applies.
	_ = godotenv.Load()

	var cfg RelayConfig
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the settings are consistent with each other.
func (c *RelayConfig) Validate() error {
	if c.PingInterval <= 0 {
		return errors.New("RELAY_PING_INTERVAL must be positive")
	}
	if c.ClientTimeout <= c.PingInterval {
		return errors.New("RELAY_CLIENT_TIMEOUT must be greater than RELAY_PING_INTERVAL")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("RELAY_WRITE_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 || c.MailboxSize <= 0 {
		return errors.New("RELAY_SEND_BUFFER and RELAY_MAILBOX_SIZE must be positive")
	}
	if c.MaxConnections < 0 {
		return errors.New("RELAY_MAX_CONNECTIONS must not be negative")
	}
	if c.AuthURL != "" && c.AuthTimeout <= 0 {
		return errors.New("AUTH_TIMEOUT must be positive")
	}
	return nil
}
