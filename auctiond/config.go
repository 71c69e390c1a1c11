package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed from the environment at boot.
type Config struct {
	// ListenAddr is the TCP address for the JSON request protocol.
	ListenAddr string `env:"AUCTIOND_LISTEN_ADDR" envDefault:":7700"`
	// EventsAddr serves the websocket event feed.
	EventsAddr string `env:"AUCTIOND_EVENTS_ADDR" envDefault:":7701"`
	// VsockPort, when nonzero, additionally serves the request protocol
	// on a vsock listener for VM-isolated deployments.
	VsockPort uint32 `env:"AUCTIOND_VSOCK_PORT" envDefault:"0"`

	DBPath string `env:"AUCTIOND_DB_PATH" envDefault:"auctiond.db"`

	MaxWorkers      int `env:"AUCTIOND_MAX_WORKERS" envDefault:"32"`
	MaxDurationDays int `env:"AUCTIOND_MAX_DURATION_DAYS" envDefault:"30"`

	// PlatformOwner is the fixed privileged identity allowed to
	// terminate any auction. Required.
	PlatformOwner string `env:"AUCTIOND_PLATFORM_OWNER,notEmpty"`
}

// LoadConfig parses and validates the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MaxWorkers <= 0 {
		return Config{}, fmt.Errorf("AUCTIOND_MAX_WORKERS must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.MaxDurationDays <= 0 {
		return Config{}, fmt.Errorf("AUCTIOND_MAX_DURATION_DAYS must be positive, got %d", cfg.MaxDurationDays)
	}
	return cfg, nil
}

// MaxDuration converts the configured day count to the engine's bound.
func (c Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationDays) * 24 * time.Hour
}
