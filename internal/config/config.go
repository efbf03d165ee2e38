// Package config loads runtime configuration from SITEWATCH_-prefixed
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr           string        `envconfig:"ADDR" default:":8080"`
	PGDSN          string        `envconfig:"PG_DSN"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	ReportCacheTTL time.Duration `envconfig:"REPORT_CACHE_TTL" default:"60s"`
	EventBuffer    int           `envconfig:"EVENT_BUFFER" default:"16"`
	MaxBodyBytes   int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	RateLimitRPS   int           `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"100"`
}

// Load reads the environment. PG_DSN and REDIS_ADDR are optional; without
// them the server runs on the in-memory store with no report cache.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("sitewatch", &cfg); err != nil {
		return nil, fmt.Errorf("process env vars: %w", err)
	}
	return &cfg, nil
}
