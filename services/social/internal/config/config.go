// Package config holds the social service settings layered on top of the
// shared platform configuration.
package config

import (
	"errors"
	"strings"
	"time"

	pconfig "github.com/example/social-platform/internal/platform/config"
)

type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

type SocialConfig struct {
	Env         string
	DatabaseURL string
	DBMaxConns  int32
	JWTSecret   string
	GRPCAddr    string
	NATSEnabled bool
	Outbox      OutboxConfig
	// SeedPostIDs are registered in the in-memory store so a local run has posts to comment on.
	SeedPostIDs []string
}

func (c SocialConfig) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadSocial reads service settings from the environment. Call after
// pconfig.Load so a .env file has already been applied.
func LoadSocial() (SocialConfig, error) {
	cfg := SocialConfig{
		Env:         pconfig.String("APP_ENV", "development"),
		DatabaseURL: pconfig.String("DATABASE_URL", ""),
		DBMaxConns:  int32(pconfig.Int("DB_MAX_CONNS", 10)),
		JWTSecret:   pconfig.String("JWT_SECRET", ""),
		GRPCAddr:    pconfig.String("GRPC_ADDR", ":9090"),
		NATSEnabled: pconfig.Bool("NATS_ENABLED", false),
		Outbox: OutboxConfig{
			BatchSize:    pconfig.Int("OUTBOX_BATCH_SIZE", 100),
			PollInterval: pconfig.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		},
		SeedPostIDs: splitList(pconfig.String("SEED_POST_IDS", "")),
	}

	if cfg.JWTSecret == "" {
		return SocialConfig{}, errors.New("JWT_SECRET is required")
	}
	if cfg.Production() && cfg.DatabaseURL == "" {
		return SocialConfig{}, errors.New("DATABASE_URL is required in production")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
