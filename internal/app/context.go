package app

import (
	"context"

	"github.com/xxxsen/romscraper/internal/config"
)

type configKey struct{}

// WithConfig attaches the loaded configuration to ctx.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFromContext returns the configuration attached to ctx, or the
// defaults when none is.
func ConfigFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok && cfg != nil {
		return cfg
	}
	return config.Default()
}
