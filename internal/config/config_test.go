package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2, cfg.Pool.MinConnections)
	assert.Equal(t, 20, cfg.Pool.MaxConnections)
	assert.Equal(t, 0.85, cfg.Semantic.SimilarityThreshold)
	assert.Equal(t, "balanced", cfg.Router.Strategy)
	assert.InDelta(t, 1.0, cfg.Router.Weights.Performance+cfg.Router.Weights.Cost+cfg.Router.Weights.Quality+cfg.Router.Weights.Availability, 0.0001)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("AIMW_POOL_MAX", "42")
	os.Setenv("AIMW_ROUTER_STRATEGY", "cost")
	defer os.Unsetenv("AIMW_POOL_MAX")
	defer os.Unsetenv("AIMW_ROUTER_STRATEGY")

	cfg := Load()
	assert.Equal(t, 42, cfg.Pool.MaxConnections)
	assert.Equal(t, "cost", cfg.Router.Strategy)
	// unset values still fall back to defaults
	assert.Equal(t, 2, cfg.Pool.MinConnections)
}
