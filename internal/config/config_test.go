package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// Documented policy defaults: >10% relative delta escalates to HIGH,
	// publish requires a score of at least 90.
	assert.Equal(t, 0.10, cfg.Drift.HighRelativeDelta)
	assert.Equal(t, 90, cfg.Publish.MinIntegrityScore)
	assert.Equal(t, 6.0, cfg.Integrity.DriftPenalty)
	assert.Equal(t, 2.0, cfg.Integrity.WarningPenalty)
	assert.Equal(t, 20.0, cfg.Integrity.OrphanPenalty)
	assert.NotEmpty(t, cfg.Server.Addr)
	assert.NotEmpty(t, cfg.Database.URL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DEALGRAPH_PUBLISH_MIN_INTEGRITY_SCORE", "80")
	t.Setenv("DEALGRAPH_DRIFT_HIGH_RELATIVE_DELTA", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Publish.MinIntegrityScore)
	assert.Equal(t, 0.25, cfg.Drift.HighRelativeDelta)
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero delta", func(c *Config) { c.Drift.HighRelativeDelta = 0 }},
		{"negative drift penalty", func(c *Config) { c.Integrity.DriftPenalty = -1 }},
		{"negative warning penalty", func(c *Config) { c.Integrity.WarningPenalty = -1 }},
		{"min score above 100", func(c *Config) { c.Publish.MinIntegrityScore = 101 }},
		{"min score below 0", func(c *Config) { c.Publish.MinIntegrityScore = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Drift:     DefaultDrift(),
				Integrity: DefaultIntegrity(),
				Publish:   DefaultPublish(),
			}
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
