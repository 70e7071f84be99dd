package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/config"
)

func TestLoadFallsBackToBuiltInDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	contents := "provider: anthropic\nmodel: claude-3-7-sonnet-latest\nbudget_threshold: 2048\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lalia.yaml"), []byte(contents), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-3-7-sonnet-latest", cfg.Model)
	assert.Equal(t, 2048, cfg.BudgetThreshold)
	// untouched keys keep their built-in default.
	assert.Equal(t, config.Default().CompletionBuffer, cfg.CompletionBuffer)
}

func TestLoadReadsTelemetryConfig(t *testing.T) {
	dir := t.TempDir()
	contents := "telemetry:\n  enabled: true\n  service_name: lalia-example\n  sampler_type: ratio\n  sampler_ratio: 0.25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lalia.yaml"), []byte(contents), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "lalia-example", cfg.Telemetry.ServiceName)
	assert.Equal(t, "ratio", cfg.Telemetry.SamplerType)
	assert.Equal(t, 0.25, cfg.Telemetry.SamplerRatio)
	// untouched key keeps its built-in default.
	assert.Equal(t, config.Default().Telemetry.ServiceVersion, cfg.Telemetry.ServiceVersion)
}

func TestLoadEnvironmentOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lalia.yaml"), []byte("model: gpt-4o\n"), 0o644))
	t.Setenv("LALIA_MODEL", "gpt-4-turbo")

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", cfg.Model)
}
