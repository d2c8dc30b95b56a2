package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	t.Setenv("GTD_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Setenv("GTD_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	cfg := Default()
	cfg.LMModel = "custom-model"
	cfg.DecayRate = 0.25
	require.NoError(t, Save(cfg))

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "custom-model", loaded.LMModel)
	assert.Equal(t, 0.25, loaded.DecayRate)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("GTD_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, Save(Default()))
	t.Setenv("LM_MODEL", "env-model")
	t.Setenv("BATCH_THRESHOLD", "9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.LMModel)
	assert.Equal(t, 9, cfg.BatchThreshold)
}

func TestGetSetRoundTrip(t *testing.T) {
	cfg := Default()
	updated, err := Set(cfg, "lm_model", "another-model")
	require.NoError(t, err)
	assert.Equal(t, "another-model", updated.LMModel)

	v, err := Get(updated, "lm_model")
	require.NoError(t, err)
	assert.Equal(t, "another-model", v)
}

func TestSetUnknownKeyErrors(t *testing.T) {
	_, err := Set(Default(), "not_a_real_key", "x")
	assert.Error(t, err)
}

func TestSetBoolField(t *testing.T) {
	updated, err := Set(Default(), "use_agent", "false")
	require.NoError(t, err)
	assert.False(t, updated.UseAgent)
}

func TestEnvSummaryRedactsSecrets(t *testing.T) {
	t.Setenv("TIMING_API_KEY", "super-secret")
	summary := EnvSummary()
	assert.Equal(t, "<redacted>", summary["TIMING_API_KEY"])
}

func TestDefaultCheckpointBackendIsSqlite(t *testing.T) {
	assert.Equal(t, "sqlite", Default().CheckpointBackend)
}

func TestEnvOverridesCheckpointBackend(t *testing.T) {
	t.Setenv("GTD_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, Save(Default()))
	t.Setenv("CHECKPOINT_BACKEND", "etcd")
	t.Setenv("CHECKPOINT_ENDPOINTS", "10.0.0.1:2379,10.0.0.2:2379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "etcd", cfg.CheckpointBackend)
	assert.Equal(t, "10.0.0.1:2379,10.0.0.2:2379", cfg.CheckpointEndpoints)
}
