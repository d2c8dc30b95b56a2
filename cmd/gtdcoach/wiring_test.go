package main

import (
	"testing"

	gtdconfig "github.com/gtdcoach/agent/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEndpointsTrimsAndDropsBlankEntries(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitEndpoints("a:1, b:2 ,"))
	assert.Nil(t, splitEndpoints(""))
}

func TestNewCheckpointStorageRejectsUnknownBackend(t *testing.T) {
	cfg := gtdconfig.Default()
	cfg.CheckpointBackend = "not-a-backend"
	_, err := newCheckpointStorage(cfg, nil)
	require.Error(t, err)
}

func TestNewCheckpointStorageDefaultsToSqlite(t *testing.T) {
	cfg := gtdconfig.Default()
	cfg.CheckpointBackend = ""
	_, err := newCheckpointStorage(cfg, nil)
	// nil *sql.DB: fails inside NewSQLStorage's nil check, not the backend
	// switch, confirming "" resolves to the sqlite branch rather than erroring
	// as an unsupported backend.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db connection is required")
}
