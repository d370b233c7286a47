// SPDX-License-Identifier: LGPL-3.0-or-later

package agentconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultDatastorePath, cfg.DatastorePath)
	assert.Equal(t, DefaultLockPath, cfg.LockPath)
	assert.Equal(t, DefaultRollbackChainLimit, cfg.RollbackChainLimit)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
	require.NotNil(t, cfg.AWS)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMergeWithEnv(t *testing.T) {
	cfg := FromEnvironment()
	cfg.LogLevel = "warn"

	t.Setenv("HOSTAGENT_LOG_LEVEL", "error")
	merged := cfg.MergeWithEnv()

	assert.Equal(t, "error", merged.LogLevel)
}

func TestFromEnvironmentDefaults(t *testing.T) {
	cfg := FromEnvironment()
	assert.Equal(t, DefaultRollbackChainLimit, cfg.RollbackChainLimit)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
}
