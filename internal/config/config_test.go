package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioflow/docsync/internal/timex"
)

func mustDuration(t *testing.T, js string) timex.Duration {
	t.Helper()
	var d timex.Duration
	require.NoError(t, json.Unmarshal([]byte(js), &d))
	return d
}

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, "docsync.db", cfg.LocalDBPath)
	assert.Equal(t, "documents", cfg.S3Bucket)
	assert.Equal(t, 300<<10, cfg.SnapshotMaxBytes)
	assert.Equal(t, 100, cfg.QueueMaxSize)
	assert.Equal(t, 6, cfg.QueueMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.QueueBaseDelay)
	assert.Equal(t, 60*time.Second, cfg.QueueMaxDelay)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.RemoteTimeout)
	assert.Zero(t, cfg.DeadLetterMaxAge, "dead letters are kept forever by default")
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"docsync", "-b", "drafts", "-i", "5", "-q", "10"}

	cfg := LoadConfig()

	assert.Equal(t, "drafts", cfg.S3Bucket)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.QueueMaxSize)
	// Untouched values keep their defaults.
	assert.Equal(t, "us-east-1", cfg.S3Region)
}

func TestLoadConfig_JsonOverlay(t *testing.T) {
	jc := JsonConfig{
		S3Bucket:     "from-json",
		PollInterval: mustDuration(t, `"7s"`),
		QueueMaxSize: 42,
	}
	data, err := json.Marshal(jc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"docsync", "-c", path}

	cfg := LoadConfig()

	assert.Equal(t, "from-json", cfg.S3Bucket)
	assert.Equal(t, 7*time.Second, cfg.PollInterval)
	assert.Equal(t, 42, cfg.QueueMaxSize)
}

func TestLoadConfig_FlagsWinOverJson(t *testing.T) {
	jc := JsonConfig{S3Bucket: "from-json"}
	data, err := json.Marshal(jc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"docsync", "-c", path, "-b", "from-flag"}

	cfg := LoadConfig()
	assert.Equal(t, "from-flag", cfg.S3Bucket)
}

func TestApplyJson_SparseFileKeepsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	applyJson(cfg, &JsonConfig{S3Region: "eu-west-1"})

	assert.Equal(t, "eu-west-1", cfg.S3Region)
	assert.Equal(t, "documents", cfg.S3Bucket)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
}
