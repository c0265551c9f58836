package mainthread

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-mainthread/core"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mainthread.yaml")
	data := []byte(`
workers: 8
synchronous: true
max_flatten_steps: 250
tick_interval: 5ms
metrics_namespace: game
report_faults: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.True(t, cfg.Synchronous)
	assert.Equal(t, 250, cfg.MaxFlattenSteps)
	assert.Equal(t, 5*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, "game", cfg.MetricsNamespace)
	assert.True(t, cfg.ReportFaults)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("workers: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, core.DefaultMaxSteps, cfg.MaxFlattenSteps)
	assert.Equal(t, core.DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, "mainthread", cfg.MetricsNamespace)

	empty, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), empty)
}

func TestParseConfig_RejectsUnknownFields(t *testing.T) {
	_, err := ParseConfig([]byte("worker: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseConfig_RejectsNegativeValues(t *testing.T) {
	_, err := ParseConfig([]byte("max_flatten_steps: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_flatten_steps")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_DispatcherConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synchronous = true
	cfg.MaxFlattenSteps = 42

	dc := cfg.DispatcherConfig()
	assert.True(t, dc.Synchronous)
	assert.Equal(t, 42, dc.MaxFlattenSteps)
}
