package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "go-export-service", cfg.AppName)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500, cfg.Export.BatchSize)
	assert.Equal(t, "./exports", cfg.Export.OutputDir)
	assert.Equal(t, 10*time.Minute, cfg.Export.JobTimeout)
	assert.Equal(t, "./data/records.db", cfg.Source.DBPath)
	assert.Equal(t, "./data/jobs.db", cfg.Store.DBPath)
	assert.Equal(t, 4, cfg.Worker.MaxWorkers)
	assert.Equal(t, 64, cfg.Worker.QueueSize)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	raw := `
app_name: exporter-test
server:
  port: 9999
export:
  batch_size: 25
  job_timeout: 90s
worker:
  max_workers: 2
notify:
  webhook_url: http://localhost:9000/hook
logger:
  level: debug
`
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(raw), 0o644))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	assert.Equal(t, "exporter-test", cfg.AppName)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 25, cfg.Export.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Export.JobTimeout)
	assert.Equal(t, 2, cfg.Worker.MaxWorkers)
	assert.Equal(t, "http://localhost:9000/hook", cfg.Notify.WebhookURL)
	assert.Equal(t, "debug", cfg.Logger.Level)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "./data/jobs.db", cfg.Store.DBPath)
	assert.Equal(t, 64, cfg.Worker.QueueSize)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
