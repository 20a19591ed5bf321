package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "./data_summary", cfg.SummaryDir)
	assert.Equal(t, "noaa-nam-conus-pressure-levels", cfg.DatasetID)
	assert.Equal(t, "https://nomads.ncep.noaa.gov", cfg.NOMADSBaseURL)
	assert.Equal(t, 30*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 300*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 6*time.Hour, cfg.UpdateInterval)
	assert.Equal(t, 24, cfg.RetentionMaxAgeHours)
	assert.True(t, cfg.RetentionKeepLatestOnly)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("DATA_DIR", "/var/lib/namzarr/data")
	t.Setenv("NOMADS_BASE_URL", "http://localhost:9999")
	t.Setenv("PROBE_TIMEOUT", "5s")
	t.Setenv("DOWNLOAD_TIMEOUT", "1m")
	t.Setenv("UPDATE_INTERVAL", "30m")
	t.Setenv("RETENTION_MAX_AGE_HOURS", "48")
	t.Setenv("RETENTION_KEEP_LATEST_ONLY", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "/var/lib/namzarr/data", cfg.DataDir)
	assert.Equal(t, "http://localhost:9999", cfg.NOMADSBaseURL)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, time.Minute, cfg.DownloadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.UpdateInterval)
	assert.Equal(t, 48, cfg.RetentionMaxAgeHours)
	assert.False(t, cfg.RetentionKeepLatestOnly)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantMsg string
	}{
		{"malformed probe timeout", "PROBE_TIMEOUT", "soon", "PROBE_TIMEOUT"},
		{"negative download timeout", "DOWNLOAD_TIMEOUT", "-10s", "DOWNLOAD_TIMEOUT"},
		{"zero update interval", "UPDATE_INTERVAL", "0s", "UPDATE_INTERVAL"},
		{"malformed shutdown timeout", "SHUTDOWN_TIMEOUT", "later", "SHUTDOWN_TIMEOUT"},
		{"zero retention age", "RETENTION_MAX_AGE_HOURS", "0", "RETENTION_MAX_AGE_HOURS"},
		{"non-numeric retention age", "RETENTION_MAX_AGE_HOURS", "day", "RETENTION_MAX_AGE_HOURS"},
		{"bogus keep-latest flag", "RETENTION_KEEP_LATEST_ONLY", "maybe", "RETENTION_KEEP_LATEST_ONLY"},
		{"unsupported log format", "LOG_FORMAT", "xml", "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
