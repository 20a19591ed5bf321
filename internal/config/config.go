package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	LogLevel  string
	LogFormat string

	DataDir    string
	SummaryDir string
	DatasetID  string

	NOMADSBaseURL   string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration

	UpdateInterval          time.Duration
	RetentionMaxAgeHours    int
	RetentionKeepLatestOnly bool

	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is merged first when present.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may already be fully set.
	_ = godotenv.Load()

	probeTimeout, err := parseDuration("PROBE_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	downloadTimeout, err := parseDuration("DOWNLOAD_TIMEOUT", "300s")
	if err != nil {
		return nil, err
	}

	updateInterval, err := parseDuration("UPDATE_INTERVAL", "6h")
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	maxAgeHours, err := parseInt("RETENTION_MAX_AGE_HOURS", 24)
	if err != nil {
		return nil, err
	}

	keepLatestOnly, err := parseBool("RETENTION_KEEP_LATEST_ONLY", true)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),

		DataDir:    envOrDefault("DATA_DIR", "./data"),
		SummaryDir: envOrDefault("SUMMARY_DIR", "./data_summary"),
		DatasetID:  envOrDefault("DATASET_ID", "noaa-nam-conus-pressure-levels"),

		NOMADSBaseURL:   envOrDefault("NOMADS_BASE_URL", "https://nomads.ncep.noaa.gov"),
		ProbeTimeout:    probeTimeout,
		DownloadTimeout: downloadTimeout,

		UpdateInterval:          updateInterval,
		RetentionMaxAgeHours:    maxAgeHours,
		RetentionKeepLatestOnly: keepLatestOnly,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: must be json or text", cfg.LogFormat)
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.SummaryDir == "" {
		return nil, errors.New("SUMMARY_DIR is required")
	}
	if cfg.NOMADSBaseURL == "" {
		return nil, errors.New("NOMADS_BASE_URL is required")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be a boolean", key)
	}
	return b, nil
}
