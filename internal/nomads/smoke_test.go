//go:build nomads

package nomads

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
)

// These tests hit the real NOMADS service and download live data.
// Run with: go test -tags=nomads ./internal/nomads/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	return &Client{
		baseURL:        "https://nomads.ncep.noaa.gov",
		probeClient:    &http.Client{Timeout: 30 * time.Second},
		downloadClient: &http.Client{Timeout: 300 * time.Second},
		metrics:        observability.NewMetricsForTesting(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSmoke_LocateLatestCycle(t *testing.T) {
	c := smokeClient(t)
	ds, err := domain.LookupDataset(domain.DefaultDatasetID)
	require.NoError(t, err)

	cycle, err := c.LocateLatestCycle(context.Background(), ds)
	require.NoError(t, err)

	assert.Contains(t, []int{0, 6, 12, 18}, cycle.Init.Hour())
	assert.WithinDuration(t, time.Now().UTC(), cycle.Init, 28*time.Hour)
}

func TestSmoke_DownloadFile(t *testing.T) {
	c := smokeClient(t)
	ds, err := domain.LookupDataset(domain.DefaultDatasetID)
	require.NoError(t, err)

	cycle, err := c.LocateLatestCycle(context.Background(), ds)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "nam_f000.grib2")
	n, err := c.DownloadFile(context.Background(), ds, cycle, 0, dest)
	require.NoError(t, err)
	assert.Greater(t, n, int64(1<<20), "a 21-level 7-variable subset should be over a megabyte")
}
