// Package nomads talks to the NOAA NOMADS endpoints the pipeline depends on:
// the prod directory listing used to probe cycle availability and the
// grib-filter CGI used to download subset GRIB2 files.
package nomads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
)

// ErrNoCycle is returned by LocateLatestCycle when no candidate cycle in the
// probe window has been published yet.
var ErrNoCycle = errors.New("could not find available NAM cycle")

// NAM output reaches NOMADS a few hours after the cycle's init time, so the
// search starts four hours back and gives up after a full day.
const (
	minHoursAgo = 4
	maxHoursAgo = 23
)

const gribMagic = "GRIB"

// Client is an HTTP client for NOMADS. Probes and downloads carry separate
// timeouts: a listing probe should answer fast, a grib-filter request streams
// a multi-megabyte subset.
type Client struct {
	baseURL        string
	probeClient    *http.Client
	downloadClient *http.Client
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// NewClient creates a NOMADS client. baseURL is the scheme and host only,
// without a trailing slash.
func NewClient(baseURL string, probeTimeout, downloadTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:        baseURL,
		probeClient:    &http.Client{Timeout: probeTimeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
		metrics:        metrics,
		logger:         logger,
	}
}

// ProbeCycle reports whether the prod directory for the cycle's date exists.
// Transport errors and non-200 statuses both mean "not published yet";
// there is nothing for the caller to branch on.
func (c *Client) ProbeCycle(ctx context.Context, cycle domain.Cycle) bool {
	u := fmt.Sprintf("%s/pub/data/nccf/com/nam/prod/nam.%s/", c.baseURL, cycle.DateString())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}

	c.metrics.CycleProbes.Inc()
	resp, err := c.probeClient.Do(req)
	if err != nil {
		c.logger.Debug("cycle probe failed", "cycle", cycle.String(), "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("cycle probe", "cycle", cycle.String(), "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK
}

// LocateLatestCycle walks back from four hours ago to a day ago, one hour at
// a time, and returns the first cycle whose prod directory answers. Several
// candidate hours collapse onto the same cycle, so the same directory may be
// probed more than once.
func (c *Client) LocateLatestCycle(ctx context.Context, ds *domain.Dataset) (domain.Cycle, error) {
	now := domain.Now()
	for hoursAgo := minHoursAgo; hoursAgo <= maxHoursAgo; hoursAgo++ {
		checkTime := now.Add(-time.Duration(hoursAgo) * time.Hour)
		cycle := domain.CycleFor(checkTime, ds.CycleHours)
		if c.ProbeCycle(ctx, cycle) {
			c.metrics.CyclesLocated.Inc()
			c.logger.Info("located forecast cycle", "cycle", cycle.String())
			return cycle, nil
		}
		if err := ctx.Err(); err != nil {
			return domain.Cycle{}, err
		}
	}
	return domain.Cycle{}, ErrNoCycle
}

// DownloadFile fetches one forecast hour of the cycle through the grib-filter
// CGI, subset to the dataset's pressure levels and variables, and writes it
// to dest. Returns the number of bytes written.
func (c *Client) DownloadFile(ctx context.Context, ds *domain.Dataset, cycle domain.Cycle, hour int, dest string) (int64, error) {
	u := c.filterURL(ds, cycle, hour)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		c.metrics.Downloads.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.Downloads.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.Downloads.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("grib filter: status %d: %s", resp.StatusCode, body)
	}

	// The filter CGI answers failed subsets with a 200 HTML error page, so
	// the status alone does not prove we got forecast data.
	if len(body) < len(gribMagic) || string(body[:len(gribMagic)]) != gribMagic {
		c.metrics.Downloads.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("response is not GRIB2 data (%d bytes)", len(body))
	}

	if err := os.WriteFile(dest, body, 0o644); err != nil {
		c.metrics.Downloads.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}

	c.metrics.Downloads.WithLabelValues("success").Inc()
	c.metrics.DownloadBytes.Add(float64(len(body)))
	c.metrics.DownloadDuration.Observe(time.Since(start).Seconds())

	c.logger.Debug("downloaded forecast file",
		"cycle", cycle.String(), "hour", hour, "bytes", len(body))
	return int64(len(body)), nil
}

func (c *Client) filterURL(ds *domain.Dataset, cycle domain.Cycle, hour int) string {
	params := url.Values{
		"file":      {fmt.Sprintf("nam.t%sz.awphys%02d.tm00.grib2", cycle.HourString(), hour)},
		"dir":       {"/nam." + cycle.DateString()},
		"subregion": {""},
		"leftlon":   {"0"},
		"rightlon":  {"360"},
		"toplat":    {"90"},
		"bottomlat": {"-90"},
	}
	for _, level := range ds.PressureLevels {
		params.Set(fmt.Sprintf("lev_%.0f_mb", level), "on")
	}
	for _, v := range ds.Variables {
		params.Set("var_"+v.Code, "on")
	}
	return c.baseURL + "/cgi-bin/filter_nam.pl?" + params.Encode()
}
