// Package pipeline orchestrates one operational update: locate the most
// recent published forecast cycle, download its GRIB2 files, and convert
// them into the dataset's array store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
)

// ErrNoFiles is returned when every forecast hour of the located cycle
// failed to download.
var ErrNoFiles = errors.New("no GRIB files downloaded")

// Locator finds the most recent published forecast cycle.
type Locator interface {
	LocateLatestCycle(ctx context.Context, ds *domain.Dataset) (domain.Cycle, error)
}

// Fetcher downloads one forecast hour of a cycle to a local file.
type Fetcher interface {
	DownloadFile(ctx context.Context, ds *domain.Dataset, cycle domain.Cycle, hour int, dest string) (int64, error)
}

// Converter turns a cycle's downloaded files into the dataset's store.
type Converter interface {
	Convert(ctx context.Context, ds *domain.Dataset, files []string, storePath string, appendMode bool) error
}

// HourResult records the outcome of one forecast hour's download.
type HourResult struct {
	Hour  int
	Bytes int64
	Err   error
}

// UpdateReport aggregates the per-hour outcomes of one update run.
type UpdateReport struct {
	Cycle      domain.Cycle
	Hours      []HourResult
	Downloaded int
	StorePath  string
	Appended   bool
	FinishedAt time.Time
}

// Failed returns the hour results that carry an error.
func (r *UpdateReport) Failed() []HourResult {
	var out []HourResult
	for _, h := range r.Hours {
		if h.Err != nil {
			out = append(out, h)
		}
	}
	return out
}

// Pipeline wires the locate, download, and convert stages together.
type Pipeline struct {
	locator   Locator
	fetcher   Fetcher
	converter Converter
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	last      atomic.Pointer[UpdateReport]
}

// New creates a Pipeline with the given stages and observability.
func New(l Locator, f Fetcher, c Converter, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		locator:   l,
		fetcher:   f,
		converter: c,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once at least one update run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no update run has completed yet")
	}
	return nil
}

// LastReport returns the report of the most recent successful update run,
// or nil before the first one completes.
func (p *Pipeline) LastReport() *UpdateReport {
	return p.last.Load()
}

// Update runs one full locate, download, convert sequence for the dataset,
// writing the store under dataDir. Failed hours are skipped; the run fails
// only when no hour downloads or the conversion itself fails. The report is
// returned even on failure, covering whatever stages completed.
func (p *Pipeline) Update(ctx context.Context, ds *domain.Dataset, dataDir string, appendMode bool) (*UpdateReport, error) {
	p.metrics.UpdateRunning.Set(1)
	defer p.metrics.UpdateRunning.Set(0)

	report := &UpdateReport{Appended: appendMode}

	cycle, err := p.locator.LocateLatestCycle(ctx, ds)
	if err != nil {
		return report, err
	}
	report.Cycle = cycle

	tmpDir, err := os.MkdirTemp("", "nam-download-*")
	if err != nil {
		return report, fmt.Errorf("create download dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	files := p.downloadHours(ctx, ds, cycle, tmpDir, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(files) == 0 {
		return report, ErrNoFiles
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return report, fmt.Errorf("create data dir: %w", err)
	}
	report.StorePath = filepath.Join(dataDir, ds.StoreName)

	if err := p.converter.Convert(ctx, ds, files, report.StorePath, appendMode); err != nil {
		return report, fmt.Errorf("convert cycle %s: %w", cycle.String(), err)
	}

	report.FinishedAt = domain.Now()
	p.ready.Store(true)
	p.last.Store(report)
	p.metrics.LastUpdateUnix.Set(float64(report.FinishedAt.Unix()))
	p.logger.Info("update complete",
		"cycle", cycle.String(),
		"downloaded", report.Downloaded,
		"failed_hours", len(report.Failed()),
		"store", report.StorePath,
		"append", appendMode,
	)
	return report, nil
}

// downloadHours fetches every forecast hour of the cycle into dir, logging
// and skipping failures. Returns the paths that downloaded successfully.
func (p *Pipeline) downloadHours(ctx context.Context, ds *domain.Dataset, cycle domain.Cycle, dir string, report *UpdateReport) []string {
	var files []string
	for _, hour := range ds.ForecastHours {
		if ctx.Err() != nil {
			return files
		}
		dest := filepath.Join(dir, fmt.Sprintf("nam_f%03d.grib2", hour))
		n, err := p.fetcher.DownloadFile(ctx, ds, cycle, hour, dest)
		if err != nil {
			p.logger.Warn("download failed, skipping hour",
				"cycle", cycle.String(), "hour", hour, "error", err)
			report.Hours = append(report.Hours, HourResult{Hour: hour, Err: err})
			continue
		}
		report.Hours = append(report.Hours, HourResult{Hour: hour, Bytes: n})
		report.Downloaded++
		files = append(files, dest)
	}
	return files
}
