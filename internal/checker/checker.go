// Package checker detects corrupted or partially-written stores by comparing
// the init_time length the consolidated metadata declares against the chunk
// files actually on disk. An interrupted append leaves the two out of step.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
	"github.com/overcastlabs/nam-zarr-etl/internal/zarr"
)

// Outcome classifies the state of one checked store.
type Outcome string

const (
	// OutcomeOK means declared and actual init_time lengths agree.
	OutcomeOK Outcome = "ok"
	// OutcomeMismatch means the lengths disagree; the store was moved to a
	// .backup path.
	OutcomeMismatch Outcome = "mismatch"
	// OutcomeUnreadable means the store could not be opened or read; it was
	// deleted with no backup.
	OutcomeUnreadable Outcome = "unreadable"
	// OutcomeNoAxis means the store has no init_time axis; it was left
	// untouched.
	OutcomeNoAxis Outcome = "no_axis"
)

// StoreResult is the outcome of checking one store.
type StoreResult struct {
	Store    string
	Declared int
	Actual   int
	Outcome  Outcome
	Err      error
}

// Report aggregates per-store outcomes of one check run.
type Report struct {
	Results []StoreResult
}

// Checker verifies store consistency and quarantines or removes failures.
type Checker struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewChecker creates a Checker.
func NewChecker(logger *slog.Logger, metrics *observability.Metrics) *Checker {
	return &Checker{logger: logger, metrics: metrics}
}

// CheckAll examines every *.zarr store under dataDir. A mismatched store is
// moved aside to <name>.zarr.backup, overwriting any prior backup; an
// unreadable store is deleted. Problems with one store never stop the batch.
func (c *Checker) CheckAll(ctx context.Context, dataDir string) (*Report, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "*.zarr"))
	if err != nil {
		return nil, fmt.Errorf("scan data dir: %w", err)
	}
	sort.Strings(paths)

	report := &Report{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		res := c.checkStore(path)
		report.Results = append(report.Results, res)
		c.metrics.StoreChecks.WithLabelValues(string(res.Outcome)).Inc()
	}
	return report, nil
}

func (c *Checker) checkStore(path string) StoreResult {
	res := StoreResult{Store: filepath.Base(path)}

	declared, actual, err := c.measure(path)
	if err != nil {
		res.Outcome = OutcomeUnreadable
		res.Err = err
		c.logger.Error("store unreadable, removing", "store", res.Store, "error", err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			c.logger.Error("could not remove store", "store", res.Store, "error", rmErr)
		}
		return res
	}
	if declared < 0 {
		res.Outcome = OutcomeNoAxis
		c.logger.Warn("store has no init_time axis", "store", res.Store)
		return res
	}

	res.Declared = declared
	res.Actual = actual
	if declared != actual {
		res.Outcome = OutcomeMismatch
		c.logger.Warn("init_time length mismatch, backing up store",
			"store", res.Store, "declared", declared, "actual", actual)
		if err := c.backupStore(path); err != nil {
			res.Err = err
			c.logger.Error("could not back up store", "store", res.Store, "error", err)
		}
		return res
	}

	res.Outcome = OutcomeOK
	c.metrics.StoreInitEntries.Set(float64(actual))
	c.logger.Info("store dimensions ok", "store", res.Store, "init_entries", actual)
	return res
}

// measure returns the declared and actual init_time lengths. A declared
// length of -1 means the store has no init_time axis. Any error means the
// store could not be trusted at all.
func (c *Checker) measure(path string) (declared, actual int, err error) {
	store, err := zarr.Open(path)
	if err != nil {
		return 0, 0, err
	}
	if !store.HasConsolidated() {
		return 0, 0, fmt.Errorf("store has no consolidated metadata")
	}

	declaredMeta, err := store.DeclaredArrayMeta("init_time")
	if err != nil {
		return -1, 0, nil
	}
	declared = declaredMeta.Shape[0]

	arr, err := store.Array("init_time")
	if err != nil {
		return 0, 0, fmt.Errorf("open init_time: %w", err)
	}
	actual, err = arr.StoredLenAxis0()
	if err != nil {
		return 0, 0, fmt.Errorf("count init_time entries: %w", err)
	}
	return declared, actual, nil
}

// backupStore moves the store to <name>.backup, replacing any prior backup.
func (c *Checker) backupStore(path string) error {
	backup := path + ".backup"
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("remove prior backup: %w", err)
	}
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("move store to backup: %w", err)
	}
	c.logger.Info("store backed up", "backup", filepath.Base(backup))
	return nil
}
