// Package retention maintains the rolling storage window: it rewrites each
// store to hold only the forecast runs a policy keeps, dropping the rest.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
	"github.com/overcastlabs/nam-zarr-etl/internal/zarr"
)

// Policy selects which init_time entries a store keeps. KeepLatestOnly wins
// over the age window when both are set.
type Policy struct {
	MaxAgeHours    int
	KeepLatestOnly bool
}

// StoreResult is the outcome of applying the policy to one store.
type StoreResult struct {
	Store     string
	Kept      int
	Dropped   int
	Rewritten bool
	Skipped   bool
	Err       error
}

// Report aggregates per-store outcomes of one retention run.
type Report struct {
	Results []StoreResult
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []StoreResult {
	var out []StoreResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Manager applies retention policies across a data directory.
type Manager struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{logger: logger, metrics: metrics}
}

// Apply runs the policy over every *.zarr store under dataDir. Errors on one
// store are recorded and the next store processed.
func (m *Manager) Apply(ctx context.Context, dataDir string, policy Policy) (*Report, error) {
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

		res := m.applyToStore(path, policy)
		report.Results = append(report.Results, res)

		switch {
		case res.Err != nil:
			m.logger.Error("retention failed for store, continuing",
				"store", res.Store, "error", res.Err)
		case res.Rewritten:
			m.metrics.RetentionStoresRewritten.Inc()
			m.metrics.RetentionRunsDropped.Add(float64(res.Dropped))
			m.logger.Info("store rewritten",
				"store", res.Store, "kept", res.Kept, "dropped", res.Dropped)
		case res.Skipped:
			// already logged with its reason
		default:
			m.logger.Info("no cleanup needed", "store", res.Store)
		}
	}
	return report, nil
}

func (m *Manager) applyToStore(path string, policy Policy) StoreResult {
	res := StoreResult{Store: filepath.Base(path)}

	store, err := zarr.Open(path)
	if err != nil {
		res.Err = fmt.Errorf("open store: %w", err)
		return res
	}

	initArr, err := store.Array("init_time")
	if err != nil {
		m.logger.Warn("store has no init_time axis, skipping", "store", res.Store)
		res.Skipped = true
		return res
	}
	minutes, err := initArr.ReadInt64()
	if err != nil {
		res.Err = fmt.Errorf("read init_time: %w", err)
		return res
	}

	keep := selectKeep(minutes, policy, domain.Now())
	res.Kept = len(keep)
	res.Dropped = len(minutes) - len(keep)

	if len(keep) == len(minutes) {
		return res
	}
	if len(keep) == 0 {
		m.logger.Warn("policy would drop every entry, skipping",
			"store", res.Store, "entries", len(minutes))
		res.Skipped = true
		res.Kept = len(minutes)
		res.Dropped = 0
		return res
	}

	if err := m.rewriteStore(store, path, keep); err != nil {
		res.Err = err
		return res
	}
	res.Rewritten = true
	return res
}

// selectKeep returns the ascending indices of entries the policy retains.
// minutes holds init times as minutes since the epoch; comparisons are
// timezone-naive, with both sides in UTC.
func selectKeep(minutes []int64, policy Policy, now time.Time) []int {
	var keep []int
	if policy.KeepLatestOnly {
		var latest int64
		for i, v := range minutes {
			if i == 0 || v > latest {
				latest = v
			}
		}
		for i, v := range minutes {
			if v == latest {
				keep = append(keep, i)
			}
		}
		return keep
	}

	cutoff := now.UTC().Add(-time.Duration(policy.MaxAgeHours) * time.Hour).Unix() / 60
	for i, v := range minutes {
		if v >= cutoff {
			keep = append(keep, i)
		}
	}
	return keep
}

// rewriteStore writes the kept subset to <path>.tmp, then swaps it in. The
// original is renamed aside before the replacement lands, so a crash at any
// point leaves a complete store under either the live or the .old path.
func (m *Manager) rewriteStore(src *zarr.Store, path string, keep []int) error {
	tmpPath := path + ".tmp"
	if err := os.RemoveAll(tmpPath); err != nil {
		return fmt.Errorf("remove stale tmp store: %w", err)
	}

	if err := m.writeSubset(src, tmpPath, keep); err != nil {
		return err
	}

	oldPath := path + ".old"
	if err := os.RemoveAll(oldPath); err != nil {
		return fmt.Errorf("remove stale old store: %w", err)
	}
	if err := os.Rename(path, oldPath); err != nil {
		return fmt.Errorf("move original aside: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		// Put the original back so the live path stays usable.
		if rerr := os.Rename(oldPath, path); rerr != nil {
			m.logger.Error("could not restore original store",
				"store", filepath.Base(path), "error", rerr)
		}
		return fmt.Errorf("move replacement into place: %w", err)
	}
	if err := os.RemoveAll(oldPath); err != nil {
		m.logger.Warn("could not remove old store copy",
			"store", filepath.Base(path), "error", err)
	}
	return nil
}

// writeSubset materializes a copy of src at dstPath holding only the keep
// indices of every init_time-led array. Chunk payloads are copied as-is,
// without recompression.
func (m *Manager) writeSubset(src *zarr.Store, dstPath string, keep []int) error {
	dst, err := zarr.Create(dstPath, src.Attrs())
	if err != nil {
		return fmt.Errorf("create replacement store: %w", err)
	}

	names, err := src.ArrayNames()
	if err != nil {
		return fmt.Errorf("list arrays: %w", err)
	}
	for _, name := range names {
		arr, err := src.Array(name)
		if err != nil {
			return fmt.Errorf("open array %s: %w", name, err)
		}
		dims := arr.Dimensions()
		if len(dims) == 0 {
			return fmt.Errorf("array %s has no dimension attributes", name)
		}

		if dims[0] == "init_time" {
			if err := copySubsetArray(dst, arr, keep); err != nil {
				return fmt.Errorf("subset array %s: %w", name, err)
			}
			continue
		}
		if err := copyStaticArray(dst, arr); err != nil {
			return fmt.Errorf("copy array %s: %w", name, err)
		}
	}

	if err := dst.Consolidate(); err != nil {
		return fmt.Errorf("consolidate replacement store: %w", err)
	}
	return nil
}

func copySubsetArray(dst *zarr.Store, src *zarr.Array, keep []int) error {
	meta := src.Meta
	meta.Shape = append([]int(nil), src.Meta.Shape...)
	meta.Chunks = append([]int(nil), src.Meta.Chunks...)
	meta.Shape[0] = len(keep)

	out, err := dst.CreateArray(src.Name, meta, src.Attrs)
	if err != nil {
		return err
	}
	for di, si := range keep {
		if err := zarr.CopyAxis0Entry(out, src, di, si); err != nil {
			return err
		}
	}
	return nil
}

func copyStaticArray(dst *zarr.Store, src *zarr.Array) error {
	out, err := dst.CreateArray(src.Name, src.Meta, src.Attrs)
	if err != nil {
		return err
	}
	switch src.Meta.DType {
	case "<f4":
		vals, err := src.ReadFloat32()
		if err != nil {
			return err
		}
		return out.WriteFloat32(vals)
	case "<f8":
		vals, err := src.ReadFloat64()
		if err != nil {
			return err
		}
		return out.WriteFloat64(vals)
	case "<i8":
		vals, err := src.ReadInt64()
		if err != nil {
			return err
		}
		return out.WriteInt64(vals)
	default:
		return fmt.Errorf("unsupported dtype %q", src.Meta.DType)
	}
}
