// Package summary writes a human-readable Markdown inventory of the stores
// under the data directory.
package summary

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/zarr"
)

// Generator produces summary.md from the stores it finds.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logger}
}

// Write renders the inventory of every *.zarr store under dataDir to
// <summaryDir>/summary.md and returns the written path. Stores that cannot
// be read are left out with a warning.
func (g *Generator) Write(ctx context.Context, dataDir, summaryDir string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "*.zarr"))
	if err != nil {
		return "", fmt.Errorf("scan data dir: %w", err)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("# NAM Pressure Levels Data Summary\n")
	fmt.Fprintf(&b, "\nGenerated: %s\n", domain.Now().Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("\n## Available Datasets\n")

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		section, err := g.storeSection(path)
		if err != nil {
			g.logger.Warn("could not summarize store",
				"store", filepath.Base(path), "error", err)
			continue
		}
		b.WriteString(section)
	}

	if err := os.MkdirAll(summaryDir, 0o755); err != nil {
		return "", fmt.Errorf("create summary dir: %w", err)
	}
	outPath := filepath.Join(summaryDir, "summary.md")
	if err := os.WriteFile(outPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	g.logger.Info("summary written", "path", outPath)
	return outPath, nil
}

// storeSection renders one store's entry, or an error if any part of the
// store cannot be read, so partial sections never reach the output.
func (g *Generator) storeSection(path string) (string, error) {
	store, err := zarr.Open(path)
	if err != nil {
		return "", err
	}
	size, err := dirSize(path)
	if err != nil {
		return "", err
	}

	dims, vars, err := collectLayout(store)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	stem := strings.TrimSuffix(filepath.Base(path), ".zarr")
	fmt.Fprintf(&b, "\n### %s\n", stem)
	fmt.Fprintf(&b, "\n**Storage Size:** %s\n", formatSize(size))

	attrs := store.Attrs()
	if title, ok := attrs["title"].(string); ok {
		fmt.Fprintf(&b, "\n**Title:** %s\n", title)
	}
	if desc, ok := attrs["description"].(string); ok {
		fmt.Fprintf(&b, "\n**Description:** %s\n", desc)
	}

	b.WriteString("\n**Dimensions:**\n")
	for _, d := range dims {
		fmt.Fprintf(&b, "- %s: %d\n", d.name, d.size)
	}

	b.WriteString("\n**Variables:**\n")
	for _, v := range vars {
		fmt.Fprintf(&b, "- %s\n", v)
	}

	if hasDim(dims, "init_time") {
		latest, err := latestInitTime(store)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n**Latest Forecast:** %s\n", latest.Format(time.RFC3339))
	}
	return b.String(), nil
}

type dimension struct {
	name string
	size int
}

// collectLayout walks the store's arrays in name order, recording each
// dimension at first sight and separating data variables from coordinates.
// A 1-D array named after its own dimension is a coordinate.
func collectLayout(store *zarr.Store) ([]dimension, []string, error) {
	names, err := store.ArrayNames()
	if err != nil {
		return nil, nil, err
	}

	var dims []dimension
	seen := map[string]bool{}
	var vars []string
	for _, name := range names {
		arr, err := store.Array(name)
		if err != nil {
			return nil, nil, err
		}
		arrDims := arr.Dimensions()
		for i, d := range arrDims {
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			dims = append(dims, dimension{name: d, size: arr.Meta.Shape[i]})
		}
		if len(arrDims) == 1 && arrDims[0] == name {
			continue
		}
		vars = append(vars, name)
	}
	return dims, vars, nil
}

func hasDim(dims []dimension, name string) bool {
	for _, d := range dims {
		if d.name == name {
			return true
		}
	}
	return false
}

func latestInitTime(store *zarr.Store) (time.Time, error) {
	arr, err := store.Array("init_time")
	if err != nil {
		return time.Time{}, err
	}
	minutes, err := arr.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	if len(minutes) == 0 {
		return time.Time{}, fmt.Errorf("init_time axis is empty")
	}
	return time.Unix(minutes[len(minutes)-1]*60, 0).UTC(), nil
}

// formatSize renders a byte count with binary-unit steps and two decimals.
func formatSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
