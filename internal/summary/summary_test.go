package summary

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/zarr"
)

func newTestGenerator() *Generator {
	return NewGenerator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(at))
	t.Cleanup(func() { domain.SetClock(nil) })
}

// makeStore writes a consolidated store with a TMP variable over
// (init_time, time) plus both coordinate arrays.
func makeStore(t *testing.T, dir, name string, initMinutes []int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	store, err := zarr.Create(path, map[string]any{
		"title":       "NAM test store",
		"description": "fixture for summary tests",
	})
	require.NoError(t, err)

	n := len(initMinutes)
	tmp, err := store.CreateArray("TMP", zarr.ArrayMeta{
		Shape:      []int{n, 3},
		Chunks:     []int{1, 3},
		DType:      "<f4",
		Compressor: &zarr.Compressor{ID: "zstd", Level: 3},
		FillValue:  "NaN",
		Order:      "C",
		ZarrFormat: zarr.Format,
	}, map[string]any{zarr.DimensionsAttr: []string{"init_time", "time"}})
	require.NoError(t, err)
	vals := make([]float32, n*3)
	for i := range vals {
		vals[i] = float32(i)
	}
	require.NoError(t, tmp.WriteFloat32(vals))

	initArr, err := store.CreateArray("init_time", zarr.ArrayMeta{
		Shape:      []int{n},
		Chunks:     []int{1},
		DType:      "<i8",
		Compressor: &zarr.Compressor{ID: "zstd", Level: 3},
		Order:      "C",
		ZarrFormat: zarr.Format,
	}, map[string]any{zarr.DimensionsAttr: []string{"init_time"}})
	require.NoError(t, err)
	require.NoError(t, initArr.WriteInt64(initMinutes))

	timeArr, err := store.CreateArray("time", zarr.ArrayMeta{
		Shape:      []int{3},
		Chunks:     []int{3},
		DType:      "<i8",
		Compressor: &zarr.Compressor{ID: "zstd", Level: 3},
		Order:      "C",
		ZarrFormat: zarr.Format,
	}, map[string]any{zarr.DimensionsAttr: []string{"time"}})
	require.NoError(t, err)
	require.NoError(t, timeArr.WriteInt64([]int64{0, 1, 2}))

	require.NoError(t, store.Consolidate())
	return path
}

func TestWrite_RendersStore(t *testing.T) {
	freezeClock(t, time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC))
	dataDir := t.TempDir()
	summaryDir := filepath.Join(t.TempDir(), "data_summary")

	cycle := time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)
	makeStore(t, dataDir, "nam_conus_pressure_levels.zarr", []int64{cycle.Unix() / 60})

	outPath, err := newTestGenerator().Write(context.Background(), dataDir, summaryDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(summaryDir, "summary.md"), outPath)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	got := string(raw)

	assert.True(t, strings.HasPrefix(got,
		"# NAM Pressure Levels Data Summary\n\nGenerated: 2026-08-22 12:00:00 UTC\n\n## Available Datasets\n"))
	assert.Contains(t, got, "\n### nam_conus_pressure_levels\n")
	assert.Contains(t, got, "\n**Title:** NAM test store\n")
	assert.Contains(t, got, "\n**Description:** fixture for summary tests\n")
	assert.Contains(t, got, "\n**Dimensions:**\n- init_time: 1\n- time: 3\n")
	assert.Contains(t, got, "\n**Variables:**\n- TMP\n")
	assert.Contains(t, got, "\n**Latest Forecast:** 2026-08-22T06:00:00Z\n")
	assert.Contains(t, got, "\n**Storage Size:** ")
}

func TestWrite_LatestForecastIsLastEntry(t *testing.T) {
	freezeClock(t, time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC))
	dataDir := t.TempDir()

	t0 := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)
	makeStore(t, dataDir, "nam.zarr", []int64{t0.Unix() / 60, t1.Unix() / 60})

	outPath, err := newTestGenerator().Write(context.Background(), dataDir, t.TempDir())
	require.NoError(t, err)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "**Latest Forecast:** 2026-08-22T06:00:00Z")
	assert.Contains(t, string(raw), "- init_time: 2\n")
}

func TestWrite_OrdersStoresByName(t *testing.T) {
	freezeClock(t, time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC))
	dataDir := t.TempDir()
	cycle := time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)
	makeStore(t, dataDir, "bbb.zarr", []int64{cycle.Unix() / 60})
	makeStore(t, dataDir, "aaa.zarr", []int64{cycle.Unix() / 60})

	outPath, err := newTestGenerator().Write(context.Background(), dataDir, t.TempDir())
	require.NoError(t, err)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	got := string(raw)
	assert.Less(t, strings.Index(got, "### aaa"), strings.Index(got, "### bbb"))
}

func TestWrite_SkipsUnreadableStore(t *testing.T) {
	freezeClock(t, time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC))
	dataDir := t.TempDir()

	broken := filepath.Join(dataDir, "broken.zarr")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, ".zgroup"), []byte("not json"), 0o644))

	cycle := time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)
	makeStore(t, dataDir, "good.zarr", []int64{cycle.Unix() / 60})

	outPath, err := newTestGenerator().Write(context.Background(), dataDir, t.TempDir())
	require.NoError(t, err)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	got := string(raw)
	assert.Contains(t, got, "### good")
	assert.NotContains(t, got, "### broken")
}

func TestWrite_NoStores(t *testing.T) {
	freezeClock(t, time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC))

	outPath, err := newTestGenerator().Write(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t,
		"# NAM Pressure Levels Data Summary\n\nGenerated: 2026-08-22 12:00:00 UTC\n\n## Available Datasets\n",
		string(raw))
}

func TestFormatSize(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{0, "0.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 << 20, "5.00 MB"},
		{3 << 30, "3.00 GB"},
		{1 << 40, "1.00 TB"},
		{1 << 50, "1.00 PB"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatSize(tc.bytes), "bytes=%d", tc.bytes)
	}
}
