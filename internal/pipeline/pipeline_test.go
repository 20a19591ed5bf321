package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
	"github.com/overcastlabs/nam-zarr-etl/internal/pipeline"
)

// --- mocks ---

type mockLocator struct {
	cycle domain.Cycle
	err   error
	calls int
}

func (m *mockLocator) LocateLatestCycle(_ context.Context, _ *domain.Dataset) (domain.Cycle, error) {
	m.calls++
	if m.err != nil {
		return domain.Cycle{}, m.err
	}
	return m.cycle, nil
}

type mockFetcher struct {
	failHours map[int]bool
	dests     []string
}

func (m *mockFetcher) DownloadFile(_ context.Context, _ *domain.Dataset, _ domain.Cycle, hour int, dest string) (int64, error) {
	if m.failHours[hour] {
		return 0, errors.New("connection reset")
	}
	m.dests = append(m.dests, dest)
	return 1024, nil
}

type mockConverter struct {
	err    error
	calls  int
	files  []string
	store  string
	append bool
}

func (m *mockConverter) Convert(_ context.Context, _ *domain.Dataset, files []string, storePath string, appendMode bool) error {
	m.calls++
	m.files = files
	m.store = storePath
	m.append = appendMode
	return m.err
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func smallDataset() *domain.Dataset {
	return &domain.Dataset{
		ID:            "test-dataset",
		StoreName:     "test_dataset.zarr",
		ForecastHours: []int{0, 1, 2, 3},
	}
}

func testCycle() domain.Cycle {
	return domain.Cycle{Init: time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)}
}

// --- tests ---

func TestPipeline_Update_HappyPath(t *testing.T) {
	loc := &mockLocator{cycle: testCycle()}
	fch := &mockFetcher{}
	cnv := &mockConverter{}

	p := pipeline.New(loc, fch, cnv, slog.Default(), newTestMetrics())

	dataDir := t.TempDir()
	report, err := p.Update(context.Background(), smallDataset(), dataDir, false)
	require.NoError(t, err)

	assert.Equal(t, testCycle(), report.Cycle)
	assert.Equal(t, 4, report.Downloaded)
	assert.Empty(t, report.Failed())
	assert.Equal(t, filepath.Join(dataDir, "test_dataset.zarr"), report.StorePath)

	assert.Equal(t, 1, cnv.calls)
	assert.Len(t, cnv.files, 4)
	assert.Equal(t, report.StorePath, cnv.store)
	assert.False(t, cnv.append)
	assert.Contains(t, cnv.files[3], "nam_f003.grib2")

	assert.NoError(t, p.CheckReadiness(context.Background()))

	last := p.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, report.Cycle, last.Cycle)
	assert.False(t, last.FinishedAt.IsZero())
}

func TestPipeline_Update_NoCycleFound(t *testing.T) {
	loc := &mockLocator{err: errors.New("could not find available NAM cycle")}
	cnv := &mockConverter{}

	p := pipeline.New(loc, &mockFetcher{}, cnv, slog.Default(), newTestMetrics())

	_, err := p.Update(context.Background(), smallDataset(), t.TempDir(), false)
	require.Error(t, err)
	assert.Equal(t, loc.err, err)
	assert.Zero(t, cnv.calls)
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.Nil(t, p.LastReport())
}

func TestPipeline_Update_SkipsFailedHours(t *testing.T) {
	loc := &mockLocator{cycle: testCycle()}
	fch := &mockFetcher{failHours: map[int]bool{1: true, 3: true}}
	cnv := &mockConverter{}

	p := pipeline.New(loc, fch, cnv, slog.Default(), newTestMetrics())

	report, err := p.Update(context.Background(), smallDataset(), t.TempDir(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Downloaded)

	type hourSummary struct {
		Hour   int
		Bytes  int64
		Failed bool
	}
	var actual []hourSummary
	for _, h := range report.Hours {
		actual = append(actual, hourSummary{Hour: h.Hour, Bytes: h.Bytes, Failed: h.Err != nil})
	}
	expected := []hourSummary{
		{Hour: 0, Bytes: 1024},
		{Hour: 1, Failed: true},
		{Hour: 2, Bytes: 1024},
		{Hour: 3, Failed: true},
	}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Fatalf("hour results mismatch (-want +got):\n%s", diff)
	}

	// The converter only sees the hours that made it to disk.
	assert.Len(t, cnv.files, 2)
	assert.Contains(t, cnv.files[0], "nam_f000.grib2")
	assert.Contains(t, cnv.files[1], "nam_f002.grib2")
}

func TestPipeline_Update_AllDownloadsFail(t *testing.T) {
	loc := &mockLocator{cycle: testCycle()}
	fch := &mockFetcher{failHours: map[int]bool{0: true, 1: true, 2: true, 3: true}}
	cnv := &mockConverter{}

	p := pipeline.New(loc, fch, cnv, slog.Default(), newTestMetrics())

	report, err := p.Update(context.Background(), smallDataset(), t.TempDir(), false)
	assert.ErrorIs(t, err, pipeline.ErrNoFiles)
	assert.Zero(t, report.Downloaded)
	assert.Zero(t, cnv.calls)
}

func TestPipeline_Update_ConvertError(t *testing.T) {
	sentinel := errors.New("store is wedged")
	loc := &mockLocator{cycle: testCycle()}
	cnv := &mockConverter{err: sentinel}

	p := pipeline.New(loc, &mockFetcher{}, cnv, slog.Default(), newTestMetrics())

	_, err := p.Update(context.Background(), smallDataset(), t.TempDir(), false)
	assert.ErrorIs(t, err, sentinel)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Update_AppendFlagReachesConverter(t *testing.T) {
	loc := &mockLocator{cycle: testCycle()}
	cnv := &mockConverter{}

	p := pipeline.New(loc, &mockFetcher{}, cnv, slog.Default(), newTestMetrics())

	report, err := p.Update(context.Background(), smallDataset(), t.TempDir(), true)
	require.NoError(t, err)
	assert.True(t, report.Appended)
	assert.True(t, cnv.append)
}

func TestPipeline_Update_CancelledContext(t *testing.T) {
	loc := &mockLocator{cycle: testCycle()}
	cnv := &mockConverter{}

	p := pipeline.New(loc, &mockFetcher{}, cnv, slog.Default(), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Update(ctx, smallDataset(), t.TempDir(), false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, cnv.calls)
}
