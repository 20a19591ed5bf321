package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/grib"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
	"github.com/overcastlabs/nam-zarr-etl/internal/zarr"
)

// ErrNoValidFiles is returned when none of the downloaded files yields a
// usable forecast grid.
var ErrNoValidFiles = errors.New("no valid GRIB files to process")

// compressionLevel is the zstd level every array in the store is written at.
const compressionLevel = 3

var storeDims = []string{"init_time", "time", "level", "y", "x"}

// ZarrConverter implements Converter: it decodes GRIB2 files into a single
// in-memory cube per cycle and writes the cube to the dataset's store,
// either replacing the store or appending one init_time entry.
type ZarrConverter struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewConverter creates a ZarrConverter.
func NewConverter(logger *slog.Logger, metrics *observability.Metrics) *ZarrConverter {
	return &ZarrConverter{logger: logger, metrics: metrics}
}

// forecastCube holds one cycle of every variable, shaped
// [hours, levels, y, x] in C order. Slots no record lands in stay NaN.
type forecastCube struct {
	initTime time.Time
	data     map[string][]float32
	placed   int
}

func newForecastCube(ds *domain.Dataset) *forecastCube {
	n := ds.NumHours() * ds.NumLevels() * ds.GridHeight * ds.GridWidth
	nan := float32(math.NaN())
	data := make(map[string][]float32, len(ds.Variables))
	for _, v := range ds.Variables {
		slab := make([]float32, n)
		for i := range slab {
			slab[i] = nan
		}
		data[v.Code] = slab
	}
	return &forecastCube{data: data}
}

// Convert decodes files in ascending forecast-hour order and writes the
// assembled cube to storePath. Files that fail to decode are skipped; the
// conversion fails only when nothing usable remains.
func (z *ZarrConverter) Convert(ctx context.Context, ds *domain.Dataset, files []string, storePath string, appendMode bool) error {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	cube := newForecastCube(ds)
	for _, path := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := readGRIBFile(path)
		if err != nil {
			z.logger.Warn("skipping unreadable GRIB file",
				"file", filepath.Base(path), "error", err)
			continue
		}
		n := z.placeRecords(ds, cube, records)
		z.logger.Debug("decoded forecast file",
			"file", filepath.Base(path), "records_placed", n)
	}

	// A cube with no placed records has no init time to write; this covers
	// both all-files-unreadable and nothing-matching-the-axes.
	if cube.placed == 0 {
		z.metrics.Conversions.WithLabelValues("failure").Inc()
		return ErrNoValidFiles
	}

	// Appending to a store that does not exist yet is a fresh write.
	appending := appendMode && storeExists(storePath)

	var err error
	if appending {
		err = z.appendToStore(ds, cube, storePath)
	} else {
		err = z.writeFreshStore(ds, cube, storePath)
	}
	if err != nil {
		z.metrics.Conversions.WithLabelValues("failure").Inc()
		return err
	}

	z.metrics.Conversions.WithLabelValues("success").Inc()
	z.logger.Info("conversion complete",
		"store", storePath,
		"records", cube.placed,
		"init_time", cube.initTime.Format(time.RFC3339),
		"append", appending)
	return nil
}

// placeRecords copies one file's records into the cube, skipping anything
// that does not land on the dataset's axes.
func (z *ZarrConverter) placeRecords(ds *domain.Dataset, cube *forecastCube, records []grib.Record) int {
	gridSize := ds.GridHeight * ds.GridWidth
	placed := 0
	for _, rec := range records {
		if rec.SurfaceType != grib.SurfaceIsobaric {
			continue
		}
		code, ok := domain.VariableForParam(rec.Discipline, rec.Category, rec.Number)
		if !ok {
			continue
		}
		slab, ok := cube.data[code]
		if !ok {
			continue
		}
		hourIdx, ok := ds.HourIndex(rec.ForecastHour)
		if !ok {
			z.logger.Debug("record outside forecast range",
				"variable", code, "hour", rec.ForecastHour)
			continue
		}
		levelIdx, ok := ds.LevelIndex(rec.LevelHPa())
		if !ok {
			z.logger.Debug("record outside level set",
				"variable", code, "level_hpa", rec.LevelHPa())
			continue
		}
		if rec.Points != gridSize || len(rec.Values) != gridSize {
			z.logger.Warn("grid size mismatch, skipping record",
				"variable", code, "points", rec.Points, "values", len(rec.Values),
				"want", gridSize)
			continue
		}

		if cube.initTime.IsZero() {
			cube.initTime = rec.ReferenceTime
		}

		base := (hourIdx*ds.NumLevels() + levelIdx) * gridSize
		for i, v := range rec.Values {
			slab[base+i] = float32(v)
		}
		placed++
	}
	cube.placed += placed
	return placed
}

// writeFreshStore replaces whatever is at storePath with a new store holding
// the cube as its only init_time entry.
func (z *ZarrConverter) writeFreshStore(ds *domain.Dataset, cube *forecastCube, storePath string) error {
	if err := os.RemoveAll(storePath); err != nil {
		return fmt.Errorf("remove existing store: %w", err)
	}

	store, err := zarr.Create(storePath, storeAttrs(ds))
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	shape := []int{1, ds.NumHours(), ds.NumLevels(), ds.GridHeight, ds.GridWidth}
	chunks := []int{1, ds.NumHours(), ds.NumLevels(),
		spatialChunk(ds.GridHeight), spatialChunk(ds.GridWidth)}

	for _, v := range ds.Variables {
		meta := zarr.ArrayMeta{
			Chunks:     chunks,
			Compressor: &zarr.Compressor{ID: "zstd", Level: compressionLevel},
			DType:      "<f4",
			FillValue:  "NaN",
			Order:      "C",
			Shape:      shape,
			ZarrFormat: zarr.Format,
		}
		attrs := map[string]any{
			zarr.DimensionsAttr: storeDims,
			"long_name":         v.Description,
			"units":             v.Units,
		}
		arr, err := store.CreateArray(v.Code, meta, attrs)
		if err != nil {
			return fmt.Errorf("create array %s: %w", v.Code, err)
		}
		if err := arr.WriteFloat32(cube.data[v.Code]); err != nil {
			return fmt.Errorf("write array %s: %w", v.Code, err)
		}
	}

	if err := z.writeCoordinates(ds, cube, store); err != nil {
		return err
	}
	if err := store.Consolidate(); err != nil {
		return fmt.Errorf("consolidate store: %w", err)
	}
	return nil
}

func (z *ZarrConverter) writeCoordinates(ds *domain.Dataset, cube *forecastCube, store *zarr.Store) error {
	leads := make([]int64, ds.NumHours())
	for i, h := range ds.ForecastHours {
		leads[i] = int64(h)
	}
	rows := make([]int64, ds.GridHeight)
	for i := range rows {
		rows[i] = int64(i)
	}
	cols := make([]int64, ds.GridWidth)
	for i := range cols {
		cols[i] = int64(i)
	}

	if err := createInt64Coord(store, "init_time", []int64{epochMinutes(cube.initTime)}, map[string]any{
		zarr.DimensionsAttr: []string{"init_time"},
		"units":             "minutes since 1970-01-01",
		"calendar":          "proleptic_gregorian",
	}); err != nil {
		return err
	}
	if err := createInt64Coord(store, "time", leads, map[string]any{
		zarr.DimensionsAttr: []string{"time"},
		"units":             "hours",
		"long_name":         "forecast lead time",
	}); err != nil {
		return err
	}
	if err := createFloat64Coord(store, "level", ds.PressureLevels, map[string]any{
		zarr.DimensionsAttr: []string{"level"},
		"units":             "hPa",
		"long_name":         "pressure level",
	}); err != nil {
		return err
	}
	if err := createInt64Coord(store, "y", rows, map[string]any{
		zarr.DimensionsAttr: []string{"y"},
	}); err != nil {
		return err
	}
	return createInt64Coord(store, "x", cols, map[string]any{
		zarr.DimensionsAttr: []string{"x"},
	})
}

// appendToStore extends an existing store by one init_time entry. The
// store's attributes, including its created stamp, are left as written.
func (z *ZarrConverter) appendToStore(ds *domain.Dataset, cube *forecastCube, storePath string) error {
	store, err := zarr.Open(storePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := z.checkStoreShape(ds, store); err != nil {
		return fmt.Errorf("store does not match dataset: %w", err)
	}

	for _, v := range ds.Variables {
		arr, err := store.Array(v.Code)
		if err != nil {
			return fmt.Errorf("open array %s: %w", v.Code, err)
		}
		if err := arr.AppendFloat32(cube.data[v.Code]); err != nil {
			return fmt.Errorf("append array %s: %w", v.Code, err)
		}
	}

	initArr, err := store.Array("init_time")
	if err != nil {
		return fmt.Errorf("open init_time: %w", err)
	}
	if err := initArr.AppendInt64([]int64{epochMinutes(cube.initTime)}); err != nil {
		return fmt.Errorf("append init_time: %w", err)
	}

	if err := store.Consolidate(); err != nil {
		return fmt.Errorf("consolidate store: %w", err)
	}
	return nil
}

// checkStoreShape verifies the store's axes are congruent with the dataset
// before anything is appended.
func (z *ZarrConverter) checkStoreShape(ds *domain.Dataset, store *zarr.Store) error {
	timeArr, err := store.Array("time")
	if err != nil {
		return err
	}
	if timeArr.Len(0) != ds.NumHours() {
		return fmt.Errorf("time axis has %d entries, want %d", timeArr.Len(0), ds.NumHours())
	}

	levelArr, err := store.Array("level")
	if err != nil {
		return err
	}
	levels, err := levelArr.ReadFloat64()
	if err != nil {
		return fmt.Errorf("read level axis: %w", err)
	}
	if len(levels) != ds.NumLevels() {
		return fmt.Errorf("level axis has %d entries, want %d", len(levels), ds.NumLevels())
	}
	for i, want := range ds.PressureLevels {
		if math.Abs(levels[i]-want) > 1e-6 {
			return fmt.Errorf("level axis value %g at index %d, want %g", levels[i], i, want)
		}
	}

	for _, v := range ds.Variables {
		arr, err := store.Array(v.Code)
		if err != nil {
			return fmt.Errorf("open array %s: %w", v.Code, err)
		}
		s := arr.Meta.Shape
		if len(s) != 5 || s[1] != ds.NumHours() || s[2] != ds.NumLevels() ||
			s[3] != ds.GridHeight || s[4] != ds.GridWidth {
			return fmt.Errorf("array %s has shape %v, want [*, %d, %d, %d, %d]",
				v.Code, s, ds.NumHours(), ds.NumLevels(), ds.GridHeight, ds.GridWidth)
		}
	}
	return nil
}

func storeAttrs(ds *domain.Dataset) map[string]any {
	return map[string]any{
		"title":       ds.Attributes.Title,
		"description": ds.Attributes.Description,
		"provider":    ds.Attributes.Provider,
		"model":       ds.Attributes.Model,
		"variant":     ds.Attributes.Variant,
		"version":     ds.Attributes.Version,
		"source":      ds.Attributes.Source,
		"references":  ds.Attributes.References,
		"created":     domain.Now().Format(time.RFC3339),
	}
}

func createInt64Coord(store *zarr.Store, name string, values []int64, attrs map[string]any) error {
	arr, err := store.CreateArray(name, coordMeta("<i8", len(values)), attrs)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := arr.WriteInt64(values); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func createFloat64Coord(store *zarr.Store, name string, values []float64, attrs map[string]any) error {
	arr, err := store.CreateArray(name, coordMeta("<f8", len(values)), attrs)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := arr.WriteFloat64(values); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func coordMeta(dtype string, n int) zarr.ArrayMeta {
	return zarr.ArrayMeta{
		Chunks:     []int{n},
		Compressor: &zarr.Compressor{ID: "zstd", Level: compressionLevel},
		DType:      dtype,
		FillValue:  nil,
		Order:      "C",
		Shape:      []int{n},
		ZarrFormat: zarr.Format,
	}
}

// spatialChunk splits a grid axis into thirds, rounding up so three chunks
// always cover it.
func spatialChunk(n int) int { return (n + 2) / 3 }

func epochMinutes(t time.Time) int64 { return t.Unix() / 60 }

func storeExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func readGRIBFile(path string) ([]grib.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return grib.Decode(f)
}
