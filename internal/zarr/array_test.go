package zarr

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFloat32MultiChunk(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("TMP", ArrayMeta{
		Chunks:     []int{1, 3},
		Compressor: &Compressor{ID: "zstd", Level: 3},
		DType:      "<f4",
		FillValue:  "NaN",
		Order:      "C",
		Shape:      []int{4, 10},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)

	vals := ramp32(4 * 10)
	require.NoError(t, arr.WriteFloat32(vals))

	// 4 rows x ceil(10/3)=4 column chunks, edge chunks padded.
	entries, err := os.ReadDir(filepath.Join(st.Path, "TMP"))
	require.NoError(t, err)
	var chunkFiles int
	for _, e := range entries {
		if e.Name() != arrayFile && e.Name() != attrsFile {
			chunkFiles++
		}
	}
	assert.Equal(t, 16, chunkFiles)

	got, err := arr.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, vals, got)
}

func TestEdgeChunkIsFullSizePadded(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("v", ArrayMeta{
		Chunks:     []int{1, 3},
		Compressor: &Compressor{ID: "zstd", Level: 3},
		DType:      "<f4",
		FillValue:  "NaN",
		Order:      "C",
		Shape:      []int{1, 4},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, arr.WriteFloat32([]float32{1, 2, 3, 4}))

	data, err := os.ReadFile(arr.chunkPath("0.1"))
	require.NoError(t, err)
	codec, err := st.codecFor(arr.Meta.Compressor)
	require.NoError(t, err)
	raw, err := codec.Decompress(data)
	require.NoError(t, err)

	require.Len(t, raw, 3*4, "edge chunk stays full chunk shape")
	cells := bytesToFloat32(raw)
	assert.Equal(t, float32(4), cells[0])
	assert.True(t, math.IsNaN(float64(cells[1])))
	assert.True(t, math.IsNaN(float64(cells[2])))
}

func TestMissingChunkReadsAsFill(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("v", ArrayMeta{
		Chunks:     []int{1, 2},
		Compressor: &Compressor{ID: "zstd", Level: 3},
		DType:      "<f4",
		FillValue:  "NaN",
		Order:      "C",
		Shape:      []int{2, 4},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, arr.WriteFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8}))

	require.NoError(t, os.Remove(arr.chunkPath("1.0")))

	got, err := arr.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, got[:4])
	assert.True(t, math.IsNaN(float64(got[4])))
	assert.True(t, math.IsNaN(float64(got[5])))
	assert.Equal(t, []float32{7, 8}, got[6:])
}

func TestAppendFloat32(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("v", ArrayMeta{
		Chunks:     []int{1, 2, 2},
		Compressor: &Compressor{ID: "zstd", Level: 3},
		DType:      "<f4",
		FillValue:  "NaN",
		Order:      "C",
		Shape:      []int{1, 2, 2},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, arr.WriteFloat32([]float32{1, 2, 3, 4}))

	require.NoError(t, arr.AppendFloat32([]float32{5, 6, 7, 8}))
	assert.Equal(t, 2, arr.Len(0))

	// The on-disk .zarray must reflect the new shape.
	reopened, err := st.Array("v")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, reopened.Meta.Shape)

	got, err := reopened.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, got)
}

func TestAppendPreservesExistingChunks(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("v", ArrayMeta{
		Chunks:     []int{1},
		DType:      "<i8",
		Order:      "C",
		Shape:      []int{2},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, arr.WriteInt64([]int64{10, 20}))

	before, err := os.Stat(arr.chunkPath("0"))
	require.NoError(t, err)

	require.NoError(t, arr.AppendInt64([]int64{30}))

	after, err := os.Stat(arr.chunkPath("0"))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "append must not rewrite old chunks")

	got, err := arr.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, got)
}

func TestAppendRequiresUnitChunkOnAxis0(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("v", ArrayMeta{
		Chunks:     []int{2},
		DType:      "<i8",
		Order:      "C",
		Shape:      []int{2},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)

	err = arr.AppendInt64([]int64{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk size 1")
}

func TestStoredLenAxis0(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("init_time", ArrayMeta{
		Chunks:     []int{1},
		DType:      "<i8",
		Order:      "C",
		Shape:      []int{3},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, arr.WriteInt64([]int64{100, 200, 300}))

	n, err := arr.StoredLenAxis0()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Dropping the last chunk file mimics an interrupted append: the shape
	// still declares 3 but only 2 values exist.
	require.NoError(t, os.Remove(arr.chunkPath("2")))

	n, err = arr.StoredLenAxis0()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, arr.Len(0))
}

func TestCopyAxis0Entry(t *testing.T) {
	st := newTestStore(t)

	meta := ArrayMeta{
		Chunks:     []int{1, 2},
		Compressor: &Compressor{ID: "zstd", Level: 3},
		DType:      "<f4",
		FillValue:  "NaN",
		Order:      "C",
		Shape:      []int{3, 2},
		ZarrFormat: Format,
	}
	src, err := st.CreateArray("src", meta, nil)
	require.NoError(t, err)
	require.NoError(t, src.WriteFloat32([]float32{1, 2, 3, 4, 5, 6}))

	dstMeta := meta
	dstMeta.Shape = []int{1, 2}
	dst, err := st.CreateArray("dst", dstMeta, nil)
	require.NoError(t, err)

	require.NoError(t, CopyAxis0Entry(dst, src, 0, 2))

	got, err := dst.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, got)
}

func TestDTypeGuards(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("v", ArrayMeta{
		Chunks:     []int{1},
		DType:      "<i8",
		Order:      "C",
		Shape:      []int{1},
		ZarrFormat: Format,
	}, nil)
	require.NoError(t, err)

	err = arr.WriteFloat32([]float32{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dtype")
}

func TestDimensions(t *testing.T) {
	st := newTestStore(t)

	arr, err := st.CreateArray("v", ArrayMeta{
		Chunks:     []int{1, 2},
		DType:      "<f4",
		FillValue:  "NaN",
		Order:      "C",
		Shape:      []int{1, 2},
		ZarrFormat: Format,
	}, map[string]any{DimensionsAttr: []any{"init_time", "x"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"init_time", "x"}, arr.Dimensions())

	reopened, err := st.Array("v")
	require.NoError(t, err)
	assert.Equal(t, []string{"init_time", "x"}, reopened.Dimensions())
}

// --- helpers ---

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Create(filepath.Join(t.TempDir(), "test.zarr"), map[string]any{"title": "test"})
	require.NoError(t, err)
	return st
}

func ramp32(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) * 0.5
	}
	return out
}
