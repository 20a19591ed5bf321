package zarr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DimensionsAttr is the array attribute xarray uses to record dimension
// names; reads and rewrites of a store preserve it.
const DimensionsAttr = "_ARRAY_DIMENSIONS"

// Array is one named array within a store. Meta and Attrs reflect the
// on-disk .zarray and .zattrs documents.
type Array struct {
	store *Store
	Name  string
	Meta  ArrayMeta
	Attrs map[string]any
}

// Len returns the length of the given axis.
func (a *Array) Len(dim int) int { return a.Meta.Shape[dim] }

// Dimensions returns the axis names recorded in the dimensions attribute,
// or nil when the array has none. The attribute arrives as []any from a
// JSON read and as []string on arrays created in-process.
func (a *Array) Dimensions() []string {
	switch raw := a.Attrs[DimensionsAttr].(type) {
	case []string:
		return raw
	case []any:
		dims := make([]string, 0, len(raw))
		for _, d := range raw {
			s, ok := d.(string)
			if !ok {
				return nil
			}
			dims = append(dims, s)
		}
		return dims
	default:
		return nil
	}
}

func (a *Array) dir() string { return filepath.Join(a.store.Path, a.Name) }

func (a *Array) chunkPath(key string) string { return filepath.Join(a.dir(), key) }

func chunkKey(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// --- typed reads and writes ---

// ReadFloat32 decodes the full array in C order.
func (a *Array) ReadFloat32() ([]float32, error) {
	if err := a.requireDType("<f4"); err != nil {
		return nil, err
	}
	raw, err := a.readAll()
	if err != nil {
		return nil, err
	}
	return bytesToFloat32(raw), nil
}

// WriteFloat32 writes the full array in C order, one chunk file at a time.
func (a *Array) WriteFloat32(vals []float32) error {
	if err := a.requireDType("<f4"); err != nil {
		return err
	}
	return a.writeAll(float32ToBytes(vals))
}

// ReadFloat64 decodes the full array in C order.
func (a *Array) ReadFloat64() ([]float64, error) {
	if err := a.requireDType("<f8"); err != nil {
		return nil, err
	}
	raw, err := a.readAll()
	if err != nil {
		return nil, err
	}
	return bytesToFloat64(raw), nil
}

// WriteFloat64 writes the full array in C order.
func (a *Array) WriteFloat64(vals []float64) error {
	if err := a.requireDType("<f8"); err != nil {
		return err
	}
	return a.writeAll(float64ToBytes(vals))
}

// ReadInt64 decodes the full array in C order.
func (a *Array) ReadInt64() ([]int64, error) {
	if err := a.requireDType("<i8"); err != nil {
		return nil, err
	}
	raw, err := a.readAll()
	if err != nil {
		return nil, err
	}
	return bytesToInt64(raw), nil
}

// WriteInt64 writes the full array in C order.
func (a *Array) WriteInt64(vals []int64) error {
	if err := a.requireDType("<i8"); err != nil {
		return err
	}
	return a.writeAll(int64ToBytes(vals))
}

// AppendFloat32 appends one entry along axis 0. block holds the entry in
// C order and must span exactly one step of every trailing axis.
func (a *Array) AppendFloat32(block []float32) error {
	if err := a.requireDType("<f4"); err != nil {
		return err
	}
	return a.appendAxis0(float32ToBytes(block))
}

// AppendInt64 appends one entry along axis 0.
func (a *Array) AppendInt64(block []int64) error {
	if err := a.requireDType("<i8"); err != nil {
		return err
	}
	return a.appendAxis0(int64ToBytes(block))
}

func (a *Array) requireDType(want string) error {
	if a.Meta.DType != want {
		return fmt.Errorf("array %s: dtype is %s, not %s", a.Name, a.Meta.DType, want)
	}
	return nil
}

// --- whole-array engine ---

// readAll assembles the full array from its chunk files. Missing chunk files
// are treated as fill (NaN for floats, zero for integers), matching zarr
// semantics for never-written regions.
func (a *Array) readAll() ([]byte, error) {
	itemsize, err := ItemSize(a.Meta.DType)
	if err != nil {
		return nil, err
	}
	out := make([]byte, a.Meta.NumElements()*itemsize)
	prefill(out, fillPattern(a.Meta.DType))

	codec, err := a.store.codecFor(a.Meta.Compressor)
	if err != nil {
		return nil, err
	}

	chunkBytes := a.Meta.chunkElements() * itemsize
	grid := a.Meta.chunkGrid()
	idx := make([]int, len(grid))
	for {
		key := chunkKey(idx)
		data, err := os.ReadFile(a.chunkPath(key))
		switch {
		case errors.Is(err, os.ErrNotExist):
			// leave fill
		case err != nil:
			return nil, fmt.Errorf("array %s: read chunk %s: %w", a.Name, key, err)
		default:
			raw := data
			if codec != nil {
				if raw, err = codec.Decompress(data); err != nil {
					return nil, fmt.Errorf("array %s: chunk %s: %w", a.Name, key, err)
				}
			}
			if len(raw) != chunkBytes {
				return nil, fmt.Errorf("array %s: chunk %s: got %d bytes, want %d", a.Name, key, len(raw), chunkBytes)
			}
			copyRegion(out, raw, &a.Meta, idx, itemsize, false)
		}
		if !nextIndex(idx, grid) {
			break
		}
	}
	return out, nil
}

// writeAll splits data into chunk files. Edge chunks are padded with fill.
func (a *Array) writeAll(data []byte) error {
	itemsize, err := ItemSize(a.Meta.DType)
	if err != nil {
		return err
	}
	if len(data) != a.Meta.NumElements()*itemsize {
		return fmt.Errorf("array %s: got %d bytes, want %d", a.Name, len(data), a.Meta.NumElements()*itemsize)
	}

	codec, err := a.store.codecFor(a.Meta.Compressor)
	if err != nil {
		return err
	}

	grid := a.Meta.chunkGrid()
	idx := make([]int, len(grid))
	for {
		if err := a.writeChunk(data, &a.Meta, idx, itemsize, codec); err != nil {
			return err
		}
		if !nextIndex(idx, grid) {
			break
		}
	}
	return nil
}

// appendAxis0 writes one new entry's chunk files and bumps Shape[0]. Requires
// unit chunking on axis 0 so existing chunk files stay untouched.
func (a *Array) appendAxis0(block []byte) error {
	if a.Meta.Chunks[0] != 1 {
		return fmt.Errorf("array %s: append requires chunk size 1 on axis 0, have %d", a.Name, a.Meta.Chunks[0])
	}
	itemsize, err := ItemSize(a.Meta.DType)
	if err != nil {
		return err
	}

	// The block is a one-entry array over the trailing axes.
	blockMeta := ArrayMeta{
		Chunks: a.Meta.Chunks,
		DType:  a.Meta.DType,
		Order:  a.Meta.Order,
		Shape:  append([]int{1}, a.Meta.Shape[1:]...),
	}
	if len(block) != blockMeta.NumElements()*itemsize {
		return fmt.Errorf("array %s: append block has %d bytes, want %d", a.Name, len(block), blockMeta.NumElements()*itemsize)
	}

	codec, err := a.store.codecFor(a.Meta.Compressor)
	if err != nil {
		return err
	}

	newIdx := a.Meta.Shape[0]
	grid := blockMeta.chunkGrid()
	idx := make([]int, len(grid))
	for {
		if err := a.writeChunkAs(block, &blockMeta, idx, newIdx, itemsize, codec); err != nil {
			return err
		}
		if !nextIndex(idx, grid) {
			break
		}
	}

	a.Meta.Shape[0] = newIdx + 1
	return a.writeMeta()
}

// writeChunk extracts chunk idx from data and persists it.
func (a *Array) writeChunk(data []byte, meta *ArrayMeta, idx []int, itemsize int, codec *Codec) error {
	return a.writeChunkAs(data, meta, idx, idx[0], itemsize, codec)
}

// writeChunkAs persists chunk idx of data under a possibly relabeled axis-0
// coordinate, which is how appends land entries at the end of the array.
func (a *Array) writeChunkAs(data []byte, meta *ArrayMeta, idx []int, axis0 int, itemsize int, codec *Codec) error {
	buf := make([]byte, meta.chunkElements()*itemsize)
	if partialChunk(meta, idx) {
		prefill(buf, fillPattern(meta.DType))
	}
	copyRegion(data, buf, meta, idx, itemsize, true)

	payload := buf
	if codec != nil {
		payload = codec.Compress(buf)
	}

	fileIdx := append([]int{axis0}, idx[1:]...)
	path := a.chunkPath(chunkKey(fileIdx))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("array %s: write chunk %s: %w", a.Name, chunkKey(fileIdx), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("array %s: write chunk %s: %w", a.Name, chunkKey(fileIdx), err)
	}
	return nil
}

func (a *Array) writeMeta() error {
	return writeJSONFile(filepath.Join(a.dir(), arrayFile), &a.Meta)
}

// --- axis-0 entry helpers for store rewrites ---

// ChunkKeysAxis0 lists the chunk keys holding entry i of axis 0. Requires
// unit chunking on axis 0.
func (a *Array) ChunkKeysAxis0(i int) ([]string, error) {
	if a.Meta.Chunks[0] != 1 {
		return nil, fmt.Errorf("array %s: axis-0 chunk listing requires chunk size 1, have %d", a.Name, a.Meta.Chunks[0])
	}
	grid := a.Meta.chunkGrid()
	idx := make([]int, len(grid))
	idx[0] = i

	var keys []string
	sub := make([]int, len(grid)-1)
	for {
		copy(idx[1:], sub)
		keys = append(keys, chunkKey(idx))
		if !nextIndex(sub, grid[1:]) {
			break
		}
	}
	return keys, nil
}

// StoredLenAxis0 counts the entries of a 1-D array actually present on disk:
// the contiguous run of chunk files starting at 0. This deliberately ignores
// the declared shape, which is what makes interrupted appends detectable.
func (a *Array) StoredLenAxis0() (int, error) {
	if len(a.Meta.Shape) != 1 {
		return 0, fmt.Errorf("array %s: stored-length scan requires a 1-D array", a.Name)
	}
	if a.Meta.Chunks[0] != 1 {
		return 0, fmt.Errorf("array %s: stored-length scan requires chunk size 1, have %d", a.Name, a.Meta.Chunks[0])
	}
	n := 0
	for {
		if _, err := os.Stat(a.chunkPath(strconv.Itoa(n))); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return n, nil
			}
			return 0, fmt.Errorf("array %s: stat chunk %d: %w", a.Name, n, err)
		}
		n++
	}
}

// CopyAxis0Entry copies entry srcIdx of src into dst at dstIdx by copying the
// raw chunk files, without decompressing. Both arrays must share dtype, chunk
// shape, and trailing axis lengths, and use unit chunks on axis 0.
func CopyAxis0Entry(dst, src *Array, dstIdx, srcIdx int) error {
	if dst.Meta.DType != src.Meta.DType {
		return fmt.Errorf("copy %s: dtype mismatch %s vs %s", src.Name, src.Meta.DType, dst.Meta.DType)
	}
	if !equalInts(dst.Meta.Chunks, src.Meta.Chunks) || !equalInts(dst.Meta.Shape[1:], src.Meta.Shape[1:]) {
		return fmt.Errorf("copy %s: incompatible layout", src.Name)
	}

	srcKeys, err := src.ChunkKeysAxis0(srcIdx)
	if err != nil {
		return err
	}
	dstKeys, err := dst.ChunkKeysAxis0(dstIdx)
	if err != nil {
		return err
	}

	for i := range srcKeys {
		data, err := os.ReadFile(src.chunkPath(srcKeys[i]))
		if errors.Is(err, os.ErrNotExist) {
			continue // hole stays a hole
		}
		if err != nil {
			return fmt.Errorf("copy %s: read chunk %s: %w", src.Name, srcKeys[i], err)
		}
		path := dst.chunkPath(dstKeys[i])
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("copy %s: write chunk %s: %w", src.Name, dstKeys[i], err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("copy %s: write chunk %s: %w", src.Name, dstKeys[i], err)
		}
	}
	return nil
}

// --- region copy machinery ---

// copyRegion moves the overlap between the full array and chunk idx, run by
// run along the last axis. toChunk selects the direction.
func copyRegion(arr, chunk []byte, meta *ArrayMeta, idx []int, itemsize int, toChunk bool) {
	n := len(meta.Shape)

	arrStride := make([]int, n)
	chunkStride := make([]int, n)
	arrStride[n-1], chunkStride[n-1] = 1, 1
	for d := n - 2; d >= 0; d-- {
		arrStride[d] = arrStride[d+1] * meta.Shape[d+1]
		chunkStride[d] = chunkStride[d+1] * meta.Chunks[d+1]
	}

	start := make([]int, n)
	overlap := make([]int, n)
	for d := 0; d < n; d++ {
		start[d] = idx[d] * meta.Chunks[d]
		end := start[d] + meta.Chunks[d]
		if end > meta.Shape[d] {
			end = meta.Shape[d]
		}
		overlap[d] = end - start[d]
	}

	run := overlap[n-1] * itemsize
	pos := make([]int, n-1)
	for {
		arrOff := start[n-1]
		chunkOff := 0
		for d := 0; d < n-1; d++ {
			arrOff += (start[d] + pos[d]) * arrStride[d]
			chunkOff += pos[d] * chunkStride[d]
		}
		if toChunk {
			copy(chunk[chunkOff*itemsize:chunkOff*itemsize+run], arr[arrOff*itemsize:])
		} else {
			copy(arr[arrOff*itemsize:arrOff*itemsize+run], chunk[chunkOff*itemsize:chunkOff*itemsize+run])
		}

		d := n - 2
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < overlap[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			break
		}
	}
}

// nextIndex advances a multi-dimensional index through the grid in C order.
// Returns false after the last position.
func nextIndex(idx, grid []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < grid[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

func partialChunk(meta *ArrayMeta, idx []int) bool {
	for d := range meta.Shape {
		if (idx[d]+1)*meta.Chunks[d] > meta.Shape[d] {
			return true
		}
	}
	return false
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- fill and element codecs ---

func fillPattern(dtype string) []byte {
	switch dtype {
	case "<f4":
		pat := make([]byte, 4)
		binary.LittleEndian.PutUint32(pat, math.Float32bits(float32(math.NaN())))
		return pat
	case "<f8":
		pat := make([]byte, 8)
		binary.LittleEndian.PutUint64(pat, math.Float64bits(math.NaN()))
		return pat
	default:
		return make([]byte, 8)
	}
}

// prefill tiles pattern across buf with doubling copies.
func prefill(buf, pattern []byte) {
	if len(buf) == 0 {
		return
	}
	n := copy(buf, pattern)
	for n < len(buf) {
		n += copy(buf[n:], buf[:n])
	}
}

func float32ToBytes(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func float64ToBytes(vals []float64) []byte {
	out := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func bytesToFloat64(raw []byte) []float64 {
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}

func int64ToBytes(vals []int64) []byte {
	out := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func bytesToInt64(raw []byte) []int64 {
	out := make([]int64, len(raw)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}
