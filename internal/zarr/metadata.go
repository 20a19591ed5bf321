// Package zarr implements the subset of the Zarr v2 on-disk format this
// pipeline needs: directory stores, C-order arrays of float32/float64/int64,
// zstd-compressed chunks, appends along the leading axis, and consolidated
// metadata. Chunk files use the default "." dimension separator, so a chunk
// of a 5-D array is named like "0.0.0.1.2".
package zarr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Format is the Zarr storage format version written and accepted.
const Format = 2

// Metadata file names within a store.
const (
	groupFile        = ".zgroup"
	attrsFile        = ".zattrs"
	arrayFile        = ".zarray"
	consolidatedFile = ".zmetadata"
)

// Compressor identifies the codec applied to every chunk of an array.
// A nil Compressor on ArrayMeta means chunks are stored raw.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// ArrayMeta mirrors a .zarray document.
type ArrayMeta struct {
	Chunks     []int       `json:"chunks"`
	Compressor *Compressor `json:"compressor"`
	DType      string      `json:"dtype"`
	FillValue  any         `json:"fill_value"`
	Filters    any         `json:"filters"`
	Order      string      `json:"order"`
	Shape      []int       `json:"shape"`
	ZarrFormat int         `json:"zarr_format"`
}

// GroupMeta mirrors a .zgroup document.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// ConsolidatedMeta mirrors a .zmetadata document: every metadata document in
// the store keyed by its relative path, wrapped in a versioned envelope.
type ConsolidatedMeta struct {
	Metadata   map[string]json.RawMessage `json:"metadata"`
	ZarrFormat int                        `json:"zarr_format"`
}

// ItemSize returns the per-element byte width for a supported dtype string.
func ItemSize(dtype string) (int, error) {
	switch dtype {
	case "<f4":
		return 4, nil
	case "<f8", "<i8":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// Validate checks an ArrayMeta for internal coherence before it is written
// or used to interpret chunk files.
func (m *ArrayMeta) Validate() error {
	if m.ZarrFormat != Format {
		return fmt.Errorf("unsupported zarr_format %d", m.ZarrFormat)
	}
	if len(m.Shape) == 0 || len(m.Shape) != len(m.Chunks) {
		return fmt.Errorf("shape %v and chunks %v must be non-empty and equal rank", m.Shape, m.Chunks)
	}
	for d := range m.Shape {
		if m.Shape[d] < 0 || m.Chunks[d] <= 0 {
			return fmt.Errorf("invalid extent at dim %d: shape %d, chunk %d", d, m.Shape[d], m.Chunks[d])
		}
	}
	if m.Order != "C" {
		return fmt.Errorf("unsupported order %q", m.Order)
	}
	if m.Compressor != nil && m.Compressor.ID != "zstd" {
		return fmt.Errorf("unsupported compressor %q", m.Compressor.ID)
	}
	_, err := ItemSize(m.DType)
	return err
}

// NumElements returns the element count of the full array.
func (m *ArrayMeta) NumElements() int {
	n := 1
	for _, s := range m.Shape {
		n *= s
	}
	return n
}

// chunkGrid returns the per-dimension chunk counts, ceil(shape/chunks).
func (m *ArrayMeta) chunkGrid() []int {
	grid := make([]int, len(m.Shape))
	for d := range m.Shape {
		grid[d] = (m.Shape[d] + m.Chunks[d] - 1) / m.Chunks[d]
	}
	return grid
}

// chunkElements returns the element count of one (full-size) chunk.
func (m *ArrayMeta) chunkElements() int {
	n := 1
	for _, c := range m.Chunks {
		n *= c
	}
	return n
}

// writeJSONFile marshals v the way zarr-python does (4-space indent, sorted
// keys) and writes it via a temp file and rename.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
