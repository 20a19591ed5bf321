package zarr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store is a Zarr v2 directory store: a root group holding flat arrays.
type Store struct {
	Path string

	attrs        map[string]any
	consolidated *ConsolidatedMeta
	codecs       map[int]*Codec
}

// Create makes a new store at path with the given group attributes. The path
// must not already exist; callers replacing a store remove it first.
func Create(path string, attrs map[string]any) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("store %s already exists", path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", path, err)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	if err := writeJSONFile(filepath.Join(path, groupFile), GroupMeta{ZarrFormat: Format}); err != nil {
		return nil, fmt.Errorf("create store %s: %w", path, err)
	}
	if err := writeJSONFile(filepath.Join(path, attrsFile), attrs); err != nil {
		return nil, fmt.Errorf("create store %s: %w", path, err)
	}
	return &Store{Path: path, attrs: attrs, codecs: map[int]*Codec{}}, nil
}

// Open reads an existing store. Consolidated metadata is loaded when present
// and kept as the declared view of the store; per-array documents are still
// read from disk so the two can be compared.
func Open(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open store %s: not a directory", path)
	}

	s := &Store{Path: path, codecs: map[int]*Codec{}}

	var cons ConsolidatedMeta
	consErr := readJSONFile(filepath.Join(path, consolidatedFile), &cons)
	if consErr == nil {
		s.consolidated = &cons
	}

	var group GroupMeta
	groupErr := readJSONFile(filepath.Join(path, groupFile), &group)
	if consErr != nil && groupErr != nil {
		return nil, fmt.Errorf("open store %s: no zarr metadata found", path)
	}
	if groupErr == nil && group.ZarrFormat != Format {
		return nil, fmt.Errorf("open store %s: unsupported zarr_format %d", path, group.ZarrFormat)
	}

	s.attrs = map[string]any{}
	if err := readJSONFile(filepath.Join(path, attrsFile), &s.attrs); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	return s, nil
}

// Attrs returns the group attributes read at open time.
func (s *Store) Attrs() map[string]any { return s.attrs }

// HasConsolidated reports whether the store carried a .zmetadata document.
func (s *Store) HasConsolidated() bool { return s.consolidated != nil }

// CreateArray adds an array to the store.
func (s *Store) CreateArray(name string, meta ArrayMeta, attrs map[string]any) (*Array, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("create array %s: %w", name, err)
	}
	dir := filepath.Join(s.Path, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create array %s: %w", name, err)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	if err := writeJSONFile(filepath.Join(dir, arrayFile), &meta); err != nil {
		return nil, fmt.Errorf("create array %s: %w", name, err)
	}
	if err := writeJSONFile(filepath.Join(dir, attrsFile), attrs); err != nil {
		return nil, fmt.Errorf("create array %s: %w", name, err)
	}
	return &Array{store: s, Name: name, Meta: meta, Attrs: attrs}, nil
}

// Array opens an array by its on-disk documents, independent of any
// consolidated metadata.
func (s *Store) Array(name string) (*Array, error) {
	dir := filepath.Join(s.Path, name)
	var meta ArrayMeta
	if err := readJSONFile(filepath.Join(dir, arrayFile), &meta); err != nil {
		return nil, fmt.Errorf("open array %s: %w", name, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("open array %s: %w", name, err)
	}
	attrs := map[string]any{}
	if err := readJSONFile(filepath.Join(dir, attrsFile), &attrs); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("open array %s: %w", name, err)
	}
	return &Array{store: s, Name: name, Meta: meta, Attrs: attrs}, nil
}

// ArrayNames lists the arrays present on disk, sorted.
func (s *Store) ArrayNames() ([]string, error) {
	entries, err := os.ReadDir(s.Path)
	if err != nil {
		return nil, fmt.Errorf("list arrays in %s: %w", s.Path, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Path, e.Name(), arrayFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeclaredArrayMeta returns an array's metadata as recorded in the
// consolidated document, the view a reader trusts before touching chunks.
func (s *Store) DeclaredArrayMeta(name string) (*ArrayMeta, error) {
	if s.consolidated == nil {
		return nil, fmt.Errorf("store %s has no consolidated metadata", s.Path)
	}
	raw, ok := s.consolidated.Metadata[name+"/"+arrayFile]
	if !ok {
		return nil, fmt.Errorf("store %s: no consolidated entry for array %s", s.Path, name)
	}
	var meta ArrayMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("store %s: consolidated entry for %s: %w", s.Path, name, err)
	}
	return &meta, nil
}

// Consolidate collects every metadata document into .zmetadata. Run after any
// structural change; readers of the declared view see nothing newer.
func (s *Store) Consolidate() error {
	meta := map[string]json.RawMessage{}

	add := func(key, path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		meta[key] = json.RawMessage(data)
		return nil
	}

	if err := add(groupFile, filepath.Join(s.Path, groupFile)); err != nil {
		return fmt.Errorf("consolidate %s: %w", s.Path, err)
	}
	if err := add(attrsFile, filepath.Join(s.Path, attrsFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("consolidate %s: %w", s.Path, err)
	}

	names, err := s.ArrayNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := add(name+"/"+arrayFile, filepath.Join(s.Path, name, arrayFile)); err != nil {
			return fmt.Errorf("consolidate %s: %w", s.Path, err)
		}
		attrsPath := filepath.Join(s.Path, name, attrsFile)
		if err := add(name+"/"+attrsFile, attrsPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("consolidate %s: %w", s.Path, err)
		}
	}

	cons := &ConsolidatedMeta{Metadata: meta, ZarrFormat: 1}
	if err := writeJSONFile(filepath.Join(s.Path, consolidatedFile), cons); err != nil {
		return fmt.Errorf("consolidate %s: %w", s.Path, err)
	}
	s.consolidated = cons
	return nil
}

func (s *Store) codecFor(c *Compressor) (*Codec, error) {
	if c == nil {
		return nil, nil
	}
	if c.ID != "zstd" {
		return nil, fmt.Errorf("unsupported compressor %q", c.ID)
	}
	if codec, ok := s.codecs[c.Level]; ok {
		return codec, nil
	}
	codec, err := NewCodec(c.Level)
	if err != nil {
		return nil, err
	}
	s.codecs[c.Level] = codec
	return codec, nil
}
