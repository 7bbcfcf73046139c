// Package snapshot persists snapshot assertions of one test file.
//
// A .snap file is zstd-compressed JSON holding one entry per snapshot key.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pmezard/go-difflib/difflib"
)

var ErrMismatch = errors.New("snapshot mismatch")

// ErrMissing is returned when a snapshot does not exist and recording is off
var ErrMissing = errors.New("snapshot missing")

const fileVersion = 1

type fileData struct {
	Version int                        `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}

type Options struct {
	// Dir overrides the default <dir of test file>/__snapshots__
	Dir       string
	Update    bool
	RecordNew bool
}

type Store struct {
	path    string
	update  bool
	record  bool
	existed bool

	mu      sync.Mutex
	entries map[string]json.RawMessage
	dirty   bool
}

// Dir returns the directory snapshots of testFile are kept in
func Dir(testFile string, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(filepath.Dir(testFile), "__snapshots__")
}

// Open loads the snapshot file of testFile if there is one
func Open(testFile string, opts Options) (*Store, error) {
	s := &Store{
		path:    filepath.Join(Dir(testFile, opts.Dir), filepath.Base(testFile)+".snap"),
		update:  opts.Update,
		record:  opts.RecordNew || opts.Update,
		entries: make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	s.existed = true
	if opts.Update {
		// everything gets rewritten from scratch
		return s, nil
	}

	data, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if data.Entries != nil {
		s.entries = data.Entries
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Existed reports whether a snapshot file was on disk when the store opened
func (s *Store) Existed() bool {
	return s.existed
}

// Compare matches value against the snapshot stored under key, recording
// it when allowed.
func (s *Store) Compare(key string, value any) error {
	actual, err := canonical(value)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expected, ok := s.entries[key]
	if !ok {
		if !s.record {
			return fmt.Errorf("%w: %s", ErrMissing, key)
		}
		s.entries[key] = actual
		s.dirty = true
		return nil
	}
	if bytes.Equal(expected, actual) {
		return nil
	}
	if s.update {
		s.entries[key] = actual
		s.dirty = true
		return nil
	}
	return fmt.Errorf("%w: %s\n%s", ErrMismatch, key, diff(expected, actual))
}

// Save writes the snapshot file if anything changed. It returns the files
// it touched.
func (s *Store) Save() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, nil
	}

	raw, err := encode(fileData{Version: fileVersion, Entries: s.entries})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return nil, fmt.Errorf("failed to move snapshot file into place: %w", err)
	}
	s.dirty = false
	return []string{s.path}, nil
}

// Keys lists the stored snapshot keys in sorted order
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func canonical(value any) (json.RawMessage, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func encode(data fileData) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshots: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(b, nil), nil
}

func decode(raw []byte) (fileData, error) {
	var data fileData
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return data, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	b, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return data, fmt.Errorf("failed to decompress: %w", err)
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal: %w", err)
	}
	if data.Version != fileVersion {
		return data, fmt.Errorf("unsupported snapshot version %d", data.Version)
	}
	return data, nil
}

func diff(expected, actual json.RawMessage) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(indent(expected)),
		B:        difflib.SplitLines(indent(actual)),
		FromFile: "snapshot",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return fmt.Sprintf("- %s\n+ %s", expected, actual)
	}
	return text
}

func indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	buf.WriteByte('\n')
	return buf.String()
}
