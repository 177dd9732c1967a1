// Package ledger persists the fingerprint ledger of the last successful build
// as a flat JSON object mapping relative paths to checksums.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"

	"pakr/internal/pakr"
)

// Store reads and writes ledger documents on the local filesystem.
type Store struct{}

var _ pakr.LedgerStore = (*Store)(nil)

// NewStore creates a ledger store.
func NewStore() *Store {
	return &Store{}
}

// Load reads the ledger at path. A missing file yields an empty snapshot.
func (s *Store) Load(path string) (pakr.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pakr.Snapshot{}, nil
		}
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return Decode(data)
}

// Save writes snapshot to path through a temp file in the same directory so
// readers never observe a partial ledger.
func (s *Store) Save(path string, snapshot pakr.Snapshot) error {
	data, err := Encode(snapshot)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("syncing ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming ledger: %w", err)
	}
	return nil
}

// Discard removes the ledger at path. A missing ledger is not an error.
func (s *Store) Discard(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing ledger: %w", err)
	}
	return nil
}

// Encode renders snapshot as an indented JSON object. encoding/json sorts
// map keys, so equal snapshots always encode to equal bytes.
func Encode(snapshot pakr.Snapshot) ([]byte, error) {
	if snapshot == nil {
		snapshot = pakr.Snapshot{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]uint64(snapshot)); err != nil {
		return nil, fmt.Errorf("encoding ledger: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a ledger document.
func Decode(data []byte) (pakr.Snapshot, error) {
	var m map[string]uint64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}
	if m == nil {
		return pakr.Snapshot{}, nil
	}
	return pakr.Snapshot(m), nil
}

// UnifiedDiff renders the difference between two ledger documents as a
// unified text diff. Equal snapshots produce an empty string.
func UnifiedDiff(before, after pakr.Snapshot) (string, error) {
	a, err := Encode(before)
	if err != nil {
		return "", err
	}
	b, err := Encode(after)
	if err != nil {
		return "", err
	}
	if bytes.Equal(a, b) {
		return "", nil
	}

	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(string(a)),
		B:        splitLinesKeepNL(string(b)),
		FromFile: "ledger",
		ToFile:   "working tree",
		Context:  3,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", fmt.Errorf("rendering ledger diff: %w", err)
	}
	return s, nil
}

func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
