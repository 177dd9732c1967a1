package fs

import (
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"pakr/internal/pakr"
)

// Scanner fingerprints the project tree on the real filesystem.
// Only files below top-level folders are scanned; files directly in the
// project root (the archive among them) never enter a snapshot.
type Scanner struct {
	ignore []string
}

// Compile-time check that Scanner implements pakr.TreeScanner.
var _ pakr.TreeScanner = (*Scanner)(nil)

// NewScanner creates a scanner that skips files and folders matching ignorePatterns in
// addition to the patterns of the project's .pakrignore file.
func NewScanner(ignorePatterns []string) *Scanner {
	return &Scanner{ignore: append([]string(nil), ignorePatterns...)}
}

// Scan walks every top-level folder of root not named in excluded. Folders
// matched by an ignore rule are not descended into.
func (s *Scanner) Scan(root string, excluded []string, opts pakr.ScanOptions) (pakr.Snapshot, error) {
	rules, err := LoadIgnoreRules(root, s.ignore)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading project root: %w", err)
	}

	snapshot := pakr.Snapshot{}
	for _, entry := range entries {
		// DirEntry.IsDir is false for a symlink to a folder, which is skipped.
		if !entry.IsDir() {
			continue
		}
		if err := s.walk(root, filepath.Join(root, entry.Name()), excluded, rules, opts, snapshot); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

func (s *Scanner) walk(root, dir string, excluded []string, rules *IgnoreRules, opts pakr.ScanOptions, snapshot pakr.Snapshot) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		rel := pakr.NormalizePath(root, p)
		if d != nil && d.IsDir() && (pakr.IsExcluded(rel, excluded) || rules.SkipDir(rel)) {
			return filepath.SkipDir
		}
		if err != nil {
			if !opts.BestEffort {
				return fmt.Errorf("walking %s: %w", rel, err)
			}
			skip(opts, rel, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// Symlinks, devices, pipes and sockets.
		if !d.Type().IsRegular() {
			return nil
		}
		if rules.SkipFile(rel) || (opts.Skip != nil && opts.Skip(rel)) {
			return nil
		}

		sum, err := Checksum(p)
		if err != nil {
			if !opts.BestEffort {
				return fmt.Errorf("fingerprinting %s: %w", rel, err)
			}
			skip(opts, rel, err)
			return nil
		}
		snapshot[rel] = sum
		return nil
	})
}

func skip(opts pakr.ScanOptions, rel string, err error) {
	if opts.OnSkip != nil {
		opts.OnSkip(rel, err)
	}
}

// Checksum returns the CRC32 (IEEE) of the file's bytes, widened to 64 bits.
func Checksum(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return uint64(h.Sum32()), nil
}
