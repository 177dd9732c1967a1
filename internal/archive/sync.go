// Package archive reconciles the project's zip archive with a snapshot of the
// project tree.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pakr/internal/pakr"
)

// FixedZipTime is stamped on every entry written, so unchanged content
// produces identical entries (1980-01-01 UTC).
var FixedZipTime = time.Unix(315532800, 0).UTC()

// Syncer makes the archive mirror the final snapshot of a build, touching
// only the entries that need it.
type Syncer struct {
	logger pakr.Logger
}

// Compile-time check that Syncer implements pakr.ArchiveSyncer.
var _ pakr.ArchiveSyncer = (*Syncer)(nil)

// NewSyncer creates an archive synchronizer.
func NewSyncer(logger pakr.Logger) *Syncer {
	if logger == nil {
		logger = pakr.NewNopLogger()
	}
	return &Syncer{logger: logger}
}

// plan is the outcome of comparing the archive against the snapshot.
type plan struct {
	retained []*zip.File
	pruned   []string
	updated  []string
	healed   []string
}

func (p *plan) empty() bool {
	return len(p.pruned) == 0 && len(p.updated) == 0 && len(p.healed) == 0
}

// Sync prunes entries that left the snapshot, rewrites changed entries and
// adds missing ones. The new archive is written next to the target and
// renamed over it; when nothing has to change the archive is not touched.
func (s *Syncer) Sync(req *pakr.SyncRequest) (*pakr.SyncResult, error) {
	result := &pakr.SyncResult{Path: req.ArchivePath}

	reader, err := openArchive(req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	exists := reader != nil
	var entries []*zip.File
	if exists {
		entries = reader.File
	}
	closeReader := func() {
		if reader != nil {
			reader.Close()
			reader = nil
		}
	}
	defer closeReader()

	p := makePlan(req, entries)
	result.Pruned = p.pruned

	if exists && p.empty() {
		result.Entries = countFiles(p.retained)
		s.logger.Debug("archive up to date", "path", req.ArchivePath)
		return result, nil
	}

	written, err := s.write(req, p, result)
	if err != nil {
		return nil, err
	}
	// Release the old archive before it is replaced.
	closeReader()
	if err := os.Rename(written, req.ArchivePath); err != nil {
		os.Remove(written)
		return nil, fmt.Errorf("replacing archive: %w", err)
	}
	result.Written = true
	return result, nil
}

// makePlan decides the fate of every existing entry and every snapshot key.
func makePlan(req *pakr.SyncRequest, entries []*zip.File) *plan {
	p := &plan{}
	changed := map[string]uint64{}
	if req.Changes != nil {
		changed = req.Changes.Changed
	}

	eligible := func(name string) bool {
		if _, ok := changed[name]; !ok {
			return false
		}
		if req.Window == nil {
			return true
		}
		_, ok := req.Window[name]
		return ok
	}

	present := make(map[string]bool, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, f := range entries {
		if strings.HasSuffix(f.Name, "/") {
			p.retained = append(p.retained, f)
			continue
		}
		name := pakr.NormalizePath("", f.Name)
		_, inSnapshot := req.Snapshot[name]
		switch {
		case f.Name != name, seen[name], !inSnapshot, pakr.IsExcluded(name, req.Excluded):
			// Entries stored under a non-canonical name are healed below.
			p.pruned = append(p.pruned, f.Name)
			continue
		case eligible(name):
			// Replaced by a fresh entry below.
		default:
			p.retained = append(p.retained, f)
			present[name] = true
		}
		seen[name] = true
	}

	for _, name := range req.Changes.ChangedPaths() {
		if _, ok := req.Snapshot[name]; !ok || pakr.IsExcluded(name, req.Excluded) || !eligible(name) {
			continue
		}
		p.updated = append(p.updated, name)
		present[name] = true
	}

	for _, name := range req.Snapshot.Paths() {
		if present[name] || pakr.IsExcluded(name, req.Excluded) {
			continue
		}
		p.healed = append(p.healed, name)
	}
	return p
}

// write streams the reconciled archive into a temp file beside the target
// and returns its path.
func (s *Syncer) write(req *pakr.SyncRequest, p *plan, result *pakr.SyncResult) (path string, err error) {
	dir := filepath.Dir(req.ArchivePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, pakr.ArchiveTempPrefix(req.ArchivePath)+"*")
	if err != nil {
		return "", fmt.Errorf("creating temp archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, f := range p.retained {
		if err := zw.Copy(f); err != nil {
			return "", fmt.Errorf("copying entry %s: %w", f.Name, err)
		}
	}
	entries := countFiles(p.retained)

	for _, pass := range []struct {
		names []string
		out   *[]string
	}{
		{p.updated, &result.Updated},
		{p.healed, &result.Healed},
	} {
		for _, name := range pass.names {
			ok, err := addFile(zw, req.Root, name)
			if err != nil {
				return "", err
			}
			if !ok {
				s.logger.Warn("file missing on disk, not archived", "path", name)
				result.Skipped = append(result.Skipped, name)
				continue
			}
			*pass.out = append(*pass.out, name)
			entries++
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finishing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp archive: %w", err)
	}
	sort.Strings(result.Skipped)
	result.Entries = entries
	return tmp.Name(), nil
}

// addFile writes the file at root/name as a fresh deflated entry. It reports
// false when the file no longer exists.
func addFile(zw *zip.Writer, root, name string) (bool, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	h := &zip.FileHeader{Name: name, Method: zip.Deflate}
	h.SetMode(0o644)
	h.Modified = FixedZipTime
	w, err := zw.CreateHeader(h)
	if err != nil {
		return false, fmt.Errorf("creating entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, fmt.Errorf("writing entry %s: %w", name, err)
	}
	return true, nil
}

// openArchive opens the archive at path, or returns nil if it does not exist.
func openArchive(path string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func countFiles(files []*zip.File) int {
	n := 0
	for _, f := range files {
		if !strings.HasSuffix(f.Name, "/") {
			n++
		}
	}
	return n
}
