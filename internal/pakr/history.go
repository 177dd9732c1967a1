package pakr

import (
	"database/sql"
	"fmt"
	"time"
)

// Build statuses recorded in the history.
const (
	BuildRunning = "running"
	BuildSuccess = "success"
	BuildFailed  = "failed"
)

// BuildRecord is one row of the build history.
type BuildRecord struct {
	ID              int64
	BuildID         string
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	Mode            string
	Status          string
	Changed         int
	Removed         int
	ArchivePath     string
	ArchiveChecksum string
	LedgerChecksum  string
	Encrypted       bool
}

// HasGeneration reports whether the archive and ledger of this build were
// stored in the vault.
func (r *BuildRecord) HasGeneration() bool {
	return r.ArchiveChecksum != "" && r.LedgerChecksum != ""
}

// History stores build records.
type History interface {
	// CreateBuild inserts rec and assigns rec.ID.
	CreateBuild(rec *BuildRecord) error

	// FinishBuild stores the final state of rec.
	FinishBuild(rec *BuildRecord) error

	// ListBuilds returns up to limit records, newest first.
	ListBuilds(limit int) ([]*BuildRecord, error)

	// FindBuild returns the record with the given build ID, or nil if none.
	FindBuild(buildID string) (*BuildRecord, error)

	Close() error
}

// History returns the most recent builds, newest first.
func (s *BuildService) History(limit int) ([]*BuildRecord, error) {
	if s.history == nil {
		return nil, fmt.Errorf("no build history configured")
	}
	recs, err := s.history.ListBuilds(limit)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	return recs, nil
}
