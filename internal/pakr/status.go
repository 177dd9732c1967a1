package pakr

import "fmt"

// StatusReport is what the next incremental build would start from.
type StatusReport struct {
	Ledger   Snapshot
	Snapshot Snapshot
	Changes  *ChangeSet
}

// Status scans the tree and diffs it against the ledger without running any
// tool or touching the archive.
func (s *BuildService) Status() (*StatusReport, error) {
	s.logger.Debug("computing status", "root", s.cfg.Root)

	if err := s.checkRoot(); err != nil {
		return nil, err
	}

	prev, err := s.ledger.Load(s.cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	current, err := s.scanner.Scan(s.cfg.Root, s.cfg.ScanExclusions(), ScanOptions{
		BestEffort: true,
		OnSkip: func(path string, err error) {
			s.logger.Warn("file skipped", "path", path, "error", err)
		},
		Skip: s.cfg.ArchiveFiles(s.cfg.ArchivePath("")),
	})
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}

	return &StatusReport{
		Ledger:   prev,
		Snapshot: current,
		Changes:  Diff(prev, current),
	}, nil
}
