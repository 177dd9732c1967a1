package pakr

// SyncRequest describes one archive reconciliation pass.
type SyncRequest struct {
	// Root is the project root the snapshot is relative to.
	Root string
	// ArchivePath is the absolute location of the zip archive.
	ArchivePath string
	// Snapshot is the final snapshot of the build.
	Snapshot Snapshot
	// Changes is the merged change set of the build.
	Changes *ChangeSet
	// Excluded lists folders whose files never enter the archive.
	Excluded []string
	// Window, when non-nil, restricts updates of changed entries to these
	// paths. Healing of missing entries is not restricted.
	Window map[string]struct{}
}

// SyncResult reports what a reconciliation pass did.
type SyncResult struct {
	Path    string
	Pruned  []string
	Updated []string
	Healed  []string
	// Skipped lists eligible files that no longer existed on disk.
	Skipped []string
	// Entries is the number of file entries in the archive afterwards.
	Entries int
	// Written is false when the archive did not need to be touched.
	Written bool
}

// ArchiveSyncer makes an archive mirror a snapshot.
type ArchiveSyncer interface {
	Sync(req *SyncRequest) (*SyncResult, error)
}
