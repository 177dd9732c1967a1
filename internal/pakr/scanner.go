package pakr

// ScanOptions tunes a single scan pass.
type ScanOptions struct {
	// BestEffort excludes unreadable files from the result instead of
	// failing the scan. OnSkip, when set, is told about every such file.
	BestEffort bool
	OnSkip     func(path string, err error)
	// Skip, when set, leaves out files it reports true for.
	Skip func(path string) bool
}

// TreeScanner fingerprints a project tree.
type TreeScanner interface {
	// Scan walks every top-level folder of root except those named in
	// excluded and returns a fingerprint for each regular file found.
	// Repeated calls normalize paths identically.
	Scan(root string, excluded []string, opts ScanOptions) (Snapshot, error)
}
