package pakr

// LedgerStore persists the fingerprint ledger between builds.
type LedgerStore interface {
	// Load reads the ledger at path. A missing ledger is not an error; an
	// empty Snapshot is returned instead.
	Load(path string) (Snapshot, error)

	// Save replaces the ledger at path with snapshot. A failed Save leaves
	// the previous ledger untouched.
	Save(path string, snapshot Snapshot) error

	// Discard removes the ledger at path. Removing a missing ledger is a no-op.
	Discard(path string) error
}
