package pakr

import "io"

// Vault stores archive generations, addressed by content checksum.
type Vault interface {
	// PutContent stores content identified by its checksum.
	// Storing the same checksum twice is safe.
	// size is the number of bytes that will be read from r.
	PutContent(checksum string, r io.Reader, size int64) error

	// GetContent writes the content stored under checksum to w.
	GetContent(checksum string, w io.Writer) error

	// ValidateSetup verifies that the vault is usable.
	ValidateSetup() error
}
