package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pakr/internal/pakr"
)

// FileSystemVault keeps archive generations in a local directory:
//
//	<root>/
//	  generations/
//	    <aa>/<checksum>   (aa is the first two characters of the checksum)
//
// Content written through PutContent is verified against its checksum, so
// a generation on disk always matches its name.
type FileSystemVault struct {
	name           string
	root           string
	generationsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	generationsDir := filepath.Join(root, "generations")
	if err := os.MkdirAll(generationsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create generations directory: %w", err)
	}

	return &FileSystemVault{
		name:           name,
		root:           root,
		generationsDir: generationsDir,
	}, nil
}

// Name returns the configured vault name.
func (v *FileSystemVault) Name() string {
	return v.name
}

// PutContent stores content identified by its checksum. A generation that is
// already present is left untouched.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	destPath, err := v.contentPath(checksum)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	return writeVerified(destPath, checksum, r, size)
}

// GetContent writes the generation stored under checksum to w.
func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	srcPath, err := v.contentPath(checksum)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("content not found: %s", checksum)
		}
		return fmt.Errorf("failed to open content: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.generationsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

func (v *FileSystemVault) contentPath(checksum string) (string, error) {
	if len(checksum) < 3 || filepath.Base(checksum) != checksum {
		return "", fmt.Errorf("invalid checksum: %q", checksum)
	}
	return filepath.Join(v.generationsDir, checksum[:2], checksum), nil
}

// writeVerified copies r to destPath through a temp file in the same
// directory, renaming it into place only when size and SHA-256 match.
func writeVerified(destPath, checksum string, r io.Reader, size int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", checksum, got)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ pakr.Vault = (*FileSystemVault)(nil)
