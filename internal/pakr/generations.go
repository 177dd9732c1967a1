package pakr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// storeGeneration copies the archive and the ledger of a successful build
// into the vault and records their checksums on rec. A failure is logged and
// leaves rec without a generation; the build itself stays successful.
func (s *BuildService) storeGeneration(rec *BuildRecord) {
	if s.vault == nil {
		return
	}

	archiveSum, err := s.storeFile(rec.ArchivePath)
	if err != nil {
		s.logger.Warn("archive generation not stored", "build_id", rec.BuildID, "error", err)
		return
	}
	ledgerSum, err := s.storeFile(s.cfg.LedgerPath())
	if err != nil {
		s.logger.Warn("ledger generation not stored", "build_id", rec.BuildID, "error", err)
		return
	}

	rec.ArchiveChecksum = archiveSum
	rec.LedgerChecksum = ledgerSum
	rec.Encrypted = s.encryptor != nil
	s.logger.Info("generation stored", "build_id", rec.BuildID, "archive", archiveSum, "encrypted", rec.Encrypted)
}

// storeFile puts the (optionally encrypted) content of path into the vault
// and returns the checksum it is stored under.
func (s *BuildService) storeFile(path string) (string, error) {
	src := path
	if s.encryptor != nil {
		tmp, err := s.encryptToTemp(path)
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp)
		src = tmp
	}

	sum, size, err := checksumFile(src)
	if err != nil {
		return "", err
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	if err := s.vault.PutContent(sum, f, size); err != nil {
		return "", fmt.Errorf("storing content in vault: %w", err)
	}
	return sum, nil
}

func (s *BuildService) encryptToTemp(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp("", "pakr-generation-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if err := s.encryptor.Encrypt(in, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("encrypting %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return tmp.Name(), nil
}

// checksumFile returns the hex SHA-256 and the size of the file at path.
func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// FindBuild returns the history record of buildID, or nil if there is none.
func (s *BuildService) FindBuild(buildID string) (*BuildRecord, error) {
	if s.history == nil {
		return nil, fmt.Errorf("no build history configured")
	}
	rec, err := s.history.FindBuild(buildID)
	if err != nil {
		return nil, fmt.Errorf("finding build: %w", err)
	}
	return rec, nil
}

// Restore puts the archive and the ledger of a stored generation back in
// place, so the next incremental build continues from that state.
// decryptCtx is required when the generation is encrypted; pass nil otherwise.
func (s *BuildService) Restore(buildID string, decryptCtx DecryptionContext) (*BuildRecord, error) {
	if s.vault == nil {
		return nil, fmt.Errorf("no vault configured")
	}
	rec, err := s.FindBuild(buildID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("build not found: %s", buildID)
	}
	if rec.Status != BuildSuccess || !rec.HasGeneration() {
		return nil, fmt.Errorf("build %s has no stored generation", buildID)
	}
	if rec.Encrypted && decryptCtx == nil {
		return nil, fmt.Errorf("generation is encrypted but no passphrase was provided")
	}

	s.logger.Info("restore started", "build_id", buildID)
	if err := s.restoreFile(rec.ArchiveChecksum, rec.ArchivePath, rec.Encrypted, decryptCtx); err != nil {
		return nil, fmt.Errorf("restoring archive: %w", err)
	}
	if err := s.restoreFile(rec.LedgerChecksum, s.cfg.LedgerPath(), rec.Encrypted, decryptCtx); err != nil {
		return nil, fmt.Errorf("restoring ledger: %w", err)
	}
	s.logger.Info("restore finished", "build_id", buildID, "archive", rec.ArchivePath)
	return rec, nil
}

// restoreFile writes the content stored under checksum to dest, replacing
// it atomically.
func (s *BuildService) restoreFile(checksum, dest string, encrypted bool, decryptCtx DecryptionContext) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-restore-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if encrypted {
		pr, pw := io.Pipe()
		vaultErrCh := make(chan error, 1)
		go func() {
			err := s.vault.GetContent(checksum, pw)
			pw.CloseWithError(err)
			vaultErrCh <- err
		}()

		decryptErr := decryptCtx.Decrypt(pr, tmp)
		pr.CloseWithError(decryptErr)
		vaultErr := <-vaultErrCh

		if decryptErr != nil {
			return fmt.Errorf("decrypting content: %w", decryptErr)
		}
		if vaultErr != nil {
			return fmt.Errorf("retrieving content from vault: %w", vaultErr)
		}
	} else if err := s.vault.GetContent(checksum, tmp); err != nil {
		return fmt.Errorf("retrieving content from vault: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}
