package pakr

import (
	"path"
	"path/filepath"
	"strings"
)

// StateDir is the hidden folder under the project root that holds pakr's
// own state. It is never scanned.
const StateDir = ".pakr"

// LedgerFileName is the ledger document inside StateDir.
const LedgerFileName = "ledger.json"

// ScriptSettings configures the external script compiler.
type ScriptSettings struct {
	Compiler         string
	Args             []string
	Extensions       []string
	FailureExitCode  int
	MaxCommandLength int
}

// AssetSettings configures derived-asset regeneration.
type AssetSettings struct {
	Packer          string
	UnpackedDir     string
	PackedDir       string
	PackedExt       string
	PreviewDir      string
	PreviewExt      string
	FailureExitCode int
	Workers         int
}

// RunConfig is the immutable configuration of one invocation. It is built
// once from the user's configuration and handed to every component; nothing
// in the core reads ambient settings.
type RunConfig struct {
	// Root is the absolute project root.
	Root string
	// ArchiveName is the archive path relative to Root.
	ArchiveName string
	// ScanExclude lists top-level folders that are never scanned.
	ScanExclude []string
	// ArchiveExclude lists folders whose files never enter the archive.
	ArchiveExclude []string
	Scripts        ScriptSettings
	Assets         AssetSettings
}

// LedgerPath returns the location of the ledger document.
func (c RunConfig) LedgerPath() string {
	return filepath.Join(c.Root, StateDir, LedgerFileName)
}

// ArchivePath returns the absolute archive location. A non-empty override
// replaces the configured archive name for this run.
func (c RunConfig) ArchivePath(override string) string {
	name := c.ArchiveName
	if override != "" {
		name = override
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Root, name)
}

// ArchiveTempPrefix is the name prefix of the temp file an archive is
// staged in, beside its target, before being renamed over it.
func ArchiveTempPrefix(archivePath string) string {
	return ".tmp-" + filepath.Base(archivePath) + "-"
}

// ArchiveFiles returns a predicate matching the archive at archivePath and
// its staging temp files by their normalized path relative to Root. An
// archive outside Root matches nothing.
func (c RunConfig) ArchiveFiles(archivePath string) func(rel string) bool {
	rel, err := filepath.Rel(c.Root, archivePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return func(string) bool { return false }
	}
	rel = filepath.ToSlash(rel)
	tempPrefix := path.Join(path.Dir(rel), ArchiveTempPrefix(archivePath))
	return func(p string) bool {
		return p == rel || strings.HasPrefix(p, tempPrefix)
	}
}

// ScanExclusions returns the top-level folders the tree scanner skips.
// The state folder is always among them.
func (c RunConfig) ScanExclusions() []string {
	return appendUnique(c.ScanExclude, StateDir)
}

// ArchiveExclusions returns the folders kept out of the archive. The
// unpacked-sources folder is always among them.
func (c RunConfig) ArchiveExclusions() []string {
	if c.Assets.UnpackedDir == "" {
		return append([]string(nil), c.ArchiveExclude...)
	}
	return appendUnique(c.ArchiveExclude, c.Assets.UnpackedDir)
}

// IsCompilable reports whether the relative path names a script source.
func (c RunConfig) IsCompilable(rel string) bool {
	ext := strings.ToLower(filepath.Ext(rel))
	if ext == "" {
		return false
	}
	for _, e := range c.Scripts.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func appendUnique(list []string, extra string) []string {
	out := append([]string(nil), list...)
	norm := strings.Trim(filepath.ToSlash(extra), "/")
	for _, v := range out {
		if strings.Trim(filepath.ToSlash(v), "/") == norm {
			return out
		}
	}
	return append(out, extra)
}
