package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"pakr/internal/pakr"
)

// Config represents the main configuration for pakr.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Project    ProjectConfig    `toml:"project"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Scripts    ScriptsConfig    `toml:"scripts"`
	Assets     AssetsConfig     `toml:"assets"`
	VCS        VCSConfig        `toml:"vcs"`
	Database   DatabaseConfig   `toml:"database"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// ProjectConfig describes the project tree and its archive.
type ProjectConfig struct {
	// Root is the project folder. Relative roots are resolved against the
	// folder holding the config file; empty means that folder itself.
	Root string `toml:"root"`
	// Archive is the archive path relative to Root. Defaults to
	// "<root folder name>.zip".
	Archive        string   `toml:"archive"`
	ScanExclude    []string `toml:"scan_exclude"`
	ArchiveExclude []string `toml:"archive_exclude"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// ScriptsConfig configures the external script compiler.
type ScriptsConfig struct {
	Compiler         string   `toml:"compiler"`
	Args             []string `toml:"args"`
	Extensions       []string `toml:"extensions"`
	FailureExitCode  int      `toml:"failure_exit_code"`
	MaxCommandLength int      `toml:"max_command_length"`
}

// AssetsConfig configures derived-asset regeneration. Leaving UnpackedDir
// empty disables it.
type AssetsConfig struct {
	Packer          string `toml:"packer"`
	UnpackedDir     string `toml:"unpacked_dir"`
	PackedDir       string `toml:"packed_dir"`
	PackedExt       string `toml:"packed_ext"`
	PreviewDir      string `toml:"preview_dir"`
	PreviewExt      string `toml:"preview_ext"`
	FailureExitCode int    `toml:"failure_exit_code"`
	Workers         int    `toml:"workers"`
}

// VCSConfig configures the version-control collaborator.
type VCSConfig struct {
	Git string `toml:"git,omitempty"` // path to the git binary; empty means git on PATH
}

// EncryptionConfig holds paths to the age key pair used for encrypting
// archive generations.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory" or "filesystem"
	Name string `toml:"name"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the build history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a Config for the project at root with default tool
// settings and data kept under baseDir.
func NewConfig(root, baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Project: ProjectConfig{
			Root: root,
		},
		Scripts: ScriptsConfig{
			Extensions:       []string{".psc"},
			FailureExitCode:  1,
			MaxCommandLength: 8191,
		},
		Assets: AssetsConfig{
			FailureExitCode: 1,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(root, pakr.StateDir),
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "pakr.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "pakr.key"),
		},
	}
}

// RunConfig converts the configuration into the immutable per-invocation
// settings of the build core. configDir is the folder holding the config
// file and anchors a relative project root.
func (c *Config) RunConfig(configDir string) (pakr.RunConfig, error) {
	root := c.Project.Root
	switch {
	case root == "":
		root = configDir
	case !filepath.IsAbs(root):
		root = filepath.Join(configDir, root)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return pakr.RunConfig{}, fmt.Errorf("resolving project root: %w", err)
	}

	archive := c.Project.Archive
	if archive == "" {
		archive = filepath.Base(root) + ".zip"
	}

	a := c.Assets
	if a.UnpackedDir != "" {
		if a.PackedDir == "" || a.PreviewDir == "" {
			return pakr.RunConfig{}, fmt.Errorf("assets: packed_dir and preview_dir are required with unpacked_dir")
		}
		if a.PackedExt == "" || a.PreviewExt == "" {
			return pakr.RunConfig{}, fmt.Errorf("assets: packed_ext and preview_ext are required with unpacked_dir")
		}
	}

	return pakr.RunConfig{
		Root:           root,
		ArchiveName:    archive,
		ScanExclude:    append([]string(nil), c.Project.ScanExclude...),
		ArchiveExclude: append([]string(nil), c.Project.ArchiveExclude...),
		Scripts: pakr.ScriptSettings{
			Compiler:         c.Scripts.Compiler,
			Args:             append([]string(nil), c.Scripts.Args...),
			Extensions:       append([]string(nil), c.Scripts.Extensions...),
			FailureExitCode:  c.Scripts.FailureExitCode,
			MaxCommandLength: c.Scripts.MaxCommandLength,
		},
		Assets: pakr.AssetSettings{
			Packer:          a.Packer,
			UnpackedDir:     a.UnpackedDir,
			PackedDir:       a.PackedDir,
			PackedExt:       a.PackedExt,
			PreviewDir:      a.PreviewDir,
			PreviewExt:      a.PreviewExt,
			FailureExitCode: a.FailureExitCode,
			Workers:         a.Workers,
		},
	}, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. An existing file is never
// overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
