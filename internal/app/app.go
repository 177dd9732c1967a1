package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pakr/internal/archive"
	"pakr/internal/config"
	"pakr/internal/database"
	"pakr/internal/encryption"
	"pakr/internal/fs"
	"pakr/internal/ledger"
	"pakr/internal/pakr"
	"pakr/internal/toolchain"
	"pakr/internal/vault"
	"pakr/internal/vcs"
)

// ErrSchemaOutdated is returned when the history database needs migrating.
var ErrSchemaOutdated = errors.New("build history schema is out of date: run `pakr db migrate`")

// PassphraseFunc asks the user for a passphrase.
type PassphraseFunc func() (string, error)

// Options tune how a PakrApp is constructed.
type Options struct {
	// ConfigDir anchors a relative project root; usually the folder holding
	// the config file.
	ConfigDir string
	// Stderr receives a copy of every log line. Nil logs to the file only.
	Stderr io.Writer
}

// PakrApp is the application layer between the CLI and BuildService.
// It constructs all dependencies from config and releases them on Close.
type PakrApp struct {
	cfg       *config.Config
	run       pakr.RunConfig
	db        *database.SQLiteDatabase
	vault     pakr.Vault
	encryptor pakr.Encryptor
	service   *pakr.BuildService
	inv       *Invocation
	logger    pakr.Logger
	logFile   *os.File
	clock     pakr.Clock
}

// NewPakrApp creates a fully wired PakrApp from the given config. command
// names the CLI command being run. The caller must call Close when done.
func NewPakrApp(cfg *config.Config, command string, opts Options) (*PakrApp, error) {
	run, err := cfg.RunConfig(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("resolving configuration: %w", err)
	}

	db, err := openDatabase(cfg, run)
	if err != nil {
		return nil, err
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w (%v)", ErrSchemaOutdated, err)
	}

	var v pakr.Vault
	if len(cfg.Vaults) > 0 {
		v, err = vault.NewVaultFromConfig(cfg.Vaults[0])
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		if err := v.ValidateSetup(); err != nil {
			db.Close()
			return nil, fmt.Errorf("vault not usable: %w", err)
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	clock := pakr.RealClock{}
	inv := NewInvocation(command, clock.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, inv.ID, opts.Stderr)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	svc := pakr.NewBuildService(run, pakr.Dependencies{
		Ledger:    ledger.NewStore(),
		Scanner:   fs.NewScanner(cfg.Filesystem.Ignore),
		Compiler:  toolchain.NewCompiler(run.Scripts, run.Root, logger),
		Packer:    toolchain.NewPacker(run.Assets),
		Archive:   archive.NewSyncer(logger),
		VCS:       vcs.NewGit(cfg.VCS.Git),
		History:   db,
		Vault:     v,
		Encryptor: enc,
		Logger:    logger,
		Clock:     clock,
		IDGen:     pakr.UUIDGenerator{},
	})

	logger.Debug("command started", "command", command, "root", run.Root)
	return &PakrApp{
		cfg:       cfg,
		run:       run,
		db:        db,
		vault:     v,
		encryptor: enc,
		service:   svc,
		inv:       inv,
		logger:    logger,
		logFile:   logFile,
		clock:     clock,
	}, nil
}

// RunConfig returns the resolved per-invocation settings.
func (a *PakrApp) RunConfig() pakr.RunConfig {
	return a.run
}

// Build runs one build. An encryption setup without keys is refused before
// anything is touched, since the generation could not be stored.
func (a *PakrApp) Build(opts pakr.BuildOptions) (*pakr.BuildResult, error) {
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not initialized: run `pakr keys init`")
	}
	return a.service.Build(opts)
}

// Status reports what the next incremental build would start from.
func (a *PakrApp) Status() (*pakr.StatusReport, error) {
	return a.service.Status()
}

// LedgerDiff renders the difference between the ledger and the tree in
// report as a unified diff.
func (a *PakrApp) LedgerDiff(report *pakr.StatusReport) (string, error) {
	return ledger.UnifiedDiff(report.Ledger, report.Snapshot)
}

// History returns the most recent builds, newest first.
func (a *PakrApp) History(limit int) ([]*pakr.BuildRecord, error) {
	return a.service.History(limit)
}

// Restore puts the archive and ledger of buildID back in place. passphrase
// is only consulted when the generation is encrypted.
func (a *PakrApp) Restore(buildID string, passphrase PassphraseFunc) (*pakr.BuildRecord, error) {
	rec, err := a.service.FindBuild(buildID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("build not found: %s", buildID)
	}

	var decryptCtx pakr.DecryptionContext
	if rec.Encrypted {
		if a.encryptor == nil {
			return nil, fmt.Errorf("build %s is encrypted but encryption is disabled in the config", buildID)
		}
		pass, err := passphrase()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		decryptCtx, err = a.encryptor.Unlock(pass)
		if err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}
	return a.service.Restore(buildID, decryptCtx)
}

// Close closes the database and the log file.
func (a *PakrApp) Close() error {
	a.logger.Debug("command finished", "command", a.inv.Command, "elapsed", a.inv.Elapsed(a.clock.Now()))

	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}

// MigrateDatabase brings the build history schema of the configured project
// up to date.
func MigrateDatabase(cfg *config.Config, configDir string) error {
	run, err := cfg.RunConfig(configDir)
	if err != nil {
		return fmt.Errorf("resolving configuration: %w", err)
	}
	db, err := openDatabase(cfg, run)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating build history: %w", err)
	}
	return nil
}

// InitKeys generates the encryption key pair, protecting the private key
// with the passphrase.
func InitKeys(cfg *config.Config, passphrase PassphraseFunc) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption is disabled: set encryption.type = \"age\" first")
	}
	if enc.IsConfigured() {
		return encryption.ErrKeysExist
	}

	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	return enc.Setup(pass)
}

// openDatabase opens the history database. A sqlite database without a
// data_dir lives in the project's state folder.
func openDatabase(cfg *config.Config, run pakr.RunConfig) (*database.SQLiteDatabase, error) {
	dbCfg := cfg.Database
	if dbCfg.Type == "sqlite" && dbCfg.DataDir == "" {
		dbCfg.DataDir = filepath.Join(run.Root, pakr.StateDir)
	}
	db, err := database.NewDatabaseFromConfig(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening build history: %w", err)
	}
	return db, nil
}
