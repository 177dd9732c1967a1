package pakr

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Dependencies are the collaborators of a BuildService. History, Vault,
// Encryptor and VCS are optional; the rest are required.
type Dependencies struct {
	Ledger    LedgerStore
	Scanner   TreeScanner
	Compiler  Compiler
	Packer    Packer
	Archive   ArchiveSyncer
	VCS       VersionControl
	History   History
	Vault     Vault
	Encryptor Encryptor
	Logger    Logger
	Clock     Clock
	IDGen     IDGenerator
}

// BuildService runs the incremental build pipeline:
//
//	load ledger -> scan -> compile -> regenerate assets -> rescan -> sync archive -> save ledger
//
// Every stage runs on the calling goroutine. The ledger is only written once
// every other stage has succeeded, so a failed build is retried from the
// last known-good state.
type BuildService struct {
	cfg       RunConfig
	ledger    LedgerStore
	scanner   TreeScanner
	compiler  Compiler
	assets    *AssetCoordinator
	archive   ArchiveSyncer
	vcs       VersionControl
	history   History
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewBuildService creates a BuildService for one invocation.
func NewBuildService(cfg RunConfig, deps Dependencies) *BuildService {
	logger := deps.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock{}
	}
	idgen := deps.IDGen
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	return &BuildService{
		cfg:       cfg,
		ledger:    deps.Ledger,
		scanner:   deps.Scanner,
		compiler:  deps.Compiler,
		assets:    NewAssetCoordinator(cfg, deps.Packer, logger),
		archive:   deps.Archive,
		vcs:       deps.VCS,
		history:   deps.History,
		vault:     deps.Vault,
		encryptor: deps.Encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// Build modes recorded in the history.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
	ModeWindow      = "window"
)

// BuildOptions are the per-run inputs of a build.
type BuildOptions struct {
	// Full discards the ledger and the archive before building.
	Full bool
	// From and To restrict archive updates to the files changed between
	// two version-control references. To must be checked out.
	From string
	To   string
	// Archive overrides the configured archive name for this run.
	Archive string
}

// Windowed reports whether the run is restricted to a diff window.
func (o BuildOptions) Windowed() bool {
	return o.From != "" || o.To != ""
}

// Mode names the kind of run.
func (o BuildOptions) Mode() string {
	switch {
	case o.Full:
		return ModeFull
	case o.Windowed():
		return ModeWindow
	default:
		return ModeIncremental
	}
}

// BuildResult is what a caller can report or act on after a build.
type BuildResult struct {
	BuildID     string
	Success     bool
	Changed     int
	Removed     int
	ArchivePath string
	Compile     *CompileResult
	Assets      *AssetResult
	Archive     *SyncResult
}

// StageError reports a pipeline stage that ran but did not succeed, such as
// the compiler exiting with its failure code or an asset group failing.
type StageError struct {
	Stage string
	Log   []string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed", e.Stage)
}

// Build runs one build. On failure the returned result carries whatever the
// stages produced before the failure and Success is false.
func (s *BuildService) Build(opts BuildOptions) (*BuildResult, error) {
	result := &BuildResult{
		BuildID:     s.idgen.New(),
		ArchivePath: s.cfg.ArchivePath(opts.Archive),
	}
	rec := &BuildRecord{
		BuildID:     result.BuildID,
		StartedAt:   s.clock.Now(),
		Mode:        opts.Mode(),
		Status:      BuildRunning,
		ArchivePath: result.ArchivePath,
	}
	if s.history != nil {
		if err := s.history.CreateBuild(rec); err != nil {
			return nil, fmt.Errorf("recording build start: %w", err)
		}
	}

	s.logger.Info("build started", "build_id", result.BuildID, "mode", rec.Mode, "root", s.cfg.Root)
	err := s.build(opts, result)

	rec.Changed = result.Changed
	rec.Removed = result.Removed
	if err != nil {
		rec.Status = BuildFailed
		s.logger.Error("build failed", "build_id", result.BuildID, "error", err)
	} else {
		result.Success = true
		rec.Status = BuildSuccess
		if result.Archive != nil && result.Archive.Written {
			s.storeGeneration(rec)
		}
		s.logger.Info("build finished", "build_id", result.BuildID, "changed", result.Changed, "removed", result.Removed)
	}
	rec.FinishedAt = sql.NullTime{Time: s.clock.Now(), Valid: true}

	if s.history != nil {
		if ferr := s.history.FinishBuild(rec); ferr != nil {
			s.logger.Error("recording build result failed", "build_id", result.BuildID, "error", ferr)
		}
	}
	return result, err
}

func (s *BuildService) build(opts BuildOptions, result *BuildResult) error {
	if err := s.checkRoot(); err != nil {
		return err
	}

	var window map[string]struct{}
	if opts.Windowed() {
		w, err := s.diffWindow(opts)
		if err != nil {
			return err
		}
		window = w
	}

	if opts.Full {
		if err := s.discard(result.ArchivePath); err != nil {
			return err
		}
	}

	prev, err := s.ledger.Load(s.cfg.LedgerPath())
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}

	// The archive may sit inside a scanned folder; it never fingerprints itself.
	isArchive := s.cfg.ArchiveFiles(result.ArchivePath)
	excluded := s.cfg.ScanExclusions()
	first, err := s.scanner.Scan(s.cfg.Root, excluded, ScanOptions{Skip: isArchive})
	if err != nil {
		return fmt.Errorf("scanning project: %w", err)
	}
	changes := Diff(prev, first)
	s.logger.Info("changes detected", "changed", len(changes.Changed), "removed", len(changes.Removed))

	compiled, err := s.compile(changes)
	result.Compile = compiled
	if err != nil {
		return err
	}

	assets, err := s.assets.Regenerate(changes)
	if err != nil {
		return fmt.Errorf("regenerating assets: %w", err)
	}
	result.Assets = assets
	if !assets.Success {
		return &StageError{Stage: "assets", Log: assets.Log}
	}

	// Compiler and packer outputs land in the tree; a second pass picks
	// them up and is merged into the first.
	second, err := s.scanner.Scan(s.cfg.Root, excluded, ScanOptions{
		BestEffort: true,
		OnSkip: func(path string, err error) {
			s.logger.Warn("file skipped during rescan", "path", path, "error", err)
		},
		Skip: isArchive,
	})
	if err != nil {
		return fmt.Errorf("rescanning project: %w", err)
	}
	changes = Merge(changes, Diff(first, second))
	result.Changed = len(changes.Changed)
	result.Removed = len(changes.Removed)

	synced, err := s.archive.Sync(&SyncRequest{
		Root:        s.cfg.Root,
		ArchivePath: result.ArchivePath,
		Snapshot:    second,
		Changes:     changes,
		Excluded:    s.cfg.ArchiveExclusions(),
		Window:      window,
	})
	if err != nil {
		return fmt.Errorf("synchronizing archive: %w", err)
	}
	result.Archive = synced
	s.logger.Info("archive synchronized",
		"path", synced.Path,
		"pruned", len(synced.Pruned),
		"updated", len(synced.Updated),
		"healed", len(synced.Healed),
		"entries", synced.Entries,
	)

	if err := s.ledger.Save(s.cfg.LedgerPath(), second); err != nil {
		return fmt.Errorf("saving ledger: %w", err)
	}
	return nil
}

// compile runs the script compiler over the changed compilable files.
func (s *BuildService) compile(changes *ChangeSet) (*CompileResult, error) {
	var files []string
	for _, p := range changes.ChangedPaths() {
		if s.cfg.IsCompilable(p) {
			files = append(files, filepath.Join(s.cfg.Root, filepath.FromSlash(p)))
		}
	}
	if len(files) == 0 {
		s.logger.Debug("no scripts to compile")
		return &CompileResult{Success: true}, nil
	}

	res, err := s.compiler.Compile(files)
	if err != nil {
		return nil, fmt.Errorf("running script compiler: %w", err)
	}
	for _, line := range res.Diagnostics {
		s.logger.Warn("compiler diagnostic", "message", line)
	}
	if !res.Success {
		log := append(append([]string(nil), res.Compiled...), res.Diagnostics...)
		return res, &StageError{Stage: "compile", Log: log}
	}
	s.logger.Info("scripts compiled", "files", len(files), "list_file", res.UsedListFile)
	return res, nil
}

// diffWindow resolves the set of files changed between the two references.
func (s *BuildService) diffWindow(opts BuildOptions) (map[string]struct{}, error) {
	if opts.From == "" || opts.To == "" {
		return nil, fmt.Errorf("diff window requires both a from and a to reference")
	}
	if s.vcs == nil {
		return nil, fmt.Errorf("diff window requested but no version control is configured")
	}
	if err := s.vcs.Available(); err != nil {
		return nil, fmt.Errorf("diff window requested: %w", err)
	}

	ref, err := s.vcs.CurrentRef(s.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("reading checked-out reference: %w", err)
	}
	if ref != opts.To {
		return nil, fmt.Errorf("checked-out reference is %q, expected %q", ref, opts.To)
	}

	files, err := s.vcs.ChangedFiles(s.cfg.Root, opts.From, opts.To)
	if err != nil {
		return nil, fmt.Errorf("listing changed files: %w", err)
	}
	window := make(map[string]struct{}, len(files))
	for _, f := range files {
		window[NormalizePath(s.cfg.Root, f)] = struct{}{}
	}
	s.logger.Info("diff window resolved", "from", opts.From, "to", opts.To, "files", len(window))
	return window, nil
}

// discard drops the ledger and the archive for a full rebuild.
func (s *BuildService) discard(archivePath string) error {
	if err := s.ledger.Discard(s.cfg.LedgerPath()); err != nil {
		return fmt.Errorf("discarding ledger: %w", err)
	}
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discarding archive: %w", err)
	}
	s.logger.Info("ledger and archive discarded for full rebuild")
	return nil
}

func (s *BuildService) checkRoot() error {
	info, err := os.Stat(s.cfg.Root)
	if err != nil {
		return fmt.Errorf("project root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project root is not a directory: %s", s.cfg.Root)
	}
	return nil
}
