package pakr_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"pakr/internal/archive"
	"pakr/internal/database"
	"pakr/internal/fs"
	"pakr/internal/ledger"
	"pakr/internal/pakr"
	"pakr/internal/testutil"
	"pakr/internal/vault"
)

type harness struct {
	root     string
	cfg      pakr.RunConfig
	compiler *testutil.FakeCompiler
	packer   *testutil.FakePacker
	vcs      *testutil.StubVCS
	db       *database.SQLiteDatabase
	vault    *vault.MemoryVault
	logger   *testutil.RecordingLogger
	svc      *pakr.BuildService
}

func newHarness(t *testing.T, files map[string]string, configure ...func(*pakr.RunConfig, *pakr.Dependencies)) *harness {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, files)

	h := &harness{
		root: root,
		cfg: pakr.RunConfig{
			Root:        root,
			ArchiveName: "armory.zip",
			Scripts:     pakr.ScriptSettings{Extensions: []string{".psc"}},
			Assets:      assetSettings,
		},
		compiler: &testutil.FakeCompiler{Root: root, OutputDir: "scripts"},
		packer:   &testutil.FakePacker{Assets: assetSettings},
		vcs:      &testutil.StubVCS{Ref: "main"},
		db:       testutil.NewTestDatabase(t),
		vault:    testutil.NewTestVault(),
		logger:   &testutil.RecordingLogger{},
	}
	deps := pakr.Dependencies{
		Ledger:   ledger.NewStore(),
		Scanner:  fs.NewScanner(nil),
		Compiler: h.compiler,
		Packer:   h.packer,
		Archive:  archive.NewSyncer(h.logger),
		VCS:      h.vcs,
		History:  h.db,
		Vault:    h.vault,
		Logger:   h.logger,
		Clock:    testutil.FixedClock(),
		IDGen:    testutil.NewStubIDGenerator(),
	}
	for _, fn := range configure {
		fn(&h.cfg, &deps)
	}
	h.svc = pakr.NewBuildService(h.cfg, deps)
	return h
}

func (h *harness) archivePath() string { return h.cfg.ArchivePath("") }

func (h *harness) mustBuild(t *testing.T, opts pakr.BuildOptions) *pakr.BuildResult {
	t.Helper()
	res, err := h.svc.Build(opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Build() Success = false")
	}
	return res
}

func (h *harness) ledger(t *testing.T) pakr.Snapshot {
	t.Helper()
	snap, err := ledger.NewStore().Load(h.cfg.LedgerPath())
	if err != nil {
		t.Fatalf("loading ledger: %v", err)
	}
	return snap
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var modFiles = map[string]string{
	"scripts/source/quest.psc": "Scriptname Quest",
	"meshes/armor/iron.nif":    "iron mesh",
	"meshes/armor/steel.nif":   "steel mesh",
	"src/armor/iron.dds":       "iron texture",
}

func TestBuild_FirstRun(t *testing.T) {
	h := newHarness(t, modFiles)

	res := h.mustBuild(t, pakr.BuildOptions{})

	want := []string{
		"data/armor.bsa",
		"meshes/armor/iron.nif",
		"meshes/armor/steel.nif",
		"previews/armor.png",
		"scripts/quest.pex",
		"scripts/source/quest.psc",
	}
	entries := testutil.ReadZip(t, h.archivePath())
	if got := keys(entries); !reflect.DeepEqual(got, want) {
		t.Errorf("archive entries = %v, want %v", got, want)
	}
	if entries["scripts/quest.pex"] != "PEX:Scriptname Quest" {
		t.Errorf("compiled output = %q", entries["scripts/quest.pex"])
	}

	if got := h.compiler.Compiled(); !reflect.DeepEqual(got, []string{"quest.psc"}) {
		t.Errorf("compiled = %v", got)
	}

	// Unpacked sources are tracked but never archived.
	led := h.ledger(t)
	if _, ok := led["src/armor/iron.dds"]; !ok {
		t.Error("ledger missing unpacked source")
	}
	if len(led) != len(want)+1 {
		t.Errorf("ledger has %d entries, want %d", len(led), len(want)+1)
	}
	if res.Changed != len(want)+1 || res.Removed != 0 {
		t.Errorf("Changed/Removed = %d/%d", res.Changed, res.Removed)
	}

	rec, err := h.svc.FindBuild(res.BuildID)
	if err != nil || rec == nil {
		t.Fatalf("FindBuild() = %v, %v", rec, err)
	}
	if rec.Status != pakr.BuildSuccess || rec.Mode != pakr.ModeIncremental || !rec.FinishedAt.Valid {
		t.Errorf("record = %+v", rec)
	}
	if !rec.HasGeneration() || rec.Encrypted {
		t.Errorf("generation = %q/%q encrypted=%v", rec.ArchiveChecksum, rec.LedgerChecksum, rec.Encrypted)
	}
	if !h.vault.Has(rec.ArchiveChecksum) || !h.vault.Has(rec.LedgerChecksum) {
		t.Error("generation content not in vault")
	}
	archiveData, err := os.ReadFile(h.archivePath())
	if err != nil {
		t.Fatal(err)
	}
	if want := testutil.SHA256Hex(archiveData); rec.ArchiveChecksum != want {
		t.Errorf("ArchiveChecksum = %s, want %s", rec.ArchiveChecksum, want)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	h := newHarness(t, modFiles)
	h.mustBuild(t, pakr.BuildOptions{})
	before, err := os.Stat(h.archivePath())
	if err != nil {
		t.Fatal(err)
	}
	calls := len(h.compiler.Calls())
	h.packer.Reset()

	res := h.mustBuild(t, pakr.BuildOptions{})

	if res.Changed != 0 || res.Removed != 0 {
		t.Errorf("Changed/Removed = %d/%d, want 0/0", res.Changed, res.Removed)
	}
	if res.Archive.Written {
		t.Error("archive rewritten without changes")
	}
	after, err := os.Stat(h.archivePath())
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("archive modification time changed")
	}
	if len(h.compiler.Calls()) != calls || len(h.packer.Packed()) != 0 {
		t.Error("tools invoked on an unchanged tree")
	}

	rec, _ := h.svc.FindBuild(res.BuildID)
	if rec.HasGeneration() {
		t.Error("unchanged build stored a new generation")
	}
	if h.vault.Len() != 2 {
		t.Errorf("vault holds %d generations, want 2", h.vault.Len())
	}
}

func TestBuild_IncrementalChanges(t *testing.T) {
	h := newHarness(t, modFiles)
	h.mustBuild(t, pakr.BuildOptions{})

	testutil.WriteFile(t, h.root, "scripts/source/quest.psc", "Scriptname Quest2")
	testutil.WriteFile(t, h.root, "scripts/source/extra.psc", "Scriptname Extra")
	testutil.RemoveFile(t, h.root, "meshes/armor/steel.nif")

	res := h.mustBuild(t, pakr.BuildOptions{})

	calls := h.compiler.Calls()
	last := calls[len(calls)-1]
	if len(last) != 2 {
		t.Errorf("compiled %v, want only the two changed scripts", last)
	}
	for _, f := range last {
		if !filepath.IsAbs(f) {
			t.Errorf("compiler got relative path %q", f)
		}
	}

	entries := testutil.ReadZip(t, h.archivePath())
	if _, ok := entries["meshes/armor/steel.nif"]; ok {
		t.Error("removed file still archived")
	}
	if entries["scripts/quest.pex"] != "PEX:Scriptname Quest2" {
		t.Errorf("stale compiled output %q", entries["scripts/quest.pex"])
	}
	if entries["scripts/extra.pex"] != "PEX:Scriptname Extra" {
		t.Errorf("new compiled output %q", entries["scripts/extra.pex"])
	}
	if !reflect.DeepEqual(res.Archive.Pruned, []string{"meshes/armor/steel.nif"}) {
		t.Errorf("Pruned = %v", res.Archive.Pruned)
	}
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Removed)
	}
}

func TestBuild_CompileFailureKeepsLedger(t *testing.T) {
	h := newHarness(t, modFiles)
	h.compiler.Fail = map[string]bool{"quest.psc": true}

	res, err := h.svc.Build(pakr.BuildOptions{})
	var stageErr *pakr.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "compile" {
		t.Fatalf("Build() error = %v, want compile stage error", err)
	}
	if res.Success {
		t.Error("Success = true")
	}
	if !strings.Contains(strings.Join(stageErr.Log, "\n"), "syntax error") {
		t.Errorf("stage log = %v", stageErr.Log)
	}
	if _, err := os.Stat(h.cfg.LedgerPath()); !os.IsNotExist(err) {
		t.Error("ledger written after a failed build")
	}
	if _, err := os.Stat(h.archivePath()); !os.IsNotExist(err) {
		t.Error("archive written after a failed build")
	}
	rec, _ := h.svc.FindBuild(res.BuildID)
	if rec.Status != pakr.BuildFailed {
		t.Errorf("recorded status = %s", rec.Status)
	}

	// Fixing the script retries it from the last good state.
	h.compiler.Fail = nil
	h.mustBuild(t, pakr.BuildOptions{})
	if got := h.compiler.Compiled(); !reflect.DeepEqual(got, []string{"quest.psc", "quest.psc"}) {
		t.Errorf("compiled = %v", got)
	}
}

func TestBuild_AssetFailureKeepsLedger(t *testing.T) {
	h := newHarness(t, modFiles)
	h.packer.Fail = map[string]bool{"armor": true}

	res, err := h.svc.Build(pakr.BuildOptions{})
	var stageErr *pakr.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "assets" {
		t.Fatalf("Build() error = %v, want assets stage error", err)
	}
	if res.Assets == nil || !reflect.DeepEqual(res.Assets.Failed, []string{"armor"}) {
		t.Errorf("Assets = %+v", res.Assets)
	}
	if _, err := os.Stat(h.cfg.LedgerPath()); !os.IsNotExist(err) {
		t.Error("ledger written after a failed build")
	}
}

func TestBuild_ArchiveExclusion(t *testing.T) {
	files := map[string]string{
		"docs/readme.txt":       "notes",
		"meshes/armor/iron.nif": "iron",
	}
	h := newHarness(t, files, func(cfg *pakr.RunConfig, _ *pakr.Dependencies) {
		cfg.ArchiveExclude = []string{"docs"}
	})

	h.mustBuild(t, pakr.BuildOptions{})

	entries := testutil.ReadZip(t, h.archivePath())
	if _, ok := entries["docs/readme.txt"]; ok {
		t.Error("excluded file archived")
	}
	if _, ok := h.ledger(t)["docs/readme.txt"]; !ok {
		t.Error("excluded file missing from ledger")
	}
}

func TestBuild_ScanExclusion(t *testing.T) {
	files := map[string]string{
		"backup/old.nif":        "old",
		"meshes/armor/iron.nif": "iron",
	}
	h := newHarness(t, files, func(cfg *pakr.RunConfig, _ *pakr.Dependencies) {
		cfg.ScanExclude = []string{"backup"}
	})

	h.mustBuild(t, pakr.BuildOptions{})

	if _, ok := h.ledger(t)["backup/old.nif"]; ok {
		t.Error("scan-excluded file in ledger")
	}
	if _, ok := testutil.ReadZip(t, h.archivePath())["backup/old.nif"]; ok {
		t.Error("scan-excluded file archived")
	}
}

func TestBuild_ArchiveInScannedFolder(t *testing.T) {
	files := map[string]string{
		"dist/readme.txt":       "release notes",
		"meshes/armor/iron.nif": "iron",
	}
	h := newHarness(t, files, func(cfg *pakr.RunConfig, _ *pakr.Dependencies) {
		cfg.ArchiveName = "dist/mod.zip"
	})

	h.mustBuild(t, pakr.BuildOptions{})
	for run := 2; run <= 3; run++ {
		res := h.mustBuild(t, pakr.BuildOptions{})
		if res.Changed != 0 || res.Archive.Written {
			t.Errorf("run %d: Changed = %d, Written = %v, want an untouched archive", run, res.Changed, res.Archive.Written)
		}
	}

	entries := testutil.ReadZip(t, h.archivePath())
	if want := []string{"dist/readme.txt", "meshes/armor/iron.nif"}; !reflect.DeepEqual(keys(entries), want) {
		t.Errorf("archive entries = %v, want %v", keys(entries), want)
	}
	if _, ok := h.ledger(t)["dist/mod.zip"]; ok {
		t.Error("archive fingerprinted into the ledger")
	}

	report, err := h.svc.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !report.Changes.Empty() {
		t.Errorf("Status() changes = %v / %v", report.Changes.ChangedPaths(), report.Changes.RemovedPaths())
	}
}

func TestBuild_ArchiveOverrideInScannedFolder(t *testing.T) {
	files := map[string]string{"meshes/armor/iron.nif": "iron"}
	h := newHarness(t, files)

	opts := pakr.BuildOptions{Archive: "meshes/release.zip"}
	h.mustBuild(t, opts)
	res := h.mustBuild(t, opts)
	if res.Changed != 0 || res.Archive.Written {
		t.Errorf("Changed = %d, Written = %v on an unchanged tree", res.Changed, res.Archive.Written)
	}
	if _, ok := testutil.ReadZip(t, h.cfg.ArchivePath(opts.Archive))["meshes/release.zip"]; ok {
		t.Error("archive contains itself")
	}
}

func TestBuild_GroupRemoved(t *testing.T) {
	h := newHarness(t, modFiles)
	h.mustBuild(t, pakr.BuildOptions{})

	if err := os.RemoveAll(filepath.Join(h.root, "src", "armor")); err != nil {
		t.Fatal(err)
	}
	res := h.mustBuild(t, pakr.BuildOptions{})

	// The source removal is seen by the first scan, the orphaned outputs
	// only by the rescan after asset cleanup.
	if res.Removed != 3 {
		t.Errorf("Removed = %d, want 3", res.Removed)
	}
	if !reflect.DeepEqual(res.Assets.Orphans, []string{"data/armor.bsa", "previews/armor.png"}) {
		t.Errorf("Orphans = %v", res.Assets.Orphans)
	}
	led := h.ledger(t)
	entries := testutil.ReadZip(t, h.archivePath())
	for _, p := range []string{"src/armor/iron.dds", "data/armor.bsa", "previews/armor.png"} {
		if _, ok := led[p]; ok {
			t.Errorf("%s still in ledger", p)
		}
		if _, ok := entries[p]; ok {
			t.Errorf("%s still archived", p)
		}
	}
	if want := []string{"meshes/armor/iron.nif", "meshes/armor/steel.nif", "scripts/quest.pex", "scripts/source/quest.psc"}; !reflect.DeepEqual(keys(entries), want) {
		t.Errorf("archive entries = %v, want %v", keys(entries), want)
	}
}

// vanishingScanner drops one path from every scan after the first, as if
// the file disappeared between the two passes of a build.
type vanishingScanner struct {
	pakr.TreeScanner
	path  string
	calls int
}

func (s *vanishingScanner) Scan(root string, excluded []string, opts pakr.ScanOptions) (pakr.Snapshot, error) {
	snap, err := s.TreeScanner.Scan(root, excluded, opts)
	s.calls++
	if err == nil && s.calls > 1 {
		delete(snap, s.path)
	}
	return snap, err
}

func TestBuild_FileVanishesDuringRescan(t *testing.T) {
	var scanner *vanishingScanner
	h := newHarness(t, modFiles, func(_ *pakr.RunConfig, deps *pakr.Dependencies) {
		scanner = &vanishingScanner{TreeScanner: deps.Scanner, path: "meshes/armor/steel.nif"}
		deps.Scanner = scanner
	})

	res := h.mustBuild(t, pakr.BuildOptions{})

	if res.Changed != 6 || res.Removed != 1 {
		t.Errorf("Changed/Removed = %d/%d, want 6/1", res.Changed, res.Removed)
	}
	if _, ok := h.ledger(t)["meshes/armor/steel.nif"]; ok {
		t.Error("vanished file in ledger")
	}
	if _, ok := testutil.ReadZip(t, h.archivePath())["meshes/armor/steel.nif"]; ok {
		t.Error("vanished file archived")
	}

	// Tracked in a previous build, the vanished file is reported removed.
	scanner.calls = 0
	scanner.path = "meshes/armor/iron.nif"
	res = h.mustBuild(t, pakr.BuildOptions{})
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Removed)
	}
	if _, ok := testutil.ReadZip(t, h.archivePath())["meshes/armor/iron.nif"]; ok {
		t.Error("vanished file still archived")
	}
	if _, ok := h.ledger(t)["meshes/armor/iron.nif"]; ok {
		t.Error("vanished file still in ledger")
	}
}

func TestBuild_Full(t *testing.T) {
	h := newHarness(t, modFiles)
	h.mustBuild(t, pakr.BuildOptions{})

	res := h.mustBuild(t, pakr.BuildOptions{Full: true})

	if got := h.compiler.Compiled(); !reflect.DeepEqual(got, []string{"quest.psc", "quest.psc"}) {
		t.Errorf("compiled = %v, want every script twice", got)
	}
	if !res.Archive.Written || len(res.Archive.Pruned) != 0 {
		t.Errorf("Archive = %+v", res.Archive)
	}
	rec, _ := h.svc.FindBuild(res.BuildID)
	if rec.Mode != pakr.ModeFull {
		t.Errorf("Mode = %s, want full", rec.Mode)
	}
}

func TestBuild_ArchiveOverride(t *testing.T) {
	h := newHarness(t, modFiles)
	res := h.mustBuild(t, pakr.BuildOptions{Archive: "release.zip"})

	if res.ArchivePath != filepath.Join(h.root, "release.zip") {
		t.Errorf("ArchivePath = %s", res.ArchivePath)
	}
	if _, err := os.Stat(h.archivePath()); !os.IsNotExist(err) {
		t.Error("configured archive written despite override")
	}
	testutil.ReadZip(t, res.ArchivePath)
}

func TestBuild_DiffWindow(t *testing.T) {
	h := newHarness(t, modFiles)
	h.mustBuild(t, pakr.BuildOptions{})

	testutil.WriteFile(t, h.root, "meshes/armor/iron.nif", "iron v2")
	testutil.WriteFile(t, h.root, "meshes/armor/steel.nif", "steel v2")
	h.vcs.Changed = []string{"meshes/armor/iron.nif"}

	res := h.mustBuild(t, pakr.BuildOptions{From: "v1", To: "main"})

	entries := testutil.ReadZip(t, h.archivePath())
	if entries["meshes/armor/iron.nif"] != "iron v2" {
		t.Errorf("windowed file not updated: %q", entries["meshes/armor/iron.nif"])
	}
	if entries["meshes/armor/steel.nif"] != "steel mesh" {
		t.Errorf("file outside window updated: %q", entries["meshes/armor/steel.nif"])
	}
	if !reflect.DeepEqual(res.Archive.Updated, []string{"meshes/armor/iron.nif"}) {
		t.Errorf("Updated = %v", res.Archive.Updated)
	}
	rec, _ := h.svc.FindBuild(res.BuildID)
	if rec.Mode != pakr.ModeWindow {
		t.Errorf("Mode = %s, want window", rec.Mode)
	}
}

func TestBuild_DiffWindowErrors(t *testing.T) {
	tests := []struct {
		name    string
		opts    pakr.BuildOptions
		vcs     testutil.StubVCS
		wantErr string
	}{
		{
			name:    "missing from",
			opts:    pakr.BuildOptions{To: "main"},
			vcs:     testutil.StubVCS{Ref: "main"},
			wantErr: "both a from and a to",
		},
		{
			name:    "wrong checkout",
			opts:    pakr.BuildOptions{From: "v1", To: "main"},
			vcs:     testutil.StubVCS{Ref: "feature"},
			wantErr: "expected \"main\"",
		},
		{
			name:    "git unavailable",
			opts:    pakr.BuildOptions{From: "v1", To: "main"},
			vcs:     testutil.StubVCS{Unavailable: errors.New("git not found")},
			wantErr: "git not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, modFiles)
			*h.vcs = tt.vcs

			_, err := h.svc.Build(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Build() error = %v, want containing %q", err, tt.wantErr)
			}
			if len(h.compiler.Calls()) != 0 {
				t.Error("compiler ran despite a window error")
			}
		})
	}
}

func TestBuild_MissingRoot(t *testing.T) {
	h := newHarness(t, nil, func(cfg *pakr.RunConfig, _ *pakr.Dependencies) {
		cfg.Root = filepath.Join(cfg.Root, "missing")
	})

	res, err := h.svc.Build(pakr.BuildOptions{})
	if err == nil {
		t.Fatal("Build() expected error for missing root")
	}
	rec, _ := h.svc.FindBuild(res.BuildID)
	if rec == nil || rec.Status != pakr.BuildFailed {
		t.Errorf("record = %+v", rec)
	}
}

func TestBuild_WithoutOptionalCollaborators(t *testing.T) {
	h := newHarness(t, modFiles, func(_ *pakr.RunConfig, deps *pakr.Dependencies) {
		deps.History = nil
		deps.Vault = nil
		deps.VCS = nil
	})

	h.mustBuild(t, pakr.BuildOptions{})
	if _, err := h.svc.History(10); err == nil {
		t.Error("History() expected error without a history store")
	}
	if _, err := h.svc.Build(pakr.BuildOptions{From: "a", To: "b"}); err == nil {
		t.Error("windowed Build() expected error without version control")
	}
}

func TestHistory(t *testing.T) {
	h := newHarness(t, modFiles)
	first := h.mustBuild(t, pakr.BuildOptions{})
	second := h.mustBuild(t, pakr.BuildOptions{Full: true})

	recs, err := h.svc.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(recs) != 2 || recs[0].BuildID != second.BuildID || recs[1].BuildID != first.BuildID {
		t.Errorf("History() = %v", recs)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, modFiles)
	h.mustBuild(t, pakr.BuildOptions{})
	calls := len(h.compiler.Calls())

	testutil.WriteFile(t, h.root, "meshes/armor/iron.nif", "iron v2")
	testutil.RemoveFile(t, h.root, "meshes/armor/steel.nif")

	report, err := h.svc.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got := report.Changes.ChangedPaths(); !reflect.DeepEqual(got, []string{"meshes/armor/iron.nif"}) {
		t.Errorf("changed = %v", got)
	}
	if got := report.Changes.RemovedPaths(); !reflect.DeepEqual(got, []string{"meshes/armor/steel.nif"}) {
		t.Errorf("removed = %v", got)
	}
	if len(h.compiler.Calls()) != calls {
		t.Error("Status() ran the compiler")
	}
	if _, ok := report.Ledger["meshes/armor/steel.nif"]; !ok {
		t.Error("report ledger missing previous entry")
	}
}

func TestRestore(t *testing.T) {
	h := newHarness(t, modFiles)
	first := h.mustBuild(t, pakr.BuildOptions{})
	firstArchive, err := os.ReadFile(h.archivePath())
	if err != nil {
		t.Fatal(err)
	}
	firstLedger := h.ledger(t)

	testutil.WriteFile(t, h.root, "meshes/armor/iron.nif", "iron v2")
	h.mustBuild(t, pakr.BuildOptions{})

	rec, err := h.svc.Restore(first.BuildID, nil)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if rec.BuildID != first.BuildID {
		t.Errorf("restored %s", rec.BuildID)
	}
	restored, err := os.ReadFile(h.archivePath())
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(firstArchive) {
		t.Error("restored archive differs from the stored generation")
	}
	if got := h.ledger(t); !reflect.DeepEqual(got, firstLedger) {
		t.Error("restored ledger differs from the stored generation")
	}

	// The next build picks up the change again.
	res := h.mustBuild(t, pakr.BuildOptions{})
	if !reflect.DeepEqual(res.Archive.Updated, []string{"meshes/armor/iron.nif"}) {
		t.Errorf("Updated after restore = %v", res.Archive.Updated)
	}
}

func TestRestore_Encrypted(t *testing.T) {
	enc := testutil.NewTestEncryptor()
	h := newHarness(t, modFiles, func(_ *pakr.RunConfig, deps *pakr.Dependencies) {
		deps.Encryptor = enc
	})
	first := h.mustBuild(t, pakr.BuildOptions{})
	want, err := os.ReadFile(h.archivePath())
	if err != nil {
		t.Fatal(err)
	}

	rec, _ := h.svc.FindBuild(first.BuildID)
	if !rec.Encrypted {
		t.Fatal("generation not marked encrypted")
	}
	var stored strings.Builder
	if err := h.vault.GetContent(rec.ArchiveChecksum, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.String() == string(want) {
		t.Error("vault holds plaintext archive")
	}

	if err := os.Remove(h.archivePath()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Restore(first.BuildID, nil); err == nil {
		t.Fatal("Restore() without decryption context expected error")
	}

	ctx, err := enc.Unlock("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Restore(first.BuildID, ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := os.ReadFile(h.archivePath())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Error("restored archive differs from original")
	}
}

func TestRestore_Errors(t *testing.T) {
	h := newHarness(t, modFiles)
	h.compiler.Fail = map[string]bool{"quest.psc": true}
	failed, _ := h.svc.Build(pakr.BuildOptions{})
	h.compiler.Fail = nil
	h.mustBuild(t, pakr.BuildOptions{})
	unchanged := h.mustBuild(t, pakr.BuildOptions{})

	for name, id := range map[string]string{
		"unknown build": "nope",
		"failed build":  failed.BuildID,
		"no generation": unchanged.BuildID,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := h.svc.Restore(id, nil); err == nil {
				t.Errorf("Restore(%s) expected error", id)
			}
		})
	}
}

func TestBuild_GenerationStoreFailureIsWarning(t *testing.T) {
	h := newHarness(t, modFiles, func(_ *pakr.RunConfig, deps *pakr.Dependencies) {
		deps.Vault = failingVault{}
	})

	res := h.mustBuild(t, pakr.BuildOptions{})
	rec, _ := h.svc.FindBuild(res.BuildID)
	if rec.Status != pakr.BuildSuccess || rec.HasGeneration() {
		t.Errorf("record = %+v", rec)
	}
	if !h.logger.Contains("WARN archive generation not stored") {
		t.Errorf("missing warning in %v", h.logger.Lines())
	}
}

type failingVault struct{}

func (failingVault) PutContent(string, io.Reader, int64) error {
	return errors.New("disk full")
}

func (failingVault) GetContent(string, io.Writer) error {
	return errors.New("disk full")
}

func (failingVault) ValidateSetup() error {
	return nil
}
