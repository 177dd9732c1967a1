package pakr_test

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pakr/internal/pakr"
	"pakr/internal/testutil"
)

var assetSettings = pakr.AssetSettings{
	Packer:      "packer",
	UnpackedDir: "src",
	PackedDir:   "data",
	PackedExt:   ".bsa",
	PreviewDir:  "previews",
	PreviewExt:  ".png",
	Workers:     2,
}

func newCoordinator(t *testing.T, files map[string]string) (string, *pakr.AssetCoordinator, *testutil.FakePacker) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, files)
	packer := &testutil.FakePacker{Assets: assetSettings}
	cfg := pakr.RunConfig{Root: root, Assets: assetSettings}
	return root, pakr.NewAssetCoordinator(cfg, packer, pakr.NewNopLogger()), packer
}

func exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func TestAssetCoordinator_PacksMissingOutputs(t *testing.T) {
	root, c, packer := newCoordinator(t, map[string]string{
		"src/armor/iron.dds":   "iron",
		"src/weapons/axe.dds":  "axe",
		"scripts/source/a.psc": "script",
	})

	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Regenerate() failed: %v", res.Log)
	}
	if want := []string{"armor", "weapons"}; !reflect.DeepEqual(res.Packed, want) {
		t.Errorf("Packed = %v, want %v", res.Packed, want)
	}
	if want := []string{"armor", "weapons"}; !reflect.DeepEqual(packer.Packed(), want) {
		t.Errorf("packer invoked for %v, want %v", packer.Packed(), want)
	}
	for _, rel := range []string{"data/armor.bsa", "previews/armor.png", "data/weapons.bsa", "previews/weapons.png"} {
		if !exists(root, rel) {
			t.Errorf("%s not created", rel)
		}
	}
}

func TestAssetCoordinator_Idempotent(t *testing.T) {
	_, c, packer := newCoordinator(t, map[string]string{
		"src/armor/iron.dds": "iron",
	})
	if _, err := c.Regenerate(pakr.NewChangeSet()); err != nil {
		t.Fatal(err)
	}
	packer.Reset()

	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if len(res.Packed) != 0 || len(packer.Packed()) != 0 {
		t.Errorf("second pass packed %v", res.Packed)
	}
	if want := []string{"armor"}; !reflect.DeepEqual(res.Skipped, want) {
		t.Errorf("Skipped = %v, want %v", res.Skipped, want)
	}
	if !containsLine(res.Log, "nothing packed") {
		t.Errorf("Log = %v, want a \"nothing packed\" line", res.Log)
	}
}

func TestAssetCoordinator_RepacksChangedGroup(t *testing.T) {
	root, c, packer := newCoordinator(t, map[string]string{
		"src/armor/iron.dds":  "iron",
		"src/weapons/axe.dds": "axe",
	})
	if _, err := c.Regenerate(pakr.NewChangeSet()); err != nil {
		t.Fatal(err)
	}
	packer.Reset()

	testutil.WriteFile(t, root, "src/armor/iron.dds", "steel")
	changes := pakr.Diff(pakr.Snapshot{"src/armor/iron.dds": 1}, pakr.Snapshot{"src/armor/iron.dds": 2})

	res, err := c.Regenerate(changes)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"armor"}; !reflect.DeepEqual(res.Packed, want) {
		t.Errorf("Packed = %v, want %v", res.Packed, want)
	}
	data, err := os.ReadFile(filepath.Join(root, "data", "armor.bsa"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "steel") {
		t.Errorf("packed output not regenerated: %q", data)
	}
}

func TestAssetCoordinator_MissingPreviewRepacks(t *testing.T) {
	root, c, packer := newCoordinator(t, map[string]string{
		"src/armor/iron.dds": "iron",
	})
	if _, err := c.Regenerate(pakr.NewChangeSet()); err != nil {
		t.Fatal(err)
	}
	packer.Reset()
	testutil.RemoveFile(t, root, "previews/armor.png")

	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"armor"}; !reflect.DeepEqual(res.Packed, want) {
		t.Errorf("Packed = %v, want %v", res.Packed, want)
	}
	if !exists(root, "previews/armor.png") {
		t.Error("preview not regenerated")
	}
}

func TestAssetCoordinator_RemovesOrphans(t *testing.T) {
	root, c, _ := newCoordinator(t, map[string]string{
		"src/armor/iron.dds": "iron",
		"data/old.bsa":       "stale",
		"previews/old.png":   "stale",
		"data/readme.txt":    "not an output",
	})

	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"data/old.bsa", "previews/old.png"}; !reflect.DeepEqual(res.Orphans, want) {
		t.Errorf("Orphans = %v, want %v", res.Orphans, want)
	}
	if exists(root, "data/old.bsa") || exists(root, "previews/old.png") {
		t.Error("orphaned outputs still on disk")
	}
	if !exists(root, "data/readme.txt") {
		t.Error("file with another extension was removed")
	}
}

func TestAssetCoordinator_FailureIsolation(t *testing.T) {
	root, c, packer := newCoordinator(t, map[string]string{
		"src/armor/iron.dds":  "iron",
		"src/weapons/axe.dds": "axe",
		"src/shields/a.dds":   "shield",
	})
	packer.Fail = map[string]bool{"armor": true}
	packer.NoOutput = map[string]bool{"shields": true}

	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if res.Success {
		t.Error("Success = true with a failing group")
	}
	if want := []string{"armor"}; !reflect.DeepEqual(res.Failed, want) {
		t.Errorf("Failed = %v, want %v", res.Failed, want)
	}
	if want := []string{"weapons"}; !reflect.DeepEqual(res.Packed, want) {
		t.Errorf("Packed = %v, want %v", res.Packed, want)
	}
	if !exists(root, "data/weapons.bsa") {
		t.Error("healthy group not packed")
	}
	if !containsLine(res.Log, "bad texture in armor") {
		t.Errorf("Log missing packer output: %v", res.Log)
	}
	if !containsLine(res.Log, "shields: packer exited with 2") {
		t.Errorf("Log missing no-output line: %v", res.Log)
	}
}

func TestAssetCoordinator_NoOutputIsNotFailure(t *testing.T) {
	_, c, packer := newCoordinator(t, map[string]string{
		"src/armor/iron.dds": "iron",
	})
	packer.NoOutput = map[string]bool{"armor": true}

	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || len(res.Failed) != 0 {
		t.Errorf("Success = %v, Failed = %v", res.Success, res.Failed)
	}
	if !containsLine(res.Log, "nothing packed") {
		t.Errorf("Log = %v, want a \"nothing packed\" line", res.Log)
	}
}

func TestAssetCoordinator_Disabled(t *testing.T) {
	c := pakr.NewAssetCoordinator(pakr.RunConfig{Root: t.TempDir()}, &testutil.FakePacker{}, nil)
	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || len(res.Log) != 0 {
		t.Errorf("disabled coordinator result = %+v", res)
	}
}

func TestAssetCoordinator_NoGroups(t *testing.T) {
	_, c, _ := newCoordinator(t, map[string]string{"scripts/a.psc": "x"})
	res, err := c.Regenerate(pakr.NewChangeSet())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !containsLine(res.Log, "nothing packed") {
		t.Errorf("result = %+v", res)
	}
}

func TestAssetCoordinator_ParallelDeterministic(t *testing.T) {
	files := make(map[string]string)
	var want []string
	for i := 0; i < 24; i++ {
		g := fmt.Sprintf("group%02d", i)
		files["src/"+g+"/t.dds"] = g
		want = append(want, g)
	}

	var logs [][]string
	for run := 0; run < 3; run++ {
		_, c, _ := newCoordinator(t, files)
		res, err := c.Regenerate(pakr.NewChangeSet())
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(res.Packed, want) {
			t.Fatalf("Packed = %v, want %v", res.Packed, want)
		}
		logs = append(logs, res.Log)
	}
	for i := 1; i < len(logs); i++ {
		if !reflect.DeepEqual(logs[0], logs[i]) {
			t.Errorf("log of run %d differs from run 0", i)
		}
	}
}

func containsLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
