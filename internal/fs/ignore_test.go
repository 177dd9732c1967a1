package fs

import (
	"os"
	"path/filepath"
	"testing"

	"pakr/internal/pakr"
)

func TestIgnoreRules(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		rel      string
		isDir    bool
		want     bool
	}{
		{name: "name glob matches file at any depth", patterns: []string{"*.bak"}, rel: "meshes/armor/iron.nif.bak", want: true},
		{name: "name glob matches folder", patterns: []string{"wip*"}, rel: "meshes/wip-helmet", isDir: true, want: true},
		{name: "name glob misses other extension", patterns: []string{"*.bak"}, rel: "meshes/iron.nif", want: false},
		{name: "literal path matches the folder", patterns: []string{"meshes/work"}, rel: "meshes/work", isDir: true, want: true},
		{name: "literal path matches below the folder", patterns: []string{"meshes/work"}, rel: "meshes/work/deep/a.nif", want: true},
		{name: "literal path respects folder boundary", patterns: []string{"meshes/work"}, rel: "meshes/workshop", isDir: true, want: false},
		{name: "path glob matches whole path", patterns: []string{"meshes/*/wip"}, rel: "meshes/armor/wip", isDir: true, want: true},
		{name: "path glob does not cross separators", patterns: []string{"meshes/*/wip"}, rel: "meshes/armor/iron/wip", isDir: true, want: false},
		{name: "folder rule skips folder", patterns: []string{"build/"}, rel: "scripts/build", isDir: true, want: true},
		{name: "folder rule ignores file of same name", patterns: []string{"build/"}, rel: "scripts/build", want: false},
		{name: "comments and blanks", patterns: []string{"", "  ", "# *.nif"}, rel: "meshes/a.nif", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := NewIgnoreRules(tt.patterns)
			if err != nil {
				t.Fatalf("NewIgnoreRules() error = %v", err)
			}
			got := rules.SkipFile(tt.rel)
			if tt.isDir {
				got = rules.SkipDir(tt.rel)
			}
			if got != tt.want {
				t.Errorf("skip(%q, dir=%v) = %v, want %v", tt.rel, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestIgnoreRules_FolderBoundaryMatchesExclusion(t *testing.T) {
	rules, err := NewIgnoreRules([]string{"meshes/docs"})
	if err != nil {
		t.Fatal(err)
	}
	for _, rel := range []string{"meshes/docs", "meshes/docs/a.nif", "meshes/docs2/a.nif", "meshes/doc"} {
		want := pakr.IsExcluded(rel, []string{"meshes/docs"})
		if got := rules.SkipDir(rel); got != want {
			t.Errorf("SkipDir(%q) = %v, want %v", rel, got, want)
		}
	}
}

func TestNewIgnoreRules_BadPattern(t *testing.T) {
	if _, err := NewIgnoreRules([]string{"meshes/[a"}); err == nil {
		t.Error("NewIgnoreRules() expected error for malformed glob")
	}
}

func TestLoadIgnoreRules(t *testing.T) {
	t.Run("without ignore file", func(t *testing.T) {
		rules, err := LoadIgnoreRules(t.TempDir(), []string{"*.tmp"})
		if err != nil {
			t.Fatalf("LoadIgnoreRules() error = %v", err)
		}
		if !rules.SkipFile("a/x.tmp") {
			t.Error("configured pattern not applied")
		}
		if !rules.SkipFile("a/" + IgnoreFileName) {
			t.Error("ignore file itself not ignored")
		}
	})

	t.Run("bad pattern in ignore file", func(t *testing.T) {
		root := t.TempDir()
		if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("[\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadIgnoreRules(root, nil); err == nil {
			t.Error("LoadIgnoreRules() expected error")
		}
	})
}

func TestScanner_IgnoredFolders(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		IgnoreFileName:               "build/\nmeshes/work\n",
		"meshes/work/deep/tmp.nif":   "scratch",
		"meshes/workshop/anvil.nif":  "anvil",
		"scripts/build/quest.pex":    "output",
		"scripts/notes/build":        "a file named build",
		"textures/cache/preview.dds": "cache",
		"textures/iron.dds":          "iron",
	})

	got, err := NewScanner([]string{"cache"}).Scan(root, nil, pakr.ScanOptions{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	for _, p := range []string{"meshes/work/deep/tmp.nif", "scripts/build/quest.pex", "textures/cache/preview.dds"} {
		if _, ok := got[p]; ok {
			t.Errorf("file %q below an ignored folder was scanned", p)
		}
	}
	for _, p := range []string{"meshes/workshop/anvil.nif", "scripts/notes/build", "textures/iron.dds"} {
		if _, ok := got[p]; !ok {
			t.Errorf("file %q missing from scan", p)
		}
	}
}

func TestScanner_IgnoredFolderNotRead(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"meshes/locked/a.nif": "a",
		"meshes/b.nif":        "b",
	})
	locked := filepath.Join(root, "meshes", "locked")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	// A strict scan fails on an unreadable folder unless it is skipped unread.
	got, err := NewScanner([]string{"meshes/locked"}).Scan(root, nil, pakr.ScanOptions{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if _, ok := got["meshes/b.nif"]; !ok {
		t.Error("meshes/b.nif missing from scan")
	}
}

func TestScanner_SkipOption(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"dist/mod.zip":          "archive",
		"dist/.tmp-mod.zip-123": "staging",
		"dist/readme.txt":       "readme",
	})

	got, err := NewScanner(nil).Scan(root, nil, pakr.ScanOptions{
		Skip: func(p string) bool { return p == "dist/mod.zip" || p == "dist/.tmp-mod.zip-123" },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("Scan() = %v, want only dist/readme.txt", got)
	}
	if _, ok := got["dist/readme.txt"]; !ok {
		t.Error("dist/readme.txt missing from scan")
	}
}
