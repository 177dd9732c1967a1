package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestGit_Available(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		g := NewGit(filepath.Join(t.TempDir(), "no-git"))
		if err := g.Available(); err == nil {
			t.Error("Available() expected error for missing binary")
		}
	})

	t.Run("installed git", func(t *testing.T) {
		requireGit(t)
		if err := NewGit("").Available(); err != nil {
			t.Errorf("Available() error = %v", err)
		}
	})
}

func TestGit_DiffWindow(t *testing.T) {
	requireGit(t)

	repo := t.TempDir()
	project := filepath.Join(repo, "mod")
	gitRun(t, repo, "init", "-q", "-b", "main")
	writeFile(t, filepath.Join(project, "scripts", "a.psc"), "a1")
	writeFile(t, filepath.Join(repo, "README"), "outside")
	gitRun(t, repo, "add", ".")
	gitRun(t, repo, "commit", "-q", "-m", "first")
	gitRun(t, repo, "tag", "v1")

	writeFile(t, filepath.Join(project, "scripts", "a.psc"), "a2")
	writeFile(t, filepath.Join(project, "meshes", "b.nif"), "b")
	writeFile(t, filepath.Join(repo, "README"), "changed outside")
	gitRun(t, repo, "add", ".")
	gitRun(t, repo, "commit", "-q", "-m", "second")

	g := NewGit("")

	ref, err := g.CurrentRef(project)
	if err != nil {
		t.Fatalf("CurrentRef() error = %v", err)
	}
	if ref != "main" {
		t.Errorf("CurrentRef() = %q, want main", ref)
	}

	files, err := g.ChangedFiles(project, "v1", "main")
	if err != nil {
		t.Fatalf("ChangedFiles() error = %v", err)
	}
	sort.Strings(files)
	want := []string{"meshes/b.nif", "scripts/a.psc"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("ChangedFiles() = %v, want %v", files, want)
	}

	if _, err := g.ChangedFiles(project, "no-such-ref", "main"); err == nil {
		t.Error("ChangedFiles() expected error for unknown reference")
	}
}
