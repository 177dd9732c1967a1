// Package vcs answers diff-window questions using the git command line.
package vcs

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"pakr/internal/pakr"
)

// Git runs the git binary.
type Git struct {
	program string
}

// Compile-time check that Git implements pakr.VersionControl.
var _ pakr.VersionControl = (*Git)(nil)

// NewGit creates a Git collaborator. An empty program means "git" on PATH.
func NewGit(program string) *Git {
	if program == "" {
		program = "git"
	}
	return &Git{program: program}
}

// Available fails when git cannot be run.
func (g *Git) Available() error {
	if _, err := g.output("", "--version"); err != nil {
		return fmt.Errorf("git is not available: %w", err)
	}
	return nil
}

// CurrentRef returns the checked-out branch name, or "HEAD" when detached.
func (g *Git) CurrentRef(dir string) (string, error) {
	out, err := g.output(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ChangedFiles lists files that differ between from and to, relative to dir.
// git reports paths relative to the repository top level, so they are
// re-rooted onto dir and paths outside dir are dropped.
func (g *Git) ChangedFiles(dir, from, to string) ([]string, error) {
	top, err := g.output(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	top = strings.TrimSpace(top)

	out, err := g.output(dir, "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	// Symlinked temp dirs make git's top level differ from dir textually.
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		abs := filepath.Join(top, filepath.FromSlash(line))
		rel, err := filepath.Rel(absDir, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		files = append(files, pakr.NormalizePath("", rel))
	}
	return files, nil
}

func (g *Git) output(dir string, args ...string) (string, error) {
	cmd := exec.Command(g.program, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: exit %d: %s", args[0], exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}
