package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"pakr/internal/pakr"
)

// IgnoreFileName is the per-project ignore file, read from the project root.
const IgnoreFileName = ".pakrignore"

// ignoreRule is one line of filesystem.ignore or .pakrignore:
//
//	*.bak         glob against the last path element, files and folders
//	meshes/work   folder boundary: the path itself and everything below it
//	meshes/*/wip  glob against the whole relative path
//	build/        trailing slash: folders only
type ignoreRule struct {
	pattern  string
	anchored bool
	literal  bool
	dirOnly  bool
}

// IgnoreRules decides which parts of the project tree the scanner leaves
// out. Ignored folders are not descended into.
type IgnoreRules struct {
	rules []ignoreRule
}

// NewIgnoreRules parses raw pattern lines. Blank lines and lines starting
// with '#' are skipped; a malformed glob is an error.
func NewIgnoreRules(lines []string) (*IgnoreRules, error) {
	r := &IgnoreRules{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = filepath.ToSlash(line)
		rule := ignoreRule{dirOnly: strings.HasSuffix(line, "/")}
		rule.pattern = strings.Trim(line, "/")
		if rule.pattern == "" {
			continue
		}
		if _, err := path.Match(rule.pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", line, err)
		}
		rule.anchored = strings.Contains(rule.pattern, "/")
		rule.literal = !strings.ContainsAny(rule.pattern, `*?[\`)
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// LoadIgnoreRules combines the configured patterns with those of the
// project's ignore file. The ignore file itself is always ignored.
func LoadIgnoreRules(root string, patterns []string) (*IgnoreRules, error) {
	lines := append([]string{IgnoreFileName}, patterns...)
	fromFile, err := readIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewIgnoreRules(append(lines, fromFile...))
}

// SkipDir reports whether the folder at rel, and so everything below it,
// is ignored.
func (r *IgnoreRules) SkipDir(rel string) bool {
	return r.match(rel, true)
}

// SkipFile reports whether the file at rel is ignored. Folder rules are not
// consulted: the scanner never reaches files below a skipped folder.
func (r *IgnoreRules) SkipFile(rel string) bool {
	return r.match(rel, false)
}

func (r *IgnoreRules) match(rel string, isDir bool) bool {
	rel = pakr.NormalizePath("", rel)
	if rel == "" {
		return false
	}
	base := path.Base(rel)
	for _, rule := range r.rules {
		if rule.dirOnly && !isDir {
			continue
		}
		var matched bool
		switch {
		case !rule.anchored:
			matched, _ = path.Match(rule.pattern, base)
		case rule.literal:
			matched = pakr.IsExcluded(rel, []string{rule.pattern})
		default:
			matched, _ = path.Match(rule.pattern, rel)
		}
		if matched {
			return true
		}
	}
	return false
}

// readIgnoreFile returns the lines of the ignore file, or nil when the
// project has none.
func readIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
