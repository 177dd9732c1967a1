package pakr

import (
	"path/filepath"
	"strings"
)

// NormalizePath converts p into the slash-separated form used for snapshot
// keys and archive entry names. When p is inside root it is made relative to
// root first. Leading separators and a Windows drive letter are stripped.
func NormalizePath(root, p string) string {
	if root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	s := filepath.ToSlash(p)
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "/")
	if s == "." {
		return ""
	}
	return s
}

// IsExcluded reports whether the normalized path falls under one of the
// excluded folders. A folder matches the path itself or anything below it;
// "docs" excludes "docs/readme.txt" but not "docs2/readme.txt".
//
// Snapshot keys and archive entry names must both go through this function so
// that pruning and skipping agree.
func IsExcluded(p string, excluded []string) bool {
	p = NormalizePath("", p)
	for _, ex := range excluded {
		ex = strings.Trim(filepath.ToSlash(ex), "/")
		if ex == "" {
			continue
		}
		if p == ex || strings.HasPrefix(p, ex+"/") {
			return true
		}
	}
	return false
}
