package pakr

import (
	"sort"
	"strings"
)

// ChangeSet is the difference between two snapshots.
//
// A path is in Changed iff it is in the newer snapshot and either absent from
// the older one or present with a different checksum. A path is in Removed iff
// it is in the older snapshot but absent from the newer one.
type ChangeSet struct {
	Changed map[string]uint64
	Removed map[string]struct{}
}

// NewChangeSet returns an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		Changed: make(map[string]uint64),
		Removed: make(map[string]struct{}),
	}
}

// Diff computes the change set that turns prev into next.
// It performs no I/O and does not depend on map iteration order.
func Diff(prev, next Snapshot) *ChangeSet {
	cs := NewChangeSet()
	for p, sum := range next {
		if old, ok := prev[p]; !ok || old != sum {
			cs.Changed[p] = sum
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			cs.Removed[p] = struct{}{}
		}
	}
	return cs
}

// Merge combines two successive change sets computed within one build.
//
// Changes from second overwrite those from first for the same path. A path
// removed by second is dropped from the merged Changed set and recorded as
// removed; a path changed by second is no longer considered removed.
func Merge(first, second *ChangeSet) *ChangeSet {
	merged := NewChangeSet()
	if first != nil {
		for p, sum := range first.Changed {
			merged.Changed[p] = sum
		}
		for p := range first.Removed {
			merged.Removed[p] = struct{}{}
		}
	}
	if second == nil {
		return merged
	}
	for p := range second.Removed {
		delete(merged.Changed, p)
		merged.Removed[p] = struct{}{}
	}
	for p, sum := range second.Changed {
		merged.Changed[p] = sum
		delete(merged.Removed, p)
	}
	return merged
}

// Empty reports whether the change set records no changes at all.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.Changed) == 0 && len(cs.Removed) == 0)
}

// Len returns the number of changed and removed paths.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Changed) + len(cs.Removed)
}

// ChangedPaths returns the added or modified paths in lexical order.
func (cs *ChangeSet) ChangedPaths() []string {
	if cs == nil {
		return nil
	}
	paths := make([]string, 0, len(cs.Changed))
	for p := range cs.Changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RemovedPaths returns the removed paths in lexical order.
func (cs *ChangeSet) RemovedPaths() []string {
	if cs == nil {
		return nil
	}
	paths := make([]string, 0, len(cs.Removed))
	for p := range cs.Removed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Touches reports whether any changed or removed path lies under dir.
// dir is a slash-separated relative folder path.
func (cs *ChangeSet) Touches(dir string) bool {
	if cs == nil {
		return false
	}
	prefix := strings.Trim(dir, "/") + "/"
	for p := range cs.Changed {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for p := range cs.Removed {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
