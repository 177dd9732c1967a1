package pakr

import "sort"

// Snapshot maps a normalized, slash-separated path relative to the project
// root to the content checksum of that file. The ledger persisted by the last
// successful build is a Snapshot as well.
type Snapshot map[string]uint64

// Fingerprint describes one file at a point in time.
type Fingerprint struct {
	Path     string
	Checksum uint64
}

// Paths returns the snapshot keys in lexical order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Fingerprints returns the snapshot as a slice ordered by path.
func (s Snapshot) Fingerprints() []Fingerprint {
	out := make([]Fingerprint, 0, len(s))
	for _, p := range s.Paths() {
		out = append(out, Fingerprint{Path: p, Checksum: s[p]})
	}
	return out
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for p, sum := range s {
		out[p] = sum
	}
	return out
}
