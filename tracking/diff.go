package tracking

import "sort"

// DiffKind classifies how a path differs between two manifests.
type DiffKind uint8

const (
	DiffUnchanged DiffKind = iota
	DiffAdded
	DiffRemoved
	DiffChanged
)

func (k DiffKind) String() string {
	switch k {
	case DiffAdded:
		return "added"
	case DiffRemoved:
		return "removed"
	case DiffChanged:
		return "changed"
	default:
		return "unchanged"
	}
}

// DiffEntry describes one path's change between two manifests.
type DiffEntry struct {
	Path   string
	Kind   DiffKind
	Before Entry
	After  Entry
}

// Diff compares from against to and returns one DiffEntry per path present
// in either manifest, in bytewise path order.
func Diff(from, to *Manifest) []DiffEntry {
	seen := make(map[string]bool)
	paths := make([]string, 0, len(from.paths)+len(to.paths))
	for _, p := range from.Paths() {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, p := range to.Paths() {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	out := make([]DiffEntry, 0, len(paths))
	for _, p := range paths {
		before, hadBefore := from.Get(p)
		after, hadAfter := to.Get(p)
		switch {
		case !hadBefore && hadAfter:
			out = append(out, DiffEntry{Path: p, Kind: DiffAdded, After: after})
		case hadBefore && !hadAfter:
			out = append(out, DiffEntry{Path: p, Kind: DiffRemoved, Before: before})
		case before == after:
			out = append(out, DiffEntry{Path: p, Kind: DiffUnchanged, Before: before, After: after})
		default:
			out = append(out, DiffEntry{Path: p, Kind: DiffChanged, Before: before, After: after})
		}
	}
	return out
}
