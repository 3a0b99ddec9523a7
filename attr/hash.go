package attr

import "strings"

// hashSegment folds one path segment into a running FNV-1a style hash.
// pathHash calls this once per dot-separated component rather than hashing
// the whole path in a single pass, so a directory's hash can be derived
// from its longest-matching leaf's hash incrementally.
func hashSegment(h uint64, seg string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	if h == 0 {
		h = offset64
	}
	for i := 0; i < len(seg); i++ {
		h ^= uint64(seg[i])
		h *= prime64
	}
	return h
}

// directoryMarker is folded into a directory attribute's hash after its
// name, as if the directory's path ended in a trailing dot. This keeps a
// directory's hash distinct from a leaf that happens to share its name
// (e.g. a future "arch" leaf vs. the "arch" directory). The dots that
// separate segments are never folded in themselves (pathHash splits on
// them), so only a directory's hash contains this byte after its name.
const directoryMarker = '.'

// pathHash computes the incremental hash of a dotted attribute path,
// segment by segment, matching hashSegment's per-segment folding. isDir
// selects whether the trailing-dot marker is folded in last.
func pathHash(path string, isDir bool) uint64 {
	var h uint64
	for _, seg := range strings.Split(path, ".") {
		h = hashSegment(h, seg)
	}
	if isDir {
		h = hashSegment(h, string(directoryMarker))
	}
	return h
}

// keycmp reports whether candidate is the attribute at path, comparing
// dot-separated segments from the right (the leaf name first, then each
// ancestor in turn): a hash-bucket collision chain is resolved this way
// because two different paths that hash to the same bucket most
// often first differ in their leaf segment, so checking right-to-left
// rejects a mismatch after the fewest comparisons.
func keycmp(candidate, path string) bool {
	if candidate == path {
		return true
	}
	cs := strings.Split(candidate, ".")
	ps := strings.Split(path, ".")
	if len(cs) != len(ps) {
		return false
	}
	for i := len(cs) - 1; i >= 0; i-- {
		if cs[i] != ps[i] {
			return false
		}
	}
	return true
}
