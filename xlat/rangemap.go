package xlat

import (
	"sort"

	kd "github.com/thesamesam/libkdumpfile"
)

// MethodID indexes a Method within a System's fixed meth[] slot array —
// it is the same small closed set MethodSlot names (PGT, DIRECT, RDIRECT,
// KTEXT, KPHYS_MACHPHYS, MACHPHYS_KPHYS), mirroring addrxlat_map_t, whose
// ranges each name one of the system's own meth[] entries by index rather
// than by an independently-assigned ID. MethodID is declared as its own
// type (not simply MethodSlot) because map_copy and a Map's on-disk
// representation only ever need "an index comparable to NoMethod", never
// the slot's String() method or its iteration order guarantees.
type MethodID int

// NoMethod is the MethodID meaning "no method covers this range" — the
// untouched parts of a Map's domain implicitly resolve to it.
const NoMethod MethodID = -1

// SlotMethodID converts a MethodSlot to the MethodID a Map range should
// name to route through that slot.
func SlotMethodID(slot MethodSlot) MethodID { return MethodID(slot) }

// rangeEntry is one covered, non-overlapping span within a Map, ordered by
// increasing address. EndOff is the last address included in the range
// (inclusive), matching addrxlat_range_t's convention so a range can cover
// up to and including ^uint64(0) without overflowing "length".
type rangeEntry struct {
	EndOff uint64
	Meth   MethodID
}

// Map is an ordered, non-overlapping set of address ranges, each mapped to
// a method, mirroring addrxlat_map_t. It is adapted from
// gopheros's kernel/mem/vmm.Map: where vmm.Map threaded page-table-entry
// mutations directly into the live page tables, this Map instead threads
// them into a binary-searchable slice of rangeEntry, since a translation
// graph's ranges are data describing a walk rather than the walk's own
// storage.
type Map struct {
	// starts[i] is the first address of ranges[i]'s span; starts is kept
	// sorted so Search can binary-search it.
	starts  []uint64
	ranges  []rangeEntry
}

// NewMap returns an empty Map, a map in which every address resolves to
// NoMethod.
func NewMap() *Map {
	return &Map{}
}

// Search returns the MethodID covering addr, or NoMethod if addr falls in
// an uncovered gap.
func (m *Map) Search(addr uint64) MethodID {
	i := sort.Search(len(m.starts), func(i int) bool { return m.starts[i] > addr })
	i--
	if i < 0 {
		return NoMethod
	}
	if addr > m.ranges[i].EndOff {
		return NoMethod
	}
	return m.ranges[i].Meth
}

// Set installs meth as the method covering [start, end] (inclusive).
// Overlap with any existing range is rejected with KindInvalid rather than
// silently clobbered, since the System that owns this Map is published
// immutable and a last-writer-wins overlap policy would let a later Set
// silently corrupt an already-published route.
func (m *Map) Set(start, end uint64, meth MethodID) *kd.Error {
	if end < start {
		return kd.Errorf(kd.KindInvalid, "range end 0x%x precedes start 0x%x", end, start)
	}
	insertAt := sort.Search(len(m.starts), func(i int) bool { return m.starts[i] >= start })

	if insertAt > 0 {
		prev := m.ranges[insertAt-1]
		if prev.EndOff >= start {
			return kd.Errorf(kd.KindInvalid, "range [0x%x,0x%x] overlaps existing range ending 0x%x", start, end, prev.EndOff)
		}
	}
	if insertAt < len(m.starts) && m.starts[insertAt] <= end {
		return kd.Errorf(kd.KindInvalid, "range [0x%x,0x%x] overlaps existing range starting 0x%x", start, end, m.starts[insertAt])
	}

	// Coalesce with an immediately adjacent range of the same method, so
	// the range list stays minimal (no two consecutive entries ever name
	// the same method).
	if insertAt > 0 && m.ranges[insertAt-1].Meth == meth && m.ranges[insertAt-1].EndOff+1 == start {
		m.ranges[insertAt-1].EndOff = end
		m.coalesceForward(insertAt - 1)
		return nil
	}
	if insertAt < len(m.starts) && m.ranges[insertAt].Meth == meth && end+1 == m.starts[insertAt] {
		m.starts[insertAt] = start
		return nil
	}

	m.starts = append(m.starts, 0)
	copy(m.starts[insertAt+1:], m.starts[insertAt:])
	m.starts[insertAt] = start

	m.ranges = append(m.ranges, rangeEntry{})
	copy(m.ranges[insertAt+1:], m.ranges[insertAt:])
	m.ranges[insertAt] = rangeEntry{EndOff: end, Meth: meth}
	return nil
}

// coalesceForward merges ranges[i] with ranges[i+1] if they are now
// contiguous and share a method, after an in-place EndOff extension.
func (m *Map) coalesceForward(i int) {
	if i+1 >= len(m.ranges) {
		return
	}
	if m.ranges[i].Meth != m.ranges[i+1].Meth {
		return
	}
	if m.ranges[i].EndOff+1 != m.starts[i+1] {
		return
	}
	m.ranges[i].EndOff = m.ranges[i+1].EndOff
	m.starts = append(m.starts[:i+1], m.starts[i+2:]...)
	m.ranges = append(m.ranges[:i+1], m.ranges[i+2:]...)
}

// Copy returns a deep copy of m, so a System's published Maps can be
// cloned before an in-progress mutation (e.g. while building a revised
// translation system from a running one).
func (m *Map) Copy() *Map {
	cp := &Map{
		starts: append([]uint64(nil), m.starts...),
		ranges: append([]rangeEntry(nil), m.ranges...),
	}
	return cp
}

// Len reports the number of distinct ranges currently covered.
func (m *Map) Len() int { return len(m.ranges) }
