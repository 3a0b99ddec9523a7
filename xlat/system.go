package xlat

import (
	"sync/atomic"

	kd "github.com/thesamesam/libkdumpfile"
)

// MethodSlot names one of the well-known method roles a System fills in,
// mirroring addrxlat_sys_meth_t's enumeration.
type MethodSlot int

const (
	// SlotPGT is the root page-table walk method (KVA/user-virtual -> KPA).
	SlotPGT MethodSlot = iota
	// SlotDirect is the direct-map method (KPA -> KVA, a LINEAR offset).
	SlotDirect
	// SlotRDirect is the reverse of SlotDirect (KVA -> KPA) when it can be
	// computed more directly than inverting SlotDirect's LINEAR method.
	SlotRDirect
	// SlotKText is the kernel-text mapping method (KVA -> KPA for the
	// kernel image itself, distinct from the direct map).
	SlotKText
	// SlotKPhysMachPhys converts KPA -> MPA (identity outside Xen; a PGT
	// walk of the Xen p2m table under Xen).
	SlotKPhysMachPhys
	// SlotMachPhysKPhys is the reverse of SlotKPhysMachPhys (MPA -> KPA).
	SlotMachPhysKPhys

	numMethodSlots
)

// String names the slot.
func (s MethodSlot) String() string {
	switch s {
	case SlotPGT:
		return "PGT"
	case SlotDirect:
		return "DIRECT"
	case SlotRDirect:
		return "RDIRECT"
	case SlotKText:
		return "KTEXT"
	case SlotKPhysMachPhys:
		return "KPHYS_MACHPHYS"
	case SlotMachPhysKPhys:
		return "MACHPHYS_KPHYS"
	default:
		return "unknown"
	}
}

// MapSlot names one of the well-known per-address-space range Maps a
// System holds, mirroring addrxlat_sys_map_t's enumeration.
type MapSlot int

const (
	// MapHW is the hardware-visible map: how the dump's native address
	// space (KVA or user-virtual) routes to methods.
	MapHW MapSlot = iota
	// MapKVPhys routes KVA -> KPA.
	MapKVPhys
	// MapKPhysDirect routes KPA -> KVA via the direct map.
	MapKPhysDirect
	// MapKPhysMachPhys routes KPA -> MPA.
	MapKPhysMachPhys
	// MapMachPhysKPhys routes MPA -> KPA.
	MapMachPhysKPhys

	numMapSlots
)

// String names the slot.
func (s MapSlot) String() string {
	switch s {
	case MapHW:
		return "HW"
	case MapKVPhys:
		return "KV_PHYS"
	case MapKPhysDirect:
		return "KPHYS_DIRECT"
	case MapKPhysMachPhys:
		return "KPHYS_MACHPHYS"
	case MapMachPhysKPhys:
		return "MACHPHYS_KPHYS"
	default:
		return "unknown"
	}
}

// System is a complete, self-consistent translation graph: a fixed set of
// named Methods plus the named Maps that route addresses to them, mirroring
// addrxlat_sys_t. Once Publish is called a System is treated as immutable
// and may be shared (via reference counting) across any number of
// concurrent Contexts, matching the "read-mostly, shared, refcounted"
// resource model used for dictionaries, extended here to translation
// systems.
type System struct {
	refs int32

	meth [numMethodSlots]*Method
	maps [numMapSlots]*Map

	published bool
}

// NewSystem returns an empty, still-mutable System with one reference.
func NewSystem() *System {
	return &System{refs: 1}
}

// SetMethod installs meth in the given slot. It is an error to call this
// after Publish.
func (s *System) SetMethod(slot MethodSlot, meth *Method) *kd.Error {
	if s.published {
		return kd.Errorf(kd.KindInvalid, "cannot modify a published translation system")
	}
	s.meth[slot] = meth
	return nil
}

// Method returns the method installed in the given slot, or nil.
func (s *System) Method(slot MethodSlot) *Method { return s.meth[slot] }

// SetMap installs m in the given slot, replacing any existing Map there.
// It is an error to call this after Publish.
func (s *System) SetMap(slot MapSlot, m *Map) *kd.Error {
	if s.published {
		return kd.Errorf(kd.KindInvalid, "cannot modify a published translation system")
	}
	s.maps[slot] = m
	return nil
}

// Map returns the Map installed in the given slot, or nil if none was set.
func (s *System) Map(slot MapSlot) *Map { return s.maps[slot] }

// MapMethod resolves addr within the given map slot down to a concrete
// *Method, or KindNoMethod if the map has no entry there, or is itself
// absent.
func (s *System) MapMethod(slot MapSlot, addr uint64) (*Method, *kd.Error) {
	m := s.maps[slot]
	if m == nil {
		return nil, kd.Errorf(kd.KindNoMethod, "translation system has no %s map", slot)
	}
	id := m.Search(addr)
	if id == NoMethod {
		return nil, kd.Errorf(kd.KindNoMethod, "no method covers address 0x%x in %s map", addr, slot)
	}
	if int(id) < 0 || int(id) >= len(s.meth) {
		return nil, kd.Errorf(kd.KindInvalid, "map range for address 0x%x names out-of-range method slot %d", addr, id)
	}
	meth := s.meth[id]
	if meth == nil {
		return nil, kd.Errorf(kd.KindNoMethod, "translation system has no method installed in slot %d", id)
	}
	return meth, nil
}

// Publish freezes the System so SetMethod/SetMap will now fail. Publishing
// is idempotent.
func (s *System) Publish() { s.published = true }

// Get acquires a reference to s.
func (s *System) Get() *System {
	atomic.AddInt32(&s.refs, 1)
	return s
}

// Put releases a reference to s. Callers must not use s after its last Put.
func (s *System) Put() {
	atomic.AddInt32(&s.refs, -1)
}
