// Package xlat implements a generic address-translation engine: a directed
// graph of translation Methods composed via per-range Maps across a set of
// named address spaces, plus the Step/walk machinery that evaluates it.
//
// The walk loop (Step.step, Walk) is adapted from gopheros's
// kernel/mem/vmm.walk, whose level-by-level callback loop over a fixed
// pageLevels/pageLevelShifts table is the direct ancestor of this package's
// arch-parameterized PagingForm walk; Map.Set/Search is adapted from
// vmm.Map/Unmap's page-table-entry mutation into an address-range routing
// table, and Convert is adapted from vmm.Translate's "walk then add the
// page offset" shape.
package xlat

import (
	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/attr"
)

// AddrSpace identifies which address space a full address belongs to.
// Values are kept numerically identical to attr.AddrSpace so that
// xlat.Address and attr.Address can be converted between with a plain type
// conversion (see ToAttr/FromAttr below).
type AddrSpace uint8

const (
	// SpaceNone is the sentinel for "unset".
	SpaceNone AddrSpace = iota
	// SpaceMachPhys is a machine-physical address (MPA): the host's view of
	// physical memory, meaningful even under Xen where a guest's physical
	// memory is itself virtualized.
	SpaceMachPhys
	// SpaceKPhys is a kernel-physical address (KPA): the guest/kernel's own
	// view of physical memory.
	SpaceKPhys
	// SpaceKVirt is a kernel-virtual address (KVA).
	SpaceKVirt
	// SpaceUserVirt is a user-virtual address.
	SpaceUserVirt
	// SpaceMachFrame is a machine-frame number (MFN = MPA >> page_shift),
	// as it appears in Xen p2m/m2p arrays.
	SpaceMachFrame
)

// String names the address space.
func (s AddrSpace) String() string {
	switch s {
	case SpaceNone:
		return "none"
	case SpaceMachPhys:
		return "MPA"
	case SpaceKPhys:
		return "KPA"
	case SpaceKVirt:
		return "KVA"
	case SpaceUserVirt:
		return "user-virtual"
	case SpaceMachFrame:
		return "MFN"
	default:
		return "unknown"
	}
}

// Address is a full address: a (space, value) pair.
type Address struct {
	Space AddrSpace
	Value uint64
}

// None is the unset full address.
var None = Address{Space: SpaceNone}

// ToMFN converts a machine-physical address to its machine-frame number,
// MFN = MPA >> page_shift. It is one of the PFN/MFN conversion helpers
// original_source/src/kdumpfile/pfn.c provides.
func (a Address) ToMFN(pageShift uint8) (Address, *kd.Error) {
	if a.Space != SpaceMachPhys {
		return Address{}, kd.Errorf(kd.KindInvalid, "ToMFN requires a machine-physical address, got %s", a.Space)
	}
	return Address{Space: SpaceMachFrame, Value: a.Value >> pageShift}, nil
}

// MFNToAddress converts a machine-frame number back to a machine-physical
// address.
func (a Address) MFNToAddress(pageShift uint8) (Address, *kd.Error) {
	if a.Space != SpaceMachFrame {
		return Address{}, kd.Errorf(kd.KindInvalid, "MFNToAddress requires an MFN, got %s", a.Space)
	}
	return Address{Space: SpaceMachPhys, Value: a.Value << pageShift}, nil
}

// Add returns the address a + off (wrapping modulo 2^64), preserving space.
func (a Address) Add(off uint64) Address {
	return Address{Space: a.Space, Value: a.Value + off}
}

// ToAttr converts a to the attribute-side address type. The two AddrSpace
// enumerations are kept numerically identical (see attr.AddrSpace's doc
// comment) specifically so this is a plain field copy, not a translation
// table, letting setup code that mutates xlat.System also write the same
// facts into an attr.Dictionary without either package importing the other.
func (a Address) ToAttr() attr.Address {
	return attr.Address{Space: attr.AddrSpace(a.Space), Value: a.Value}
}

// FromAttr converts an attribute-side address back to xlat's own type.
func FromAttr(a attr.Address) Address {
	return Address{Space: AddrSpace(a.Space), Value: a.Value}
}
