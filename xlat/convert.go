package xlat

import kd "github.com/thesamesam/libkdumpfile"

// Convert translates addr from its current space to dst, chaining through
// at most four intermediate methods (KVA -> KPA -> MPA and its reverses, or
// a direct KPA <-> KVA hop), mirroring fulladdr_conv. It is adapted from
// gopheros's kernel/mem/vmm.Translate, whose "walk the page
// table, then add the page's byte offset back in" shape this package
// generalizes to a whole graph of chained methods rather than one
// hardware-defined page table.
func Convert(ctx *Context, addr Address, dst AddrSpace) (Address, *kd.Error) {
	if addr.Space == dst {
		return addr, nil
	}

	path, err := conversionPath(addr.Space, dst)
	if err != nil {
		return Address{}, err
	}

	cur := addr
	for _, slot := range path {
		meth, merr := ctx.Sys.MapMethod(mapSlotFor(slot), cur.Value)
		if merr != nil {
			return Address{}, merr
		}
		next, werr := Walk(ctx, meth, cur.Value)
		if werr != nil {
			return Address{}, werr
		}
		cur = next
	}
	if cur.Space != dst {
		return Address{}, kd.Errorf(kd.KindNoMethod, "conversion from %s to %s landed in %s instead", addr.Space, dst, cur.Space)
	}
	return cur, nil
}

// conversionPath returns the ordered sequence of method slots that convert
// src to dst, covering a fixed small set of recognized address-space
// pairs. Unlisted pairs (e.g. user-virtual -> MPA without going through
// KPA) are rejected with KindNoMethod: there is no generic all-pairs
// shortest path, only these specific named chains.
func conversionPath(src, dst AddrSpace) ([]MethodSlot, *kd.Error) {
	switch {
	case src == SpaceKVirt && dst == SpaceKPhys:
		return []MethodSlot{SlotPGT}, nil
	case src == SpaceKPhys && dst == SpaceKVirt:
		return []MethodSlot{SlotDirect}, nil
	case src == SpaceKPhys && dst == SpaceMachPhys:
		return []MethodSlot{SlotKPhysMachPhys}, nil
	case src == SpaceMachPhys && dst == SpaceKPhys:
		return []MethodSlot{SlotMachPhysKPhys}, nil
	case src == SpaceKVirt && dst == SpaceMachPhys:
		return []MethodSlot{SlotPGT, SlotKPhysMachPhys}, nil
	case src == SpaceMachPhys && dst == SpaceKVirt:
		return []MethodSlot{SlotMachPhysKPhys, SlotDirect}, nil
	case src == SpaceUserVirt && dst == SpaceKPhys:
		return []MethodSlot{SlotPGT}, nil
	case src == SpaceUserVirt && dst == SpaceMachPhys:
		return []MethodSlot{SlotPGT, SlotKPhysMachPhys}, nil
	default:
		return nil, kd.Errorf(kd.KindNoMethod, "no known conversion from %s to %s", src, dst)
	}
}

// mapSlotFor names which of a System's Maps governs the given step of a
// conversion chain.
func mapSlotFor(slot MethodSlot) MapSlot {
	switch slot {
	case SlotPGT:
		return MapHW
	case SlotDirect:
		return MapKPhysDirect
	case SlotKPhysMachPhys:
		return MapKPhysMachPhys
	case SlotMachPhysKPhys:
		return MapMachPhysKPhys
	default:
		return MapHW
	}
}
