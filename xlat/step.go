package xlat

import kd "github.com/thesamesam/libkdumpfile"

const (
	pteMaskPresent = 1 << 0
	pteMaskPSE     = 1 << 7
	pfnShift       = 12
	pfnBits        = 52 - pfnShift
)

// Step is the state of one in-progress single-method walk, mirroring
// addrxlat_step_t. Launch initializes it from a starting address; step
// advances it by exactly one level (one page-table dereference, or the
// single step a non-PGT method needs); Walk drives it to completion.
//
// The level-index extraction loop in step mirrors gopheros's
// kernel/mem/vmm.walk: that function loops over a fixed pageLevels/
// pageLevelShifts table extracting one index per level from a virtual
// address and dereferencing into the next table down. Step generalizes the
// fixed table to Method.Paging's arch-supplied PagingForm, and replaces
// walk's direct pointer dereference (meaningful only for the live, mapped
// page tables of a running kernel) with a Context.Reader.ReadU64 call,
// since a translated address here almost always names memory in a dump
// file rather than the walker's own address space.
type Step struct {
	Ctx  *Context
	Meth *Method

	// Base is the current table (or array) base address to index into.
	Base Address
	// Level counts down from the root level to 1 (the leaf page-table
	// level); a huge-page entry ends the walk early at level 2 or 3.
	Level int
	// Idx holds the per-level indices extracted from the original input
	// address, Idx[0] the page-offset field, Idx[len-1] the root index.
	Idx []uint64
	// RawPTE is the most recently read raw page-table entry.
	RawPTE uint64

	done   bool
	result Address
}

// Launch begins a walk of meth starting from input (given in meth's
// implicit source space), mirroring addrxlat_launch.
func Launch(ctx *Context, meth *Method, input uint64) (*Step, *kd.Error) {
	s := &Step{Ctx: ctx, Meth: meth}

	switch meth.Kind {
	case MethodLinear:
		s.done = true
		s.result = Address{Space: meth.Target, Value: input + meth.Off}

	case MethodTable:
		s.done = true
		if len(meth.Table) == 0 {
			return nil, kd.Errorf(kd.KindNoMethod, "TABLE method has no entries")
		}
		shift := uint8(0)
		if meth.Paging.NFields() > 0 {
			shift = meth.Paging.FieldSz[0]
		}
		idx := input >> shift
		if int(idx) >= len(meth.Table) {
			return nil, kd.Errorf(kd.KindNoMethod, "TABLE index %d out of range (have %d entries)", idx, len(meth.Table))
		}
		s.result = Address{Space: meth.Target, Value: meth.Table[idx]<<shift | (input & ((1 << shift) - 1))}

	case MethodMemArr:
		s.done = true
		frameAddr := meth.Base.Add((input >> meth.Shift) * uint64(meth.ElemSz))
		frame, err := readSized(ctx, frameAddr, meth.ValSz)
		if err != nil {
			return nil, err
		}
		mask := uint64(1)<<meth.Shift - 1
		s.result = Address{Space: meth.Target, Value: frame<<meth.Shift | (input & mask)}

	case MethodPGT:
		if verr := meth.Paging.Validate(); verr != nil {
			return nil, verr
		}
		if verr := checkCanonicalHole(meth.Paging, input); verr != nil {
			return nil, verr
		}
		nLevels := meth.Paging.NFields() - 1
		s.Idx = make([]uint64, meth.Paging.NFields())
		for i := 0; i < meth.Paging.NFields(); i++ {
			shift := meth.Paging.shiftAt(i)
			width := meth.Paging.FieldSz[i]
			s.Idx[i] = (input >> shift) & (1<<width - 1)
		}
		// s.Idx is indexed by paging field: Idx[0] is the in-page byte
		// offset, Idx[i] for i>=1 the index into the level-i table. Level
		// starts at the root (the highest-numbered field) and counts down
		// to 1 (the leaf PT level).
		s.Level = nLevels
		s.Base = meth.Root

	case MethodCustom:
		if meth.Step == nil {
			return nil, kd.Errorf(kd.KindNoMethod, "CUSTOM method has no step function")
		}

	default:
		return nil, kd.Errorf(kd.KindNoMethod, "no method to launch")
	}

	return s, nil
}

// step advances s by exactly one level, mirroring addrxlat_step.
// It is unexported: callers drive a walk to completion via Walk.
func (s *Step) step() *kd.Error {
	if s.done {
		return nil
	}
	if s.Meth.Kind == MethodCustom {
		if err := s.Meth.Step(s); err != nil {
			return err
		}
		return nil
	}
	if s.Meth.Kind != MethodPGT {
		// Other kinds complete entirely in Launch.
		s.done = true
		return nil
	}

	entryAddr := s.Base.Add(s.Idx[s.Level] * 8)
	pte, err := readPTE(s.Ctx, entryAddr)
	if err != nil {
		return err
	}
	pte &^= s.Meth.PTEMask
	s.RawPTE = pte

	var frameBase uint64
	huge := false

	switch s.Meth.Paging.PTEFormat {
	case PTEFormatPFN64:
		// Xen p2m leaf entries are plain frame numbers: no present bit,
		// no PSE/huge-page encoding to check.
		frameBase = pte << pfnShift

	default:
		if pte&pteMaskPresent == 0 {
			return kd.Errorf(kd.KindNotPresent, "page table entry at 0x%x:0x%x is not present", entryAddr.Space, entryAddr.Value)
		}
		pfn := (pte >> pfnShift) & (1<<pfnBits - 1)
		frameBase = pfn << pfnShift
		huge = (s.Level == 2 || s.Level == 3) && pte&pteMaskPSE != 0
	}

	if s.Level == 1 || huge {
		// Leaf level, or a huge page terminating the walk early: fold in
		// every field this level's frame didn't itself resolve (the
		// in-page, or in-huge-page, byte offset) at its proper bit
		// position.
		var off uint64
		for i := 0; i < s.Level; i++ {
			off |= s.Idx[i] << s.Meth.Paging.shiftAt(i)
		}
		s.result = Address{Space: s.Meth.Target, Value: frameBase | off}
		s.done = true
		return nil
	}

	s.Base = Address{Space: s.Base.Space, Value: frameBase}
	s.Level--
	return nil
}

// checkCanonicalHole rejects an address landing in the non-canonical
// address-space hole implied by form's field count: 4-level paging
// (5 fields) has a hole at [2^47, 2^64-2^47); 5-level
// (6 fields) at [2^56, 2^64-2^56). This mirrors x86_64.CheckCanonical's
// logic; it is duplicated narrowly here (rather than imported) because
// package xlat must not depend on any architecture-specific package.
func checkCanonicalHole(form PagingForm, addr uint64) *kd.Error {
	var low, high uint64
	switch form.NFields() {
	case 5:
		low, high = uint64(1)<<47, ^(uint64(1)<<47 - 1)
	case 6:
		low, high = uint64(1)<<56, ^(uint64(1)<<56 - 1)
	default:
		return nil
	}
	if addr >= low && addr < high {
		return kd.Errorf(kd.KindInvalid, "address 0x%x falls in the non-canonical hole [0x%x,0x%x)", addr, low, high)
	}
	return nil
}

// Walk drives a Step to completion and returns the translated address.
func Walk(ctx *Context, meth *Method, input uint64) (Address, *kd.Error) {
	s, err := Launch(ctx, meth, input)
	if err != nil {
		return Address{}, err
	}
	for !s.done {
		if err := s.step(); err != nil {
			return Address{}, err
		}
	}
	return s.result, nil
}

// ensureReadable returns an address naming the same byte as addr but in a
// space ctx.Reader's ReadCaps() covers, converting through ctx.Sys when
// addr's own space isn't one of them. A reader that only ever sees raw
// machine-physical bytes (internal/ioreader.FileReader, say) can still
// service a walk rooted in kernel-physical space this way, provided the
// System has some installed route between the two.
func ensureReadable(ctx *Context, addr Address) (Address, *kd.Error) {
	caps := ctx.Reader.ReadCaps()
	if caps&(1<<addr.Space) != 0 {
		return addr, nil
	}
	for space := SpaceMachPhys; space <= SpaceMachFrame; space++ {
		if caps&(1<<space) == 0 {
			continue
		}
		if converted, err := Convert(ctx, addr, space); err == nil {
			return converted, nil
		}
	}
	return Address{}, kd.Errorf(kd.KindNoMethod, "reader cannot service %s, and no installed route reaches a space it can", addr.Space)
}

// readPTE reads a raw page-table entry. It applies no mask: step strips
// Method.PTEMask (the SME C-bit on AMD SEV-capable hosts) afterwards.
func readPTE(ctx *Context, addr Address) (uint64, *kd.Error) {
	addr, err := ensureReadable(ctx, addr)
	if err != nil {
		return 0, err
	}
	raw, err := ctx.Reader.ReadU64(addr)
	if err != nil {
		return 0, err
	}
	return raw, nil
}

// readSized reads a 4- or 8-byte value in the reader's byte order, for MEMARR methods
// whose element size varies (Xen's p2m array uses 8-byte MFNs; some
// hypervisor builds use 4).
func readSized(ctx *Context, addr Address, size uint8) (uint64, *kd.Error) {
	addr, err := ensureReadable(ctx, addr)
	if err != nil {
		return 0, err
	}
	switch size {
	case 4:
		v, err := ctx.Reader.ReadU32(addr)
		return uint64(v), err
	case 8:
		return ctx.Reader.ReadU64(addr)
	default:
		return 0, kd.Errorf(kd.KindInvalid, "unsupported element size %d", size)
	}
}

// LowestMapped returns the lowest address at or above addr that m covers,
// or ok=false if none does.
func LowestMapped(m *Map, addr uint64) (uint64, bool) {
	for i, start := range m.starts {
		if m.ranges[i].EndOff >= addr {
			if start > addr {
				return start, true
			}
			return addr, true
		}
	}
	return 0, false
}

