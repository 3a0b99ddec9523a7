package x86_64

import (
	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/xlat"
)

// Options carries the user overrides from addrxlat.opts.*
// (ADDRXLAT_OPT_ROOTPGT / ADDRXLAT_OPT_VIRT_BITS).
type Options struct {
	RootPgt  *uint64
	VirtBits *int
}

// detectVirtBits determines the virtual address width (48 or 57 bits).
func detectVirtBits(ctx *xlat.Context, opts Options) (int, *kd.Error) {
	if opts.VirtBits != nil {
		return *opts.VirtBits, nil
	}
	if cr4, err := ctx.Resolver.GetReg("cr4"); err == nil {
		if cr4&CR4LA57 != 0 {
			return 57, nil
		}
		return 48, nil
	}
	if v, err := ctx.Resolver.GetNumber("pgtable_l5_enabled"); err == nil {
		if v != 0 {
			return 57, nil
		}
		return 48, nil
	}
	if _, err := ctx.Resolver.GetSymval("_stext"); err == nil {
		return 48, nil
	}
	if v, err := ctx.Resolver.GetNumber("linux.version_code"); err == nil {
		// Encoded (major<<16)|(minor<<8)|patch; versions before 4.13 never
		// supported 5-level paging.
		major, minor := (v>>16)&0xff, (v>>8)&0xff
		if major < 4 || (major == 4 && minor < 13) {
			return 48, nil
		}
	}
	return 0, kd.Errorf(kd.KindInvalid, "cannot determine virtual address width (bad virt_bits)")
}

// detectRootPgt returns the physical root page-table address and whether
// KPTI's user-table bit was observed set in the source the address came
// from.
func detectRootPgt(ctx *xlat.Context, opts Options) (root uint64, kpti bool, err *kd.Error) {
	if opts.RootPgt != nil {
		root = *opts.RootPgt
		return root &^ (1<<PageShift4K - 1), root&KPTIUserTableBit != 0, nil
	}
	if v, serr := ctx.Resolver.GetSymval("init_top_pgt"); serr == nil {
		return v &^ (1<<PageShift4K - 1), false, nil
	}
	if v, serr := ctx.Resolver.GetSymval("init_level4_pgt"); serr == nil {
		return v &^ (1<<PageShift4K - 1), false, nil
	}
	if v, serr := ctx.Resolver.GetReg("cr3"); serr == nil {
		masked := v &^ (1<<PageShift4K - 1)
		return masked, masked&KPTIUserTableBit != 0, nil
	}
	return 0, false, kd.Errorf(kd.KindNoData, "cannot determine root page table address")
}

// detectSMEMask returns the SME c-bit mask to strip from PTE values, or 0.
func detectSMEMask(ctx *xlat.Context) uint64 {
	if v, err := ctx.Resolver.GetNumber("sme_mask"); err == nil {
		return uint64(v)
	}
	return 0
}

// isDirectmap reports whether candidate, interpreted as a kernel-virtual
// address, walks through pgt to kernel-physical address 0 — the probe used
// to identify a live direct map without knowing its offset in advance.
func isDirectmap(ctx *xlat.Context, pgt *xlat.Method, candidate uint64) bool {
	addr, err := xlat.Walk(ctx, pgt, candidate)
	if err != nil {
		return false
	}
	return addr.Value == 0
}

// SetupLinux populates sys with the method and map slots needed for a
// Linux x86_64 dump, discovering each in a fixed order: virtual address
// width, root page table, SME mask, Xen p2m (if present), direct map,
// kernel text.
func SetupLinux(ctx *xlat.Context, sys *xlat.System, opts Options) *kd.Error {
	virtBits, err := detectVirtBits(ctx, opts)
	if err != nil {
		return err
	}
	form, err := VirtBitsToForm(virtBits)
	if err != nil {
		return err
	}

	root, kpti, err := detectRootPgt(ctx, opts)
	if err != nil {
		return err
	}

	pteMask := detectSMEMask(ctx)

	pgt := &xlat.Method{
		Kind:    xlat.MethodPGT,
		Target:  xlat.SpaceKPhys,
		Root:    xlat.Address{Space: xlat.SpaceKPhys, Value: root},
		PTEMask: pteMask,
		Paging:  form,
	}
	if serr := sys.SetMethod(xlat.SlotPGT, pgt); serr != nil {
		return serr
	}
	hw := xlat.NewMap()
	if serr := hw.Set(0, ^uint64(0), xlat.SlotMethodID(xlat.SlotPGT)); serr != nil {
		return serr
	}
	if serr := sys.SetMap(xlat.MapHW, hw); serr != nil {
		return serr
	}

	// Step 4: Xen p2m, when present.
	if xlat_, xerr := ctx.Resolver.GetNumber("xen.xen_xlat"); xerr == nil && xlat_ != 0 {
		if p2mMFN, perr := ctx.Resolver.GetNumber("xen.xen_p2m_mfn"); perr == nil {
			kphysMachphys := &xlat.Method{
				Kind:   xlat.MethodPGT,
				Target: xlat.SpaceMachPhys,
				Root:   xlat.Address{Space: xlat.SpaceMachPhys, Value: uint64(p2mMFN) << PageShift4K},
				Paging: PagingFormXenP2M(),
			}
			if serr := sys.SetMethod(xlat.SlotKPhysMachPhys, kphysMachphys); serr != nil {
				return serr
			}
			kpMap := xlat.NewMap()
			if serr := kpMap.Set(0, ^uint64(0), xlat.SlotMethodID(xlat.SlotKPhysMachPhys)); serr != nil {
				return serr
			}
			if serr := sys.SetMap(xlat.MapKPhysMachPhys, kpMap); serr != nil {
				return serr
			}

			machphysKphys := &xlat.Method{
				Kind:   xlat.MethodMemArr,
				Target: xlat.SpaceKPhys,
				Base:   xlat.Address{Space: xlat.SpaceKVirt, Value: XenMach2PhysAddr},
				Shift:  PageShift4K,
				ElemSz: 8,
				ValSz:  8,
			}
			if serr := sys.SetMethod(xlat.SlotMachPhysKPhys, machphysKphys); serr != nil {
				return serr
			}
			mpMap := xlat.NewMap()
			if serr := mpMap.Set(0, ^uint64(0), xlat.SlotMethodID(xlat.SlotMachPhysKPhys)); serr != nil {
				return serr
			}
			if serr := sys.SetMap(xlat.MapMachPhysKPhys, mpMap); serr != nil {
				return serr
			}
		}
	}

	// Unconditional KPA<->MPA bridge for the non-Xen case, where the two
	// coincide: a reader that only services SpaceMachPhys (e.g.
	// ioreader.FileReader, reading straight off a physical-memory dump)
	// still needs some installed route to answer a read the PGT walk
	// above issues in KPhys space. The Xen branch above already installs
	// its own p2m-backed version of these two slots when it runs, so this
	// only fires when that branch didn't.
	if sys.Method(xlat.SlotKPhysMachPhys) == nil {
		identity := &xlat.Method{Kind: xlat.MethodLinear, Target: xlat.SpaceMachPhys, Off: 0}
		if serr := sys.SetMethod(xlat.SlotKPhysMachPhys, identity); serr != nil {
			return serr
		}
		kpMap := xlat.NewMap()
		if serr := kpMap.Set(0, ^uint64(0), xlat.SlotMethodID(xlat.SlotKPhysMachPhys)); serr != nil {
			return serr
		}
		if serr := sys.SetMap(xlat.MapKPhysMachPhys, kpMap); serr != nil {
			return serr
		}

		rident := &xlat.Method{Kind: xlat.MethodLinear, Target: xlat.SpaceKPhys, Off: 0}
		if serr := sys.SetMethod(xlat.SlotMachPhysKPhys, rident); serr != nil {
			return serr
		}
		mpMap := xlat.NewMap()
		if serr := mpMap.Set(0, ^uint64(0), xlat.SlotMethodID(xlat.SlotMachPhysKPhys)); serr != nil {
			return serr
		}
		if serr := sys.SetMap(xlat.MapMachPhysKPhys, mpMap); serr != nil {
			return serr
		}
	}

	// Step 5/7: direct map discovery (reverse-chronological order).
	directOff, found := discoverLinuxDirectmap(ctx, pgt)
	if !found && kpti {
		// KPTI retry: the root table we picked (user- or kernel-side,
		// selected by cr3's low page-shift bit) failed to produce any
		// recognized direct map; retry the probe rooted at the other
		// table.
		altRoot := root ^ KPTIUserTableBit
		altPGT := &xlat.Method{Kind: xlat.MethodPGT, Target: xlat.SpaceKPhys, Root: xlat.Address{Space: xlat.SpaceKPhys, Value: altRoot}, PTEMask: pteMask, Paging: form}
		if altOff, altFound := discoverLinuxDirectmap(ctx, altPGT); altFound {
			pgt.Root.Value = altRoot
			directOff, found = altOff, true
		}
	}
	if found {
		direct := &xlat.Method{Kind: xlat.MethodLinear, Target: xlat.SpaceKVirt, Off: directOff}
		if serr := sys.SetMethod(xlat.SlotDirect, direct); serr != nil {
			return serr
		}
		dm := xlat.NewMap()
		if serr := dm.Set(0, ^uint64(0), xlat.SlotMethodID(xlat.SlotDirect)); serr != nil {
			return serr
		}
		if serr := sys.SetMap(xlat.MapKPhysDirect, dm); serr != nil {
			return serr
		}
	}

	// Step 6: kernel text.
	if serr := setupLinuxKText(ctx, sys, pgt); serr != nil {
		return serr
	}

	return nil
}

// discoverLinuxDirectmap probes page_offset_base, then each known
// historical direct-map base in reverse-chronological order, returning the
// offset (virt - phys, i.e. the base itself since phys 0 is being probed)
// of the first that round-trips virtual->physical 0.
func discoverLinuxDirectmap(ctx *xlat.Context, pgt *xlat.Method) (uint64, bool) {
	if base, err := ctx.Resolver.GetSymval("page_offset_base"); err == nil {
		if isDirectmap(ctx, pgt, base) {
			return base, true
		}
	}
	for _, r := range linuxDirectmapRanges {
		if isDirectmap(ctx, pgt, r.start) {
			return r.start, true
		}
	}
	return 0, false
}

// discoverLinuxKTextByWalk walks the fixed kernel-text virtual window one
// page at a time, skipping ahead to wherever sys's hardware map actually
// covers via xlat.LowestMapped, and returns the constant virt->phys offset
// derived from the first page that walks to a present PTE. This is the
// last-resort fallback for kernels whose _stext/_text don't resolve.
func discoverLinuxKTextByWalk(ctx *xlat.Context, sys *xlat.System, pgt *xlat.Method) (uint64, bool) {
	addr := uint64(LinuxKTextStart)
	if hw := sys.Map(xlat.MapHW); hw != nil {
		if mapped, ok := xlat.LowestMapped(hw, addr); ok {
			addr = mapped
		}
	}
	for addr <= LinuxKTextEnd {
		if phys, err := xlat.Walk(ctx, pgt, addr); err == nil {
			return phys.Value - addr, true
		}
		addr += uint64(1) << PageShift4K
	}
	return 0, false
}

// setupLinuxKText locates the kernel text mapping via _stext, then _text,
// then — when neither symbol resolves with a known physical base — by
// walking [LinuxKTextStart, LinuxKTextEnd] for the first present page and
// deriving the constant offset from it directly. KTEXT is left unset only
// if all three come up empty.
func setupLinuxKText(ctx *xlat.Context, sys *xlat.System, pgt *xlat.Method) *kd.Error {
	var off uint64
	found := false

	if _, verr := ctx.Resolver.GetSymval("_stext"); verr == nil {
		if stextP, perr := ctx.Resolver.GetNumber("linux.phys_base"); perr == nil {
			off = uint64(stextP) - LinuxKTextStart
			found = true
		}
	}
	if !found {
		if _, verr := ctx.Resolver.GetSymval("_text"); verr == nil {
			if textP, perr := ctx.Resolver.GetNumber("linux.phys_base"); perr == nil {
				off = uint64(textP) - LinuxKTextStart
				found = true
			}
		}
	}
	if !found {
		if walkOff, ok := discoverLinuxKTextByWalk(ctx, sys, pgt); ok {
			off, found = walkOff, true
		}
	}
	if !found {
		return nil
	}

	ktext := &xlat.Method{Kind: xlat.MethodLinear, Target: xlat.SpaceKPhys, Off: off}
	if serr := sys.SetMethod(xlat.SlotKText, ktext); serr != nil {
		return serr
	}
	return mergeKTextRange(sys, ktext)
}

// mergeKTextRange rebuilds MapHW so the fixed kernel-text window routes
// through KTEXT while every other address keeps routing through PGT,
// since Map.Set rejects overlapping ranges outright.
func mergeKTextRange(sys *xlat.System, ktext *xlat.Method) *kd.Error {
	rebuilt := xlat.NewMap()
	if err := rebuilt.Set(0, LinuxKTextStart-1, xlat.SlotMethodID(xlat.SlotPGT)); err != nil {
		return err
	}
	if err := rebuilt.Set(LinuxKTextStart, LinuxKTextEnd, xlat.SlotMethodID(xlat.SlotKText)); err != nil {
		return err
	}
	if err := rebuilt.Set(LinuxKTextEnd+1, ^uint64(0), xlat.SlotMethodID(xlat.SlotPGT)); err != nil {
		return err
	}
	return sys.SetMap(xlat.MapHW, rebuilt)
}
