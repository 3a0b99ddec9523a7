package x86_64

import (
	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/xlat"
)

// SetupXen populates sys for a Xen hypervisor dump: the same
// virt-bits/root-pgt/SME steps as SetupLinux, but choosing among the known
// Xen text bases and the Xen directmap size variants (1 TiB / 3.5 TiB
// BIGMEM / 5 TiB) instead of the Linux kernel-version tables.
func SetupXen(ctx *xlat.Context, sys *xlat.System, opts Options) *kd.Error {
	virtBits, err := detectVirtBits(ctx, opts)
	if err != nil {
		return err
	}
	form, err := VirtBitsToForm(virtBits)
	if err != nil {
		return err
	}
	root, _, err := detectRootPgt(ctx, opts)
	if err != nil {
		return err
	}
	pteMask := detectSMEMask(ctx)

	pgt := &xlat.Method{
		Kind:    xlat.MethodPGT,
		Target:  xlat.SpaceMachPhys,
		Root:    xlat.Address{Space: xlat.SpaceMachPhys, Value: root},
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

	textOff, textFound := discoverXenText(ctx, pgt)
	if textFound {
		ktext := &xlat.Method{Kind: xlat.MethodLinear, Target: xlat.SpaceMachPhys, Off: -textOff}
		if serr := sys.SetMethod(xlat.SlotKText, ktext); serr != nil {
			return serr
		}
	}

	directOff, size, directFound := discoverXenDirectmap(ctx, pgt)
	if directFound {
		direct := &xlat.Method{Kind: xlat.MethodLinear, Target: xlat.SpaceMachPhys, Off: -directOff}
		if serr := sys.SetMethod(xlat.SlotRDirect, direct); serr != nil {
			return serr
		}
		if serr := mergeRange(sys, directOff, directOff+size-1, xlat.SlotMethodID(xlat.SlotRDirect)); serr != nil {
			return serr
		}
	}

	return nil
}

// discoverXenText probes the known Xen hypervisor text bases, returning
// the first that round-trips virtual->machine-physical 0.
func discoverXenText(ctx *xlat.Context, pgt *xlat.Method) (uint64, bool) {
	for _, b := range xenTextBases {
		if isDirectmap(ctx, pgt, b.addr) {
			return b.addr, true
		}
	}
	return 0, false
}

// discoverXenDirectmap probes the Xen direct-map candidates in order (the
// ordinary base with a 1 TiB window, the BIGMEM base with a 3.5 TiB
// window, the ordinary base with a 5 TiB window), returning the first
// whose base walks to machine-physical 0. Only the base is probed, not
// the window size, so the 5 TiB candidate is never returned: the 1 TiB
// candidate shares its base and is tried first. Xen 4.6+ with BIGMEM absent is assumed — no additional
// disambiguation between BIGMEM and non-BIGMEM variants is attempted
// beyond the bases themselves.
func discoverXenDirectmap(ctx *xlat.Context, pgt *xlat.Method) (base, size uint64, ok bool) {
	candidates := []struct {
		base, size uint64
	}{
		{XenDirectmap, XenDirectmapSize1T},
		{XenDirectmapBigmem, XenDirectmapSize3_5T},
		{XenDirectmap, XenDirectmapSize5T},
	}
	for _, c := range candidates {
		if isDirectmap(ctx, pgt, c.base) {
			return c.base, c.size, true
		}
	}
	return 0, 0, false
}

// mergeRange installs a single [start, end] -> meth range into sys's
// MapHW. When a MapHW is already installed, it is rebuilt so that
// [start, end] routes to meth and every other address routes through PGT
// (Map.Set rejects overlap, so the range cannot be set over the old map).
func mergeRange(sys *xlat.System, start, end uint64, meth xlat.MethodID) *kd.Error {
	existing := sys.Map(xlat.MapHW)
	if existing == nil {
		fresh := xlat.NewMap()
		if err := fresh.Set(start, end, meth); err != nil {
			return err
		}
		return sys.SetMap(xlat.MapHW, fresh)
	}
	rebuilt := xlat.NewMap()
	if start > 0 {
		if err := rebuilt.Set(0, start-1, xlat.SlotMethodID(xlat.SlotPGT)); err != nil {
			return err
		}
	}
	if err := rebuilt.Set(start, end, meth); err != nil {
		return err
	}
	if end < ^uint64(0) {
		if err := rebuilt.Set(end+1, ^uint64(0), xlat.SlotMethodID(xlat.SlotPGT)); err != nil {
			return err
		}
	}
	return sys.SetMap(xlat.MapHW, rebuilt)
}
