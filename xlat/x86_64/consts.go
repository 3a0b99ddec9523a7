// Package x86_64 implements the architecture-specific paging module: PTE
// decoding, canonical-address checking, and the ordered Linux and Xen setup
// sequences that populate a generic xlat.System's method and map slots for
// this architecture.
//
// It is grounded on gopheros's kernel/mem/vmm, whose pageTableEntry
// (pte.go) and its HasFlags/Frame bit-masking are the direct ancestor of
// this package's PTEPresent/PTEPSE/PFNShift constants (the PTE decoding
// itself is done by xlat's Step), and whose
// setupPDTForKernel (vmm.go) walks a fixed, ordered sequence of early-boot
// page-table-population steps — the same "ordered sequence of fallible
// setup steps, each touching sys.meth/sys.map" shape SetupLinux and
// SetupXen follow here, generalized from "map a few fixed early regions"
// to "discover an unknown kernel's root table, SME mask, kernel text
// location and direct map by probing a live set of page tables."
package x86_64

const (
	// PageShift4K is log2(4 KiB), the base page size on x86_64.
	PageShift4K = 12
	// PageShift2M is log2(2 MiB), the PMD huge-page size.
	PageShift2M = 21
	// PageShift1G is log2(1 GiB), the PUD huge-page size.
	PageShift1G = 30

	// PTEPresent is bit 0 of a page-table entry.
	PTEPresent = 1 << 0
	// PTEPSE is bit 7 of a page-table entry (huge page at the PUD/PMD level).
	PTEPSE = 1 << 7

	// PFNShift is where the physical frame number begins within a PTE.
	PFNShift = 12
	// PFNBits is the width of the physical frame number field (bits 12..52).
	PFNBits = 52 - PFNShift

	// CR4LA57 is bit 12 of CR4, set when 5-level paging is active.
	CR4LA57 = 1 << 12

	// KPTIUserTableBit is bit 12 of cr3, set when cr3 names the user-space
	// (KPTI-shadow) page table rather than the kernel one.
	KPTIUserTableBit = 1 << 12

	// LinuxKTextStart is the fixed start of the Linux kernel text mapping.
	LinuxKTextStart = 0xffffffff80000000
	// LinuxKTextEndNoKASLR is the highest kernel-text address when KASLR
	// is disabled.
	LinuxKTextEndNoKASLR = 0xffffffff9fffffff
	// LinuxKTextEnd is the absolute highest possible kernel-text address.
	LinuxKTextEnd = 0xffffffffbfffffff

	// XenMach2PhysAddr is the fixed kernel-virtual base Xen's machine-to-
	// physical (m2p) array is mapped at.
	XenMach2PhysAddr = 0xffff800000000000
)

// directmapRange names a historical Linux direct-map virtual address
// window, preserved bit-exactly from original_source/src/addrxlat/x86_64.c.
type directmapRange struct {
	name       string
	start, end uint64
}

// linuxDirectmapRanges are probed in reverse-chronological order (newest
// kernel layout first).
var linuxDirectmapRanges = []directmapRange{
	{"5-level-4.2", 0xff11000000000000, 0xff90ffffffffffff},
	{"5-level", 0xff10000000000000, 0xff8fffffffffffff},
	{"4.2", 0xffff888000000000, 0xffffc8ffffffffff},
	{"2.6.31", 0xffff880000000000, 0xffffc7ffffffffff},
	{"2.6.27", 0xffff880000000000, 0xffffc0ffffffffff},
	{"2.6.11", 0xffff810000000000, 0xffffc0ffffffffff},
	{"2.6.0", 0x0000010000000000, 0x000001ffffffffff},
}

// xenTextBase names one historical Xen hypervisor text base address.
type xenTextBase struct {
	name string
	addr uint64
}

// xenTextBases are probed in historical order, oldest first.
var xenTextBases = []xenTextBase{
	{"3.2", 0xffff828c80000000},
	{"4.0-dev", 0xffff828880000000},
	{"4.0", 0xffff82c480000000},
	{"4.3", 0xffff82c4c0000000},
	{"4.4", 0xffff82d080000000},
}

const (
	// XenDirectmap is the base of Xen's ordinary (non-BIGMEM) direct map.
	XenDirectmap = 0xffff830000000000
	// XenDirectmapBigmem is the base of Xen's BIGMEM direct map.
	XenDirectmapBigmem = 0xffff848000000000

	// XenDirectmapSize1T is the 1 TiB direct-map window size.
	XenDirectmapSize1T = uint64(1) << 40
	// XenDirectmapSize3_5T is the 3.5 TiB (BIGMEM) direct-map window size.
	XenDirectmapSize3_5T = uint64(3584) << 30
	// XenDirectmapSize5T is the 5 TiB direct-map window size.
	XenDirectmapSize5T = uint64(5) << 40
)
