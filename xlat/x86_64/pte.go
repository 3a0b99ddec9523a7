package x86_64

import (
	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/xlat"
)

// PagingForm4Level is the standard x86_64 4-level page table: a 12-bit page
// offset plus four 9-bit indices (PT, PMD, PUD, PGD).
func PagingForm4Level() xlat.PagingForm {
	return xlat.PagingForm{
		PTEFormat: xlat.PTEFormatX86_64,
		FieldSz:   []uint8{PageShift4K, 9, 9, 9, 9},
	}
}

// PagingForm5Level is the 5-level (LA57) x86_64 page table: the same four
// 9-bit indices plus one more for the added PGD level.
func PagingForm5Level() xlat.PagingForm {
	return xlat.PagingForm{
		PTEFormat: xlat.PTEFormatX86_64,
		FieldSz:   []uint8{PageShift4K, 9, 9, 9, 9, 9},
	}
}

// PagingFormXenP2M is the paging form Xen's p2m table uses: a plain
// 3-level lookup (three 9-bit indices above a 12-bit page offset) whose
// leaf entries are frame numbers rather than PTEs.
func PagingFormXenP2M() xlat.PagingForm {
	return xlat.PagingForm{
		PTEFormat: xlat.PTEFormatPFN64,
		FieldSz:   []uint8{PageShift4K, 9, 9, 9},
	}
}

// CanonicalHole returns the [low, high) non-canonical address range for the
// given paging form's field count: 4-level (nfields=5) holes
// [2^47, 2^64-2^47); 5-level (nfields=6) holes [2^56, 2^64-2^56).
func CanonicalHole(form xlat.PagingForm) (low, high uint64, ok bool) {
	switch form.NFields() {
	case 5:
		return uint64(1) << 47, ^(uint64(1)<<47 - 1), true
	case 6:
		return uint64(1) << 56, ^(uint64(1)<<56 - 1), true
	default:
		return 0, 0, false
	}
}

// CheckCanonical rejects an address that falls in the non-canonical hole
// for form.
func CheckCanonical(form xlat.PagingForm, addr uint64) *kd.Error {
	low, high, ok := CanonicalHole(form)
	if !ok {
		return nil
	}
	if addr >= low && addr < high {
		return kd.Errorf(kd.KindInvalid, "address 0x%x falls in the non-canonical hole [0x%x,0x%x)", addr, low, high)
	}
	return nil
}

// VirtBitsToForm maps a detected virtual address width to its PagingForm.
// Only 48 (4-level) and 57 (5-level, LA57) are recognized; anything else
// is a "bad virt_bits" error.
func VirtBitsToForm(virtBits int) (xlat.PagingForm, *kd.Error) {
	switch virtBits {
	case 48:
		return PagingForm4Level(), nil
	case 57:
		return PagingForm5Level(), nil
	default:
		return xlat.PagingForm{}, kd.Errorf(kd.KindInvalid, "unsupported virtual address width %d", virtBits)
	}
}
