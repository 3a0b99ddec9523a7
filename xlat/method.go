package xlat

import kd "github.com/thesamesam/libkdumpfile"

// MethodKind selects which variant of Method is populated. The walker
// (Step.step) switches on this instead of using interface dispatch, since
// the set of kinds is closed and fixed — a tagged union, pattern-matched in
// the walker, in place of a vtable.
type MethodKind uint8

const (
	// MethodNone marks an absent or unimplemented method.
	MethodNone MethodKind = iota
	// MethodLinear computes output = input + Off (mod 2^64).
	MethodLinear
	// MethodPGT performs a hardware-style page-table walk.
	MethodPGT
	// MethodTable looks up a per-index entry in a caller-supplied small
	// table, for coarse address-space layouts.
	MethodTable
	// MethodMemArr performs an indexed array lookup in memory:
	// output_frame = mem[Base + (input>>Shift)*ElemSize];
	// output = (output_frame<<Shift) | (input & ((1<<Shift)-1)).
	MethodMemArr
	// MethodCustom invokes an opaque step function. It exists for
	// extensibility; it is carried as a Go closure rather than a function
	// pointer plus opaque state.
	MethodCustom
)

// String names the MethodKind.
func (k MethodKind) String() string {
	switch k {
	case MethodNone:
		return "NONE"
	case MethodLinear:
		return "LINEAR"
	case MethodPGT:
		return "PGT"
	case MethodTable:
		return "TABLE"
	case MethodMemArr:
		return "MEMARR"
	case MethodCustom:
		return "CUSTOM"
	default:
		return "unknown"
	}
}

// PTEFormat names a recognized page-table-entry encoding.
type PTEFormat uint8

const (
	// PTEFormatNone marks an unset/invalid format.
	PTEFormatNone PTEFormat = iota
	// PTEFormatX86_64 is the x86_64 PTE layout: PSE huge-page bit at 7,
	// present bit at 0, PFN in bits 12..52.
	PTEFormatX86_64
	// PTEFormatPFN64 means the raw entry value directly is a frame number
	// (used for Xen's p2m table, whose entries are plain MFNs).
	PTEFormatPFN64
)

// PagingForm describes one architecture's page-table geometry: fieldsz[0]
// is the page shift (bits of in-page byte offset); fieldsz[1..] are the
// bit-widths of the indices from the leaf level to the root.
type PagingForm struct {
	PTEFormat PTEFormat
	FieldSz   []uint8
}

// NFields returns the total number of fields (1 page-offset field plus one
// per paging level).
func (f PagingForm) NFields() int { return len(f.FieldSz) }

// MaxIndex returns paging_max_index: the sum of all field widths.
func (f PagingForm) MaxIndex() uint8 {
	var sum uint8
	for _, w := range f.FieldSz {
		sum += w
	}
	return sum
}

// Validate checks the PGT invariants: sum(fieldsz) <= 64 and
// fieldsz[0] >= 9.
func (f PagingForm) Validate() *kd.Error {
	if len(f.FieldSz) == 0 {
		return kd.Errorf(kd.KindInvalid, "paging form has no fields")
	}
	if f.FieldSz[0] < 9 {
		return kd.Errorf(kd.KindInvalid, "page shift field %d is narrower than 9 bits", f.FieldSz[0])
	}
	if int(f.MaxIndex()) > 64 {
		return kd.Errorf(kd.KindInvalid, "paging form field widths sum to more than 64 bits")
	}
	return nil
}

// shiftAt returns the bit position at which field level begins: the sum of
// all narrower fields' widths (fieldsz[0..level-1]).
func (f PagingForm) shiftAt(level int) uint8 {
	var sum uint8
	for i := 0; i < level; i++ {
		sum += f.FieldSz[i]
	}
	return sum
}

// StepFunc is the signature a MethodCustom method's step callback must
// implement: given the current walk state, advance it by one level (or
// compute the final address outright) and report an error.
type StepFunc func(s *Step) *kd.Error

// Method describes one translation rule between two address spaces.
// Exactly the fields relevant to Kind are meaningful.
type Method struct {
	Kind   MethodKind
	Target AddrSpace

	// LINEAR
	Off uint64

	// PGT
	Root     Address
	PTEMask  uint64
	Paging   PagingForm

	// TABLE
	Table []uint64

	// MEMARR
	Base    Address
	Shift   uint8
	ElemSz  uint8
	ValSz   uint8

	// CUSTOM
	Step StepFunc
}
