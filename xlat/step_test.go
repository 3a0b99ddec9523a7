package xlat

import (
	"testing"

	kd "github.com/thesamesam/libkdumpfile"
)

// fakeReader serves ReadU32/ReadU64 from an in-memory map keyed by
// (space, addr), for tests that don't need a real dump file. It implements
// the same narrow surface internal/ioreader provides over a real one.
type fakeReader struct {
	words map[Address]uint64
}

func newFakeReader() *fakeReader { return &fakeReader{words: map[Address]uint64{}} }

func (r *fakeReader) ReadCaps() uint32 { return 1<<SpaceKPhys | 1<<SpaceMachPhys }

func (r *fakeReader) ReadU32(addr Address) (uint32, *kd.Error) {
	v, ok := r.words[addr]
	if !ok {
		return 0, kd.Errorf(kd.KindNoData, "no data at 0x%x", addr.Value)
	}
	return uint32(v), nil
}

func (r *fakeReader) ReadU64(addr Address) (uint64, *kd.Error) {
	v, ok := r.words[addr]
	if !ok {
		return 0, kd.Errorf(kd.KindNoData, "no data at 0x%x", addr.Value)
	}
	return v, nil
}

func (r *fakeReader) ReadBuffer(addr Address, buf []byte) *kd.Error {
	return kd.Errorf(kd.KindNotImplemented, "fakeReader.ReadBuffer is unused in tests")
}

type fakeResolver struct{}

func (fakeResolver) GetSymval(name string) (uint64, *kd.Error) {
	return 0, kd.Errorf(kd.KindNoData, "symbol %q unknown", name)
}
func (fakeResolver) GetReg(name string) (uint64, *kd.Error) {
	return 0, kd.Errorf(kd.KindNoData, "register %q unknown", name)
}
func (fakeResolver) GetNumber(name string) (int64, *kd.Error) {
	return 0, kd.Errorf(kd.KindNoData, "option %q unknown", name)
}

func TestWalkLinearMethod(t *testing.T) {
	ctx := NewContext(NewSystem(), newFakeReader(), fakeResolver{})
	meth := &Method{Kind: MethodLinear, Target: SpaceKVirt, Off: 0xffff880000000000}
	got, err := Walk(ctx, meth, 0x1000)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := Address{Space: SpaceKVirt, Value: 0xffff880000001000}
	if got != want {
		t.Fatalf("Walk() = %+v, want %+v", got, want)
	}
}

func TestWalkPGTTwoLevel(t *testing.T) {
	// A toy two-level paging form: 12-bit page offset, two 9-bit indices.
	paging := PagingForm{PTEFormat: PTEFormatX86_64, FieldSz: []uint8{12, 9, 9}}
	reader := newFakeReader()

	root := Address{Space: SpaceKPhys, Value: 0x9000}
	l1Table := uint64(0xa000)
	leafFrame := uint64(0xb000)

	// Translate virtual address with L2 index 3, L1 index 5, offset 0x40.
	input := uint64(3)<<(12+9) | uint64(5)<<12 | 0x40

	reader.words[Address{Space: SpaceKPhys, Value: 0x9000 + 3*8}] = l1Table | pteMaskPresent
	reader.words[Address{Space: SpaceKPhys, Value: l1Table + 5*8}] = leafFrame | pteMaskPresent

	meth := &Method{Kind: MethodPGT, Target: SpaceMachPhys, Root: root, Paging: paging}
	ctx := NewContext(NewSystem(), reader, fakeResolver{})

	got, err := Walk(ctx, meth, input)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := Address{Space: SpaceMachPhys, Value: leafFrame | 0x40}
	if got != want {
		t.Fatalf("Walk() = %+v, want %+v", got, want)
	}
}

func TestWalkPGTXenP2MFormat(t *testing.T) {
	// Xen p2m leaf (and intermediate) entries hold a raw frame number with
	// no present/PSE bit semantics, unlike a classic x86_64 PTE.
	paging := PagingForm{PTEFormat: PTEFormatPFN64, FieldSz: []uint8{12, 9, 9}}
	reader := newFakeReader()

	root := Address{Space: SpaceKPhys, Value: 0x9000}
	l1Table := uint64(0xa000)
	leafFrame := uint64(0xb000)

	input := uint64(3)<<(12+9) | uint64(5)<<12 | 0x40

	reader.words[Address{Space: SpaceKPhys, Value: 0x9000 + 3*8}] = l1Table >> pfnShift
	reader.words[Address{Space: SpaceKPhys, Value: l1Table + 5*8}] = leafFrame >> pfnShift

	meth := &Method{Kind: MethodPGT, Target: SpaceMachPhys, Root: root, Paging: paging}
	ctx := NewContext(NewSystem(), reader, fakeResolver{})

	got, err := Walk(ctx, meth, input)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := Address{Space: SpaceMachPhys, Value: leafFrame | 0x40}
	if got != want {
		t.Fatalf("Walk() = %+v, want %+v", got, want)
	}
}

func TestWalkPGTNotPresent(t *testing.T) {
	paging := PagingForm{PTEFormat: PTEFormatX86_64, FieldSz: []uint8{12, 9}}
	reader := newFakeReader()
	reader.words[Address{Space: SpaceKPhys, Value: 0x9000}] = 0 // present bit clear
	meth := &Method{Kind: MethodPGT, Target: SpaceMachPhys, Root: Address{Space: SpaceKPhys, Value: 0x9000}, Paging: paging}
	ctx := NewContext(NewSystem(), reader, fakeResolver{})

	if _, err := Walk(ctx, meth, 0); err == nil {
		t.Fatal("expected walk over an absent entry to fail")
	} else if err.Kind != kd.KindNotPresent {
		t.Fatalf("err.Kind = %v, want KindNotPresent", err.Kind)
	}
}

func TestWalkMemArr(t *testing.T) {
	reader := newFakeReader()
	base := Address{Space: SpaceKPhys, Value: 0x5000}
	reader.words[base.Add(2*8)] = 0x77
	meth := &Method{Kind: MethodMemArr, Target: SpaceMachFrame, Base: base, Shift: 12, ElemSz: 8, ValSz: 8}
	ctx := NewContext(NewSystem(), reader, fakeResolver{})

	got, err := Walk(ctx, meth, 2<<12|0x123)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := Address{Space: SpaceMachFrame, Value: 0x77<<12 | 0x123}
	if got != want {
		t.Fatalf("Walk() = %+v, want %+v", got, want)
	}
}
