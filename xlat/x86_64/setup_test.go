package x86_64

import (
	"testing"

	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/xlat"
)

// fakeReader serves PGT reads from an in-memory map, for tests that don't
// need a real dump file.
type fakeReader struct {
	words map[xlat.Address]uint64
}

func newFakeReader() *fakeReader { return &fakeReader{words: map[xlat.Address]uint64{}} }

func (r *fakeReader) ReadCaps() uint32 { return 1<<xlat.SpaceKPhys | 1<<xlat.SpaceMachPhys }

func (r *fakeReader) ReadU32(addr xlat.Address) (uint32, *kd.Error) {
	v, ok := r.words[addr]
	if !ok {
		return 0, kd.Errorf(kd.KindNoData, "no data at 0x%x", addr.Value)
	}
	return uint32(v), nil
}

func (r *fakeReader) ReadU64(addr xlat.Address) (uint64, *kd.Error) {
	v, ok := r.words[addr]
	if !ok {
		return 0, kd.Errorf(kd.KindNoData, "no data at 0x%x", addr.Value)
	}
	return v, nil
}

func (r *fakeReader) ReadBuffer(addr xlat.Address, buf []byte) *kd.Error {
	return kd.Errorf(kd.KindNotImplemented, "unused in tests")
}

// fakeResolver serves symbol/register/number lookups from plain maps, so
// each test can wire up exactly the inputs its scenario needs.
type fakeResolver struct {
	symvals map[string]uint64
	regs    map[string]uint64
	numbers map[string]int64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{symvals: map[string]uint64{}, regs: map[string]uint64{}, numbers: map[string]int64{}}
}

func (r *fakeResolver) GetSymval(name string) (uint64, *kd.Error) {
	if v, ok := r.symvals[name]; ok {
		return v, nil
	}
	return 0, kd.Errorf(kd.KindNoData, "symbol %q unknown", name)
}

func (r *fakeResolver) GetReg(name string) (uint64, *kd.Error) {
	if v, ok := r.regs[name]; ok {
		return v, nil
	}
	return 0, kd.Errorf(kd.KindNoData, "register %q unknown", name)
}

func (r *fakeResolver) GetNumber(name string) (int64, *kd.Error) {
	if v, ok := r.numbers[name]; ok {
		return v, nil
	}
	return 0, kd.Errorf(kd.KindNoData, "option %q unknown", name)
}

func TestDetectVirtBitsFromCR4(t *testing.T) {
	res := newFakeResolver()
	res.regs["cr4"] = CR4LA57
	ctx := xlat.NewContext(xlat.NewSystem(), newFakeReader(), res)
	got, err := detectVirtBits(ctx, Options{})
	if err != nil {
		t.Fatalf("detectVirtBits: %v", err)
	}
	if got != 57 {
		t.Fatalf("detectVirtBits() = %d, want 57", got)
	}
}

func TestDetectVirtBitsFallsBackToVersionHint(t *testing.T) {
	res := newFakeResolver()
	res.numbers["linux.version_code"] = (4 << 16) | (9 << 8)
	ctx := xlat.NewContext(xlat.NewSystem(), newFakeReader(), res)
	got, err := detectVirtBits(ctx, Options{})
	if err != nil {
		t.Fatalf("detectVirtBits: %v", err)
	}
	if got != 48 {
		t.Fatalf("detectVirtBits() = %d, want 48", got)
	}
}

func TestDetectVirtBitsUnresolvable(t *testing.T) {
	ctx := xlat.NewContext(xlat.NewSystem(), newFakeReader(), newFakeResolver())
	if _, err := detectVirtBits(ctx, Options{}); err == nil {
		t.Fatal("expected an error when no signal resolves virt_bits")
	}
}

func TestDetectRootPgtKPTIBit(t *testing.T) {
	res := newFakeResolver()
	res.regs["cr3"] = 0x1234001000 | KPTIUserTableBit
	ctx := xlat.NewContext(xlat.NewSystem(), newFakeReader(), res)
	root, kpti, err := detectRootPgt(ctx, Options{})
	if err != nil {
		t.Fatalf("detectRootPgt: %v", err)
	}
	if !kpti {
		t.Error("expected KPTI to be detected")
	}
	if root&(1<<PageShift4K-1) != 0 {
		t.Errorf("root 0x%x is not page-aligned", root)
	}
}

func TestSetupLinuxDirectmapDiscovery(t *testing.T) {
	reader := newFakeReader()
	res := newFakeResolver()
	res.regs["cr3"] = 0x9000
	res.symvals["_stext"] = 0xffffffff81000000
	// One L4 entry per paging level resolving the 4.2-era directmap base
	// (0xffff888000000000) to physical 0.
	form := PagingForm4Level()
	idx4 := (uint64(0xffff888000000000) >> form.FieldSz[0] >> form.FieldSz[1] >> form.FieldSz[2] >> form.FieldSz[3]) & 0x1ff
	idx3 := (uint64(0xffff888000000000) >> form.FieldSz[0] >> form.FieldSz[1] >> form.FieldSz[2]) & 0x1ff
	idx2 := (uint64(0xffff888000000000) >> form.FieldSz[0] >> form.FieldSz[1]) & 0x1ff
	idx1 := (uint64(0xffff888000000000) >> form.FieldSz[0]) & 0x1ff

	l3 := uint64(0xa000)
	l2 := uint64(0xb000)
	l1 := uint64(0xc000)
	leaf := uint64(0x0) // physical 0

	reader.words[xlat.Address{Space: xlat.SpaceKPhys, Value: 0x9000 + idx4*8}] = l3 | PTEPresent
	reader.words[xlat.Address{Space: xlat.SpaceKPhys, Value: l3 + idx3*8}] = l2 | PTEPresent
	reader.words[xlat.Address{Space: xlat.SpaceKPhys, Value: l2 + idx2*8}] = l1 | PTEPresent
	reader.words[xlat.Address{Space: xlat.SpaceKPhys, Value: l1 + idx1*8}] = leaf | PTEPresent

	ctx := xlat.NewContext(xlat.NewSystem(), reader, res)
	sys := ctx.Sys
	if err := SetupLinux(ctx, sys, Options{}); err != nil {
		t.Fatalf("SetupLinux: %v", err)
	}

	direct := sys.Method(xlat.SlotDirect)
	if direct == nil {
		t.Fatal("expected SlotDirect to be populated")
	}
	if direct.Off != 0xffff888000000000 {
		t.Errorf("direct map offset = 0x%x, want 0xffff888000000000", direct.Off)
	}
}

func TestSetupLinuxBadVirtBitsPropagates(t *testing.T) {
	ctx := xlat.NewContext(xlat.NewSystem(), newFakeReader(), newFakeResolver())
	if err := SetupLinux(ctx, ctx.Sys, Options{}); err == nil {
		t.Fatal("expected SetupLinux to fail without any virt_bits signal")
	}
}
