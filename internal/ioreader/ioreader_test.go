package ioreader

import (
	"encoding/binary"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/xlat"
)

// TestFileReaderWalkPGT exercises a real two-level page-table walk through
// FileReader against an actual file on disk, rather than the in-memory
// fakeReader every other package's tests use. The root page table lives at
// kernel-physical address 0x9000; FileReader only services machine-physical
// reads, so the walk only succeeds if the KPA<->MPA identity bridge
// SetupLinux installs is wired into ensureReadable.
func TestFileReaderWalkPGT(t *testing.T) {
	f, err := os.CreateTemp("", "ioreader-test-*.img")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	defer os.Remove(path)
	f.Close()

	const (
		root     = uint64(0x9000)
		l1Table  = uint64(0xa000)
		leafBase = uint64(0xb000)
	)
	// Virtual address with L2 index 3, L1 index 5, page offset 0x40.
	input := uint64(3)<<(12+9) | uint64(5)<<12 | 0x40

	buf := make([]byte, l1Table+6*8)
	binary.LittleEndian.PutUint64(buf[root+3*8:], l1Table|1)
	binary.LittleEndian.PutUint64(buf[l1Table+5*8:], leafBase|1)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("unix.Open: %v", err)
	}
	defer unix.Close(fd)

	reader := NewFileReader(fd, binary.LittleEndian)
	if caps := reader.ReadCaps(); caps != 1<<xlat.SpaceMachPhys {
		t.Fatalf("ReadCaps() = 0x%x, want only SpaceMachPhys", caps)
	}

	sys := xlat.NewSystem()
	// The bridge SetupLinux installs whenever Xen p2m isn't in play: KPA
	// and MPA coincide, so both directions are a zero-offset LINEAR method.
	identity := &xlat.Method{Kind: xlat.MethodLinear, Target: xlat.SpaceMachPhys, Off: 0}
	sys.SetMethod(xlat.SlotKPhysMachPhys, identity)
	kpMap := xlat.NewMap()
	if err := kpMap.Set(0, ^uint64(0), xlat.SlotMethodID(xlat.SlotKPhysMachPhys)); err != nil {
		t.Fatalf("kpMap.Set: %v", err)
	}
	sys.SetMap(xlat.MapKPhysMachPhys, kpMap)

	paging := xlat.PagingForm{PTEFormat: xlat.PTEFormatX86_64, FieldSz: []uint8{12, 9, 9}}
	meth := &xlat.Method{
		Kind:   xlat.MethodPGT,
		Target: xlat.SpaceMachPhys,
		Root:   xlat.Address{Space: xlat.SpaceKPhys, Value: root},
		Paging: paging,
	}

	ctx := xlat.NewContext(sys, reader, noopResolver{})
	got, werr := xlat.Walk(ctx, meth, input)
	if werr != nil {
		t.Fatalf("Walk: %v", werr)
	}
	want := xlat.Address{Space: xlat.SpaceMachPhys, Value: leafBase | 0x40}
	if got != want {
		t.Fatalf("Walk() = %+v, want %+v", got, want)
	}
}

// noopResolver is unused by a pure PGT walk, but xlat.Context requires one.
type noopResolver struct{}

func (noopResolver) GetSymval(name string) (uint64, *kd.Error) {
	return 0, kd.Errorf(kd.KindNoData, "symbol %q unknown", name)
}
func (noopResolver) GetReg(name string) (uint64, *kd.Error) {
	return 0, kd.Errorf(kd.KindNoData, "register %q unknown", name)
}
func (noopResolver) GetNumber(name string) (int64, *kd.Error) {
	return 0, kd.Errorf(kd.KindNoData, "option %q unknown", name)
}
