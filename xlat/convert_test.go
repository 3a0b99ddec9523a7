package xlat

import "testing"

func TestConvertSameSpaceIsNoop(t *testing.T) {
	ctx := NewContext(NewSystem(), newFakeReader(), fakeResolver{})
	addr := Address{Space: SpaceKPhys, Value: 0x1234}
	got, err := Convert(ctx, addr, SpaceKPhys)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != addr {
		t.Fatalf("Convert() = %+v, want %+v", got, addr)
	}
}

func TestConvertKVirtToKPhysViaPGT(t *testing.T) {
	paging := PagingForm{PTEFormat: PTEFormatX86_64, FieldSz: []uint8{12, 9}}
	reader := newFakeReader()
	root := Address{Space: SpaceKPhys, Value: 0x9000}
	reader.words[root.Add(4 * 8)] = 0xc000 | pteMaskPresent

	meth := &Method{Kind: MethodPGT, Target: SpaceKPhys, Root: root, Paging: paging}
	sys := NewSystem()
	if err := sys.SetMethod(SlotPGT, meth); err != nil {
		t.Fatalf("SetMethod: %v", err)
	}
	m := NewMap()
	if err := m.Set(0, ^uint64(0), SlotMethodID(SlotPGT)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := sys.SetMap(MapHW, m); err != nil {
		t.Fatalf("SetMap: %v", err)
	}
	sys.Publish()

	ctx := NewContext(sys, reader, fakeResolver{})
	got, err := Convert(ctx, Address{Space: SpaceKVirt, Value: 4<<12 | 0x55}, SpaceKPhys)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := Address{Space: SpaceKPhys, Value: 0xc000 | 0x55}
	if got != want {
		t.Fatalf("Convert() = %+v, want %+v", got, want)
	}
}

func TestConvertUnknownPairFails(t *testing.T) {
	ctx := NewContext(NewSystem(), newFakeReader(), fakeResolver{})
	if _, err := Convert(ctx, Address{Space: SpaceUserVirt, Value: 0}, SpaceKVirt); err == nil {
		t.Fatal("expected an unlisted conversion pair to fail")
	}
}
