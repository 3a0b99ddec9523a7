package xlat

import "testing"

func TestSystemMapMethodResolvesThroughSlot(t *testing.T) {
	sys := NewSystem()
	meth := &Method{Kind: MethodLinear, Target: SpaceKVirt, Off: 0xffff880000000000}
	if err := sys.SetMethod(SlotDirect, meth); err != nil {
		t.Fatalf("SetMethod: %v", err)
	}
	m := NewMap()
	if err := m.Set(0, ^uint64(0), SlotMethodID(SlotDirect)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := sys.SetMap(MapKPhysDirect, m); err != nil {
		t.Fatalf("SetMap: %v", err)
	}
	sys.Publish()

	got, err := sys.MapMethod(MapKPhysDirect, 0x1000)
	if err != nil {
		t.Fatalf("MapMethod: %v", err)
	}
	if got != meth {
		t.Fatalf("MapMethod returned %+v, want %+v", got, meth)
	}
}

func TestSystemRejectsMutationAfterPublish(t *testing.T) {
	sys := NewSystem()
	sys.Publish()
	if err := sys.SetMethod(SlotPGT, &Method{}); err == nil {
		t.Fatal("expected SetMethod to fail on a published System")
	}
	if err := sys.SetMap(MapHW, NewMap()); err == nil {
		t.Fatal("expected SetMap to fail on a published System")
	}
}

func TestSystemMapMethodNoMethodWhenUncovered(t *testing.T) {
	sys := NewSystem()
	if err := sys.SetMap(MapHW, NewMap()); err != nil {
		t.Fatalf("SetMap: %v", err)
	}
	sys.Publish()
	if _, err := sys.MapMethod(MapHW, 0x1000); err == nil {
		t.Fatal("expected KindNoMethod for an uncovered address")
	}
}

func TestSystemRefcounting(t *testing.T) {
	sys := NewSystem()
	sys.Get()
	sys.Put()
	sys.Put()
	// No assertion beyond "does not panic": System does not expose its
	// refcount, an opaque refcounted handle.
}
