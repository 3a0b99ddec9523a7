package xlat

import (
	"testing"

	"github.com/thesamesam/libkdumpfile/attr"
)

func TestAddressMFNRoundTrip(t *testing.T) {
	mpa := Address{Space: SpaceMachPhys, Value: 0x123456000}
	mfn, err := mpa.ToMFN(12)
	if err != nil {
		t.Fatalf("ToMFN: %v", err)
	}
	if mfn.Space != SpaceMachFrame || mfn.Value != 0x123456 {
		t.Fatalf("ToMFN() = %+v", mfn)
	}
	back, err := mfn.MFNToAddress(12)
	if err != nil {
		t.Fatalf("MFNToAddress: %v", err)
	}
	if back != mpa {
		t.Fatalf("round trip = %+v, want %+v", back, mpa)
	}
}

func TestAddressMFNWrongSpace(t *testing.T) {
	kva := Address{Space: SpaceKVirt, Value: 0x1000}
	if _, err := kva.ToMFN(12); err == nil {
		t.Fatal("expected ToMFN on a non-MPA address to fail")
	}
}

func TestAddressAddPreservesSpace(t *testing.T) {
	a := Address{Space: SpaceKPhys, Value: 0x1000}
	got := a.Add(0x40)
	want := Address{Space: SpaceKPhys, Value: 0x1040}
	if got != want {
		t.Fatalf("Add() = %+v, want %+v", got, want)
	}
}

func TestAddressAttrRoundTrip(t *testing.T) {
	a := Address{Space: SpaceKVirt, Value: 0xffff880000001000}
	got := FromAttr(a.ToAttr())
	if got != a {
		t.Fatalf("attr round trip = %+v, want %+v", got, a)
	}
	if a.ToAttr().Space != attr.SpaceKVirt {
		t.Fatalf("ToAttr().Space = %v, want attr.SpaceKVirt", a.ToAttr().Space)
	}
}
