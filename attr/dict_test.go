package attr

import (
	"testing"

	kd "github.com/thesamesam/libkdumpfile"
)

func TestSetMarksAncestorsIsSet(t *testing.T) {
	d := New()
	a, err := d.Define("linux.version_code", TypeNumber, nil)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}

	if err := d.Set(a, Value{Number: 0x40d00}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := d.Lookup("linux.version_code")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.value.Number != 0x40d00 {
		t.Errorf("expected value 0x40d00; got 0x%x", got.value.Number)
	}
	if !got.IsSet() {
		t.Errorf("expected leaf to be isset")
	}
	for p := got.Parent(); p != nil; p = p.Parent() {
		if !p.IsSet() {
			t.Errorf("expected ancestor %q to be isset", p.Path())
		}
	}
}

func TestLookupFallback(t *testing.T) {
	d := New()
	a, _ := d.Define("linux.version_code", TypeNumber, nil)
	if err := d.Set(a, Value{Number: 0x40d00}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clone := d.Clone()
	defer clone.Release()

	got, err := clone.Lookup("linux.version_code")
	if err != nil {
		t.Fatalf("Lookup through fallback: %v", err)
	}
	if got.value.Number != 0x40d00 {
		t.Errorf("expected fallback value 0x40d00; got 0x%x", got.value.Number)
	}

	if _, err := clone.Lookup(".linux.version_code"); err == nil {
		t.Fatalf("expected leading-dot lookup to skip fallback and miss")
	} else if e, ok := error(err).(*kd.Error); !ok || e.Kind != kd.KindNoKey {
		t.Errorf("expected KindNoKey; got %v", err)
	}
}

func TestLookupFallbackOverride(t *testing.T) {
	d := New()
	a, _ := d.Define("linux.version_code", TypeNumber, nil)
	_ = d.Set(a, Value{Number: 1}, 0)

	clone := d.Clone()
	defer clone.Release()

	ca, _ := clone.Define("linux.version_code", TypeNumber, nil)
	_ = clone.Set(ca, Value{Number: 2}, 0)

	got, err := clone.Lookup("linux.version_code")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.value.Number != 2 {
		t.Errorf("expected override 2 to shadow parent value 1; got %d", got.value.Number)
	}
}

func TestClearVolatilePreservesPersistentPath(t *testing.T) {
	d := New()
	volatile, _ := d.Define("linux.phys_base", TypeNumber, nil)
	_ = d.Set(volatile, Value{Number: 10}, 0)

	persistent, _ := d.Define("addrxlat.opts.virt_bits", TypeNumber, nil)
	_ = d.Set(persistent, Value{Number: 48}, FlagPersist)

	d.ClearVolatile()

	if volatile.IsSet() {
		t.Errorf("expected volatile attribute to be cleared")
	}
	if !persistent.IsSet() {
		t.Errorf("expected persistent attribute to remain isset")
	}
	for p := persistent.Parent(); p != nil; p = p.Parent() {
		if !p.IsSet() {
			t.Errorf("expected ancestor %q of persistent attribute to remain isset", p.Path())
		}
	}
}

func TestIterateSkipsUnset(t *testing.T) {
	d := New()
	a, _ := d.Define("arch.name", TypeString, nil)
	_, _ = d.Define("arch.ptr_size", TypeNumber, nil) // left unset
	_ = d.Set(a, Value{Str: "x86_64"}, 0)

	var seen []string
	d.Iterate(d.WellKnownAttr(ArchName, TypeString).Parent(), func(c *Attribute) bool {
		seen = append(seen, c.Name())
		return true
	})

	if len(seen) != 1 || seen[0] != "name" {
		t.Errorf("expected to iterate only the isset child \"name\"; got %v", seen)
	}
}

func TestSetTypeMismatchOnDirectory(t *testing.T) {
	d := New()
	dir := d.mkdirs("arch")
	if err := d.Set(dir, Value{Number: 1}, 0); err == nil {
		t.Fatalf("expected error setting a value on a directory attribute")
	} else if e, ok := error(err).(*kd.Error); !ok || e.Kind != kd.KindInvalid {
		t.Errorf("expected KindInvalid; got %v", err)
	}
}

func TestSetTypeMismatchOnLeaf(t *testing.T) {
	d := New()
	a, _ := d.Define("linux.phys_base", TypeNumber, nil)
	if err := d.Set(a, Value{Str: "x"}, 0); err == nil {
		t.Fatalf("expected error setting a string value on a TypeNumber attribute")
	} else if e, ok := error(err).(*kd.Error); !ok || e.Kind != kd.KindInvalid {
		t.Errorf("expected KindInvalid; got %v", err)
	}
	if a.IsSet() {
		t.Errorf("attribute must not be marked isset after a rejected Set")
	}
	if err := d.Set(a, Value{Number: 42}, 0); err != nil {
		t.Fatalf("Set with the declared type: %v", err)
	}
	if a.Number() != 42 {
		t.Errorf("Number() = %d, want 42", a.Number())
	}
}

func TestPreSetRejectionIsNotFatal(t *testing.T) {
	d := New()
	tmpl := &Template{
		PreSet: func(a *Attribute, v *Value) *templateError {
			if v.Number < 0 {
				return NewHookError(kd.KindInvalid, "negative value rejected")
			}
			return nil
		},
	}
	a, _ := d.Define("linux.phys_base", TypeNumber, tmpl)
	if err := d.Set(a, Value{Number: -1}, 0); err == nil {
		t.Fatalf("expected PreSet rejection")
	}
	// The dictionary itself must remain usable after a rejected Set.
	if err := d.Set(a, Value{Number: 5}, 0); err != nil {
		t.Fatalf("Set after rejection: %v", err)
	}
}
