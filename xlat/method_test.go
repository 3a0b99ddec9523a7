package xlat

import (
	"testing"

	kd "github.com/thesamesam/libkdumpfile"
)

func TestPagingFormValidate(t *testing.T) {
	specs := []struct {
		name    string
		form    PagingForm
		wantErr bool
	}{
		{"x86_64 4-level", PagingForm{FieldSz: []uint8{12, 9, 9, 9, 9}}, false},
		{"empty", PagingForm{}, true},
		{"page shift too narrow", PagingForm{FieldSz: []uint8{8, 9}}, true},
		{"overflows 64 bits", PagingForm{FieldSz: []uint8{20, 20, 20, 20}}, true},
	}
	for _, spec := range specs {
		err := spec.form.Validate()
		if (err != nil) != spec.wantErr {
			t.Errorf("%s: Validate() err = %v, wantErr %v", spec.name, err, spec.wantErr)
		}
		if err != nil && err.Kind != kd.KindInvalid {
			t.Errorf("%s: err.Kind = %v, want KindInvalid", spec.name, err.Kind)
		}
	}
}

func TestPagingFormMaxIndex(t *testing.T) {
	form := PagingForm{FieldSz: []uint8{12, 9, 9, 9, 9}}
	if got := form.MaxIndex(); got != 48 {
		t.Errorf("MaxIndex() = %d, want 48", got)
	}
}

func TestMethodKindString(t *testing.T) {
	specs := []struct {
		kind MethodKind
		want string
	}{
		{MethodNone, "NONE"},
		{MethodLinear, "LINEAR"},
		{MethodPGT, "PGT"},
		{MethodTable, "TABLE"},
		{MethodMemArr, "MEMARR"},
		{MethodCustom, "CUSTOM"},
	}
	for _, spec := range specs {
		if got := spec.kind.String(); got != spec.want {
			t.Errorf("%v.String() = %q, want %q", spec.kind, got, spec.want)
		}
	}
}
