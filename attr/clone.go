package attr

import kd "github.com/thesamesam/libkdumpfile"

// CloneValue copies a single attribute's value by type: strings are
// duplicated (trivially, since Go strings are immutable and copying the
// header copies the value), while bitmap and blob values are left
// undefined in the C original's copy_data path. Per the Open Question
// decision in DESIGN.md we refuse those two cases outright rather than
// guess at copy-on-reference semantics the source never specifies.
func CloneValue(typ ValueType, v Value) (Value, *kd.Error) {
	switch typ {
	case TypeBitmap, TypeBlob:
		return Value{}, kd.Errorf(kd.KindNotImplemented, "copying %s attribute values is not implemented", typ)
	case TypeString:
		return Value{Str: v.Str}, nil
	default:
		return v, nil
	}
}

// CopyAttribute copies a single leaf attribute's current value from src
// into a newly Defined (or existing) leaf at the same path in dst: a
// non-fallback "clone a single attribute" operation distinct from
// Dictionary.Clone's whole-dictionary fallback chaining.
func CopyAttribute(dst *Dictionary, src *Attribute) (*Attribute, *kd.Error) {
	if src.Type() == TypeDirectory {
		return nil, kd.Errorf(kd.KindInvalid, "cannot copy a directory attribute as a value")
	}
	v, err := CloneValue(src.Type(), src.value)
	if err != nil {
		return nil, err
	}
	a, derr := dst.Define(src.Path(), src.Type(), nil)
	if derr != nil {
		return nil, derr
	}
	if !src.IsSet() {
		return a, nil
	}
	flags := Flags(0)
	if src.Persist() {
		flags |= FlagPersist
	}
	if serr := dst.Set(a, v, flags); serr != nil {
		return nil, serr
	}
	return a, nil
}
