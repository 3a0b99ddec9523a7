package attr

// Template names a key and declares the type and optional hooks for every
// Attribute created from it. Multiple Attribute instances (e.g. one per
// clone of a Dictionary) may share the same Template.
type Template struct {
	// Name is this attribute's path segment; it must not contain a dot.
	Name string

	// Type is the value type Set type-checks against. TypeDirectory
	// templates never hold an inline value; they only ever gain children.
	Type ValueType

	// PreSet is invoked with a borrowed reference to the candidate value
	// before it is installed. Returning an error abandons the Set, but
	// ownership of any heap-backed value (a dynamic string or blob) passed
	// into Set transfers to the attribute even on this rejection path —
	// PreSet must consume or release what it was given, it must not hold
	// onto it past returning.
	PreSet func(a *Attribute, v *Value) *templateError

	// PostSet runs after the value is installed and isset is marked,
	// inside the same locked section as the mutation.
	PostSet func(a *Attribute, v *Value)

	// PreClear is invoked before a Clear releases owned storage and unsets
	// the node.
	PreClear func(a *Attribute)

	// Revalidate recomputes a stale cached value (see Flags.FlagStale) the
	// next time it is read. It returns the fresh value to install.
	Revalidate func(a *Attribute) (Value, *templateError)
}

// templateError is the error type hooks return (built with NewHookError,
// see errors.go). Dictionary.Set translates a PreSet error into a
// *kdump.Error; an error from Revalidate is not reported, and the stale
// value stays in place.
type templateError struct {
	kind    int
	message string
}

// Value is a tagged union holding one attribute's payload. Exactly one
// field is meaningful, selected by the owning Template's Type.
type Value struct {
	Number  int64
	Addr    Address
	Str     string
	Bitmap  []byte
	Blob    []byte
	// Indirect, when non-nil, means the value lives at this external
	// location instead of inline; Number/Addr/Str/Bitmap/Blob are ignored.
	// Pre-set hooks can install this to alias, e.g., a live kernel
	// register rather than copying it at Set time.
	Indirect *Value
}

// resolve follows Indirect at most once (the C original never builds a
// chain of indirection) and returns the value actually read.
func (v *Value) resolve() *Value {
	if v.Indirect != nil {
		return v.Indirect
	}
	return v
}

// populatedType reports the ValueType matching whichever union field v
// actually carries a non-zero payload in, and whether that could be
// determined at all. A value whose only populated field happens to hold
// its zero value (Number: 0, Str: "", ...) is indistinguishable from an
// entirely empty Value, so ok is false and callers must skip the check
// rather than reject it. Indirect values are left unchecked for the same
// reason: resolving the alias would need a dictionary lookup Set has no
// way to perform here.
func (v *Value) populatedType() (typ ValueType, ok bool) {
	switch {
	case v.Indirect != nil:
		return TypeNil, false
	case v.Str != "":
		return TypeString, true
	case v.Blob != nil:
		return TypeBlob, true
	case v.Bitmap != nil:
		return TypeBitmap, true
	case v.Addr != (Address{}):
		return TypeAddress, true
	case v.Number != 0:
		return TypeNumber, true
	default:
		return TypeNil, false
	}
}

// Attribute is one node of a dictionary tree: a directory (which owns
// children) or a leaf holding a Value. The parent-pointer-plus-sibling-chain
// shape (rather than a parent holding a slice of children) mirrors
// gopheros's device/acpi/aml Scope, whose Entity nodes likewise link
// siblings instead of being stored in their parent's slice; that shape
// lets Clear/ClearVolatile unlink a subtree in O(1) without reindexing a
// slice of its siblings.
type Attribute struct {
	parent       *Attribute
	template     *Template
	childrenHead *Attribute
	nextSibling  *Attribute

	flags Flags
	value Value

	// dict is the Dictionary this node belongs to; needed by Lookup/Set to
	// take the shared lock and to reach the hash table and fallback chain.
	dict *Dictionary

	// fullPath caches the dotted path for hashing and lookup-by-hash
	// collision comparison; computed once, at creation, since a node's
	// position in the tree never changes after it is created (only
	// isset/value do).
	fullPath string
}

// Name returns this attribute's template name (its path segment).
func (a *Attribute) Name() string { return a.template.Name }

// Path returns the attribute's full dotted path from the dictionary root.
func (a *Attribute) Path() string { return a.fullPath }

// Type returns the attribute's declared value type.
func (a *Attribute) Type() ValueType { return a.template.Type }

// IsSet reports whether this attribute currently holds a value (directories:
// whether any descendant does).
func (a *Attribute) IsSet() bool { return a.flags&FlagIsSet != 0 }

// Persist reports whether this attribute survives ClearVolatile.
func (a *Attribute) Persist() bool { return a.flags&FlagPersist != 0 }

// Parent returns the owning directory attribute, or nil for the root.
func (a *Attribute) Parent() *Attribute { return a.parent }

// maybeRevalidate invokes the owning Template's Revalidate hook, if any,
// when the attribute is marked stale, installing the refreshed value in
// place. It is called under the dictionary's read lock by every accessor
// below, so a revalidate that touches only this attribute is safe; one
// that needs to write elsewhere in the tree must instead be triggered
// through Dictionary.Set by its caller.
func (a *Attribute) maybeRevalidate() {
	if a.flags&FlagStale == 0 || a.template.Revalidate == nil {
		return
	}
	a.dict.shared.mu.RLock()
	defer a.dict.shared.mu.RUnlock()
	if v, terr := a.template.Revalidate(a); terr == nil {
		a.value = v
		a.flags &^= FlagStale
	}
}

// Number returns the attribute's value as a number, resolving one level of
// indirection if the value is stored indirectly.
func (a *Attribute) Number() int64 {
	a.maybeRevalidate()
	return a.value.resolve().Number
}

// AddressValue returns the attribute's value as a full address.
func (a *Attribute) AddressValue() Address {
	a.maybeRevalidate()
	return a.value.resolve().Addr
}

// StringValue returns the attribute's value as a string.
func (a *Attribute) StringValue() string {
	a.maybeRevalidate()
	return a.value.resolve().Str
}

// BlobValue returns the attribute's value as an opaque byte blob.
func (a *Attribute) BlobValue() []byte {
	a.maybeRevalidate()
	return a.value.resolve().Blob
}

// BitmapValue returns the attribute's value as a bitmap.
func (a *Attribute) BitmapValue() []byte {
	a.maybeRevalidate()
	return a.value.resolve().Bitmap
}

// MarkStale flags the attribute so the next read re-derives its value via
// the owning Template's Revalidate hook, grounded on
// original_source/src/kdumpfile/attr.c's lazy revalidation.
func (a *Attribute) MarkStale() { a.flags |= FlagStale }
