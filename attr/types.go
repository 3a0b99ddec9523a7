// Package attr implements a hierarchical, fallback-chained, typed
// key/value store that carries configuration, discovered facts, and the
// results of translation setup, with pre/post mutation hooks.
//
// The tree shape (a directory Attribute owns a linked list of children via
// a head pointer and next-sibling pointers, rather than a slice) is
// grounded on gopheros's device/acpi/aml Scope/Entity tree, the only other
// parent-owns-children-by-linked-list structure in its surrounding pack.
package attr

import "sync"

// ValueType identifies the type an attribute's Template declares and that
// Set type-checks against.
type ValueType uint8

const (
	// TypeNil is used by the root and by templates that declare no payload.
	TypeNil ValueType = iota
	// TypeDirectory marks an attribute that only ever holds children.
	TypeDirectory
	// TypeNumber holds a signed 64-bit integer.
	TypeNumber
	// TypeAddress holds an xlat.Address-shaped full address (space + value);
	// stored here as a plain struct to avoid an import cycle with xlat,
	// which itself may want to read attributes.
	TypeAddress
	// TypeString holds a NUL-free Go string. When FlagDynStr is set the
	// Attribute owns the backing bytes and frees them on Clear.
	TypeString
	// TypeBitmap holds an opaque fixed-format bit vector (e.g. CPU feature
	// bits decoded from a note).
	TypeBitmap
	// TypeBlob holds an opaque byte blob (e.g. VMCOREINFO, NT_TASKSTRUCT).
	TypeBlob
)

// String names the ValueType.
func (t ValueType) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeDirectory:
		return "directory"
	case TypeNumber:
		return "number"
	case TypeAddress:
		return "address"
	case TypeString:
		return "string"
	case TypeBitmap:
		return "bitmap"
	case TypeBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Flags records per-attribute state bits.
type Flags uint8

const (
	// FlagIsSet marks an attribute that currently holds a value (or, for a
	// directory, that has at least one isset descendant reachable through it).
	FlagIsSet Flags = 1 << iota
	// FlagPersist marks an attribute that survives ClearVolatile.
	FlagPersist
	// FlagDynStr marks a TypeString attribute whose backing bytes are owned
	// by the attribute and must be released on Clear/overwrite.
	FlagDynStr
	// FlagIndirect marks an attribute whose value lives at an external
	// location (Value.Indirect) rather than being stored inline.
	FlagIndirect
	// FlagStale marks an attribute whose cached value may no longer reflect
	// its Template.Revalidate-backed source; the next read through one of
	// the Attribute value accessors (Number, AddressValue, ...) re-derives it.
	// Grounded on original_source/src/kdumpfile/attr.c's lazy revalidation.
	FlagStale
)

// Has reports whether all of want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// AddrSpace mirrors xlat.AddrSpace without importing package xlat (which
// would create an import cycle, since xlat setup code writes facts such as
// linux.phys_base into the dictionary as TypeAddress values). The two types
// are kept numerically identical; xlat.Address.ToAttr/FromAttr convert
// between them.
type AddrSpace uint8

// Address spaces recognized by the dictionary. Values are chosen to match
// xlat.AddrSpace exactly.
const (
	SpaceNone AddrSpace = iota
	SpaceMachPhys
	SpaceKPhys
	SpaceKVirt
	SpaceUserVirt
	SpaceMachFrame
)

// Address is the attribute-side copy of a full address.
type Address struct {
	Space AddrSpace
	Value uint64
}

// dictShared holds the state a Dictionary and every clone made from it
// (via Clone) share: the reader/writer lock that guards lookup/translate
// (read) and set/clone (write) operations, and a
// reference count, mirroring how mem.Physmem ref-counts shared physical
// pages in the pack's biscuit example (Refup/Refdown over an atomic
// counter) -- here applied to a dictionary's backing store instead of a
// page frame.
type dictShared struct {
	mu  sync.RWMutex
	ref int32
}
