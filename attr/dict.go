package attr

import (
	"strings"
	"sync/atomic"

	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/internal/env"
)

// WellKnown indexes the small, fixed set of attribute paths translation
// setup requires. Dictionary.globalIndex caches pointers to these
// nodes so hot lookups during paging setup skip the hash table entirely,
// mirroring how xlat.System keeps fixed-size meth/map slot arrays instead
// of a generic map for its own small set of well-known names.
type WellKnown int

// The fixed set of required keys setup code resolves by name.
const (
	ArchName WellKnown = iota
	ArchPtrSize
	ArchByteOrder
	ArchPageSize
	LinuxVersionCode
	LinuxPhysBase
	LinuxUTSMachine
	XenVersionCode
	XenP2mMFN
	XenXlat
	OSType
	OptRootPgt
	OptVirtBits
	numWellKnown
)

var wellKnownPaths = [numWellKnown]string{
	ArchName:         "arch.name",
	ArchPtrSize:      "arch.ptr_size",
	ArchByteOrder:    "arch.byte_order",
	ArchPageSize:     "arch.page_size",
	LinuxVersionCode: "linux.version_code",
	LinuxPhysBase:    "linux.phys_base",
	LinuxUTSMachine:  "linux.uts.machine",
	XenVersionCode:   "xen.version_code",
	XenP2mMFN:        "xen.xen_p2m_mfn",
	XenXlat:          "xen.xen_xlat",
	OSType:           "addrxlat.ostype",
	OptRootPgt:       "addrxlat.opts.rootpgt",
	OptVirtBits:      "addrxlat.opts.virt_bits",
}

// Dictionary is the attribute dictionary: a hierarchical, hash-indexed,
// fallback-chained store of typed attributes.
type Dictionary struct {
	shared *dictShared

	root     *Attribute
	hash     map[uint64][]*Attribute
	fallback *Dictionary

	globalIndex [numWellKnown]*Attribute
}

// New creates an empty dictionary with no fallback.
func New() *Dictionary {
	d := &Dictionary{
		shared: &dictShared{ref: 1},
		hash:   make(map[uint64][]*Attribute),
	}
	d.root = &Attribute{
		template: &Template{Name: "", Type: TypeDirectory},
		dict:     d,
		flags:    FlagIsSet,
		fullPath: "",
	}
	d.index(d.root, pathHash("", true))
	d.ensureWellKnownDirs()
	return d
}

// ensureWellKnownDirs pre-creates the directory chain for every path in
// wellKnownPaths so that ApplyEnvOverrides (and ordinary setup code) can
// always find a directory attribute to hang a leaf off of.
func (d *Dictionary) ensureWellKnownDirs() {
	for _, p := range wellKnownPaths {
		idx := strings.LastIndex(p, ".")
		if idx < 0 {
			continue
		}
		d.mkdirs(p[:idx])
	}
}

// index registers a newly created attribute in the hash table.
func (d *Dictionary) index(a *Attribute, hash uint64) {
	d.hash[hash] = append(d.hash[hash], a)
}

// mkdirs creates (or returns the existing) directory attribute chain for a
// dotted path, creating intermediate directories as needed. It does not
// mark anything isset; that only happens when a leaf under it is Set.
func (d *Dictionary) mkdirs(path string) *Attribute {
	if path == "" {
		return d.root
	}
	cur := d.root
	var sb strings.Builder
	for i, seg := range strings.Split(path, ".") {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(seg)
		full := sb.String()
		child := findChild(cur, seg)
		if child == nil {
			child = &Attribute{
				parent:   cur,
				template: &Template{Name: seg, Type: TypeDirectory},
				dict:     d,
				fullPath: full,
			}
			linkChild(cur, child)
			d.index(child, pathHash(full, true))
		}
		cur = child
	}
	return cur
}

// findChild scans dir's sibling-linked children for one named name.
func findChild(dir *Attribute, name string) *Attribute {
	for c := dir.childrenHead; c != nil; c = c.nextSibling {
		if c.template.Name == name {
			return c
		}
	}
	return nil
}

// linkChild pushes child onto dir's children list.
func linkChild(dir, child *Attribute) {
	child.nextSibling = dir.childrenHead
	dir.childrenHead = child
}

// Define creates (if it does not already exist) a leaf attribute at path
// with the given type and hooks, without setting a value. It is the
// entry point dump-format readers and the paging module use to declare the
// keys they will later Set.
func (d *Dictionary) Define(path string, typ ValueType, tmpl *Template) (*Attribute, *kd.Error) {
	if path == "" {
		return nil, kd.Errorf(kd.KindInvalid, "empty attribute path")
	}
	idx := strings.LastIndex(path, ".")
	parent := d.root
	name := path
	if idx >= 0 {
		parent = d.mkdirs(path[:idx])
		name = path[idx+1:]
	}
	if strings.Contains(name, ".") {
		return nil, kd.Errorf(kd.KindInvalid, "child name %q contains a dot", name)
	}
	if existing := findChild(parent, name); existing != nil {
		return existing, nil
	}
	if tmpl == nil {
		tmpl = &Template{}
	}
	tmpl.Name = name
	tmpl.Type = typ
	a := &Attribute{
		parent:   parent,
		template: tmpl,
		dict:     d,
		fullPath: path,
	}
	linkChild(parent, a)
	d.index(a, pathHash(path, typ == TypeDirectory))
	d.cacheWellKnown(a)
	return a, nil
}

func (d *Dictionary) cacheWellKnown(a *Attribute) {
	for i, p := range wellKnownPaths {
		if p == a.fullPath {
			d.globalIndex[i] = a
			return
		}
	}
}

// WellKnownAttr returns the cached attribute for one of the fixed keys,
// defining it first (as a directory-anchored leaf of the appropriate type)
// if it has never been touched.
func (d *Dictionary) WellKnownAttr(k WellKnown, typ ValueType) *Attribute {
	if a := d.globalIndex[k]; a != nil {
		return a
	}
	a, _ := d.Define(wellKnownPaths[k], typ, nil)
	d.globalIndex[k] = a
	return a
}

// Lookup finds the attribute named by path. If path begins with '.' the
// fallback chain is skipped (the leading dot is stripped before matching);
// otherwise a miss in this dictionary is retried against d.fallback, and so
// on up the chain.
func (d *Dictionary) Lookup(path string) (*Attribute, *kd.Error) {
	d.shared.mu.RLock()
	defer d.shared.mu.RUnlock()
	return d.lookupLocked(path)
}

func (d *Dictionary) lookupLocked(path string) (*Attribute, *kd.Error) {
	skipFallback := strings.HasPrefix(path, ".")
	search := strings.TrimPrefix(path, ".")

	if a := d.lookupLocal(search); a != nil {
		return a, nil
	}
	if !skipFallback && d.fallback != nil {
		return d.fallback.lookupLocked(search)
	}
	return nil, kd.Errorf(kd.KindNoKey, "no such attribute: %s", path)
}

// lookupLocal resolves path within this dictionary only, using the hash
// table and keycmp to break ties.
func (d *Dictionary) lookupLocal(path string) *Attribute {
	if path == "" {
		return d.root
	}
	h := pathHash(path, false)
	for _, cand := range d.hash[h] {
		if keycmp(cand.fullPath, path) {
			return cand
		}
	}
	// A directory may also be addressed without a trailing-dot marker by a
	// caller that doesn't know (or care) whether the target is a leaf or a
	// directory; fall back to the directory hash bucket too.
	hd := pathHash(path, true)
	for _, cand := range d.hash[hd] {
		if keycmp(cand.fullPath, path) {
			return cand
		}
	}
	return nil
}

// markAncestorsSet walks a up to the root, marking every directory isset:
// a Set on a leaf instantiates all of its ancestor directories as isset too.
func markAncestorsSet(a *Attribute) {
	for p := a.parent; p != nil; p = p.parent {
		if p.flags&FlagIsSet != 0 {
			break
		}
		p.flags |= FlagIsSet
	}
}

// Set type-checks v against a's declared type, runs PreSet/PostSet, installs
// the value and marks a and its ancestors isset. Ownership of any heap
// backed payload in v transfers to the attribute, even if PreSet rejects
// the value (PreSet itself is responsible for releasing it in that case;
// Set never retains a copy once PreSet has been invoked).
func (d *Dictionary) Set(a *Attribute, v Value, flags Flags) *kd.Error {
	d.shared.mu.Lock()
	defer d.shared.mu.Unlock()

	if a.template.Type == TypeDirectory {
		return kd.Errorf(kd.KindInvalid, "cannot set value of directory %q", a.fullPath)
	}
	if typ, ok := v.populatedType(); ok && typ != a.template.Type {
		return kd.Errorf(kd.KindInvalid, "cannot set %s value on %s attribute %q", typ, a.template.Type, a.fullPath)
	}
	if a.template.PreSet != nil {
		if terr := a.template.PreSet(a, &v); terr != nil {
			return &kd.Error{Kind: kd.Kind(terr.kind), Message: terr.message}
		}
	}
	if a.flags&FlagDynStr != 0 {
		a.value.Str = ""
	}
	a.value = v
	a.flags = (a.flags &^ (FlagDynStr | FlagStale)) | FlagIsSet | (flags &^ FlagIsSet)
	markAncestorsSet(a)
	if a.template.PostSet != nil {
		a.template.PostSet(a, &a.value)
	}
	return nil
}

// Clear invokes PreClear, releases owned storage, and recursively unsets a
// and all of its children.
func (d *Dictionary) Clear(a *Attribute) {
	d.shared.mu.Lock()
	defer d.shared.mu.Unlock()
	clearLocked(a)
}

func clearLocked(a *Attribute) {
	if a.template.PreClear != nil {
		a.template.PreClear(a)
	}
	a.flags &^= FlagIsSet | FlagDynStr | FlagStale
	a.value = Value{}
	for c := a.childrenHead; c != nil; c = c.nextSibling {
		clearLocked(c)
	}
}

// ClearVolatile clears every non-persistent attribute in the dictionary
// while preserving isset on the full ancestor path to any persistent
// descendant.
func (d *Dictionary) ClearVolatile() {
	d.shared.mu.Lock()
	defer d.shared.mu.Unlock()
	clearVolatile(d.root)
}

// clearVolatile returns true if a (or a descendant) remains isset after the
// sweep, so the caller can decide whether to keep its own isset flag.
func clearVolatile(a *Attribute) bool {
	keepSelf := a.Persist() && a.IsSet()
	keepAny := keepSelf
	for c := a.childrenHead; c != nil; c = c.nextSibling {
		if clearVolatile(c) {
			keepAny = true
		}
	}
	if !keepSelf && a.template.Type != TypeDirectory {
		a.flags &^= FlagIsSet | FlagDynStr | FlagStale
		a.value = Value{}
	}
	if keepAny {
		a.flags |= FlagIsSet
	} else if a.template.Type == TypeDirectory {
		a.flags &^= FlagIsSet
	}
	return keepAny
}

// Iterate calls fn for every isset child of dir, in sibling order. fn
// returning false stops the iteration early. Iteration
// tolerates concurrent read-only traffic (it holds the dictionary's read
// lock for its whole duration) but is not stable under concurrent writes
// (a write would block behind the same lock, but a writer from a *different*
// dictionary sharing this one via Clone is not serialized against it).
func (d *Dictionary) Iterate(dir *Attribute, fn func(*Attribute) bool) {
	d.shared.mu.RLock()
	defer d.shared.mu.RUnlock()
	for c := dir.childrenHead; c != nil; c = c.nextSibling {
		if !c.IsSet() {
			continue
		}
		if !fn(c) {
			return
		}
	}
}

// Root returns the dictionary's root directory attribute.
func (d *Dictionary) Root() *Attribute { return d.root }

// Clone returns a new dictionary whose fallback is d: lookups miss through
// to d for anything the clone hasn't overridden itself. The clone starts
// as New leaves it (a root plus the well-known directory chain, no leaf
// values); every leaf override it later Sets shadows d's
// value at the same path.
func (d *Dictionary) Clone() *Dictionary {
	atomic.AddInt32(&d.shared.ref, 1)
	c := New()
	c.fallback = d
	return c
}

// Release drops a reference obtained via Clone. When the last reference to
// the original dictionary behind a fallback chain is released, callers must
// stop using any Attribute obtained from it.
func (d *Dictionary) Release() {
	if atomic.AddInt32(&d.shared.ref, -1) == 0 && d.fallback != nil {
		d.fallback.Release()
	}
}

// ApplyEnvOverrides populates addrxlat.opts.rootpgt and
// addrxlat.opts.virt_bits from the environment, using
// github.com/xyproto/env/v2's typed accessors, when the corresponding
// environment variable is present. This is the one ambient "config" entry
// point the attribute key namespace implies but leaves unsourced.
func (d *Dictionary) ApplyEnvOverrides() {
	if v, ok := env.LookupUint64("ADDRXLAT_OPT_ROOTPGT"); ok {
		a := d.WellKnownAttr(OptRootPgt, TypeAddress)
		_ = d.Set(a, Value{Addr: Address{Space: SpaceKPhys, Value: v}}, 0)
	}
	if v, ok := env.LookupInt("ADDRXLAT_OPT_VIRT_BITS"); ok {
		a := d.WellKnownAttr(OptVirtBits, TypeNumber)
		_ = d.Set(a, Value{Number: int64(v)}, 0)
	}
}
