// Package notes implements an ELF notes parser: it walks a contiguous
// buffer of concatenated ELF notes and installs the facts it recognizes
// into an attribute dictionary.
//
// The header-by-header loop (fixed-size header, name padded to 4 bytes,
// stop rather than panic on a truncated trailing record) is grounded on
// gopheros's device/hal/multiboot findTagByType tag walk, generalized from
// a single tag type lookup to a full iteration with per-note dispatch; the
// "stop, don't fail, on a malformed tail" tolerance matches the validation
// style of device/acpi/table's SDTHeader checksum handling (reject the one
// bad record, don't abort the whole table).
package notes

import (
	"bytes"
	"encoding/binary"
	"fmt"

	kd "github.com/thesamesam/libkdumpfile"
	"github.com/thesamesam/libkdumpfile/attr"
)

// ELF core note types (elf.h), used by the CORE producer.
const (
	ntPRStatus   = 1
	ntTaskStruct = 4
)

// Xen ELF note types, from original_source/src/kdumpfile/notes.c.
const (
	xenElfnoteCrashInfo = 0x1000001

	xenElfnoteDumpcoreHeader        = 0x2000001
	xenElfnoteDumpcoreXenVersion    = 0x2000002
	xenElfnoteDumpcoreFormatVersion = 0x2000003
)

const qemuElfnoteCPUState = 0

// Struct sizes of the packed C layouts these notes decode, named the way
// original_source/src/kdumpfile/notes.c names the structs they come from.
const (
	xenCrashInfo32Size     = 32 // xen_crash_info_32: 8 x uint32
	xenCrashInfo64Size     = 64 // xen_crash_info_64: 8 x uint64
	xenCrashInfoX86Size    = 40 // xen_crash_info_x86: + xen_phys_start, dom0_pfn_to_mfn_frame_list_list (uint32 each)
	xenCrashInfoX86_64Size = 80 // xen_crash_info_x86_64: + the same two fields as uint64

	// xen_dumpcore_elfnote_xen_version_{32,64}: both declare
	// major/minor_version as uint64_t; only platform_parameters.virt_start
	// differs in width (uint32 vs uint64) between the two variants.
	xenDumpcoreVersion32Size = 1276
	xenDumpcoreVersion64Size = 1280

	xenElfnoteHeaderSize = 32 // xen_elfnote_header: 4 x uint64
)

// PRStatusHandler decodes an architecture's NT_PRSTATUS register
// descriptor for the given CPU. Register decoding itself is
// architecture-specific and out of this package's scope; callers that care
// about individual register values supply a handler.
type PRStatusHandler func(dict *attr.Dictionary, cpu int, desc []byte) *kd.Error

// QEMUCPUStateHandler decodes a QEMU/CPUSTATE note descriptor.
type QEMUCPUStateHandler func(dict *attr.Dictionary, desc []byte) *kd.Error

// Context carries the per-dump facts the parser needs to interpret
// producer-specific payloads (endianness, pointer width), plus the
// dictionary notes are applied to and the optional architecture callouts.
type Context struct {
	Dict    *attr.Dictionary
	Order   binary.ByteOrder
	PtrSize int // 4 or 8

	// IsX86 gates decoding of the x86-only xen_phys_start field in
	// Xen/CRASH_INFO, matching the original's arch_ops == &x86_64_ops /
	// &ia32_ops gate.
	IsX86 bool

	PRStatus     PRStatusHandler
	QEMUCPUState QEMUCPUStateHandler
}

const noteHdrSize = 12

func roundup4(n uint32) uint32 { return (n + 3) &^ 3 }

type noteHeader struct {
	nameSz, descSz, typ uint32
}

func (c *Context) readHeader(data []byte) (noteHeader, bool) {
	if len(data) < noteHdrSize {
		return noteHeader{}, false
	}
	return noteHeader{
		nameSz: c.Order.Uint32(data[0:4]),
		descSz: c.Order.Uint32(data[4:8]),
		typ:    c.Order.Uint32(data[8:12]),
	}, true
}

// doNotes walks data header by header, calling handle for each note's
// (type, name, desc) until the buffer is exhausted or handle returns an
// error. A header whose descriptor would run past the end of data ends the
// walk silently: a truncated trailing note is tolerated, not an error.
func (c *Context) doNotes(data []byte, handle func(typ uint32, name, desc []byte) *kd.Error) *kd.Error {
	for {
		hdr, ok := c.readHeader(data)
		if !ok {
			return nil
		}
		nameOff := uint32(noteHdrSize)
		descOff := nameOff + roundup4(hdr.nameSz)
		if uint64(descOff)+uint64(hdr.descSz) > uint64(len(data)) {
			return nil
		}
		name := data[nameOff : nameOff+hdr.nameSz]
		desc := data[descOff : descOff+hdr.descSz]

		if err := handle(hdr.typ, name, desc); err != nil {
			return err
		}

		next := descOff + roundup4(hdr.descSz)
		if next > uint32(len(data)) {
			return nil
		}
		data = data[next:]
	}
}

// nameIs reports whether a note's name field matches want: a whole-string
// match, optionally including one trailing NUL (a 5-byte name "CORE"
// matches a 4- or 5-byte namesz).
func nameIs(name []byte, want string) bool {
	w := len(want)
	switch len(name) {
	case w:
		return string(name) == want
	case w + 1:
		return string(name[:w]) == want && name[w] == 0
	default:
		return false
	}
}

// ProcessNoarchNotes processes only the producer-agnostic notes
// (VMCOREINFO/VMCOREINFO_XEN/ERASEINFO).
func (c *Context) ProcessNoarchNotes(data []byte) *kd.Error {
	return c.doNotes(data, c.noarchNote)
}

// ProcessArchNotes processes only the architecture/producer-specific notes
// (CORE, QEMU, Xen, .note.Xen).
func (c *Context) ProcessArchNotes(data []byte) *kd.Error {
	return c.doNotes(data, c.archNote)
}

// ProcessNotes processes every recognized note in data.
func (c *Context) ProcessNotes(data []byte) *kd.Error {
	return c.doNotes(data, c.anyNote)
}

func (c *Context) anyNote(typ uint32, name, desc []byte) *kd.Error {
	if err := c.noarchNote(typ, name, desc); err != nil {
		return err
	}
	return c.archNote(typ, name, desc)
}

func (c *Context) noarchNote(typ uint32, name, desc []byte) *kd.Error {
	switch {
	case nameIs(name, "VMCOREINFO"):
		return c.setBlob("linux.vmcoreinfo.raw", desc)
	case nameIs(name, "VMCOREINFO_XEN"):
		return c.setBlob("xen.vmcoreinfo.raw", desc)
	case nameIs(name, "ERASEINFO"):
		return c.setBlob("file.eraseinfo.raw", desc)
	}
	return nil
}

func (c *Context) archNote(typ uint32, name, desc []byte) *kd.Error {
	switch {
	case nameIs(name, "CORE"):
		return c.processCoreNote(typ, desc)
	case nameIs(name, "QEMU"):
		return c.processQEMUNote(typ, desc)
	case nameIs(name, "Xen"):
		return c.processXenNote(typ, desc)
	case nameIs(name, ".note.Xen"):
		return c.processXCXenNote(typ, desc)
	}
	return nil
}

func (c *Context) processCoreNote(typ uint32, desc []byte) *kd.Error {
	switch typ {
	case ntPRStatus:
		return c.processPRStatus(desc)
	case ntTaskStruct:
		return c.setBlob("linux.task_struct", desc)
	}
	return nil
}

// processPRStatus increments the CPU count and hands the descriptor to the
// architecture-specific per-CPU register decoder, if one is configured.
func (c *Context) processPRStatus(desc []byte) *kd.Error {
	countAttr, err := c.Dict.Define("cpu.count", attr.TypeNumber, nil)
	if err != nil {
		return err
	}
	cpu := int(countAttr.Number())
	if serr := c.Dict.Set(countAttr, attr.Value{Number: int64(cpu + 1)}, 0); serr != nil {
		return serr
	}
	if serr := c.setBlob(fmt.Sprintf("cpu.%d.prstatus_raw", cpu), desc); serr != nil {
		return serr
	}
	if c.PRStatus != nil {
		return c.PRStatus(c.Dict, cpu, desc)
	}
	return nil
}

func (c *Context) processQEMUNote(typ uint32, desc []byte) *kd.Error {
	if typ == qemuElfnoteCPUState && c.QEMUCPUState != nil {
		return c.QEMUCPUState(c.Dict, desc)
	}
	return nil
}

func (c *Context) processXenNote(typ uint32, desc []byte) *kd.Error {
	switch typ {
	case xenElfnoteCrashInfo:
		return c.processXenCrashInfo(desc)
	case xenElfnoteDumpcoreXenVersion:
		return c.processXenDumpcoreVersion(desc)
	}
	return nil
}

// processXenCrashInfo decodes a Xen/CRASH_INFO note: major/minor/extra
// version, the optional trailing p2m_mfn word, and the optional x86
// xen_phys_start field.
func (c *Context) processXenCrashInfo(desc []byte) *kd.Error {
	if err := c.setNumber("xen.type", 1); err != nil { // KDUMP_XEN_SYSTEM marker
		return err
	}

	var major, minor, extra, p2mMFN, physStart uint64
	haveP2M, haveStart := false, false

	switch {
	case c.PtrSize == 8 && len(desc) >= xenCrashInfo64Size:
		major = c.Order.Uint64(desc[0:8])
		minor = c.Order.Uint64(desc[8:16])
		extra = c.Order.Uint64(desc[16:24])
		if len(desc) > xenCrashInfo64Size {
			off := (len(desc) - 8) &^ 7
			p2mMFN = c.Order.Uint64(desc[off : off+8])
			haveP2M = true
		}
		if c.IsX86 && len(desc) >= xenCrashInfoX86_64Size {
			physStart = c.Order.Uint64(desc[64:72])
			haveStart = true
		}
	case c.PtrSize == 4 && len(desc) >= xenCrashInfo32Size:
		major = uint64(c.Order.Uint32(desc[0:4]))
		minor = uint64(c.Order.Uint32(desc[4:8]))
		extra = uint64(c.Order.Uint32(desc[8:12]))
		// The original compares against sizeof(xen_crash_info_64) even on
		// this 32-bit-pointer branch; preserved here rather than "fixed",
		// since it is the real decode boundary live dumps are probed with.
		if len(desc) > xenCrashInfo64Size {
			off := (len(desc) - 4) &^ 3
			p2mMFN = uint64(c.Order.Uint32(desc[off : off+4]))
			haveP2M = true
		}
		if c.IsX86 && len(desc) >= xenCrashInfoX86Size {
			physStart = uint64(c.Order.Uint32(desc[32:36]))
			haveStart = true
		}
	default:
		return nil
	}

	if err := c.setNumber("xen.version.major", int64(major)); err != nil {
		return err
	}
	if err := c.setNumber("xen.version.minor", int64(minor)); err != nil {
		return err
	}
	if err := c.setAddress("xen.version.extra_addr", attr.SpaceKVirt, extra); err != nil {
		return err
	}
	if haveP2M {
		if err := c.setAddress("xen.xen_p2m_mfn", attr.SpaceMachFrame, p2mMFN); err != nil {
			return err
		}
	}
	if haveStart {
		if err := c.setAddress("xen.phys_start", attr.SpaceKPhys, physStart); err != nil {
			return err
		}
	}
	return nil
}

// processXenDumpcoreVersion decodes a Xen/DUMPCORE_XEN_VERSION note,
// additionally stashing the raw extra-version string (not just the numeric
// major/minor) as xen.version_extra: downstream display code wants the
// string form, not just the code.
func (c *Context) processXenDumpcoreVersion(desc []byte) *kd.Error {
	var major, minor uint64
	var extra []byte

	switch {
	case c.PtrSize == 8 && len(desc) >= xenDumpcoreVersion64Size:
		major = c.Order.Uint64(desc[0:8])
		minor = c.Order.Uint64(desc[8:16])
		extra = desc[16:32]
	case c.PtrSize == 4 && len(desc) >= xenDumpcoreVersion32Size:
		// major_version/minor_version are uint64_t in both the "_32" and
		// "_64" dumpcore version layouts; only platform_parameters differs.
		major = c.Order.Uint64(desc[0:8])
		minor = c.Order.Uint64(desc[8:16])
		extra = desc[16:32]
	default:
		return nil
	}

	if err := c.setNumber("xen.version.major", int64(major)); err != nil {
		return err
	}
	if err := c.setNumber("xen.version.minor", int64(minor)); err != nil {
		return err
	}
	return c.setString("xen.version_extra", nulTerminate(extra))
}

func (c *Context) processXCXenNote(typ uint32, desc []byte) *kd.Error {
	switch typ {
	case xenElfnoteDumpcoreHeader:
		if len(desc) < xenElfnoteHeaderSize {
			return nil
		}
		pageSize := c.Order.Uint64(desc[24:32])
		a, err := c.Dict.Define("arch.page_size", attr.TypeNumber, nil)
		if err != nil {
			return err
		}
		return c.Dict.Set(a, attr.Value{Number: int64(pageSize)}, 0)
	case xenElfnoteDumpcoreFormatVersion:
		if len(desc) < 8 {
			return nil
		}
		version := c.Order.Uint64(desc[0:8])
		if version != 1 {
			return kd.Errorf(kd.KindNotImplemented,
				"unsupported Xen dumpcore format version: %d", version)
		}
	}
	return nil
}

func nulTerminate(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func (c *Context) setBlob(path string, data []byte) *kd.Error {
	a, err := c.Dict.Define(path, attr.TypeBlob, nil)
	if err != nil {
		return err
	}
	buf := append([]byte(nil), data...)
	return c.Dict.Set(a, attr.Value{Blob: buf}, 0)
}

func (c *Context) setNumber(path string, v int64) *kd.Error {
	a, err := c.Dict.Define(path, attr.TypeNumber, nil)
	if err != nil {
		return err
	}
	return c.Dict.Set(a, attr.Value{Number: v}, 0)
}

func (c *Context) setAddress(path string, space attr.AddrSpace, v uint64) *kd.Error {
	a, err := c.Dict.Define(path, attr.TypeAddress, nil)
	if err != nil {
		return err
	}
	return c.Dict.Set(a, attr.Value{Addr: attr.Address{Space: space, Value: v}}, 0)
}

func (c *Context) setString(path, s string) *kd.Error {
	a, err := c.Dict.Define(path, attr.TypeString, nil)
	if err != nil {
		return err
	}
	return c.Dict.Set(a, attr.Value{Str: s}, attr.FlagDynStr)
}
