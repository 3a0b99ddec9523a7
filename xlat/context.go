package xlat

import kd "github.com/thesamesam/libkdumpfile"

// Reader is the dump-reading side of a Context's callback surface: every
// byte and word a walk needs comes from the caller through this interface,
// never from a concrete file handle the package owns itself.
type Reader interface {
	// ReadCaps reports which address spaces this reader can serve directly
	// (as a bitmask of 1<<AddrSpace), mirroring addrxlat_caps_t.
	ReadCaps() uint32
	// ReadU32 reads a 32-bit word at addr, in the reader's byte order.
	ReadU32(addr Address) (uint32, *kd.Error)
	// ReadU64 reads a 64-bit word at addr, in the reader's byte order.
	ReadU64(addr Address) (uint64, *kd.Error)
	// ReadBuffer reads len(buf) bytes starting at addr into buf.
	ReadBuffer(addr Address, buf []byte) *kd.Error
}

// Resolver is the symbolic-lookup side of a Context's callback surface:
// resolving symbol values, live register contents, and named numeric
// options a setup sequence needs (page size, version code, etc.) without
// this package knowing how the caller obtained them.
type Resolver interface {
	// GetSymval resolves a symbol's runtime value (e.g. a kernel variable's
	// link-time address), returning KindNoData if unknown.
	GetSymval(name string) (uint64, *kd.Error)
	// GetReg resolves a named register's value for the current CPU,
	// returning KindNoData if unavailable.
	GetReg(name string) (uint64, *kd.Error)
	// GetNumber resolves a named numeric option or attribute (page_shift,
	// version_code, phys_base, ...), returning KindNoData if unknown.
	GetNumber(name string) (int64, *kd.Error)
}

// errBufSize bounds a Context's per-instance diagnostic message, matching
// gopheros's kfmt ring buffer's fixed-capacity-overwrite-oldest shape
// (src/gopheros/kernel/kfmt/ringbuf.go) rather than growing an unbounded
// string: a Context is long-lived and SetError may be called many times
// over its life, so the message storage itself must not grow without
// bound.
const errBufSize = 256

// errRing is a fixed-capacity byte ring adapted from gopheros's
// kfmt.ringBuffer: Write always succeeds, overwriting the oldest bytes
// once full, and a snapshot reads back whatever is currently held without
// consuming it (unlike ringBuffer.Read, which is destructive — a Context's
// last-error message must be re-readable by LastError as many times as
// callers like).
type errRing struct {
	buf          [errBufSize]byte
	start, count int
}

func (r *errRing) reset() { r.start, r.count = 0, 0 }

func (r *errRing) writeString(s string) {
	r.reset()
	for i := 0; i < len(s); i++ {
		pos := (r.start + r.count) % errBufSize
		r.buf[pos] = s[i]
		if r.count < errBufSize {
			r.count++
		} else {
			r.start = (r.start + 1) % errBufSize
		}
	}
}

func (r *errRing) snapshot() string {
	out := make([]byte, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%errBufSize]
	}
	return string(out)
}

// Context is one walk's worth of state: the Reader/Resolver callbacks to
// use, the System to walk, and a small scratch buffer for the last
// diagnostic message, mirroring addrxlat_ctx_t. A Context is not safe for
// concurrent use by multiple goroutines (each walking goroutine should own
// its own Context over a shared, immutable *System).
type Context struct {
	Reader   Reader
	Resolver Resolver
	Sys      *System

	lastErr errRing
}

// NewContext returns a Context ready to walk sys using the given callbacks.
func NewContext(sys *System, r Reader, res Resolver) *Context {
	return &Context{Reader: r, Resolver: res, Sys: sys}
}

// SetError records a human-readable diagnostic for the most recent failed
// operation, mirroring addrxlat_ctx_err. It never fails and never blocks on
// allocation: it overwrites into the fixed errRing exactly as kfmt's early
// console ring buffer overwrites its oldest bytes once full.
func (c *Context) SetError(format string, args ...interface{}) {
	c.lastErr.writeString(kd.Errorf(kd.KindInvalid, format, args...).Error())
}

// LastError returns the most recently recorded diagnostic message, or ""
// if none has been set since the Context was created or last cleared.
func (c *Context) LastError() string { return c.lastErr.snapshot() }

// ClearError discards the recorded diagnostic message.
func (c *Context) ClearError() { c.lastErr.reset() }
