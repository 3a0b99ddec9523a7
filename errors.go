// Package kdump is the root of an address-translation core: an attribute
// dictionary (package attr), a generic translation engine and x86_64
// paging module (package xlat and xlat/x86_64), and an ELF-notes parser
// (package notes).
//
// This file holds the one piece every other package in the module shares:
// a typed error. It plays the same role as gopheros's kernel.Error, which
// every kernel package (vmm, mm, device, ...) imports instead of using
// errors.New — there the reason was the absence of a heap allocator during
// early boot; here the reason is a closed taxonomy of error *kinds* (see
// Kind below) that callers pattern-match on to decide whether an error is
// fatal or just "try the next strategy".
package kdump

import "fmt"

// Kind enumerates the error taxonomy. It is not an exhaustive list of
// failure messages, only of the classes callers need to distinguish.
type Kind int

const (
	// KindOK is the zero value; no error occurred.
	KindOK Kind = iota
	// KindNoMethod means no translation method was available to complete a
	// conversion chain (e.g. fulladdr_conv needed a method slot that was
	// never installed).
	KindNoMethod
	// KindNotPresent means a PTE's present bit was clear, or a map range had
	// no route for the requested address.
	KindNotPresent
	// KindNoData means an attribute was unset or a symbol/register/number
	// could not be resolved by the callback context.
	KindNoData
	// KindNoKey means an attribute path does not exist in the dictionary.
	KindNoKey
	// KindInvalid means a type mismatch on Set, or a non-canonical address
	// was presented to a page-table walk.
	KindInvalid
	// KindNotImplemented means an unrecognized paging form, note producer
	// version, or wire format version was encountered.
	KindNotImplemented
	// KindCorrupt means a structural error was found in parser input (e.g.
	// an ELF note header that does not fit the remaining buffer in a way
	// that isn't the tolerated truncated-tail case).
	KindCorrupt
	// KindOutOfMemory means an allocation failed.
	KindOutOfMemory
	// KindSystem means an error was propagated up from a caller-supplied
	// callback (reader or symbol resolver).
	KindSystem
	// KindBusy means a caller observed rwlock contention it chose to report
	// rather than block on.
	KindBusy
)

// String renders the Kind's canonical name.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNoMethod:
		return "no-method"
	case KindNotPresent:
		return "not-present"
	case KindNoData:
		return "no-data"
	case KindNoKey:
		return "no-key"
	case KindInvalid:
		return "invalid"
	case KindNotImplemented:
		return "not-implemented"
	case KindCorrupt:
		return "corrupt"
	case KindOutOfMemory:
		return "out-of-memory"
	case KindSystem:
		return "system"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is the single error type used throughout this module. Every
// sub-package (attr, xlat, xlat/x86_64, notes) returns *Error rather than
// defining its own error types, mirroring how gopheros's vmm, mm and device
// packages all return *kernel.Error.
type Error struct {
	// Kind classifies the failure; callers branch on this, not on the
	// message text.
	Kind Kind

	// Message is a human-readable description. Expected-and-handled kinds
	// (KindNoMethod, KindNoData, KindNotPresent, KindNotImplemented) are
	// routinely created, compared by Kind, and discarded by setup code that
	// tries the next strategy; only Message is shown to an end user.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, &Error{Kind: KindNoData}) works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsExpected reports whether err is one of the "expected" kinds that setup
// routines should clear and treat as "try the next strategy" rather than
// aborting on. Any other error (including a nil *Error typed as non-nil, or
// a non-*Error) is fatal.
func IsExpected(err error) bool {
	e, ok := err.(*Error)
	if !ok || e == nil {
		return false
	}
	switch e.Kind {
	case KindNoMethod, KindNoData, KindNotPresent, KindNotImplemented:
		return true
	default:
		return false
	}
}
