package attr

import (
	"fmt"

	kd "github.com/thesamesam/libkdumpfile"
)

// NewHookError builds the error a Template hook (PreSet/Revalidate) returns
// to reject or fail an operation. It is a thin wrapper so that hook
// implementations living in other packages (xlat/x86_64, notes) don't need
// to import this package's internal templateError type directly.
func NewHookError(kind kd.Kind, format string, args ...interface{}) *templateError {
	return &templateError{kind: int(kind), message: fmt.Sprintf(format, args...)}
}
