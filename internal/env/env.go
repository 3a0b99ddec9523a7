// Package env supplies one ambient "config" concern the attribute key
// namespace assumes but doesn't source: letting a human operator override
// addrxlat.opts.* at dictionary-bootstrap time via environment variables,
// the same typed-accessor-over-os.Getenv role github.com/xyproto/env/v2
// plays in xyproto-vibe67.
package env

import (
	"strconv"

	xenv "github.com/xyproto/env/v2"
)

// LookupUint64 returns the parsed value of the named environment variable
// and true, or (0, false) if it is unset. Values may be given in decimal or
// with a 0x prefix, matching how a root page-table physical address is
// usually quoted in operator documentation.
func LookupUint64(name string) (uint64, bool) {
	if !xenv.Has(name) {
		return 0, false
	}
	raw := xenv.Str(name)
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// LookupInt returns the parsed value of the named environment variable and
// true, or (0, false) if it is unset or malformed.
func LookupInt(name string) (int, bool) {
	if !xenv.Has(name) {
		return 0, false
	}
	v, err := strconv.Atoi(xenv.Str(name))
	if err != nil {
		return 0, false
	}
	return v, true
}
