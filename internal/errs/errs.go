// Package errs defines Pyrewall's closed error-kind enumeration.
//
// The packet filter's receive loop must classify every error it sees and
// continue rather than propagate it as an exception would; these constants
// are the vocabulary that classification is done against.  See
// errs.IsExpected.
package errs

import "github.com/AdguardTeam/golibs/errors"

// Error kinds named in the error-handling design.  Each is a sentinel that
// callers compare against with errors.Is, following the same pattern as the
// teacher's transition from internal/agherr to golibs/errors.
const (
	// CapturePrivilege means the kernel packet-diversion handle could not be
	// opened for lack of privileges.
	CapturePrivilege errors.Error = "capture: insufficient privileges"

	// CaptureLost means the kernel handle was closed, aborted, or otherwise
	// invalidated.  Always expected on shutdown; never logged as an error.
	CaptureLost errors.Error = "capture: handle closed"

	// BindPrivilege means the DNS proxy could not bind :53 for lack of
	// privileges.
	BindPrivilege errors.Error = "dnsproxy: bind denied"

	// ResolverTransient means one or more name lookups in a resolve fan-out
	// failed; it is always handled best-effort and never surfaced to a
	// caller.
	ResolverTransient errors.Error = "resolver: lookup failed"

	// PersistenceLocked means a database write hit SQLITE_BUSY/SQLITE_LOCKED
	// after exhausting its retry budget.
	PersistenceLocked errors.Error = "storage: database locked"

	// PersistenceSchema means a best-effort schema migration step (for
	// example an ADD COLUMN) failed; the affected feature degrades but the
	// database stays usable.
	PersistenceSchema errors.Error = "storage: schema migration step failed"

	// ReinjectTransient means a packet re-injection send failed; the caller
	// backs off and counts the failure.
	ReinjectTransient errors.Error = "filter: reinject failed"

	// ParseMalformed means Host/SNI extraction gave up on a payload; the
	// caller falls through to the substring scan.
	ParseMalformed errors.Error = "filter: malformed payload"
)

// IsExpected reports whether err is an error kind that the filter loop
// expects to see routinely and must not log as an error-level event. This
// is presently only CaptureLost, which fires on every clean shutdown.
func IsExpected(err error) bool {
	return errors.Is(err, CaptureLost)
}
