//go:build !windows

package netutil

import (
	"fmt"
	"net"
)

// DefaultGateway is unsupported outside Windows; Pyrewall is a Windows ICS
// gateway product (spec.md §1), so non-Windows builds exist only for tests
// and return a clear error rather than guessing at a platform-specific
// routing table format.
func DefaultGateway() (net.IP, error) {
	return nil, fmt.Errorf("netutil: default gateway detection is windows-only")
}
