// Package capture abstracts Pyrewall's kernel packet-diversion interface: a
// Handle that delivers whole packets matching a capture filter and accepts
// unmodified re-injection, per spec.md §4.5. Production builds divert
// through WinDivert (github.com/imgk/divert-go, the one dependency in this
// module not grounded in a pack example — see DESIGN.md); a fake in-memory
// Handle backs the decision-pipeline unit tests in internal/filter.
package capture

import "context"

// Handle is a kernel packet-diversion session.
type Handle interface {
	// Recv blocks until a packet is available or ctx is done, returning the
	// whole diverted packet (link layer upward, per the underlying filter's
	// layer).
	Recv(ctx context.Context) ([]byte, error)

	// Send re-injects pkt unmodified.
	Send(pkt []byte) error

	// Close releases the underlying kernel handle, unblocking any Recv
	// call already parked in the kernel. Idempotent: a second Close must
	// not panic or block. Concurrent Recv calls must return
	// errs.CaptureLost.
	Close() error
}

// Filter is spec.md §4.5's fixed capture-filter shape: every TCP packet on
// port 80/443 and every UDP packet on port 443, in either direction.
const Filter = "(inbound or outbound) and " +
	"(tcp.DstPort == 80 or tcp.DstPort == 443 or udp.DstPort == 443)"
