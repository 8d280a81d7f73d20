package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sachibara/Pyrewall/internal/errs"
)

// Fake is an in-memory Handle used by internal/filter's decision-pipeline
// tests on non-Windows platforms, where WinDivert is unavailable.
type Fake struct {
	// Inbound is fed to Recv in order; closing the channel makes every
	// subsequent Recv return errs.CaptureLost.
	Inbound chan []byte

	// Reinjected collects every packet passed to Send, in order.
	Reinjected [][]byte

	mu     sync.Mutex
	closed bool
}

// NewFake returns a ready-to-use Fake with a buffered Inbound channel.
func NewFake() *Fake {
	return &Fake{Inbound: make(chan []byte, 64)}
}

// type check
var _ Handle = (*Fake)(nil)

// Recv implements the Handle interface for Fake.
func (f *Fake) Recv(ctx context.Context) ([]byte, error) {
	select {
	case pkt, ok := <-f.Inbound:
		if !ok {
			return nil, fmt.Errorf("%w: inbound channel closed", errs.CaptureLost)
		}

		return pkt, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", errs.CaptureLost, ctx.Err())
	}
}

// Send implements the Handle interface for Fake, recording pkt in
// Reinjected rather than actually diverting anything.
func (f *Fake) Send(pkt []byte) error {
	f.Reinjected = append(f.Reinjected, pkt)

	return nil
}

// Close implements the Handle interface for Fake. Idempotent and safe to
// call concurrently with itself.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.Inbound)
	}

	return nil
}

// IsClosed reports whether Close has been called, for tests asserting that
// shutdown actually unblocks a parked Recv.
func (f *Fake) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}
