//go:build windows

package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/imgk/divert-go"

	"github.com/Sachibara/Pyrewall/internal/errs"
)

// windowsHandle wraps a WinDivert handle opened at the network layer.
type windowsHandle struct {
	handle *divert.Handle

	closeOnce sync.Once
	closeErr  error
}

// type check
var _ Handle = (*windowsHandle)(nil)

// Open opens a WinDivert session against filterExpr at the network layer,
// per spec.md §4.5. A privilege failure is surfaced as errs.CapturePrivilege.
func Open(filterExpr string) (Handle, error) {
	h, err := divert.Open(filterExpr, divert.LayerNetwork, 0, 0)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "access is denied") {
			return nil, fmt.Errorf("%w: %s", errs.CapturePrivilege, err)
		}

		return nil, fmt.Errorf("opening capture handle: %w", err)
	}

	return &windowsHandle{handle: h}, nil
}

// Recv implements the Handle interface for windowsHandle. The underlying
// WinDivertRecv syscall blocks with no deadline and does not itself observe
// ctx; a caller relying on ctx cancellation to unblock a parked Recv must
// also call Close, which makes the pending syscall return an error here.
// Either way the error is reported as errs.CaptureLost so callers can treat
// it as an expected shutdown condition rather than a real failure.
func (h *windowsHandle) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 0xffff)

	n, addr, err := h.handle.Recv(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", errs.CaptureLost, ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s", errs.CaptureLost, err)
	}

	_ = addr

	return buf[:n], nil
}

// Send implements the Handle interface for windowsHandle.
func (h *windowsHandle) Send(pkt []byte) error {
	_, err := h.handle.Send(pkt)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ReinjectTransient, err)
	}

	return nil
}

// Close implements the Handle interface for windowsHandle. Idempotent: a
// second call returns the result of the first instead of touching the
// kernel handle again.
func (h *windowsHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.handle.Close()
	})

	return h.closeErr
}
