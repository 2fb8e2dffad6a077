package hostsurface

import (
	"context"
	"time"

	"github.com/deskwire/extensions/wireformat"
)

// contextFromWire builds a derived context from a guest-supplied
// ContextWireFormat: an already-cancelled wire context is honored
// immediately, a deadline or timeout is applied if present, otherwise the
// returned context is simply cancellable.
func contextFromWire(parent context.Context, wc wireformat.ContextWireFormat) (context.Context, context.CancelFunc) {
	if wc.Cancelled {
		ctx, cancel := context.WithCancel(parent)
		cancel()
		return ctx, cancel
	}
	if wc.Deadline != nil && !wc.Deadline.IsZero() {
		return context.WithDeadline(parent, *wc.Deadline)
	}
	if wc.TimeoutMs > 0 {
		return context.WithTimeout(parent, time.Duration(wc.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(parent)
}
