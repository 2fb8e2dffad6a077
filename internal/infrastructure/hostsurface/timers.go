package hostsurface

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/deskwire/extensions/wireformat"
)

// setTimeoutFn implements set-timeout(ms) -> handle: a one-shot fire.
func setTimeoutFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.TimerRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.TimerResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.Validator.CheckTimers(); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.TimerResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.TimerResponseWire{Handle: cfg.SetTimeout(req.IntervalMs)})
}

// setIntervalFn implements set-interval(ms) -> handle: repeating, skips the
// implicit immediate tick.
func setIntervalFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.TimerRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.TimerResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.Validator.CheckTimers(); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.TimerResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.TimerResponseWire{Handle: cfg.SetInterval(req.IntervalMs)})
}

// clearTimerFn implements clear-timer(handle): cancels and frees.
func clearTimerFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.HandleRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.ClearTimer(req.Handle); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}
