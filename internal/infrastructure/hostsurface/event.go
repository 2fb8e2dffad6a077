package hostsurface

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/deskwire/extensions/internal/domain/events"
	"github.com/deskwire/extensions/wireformat"
)

// subscribeFn implements subscribe(pattern). After the validator check
// succeeds, the pattern is recorded in the instance's own subscription set;
// repeated subscriptions are accepted (idempotent).
func subscribeFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.SubscribeRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}

	if err := cfg.Validator.CheckSubscribe(req.Pattern); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}

	cfg.RecordSubscription(req.Pattern)
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}

// emitFn implements emit(event). No permission check: a module may always
// emit its own events. Guest-originated events are always Transient: only
// native modules own canonical state worth replaying to late subscribers.
func emitFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.EmitRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}

	cfg.Publish(events.Event{
		Source: cfg.ModuleID,
		Name:   req.Name,
		Data:   req.Data,
		Kind:   events.Transient,
	})

	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}
