package hostsurface

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero/api"

	"github.com/deskwire/extensions/wireformat"
)

// ErrCallNotImplemented is returned by call() when no routing primitive has
// been wired through cfg.Call, e.g. a host embedding this package without a
// Module Manager behind it.
var ErrCallNotImplemented = errors.New("hostsurface: call: not implemented")

// ErrSelfCall guards against a deadlock: a module awaiting its own response
// on a channel only its own single-threaded dispatch loop can service never
// returns. Rejecting self-calls outright is the simple guard; see
// DESIGN.md for the alternative (detached-task dispatch) and why this one
// was chosen.
var ErrSelfCall = errors.New("hostsurface: call: module cannot call itself")

// callFn implements call(module, name, version, params) -> result. After
// the validator check, it forwards a Module Command to the named module
// via cfg.Call and awaits its response, bounded by the host's chosen
// timeout (enforced by the context cfg.Call is given).
func callFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.CallRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.CallResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}

	if req.Module == cfg.ModuleID {
		stack[0] = writeResponse(ctx, mod, wireformat.CallResponseWire{Error: wireformat.NewErrorDetail("internal", ErrSelfCall)})
		return
	}

	if err := cfg.Validator.CheckCall(req.Module, req.Name, req.Version); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.CallResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}

	callCtx, cancel := contextFromWire(ctx, req.Context)
	defer cancel()

	if cfg.Call == nil {
		stack[0] = writeResponse(ctx, mod, wireformat.CallResponseWire{Error: wireformat.NewErrorDetail("internal", ErrCallNotImplemented)})
		return
	}

	result, err := cfg.Call(callCtx, req.Module, req.Name, req.Version, req.Params)
	if err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.CallResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}

	stack[0] = writeResponse(ctx, mod, wireformat.CallResponseWire{Result: result})
}
