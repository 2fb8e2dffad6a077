package wasmruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/deskwire/extensions/internal/domain/events"
	"github.com/deskwire/extensions/internal/modmanager"
	"github.com/deskwire/extensions/wireformat"
)

func packPtrLen(ptr, length uint32) uint64 { return (uint64(ptr) << 32) | uint64(length) }

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// instantiate binds the compiled module into a running guest instance with
// stdout/stderr wired through the redacting writers.
func (i *Instance) instantiate(ctx context.Context) error {
	modCfg := wazero.NewModuleConfig().
		WithName(i.id).
		WithStdout(i.stdout).
		WithStderr(i.stderr)

	mod, err := i.runtime.InstantiateModule(ctx, i.module, modCfg)
	if err != nil {
		return err
	}
	i.guestMod = mod
	return nil
}

func (i *Instance) writeToGuest(ctx context.Context, payload interface{}) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("wasmruntime: marshal guest payload: %w", err)
	}
	results, err := i.guestMod.ExportedFunction("allocate").Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("wasmruntime: guest allocate: %w", err)
	}
	ptr := uint32(results[0])
	if !i.guestMod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("wasmruntime: failed to write guest memory")
	}
	return packPtrLen(ptr, uint32(len(data))), nil
}

func (i *Instance) readFromGuest(packed uint64) (string, error) {
	ptr, length := unpackPtrLen(packed)
	if length == 0 {
		return "", nil
	}
	raw, ok := i.guestMod.Memory().Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("wasmruntime: failed to read guest memory")
	}
	return string(raw), nil
}

// callGuestExport writes payload into guest memory, invokes the named
// export with the packed ptr+len as its sole argument, and decodes
// whatever the export returns (another packed ptr+len, or nothing) back
// into a string.
func (i *Instance) callGuestExport(ctx context.Context, name string, payload interface{}) (string, error) {
	packed, err := i.writeToGuest(ctx, payload)
	if err != nil {
		return "", err
	}
	results, err := i.guestMod.ExportedFunction(name).Call(ctx, packed)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}
	return i.readFromGuest(results[0])
}

// callGuestBare invokes a parameterless export (on-load, on-unload).
func (i *Instance) callGuestBare(ctx context.Context, name string) error {
	_, err := i.guestMod.ExportedFunction(name).Call(ctx)
	return err
}

// Run implements modmanager.Module: instantiates the guest, calls on-load,
// then serially drains cancellation, inbound commands, subscribed events,
// timer fires, and websocket/TCP messages until told to stop. A guest
// failure never propagates as an error from Run — it is recorded and the
// loop exits cleanly so sibling modules are unaffected, matching the
// crash-isolation requirement.
func (i *Instance) Run(ctx context.Context, cmds <-chan modmanager.Command, cancel <-chan struct{}) error {
	if err := i.instantiate(ctx); err != nil {
		i.reportCrash(fmt.Sprintf("instantiate failed: %v", err))
		return nil
	}
	defer i.unload(context.Background())

	if err := i.callGuestBare(ctx, "on-load"); err != nil {
		slog.Warn("wasmruntime: module failed on-load, marking inert", "module", i.id, "error", err)
		return nil
	}

	for {
		select {
		case <-cancel:
			return nil

		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			if crashed := i.handleCommand(ctx, cmd); crashed {
				return nil
			}

		case e, ok := <-i.eventCh:
			if !ok {
				continue
			}
			if crashed := i.handleEvent(ctx, e); crashed {
				return nil
			}

		case handle := <-i.timerFireCh:
			if crashed := i.handleTimer(ctx, handle); crashed {
				return nil
			}

		case msg := <-i.wsMsgCh:
			if crashed := i.handleWSMessage(ctx, msg); crashed {
				return nil
			}
		}
	}
}

// handleCommand serializes a Module Command's params and calls on-command,
// returning its result-string on cmd.Result if the caller wants correlation.
func (i *Instance) handleCommand(ctx context.Context, cmd modmanager.Command) (crashed bool) {
	wire := wireformat.GuestCommandWire{
		Name:   cmd.Action,
		Params: string(cmd.Params),
	}
	result, err := i.callGuestExport(ctx, "on-command", wire)
	if err != nil {
		i.reportCrash(fmt.Sprintf("on-command(%s): %v", cmd.Action, err))
		i.replyError(cmd, err)
		return true
	}
	if cmd.Result != nil {
		select {
		case cmd.Result <- modmanager.Result{Data: json.RawMessage(result)}:
		default:
		}
	}
	return false
}

func (i *Instance) replyError(cmd modmanager.Command, err error) {
	if cmd.Result == nil {
		return
	}
	select {
	case cmd.Result <- modmanager.Result{Err: err}:
	default:
	}
}

// handleEvent delivers a bus event to on-event iff it matches one of this
// instance's recorded subscription patterns.
func (i *Instance) handleEvent(ctx context.Context, e events.Event) (crashed bool) {
	if !i.matchesSubscription(e.Key()) {
		return false
	}
	wire := wireformat.GuestEventWire{Source: e.Source, Name: e.Name, Data: e.Data}
	if _, err := i.callGuestExport(ctx, "on-event", wire); err != nil {
		i.reportCrash(fmt.Sprintf("on-event(%s): %v", e.Key(), err))
		return true
	}
	return false
}

func (i *Instance) handleTimer(ctx context.Context, handle uint32) (crashed bool) {
	wire := wireformat.GuestTimerWire{Handle: handle}
	if _, err := i.callGuestExport(ctx, "on-timer", wire); err != nil {
		i.reportCrash(fmt.Sprintf("on-timer(%d): %v", handle, err))
		return true
	}
	return false
}

func (i *Instance) handleWSMessage(ctx context.Context, msg wsMessage) (crashed bool) {
	wire := wireformat.GuestWebSocketMessageWire{Handle: msg.handle, Message: string(msg.message)}
	if _, err := i.callGuestExport(ctx, "on-websocket-message", wire); err != nil {
		i.reportCrash(fmt.Sprintf("on-websocket-message(%d): %v", msg.handle, err))
		return true
	}
	return false
}

// matchesSubscription reports whether key ("source.name") matches any
// pattern this instance successfully registered via subscribe().
func (i *Instance) matchesSubscription(key string) bool {
	i.subsMu.Lock()
	defer i.subsMu.Unlock()
	for _, g := range i.subs {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// reportCrash emits the Transient wasm.module_crashed event the crash
// isolation contract requires, sourced from this instance's own id.
func (i *Instance) reportCrash(reason string) {
	slog.Error("wasmruntime: module crashed", "module", i.id, "reason", reason)
	if i.bus == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{"id": i.id, "reason": reason})
	i.bus.Publish(events.Event{
		Source: "wasm",
		Name:   "module_crashed",
		Data:   string(data),
		Kind:   events.Transient,
	})
}

// unload runs the mandatory teardown: best-effort on-unload, then release
// every resource handle regardless of on-unload's outcome.
func (i *Instance) unload(ctx context.Context) {
	if i.guestMod != nil {
		unloadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := i.callGuestBare(unloadCtx, "on-unload"); err != nil {
			slog.Warn("wasmruntime: on-unload failed", "module", i.id, "error", err)
		}
		cancel()
	}
	i.resources.CloseAll()
}
