// Package clock implements an illustrative native module: a Stateful
// "tick" event once a second and a get-time command, showing the Module
// Manager's interface is satisfied the same way whether a module is
// wasm-backed or plain Go.
package clock

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/deskwire/extensions/internal/domain/events"
	"github.com/deskwire/extensions/internal/modmanager"
)

const sourceName = "clock"

// tickPayload is the JSON shape of the clock.tick Stateful event's data.
type tickPayload struct {
	UnixMillis int64 `json:"unix_millis"`
}

// getTimeResult answers the get-time command.
type getTimeResult struct {
	UnixMillis int64 `json:"unix_millis"`
}

// Module publishes a Stateful clock.tick event once a second and answers
// get-time commands with the current wall-clock time.
type Module struct {
	bus      events.Bus
	interval time.Duration
	ready    chan struct{}
}

// New builds a clock module ticking on the given interval. interval<=0
// defaults to one second.
func New(bus events.Bus, interval time.Duration) *Module {
	if interval <= 0 {
		interval = time.Second
	}
	return &Module{bus: bus, interval: interval, ready: make(chan struct{})}
}

// Name implements modmanager.Module.
func (m *Module) Name() string { return sourceName }

// Ready implements modmanager.ReadyReporter: clock has no setup beyond
// construction, so it is ready as soon as Run starts ticking.
func (m *Module) Ready() <-chan struct{} { return m.ready }

// Run implements modmanager.Module: ticks clock.tick onto the bus and
// answers get-time commands until cancel fires.
func (m *Module) Run(ctx context.Context, cmds <-chan modmanager.Command, cancel <-chan struct{}) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	close(m.ready)

	for {
		select {
		case <-cancel:
			return nil
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.publishTick(now)
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			m.handleCommand(cmd)
		}
	}
}

func (m *Module) publishTick(now time.Time) {
	data, err := json.Marshal(tickPayload{UnixMillis: now.UnixMilli()})
	if err != nil {
		slog.Error("clock: marshal tick payload", "error", err)
		return
	}
	m.bus.Publish(events.Event{
		Source: sourceName,
		Name:   "tick",
		Data:   string(data),
		Kind:   events.Stateful,
	})
}

func (m *Module) handleCommand(cmd modmanager.Command) {
	if cmd.Action != "get-time" {
		m.reply(cmd, modmanager.Result{Err: errUnknownAction(cmd.Action)})
		return
	}
	data, err := json.Marshal(getTimeResult{UnixMillis: time.Now().UnixMilli()})
	if err != nil {
		m.reply(cmd, modmanager.Result{Err: err})
		return
	}
	m.reply(cmd, modmanager.Result{Data: data})
}

func (m *Module) reply(cmd modmanager.Command, result modmanager.Result) {
	if cmd.Result == nil {
		return
	}
	select {
	case cmd.Result <- result:
	default:
	}
}

type unknownActionError struct{ action string }

func errUnknownAction(action string) error { return &unknownActionError{action: action} }

func (e *unknownActionError) Error() string {
	return "clock: unknown action: " + e.action
}
