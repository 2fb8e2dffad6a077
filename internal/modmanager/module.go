// Package modmanager implements the Module Manager: a name-indexed registry
// of native and wasm modules, command routing, and event-bus subscription
// setup. The manager treats every module as a {name, run} capability set —
// the wasm runtime is one registered Module among several, not a
// special case.
package modmanager

import (
	"context"
	"encoding/json"
)

// Command is a Module Command: an inbound request routed to a single
// module by name. Action and Params are opaque to the routing layer.
type Command struct {
	Action string
	Params json.RawMessage

	// Result, if non-nil, receives exactly one Result before the command
	// is considered complete. Callers that don't need correlation (fire
	// and forget routing) may leave it nil.
	Result chan<- Result
}

// Result is a Module Command's outcome, returned over a Command's Result
// channel.
type Result struct {
	Data json.RawMessage
	Err  error
}

// Module is the capability set every registered unit of functionality
// satisfies, whether backed by a native Go implementation or a guest
// component. The registry holds modules by this dynamic capability set,
// never by concrete type.
type Module interface {
	// Name is the module's stable routing key, matching its install
	// directory name for wasm modules.
	Name() string

	// Run executes the module's dispatch loop until cancel fires or an
	// unrecoverable error occurs. cmds delivers commands in enqueue order;
	// Run must observe cancel promptly and finish its current operation
	// (no preemption mid-call) before returning.
	Run(ctx context.Context, cmds <-chan Command, cancel <-chan struct{}) error
}

// ReadyReporter is implemented by modules that must signal readiness
// before dependent modules start (the two-phase native-then-wasm run_all
// order). A module that does not need this need not implement it.
type ReadyReporter interface {
	// Ready returns a channel that closes once the module has completed
	// its own setup and is prepared to accept commands.
	Ready() <-chan struct{}
}
