package hostsurface

import (
	"context"

	"github.com/deskwire/extensions/internal/domain/capabilities"
	"github.com/deskwire/extensions/internal/domain/events"
)

// Redactor scrubs secrets out of text before it reaches a log sink. The
// gitleaks-backed implementation lives in infrastructure/redaction; tests
// use a no-op.
type Redactor interface {
	Redact(s string) string
}

// Config bundles everything one guest instance's host-surface closures need
// to do their work. The Module Runtime builds one Config per loaded
// instance and passes it to Register; every function the registry exports
// closes over this same Config and the instance state it carries.
type Config struct {
	ModuleID  string
	Validator *capabilities.Validator

	// Publish emits an event onto the shared bus. emit() never checks the
	// validator: a module may always emit its own events.
	Publish func(events.Event)

	// RecordSubscription is called after check_subscribe succeeds, to add
	// pattern to the instance's own subscription set (consulted by the
	// Module Runtime's dispatch loop when filtering the bus).
	RecordSubscription func(pattern string)

	// Call forwards a driver-call Module Command to another module and
	// awaits its JSON-string result. Nil means no routing primitive has
	// been wired through; see driver.go's ErrCallNotImplemented.
	Call func(ctx context.Context, module, name string, version int, paramsJSON string) (string, error)

	StorageDir string
	ConfigMap  map[string]string

	SetTimeout  func(ms uint64) uint32
	SetInterval func(ms uint64) uint32
	ClearTimer  func(handle uint32) error

	WebsocketConnect func(ctx context.Context, url string) (uint32, error)
	WebsocketSend    func(handle uint32, message string) error
	WebsocketClose   func(handle uint32) error

	TCPConnect func(ctx context.Context, host, port string, useTLS bool, timeoutMs int) (handle uint32, remoteAddr, localAddr string, tlsVersion string, err error)
	TCPSend    func(handle uint32, data []byte) error
	TCPClose   func(handle uint32) error

	Redactor Redactor
}
