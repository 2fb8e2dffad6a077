package wasmruntime

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/deskwire/extensions/internal/domain/capabilities"
	"github.com/deskwire/extensions/internal/domain/events"
	"github.com/deskwire/extensions/internal/domain/manifest"
	"github.com/deskwire/extensions/internal/infrastructure/hostsurface"
)

// globalCache speeds up compilation across every Instance's own
// wazero.Runtime within this process: one process-wide compilation cache
// shared by every loaded module.
var globalCache = wazero.NewCompilationCache()

// CloseGlobalCache releases resources held by the shared compilation cache.
// Only needed for graceful shutdown of long-running processes.
func CloseGlobalCache(ctx context.Context) error {
	return globalCache.Close(ctx)
}

const defaultMemoryLimitMB = 256

// Instance owns one guest component's engine, store, linker, and instance,
// plus the per-instance resource handle arena and subscription set the
// dispatch loop consults.
type Instance struct {
	id        string
	runtime   wazero.Runtime
	module    wazero.CompiledModule
	validator *capabilities.Validator
	resources *Resources
	bus       events.Bus
	redactor  hostsurface.Redactor

	stdout, stderr io.Writer

	subsMu sync.Mutex
	subs   []glob.Glob

	eventCh     <-chan events.Event
	unsubscribe func()

	timerFireCh chan uint32
	wsMsgCh     chan wsMessage

	call func(ctx context.Context, module, name string, version int, paramsJSON string) (string, error)

	guestMod api.Module
	hostMod  api.Closer
}

type wsMessage struct {
	handle  uint32
	message []byte
}

// Options bundles everything needed to load one module instance.
type Options struct {
	ID         string
	Dir        string // install directory, for storage and the binary
	Binary     []byte
	Manifest   *manifest.Manifest
	Bus        events.Bus
	ConfigMap  map[string]string
	Redactor   hostsurface.Redactor
	StorageDir string
	MemoryMB   int // 0 = default, -1 = unlimited

	// Call routes a driver-call to another module by name and blocks for its
	// result. Left nil in tests that don't exercise call(); the process
	// entrypoint wires this to the Module Manager's RouteCommand.
	Call func(ctx context.Context, module, name string, version int, paramsJSON string) (string, error)
}

// Load builds the Validator, compiles the component, constructs the linker
// binding every host-surface function to an implementation closing over
// this instance's state, and compiles the component ready for
// instantiation by the dispatch loop's on-load call.
func Load(ctx context.Context, opts Options) (*Instance, error) {
	memMB := opts.MemoryMB
	if memMB == 0 {
		memMB = defaultMemoryLimitMB
	}

	config := wazero.NewRuntimeConfig().WithCompilationCache(globalCache)
	if memMB > 0 {
		// wazero pages are 64KiB; memMB*16 pages gives memMB mebibytes.
		config = config.WithMemoryLimitPages(uint32(memMB * 16))
	}

	rt := wazero.NewRuntimeWithConfig(ctx, config)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wasmruntime: instantiate WASI: %w", err)
	}

	inst := &Instance{
		id:          opts.ID,
		runtime:     rt,
		validator:   capabilities.New(opts.Manifest.Permissions),
		resources:   NewResources(),
		bus:         opts.Bus,
		redactor:    opts.Redactor,
		timerFireCh: make(chan uint32, 16),
		wsMsgCh:     make(chan wsMessage, 16),
		call:        opts.Call,
	}

	inst.stdout = newRedactingWriter(os.Stdout, opts.Redactor)
	inst.stderr = newRedactingWriter(os.Stderr, opts.Redactor)

	if opts.Bus != nil {
		inst.eventCh, inst.unsubscribe = opts.Bus.Subscribe(ctx)
	}

	cfg := inst.surfaceConfig(opts.ConfigMap, opts.StorageDir)
	hostMod, err := hostsurface.Register(ctx, rt, cfg)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wasmruntime: register host surface: %w", err)
	}
	inst.hostMod = hostMod

	compiled, err := rt.CompileModule(ctx, opts.Binary)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wasmruntime: compile module %s: %w", opts.ID, err)
	}
	inst.module = compiled

	return inst, nil
}

// surfaceConfig builds the hostsurface.Config this instance's host module
// will close over, wiring every resource-creating call back through
// Resources and the channels the dispatch loop selects on.
func (i *Instance) surfaceConfig(configMap map[string]string, storageDir string) hostsurface.Config {
	return hostsurface.Config{
		ModuleID:  i.id,
		Validator: i.validator,

		Publish: func(e events.Event) {
			if i.bus != nil {
				i.bus.Publish(e)
			}
		},
		RecordSubscription: func(pattern string) {
			g, err := glob.Compile(pattern, '.')
			if err != nil {
				return
			}
			i.subsMu.Lock()
			i.subs = append(i.subs, g)
			i.subsMu.Unlock()
		},
		Call: i.call,

		StorageDir: storageDir,
		ConfigMap:  configMap,

		SetTimeout:  i.setTimeout,
		SetInterval: i.setInterval,
		ClearTimer:  i.resources.ClearTimer,

		WebsocketConnect: i.websocketConnect,
		WebsocketSend:    i.websocketSend,
		WebsocketClose:   i.resources.WebsocketClose,

		TCPConnect: i.tcpConnect,
		TCPSend:    i.resources.TCPSend,
		TCPClose:   i.resources.TCPClose,

		Redactor: i.redactor,
	}
}

// setTimeout schedules a one-shot fire on timerFireCh after ms milliseconds.
func (i *Instance) setTimeout(ms uint64) uint32 {
	var handle uint32
	timer := time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		select {
		case i.timerFireCh <- handle:
		default:
		}
	})
	handle = i.resources.AddTimer(func() { timer.Stop() })
	return handle
}

// setInterval schedules a repeating fire on timerFireCh every ms
// milliseconds, skipping the implicit immediate tick a Ticker would give.
func (i *Instance) setInterval(ms uint64) uint32 {
	ticker := time.NewTicker(time.Duration(ms) * time.Millisecond)
	done := make(chan struct{})
	var handle uint32
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case i.timerFireCh <- handle:
				default:
				}
			}
		}
	}()
	handle = i.resources.AddTimer(func() {
		ticker.Stop()
		close(done)
	})
	return handle
}

// websocketConnect dials the remote endpoint and starts a read pump
// delivering inbound frames to wsMsgCh for the dispatch loop to hand to
// on-websocket-message.
func (i *Instance) websocketConnect(ctx context.Context, url string) (uint32, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return 0, fmt.Errorf("wasmruntime: websocket dial: %w", err)
	}
	handle := i.resources.AddWebsocket(conn)
	go i.websocketReadPump(handle, conn)
	return handle, nil
}

// websocketSend adapts the wire-level string message to Resources' byte
// form, always as a text frame.
func (i *Instance) websocketSend(handle uint32, message string) error {
	return i.resources.WebsocketSend(handle, websocket.TextMessage, []byte(message))
}

func (i *Instance) websocketReadPump(handle uint32, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case i.wsMsgCh <- wsMessage{handle: handle, message: data}:
		default:
		}
	}
}

// tcpConnect dials a raw or TLS-wrapped TCP connection and starts a read
// pump. Inbound bytes are delivered on the same wsMsgCh/on-websocket-message
// path as websocket frames per the shared handle-arena's connKind tagging.
// tcpConnect dials host:port through the same DNS-pinning, IP-validating
// path http-request uses: hostname is resolved and validated once against
// loopback/link-local/private ranges, then dialed by the pinned IP, so a
// guest can't be redirected to the host's own internal network by a
// DNS-rebinding attack after the capability check already passed.
func (i *Instance) tcpConnect(ctx context.Context, host, port string, useTLS bool, timeoutMs int) (uint32, string, string, string, error) {
	pinnedIP, err := hostsurface.ResolveAndValidate(ctx, host)
	if err != nil {
		return 0, "", "", "", fmt.Errorf("wasmruntime: ssrf protection: %w", err)
	}
	addr := net.JoinHostPort(pinnedIP, port)

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	var conn net.Conn
	tlsVersion := ""

	if useTLS {
		tlsConn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		err = dialErr
		if err == nil {
			conn = tlsConn
			tlsVersion = tlsVersionName(tlsConn.ConnectionState().Version)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return 0, "", "", "", fmt.Errorf("wasmruntime: tcp dial: %w", err)
	}

	handle := i.resources.AddTCP(conn)
	go i.tcpReadPump(handle, conn)
	return handle, conn.RemoteAddr().String(), conn.LocalAddr().String(), tlsVersion, nil
}

func (i *Instance) tcpReadPump(handle uint32, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case i.wsMsgCh <- wsMessage{handle: handle, message: data}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS13:
		return "TLS1.3"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS10:
		return "TLS1.0"
	default:
		return "unknown"
	}
}

// Name implements modmanager.Module.
func (i *Instance) Name() string { return i.id }

// IsWasmModule tags this as a wasm module for the Module Manager's
// two-phase native-then-wasm startup order.
func (i *Instance) IsWasmModule() bool { return true }

// Close tears the runtime down, which in turn closes the host module and
// releases the compiled module. Callers must have already drained
// resources via Resources.CloseAll (done by the dispatch loop on exit).
func (i *Instance) Close(ctx context.Context) error {
	if i.unsubscribe != nil {
		i.unsubscribe()
	}
	return i.runtime.Close(ctx)
}
