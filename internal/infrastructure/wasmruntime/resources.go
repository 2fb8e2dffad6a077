// Package wasmruntime implements the Module Runtime (component D): one
// guest component's engine, store, linker, and instance, and the
// cooperative dispatch loop that bridges asynchronous host events into
// synchronous guest invocations.
package wasmruntime

import (
	"net"
	"sync"
	"sync/atomic"
)

// connKind tags a handle in the shared connection table so the dispatch
// loop (and tcp-send/-close vs websocket-send/-close) can tell a TCP handle
// from a websocket handle without a second namespace.
type connKind int

const (
	kindWebsocket connKind = iota
	kindTCP
)

type timerEntry struct {
	cancel func()
}

type connEntry struct {
	kind connKind
	ws   wsConn
	tcp  net.Conn
}

// wsConn is the minimal surface resources.go needs from a websocket
// connection; gorilla/websocket's *websocket.Conn satisfies it.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Resources is the per-instance handle arena: an atomically-incremented
// counter handing out opaque 32-bit identifiers, and two maps translating
// those identifiers back to the host-owned objects they name. The guest
// only ever holds the integer; Resources owns the real timer tasks and
// connections and tears them all down on unload.
type Resources struct {
	counter atomic.Uint32

	mu     sync.Mutex
	timers map[uint32]*timerEntry
	conns  map[uint32]*connEntry
}

// NewResources builds an empty handle arena.
func NewResources() *Resources {
	return &Resources{
		timers: make(map[uint32]*timerEntry),
		conns:  make(map[uint32]*connEntry),
	}
}

func (r *Resources) nextHandle() uint32 {
	return r.counter.Add(1)
}

// AddTimer allocates a new handle for a cancellable scheduled task.
func (r *Resources) AddTimer(cancel func()) uint32 {
	h := r.nextHandle()
	r.mu.Lock()
	r.timers[h] = &timerEntry{cancel: cancel}
	r.mu.Unlock()
	return h
}

// ClearTimer cancels and frees a timer handle. Clearing an unknown or
// already-cleared handle is a no-op error, never a panic.
func (r *Resources) ClearTimer(handle uint32) error {
	r.mu.Lock()
	t, ok := r.timers[handle]
	if ok {
		delete(r.timers, handle)
	}
	r.mu.Unlock()
	if !ok {
		return errUnknownHandle(handle)
	}
	t.cancel()
	return nil
}

// AddWebsocket allocates a new handle for a host-owned websocket connection.
func (r *Resources) AddWebsocket(conn wsConn) uint32 {
	h := r.nextHandle()
	r.mu.Lock()
	r.conns[h] = &connEntry{kind: kindWebsocket, ws: conn}
	r.mu.Unlock()
	return h
}

// AddTCP allocates a new handle for a host-owned TCP connection.
func (r *Resources) AddTCP(conn net.Conn) uint32 {
	h := r.nextHandle()
	r.mu.Lock()
	r.conns[h] = &connEntry{kind: kindTCP, tcp: conn}
	r.mu.Unlock()
	return h
}

// WebsocketSend writes a text message on the named connection; fails if the
// handle is unknown or not a websocket handle.
func (r *Resources) WebsocketSend(handle uint32, textMessageType int, message []byte) error {
	r.mu.Lock()
	e, ok := r.conns[handle]
	r.mu.Unlock()
	if !ok || e.kind != kindWebsocket {
		return errUnknownHandle(handle)
	}
	return e.ws.WriteMessage(textMessageType, message)
}

// WebsocketClose terminates and frees a websocket handle.
func (r *Resources) WebsocketClose(handle uint32) error {
	return r.closeConn(handle, kindWebsocket)
}

// TCPSend writes bytes on the named TCP connection.
func (r *Resources) TCPSend(handle uint32, data []byte) error {
	r.mu.Lock()
	e, ok := r.conns[handle]
	r.mu.Unlock()
	if !ok || e.kind != kindTCP {
		return errUnknownHandle(handle)
	}
	_, err := e.tcp.Write(data)
	return err
}

// TCPClose terminates and frees a TCP handle.
func (r *Resources) TCPClose(handle uint32) error {
	return r.closeConn(handle, kindTCP)
}

func (r *Resources) closeConn(handle uint32, kind connKind) error {
	r.mu.Lock()
	e, ok := r.conns[handle]
	if ok {
		delete(r.conns, handle)
	}
	r.mu.Unlock()
	if !ok || e.kind != kind {
		return errUnknownHandle(handle)
	}
	if e.kind == kindWebsocket {
		return e.ws.Close()
	}
	return e.tcp.Close()
}

// CloseAll cancels every pending timer task and closes every open
// connection. It must run unconditionally on dispatch loop exit; it is the
// only path that frees these resources.
func (r *Resources) CloseAll() {
	r.mu.Lock()
	timers := make([]*timerEntry, 0, len(r.timers))
	for _, t := range r.timers {
		timers = append(timers, t)
	}
	conns := make([]*connEntry, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.timers = make(map[uint32]*timerEntry)
	r.conns = make(map[uint32]*connEntry)
	r.mu.Unlock()

	for _, t := range timers {
		t.cancel()
	}
	for _, c := range conns {
		if c.kind == kindWebsocket {
			_ = c.ws.Close()
		} else {
			_ = c.tcp.Close()
		}
	}
}

type unknownHandleError struct{ handle uint32 }

func errUnknownHandle(handle uint32) error { return &unknownHandleError{handle: handle} }

func (e *unknownHandleError) Error() string {
	return "wasmruntime: unknown resource handle"
}
