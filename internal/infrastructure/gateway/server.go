// Package gateway implements the wire-envelope transport: a websocket
// endpoint accepting one persistent, full-duplex connection per client,
// decoding inbound Call/Subscribe envelopes and encoding outbound
// Event/Response envelopes.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskwire/extensions/internal/domain/events"
	"github.com/deskwire/extensions/internal/domain/wire"
	"github.com/deskwire/extensions/internal/modmanager"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Router is the subset of modmanager.Manager a connection needs: route a
// Call to the named module and obtain the shared event bus.
type Router interface {
	RouteCommand(ctx context.Context, target string, cmd modmanager.Command) error
	SubscribeEvents(ctx context.Context) (<-chan events.Event, func())
}

// Server upgrades incoming HTTP requests to the wire-envelope websocket
// transport and spins up one connection per client.
type Server struct {
	router Router
	log    *slog.Logger
}

// New builds a Server routing through router.
func New(router Router, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{router: router, log: log}
}

// ServeHTTP implements http.Handler, upgrading the request and running the
// connection's read/event/write pumps until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("gateway: upgrade failed", "error", err)
		return
	}

	c := &connection{
		conn:   conn,
		router: s.router,
		log:    s.log,
		send:   make(chan interface{}, sendBuffer),
	}
	c.run()
}

// connection owns one client's socket: a single writer goroutine drains
// send, while the read pump and event pump each push outbound envelopes
// onto it rather than writing directly, per gorilla/websocket's
// single-writer requirement.
type connection struct {
	conn   *websocket.Conn
	router Router
	log    *slog.Logger

	send chan interface{}

	filterMu sync.Mutex
	filters  []wire.Subscribe
}

func (c *connection) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer c.conn.Close()

	eventCh, unsubscribe := c.router.SubscribeEvents(ctx)
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writePump(ctx) }()
	go func() { defer wg.Done(); c.eventPump(ctx, eventCh) }()

	c.readPump(ctx, cancel)
	cancel()
	wg.Wait()
}

// readPump decodes one inbound envelope per message and dispatches it; it
// runs on the calling goroutine and returns when the connection closes.
func (c *connection) readPump(ctx context.Context, cancel context.CancelFunc) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("gateway: read error", "error", err)
			}
			cancel()
			return
		}

		in, err := wire.DecodeInbound(raw)
		if err != nil {
			c.log.Warn("gateway: decode inbound envelope", "error", err)
			continue
		}

		switch {
		case in.Call != nil:
			go c.handleCall(ctx, *in.Call)
		case in.Subscribe != nil:
			c.filterMu.Lock()
			c.filters = append(c.filters, *in.Subscribe)
			c.filterMu.Unlock()
		}
	}
}

// handleCall routes a Call to its target module and emits the correlated
// Response once the module answers or the request's context expires.
func (c *connection) handleCall(ctx context.Context, call wire.Call) {
	resultCh := make(chan modmanager.Result, 1)
	cmd := modmanager.Command{Action: call.Name, Params: call.Params, Result: resultCh}

	if err := c.router.RouteCommand(ctx, call.Module, cmd); err != nil {
		c.enqueue(wire.Response{RequestID: call.RequestID, Success: false})
		return
	}

	select {
	case res := <-resultCh:
		c.enqueue(wire.Response{
			RequestID: call.RequestID,
			Success:   res.Err == nil,
			Data:      res.Data,
		})
	case <-ctx.Done():
	}
}

// eventPump forwards bus events matching a recorded filter as outbound
// Event envelopes.
func (c *connection) eventPump(ctx context.Context, eventCh <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-eventCh:
			if !ok {
				return
			}
			if c.matchesFilter(e) {
				c.enqueue(wire.Event{
					Module:    e.Source,
					Name:      e.Name,
					Version:   1,
					Data:      []byte(e.Data),
					Timestamp: time.Now().Unix(),
				})
			}
		}
	}
}

func (c *connection) matchesFilter(e events.Event) bool {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	for _, f := range c.filters {
		if f.Module == e.Source && (f.Name == "" || f.Name == e.Name) {
			return true
		}
	}
	return false
}

// enqueue drops the envelope rather than blocking when a slow client has
// filled its send buffer; a client that cannot keep up sees gaps, not a
// stalled host.
func (c *connection) enqueue(v interface{}) {
	select {
	case c.send <- v:
	default:
		c.log.Warn("gateway: dropping outbound envelope, client send buffer full")
	}
}

func (c *connection) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(v); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.log.Warn("gateway: write error", "error", err)
				}
				return
			}
		}
	}
}
