package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/deskwire/extensions/internal/domain/events"
	"github.com/deskwire/extensions/internal/modmanager"
)

type fakeRouter struct {
	bus *fakeBus
	// routed records every command handed to RouteCommand, keyed by target.
	onRoute func(target string, cmd modmanager.Command)
}

func (r *fakeRouter) RouteCommand(ctx context.Context, target string, cmd modmanager.Command) error {
	if r.onRoute != nil {
		r.onRoute(target, cmd)
	}
	return nil
}

func (r *fakeRouter) SubscribeEvents(ctx context.Context) (<-chan events.Event, func()) {
	return r.bus.Subscribe(ctx)
}

type fakeBus struct {
	ch chan events.Event
}

func newFakeBus() *fakeBus { return &fakeBus{ch: make(chan events.Event, 8)} }

func (b *fakeBus) Subscribe(ctx context.Context) (<-chan events.Event, func()) {
	return b.ch, func() {}
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServer_Call_RoutesAndRespondsWithResult(t *testing.T) {
	router := &fakeRouter{
		bus: newFakeBus(),
		onRoute: func(target string, cmd modmanager.Command) {
			require.Equal(t, "discord-bridge", target)
			cmd.Result <- modmanager.Result{Data: json.RawMessage(`{"ok":true}`)}
		},
	}
	s := New(router, nil)
	httpSrv := httptest.NewServer(s)
	defer httpSrv.Close()

	conn := dialTestServer(t, httpSrv)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "call",
		"request_id": "req-1",
		"module":     "discord-bridge",
		"name":       "send-message",
		"version":    1,
		"params":     map[string]string{"text": "hi"},
	}))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp struct {
		Type      string          `json:"type"`
		RequestID string          `json:"request_id"`
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "response", resp.Type)
	require.Equal(t, "req-1", resp.RequestID)
	require.True(t, resp.Success)
	require.JSONEq(t, `{"ok":true}`, string(resp.Data))
}

func TestServer_Subscribe_ForwardsMatchingEvents(t *testing.T) {
	bus := newFakeBus()
	router := &fakeRouter{bus: bus}
	s := New(router, nil)
	httpSrv := httptest.NewServer(s)
	defer httpSrv.Close()

	conn := dialTestServer(t, httpSrv)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "subscribe",
		"module": "system",
		"name":   "window.focus_changed",
	}))

	// give the read pump a moment to record the filter before publishing
	time.Sleep(20 * time.Millisecond)
	bus.ch <- events.Event{Source: "system", Name: "window.focus_changed", Data: `{"app":"Discord"}`}
	bus.ch <- events.Event{Source: "system", Name: "other_event", Data: `{}`}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type string          `json:"type"`
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &ev))
	require.Equal(t, "event", ev.Type)
	require.Equal(t, "window.focus_changed", ev.Name)
	require.JSONEq(t, `{"app":"Discord"}`, string(ev.Data))
}
