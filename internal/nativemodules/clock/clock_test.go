package clock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deskwire/extensions/internal/domain/events"
	"github.com/deskwire/extensions/internal/infrastructure/eventbus"
	"github.com/deskwire/extensions/internal/modmanager"
)

func TestModule_PublishesStatefulTick(t *testing.T) {
	bus := eventbus.New(8)
	m := New(bus, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cmds := make(chan modmanager.Command)
	cancelCh := make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, cmds, cancelCh) }()

	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("module never became ready")
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	eventCh, unsubscribe := bus.Subscribe(subCtx)
	defer unsubscribe()

	select {
	case e := <-eventCh:
		require.Equal(t, "clock", e.Source)
		require.Equal(t, "tick", e.Name)
		require.Equal(t, events.Stateful, e.Kind)
		var payload tickPayload
		require.NoError(t, json.Unmarshal([]byte(e.Data), &payload))
		require.Positive(t, payload.UnixMillis)
	case <-time.After(time.Second):
		t.Fatal("no tick event received")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestModule_GetTimeCommand(t *testing.T) {
	bus := eventbus.New(8)
	m := New(bus, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmds := make(chan modmanager.Command)
	cancelCh := make(chan struct{})
	go func() { _ = m.Run(ctx, cmds, cancelCh) }()

	<-m.Ready()

	resultCh := make(chan modmanager.Result, 1)
	cmds <- modmanager.Command{Action: "get-time", Result: resultCh}

	select {
	case res := <-resultCh:
		require.NoError(t, res.Err)
		var result getTimeResult
		require.NoError(t, json.Unmarshal(res.Data, &result))
		require.Positive(t, result.UnixMillis)
	case <-time.After(time.Second):
		t.Fatal("no command result received")
	}
}

func TestModule_UnknownActionReturnsError(t *testing.T) {
	bus := eventbus.New(8)
	m := New(bus, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmds := make(chan modmanager.Command)
	cancelCh := make(chan struct{})
	go func() { _ = m.Run(ctx, cmds, cancelCh) }()

	<-m.Ready()

	resultCh := make(chan modmanager.Result, 1)
	cmds <- modmanager.Command{Action: "bogus", Result: resultCh}

	select {
	case res := <-resultCh:
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("no command result received")
	}
}
