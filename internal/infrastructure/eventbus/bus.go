// Package eventbus implements the shared broadcast channel carrying Module
// Events: a clonable, lock-free-from-the-caller publishing endpoint,
// Stateful-event last-value replay for late subscribers, and per-subscriber
// receivers, grounded in the host-to-plugin event channel pattern seen
// across the retrieved corpus (e.g. the alfred-ai host environment's
// `eventBus` and the ForgePlatform wasm adapter's `Events()` accessor).
package eventbus

import (
	"context"
	"sync"

	"github.com/deskwire/extensions/internal/domain/events"
)

type subscriber struct {
	ch chan events.Event
}

// Bus is the default events.Bus implementation.
type Bus struct {
	mu          sync.Mutex
	subs        map[*subscriber]struct{}
	statefulLog map[string]events.Event // last value per Source.Name, replayed to late joiners
	bufferSize  int
}

// New builds an empty Bus. bufferSize bounds each subscriber's receiver
// channel; a slow subscriber that falls behind by more than bufferSize
// events drops the oldest rather than blocking the publisher.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subs:        make(map[*subscriber]struct{}),
		statefulLog: make(map[string]events.Event),
		bufferSize:  bufferSize,
	}
}

// Publish implements events.Bus.
func (b *Bus) Publish(e events.Event) {
	b.mu.Lock()
	if e.Kind == events.Stateful {
		b.statefulLog[e.Key()] = e
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s.ch, e)
	}
}

// Subscribe implements events.Bus. The returned receiver is first primed
// with a replay of every live Stateful event so a late subscriber is never
// missing current state, then receives every subsequently published event.
func (b *Bus) Subscribe(ctx context.Context) (<-chan events.Event, func()) {
	s := &subscriber{ch: make(chan events.Event, b.bufferSize)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	replay := make([]events.Event, 0, len(b.statefulLog))
	for _, e := range b.statefulLog {
		replay = append(replay, e)
	}
	b.mu.Unlock()

	for _, e := range replay {
		deliver(s.ch, e)
	}

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return s.ch, cancel
}

// deliver sends e on ch without blocking the publisher indefinitely: if the
// subscriber's buffer is full, the oldest pending event is dropped to make
// room, matching the bus's append-only-from-the-publisher's-perspective
// contract without letting one slow subscriber stall every other module's
// loop.
func deliver(ch chan events.Event, e events.Event) {
	select {
	case ch <- e:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}
