package modmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/deskwire/extensions/internal/domain/events"
)

// record is the Module Record: identity, inbound command queue, cancellation
// signal, and module kind tag, kept by the manager for one registered module.
type record struct {
	module Module
	cmds   chan Command
	cancel chan struct{}
	native bool
}

// Manager keeps a name-indexed registry of Module Records, routes inbound
// client commands to the right module command channel, and broadcasts
// events to subscribers via the shared Bus. Registration is only permitted
// before RunAll.
type Manager struct {
	bus events.Bus
	log *slog.Logger

	mu       sync.RWMutex
	records  map[string]*record
	running  bool
	cmdDepth int
}

// New builds a Manager around the given shared event bus.
func New(bus events.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		bus:      bus,
		log:      log,
		records:  make(map[string]*record),
		cmdDepth: 32,
	}
}

// Register adds a Module Record for m. Registration is only permitted
// before RunAll; registering a duplicate name is rejected.
func (mgr *Manager) Register(m Module) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.running {
		return ErrAlreadyRunning
	}
	if _, exists := mgr.records[m.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, m.Name())
	}

	mgr.records[m.Name()] = &record{
		module: m,
		cmds:   make(chan Command, mgr.cmdDepth),
		cancel: make(chan struct{}),
		native: isNative(m),
	}
	return nil
}

// RouteCommand enqueues a Module Command on the named module's inbound
// queue. An unknown target produces a non-fatal warning and ErrUnknownModule;
// it never panics.
func (mgr *Manager) RouteCommand(ctx context.Context, target string, cmd Command) error {
	mgr.mu.RLock()
	rec, ok := mgr.records[target]
	mgr.mu.RUnlock()

	if !ok {
		mgr.log.Warn("route_command: unknown module", "module", target)
		return fmt.Errorf("%w: %s", ErrUnknownModule, target)
	}

	select {
	case rec.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeEvents returns a receiver on the shared bus, matching the
// operation named in the manager's operation table. Callers that only need
// ad-hoc access to the bus (rather than through a module's own dispatch
// loop) use this directly.
func (mgr *Manager) SubscribeEvents(ctx context.Context) (<-chan events.Event, func()) {
	return mgr.bus.Subscribe(ctx)
}

// RunAll spawns every registered module's Run task. Native modules are
// started first and awaited for readiness (via ReadyReporter, when
// implemented) before wasm modules' loops start, so a wasm module calling
// into a native one never races its startup. The first module loop to
// return a non-nil error cancels the shared context, which every other
// loop's select observes as its cancellation signal.
func (mgr *Manager) RunAll(ctx context.Context) error {
	mgr.mu.Lock()
	if mgr.running {
		mgr.mu.Unlock()
		return fmt.Errorf("modmanager: run_all already called")
	}
	mgr.running = true
	natives, wasms := mgr.partitionRecords()
	mgr.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	for _, rec := range natives {
		mgr.spawn(g, gctx, rec)
	}
	mgr.awaitReady(gctx, natives)

	for _, rec := range wasms {
		mgr.spawn(g, gctx, rec)
	}

	go func() {
		<-gctx.Done()
		mgr.mu.RLock()
		defer mgr.mu.RUnlock()
		for _, rec := range mgr.records {
			closeOnce(rec.cancel)
		}
	}()

	return g.Wait()
}

func (mgr *Manager) partitionRecords() (natives, wasms []*record) {
	for _, rec := range mgr.records {
		if rec.native {
			natives = append(natives, rec)
		} else {
			wasms = append(wasms, rec)
		}
	}
	return natives, wasms
}

func (mgr *Manager) spawn(g *errgroup.Group, ctx context.Context, rec *record) {
	g.Go(func() error {
		err := rec.module.Run(ctx, rec.cmds, rec.cancel)
		if err != nil {
			mgr.log.Error("module loop exited", "module", rec.module.Name(), "error", err)
		}
		return err
	})
}

func (mgr *Manager) awaitReady(ctx context.Context, natives []*record) {
	for _, rec := range natives {
		rr, ok := rec.module.(ReadyReporter)
		if !ok {
			continue
		}
		select {
		case <-rr.Ready():
		case <-ctx.Done():
			return
		}
	}
}

func isNative(m Module) bool {
	type wasmTagged interface{ IsWasmModule() bool }
	if w, ok := m.(wasmTagged); ok {
		return !w.IsWasmModule()
	}
	return true
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
