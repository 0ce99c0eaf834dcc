// Package generator implements the generator base and, in
// watchfolder.go, the concrete watch-folder reconciliation policy. The
// base owns storage registration and event dispatch; a Policy supplies
// the add/change/delete/initial-check behaviour.
package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GitThaisen/tv-automation-media-management/internal/events"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
	"github.com/GitThaisen/tv-automation-media-management/internal/tracked"
	"github.com/GitThaisen/tv-automation-media-management/internal/workflow"
)

// Policy supplies the subclass-specific reactions to storage events
// ("dispatches to add/change/delete hooks"). Hooks receive
// the owning Base so they can consult the tracked-media index, resolve
// sibling storages, and emit work-flows/log events, matching the
// "(st, event, initialScan?)" hook signature from the design notes.
type Policy interface {
	OnAdd(ctx context.Context, g *Base, st *storage.Object, e storage.Event, initialScan bool) error
	OnChange(ctx context.Context, g *Base, st *storage.Object, e storage.Event, initialScan bool) error
	OnDelete(ctx context.Context, g *Base, st *storage.Object, e storage.Event, initialScan bool) error
	// InitialCheck performs the start-up reconciliation pass for st. It
	// is invoked once per registered storage, right after its event
	// subscription is live.
	InitialCheck(ctx context.Context, g *Base, st *storage.Object) error
}

// Base mediates between storage events and a Policy. It owns the
// registration lifecycle, the tracked-media index, and the upward
// event surface.
type Base struct {
	index   tracked.Index
	events  *events.Logger
	policy  Policy
	storage map[string]*storage.Object

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	wg        sync.WaitGroup
}

// NewBase wires a Base over the full configured storage set. policy is
// consulted for every storage this Base decides is relevant to it (see
// Init); storages is the complete set available for target resolution,
// including ones this generator does not itself watch.
func NewBase(storages []*storage.Object, index tracked.Index, ev *events.Logger, policy Policy) *Base {
	b := &Base{
		index:   index,
		events:  ev,
		policy:  policy,
		storage: make(map[string]*storage.Object, len(storages)),
		cancels: make(map[string]context.CancelFunc),
	}
	for _, st := range storages {
		b.storage[st.ID] = st
	}
	return b
}

// Index returns the tracked-media index backing this generator.
func (b *Base) Index() tracked.Index { return b.index }

// ResolveStorage looks up a configured storage by id, among the full
// set this Base was constructed with (targets as well as sources).
func (b *Base) ResolveStorage(id string) (*storage.Object, bool) {
	st, ok := b.storage[id]
	return st, ok
}

// MustResolveStorage resolves id or panics, used where failing hard on
// a dangling reference is the right response: a programmer or
// configuration error rather than a transient one.
func (b *Base) MustResolveStorage(id string) *storage.Object {
	st, ok := b.ResolveStorage(id)
	if !ok {
		panic(fmt.Sprintf("generator: storage %q does not resolve to a configured storage", id))
	}
	return st
}

// Emit publishes a log-style event (debug/warn/error) to this
// generator's upstream listener.
func (b *Base) Emit(t events.Type, data interface{}) {
	b.events.Log(t, data)
}

// EmitWorkflow publishes a produced WorkFlow upstream as a NEW_WORKFLOW
// event.
func (b *Base) EmitWorkflow(wf *workflow.WorkFlow) {
	b.events.Log(events.NewWorkflow, wf)
}

// RegisterFile creates and persists a TMI the first time a file is
// sighted from a source storage.
func (b *Base) RegisterFile(file storage.File, st *storage.Object) (*tracked.Item, error) {
	item := &tracked.Item{
		Name:             file.Name(),
		SourceStorageID:  st.ID,
		TargetStorageIDs: make(map[string]struct{}),
		LastSeen:         time.Now(),
	}
	if err := b.index.Put(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Init selects the storages relevant to this generator, those
// configured with WatchFolder set, and registers each.
func (b *Base) Init(ctx context.Context) error {
	for _, st := range b.storage {
		if !st.WatchFolder {
			continue
		}
		if err := b.registerStorage(ctx, st); err != nil {
			return fmt.Errorf("generator: register storage %q: %w", st.ID, err)
		}
	}
	return nil
}

// Destroy unregisters every storage and waits for dispatch loops to
// exit.
func (b *Base) Destroy() {
	b.mu.Lock()
	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// registerStorage subscribes to st's events, starts the dispatch loop,
// then runs the initial reconciliation pass.
func (b *Base) registerStorage(ctx context.Context, st *storage.Object) error {
	subCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancels[st.ID] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatchLoop(subCtx, st)
	}()

	return b.policy.InitialCheck(subCtx, b, st)
}

// dispatchLoop routes every event raised by st's handler to the
// appropriate Policy hook until ctx is cancelled or the event channel
// closes.
func (b *Base) dispatchLoop(ctx context.Context, st *storage.Object) {
	ch := st.Handler.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			b.handleEvent(ctx, st, e, false)
		}
	}
}

// handleEvent routes one event by type to the matching Policy hook,
// emitting any returned error as an Error event rather than propagating
// it ("Generators never throw to the storage handler; they
// emit debug/warn/error").
func (b *Base) handleEvent(ctx context.Context, st *storage.Object, e storage.Event, initialScan bool) {
	var err error
	switch e.Type {
	case storage.Add:
		err = b.policy.OnAdd(ctx, b, st, e, initialScan)
	case storage.Change:
		err = b.policy.OnChange(ctx, b, st, e, initialScan)
	case storage.Delete:
		err = b.policy.OnDelete(ctx, b, st, e, initialScan)
	}
	if err != nil {
		b.Emit(events.Error, fmt.Sprintf("storage %q: %v event for %q: %v", st.ID, e.Type, e.Path, err))
	}
}
