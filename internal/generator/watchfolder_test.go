package generator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GitThaisen/tv-automation-media-management/internal/events"
	"github.com/GitThaisen/tv-automation-media-management/internal/generator"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
	"github.com/GitThaisen/tv-automation-media-management/internal/tracked"
	"github.com/GitThaisen/tv-automation-media-management/internal/workflow"
)

func newFixture(t *testing.T, sourceFiles ...*fakeFile) (*generator.Base, *generator.WatchFolder, *fakeHandler, *fakeHandler, *events.Subscription) {
	t.Helper()

	source := newFakeHandler(sourceFiles...)
	target := newFakeHandler()

	sourceObj := &storage.Object{ID: "S", Handler: source, WatchFolder: true, WatchFolderTargetID: "T"}
	targetObj := &storage.Object{ID: "T", Handler: target}

	idx := tracked.NewMemIndex()
	ev := events.NewLogger()
	sub := ev.Subscribe(events.AllEvents)

	policy := generator.NewWatchFolder()
	base := generator.NewBase([]*storage.Object{sourceObj, targetObj}, idx, ev, policy)

	return base, policy, source, target, sub
}

func drainWorkflowEvent(t *testing.T, sub *events.Subscription) (events.Event, bool) {
	t.Helper()
	for {
		e, err := sub.Poll(200 * time.Millisecond)
		if err == events.ErrTimeout {
			return events.Event{}, false
		}
		require.NoError(t, err)
		if e.Type == events.NewWorkflow {
			return e, true
		}
	}
}

// S1 / invariant 1 (idempotent add): a fresh add produces one COPY
// workflow; repeating it once the target matches in size produces none.
func TestFreshAddEmitsCopyThenIsIdempotent(t *testing.T) {
	file := &fakeFile{name: "a.mov", size: 100}
	base, policy, _, target, sub := newFixture(t, file)

	st, _ := base.ResolveStorage("S")
	err := policy.OnAdd(context.Background(), base, st, storage.Event{Type: storage.Add, Path: "a.mov", File: file}, false)
	require.NoError(t, err)

	e, ok := drainWorkflowEvent(t, sub)
	require.True(t, ok)
	require.Equal(t, events.NewWorkflow, e.Type)

	item, found, err := base.Index().GetByName("a.mov")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "S", item.SourceStorageID)

	// Simulate the copy having landed on the target with the same size.
	target.put(&fakeFile{name: "a.mov", size: 100})

	err = policy.OnAdd(context.Background(), base, st, storage.Event{Type: storage.Add, Path: "a.mov", File: file}, false)
	require.NoError(t, err)

	_, ok = drainWorkflowEvent(t, sub)
	require.False(t, ok, "second add with a matching target size must not emit a workflow")
}

// Invariant 2 / S4: a size mismatch between source and target triggers
// a COPY workflow.
func TestSizeMismatchTriggersCopy(t *testing.T) {
	file := &fakeFile{name: "a.mov", size: 150}
	base, policy, _, target, sub := newFixture(t, file)
	target.put(&fakeFile{name: "a.mov", size: 100})

	st, _ := base.ResolveStorage("S")
	require.NoError(t, base.Index().Put(&tracked.Item{Name: "a.mov", SourceStorageID: "S", TargetStorageIDs: map[string]struct{}{}}))

	err := policy.OnChange(context.Background(), base, st, storage.Event{Type: storage.Change, Path: "a.mov", File: file}, false)
	require.NoError(t, err)

	_, ok := drainWorkflowEvent(t, sub)
	require.True(t, ok, "a size mismatch must emit a COPY workflow")
}

// Invariant 3 / S5: delete on the source with two successful targets
// emits one DELETE workflow per tracked target and removes the TMI.
func TestDeleteEmitsOneWorkflowPerTarget(t *testing.T) {
	source := newFakeHandler()
	target1 := newFakeHandler(&fakeFile{name: "a.mov", size: 10})
	target2 := newFakeHandler(&fakeFile{name: "a.mov", size: 10})

	sourceObj := &storage.Object{ID: "S", Handler: source, WatchFolder: true, WatchFolderTargetID: "T1"}
	target1Obj := &storage.Object{ID: "T1", Handler: target1}
	target2Obj := &storage.Object{ID: "T2", Handler: target2}

	idx := tracked.NewMemIndex()
	ev := events.NewLogger()
	sub := ev.Subscribe(events.AllEvents)
	policy := generator.NewWatchFolder()
	base := generator.NewBase([]*storage.Object{sourceObj, target1Obj, target2Obj}, idx, ev, policy)

	require.NoError(t, idx.Put(&tracked.Item{
		Name:             "a.mov",
		SourceStorageID:  "S",
		TargetStorageIDs: map[string]struct{}{"T1": {}, "T2": {}},
		LastSeen:         time.Now(),
	}))

	err := policy.OnDelete(context.Background(), base, sourceObj, storage.Event{Type: storage.Delete, Path: "a.mov"}, false)
	require.NoError(t, err)

	var flows int
	for {
		_, ok := drainWorkflowEvent(t, sub)
		if !ok {
			break
		}
		flows++
	}
	require.Equal(t, 2, flows, "one DELETE workflow per tracked target")

	_, found, err := idx.GetByName("a.mov")
	require.NoError(t, err)
	require.False(t, found, "TMI must be removed once DELETE workflows are issued")
}

// Invariant 4: a delete event raised by a non-source storage for a TMI
// tracked from a different source is ignored entirely.
func TestCrossStorageDeleteIsIgnored(t *testing.T) {
	base, policy, _, _, sub := newFixture(t)
	require.NoError(t, base.Index().Put(&tracked.Item{
		Name:             "a.mov",
		SourceStorageID:  "S",
		TargetStorageIDs: map[string]struct{}{"T": {}},
	}))

	targetObj, _ := base.ResolveStorage("T")
	err := policy.OnDelete(context.Background(), base, targetObj, storage.Event{Type: storage.Delete, Path: "a.mov"}, false)
	require.NoError(t, err)

	_, ok := drainWorkflowEvent(t, sub)
	require.False(t, ok, "a delete from a non-source storage must not emit a workflow")

	item, found, err := base.Index().GetByName("a.mov")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, item.HasTarget("T"), "the TMI must be untouched")
}

// S6 / invariant 5+6: initial scan refreshes lastSeen for a tracked,
// still-present file and, separately, produces a synthetic delete for a
// TMI whose file has vanished from the source.
func TestInitialCheckRefreshesLastSeenAndSweepsStale(t *testing.T) {
	present := &fakeFile{name: "b.mov", size: 10}
	base, policy, _, target, sub := newFixture(t, present)
	target.put(&fakeFile{name: "b.mov", size: 10})
	target.put(&fakeFile{name: "c.mov", size: 10})

	before := time.Now().Add(-time.Hour)
	require.NoError(t, base.Index().Put(&tracked.Item{
		Name:             "b.mov",
		SourceStorageID:  "S",
		TargetStorageIDs: map[string]struct{}{"T": {}},
		LastSeen:         before,
	}))
	require.NoError(t, base.Index().Put(&tracked.Item{
		Name:             "c.mov",
		SourceStorageID:  "S",
		TargetStorageIDs: map[string]struct{}{"T": {}},
		LastSeen:         before,
	}))

	st, _ := base.ResolveStorage("S")
	err := policy.InitialCheck(context.Background(), base, st)
	require.NoError(t, err)

	bItem, found, err := base.Index().GetByName("b.mov")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, bItem.LastSeen.After(before), "lastSeen must be refreshed past the initial scan time")

	var sawDeleteForC bool
	for {
		e, ok := drainWorkflowEvent(t, sub)
		if !ok {
			break
		}
		step := e.Data.(*workflow.WorkFlow).Steps[0]
		if step.Action == workflow.Delete && step.File.Name() == "c.mov" {
			sawDeleteForC = true
		}
	}
	require.True(t, sawDeleteForC, "a TMI absent from the source must produce a delete-equivalent workflow after the scan barrier")

	_, found, err = base.Index().GetByName("c.mov")
	require.NoError(t, err)
	require.False(t, found, "the stale TMI must be removed once its synthetic delete is processed")
}

func TestMissingWatchFolderTargetPanics(t *testing.T) {
	file := &fakeFile{name: "a.mov", size: 10}
	source := newFakeHandler(file)
	sourceObj := &storage.Object{ID: "S", Handler: source, WatchFolder: true, WatchFolderTargetID: "does-not-exist"}

	idx := tracked.NewMemIndex()
	ev := events.NewLogger()
	policy := generator.NewWatchFolder()
	base := generator.NewBase([]*storage.Object{sourceObj}, idx, ev, policy)

	require.Panics(t, func() {
		_ = policy.OnAdd(context.Background(), base, sourceObj, storage.Event{Type: storage.Add, Path: "a.mov", File: file}, false)
	})
}
