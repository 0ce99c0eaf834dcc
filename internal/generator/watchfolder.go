package generator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GitThaisen/tv-automation-media-management/internal/events"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
	"github.com/GitThaisen/tv-automation-media-management/internal/tracked"
	"github.com/GitThaisen/tv-automation-media-management/internal/workflow"
)

// WatchFolder is the concrete reconciliation Policy: every source
// storage with WatchFolder=true mirrors into exactly one target,
// WatchFolderTargetID. onAdd and onChange share identical
// treatment; onDelete sweeps every successfully-replicated target;
// InitialCheck performs the start-up reconciliation.
type WatchFolder struct{}

// NewWatchFolder returns the watch-folder reconciliation policy. It
// holds no state of its own, everything it needs is reached through
// the Base passed into each hook.
func NewWatchFolder() *WatchFolder {
	return &WatchFolder{}
}

func (WatchFolder) OnAdd(ctx context.Context, g *Base, st *storage.Object, e storage.Event, initialScan bool) error {
	return handleAddOrChange(ctx, g, st, e)
}

func (WatchFolder) OnChange(ctx context.Context, g *Base, st *storage.Object, e storage.Event, initialScan bool) error {
	return handleAddOrChange(ctx, g, st, e)
}

// handleAddOrChange implements onAdd/onChange: add and
// change are treated identically.
func handleAddOrChange(ctx context.Context, g *Base, st *storage.Object, e storage.Event) error {
	target := g.MustResolveStorage(st.WatchFolderTargetID)

	_, found, err := g.Index().GetByName(e.Path)
	if err != nil {
		return err
	}
	if found {
		g.Emit(events.Debug, fmt.Sprintf("%q already tracked from storage %q", e.Path, st.ID))
	} else if _, err := g.RegisterFile(e.File, st); err != nil {
		g.Emit(events.Error, fmt.Sprintf("failed to register %q from storage %q: %v", e.Path, st.ID, err))
		return nil // registration failure aborts this event without a workflow 
	}

	shouldCopy, err := needsCopy(ctx, target, e.File)
	if err != nil {
		return err
	}
	if !shouldCopy {
		return nil // idempotent no-op: target already holds a same-size file
	}

	g.EmitWorkflow(workflow.NewCopyFlow(e.Path, e.File, target))
	return nil
}

// needsCopy decides whether target already mirrors file, by a
// size-based proxy for "already synced". A failure to fetch the
// target's copy is coerced into "needs copy", the intentional
// failure-to-positive-action coercion.
func needsCopy(ctx context.Context, target *storage.Object, file storage.File) (bool, error) {
	targetFile, err := target.Handler.GetFile(ctx, file.Name())
	if err != nil {
		return true, nil
	}

	localProps, err := file.GetProperties()
	if err != nil {
		return false, err
	}
	targetProps, err := targetFile.GetProperties()
	if err != nil {
		return false, err
	}
	return localProps.Size != targetProps.Size, nil
}

func (WatchFolder) OnDelete(ctx context.Context, g *Base, st *storage.Object, e storage.Event, initialScan bool) error {
	tmi, found, err := g.Index().GetByName(e.Path)
	if err != nil {
		return err
	}
	if !found {
		g.Emit(events.Debug, fmt.Sprintf("untracked file %q deleted on storage %q", e.Path, st.ID))
		return nil
	}

	if tmi.SourceStorageID != st.ID {
		// The event came from a non-source (sibling target) storage;
		// sibling mutations are ignored here. TODO: regenerate the
		// sibling from the true source instead of doing nothing.
		return nil
	}

	for targetID := range tmi.TargetStorageIDs {
		target, ok := g.ResolveStorage(targetID)
		if !ok {
			g.Emit(events.Warn, fmt.Sprintf("%q: target storage %q no longer configured, skipping delete", tmi.Name, targetID))
			continue
		}
		file, err := target.Handler.GetFile(ctx, tmi.Name)
		if err != nil {
			g.Emit(events.Warn, fmt.Sprintf("%q: could not obtain file handle on target %q, skipping delete: %v", tmi.Name, targetID, err))
			continue
		}
		g.EmitWorkflow(workflow.NewDeleteFlow(e.Path, file, target))
	}

	// Removal is fire-and-forget relative to the DELETE workflows just
	// emitted: those flows only carry intent, and a later add for the
	// same path re-creates the TMI via RegisterFile. This is the
	// preserved race: an outstanding DELETE worker
	// can still run after a fresh TMI exists and decrement a target set
	// that no longer contains its id, producing only a warning.
	return g.Index().Remove(tmi)
}

// InitialCheck performs the start-up reconciliation pass (// initialCheck): discover files present on st but untracked (missed
// additions) and TMIs tracked from st but absent (missed deletions).
func (WatchFolder) InitialCheck(ctx context.Context, g *Base, st *storage.Object) error {
	initialScanTime := time.Now()
	target := g.MustResolveStorage(st.WatchFolderTargetID)

	files, err := st.Handler.GetAllFiles(ctx)
	if err != nil {
		return err
	}

	// Fan out per file with no ordering dependency; the stale sweep
	// below must not start until every per-file reconciliation has
	// settled, so we join on the errgroup before querying for stale
	// TMIs.
	group, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		file := file
		group.Go(func() error {
			return reconcileInitialFile(gctx, g, st, target, file, initialScanTime)
		})
	}
	if err := group.Wait(); err != nil {
		g.Emit(events.Error, fmt.Sprintf("initial scan of storage %q: %v", st.ID, err))
		return err
	}

	stale, err := g.Index().GetStale(tracked.StalePredicate{
		SourceStorageID: st.ID,
		Before:          initialScanTime,
	})
	if err != nil {
		return err
	}
	for _, tmi := range stale {
		e := storage.Event{Type: storage.Delete, Path: tmi.Name}
		if err := handleDeleteForPolicy(ctx, g, st, e); err != nil {
			g.Emit(events.Error, fmt.Sprintf("stale sweep delete for %q: %v", tmi.Name, err))
		}
	}
	return nil
}

// handleDeleteForPolicy lets InitialCheck feed a synthesised delete
// event through the same onDelete logic used for live events, without
// going through the generator.Base dispatch loop.
func handleDeleteForPolicy(ctx context.Context, g *Base, st *storage.Object, e storage.Event) error {
	return WatchFolder{}.OnDelete(ctx, g, st, e, true)
}

func reconcileInitialFile(ctx context.Context, g *Base, st, target *storage.Object, file storage.File, initialScanTime time.Time) error {
	tmi, found, err := g.Index().GetByName(file.Name())
	if err != nil {
		return err
	}

	switch {
	case found && tmi.SourceStorageID == st.ID:
		tmi.LastSeen = initialScanTime
		if err := g.Index().Put(tmi); err != nil {
			return err
		}
		if _, err := target.Handler.GetFile(ctx, tmi.Name); err != nil {
			// Log-only: a change event or manual resync will repair
			// the mirror. No workflow is emitted here.
			g.Emit(events.Warn, fmt.Sprintf("%q tracked from %q but missing on target %q: %v", tmi.Name, st.ID, target.ID, err))
		}
		return nil
	case found:
		// Tracked from a different source storage; ignore.
		return nil
	default:
		e := storage.Event{Type: storage.Add, Path: file.Name(), File: file}
		return handleAddOrChange(ctx, g, st, e)
	}
}
