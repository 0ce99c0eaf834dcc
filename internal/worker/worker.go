// Package worker implements the worker pool's unit of execution: a
// single goroutine-safe state machine that runs one
// WorkStep at a time, exposes warm-up/assignment, cancellation, and
// progress reporting, and mutates the tracked-media index under
// at-most-one-writer discipline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/GitThaisen/tv-automation-media-management/internal/events"
	"github.com/GitThaisen/tv-automation-media-management/internal/mediascanner"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
	"github.com/GitThaisen/tv-automation-media-management/internal/tracked"
	"github.com/GitThaisen/tv-automation-media-management/internal/workflow"
)

// Worker executes one WorkStep at a time. Its internal state is not
// shared; only Busy and CurrentStep (which also returns the step's
// begin time) are meant to be read by a dispatcher.
type Worker struct {
	id      string
	index   tracked.Index
	scanner *mediascanner.Client
	log     *logrus.Entry
	ev      *events.Logger

	mu            sync.Mutex
	warmingUp     bool
	busy          bool
	step          *workflow.Step
	lastBeginStep time.Time
	abortHandler  func()
	waiters       []chan struct{}
}

// New builds an idle worker identified by id.
func New(id string, index tracked.Index, scanner *mediascanner.Client, ev *events.Logger) *Worker {
	return &Worker{
		id:      id,
		index:   index,
		scanner: scanner,
		ev:      ev,
		log:     logrus.WithField("worker", id),
	}
}

// Busy reports whether this worker is warming up or actively executing
// a step ("busy := _busy || _warmingUp").
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy || w.warmingUp
}

// CurrentStep returns the step currently being worked, only meaningful
// while Busy() ("lastBeginStep is only observable while
// busy").
func (w *Worker) CurrentStep() (*workflow.Step, time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.busy {
		return nil, time.Time{}, false
	}
	return w.step, w.lastBeginStep, true
}

// WarmUp signals assignment intent ahead of DoWork. Warming up an
// already-warming or busy worker is a contract violation and panics.
func (w *Worker) WarmUp() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.warmingUp {
		panic("worker: warmup() called on an already warming-up worker")
	}
	if w.busy {
		panic("worker: warmup() called on a busy worker")
	}
	w.warmingUp = true
}

// Cooldown rescinds a warm-up intent before DoWork is called. It is
// safe to call when the worker is not warming up.
func (w *Worker) Cooldown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warmingUp = false
}

// DoWork executes step to completion and returns its Result. Calling
// DoWork without a prior WarmUp, or while already busy, is a contract
// violation and panics.
func (w *Worker) DoWork(ctx context.Context, step *workflow.Step) workflow.Result {
	w.mu.Lock()
	if !w.warmingUp {
		w.mu.Unlock()
		panic("worker: doWork() called without a prior warmup()")
	}
	if w.busy {
		w.mu.Unlock()
		panic("worker: doWork() called on a busy worker")
	}
	w.warmingUp = false
	w.busy = true
	w.step = step
	w.lastBeginStep = time.Now()
	step.Status = workflow.Working
	w.mu.Unlock()

	result := w.dispatch(ctx, step)

	w.mu.Lock()
	step.Status = result.Status
	w.busy = false
	w.step = nil
	w.abortHandler = nil
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	return result
}

// WaitUntilFinished returns a channel that closes exactly when the
// current DoWork settles. If the worker is idle, the channel is already
// closed. Multiple concurrent callers are all resolved.
func (w *Worker) WaitUntilFinished() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.busy {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{})
	w.waiters = append(w.waiters, ch)
	return ch
}

// TryToAbort fires the worker's current abort handler, if any. There is
// no return value; callers observe completion via WaitUntilFinished.
// Only the copy phase of a COPY step installs an abort handler;
// calling TryToAbort at any other time is a no-op.
func (w *Worker) TryToAbort() {
	w.mu.Lock()
	handler := w.abortHandler
	busy := w.busy
	w.mu.Unlock()

	if busy && handler != nil {
		handler()
	}
}

func (w *Worker) setAbortHandler(fn func()) {
	w.mu.Lock()
	w.abortHandler = fn
	w.mu.Unlock()
}

func (w *Worker) clearAbortHandler() {
	w.setAbortHandler(nil)
}

// reportProgress is passed to PutFile as the ProgressFunc. It clamps to
// [0,1], no-ops when the worker is not busy, and only persists a value
// strictly greater than the one currently stored, progress updates may
// be dropped but never reorder.
func (w *Worker) reportProgress(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.busy || w.step == nil {
		return
	}
	if fraction > w.step.Progress {
		w.step.Progress = fraction
	}
}

func failStep(reason error) workflow.Result {
	return workflow.Result{Status: workflow.ErrorStatus, Messages: []string{reason.Error()}}
}

// dispatch is the doWork switch over step.Action.
func (w *Worker) dispatch(ctx context.Context, step *workflow.Step) workflow.Result {
	switch step.Action {
	case workflow.Copy:
		return w.doCopyThenMetadata(ctx, step)
	case workflow.Delete:
		return w.doDelete(ctx, step)
	case workflow.Scan:
		return w.doGenerateMetadata(ctx, step)
	case workflow.GenerateMetadata:
		return w.doGenerateAdvancedMetadata(ctx, step)
	case workflow.GeneratePreview:
		return w.doGeneratePreview(ctx, step)
	case workflow.GenerateThumbnail:
		return w.doGenerateThumbnail(ctx, step)
	default:
		return failStep(fmt.Errorf("worker: unhandled action %v", step.Action))
	}
}

// doCopyThenMetadata is the composite COPY step: copy, then generate
// metadata. Cancellation only ever applies to the copy phase; entering
// the metadata phase clears the abort handler.
func (w *Worker) doCopyThenMetadata(ctx context.Context, step *workflow.Step) workflow.Result {
	copyResult := w.doCopy(ctx, step)
	if copyResult.Status != workflow.Done {
		return copyResult // a failed copy short-circuits; metadata is never invoked
	}
	w.clearAbortHandler()
	return w.doGenerateMetadata(ctx, step)
}

// doCopy puts step.File into step.Target, registering the put's cancel
// handle as the worker's abort handler, then appends the target to the
// TMI's TargetStorageIDs on success.
func (w *Worker) doCopy(ctx context.Context, step *workflow.Step) workflow.Result {
	future, err := step.Target.Handler.PutFile(ctx, step.File, w.reportProgress)
	if err != nil {
		return failStep(pkgerrors.Wrap(err, "doCopy: putFile"))
	}
	w.setAbortHandler(future.Cancel)

	if err := future.Wait(); err != nil {
		return failStep(pkgerrors.Wrap(err, "doCopy: transfer"))
	}

	targetID := step.Target.ID
	err = w.index.Upsert(step.File.Name(), func(cur *tracked.Item) *tracked.Item {
		if cur == nil {
			// No TMI exists at copy-success time: the copy is
			// recorded in the mirror without updating tracking.
			// Preserved as-is rather than treated as a bug.
			return nil
		}
		if _, ok := cur.TargetStorageIDs[targetID]; !ok {
			cur.TargetStorageIDs[targetID] = struct{}{}
		}
		return cur
	})
	if err != nil {
		return failStep(pkgerrors.Wrap(err, "doCopy: upsert tracked item"))
	}

	return workflow.Result{Status: workflow.Done}
}

// notFoundError is implemented by index errors that mean "already
// absent": a 404 during upsert is treated as DONE.
// BuntIndex/MemIndex never produce one today, Upsert's fn
// simply receives a nil current item, but the check is kept so an
// index implementation that does surface a genuine not-found error
// (e.g. over a remote document store) is handled per contract.
type notFoundError interface {
	NotFound() bool
}

func isNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf) && nf.NotFound()
}

// doDelete removes step.File from step.Target, then removes the
// target from the TMI's TargetStorageIDs.
func (w *Worker) doDelete(ctx context.Context, step *workflow.Step) workflow.Result {
	if err := step.Target.Handler.DeleteFile(ctx, step.File); err != nil {
		return failStep(pkgerrors.Wrap(err, "doDelete: deleteFile"))
	}

	targetID := step.Target.ID
	name := step.File.Name()
	err := w.index.Upsert(name, func(cur *tracked.Item) *tracked.Item {
		if cur == nil {
			return nil
		}
		if _, ok := cur.TargetStorageIDs[targetID]; !ok {
			w.log.Warnf("doDelete: %q: target %q already absent from tracked targets", name, targetID)
		} else {
			delete(cur.TargetStorageIDs, targetID)
		}
		return cur
	})
	if err != nil {
		if isNotFound(err) {
			// The TMI had already been removed, consistent with
			// onDelete removing it immediately.
			return workflow.Result{Status: workflow.Done}
		}
		return failStep(pkgerrors.Wrap(err, "doDelete: upsert tracked item"))
	}
	return workflow.Result{Status: workflow.Done}
}

// scannerFileID returns getID(file.name), prefixed with mediaPath when
// set, used by every scanner op except doGenerateMetadata.
func scannerFileID(file storage.File, mediaPath string) string {
	id := normalizeSlashes(file.Name())
	if mediaPath == "" {
		return id
	}
	return path.Join(mediaPath, id)
}

// metadataFileID is doGenerateMetadata's own id derivation: the raw
// name with backslashes normalised to forward slashes, no mediaPath
// prefix.
func metadataFileID(file storage.File) string {
	return normalizeSlashes(file.Name())
}

func normalizeSlashes(name string) string {
	return strings.ReplaceAll(name, `\`, `/`)
}

func (w *Worker) runScanner(ctx context.Context, kind mediascanner.Kind, id string) workflow.Result {
	res, err := w.scanner.Generate(ctx, kind, id)
	if err != nil {
		return failStep(pkgerrors.Wrapf(err, "mediascanner %s", kind))
	}
	switch res.Status {
	case mediascanner.StatusDone:
		return workflow.Result{Status: workflow.Done}
	default:
		return workflow.Result{Status: workflow.ErrorStatus, Messages: []string{res.Body}}
	}
}

// doGenerateMetadata drives the "media" scanner endpoint, the phase
// the composite COPY step and the SCAN action both use.
func (w *Worker) doGenerateMetadata(ctx context.Context, step *workflow.Step) workflow.Result {
	if !w.scanner.Enabled() {
		return workflow.Result{Status: workflow.Skipped}
	}
	return w.runScanner(ctx, mediascanner.KindScan, metadataFileID(step.File))
}

// doGenerateAdvancedMetadata drives the "metadata" scanner endpoint,
// used by the GENERATE_METADATA action.
func (w *Worker) doGenerateAdvancedMetadata(ctx context.Context, step *workflow.Step) workflow.Result {
	if !w.scanner.Enabled() {
		return workflow.Result{Status: workflow.Skipped}
	}
	return w.runScanner(ctx, mediascanner.KindMetadata, scannerFileID(step.File, mediaPathOf(step.Target)))
}

// doGeneratePreview drives the "preview" scanner endpoint.
func (w *Worker) doGeneratePreview(ctx context.Context, step *workflow.Step) workflow.Result {
	if !w.scanner.Enabled() {
		return workflow.Result{Status: workflow.Skipped}
	}
	return w.runScanner(ctx, mediascanner.KindPreview, scannerFileID(step.File, mediaPathOf(step.Target)))
}

// doGenerateThumbnail drives the "thumbnail" scanner endpoint. Unlike
// its siblings it does not gate on the scanner being configured, kept
// as the likely upstream oversight rather than normalised away.
func (w *Worker) doGenerateThumbnail(ctx context.Context, step *workflow.Step) workflow.Result {
	return w.runScanner(ctx, mediascanner.KindThumbnail, scannerFileID(step.File, mediaPathOf(step.Target)))
}

func mediaPathOf(target *storage.Object) string {
	if target == nil {
		return ""
	}
	return target.Options.MediaPath
}
