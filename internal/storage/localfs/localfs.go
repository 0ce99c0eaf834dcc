// Package localfs implements storage.Handler over a local watch-folder
// directory using fsnotify, in the style of bennypowers-cem's
// internal/platform.FSNotifyFileWatcher: a background goroutine
// translates raw fsnotify.Events into the storage package's own event
// vocabulary over a buffered channel, closing it once the watcher is
// stopped.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
)

// Handler is a storage.Handler rooted at a single local directory.
type Handler struct {
	root string

	watcher *fsnotify.Watcher
	events  chan storage.Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New roots a Handler at root and starts watching it for changes. root
// must already exist.
func New(root string) (*Handler, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "localfs: create watcher")
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "localfs: watch %q", root)
	}

	h := &Handler{
		root:    root,
		watcher: watcher,
		events:  make(chan storage.Event, storage.EventBufferSize),
		done:    make(chan struct{}),
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.translate()
	}()
	return h, nil
}

// Close stops the underlying watcher and drains its translation
// goroutine. Safe to call more than once.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()
	err := h.watcher.Close()
	close(h.events)
	return err
}

func (h *Handler) GetAllFiles(ctx context.Context) ([]storage.File, error) {
	var out []storage.File
	err := filepath.Walk(h.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(h.root, path)
		if err != nil {
			return err
		}
		out = append(out, &localFile{root: h.root, name: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "localfs: walk %q", h.root)
	}
	return out, nil
}

func (h *Handler) GetFile(ctx context.Context, name string) (storage.File, error) {
	full := filepath.Join(h.root, filepath.FromSlash(name))
	info, err := os.Stat(full)
	if err != nil {
		return nil, notFoundError{name: name, cause: err}
	}
	return &localFile{root: h.root, name: name, size: info.Size()}, nil
}

// PutFile streams file into this directory under its own name. The
// returned future supports Cancel by setting a flag the copy loop checks
// between chunks; a cancelled copy stops and Wait returns an error.
func (h *Handler) PutFile(ctx context.Context, file storage.File, onProgress storage.ProgressFunc) (storage.CancellableFuture, error) {
	src, err := file.Open(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "localfs: open source %q", file.Name())
	}

	full := filepath.Join(h.root, filepath.FromSlash(file.Name()))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		src.Close()
		return nil, errors.Wrapf(err, "localfs: mkdir for %q", file.Name())
	}
	dst, err := os.Create(full)
	if err != nil {
		src.Close()
		return nil, errors.Wrapf(err, "localfs: create %q", file.Name())
	}

	props, err := file.GetProperties()
	if err != nil {
		src.Close()
		dst.Close()
		return nil, err
	}

	future := newCopyFuture()
	go future.run(src, dst, props.Size, onProgress)
	return future, nil
}

func (h *Handler) DeleteFile(ctx context.Context, file storage.File) error {
	full := filepath.Join(h.root, filepath.FromSlash(file.Name()))
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return notFoundError{name: file.Name(), cause: err}
		}
		return errors.Wrapf(err, "localfs: delete %q", file.Name())
	}
	return nil
}

func (h *Handler) Events() <-chan storage.Event { return h.events }

// translate mirrors FSNotifyFileWatcher.translateEvents: read raw
// fsnotify events off the watcher and push the storage package's
// equivalent downstream, never blocking past h.done.
func (h *Handler) translate() {
	for {
		select {
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.forward(ev)
		case _, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
		case <-h.done:
			return
		}
	}
}

func (h *Handler) forward(ev fsnotify.Event) {
	rel, err := filepath.Rel(h.root, ev.Name)
	if err != nil {
		return
	}
	name := filepath.ToSlash(rel)

	var out storage.Event
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		out = storage.Event{Type: storage.Delete, Path: name}
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(ev.Name)
		if err != nil || info.IsDir() {
			return
		}
		out = storage.Event{
			Type: pickAddOrChange(ev),
			Path: name,
			File: &localFile{root: h.root, name: name, size: info.Size()},
		}
	default:
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}
	select {
	case h.events <- out:
	case <-h.done:
	}
}

func pickAddOrChange(ev fsnotify.Event) storage.EventType {
	if ev.Op&fsnotify.Create != 0 {
		return storage.Add
	}
	return storage.Change
}

type localFile struct {
	root string
	name string
	size int64
}

func (f *localFile) Name() string { return f.name }

func (f *localFile) GetProperties() (storage.Properties, error) {
	return storage.Properties{Size: f.size}, nil
}

func (f *localFile) Open(ctx context.Context) (io.ReadCloser, error) {
	full := filepath.Join(f.root, filepath.FromSlash(f.name))
	file, err := os.Open(full)
	if err != nil {
		return nil, errors.Wrapf(err, "localfs: open %q", f.name)
	}
	return file, nil
}

type notFoundError struct {
	name  string
	cause error
}

func (e notFoundError) Error() string { return "localfs: " + e.name + " not found: " + e.cause.Error() }
func (e notFoundError) NotFound() bool { return true }
