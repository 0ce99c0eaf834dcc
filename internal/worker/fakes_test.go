package worker_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
)

// fakeFile is a storage.File backed by an in-memory byte slice.
type fakeFile struct {
	name string
	data []byte
}

func (f *fakeFile) Name() string { return f.name }

func (f *fakeFile) GetProperties() (storage.Properties, error) {
	return storage.Properties{Size: int64(len(f.data))}, nil
}

func (f *fakeFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// fakeFuture is a storage.CancellableFuture whose outcome and
// cancellation are controlled by the test.
type fakeFuture struct {
	mut        sync.Mutex
	cancelled  bool
	cancelFn   func()
	err        error
}

func newFakeFuture(err error) *fakeFuture {
	return &fakeFuture{err: err}
}

func (f *fakeFuture) Cancel() {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.cancelled = true
	if f.cancelFn != nil {
		f.cancelFn()
	}
}

func (f *fakeFuture) Wait() error {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.cancelled {
		return errors.New("cancelled")
	}
	return f.err
}

// fakeHandler is a storage.Handler whose behaviour is entirely driven
// by test-supplied function fields. Unset fields zero-value their
// response (no files, no error).
type fakeHandler struct {
	mut sync.Mutex

	putFn    func(ctx context.Context, file storage.File, onProgress storage.ProgressFunc) (storage.CancellableFuture, error)
	deleteFn func(ctx context.Context, file storage.File) error
	getFn    func(ctx context.Context, name string) (storage.File, error)
	allFn    func(ctx context.Context) ([]storage.File, error)

	progressReports []float64
}

func (h *fakeHandler) GetAllFiles(ctx context.Context) ([]storage.File, error) {
	if h.allFn != nil {
		return h.allFn(ctx)
	}
	return nil, nil
}

func (h *fakeHandler) GetFile(ctx context.Context, name string) (storage.File, error) {
	if h.getFn != nil {
		return h.getFn(ctx, name)
	}
	return nil, errors.New("not found")
}

func (h *fakeHandler) PutFile(ctx context.Context, file storage.File, onProgress storage.ProgressFunc) (storage.CancellableFuture, error) {
	wrapped := func(fraction float64) {
		h.mut.Lock()
		h.progressReports = append(h.progressReports, fraction)
		h.mut.Unlock()
		if onProgress != nil {
			onProgress(fraction)
		}
	}
	if h.putFn != nil {
		return h.putFn(ctx, file, wrapped)
	}
	return newFakeFuture(nil), nil
}

func (h *fakeHandler) DeleteFile(ctx context.Context, file storage.File) error {
	if h.deleteFn != nil {
		return h.deleteFn(ctx, file)
	}
	return nil
}

func (h *fakeHandler) Events() <-chan storage.Event {
	return nil
}
