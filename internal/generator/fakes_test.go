package generator_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
)

type fakeFile struct {
	name string
	size int64
}

func (f *fakeFile) Name() string { return f.name }

func (f *fakeFile) GetProperties() (storage.Properties, error) {
	return storage.Properties{Size: f.size}, nil
}

func (f *fakeFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(make([]byte, f.size))), nil
}

// fakeHandler is a minimal, test-driven storage.Handler: a mutable set
// of files addressable by name, with no real event stream (tests feed
// events directly into the generator's hooks rather than through
// dispatchLoop).
type fakeHandler struct {
	mut   sync.Mutex
	files map[string]*fakeFile
}

func newFakeHandler(files ...*fakeFile) *fakeHandler {
	h := &fakeHandler{files: make(map[string]*fakeFile)}
	for _, f := range files {
		h.files[f.name] = f
	}
	return h
}

func (h *fakeHandler) GetAllFiles(ctx context.Context) ([]storage.File, error) {
	h.mut.Lock()
	defer h.mut.Unlock()
	out := make([]storage.File, 0, len(h.files))
	for _, f := range h.files {
		out = append(out, f)
	}
	return out, nil
}

func (h *fakeHandler) GetFile(ctx context.Context, name string) (storage.File, error) {
	h.mut.Lock()
	defer h.mut.Unlock()
	f, ok := h.files[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return f, nil
}

func (h *fakeHandler) PutFile(ctx context.Context, file storage.File, onProgress storage.ProgressFunc) (storage.CancellableFuture, error) {
	return nil, errors.New("unused in generator tests")
}

func (h *fakeHandler) DeleteFile(ctx context.Context, file storage.File) error {
	h.mut.Lock()
	defer h.mut.Unlock()
	delete(h.files, file.Name())
	return nil
}

func (h *fakeHandler) Events() <-chan storage.Event { return nil }

func (h *fakeHandler) put(f *fakeFile) {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.files[f.name] = f
}
