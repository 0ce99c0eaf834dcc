package smb

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

var errCancelled = errors.New("smb: transfer cancelled")

// copyFuture mirrors localfs' copyFuture: a mutex-guarded, once-settled
// result with cooperative cancellation checked between chunks.
type copyFuture struct {
	mut      sync.Mutex
	done     chan struct{}
	err      error
	settled  bool
	canceled bool
}

func newCopyFuture() *copyFuture {
	return &copyFuture{done: make(chan struct{})}
}

func (f *copyFuture) Cancel() {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.canceled = true
}

func (f *copyFuture) Wait() error {
	<-f.done
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.err
}

func (f *copyFuture) isCanceled() bool {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.canceled
}

func (f *copyFuture) settle(err error) {
	f.mut.Lock()
	if f.settled {
		f.mut.Unlock()
		return
	}
	f.settled = true
	f.err = err
	f.mut.Unlock()
	close(f.done)
}

func (f *copyFuture) run(src io.ReadCloser, dst io.WriteCloser, size int64, onProgress func(float64)) {
	defer src.Close()
	defer dst.Close()

	const chunkSize = 256 * 1024
	buf := make([]byte, chunkSize)
	var written int64

	for {
		if f.isCanceled() {
			f.settle(errCancelled)
			return
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				f.settle(errors.Wrap(err, "smb: write"))
				return
			}
			written += int64(n)
			if size > 0 && onProgress != nil {
				onProgress(float64(written) / float64(size))
			}
		}
		if readErr == io.EOF {
			f.settle(nil)
			return
		}
		if readErr != nil {
			f.settle(errors.Wrap(readErr, "smb: read"))
			return
		}
	}
}
