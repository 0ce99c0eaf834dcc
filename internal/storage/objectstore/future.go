package objectstore

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// uploadFuture is the storage.CancellableFuture returned by
// Handler.PutFile. The s3 manager.Uploader has no native progress
// callback, so the upload reads through a counting reader and its own
// context is cancelled to honour Cancel.
type uploadFuture struct {
	mut    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newUploadFuture() *uploadFuture {
	return &uploadFuture{done: make(chan struct{})}
}

func (f *uploadFuture) Cancel() {
	f.mut.Lock()
	cancel := f.cancel
	f.mut.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *uploadFuture) Wait() error {
	<-f.done
	return f.err
}

func (f *uploadFuture) run(ctx context.Context, h *Handler, name string, src io.ReadCloser, onProgress func(float64)) {
	defer src.Close()

	uploadCtx, cancel := context.WithCancel(ctx)
	f.mut.Lock()
	f.cancel = cancel
	f.mut.Unlock()
	defer cancel()

	uploader := manager.NewUploader(h.client)
	counting := &countingReader{r: src, onRead: onProgress}
	_, err := uploader.Upload(uploadCtx, &s3.PutObjectInput{
		Bucket: aws.String(h.cfg.Bucket),
		Key:    aws.String(h.key(name)),
		Body:   counting,
	})
	if err != nil {
		f.err = errors.Wrapf(err, "objectstore: put %q", name)
	}
	close(f.done)
}

// countingReader reports a monotonically increasing pseudo-fraction as
// bytes are read, since s3 manager.Uploader does not expose a
// byte-level progress hook and the true total is usually unknown ahead
// of a streamed upload. Each read reports a value above 0 that rises
// toward 1 without reaching it; no final 1 is reported on completion.
type countingReader struct {
	r      io.Reader
	read   int64
	onRead func(float64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.onRead != nil {
			// Asymptotic toward 1 without a known total; the worker
			// only requires monotonicity, not an accurate fraction.
			c.onRead(1 - 1/(1+float64(c.read)/float64(manager.DefaultUploadPartSize)))
		}
	}
	return n, err
}
