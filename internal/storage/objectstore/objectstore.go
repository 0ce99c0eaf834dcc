// Package objectstore implements storage.Handler over an S3-compatible
// bucket using aws-sdk-go-v2, in the manner of syncthing's
// internal/blob/s3 package (upload/download/list against one bucket)
// adapted to the aws-sdk-go-v2 client the rest of this module's AWS
// surface is built on.
package objectstore

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
)

// Config names the bucket and optional key prefix this handler
// addresses. Endpoint is not read by Handler: requests go to whatever
// endpoint the s3.Client passed to New was built with.
type Config struct {
	Bucket   string
	Prefix   string
	Endpoint string
}

// Handler is a storage.Handler backed by one S3-compatible bucket.
// It has no push notification source of its own; Events returns a
// closed channel, matching an object store's pull-only nature.
type Handler struct {
	cfg    Config
	client *s3.Client
}

// New wraps an already-configured aws-sdk-go-v2 client. Client
// construction (credentials, region, endpoint resolution) is left to the
// caller so it can be shared across handlers and driven by this
// module's own config layer.
func New(client *s3.Client, cfg Config) *Handler {
	return &Handler{client: client, cfg: cfg}
}

func (h *Handler) key(name string) string {
	if h.cfg.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(h.cfg.Prefix, "/") + "/" + name
}

func (h *Handler) GetAllFiles(ctx context.Context) ([]storage.File, error) {
	var out []storage.File
	paginator := s3.NewListObjectsV2Paginator(h.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(h.cfg.Bucket),
		Prefix: aws.String(h.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "objectstore: list")
		}
		for _, obj := range page.Contents {
			out = append(out, &objectFile{
				h:    h,
				name: h.stripPrefix(aws.ToString(obj.Key)),
				size: aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

func (h *Handler) stripPrefix(key string) string {
	if h.cfg.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(h.cfg.Prefix, "/")+"/")
}

func (h *Handler) GetFile(ctx context.Context, name string) (storage.File, error) {
	head, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.cfg.Bucket),
		Key:    aws.String(h.key(name)),
	})
	if err != nil {
		return nil, notFoundError{name: name, cause: err}
	}
	return &objectFile{h: h, name: name, size: aws.ToInt64(head.ContentLength)}, nil
}

// PutFile uploads file via the s3 manager's multipart Uploader. Since
// aws-sdk-go-v2's Uploader does not expose a byte-level progress hook,
// progress is an estimate derived from the bytes read so far (see
// countingReader); the worker's reportProgress contract tolerates this,
// it only needs progress to be monotonic, not accurate.
func (h *Handler) PutFile(ctx context.Context, file storage.File, onProgress storage.ProgressFunc) (storage.CancellableFuture, error) {
	src, err := file.Open(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: open source %q", file.Name())
	}

	future := newUploadFuture()
	go future.run(ctx, h, file.Name(), src, onProgress)
	return future, nil
}

func (h *Handler) DeleteFile(ctx context.Context, file storage.File) error {
	_, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.cfg.Bucket),
		Key:    aws.String(h.key(file.Name())),
	})
	if err != nil {
		return errors.Wrapf(err, "objectstore: delete %q", file.Name())
	}
	return nil
}

// Events returns a closed, empty channel: this handler is consulted by
// polling (GetAllFiles during the initial scan), never notified.
func (h *Handler) Events() <-chan storage.Event {
	ch := make(chan storage.Event)
	close(ch)
	return ch
}

type objectFile struct {
	h    *Handler
	name string
	size int64
}

func (f *objectFile) Name() string { return f.name }

func (f *objectFile) GetProperties() (storage.Properties, error) {
	return storage.Properties{Size: f.size}, nil
}

func (f *objectFile) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := f.h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.h.cfg.Bucket),
		Key:    aws.String(f.h.key(f.name)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: get %q", f.name)
	}
	return out.Body, nil
}

type notFoundError struct {
	name  string
	cause error
}

func (e notFoundError) Error() string { return "objectstore: " + e.name + " not found: " + e.cause.Error() }
func (e notFoundError) NotFound() bool { return true }
