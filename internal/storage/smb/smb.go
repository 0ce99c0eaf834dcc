// Package smb implements storage.Handler over a Windows share using
// go-smb2, following the same polling shape as objectstore: an SMB
// share has no native push-notification API exposed by this driver, so
// Events returns a closed channel and reconciliation leans entirely on
// the generator's initial-scan sweep.
package smb

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/hirochachacha/go-smb2"
	"github.com/pkg/errors"

	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
)

// Config names the SMB dial target, credentials, and share this handler
// addresses.
type Config struct {
	Address  string // host:port, usually host:445
	User     string
	Password string
	Domain   string
	Share    string
	Prefix   string
}

// Handler is a storage.Handler backed by one SMB share, mounted via a
// single long-lived go-smb2 session.
type Handler struct {
	cfg  Config
	fs   *smb2.Share
	conn io.Closer
}

// Dial establishes the SMB session and mounts cfg.Share. Close releases
// both the share mount and the underlying TCP connection.
func Dial(ctx context.Context, conn io.ReadWriteCloser, cfg Config) (*Handler, error) {
	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     cfg.User,
			Password: cfg.Password,
			Domain:   cfg.Domain,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		return nil, errors.Wrapf(err, "smb: dial %q", cfg.Address)
	}
	fs, err := session.Mount(cfg.Share)
	if err != nil {
		session.Logoff()
		return nil, errors.Wrapf(err, "smb: mount %q", cfg.Share)
	}
	return &Handler{cfg: cfg, fs: fs, conn: conn}, nil
}

// Close unmounts the share and closes the underlying connection.
func (h *Handler) Close() error {
	err := h.fs.Umount()
	if cerr := h.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (h *Handler) fullPath(name string) string {
	if h.cfg.Prefix == "" {
		return name
	}
	return path.Join(h.cfg.Prefix, name)
}

func (h *Handler) relName(full string) string {
	if h.cfg.Prefix == "" {
		return full
	}
	return strings.TrimPrefix(strings.TrimPrefix(full, h.cfg.Prefix), "/")
}

func (h *Handler) GetAllFiles(ctx context.Context) ([]storage.File, error) {
	root := h.cfg.Prefix
	if root == "" {
		root = "."
	}

	var out []storage.File
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := h.fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			full := path.Join(dir, entry.Name())
			if entry.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			out = append(out, &smbFile{h: h, name: h.relName(full), size: entry.Size()})
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, errors.Wrapf(err, "smb: walk %q", root)
	}
	return out, nil
}

func (h *Handler) GetFile(ctx context.Context, name string) (storage.File, error) {
	info, err := h.fs.Stat(h.fullPath(name))
	if err != nil {
		return nil, notFoundError{name: name, cause: err}
	}
	return &smbFile{h: h, name: name, size: info.Size()}, nil
}

func (h *Handler) PutFile(ctx context.Context, file storage.File, onProgress storage.ProgressFunc) (storage.CancellableFuture, error) {
	src, err := file.Open(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "smb: open source %q", file.Name())
	}

	dst, err := h.fs.Create(h.fullPath(file.Name()))
	if err != nil {
		src.Close()
		return nil, errors.Wrapf(err, "smb: create %q", file.Name())
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
	if err := h.fs.Remove(h.fullPath(file.Name())); err != nil {
		return errors.Wrapf(err, "smb: delete %q", file.Name())
	}
	return nil
}

// Events returns a closed, empty channel: see the package doc comment.
func (h *Handler) Events() <-chan storage.Event {
	ch := make(chan storage.Event)
	close(ch)
	return ch
}

type smbFile struct {
	h    *Handler
	name string
	size int64
}

func (f *smbFile) Name() string { return f.name }

func (f *smbFile) GetProperties() (storage.Properties, error) {
	return storage.Properties{Size: f.size}, nil
}

func (f *smbFile) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := f.h.fs.Open(f.h.fullPath(f.name))
	if err != nil {
		return nil, errors.Wrapf(err, "smb: open %q", f.name)
	}
	return rc, nil
}

type notFoundError struct {
	name  string
	cause error
}

func (e notFoundError) Error() string { return "smb: " + e.name + " not found: " + e.cause.Error() }
func (e notFoundError) NotFound() bool { return true }
