package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/geoscan/backend"
)

var tracer = otel.Tracer("backend/local")

// Backend reads and writes objects as files under a root directory.
type Backend struct {
	cfg *Config
}

var (
	_ backend.RawReader = (*Backend)(nil)
	_ backend.RawWriter = (*Backend)(nil)
)

// NewBackend creates the local backend, creating the root directory if needed.
func NewBackend(cfg *Config) (*Backend, error) {
	if err := os.MkdirAll(cfg.Path, os.ModePerm); err != nil {
		return nil, err
	}
	return &Backend{cfg: cfg}, nil
}

// New gets the local backend
func New(cfg *Config) (backend.RawReader, backend.RawWriter, error) {
	l, err := NewBackend(cfg)
	return l, l, err
}

// Write implements backend.RawWriter
func (rw *Backend) Write(ctx context.Context, name string, keypath backend.KeyPath, data io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := rw.rootPath(keypath)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}

	// write to a temp file and rename so readers never see a partial object
	dst, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err = io.Copy(dst, data); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return errors.Wrapf(err, "error writing object %s", name)
	}
	if err = dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return err
	}
	return os.Rename(dst.Name(), filepath.Join(dir, name))
}

// List implements backend.RawReader
func (rw *Backend) List(ctx context.Context, keypath backend.KeyPath) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(rw.rootPath(keypath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	objects := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		objects = append(objects, e.Name())
	}
	sort.Strings(objects)
	return objects, nil
}

// Read implements backend.RawReader
func (rw *Backend) Read(ctx context.Context, name string, keypath backend.KeyPath) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	filename := rw.objectFileName(keypath, name)
	f, err := os.OpenFile(filename, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, 0, readError(err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}

	return f, stat.Size(), err
}

// ReadRange implements backend.RawReader
func (rw *Backend) ReadRange(ctx context.Context, name string, keypath backend.KeyPath, offset uint64, buffer []byte) error {
	_, span := tracer.Start(ctx, "local.ReadRange", trace.WithAttributes(
		attribute.String("object", name),
		attribute.Int64("offset", int64(offset)),
		attribute.Int("len", len(buffer)),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	filename := rw.objectFileName(keypath, name)
	f, err := os.OpenFile(filename, os.O_RDONLY, 0o644)
	if err != nil {
		return readError(err)
	}
	defer f.Close()

	_, err = f.ReadAt(buffer, int64(offset))
	if err != nil {
		return errors.Wrapf(err, "error reading %d bytes at offset %d of %s", len(buffer), offset, filename)
	}

	return nil
}

// Size implements backend.RawReader
func (rw *Backend) Size(ctx context.Context, name string, keypath backend.KeyPath) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	stat, err := os.Stat(rw.objectFileName(keypath, name))
	if err != nil {
		return 0, readError(err)
	}
	return stat.Size(), nil
}

// Shutdown implements backend.RawReader
func (rw *Backend) Shutdown() {
}

func (rw *Backend) objectFileName(keypath backend.KeyPath, name string) string {
	return filepath.Join(rw.rootPath(keypath), name)
}

func (rw *Backend) rootPath(keypath backend.KeyPath) string {
	return filepath.Join(rw.cfg.Path, filepath.Join(keypath...))
}

func readError(err error) error {
	if os.IsNotExist(err) {
		return backend.ErrDoesNotExist
	}
	return err
}
