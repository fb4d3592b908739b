package gcs

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	google_http "google.golang.org/api/transport/http"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/backend/instrumentation"
)

var tracer = otel.Tracer("backend/gcs")

type readerWriter struct {
	cfg          *Config
	bucket       *storage.BucketHandle
	hedgedBucket *storage.BucketHandle
}

var (
	_ backend.RawReader = (*readerWriter)(nil)
	_ backend.RawWriter = (*readerWriter)(nil)
)

// NewNoConfirm gets the GCS backend without testing it
func NewNoConfirm(cfg *Config) (backend.RawReader, backend.RawWriter, error) {
	rw, err := internalNew(cfg, false)
	return rw, rw, err
}

// New gets the GCS backend
func New(cfg *Config) (backend.RawReader, backend.RawWriter, error) {
	rw, err := internalNew(cfg, true)
	return rw, rw, err
}

func internalNew(cfg *Config, confirm bool) (*readerWriter, error) {
	ctx := context.Background()

	bucket, err := createBucket(ctx, cfg, false)
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	hedgedBucket, err := createBucket(ctx, cfg, true)
	if err != nil {
		return nil, fmt.Errorf("creating hedged bucket: %w", err)
	}

	// Check bucket exists by getting attrs
	if confirm {
		if _, err = bucket.Attrs(ctx); err != nil {
			return nil, fmt.Errorf("getting bucket attrs: %w", err)
		}
	}

	return &readerWriter{
		cfg:          cfg,
		bucket:       bucket,
		hedgedBucket: hedgedBucket,
	}, nil
}

// Write implements backend.RawWriter
func (rw *readerWriter) Write(ctx context.Context, name string, keypath backend.KeyPath, data io.Reader, _ int64) error {
	keypath = backend.KeyPathWithPrefix(keypath, rw.cfg.Prefix)
	derivedCtx, span := tracer.Start(ctx, "gcs.Write", trace.WithAttributes(attribute.String("object", name)))
	defer span.End()

	w := rw.bucket.Object(backend.ObjectFileName(keypath, name)).NewWriter(derivedCtx)
	w.ChunkSize = rw.cfg.ChunkBufferSize

	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		span.RecordError(err)
		return fmt.Errorf("failed to write: %w", err)
	}

	return w.Close()
}

// List implements backend.RawReader
func (rw *readerWriter) List(ctx context.Context, keypath backend.KeyPath) ([]string, error) {
	keypath = backend.KeyPathWithPrefix(keypath, rw.cfg.Prefix)
	prefix := path.Join(keypath...)
	if len(prefix) > 0 {
		prefix = prefix + "/"
	}
	iter := rw.bucket.Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
		Versions:  false,
	})

	var objects []string
	for {
		attrs, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating objects: %w", err)
		}
		// synthetic directory entries only carry a prefix
		if attrs.Name == "" {
			continue
		}

		objects = append(objects, strings.TrimPrefix(attrs.Name, prefix))
	}

	return objects, nil
}

// Read implements backend.RawReader
func (rw *readerWriter) Read(ctx context.Context, name string, keypath backend.KeyPath) (io.ReadCloser, int64, error) {
	keypath = backend.KeyPathWithPrefix(keypath, rw.cfg.Prefix)
	derivedCtx, span := tracer.Start(ctx, "gcs.Read", trace.WithAttributes(attribute.String("object", name)))
	defer span.End()

	r, err := rw.hedgedBucket.Object(backend.ObjectFileName(keypath, name)).NewReader(derivedCtx)
	if err != nil {
		span.RecordError(err)
		return nil, 0, readError(err)
	}
	return r, r.Attrs.Size, nil
}

// ReadRange implements backend.RawReader
func (rw *readerWriter) ReadRange(ctx context.Context, name string, keypath backend.KeyPath, offset uint64, buffer []byte) error {
	keypath = backend.KeyPathWithPrefix(keypath, rw.cfg.Prefix)
	derivedCtx, span := tracer.Start(ctx, "gcs.ReadRange", trace.WithAttributes(
		attribute.Int("len", len(buffer)),
		attribute.Int64("offset", int64(offset)),
	))
	defer span.End()

	err := rw.readRange(derivedCtx, backend.ObjectFileName(keypath, name), int64(offset), buffer)
	if err != nil {
		span.RecordError(err)
	}
	return readError(err)
}

// Size implements backend.RawReader
func (rw *readerWriter) Size(ctx context.Context, name string, keypath backend.KeyPath) (int64, error) {
	keypath = backend.KeyPathWithPrefix(keypath, rw.cfg.Prefix)
	attrs, err := rw.bucket.Object(backend.ObjectFileName(keypath, name)).Attrs(ctx)
	if err != nil {
		return 0, readError(err)
	}
	return attrs.Size, nil
}

// Shutdown implements backend.RawReader
func (rw *readerWriter) Shutdown() {
}

func (rw *readerWriter) readRange(ctx context.Context, name string, offset int64, buffer []byte) error {
	r, err := rw.hedgedBucket.Object(name).NewRangeReader(ctx, offset, int64(len(buffer)))
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = io.ReadFull(r, buffer)
	return err
}

func createBucket(ctx context.Context, cfg *Config, hedge bool) (*storage.BucketHandle, error) {
	// start with default transport
	customTransport := http.DefaultTransport.(*http.Transport).Clone()

	// add google auth
	transportOptions := []option.ClientOption{
		option.WithScopes(storage.ScopeReadWrite),
	}
	if cfg.Insecure {
		transportOptions = append(transportOptions, option.WithoutAuthentication())
		customTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	transport, err := google_http.NewTransport(ctx, customTransport, transportOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating google http transport: %w", err)
	}

	// add instrumentation
	transport = instrumentation.NewTransport(transport)

	// hedge if desired (0 means disabled)
	if hedge {
		transport, err = instrumentation.HedgeTransport(transport, cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo)
		if err != nil {
			return nil, err
		}
	}

	// Build client
	storageClientOptions := []option.ClientOption{
		option.WithHTTPClient(&http.Client{
			Transport: transport,
		}),
		option.WithScopes(storage.ScopeReadWrite),
	}
	if cfg.Endpoint != "" {
		storageClientOptions = append(storageClientOptions, option.WithEndpoint(cfg.Endpoint))
		storageClientOptions = append(storageClientOptions, storage.WithJSONReads())
	}
	client, err := storage.NewClient(ctx, storageClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	// Build bucket
	return client.Bucket(cfg.BucketName), nil
}

func readError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return backend.ErrDoesNotExist
	}

	return err
}
