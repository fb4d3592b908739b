package geoparquet

import (
	"context"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/datasource/parquet"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geoarrow"
	"github.com/grafana/geoscan/pkg/util/log"
)

type Options struct {
	Parquet parquet.Options
	// ParseToNative decodes well-known binary geometry columns during the
	// scan instead of exposing them as annotated binary.
	ParseToNative bool
}

type Format struct {
	inner *parquet.Format
	opts  Options
}

var _ engine.FileFormat = (*Format)(nil)

func NewFormat(opts Options) *Format {
	inner := parquet.NewFormat(opts.Parquet)
	opts.Parquet = inner.Options()
	return &Format{inner: inner, opts: opts}
}

func (f *Format) FileType() string { return FileType }

// InferSchema infers the Parquet schema and annotates the well-known binary
// geometry columns named by the geo metadata.
func (f *Format) InferSchema(ctx context.Context, store backend.RawReader, objects []engine.ObjectMeta) (*engine.Schema, error) {
	schema, err := f.inner.InferSchema(ctx, store, objects)
	if err != nil {
		return nil, err
	}
	return AnnotateSchema(schema, f.opts.ParseToNative), nil
}

// AnnotateSchema marks the geometry columns of schema. A schema without
// valid geo metadata is returned unchanged.
func AnnotateSchema(schema *engine.Schema, parseToNative bool) *engine.Schema {
	md, ok := SchemaMetadata(schema)
	if !ok {
		return schema
	}

	fields := schema.Fields()
	for i, field := range fields {
		col, ok := md.Columns[field.Name]
		if !ok {
			continue
		}
		if !col.IsWKB() || field.Type != engine.TypeBinary {
			level.Debug(log.Logger).Log("msg", "leaving geo column unannotated", "column", field.Name, "encoding", col.Encoding, "type", field.Type)
			continue
		}
		if parseToNative {
			fields[i] = geoarrow.GeometryField(field.Name, field.Nullable, col.CRSString())
		} else {
			fields[i] = geoarrow.WKBField(field.Name, field.Nullable, col.CRSString())
		}
	}
	return schema.WithFields(fields)
}

func (f *Format) FileSource(schema *engine.Schema) engine.FileSource {
	return NewSource(schema, f.opts.Parquet)
}

func (f *Format) CreateWriter(context.Context, backend.RawWriter, string, *engine.Schema) (engine.BatchWriter, error) {
	return nil, errors.Wrap(engine.ErrNotImplemented, "writing geoparquet")
}
