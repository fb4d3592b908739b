package parquet

import (
	"context"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/util/log"
)

type Format struct {
	opts Options
}

var _ engine.FileFormat = (*Format)(nil)

func NewFormat(opts Options) *Format {
	return &Format{opts: opts.withDefaults()}
}

func (f *Format) FileType() string { return FileType }

func (f *Format) Options() Options { return f.opts }

func (f *Format) FileSource(schema *engine.Schema) engine.FileSource {
	return NewSource(schema, f.opts)
}

// InferSchema reads the footer of every object. The fields of all objects
// must match; the key/value metadata comes from the first one.
func (f *Format) InferSchema(ctx context.Context, store backend.RawReader, objects []engine.ObjectMeta) (*engine.Schema, error) {
	if len(objects) == 0 {
		return nil, errors.New("no objects to infer a parquet schema from")
	}

	var schema *engine.Schema
	for _, obj := range objects {
		pf, _, err := OpenFile(ctx, store, obj.Location, obj.Size, f.opts)
		if err != nil {
			return nil, err
		}
		s := SchemaOf(pf)
		if schema == nil {
			schema = s
			continue
		}
		if !schema.Equal(s) {
			return nil, errors.Errorf("schema of %s (%s) differs from %s", obj.Location, s, schema)
		}
	}

	level.Debug(log.Logger).Log("msg", "inferred parquet schema", "objects", len(objects), "schema", schema)
	return schema, nil
}

func (f *Format) CreateWriter(context.Context, backend.RawWriter, string, *engine.Schema) (engine.BatchWriter, error) {
	return nil, errors.Wrap(engine.ErrNotImplemented, "writing parquet")
}
