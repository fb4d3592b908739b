package flatgeobuf

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/flatgeobuf"
	"github.com/grafana/geoscan/pkg/geoarrow"
	geoio "github.com/grafana/geoscan/pkg/io"
	"github.com/grafana/geoscan/pkg/util/log"
)

// Format reads and writes FlatGeobuf objects.
type Format struct {
	opts Options
}

var _ engine.FileFormat = (*Format)(nil)

func NewFormat(opts Options) *Format {
	return &Format{opts: opts.withDefaults()}
}

func (f *Format) FileType() string { return FileType }

func (f *Format) FileSource(schema *engine.Schema) engine.FileSource {
	return NewSource(schema, f.opts)
}

// InferSchema reads the header of every object. All objects must describe
// the same columns.
func (f *Format) InferSchema(ctx context.Context, store backend.RawReader, objects []engine.ObjectMeta) (*engine.Schema, error) {
	if len(objects) == 0 {
		return nil, errors.New("no objects to infer a flatgeobuf schema from")
	}

	var schema *engine.Schema
	for _, obj := range objects {
		h, err := f.readHeader(ctx, store, obj)
		if err != nil {
			return nil, err
		}
		s, err := SchemaFromHeader(h)
		if err != nil {
			return nil, errors.Wrapf(err, "error mapping schema of %s", obj.Location)
		}
		if schema == nil {
			schema = s
			continue
		}
		if !schema.Equal(s) {
			return nil, errors.Errorf("schema of %s (%s) differs from %s", obj.Location, s, schema)
		}
	}

	level.Debug(log.Logger).Log("msg", "inferred flatgeobuf schema", "objects", len(objects), "schema", schema)
	return schema, nil
}

func (f *Format) readHeader(ctx context.Context, store backend.RawReader, obj engine.ObjectMeta) (*flatgeobuf.Header, error) {
	size := obj.Size
	if size <= 0 {
		var err error
		if size, err = backend.SizeOf(ctx, store, obj.Location); err != nil {
			return nil, errors.Wrapf(err, "error getting size of %s", obj.Location)
		}
	}
	ra := geoio.NewBufferedReaderAt(backend.NewReaderAt(ctx, store, obj.Location), size, f.opts.ReadBufferSize, 1)
	r, err := flatgeobuf.Open(ctx, ra, size)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading flatgeobuf header of %s", obj.Location)
	}
	return r.Header(), nil
}

// CreateWriter returns a writer that buffers every batch and uploads an
// indexed FlatGeobuf object on Close. schema must have exactly one geometry
// column, native or well-known binary or text.
func (f *Format) CreateWriter(_ context.Context, store backend.RawWriter, location string, schema *engine.Schema) (engine.BatchWriter, error) {
	geomIdx := -1
	var columns []flatgeobuf.Column
	var props []int
	for i, field := range schema.Fields() {
		if geoarrow.IsGeometryField(field) {
			if geomIdx >= 0 {
				return nil, errors.Errorf("schema has more than one geometry column: %s", schema)
			}
			geomIdx = i
			continue
		}
		t, err := columnTypeOf(field.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", field.Name)
		}
		columns = append(columns, flatgeobuf.Column{Name: field.Name, Type: t, Nullable: field.Nullable})
		props = append(props, i)
	}
	if geomIdx < 0 {
		return nil, errors.Errorf("schema has no geometry column: %s", schema)
	}

	var name string
	if n, ok := schema.Metadata(MetadataName); ok {
		name = n
	}

	w := &batchWriter{
		store:    store,
		location: location,
		schema:   schema,
		geomIdx:  geomIdx,
		props:    props,
	}
	w.fgb = flatgeobuf.NewWriter(&w.buf, flatgeobuf.WriterOptions{
		Name:         name,
		GeometryType: geometryType(schema),
		Columns:      columns,
		CRS:          parseCRS(geoarrow.CRS(schema.Field(geomIdx))),
	})
	return w, nil
}

// parseCRS understands "AUTH:CODE" identifiers and keeps anything else as
// WKT.
func parseCRS(s string) *flatgeobuf.CRS {
	if s == "" {
		return nil
	}
	org, code, ok := strings.Cut(s, ":")
	if !ok || strings.ContainsAny(code, " [(") {
		return &flatgeobuf.CRS{WKT: s}
	}
	if n, err := strconv.ParseInt(code, 10, 32); err == nil {
		return &flatgeobuf.CRS{Org: org, Code: int32(n)}
	}
	return &flatgeobuf.CRS{Org: org, CodeString: code}
}

type batchWriter struct {
	store    backend.RawWriter
	location string
	schema   *engine.Schema
	geomIdx  int
	props    []int

	buf bytes.Buffer
	fgb *flatgeobuf.Writer
}

func (w *batchWriter) Write(ctx context.Context, batch *engine.RecordBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !batch.Schema().Equal(w.schema) {
		return errors.Errorf("batch schema %s does not match writer schema %s", batch.Schema(), w.schema)
	}

	geoms, err := geoarrow.FromArray(batch.Column(w.geomIdx), w.schema.Field(w.geomIdx))
	if err != nil {
		return errors.Wrapf(err, "error reading geometry column of %s", w.location)
	}

	values := make([]any, len(w.props))
	for row := 0; row < batch.NumRows(); row++ {
		for j, col := range w.props {
			values[j] = batch.Column(col).Value(row)
		}
		var g geom.T
		if v, ok := geoms.At(row); ok {
			g = v
		}
		if err := w.fgb.Add(g, values); err != nil {
			return errors.Wrapf(err, "error writing row %d to %s", row, w.location)
		}
	}
	return nil
}

func (w *batchWriter) Close(ctx context.Context) error {
	features := w.fgb.Len()
	if err := w.fgb.Close(); err != nil {
		return errors.Wrapf(err, "error finishing %s", w.location)
	}

	keypath, name := backend.SplitLocation(w.location)
	if err := w.store.Write(ctx, name, keypath, bytes.NewReader(w.buf.Bytes()), int64(w.buf.Len())); err != nil {
		return errors.Wrapf(err, "error writing %s", w.location)
	}
	level.Debug(log.Logger).Log("msg", "wrote flatgeobuf", "location", w.location, "features", features, "bytes", w.buf.Len())
	w.buf.Reset()
	return nil
}
