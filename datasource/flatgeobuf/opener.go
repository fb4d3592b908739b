package flatgeobuf

import (
	"context"
	"io"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/flatgeobuf"
	"github.com/grafana/geoscan/pkg/geo"
	geoio "github.com/grafana/geoscan/pkg/io"
	"github.com/grafana/geoscan/pkg/util/log"
)

var tracer = otel.Tracer("datasource/flatgeobuf")

// Opener opens the files of one partition. It holds a snapshot of the
// source configuration taken when the plan was executed.
type Opener struct {
	store     backend.RawReader
	schema    *engine.Schema
	bbox      *geo.BoundingBox
	batchSize int
	opts      Options
	metrics   *engine.ScanMetrics
	// selected counts the features chosen by the index or header.
	selected  *atomic.Int64
}

var _ engine.FileOpener = (*Opener)(nil)

// Open reads the header of file and selects its features, through the
// spatial index when a box was pushed down. Features are decoded lazily as
// the returned stream is consumed.
func (o *Opener) Open(ctx context.Context, file engine.PartitionedFile) (engine.RecordBatchStream, error) {
	ctx, span := tracer.Start(ctx, "flatgeobuf.Open", trace.WithAttributes(
		attribute.String("location", file.Location),
		attribute.Bool("bbox", o.bbox != nil),
	))
	defer span.End()

	size := file.Size
	if size <= 0 {
		var err error
		if size, err = backend.SizeOf(ctx, o.store, file.Location); err != nil {
			return nil, errors.Wrapf(err, "error getting size of %s", file.Location)
		}
	}

	ra := backend.NewReaderAt(ctx, o.store, file.Location)
	buffered := geoio.NewBufferedReaderAt(ra, size, o.opts.ReadBufferSize, o.opts.ReadBufferCount)

	r, err := flatgeobuf.Open(ctx, buffered, size)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening flatgeobuf %s", file.Location)
	}
	o.metrics.FileOpened()

	var it *flatgeobuf.FeatureIterator
	if o.bbox != nil {
		it, err = r.SelectBBox(ctx, *o.bbox)
	} else {
		it, err = r.SelectAll(ctx)
	}
	if err != nil {
		o.metrics.BytesRead(ra.TotalBytesRead.Load())
		return nil, errors.Wrapf(err, "error selecting features of %s", file.Location)
	}

	if n, ok := it.Count(); ok {
		o.selected.Add(int64(n))
		span.SetAttributes(attribute.Int("features", n))
		level.Debug(log.Logger).Log("msg", "selected features", "location", file.Location, "features", n, "bbox", o.bbox)
	}

	dec, err := newDecoder(o.schema, r.Header())
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding %s", file.Location)
	}

	return &featureStream{
		location:  file.Location,
		schema:    o.schema,
		it:        it,
		dec:       dec,
		batchSize: o.batchSize,
		ra:        ra,
		metrics:   o.metrics,
	}, nil
}

// featureStream turns selected features into record batches of at most
// batchSize rows.
type featureStream struct {
	location  string
	schema    *engine.Schema
	it        *flatgeobuf.FeatureIterator
	dec       *decoder
	batchSize int
	ra        *backend.ReaderAt
	metrics   *engine.ScanMetrics
	done      bool
	reported  uint64
}

var _ engine.RecordBatchStream = (*featureStream)(nil)

func (s *featureStream) Schema() *engine.Schema { return s.schema }

func (s *featureStream) Next(ctx context.Context) (*engine.RecordBatch, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	builders, err := s.dec.builders(s.batchSize)
	if err != nil {
		return nil, err
	}

	rows := 0
	for rows < s.batchSize {
		f, err := s.it.Next(ctx)
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error reading feature of %s", s.location)
		}
		if err := s.dec.append(builders, f); err != nil {
			return nil, errors.Wrapf(err, "error decoding feature of %s", s.location)
		}
		rows++
	}
	s.reportBytes()

	if rows == 0 {
		return nil, io.EOF
	}

	columns := make([]engine.Array, len(builders))
	for i, b := range builders {
		columns[i] = b.Finish()
	}
	batch, err := engine.NewRecordBatchWithRows(s.schema, columns, rows)
	if err != nil {
		return nil, err
	}
	s.metrics.BatchProduced(rows)
	return batch, nil
}

func (s *featureStream) reportBytes() {
	total := s.ra.TotalBytesRead.Load()
	s.metrics.BytesRead(total - s.reported)
	s.reported = total
}

func (s *featureStream) Close() error {
	s.reportBytes()
	s.done = true
	return nil
}

// decoder maps the properties of a file onto the output schema. Columns
// are matched by name so files with reordered or missing columns still
// line up with the table schema.
type decoder struct {
	schema *engine.Schema
	// props holds the header column index of each output field, -1 for the
	// geometry and for columns the file does not have.
	props    []int
	geometry []bool
	needProp bool
}

func newDecoder(schema *engine.Schema, h *flatgeobuf.Header) (*decoder, error) {
	byName := make(map[string]int, len(h.Columns))
	for i, c := range h.Columns {
		byName[c.Name] = i
	}

	d := &decoder{
		schema:   schema,
		props:    make([]int, schema.NumFields()),
		geometry: make([]bool, schema.NumFields()),
	}
	for i, f := range schema.Fields() {
		d.props[i] = -1
		if f.Type == engine.TypeGeometry && f.Name == GeometryColumn {
			d.geometry[i] = true
			continue
		}
		j, ok := byName[f.Name]
		if !ok {
			continue
		}
		dt, err := dataTypeOf(h.Columns[j].Type)
		if err != nil {
			return nil, err
		}
		if dt != f.Type {
			return nil, errors.Errorf("column %s is %s in the file but %s in the table schema", f.Name, dt, f.Type)
		}
		d.props[i] = j
		d.needProp = true
	}
	return d, nil
}

func (d *decoder) builders(capacity int) ([]engine.Builder, error) {
	out := make([]engine.Builder, d.schema.NumFields())
	for i, f := range d.schema.Fields() {
		b, err := engine.NewBuilder(f.Type, capacity)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (d *decoder) append(builders []engine.Builder, f *flatgeobuf.Feature) error {
	var props []any
	if d.needProp {
		var err error
		if props, err = f.Properties(); err != nil {
			return err
		}
	}

	for i, b := range builders {
		if d.geometry[i] {
			g, err := f.Geometry()
			if err != nil {
				return err
			}
			if g == nil {
				b.AppendNull()
				continue
			}
			if err := b.Append(g); err != nil {
				return err
			}
			continue
		}

		j := d.props[i]
		if j < 0 || j >= len(props) || props[j] == nil {
			b.AppendNull()
			continue
		}
		if err := b.Append(props[j]); err != nil {
			return errors.Wrapf(err, "column %s", d.schema.Field(i).Name)
		}
	}
	return nil
}
