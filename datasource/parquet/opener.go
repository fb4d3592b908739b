package parquet

import (
	"context"
	"io"

	"github.com/go-kit/log/level"
	pq "github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/engine"
	geoio "github.com/grafana/geoscan/pkg/io"
	pqq "github.com/grafana/geoscan/pkg/parquetquery"
	"github.com/grafana/geoscan/pkg/util/log"
)

var tracer = otel.Tracer("datasource/parquet")

type Opener struct {
	store     backend.RawReader
	schema    *engine.Schema
	batchSize int
	opts      Options
	pruner    Pruner
	metrics   *engine.ScanMetrics
	rowGroups *rowGroupMetrics
}

var _ engine.FileOpener = (*Opener)(nil)

// OpenFile opens the Parquet footer of location through the buffered
// object store reader.
func OpenFile(ctx context.Context, store backend.RawReader, location string, size int64, opts Options) (*pq.File, *backend.ReaderAt, error) {
	opts = opts.withDefaults()
	if size <= 0 {
		var err error
		if size, err = backend.SizeOf(ctx, store, location); err != nil {
			return nil, nil, errors.Wrapf(err, "error getting size of %s", location)
		}
	}

	ra := backend.NewReaderAt(ctx, store, location)
	buffered := geoio.NewBufferedReaderAt(ra, size, opts.ReadBufferSize, opts.ReadBufferCount)
	pf, err := pq.OpenFile(buffered, size, pq.SkipPageIndex(true), pq.SkipBloomFilters(true))
	if err != nil {
		return nil, ra, errors.Wrapf(err, "error opening parquet %s", location)
	}
	return pf, ra, nil
}

// rowGroupOffset is the position of the first byte of a row group, the
// start of its first column chunk.
func rowGroupOffset(rg format.RowGroup) int64 {
	if len(rg.Columns) == 0 {
		return 0
	}
	md := rg.Columns[0].MetaData
	off := md.DataPageOffset
	if md.DictionaryPageOffset > 0 && md.DictionaryPageOffset < off {
		off = md.DictionaryPageOffset
	}
	return off
}

// Open selects the row groups of file that start inside its range and pass
// the pruner, and returns a stream reading the projected columns.
func (o *Opener) Open(ctx context.Context, file engine.PartitionedFile) (engine.RecordBatchStream, error) {
	ctx, span := tracer.Start(ctx, "parquet.Open", trace.WithAttributes(
		attribute.String("location", file.Location),
	))
	defer span.End()

	pf, ra, err := OpenFile(ctx, o.store, file.Location, file.Size, o.opts)
	if ra != nil {
		defer func() { o.metrics.BytesRead(ra.TotalBytesRead.Swap(0)) }()
	}
	if err != nil {
		return nil, err
	}
	o.metrics.FileOpened()

	columns, err := o.bindColumns(pf)
	if err != nil {
		return nil, errors.Wrapf(err, "error binding columns of %s", file.Location)
	}

	stream := &rowGroupStream{
		location:  file.Location,
		schema:    o.schema,
		columns:   columns,
		batchSize: o.batchSize,
		ra:        ra,
		metrics:   o.metrics,
	}

	if o.pruner != nil && !o.pruner.KeepFile(pf) {
		o.rowGroups.filesPruned.Inc()
		level.Debug(log.Logger).Log("msg", "pruned parquet file", "location", file.Location, "pruner", o.pruner)
		return stream, nil
	}

	md := pf.Metadata()
	for i, rg := range pf.RowGroups() {
		if file.Range != nil && !file.Range.Contains(rowGroupOffset(md.RowGroups[i])) {
			continue
		}
		if o.pruner != nil && !o.pruner.KeepRowGroup(pf, rg) {
			o.rowGroups.pruned.Inc()
			continue
		}
		o.rowGroups.matched.Inc()
		stream.rowGroups = append(stream.rowGroups, rg)
	}
	span.SetAttributes(attribute.Int("row_groups", len(stream.rowGroups)))
	level.Debug(log.Logger).Log("msg", "selected parquet row groups", "location", file.Location, "row_groups", len(stream.rowGroups), "total", len(md.RowGroups))
	return stream, nil
}

// boundColumn ties an output field to its leaf column, -1 when the file
// does not have it and the field is filled with nulls.
type boundColumn struct {
	field engine.Field
	leaf  int
}

func (o *Opener) bindColumns(pf *pq.File) ([]boundColumn, error) {
	out := make([]boundColumn, o.schema.NumFields())
	for i, f := range o.schema.Fields() {
		out[i] = boundColumn{field: f, leaf: -1}
		col := pf.Root().Column(f.Name)
		if col == nil {
			if !f.Nullable {
				return nil, errors.Errorf("required column %s is missing", f.Name)
			}
			continue
		}
		if !col.Leaf() || col.Repeated() {
			return nil, errors.Errorf("column %s is not a flat leaf column", f.Name)
		}
		if !compatible(col, f.Type) {
			return nil, errors.Errorf("column %s of type %s cannot be read as %s", f.Name, col.Type(), f.Type)
		}
		out[i].leaf = col.Index()
	}
	return out, nil
}

// rowGroupStream reads the selected row groups in order. Every column of
// the current row group has its own reader, advanced in lockstep.
type rowGroupStream struct {
	location  string
	schema    *engine.Schema
	columns   []boundColumn
	batchSize int
	ra        *backend.ReaderAt
	metrics   *engine.ScanMetrics

	rowGroups []pq.RowGroup
	next      int
	readers   []*pqq.ColumnReader
	remaining int64
	buf       []pq.Value
}

var _ engine.RecordBatchStream = (*rowGroupStream)(nil)

func (s *rowGroupStream) Schema() *engine.Schema { return s.schema }

func (s *rowGroupStream) Next(ctx context.Context) (*engine.RecordBatch, error) {
	for s.remaining == 0 {
		if err := s.closeReaders(); err != nil {
			return nil, err
		}
		if s.next >= len(s.rowGroups) {
			return nil, io.EOF
		}
		rg := s.rowGroups[s.next]
		s.next++
		s.remaining = rg.NumRows()
		s.readers = make([]*pqq.ColumnReader, len(s.columns))
		chunks := rg.ColumnChunks()
		for i, c := range s.columns {
			if c.leaf >= 0 {
				s.readers[i] = pqq.NewColumnReader(chunks[c.leaf])
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := int(min(int64(s.batchSize), s.remaining))
	columns := make([]engine.Array, len(s.columns))
	for i, c := range s.columns {
		arr, err := s.readColumn(i, c, rows)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading column %s of %s", c.field.Name, s.location)
		}
		columns[i] = arr
	}
	s.remaining -= int64(rows)
	s.reportBytes()

	batch, err := engine.NewRecordBatchWithRows(s.schema, columns, rows)
	if err != nil {
		return nil, err
	}
	s.metrics.BatchProduced(rows)
	return batch, nil
}

func (s *rowGroupStream) readColumn(i int, c boundColumn, rows int) (engine.Array, error) {
	b, err := engine.NewBuilder(c.field.Type, rows)
	if err != nil {
		return nil, err
	}
	r := s.readers[i]
	if r == nil {
		for j := 0; j < rows; j++ {
			b.AppendNull()
		}
		return b.Finish(), nil
	}

	if cap(s.buf) < s.batchSize {
		s.buf = make([]pq.Value, s.batchSize)
	}
	for b.Len() < rows {
		n, err := r.ReadValues(s.buf[:rows-b.Len()])
		if err == io.EOF {
			return nil, errors.Errorf("column ended after %d of %d rows", b.Len(), rows)
		}
		if err != nil {
			return nil, err
		}
		for _, v := range s.buf[:n] {
			if v.IsNull() {
				b.AppendNull()
				continue
			}
			gv, err := valueOf(v, c.field.Type)
			if err != nil {
				return nil, err
			}
			if err := b.Append(gv); err != nil {
				return nil, err
			}
		}
	}
	return b.Finish(), nil
}

func (s *rowGroupStream) reportBytes() {
	if s.ra != nil {
		s.metrics.BytesRead(s.ra.TotalBytesRead.Swap(0))
	}
}

func (s *rowGroupStream) closeReaders() error {
	var errs error
	for _, r := range s.readers {
		if r != nil {
			errs = multierr.Append(errs, r.Close())
		}
	}
	s.readers = nil
	return errs
}

func (s *rowGroupStream) Close() error {
	s.reportBytes()
	s.next = len(s.rowGroups)
	s.remaining = 0
	return s.closeReaders()
}
