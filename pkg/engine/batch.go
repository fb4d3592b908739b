package engine

import (
	"context"
	"fmt"
	"io"
)

// RecordBatch is a set of equal length columns described by a schema.
type RecordBatch struct {
	schema  *Schema
	columns []Array
	numRows int
}

func NewRecordBatch(schema *Schema, columns []Array) (*RecordBatch, error) {
	if schema.NumFields() != len(columns) {
		return nil, fmt.Errorf("schema has %d fields but %d columns were given", schema.NumFields(), len(columns))
	}
	numRows := 0
	for i, c := range columns {
		if i == 0 {
			numRows = c.Len()
		} else if c.Len() != numRows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", schema.Field(i).Name, c.Len(), numRows)
		}
		if f := schema.Field(i); c.DataType() != f.Type && c.DataType() != TypeNull {
			return nil, fmt.Errorf("column %q has type %s, schema declares %s", f.Name, c.DataType(), f.Type)
		}
	}
	return &RecordBatch{schema: schema, columns: columns, numRows: numRows}, nil
}

// NewRecordBatchWithRows builds a batch that may have zero columns but a
// known row count.
func NewRecordBatchWithRows(schema *Schema, columns []Array, numRows int) (*RecordBatch, error) {
	b, err := NewRecordBatch(schema, columns)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		b.numRows = numRows
	} else if b.numRows != numRows {
		return nil, fmt.Errorf("batch has %d rows, expected %d", b.numRows, numRows)
	}
	return b, nil
}

// NewEmptyRecordBatch returns a batch with zero rows. It is used when
// evaluating expressions that do not reference any column.
func NewEmptyRecordBatch(schema *Schema) *RecordBatch {
	columns := make([]Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b, err := NewBuilder(f.Type, 0)
		if err != nil {
			columns[i] = NewNullArray(0)
			continue
		}
		columns[i] = b.Finish()
	}
	return &RecordBatch{schema: schema, columns: columns}
}

func (b *RecordBatch) Schema() *Schema    { return b.schema }
func (b *RecordBatch) NumRows() int       { return b.numRows }
func (b *RecordBatch) NumColumns() int    { return len(b.columns) }
func (b *RecordBatch) Column(i int) Array { return b.columns[i] }
func (b *RecordBatch) Columns() []Array   { return append([]Array(nil), b.columns...) }

// ColumnByName returns the first column with the given name.
func (b *RecordBatch) ColumnByName(name string) (Array, bool) {
	i := b.schema.IndexOf(name)
	if i < 0 {
		return nil, false
	}
	return b.columns[i], true
}

// Project returns a batch made of the given column indices.
func (b *RecordBatch) Project(indices []int) (*RecordBatch, error) {
	schema, err := b.schema.Project(indices)
	if err != nil {
		return nil, err
	}
	columns := make([]Array, len(indices))
	for j, i := range indices {
		columns[j] = b.columns[i]
	}
	return &RecordBatch{schema: schema, columns: columns, numRows: b.numRows}, nil
}

// Filter keeps the rows where mask is true. Null mask entries drop the row.
func (b *RecordBatch) Filter(mask *BooleanArray) (*RecordBatch, error) {
	if mask.Len() != b.numRows {
		return nil, fmt.Errorf("filter mask has %d rows, batch has %d", mask.Len(), b.numRows)
	}
	keep := make([]int, 0, b.numRows)
	for i := 0; i < mask.Len(); i++ {
		if v, ok := mask.At(i); ok && v {
			keep = append(keep, i)
		}
	}
	if len(keep) == b.numRows {
		return b, nil
	}
	columns := make([]Array, len(b.columns))
	for i, c := range b.columns {
		columns[i] = c.Take(keep)
	}
	return &RecordBatch{schema: b.schema, columns: columns, numRows: len(keep)}, nil
}

// RecordBatchStream yields record batches. Next returns io.EOF once the
// stream is exhausted.
type RecordBatchStream interface {
	Schema() *Schema
	Next(ctx context.Context) (*RecordBatch, error)
	Close() error
}

// MemoryStream replays a fixed list of batches.
type MemoryStream struct {
	schema  *Schema
	batches []*RecordBatch
	pos     int
}

var _ RecordBatchStream = (*MemoryStream)(nil)

func NewMemoryStream(schema *Schema, batches ...*RecordBatch) *MemoryStream {
	return &MemoryStream{schema: schema, batches: batches}
}

func (s *MemoryStream) Schema() *Schema { return s.schema }

func (s *MemoryStream) Next(ctx context.Context) (*RecordBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

func (s *MemoryStream) Close() error { return nil }

// DrainStream reads every batch from s and closes it.
func DrainStream(ctx context.Context, s RecordBatchStream) ([]*RecordBatch, error) {
	defer s.Close()

	var out []*RecordBatch
	for {
		b, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}
