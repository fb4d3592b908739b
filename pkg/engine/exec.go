package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/util"
	"github.com/grafana/geoscan/pkg/util/log"
)

// ExecutionPlan is a node of a physical plan that produces one stream per
// output partition.
type ExecutionPlan interface {
	fmt.Stringer
	Schema() *Schema
	OutputPartitions() int
	Execute(ctx context.Context, partition int) (RecordBatchStream, error)
	Children() []ExecutionPlan
}

// DataSourceExec scans the files of a FileScanConfig, one file group per
// partition.
type DataSourceExec struct {
	store  backend.RawReader
	config *FileScanConfig
	schema *Schema
}

var _ ExecutionPlan = (*DataSourceExec)(nil)

func NewDataSourceExec(store backend.RawReader, cfg *FileScanConfig) (*DataSourceExec, error) {
	schema, err := OutputSchema(cfg.Source)
	if err != nil {
		return nil, err
	}
	return &DataSourceExec{store: store, config: cfg, schema: schema}, nil
}

func (e *DataSourceExec) Source() FileSource        { return e.config.Source }
func (e *DataSourceExec) Config() *FileScanConfig   { return e.config }
func (e *DataSourceExec) Schema() *Schema           { return e.schema }
func (e *DataSourceExec) OutputPartitions() int     { return len(e.config.FileGroups) }
func (e *DataSourceExec) Children() []ExecutionPlan { return nil }

func (e *DataSourceExec) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DataSourceExec: source=%s, partitions=%d, files=%d", e.config.Source, len(e.config.FileGroups), e.config.NumFiles())
	for i, g := range e.config.FileGroups {
		files := make([]string, len(g))
		for j, f := range g {
			files[j] = f.String()
		}
		fmt.Fprintf(&sb, "\n[%d] %s", i, strings.Join(files, ", "))
	}
	return sb.String()
}

func (e *DataSourceExec) Execute(_ context.Context, partition int) (RecordBatchStream, error) {
	if partition < 0 || partition >= len(e.config.FileGroups) {
		return nil, fmt.Errorf("partition %d out of range, plan has %d partitions", partition, len(e.config.FileGroups))
	}
	opener, err := e.config.Source.CreateFileOpener(e.store, e.config, partition)
	if err != nil {
		return nil, err
	}
	return &fileStream{
		schema: e.schema,
		opener: opener,
		files:  e.config.FileGroups[partition],
		limit:  e.config.Limit,
	}, nil
}

// fileStream opens the files of one group lazily and in order.
type fileStream struct {
	schema   *Schema
	opener   FileOpener
	files    FileGroup
	next     int
	current  RecordBatchStream
	limit    int
	produced int
}

func (s *fileStream) Schema() *Schema { return s.schema }

func (s *fileStream) Next(ctx context.Context) (*RecordBatch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.limit > 0 && s.produced >= s.limit {
			return nil, io.EOF
		}

		if s.current == nil {
			if s.next >= len(s.files) {
				return nil, io.EOF
			}
			f := s.files[s.next]
			s.next++
			stream, err := s.opener.Open(ctx, f)
			if err != nil {
				return nil, errors.Wrapf(err, "opening %s", f)
			}
			s.current = stream
		}

		b, err := s.current.Next(ctx)
		if err == io.EOF {
			err = s.current.Close()
			s.current = nil
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if s.limit > 0 && s.produced+b.NumRows() > s.limit {
			b, err = headRows(b, s.limit-s.produced)
			if err != nil {
				return nil, err
			}
		}
		s.produced += b.NumRows()
		return b, nil
	}
}

func (s *fileStream) Close() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

func headRows(b *RecordBatch, n int) (*RecordBatch, error) {
	keep := make([]int, n)
	for i := range keep {
		keep[i] = i
	}
	columns := make([]Array, b.NumColumns())
	for i := range columns {
		columns[i] = b.Column(i).Take(keep)
	}
	return NewRecordBatchWithRows(b.Schema(), columns, n)
}

// FilterExec keeps the rows of its input for which the predicate is true.
type FilterExec struct {
	predicate PhysicalExpr
	input     ExecutionPlan
}

var _ ExecutionPlan = (*FilterExec)(nil)

// NewFilterExec binds predicate against the output schema of input.
func NewFilterExec(predicate PhysicalExpr, input ExecutionPlan) (*FilterExec, error) {
	bound, err := RebindColumns(predicate, input.Schema())
	if err != nil {
		return nil, WrapPlanningError(err, "binding filter %s", predicate)
	}
	return &FilterExec{predicate: bound, input: input}, nil
}

func (e *FilterExec) Predicate() PhysicalExpr   { return e.predicate }
func (e *FilterExec) Schema() *Schema           { return e.input.Schema() }
func (e *FilterExec) OutputPartitions() int     { return e.input.OutputPartitions() }
func (e *FilterExec) Children() []ExecutionPlan { return []ExecutionPlan{e.input} }

func (e *FilterExec) String() string {
	return fmt.Sprintf("FilterExec: %s\n\t%s", e.predicate, util.TabOut(e.input.String()))
}

func (e *FilterExec) Execute(ctx context.Context, partition int) (RecordBatchStream, error) {
	in, err := e.input.Execute(ctx, partition)
	if err != nil {
		return nil, err
	}
	return &filterStream{predicate: e.predicate, input: in}, nil
}

type filterStream struct {
	predicate PhysicalExpr
	input     RecordBatchStream
}

func (s *filterStream) Schema() *Schema { return s.input.Schema() }
func (s *filterStream) Close() error    { return s.input.Close() }

func (s *filterStream) Next(ctx context.Context) (*RecordBatch, error) {
	for {
		b, err := s.input.Next(ctx)
		if err != nil {
			return nil, err
		}
		v, err := s.predicate.Evaluate(b)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating filter %s", s.predicate)
		}
		arr, err := v.ToArray(b.NumRows())
		if err != nil {
			return nil, err
		}

		var mask *BooleanArray
		switch a := arr.(type) {
		case *BooleanArray:
			mask = a
		case *NullArray:
			// an all-null predicate keeps nothing
			continue
		default:
			return nil, fmt.Errorf("filter %s returned %s, expected boolean", s.predicate, arr.DataType())
		}

		out, err := b.Filter(mask)
		if err != nil {
			return nil, err
		}
		if out.NumRows() == 0 {
			continue
		}
		return out, nil
	}
}

// ProjectionExec selects input columns by name.
type ProjectionExec struct {
	names   []string
	indices []int
	schema  *Schema
	input   ExecutionPlan
}

var _ ExecutionPlan = (*ProjectionExec)(nil)

func NewProjectionExec(names []string, input ExecutionPlan) (*ProjectionExec, error) {
	p, err := ProjectionFromNames(names, input.Schema())
	if err != nil {
		return nil, err
	}
	schema, err := p.ProjectSchema(input.Schema())
	if err != nil {
		return nil, err
	}
	return &ProjectionExec{names: names, indices: p.Indices(), schema: schema, input: input}, nil
}

func (e *ProjectionExec) Schema() *Schema           { return e.schema }
func (e *ProjectionExec) OutputPartitions() int     { return e.input.OutputPartitions() }
func (e *ProjectionExec) Children() []ExecutionPlan { return []ExecutionPlan{e.input} }

func (e *ProjectionExec) String() string {
	return fmt.Sprintf("ProjectionExec: %s\n\t%s", strings.Join(e.names, ", "), util.TabOut(e.input.String()))
}

func (e *ProjectionExec) Execute(ctx context.Context, partition int) (RecordBatchStream, error) {
	in, err := e.input.Execute(ctx, partition)
	if err != nil {
		return nil, err
	}
	return &projectionStream{schema: e.schema, indices: e.indices, input: in}, nil
}

type projectionStream struct {
	schema  *Schema
	indices []int
	input   RecordBatchStream
}

func (s *projectionStream) Schema() *Schema { return s.schema }
func (s *projectionStream) Close() error    { return s.input.Close() }

func (s *projectionStream) Next(ctx context.Context) (*RecordBatch, error) {
	b, err := s.input.Next(ctx)
	if err != nil {
		return nil, err
	}
	return b.Project(s.indices)
}

// Collect executes every partition of plan concurrently and returns the
// batches ordered by partition.
func Collect(ctx context.Context, plan ExecutionPlan) ([]*RecordBatch, error) {
	scanID := uuid.New()
	n := plan.OutputPartitions()
	level.Debug(log.Logger).Log("msg", "collecting plan", "scan_id", scanID, "partitions", n)

	results := make([][]*RecordBatch, n)
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < n; p++ {
		g.Go(func() error {
			stream, err := plan.Execute(gctx, p)
			if err != nil {
				return err
			}
			batches, err := DrainStream(gctx, stream)
			if err != nil {
				return err
			}
			results[p] = batches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		level.Debug(log.Logger).Log("msg", "plan failed", "scan_id", scanID, "err", err)
		return nil, err
	}

	var out []*RecordBatch
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// CollectLimit reads partitions one after the other until limit rows were
// produced. A limit of zero reads everything.
func CollectLimit(ctx context.Context, plan ExecutionPlan, limit int) ([]*RecordBatch, error) {
	if limit <= 0 {
		return Collect(ctx, plan)
	}

	var out []*RecordBatch

	rows := 0
	for p := 0; p < plan.OutputPartitions() && rows < limit; p++ {
		stream, err := plan.Execute(ctx, p)
		if err != nil {
			return nil, err
		}
		for rows < limit {
			b, nextErr := stream.Next(ctx)
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				return nil, multierr.Append(nextErr, stream.Close())
			}
			if rows+b.NumRows() > limit {
				if b, nextErr = headRows(b, limit-rows); nextErr != nil {
					return nil, multierr.Append(nextErr, stream.Close())
				}
			}
			rows += b.NumRows()
			out = append(out, b)
		}
		if err := stream.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Aggregate evaluates a single aggregate over arg for every row of plan.
// Each partition folds into its own accumulator concurrently; the partial
// states are then merged into a final accumulator.
func Aggregate(ctx context.Context, plan ExecutionPlan, agg AggregateUDF, arg PhysicalExpr) (Scalar, error) {
	schema := plan.Schema()
	bound, err := RebindColumns(arg, schema)
	if err != nil {
		return Scalar{}, WrapPlanningError(err, "binding argument of %s", agg.Name())
	}
	argField, err := bound.ReturnField(schema)
	if err != nil {
		return Scalar{}, err
	}
	argFields := []Field{argField}

	stateFields, err := agg.StateFields(argFields)
	if err != nil {
		return Scalar{}, err
	}

	scanID := uuid.New()
	n := plan.OutputPartitions()
	level.Debug(log.Logger).Log("msg", "aggregating plan", "scan_id", scanID, "aggregate", agg.Name(), "partitions", n)

	states := make([][]Scalar, n)
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < n; p++ {
		g.Go(func() error {
			acc, err := agg.Accumulator(argFields)
			if err != nil {
				return err
			}
			stream, err := plan.Execute(gctx, p)
			if err != nil {
				return err
			}
			defer stream.Close()

			for {
				b, err := stream.Next(gctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				v, err := bound.Evaluate(b)
				if err != nil {
					return err
				}
				arr, err := v.ToArray(b.NumRows())
				if err != nil {
					return err
				}
				if err := acc.UpdateBatch([]Array{arr}); err != nil {
					return err
				}
			}

			state, err := acc.State()
			if err != nil {
				return err
			}
			if len(state) != len(stateFields) {
				return fmt.Errorf("%s produced %d state values, expected %d", agg.Name(), len(state), len(stateFields))
			}
			states[p] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Scalar{}, err
	}

	stateArrays := make([]Array, len(stateFields))
	for i, f := range stateFields {
		b, err := NewBuilder(f.Type, n)
		if err != nil {
			return Scalar{}, err
		}
		for p := 0; p < n; p++ {
			if err := b.Append(states[p][i].Value); err != nil {
				return Scalar{}, err
			}
		}
		stateArrays[i] = b.Finish()
	}

	final, err := agg.Accumulator(argFields)
	if err != nil {
		return Scalar{}, err
	}
	if err := final.MergeBatch(stateArrays); err != nil {
		return Scalar{}, err
	}
	return final.Evaluate()
}
