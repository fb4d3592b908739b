package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/geoscan/backend"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memSource serves a fixed set of batches per file location.
type memSource struct {
	schema     *Schema
	files      map[string][]*RecordBatch
	projection *ProjectionExprs
	metrics    *ExecutionPlanMetricsSet
	failOn     string
}

var _ FileSource = (*memSource)(nil)

func (s memSource) String() string                    { return "mem" }
func (s memSource) Kind() SourceKind                  { return SourceKindNativeIndex }
func (s memSource) FileType() string                  { return "mem" }
func (s memSource) TableSchema() *Schema              { return s.schema }
func (s memSource) WithBatchSize(int) FileSource      { return &s }
func (s memSource) Metrics() *ExecutionPlanMetricsSet { return s.metrics }
func (s memSource) Filter() PhysicalExpr              { return nil }
func (s memSource) SupportsRepartitioning() bool      { return true }

func (s memSource) Projection() *ProjectionExprs {
	if s.projection == nil {
		return AllColumns(s.schema)
	}
	return s.projection
}

func (s memSource) TryPushdownFilters(filters []PhysicalExpr, _ *ConfigOptions) (FilterPushdownPropagation, error) {
	return NoPushdown(filters), nil
}

func (s memSource) TryPushdownProjection(p *ProjectionExprs) (FileSource, error) {
	merged, err := s.projection.TryMerge(p)
	if err != nil {
		return nil, err
	}
	s.projection = merged
	return &s, nil
}

func (s memSource) Repartitioned(target int, _ int64, cfg *FileScanConfig) (*FileScanConfig, error) {
	groups, ok := RepartitionWholeFiles(cfg.FileGroups, target)
	if !ok {
		return nil, nil
	}
	out := *cfg
	out.FileGroups = groups
	return &out, nil
}

func (s memSource) CreateFileOpener(_ backend.RawReader, _ *FileScanConfig, partition int) (FileOpener, error) {
	return memOpener{src: s, metrics: NewScanMetrics(s.metrics, "mem", partition)}, nil
}

type memOpener struct {
	src     memSource
	metrics *ScanMetrics
}

func (o memOpener) Open(_ context.Context, f PartitionedFile) (RecordBatchStream, error) {
	if f.Location == o.src.failOn {
		return nil, errors.New("boom")
	}
	indices := o.src.Projection().Indices()
	schema, err := o.src.schema.Project(indices)
	if err != nil {
		return nil, err
	}
	o.metrics.FileOpened()
	var out []*RecordBatch
	for _, b := range o.src.files[f.Location] {
		p, err := b.Project(indices)
		if err != nil {
			return nil, err
		}
		o.metrics.BatchProduced(p.NumRows())
		out = append(out, p)
	}
	return NewMemoryStream(schema, out...), nil
}

func memFixture(t *testing.T, numFiles, rowsPerFile int) (memSource, []ObjectMeta) {
	schema := NewSchema([]Field{
		NewField("id", TypeInt64, false),
		NewField("score", TypeFloat64, true),
	}, nil)

	src := memSource{schema: schema, files: map[string][]*RecordBatch{}, metrics: NewExecutionPlanMetricsSet()}
	var objects []ObjectMeta
	id := int64(0)
	for f := 0; f < numFiles; f++ {
		ids := make([]int64, rowsPerFile)
		scores := make([]float64, rowsPerFile)
		for i := range ids {
			ids[i] = id
			scores[i] = float64(id) - float64(numFiles*rowsPerFile)/2
			id++
		}
		b, err := NewRecordBatch(schema, []Array{NewInt64Array(ids, nil), NewFloat64Array(scores, nil)})
		require.NoError(t, err)

		loc := fmt.Sprintf("file-%d", f)
		src.files[loc] = []*RecordBatch{b}
		objects = append(objects, ObjectMeta{Location: loc, Size: int64(rowsPerFile)})
	}
	return src, objects
}

func totalRows(batches []*RecordBatch) int {
	n := 0
	for _, b := range batches {
		n += b.NumRows()
	}
	return n
}

func TestPlanScanCollect(t *testing.T) {
	src, objects := memFixture(t, 4, 10)

	plan, err := NewPlanner(ConfigOptions{TargetPartitions: 3}).PlanScan(ScanRequest{
		Source: src,
		Files:  objects,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, plan.OutputPartitions())

	batches, err := Collect(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 40, totalRows(batches))
	assert.Equal(t, int64(40), src.metrics.Sum(MetricOutputRows))
	assert.Equal(t, int64(4), src.metrics.Sum(MetricFilesOpened))
}

func TestPlanScanFilterAndProjection(t *testing.T) {
	src, objects := memFixture(t, 2, 10)

	plan, err := NewPlanner(ConfigOptions{}).PlanScan(ScanRequest{
		Source:     src,
		Files:      objects,
		Filters:    []PhysicalExpr{NewScalarFunctionExpr(isPositive{}, NewColumn("score", 0))},
		Projection: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, fieldNames(plan.Schema()))

	batches, err := Collect(context.Background(), plan)
	require.NoError(t, err)

	// scores run from -10 to 9, nine of them are positive
	assert.Equal(t, 9, totalRows(batches))
	for _, b := range batches {
		require.Equal(t, 1, b.NumColumns())
	}
}

func TestCollectLimit(t *testing.T) {
	src, objects := memFixture(t, 3, 10)

	plan, err := NewPlanner(ConfigOptions{TargetPartitions: 3}).PlanScan(ScanRequest{Source: src, Files: objects})
	require.NoError(t, err)

	batches, err := CollectLimit(context.Background(), plan, 15)
	require.NoError(t, err)
	assert.Equal(t, 15, totalRows(batches))
}

func TestCollectPropagatesOpenErrors(t *testing.T) {
	src, objects := memFixture(t, 3, 10)
	src.failOn = "file-1"

	plan, err := NewPlanner(ConfigOptions{TargetPartitions: 2}).PlanScan(ScanRequest{Source: src, Files: objects})
	require.NoError(t, err)

	_, err = Collect(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file-1")
}

// sumAgg sums a float column, with the running sum and a row count as state.
type sumAgg struct{}

func (sumAgg) Name() string { return "test_sum" }
func (sumAgg) ReturnField([]Field) (Field, error) {
	return NewField("test_sum", TypeFloat64, true), nil
}
func (sumAgg) StateFields([]Field) ([]Field, error) {
	return []Field{NewField("sum", TypeFloat64, false), NewField("count", TypeInt64, false)}, nil
}
func (sumAgg) Accumulator([]Field) (Accumulator, error) { return &sumAcc{}, nil }

type sumAcc struct {
	sum   float64
	count int64
}

func (a *sumAcc) UpdateBatch(values []Array) error {
	for _, v := range values[0].(*Float64Array).Values() {
		a.sum += v
		a.count++
	}
	return nil
}

func (a *sumAcc) MergeBatch(states []Array) error {
	sums := states[0].(*Float64Array).Values()
	counts := states[1].(*Int64Array).Values()
	for i := range sums {
		a.sum += sums[i]
		a.count += counts[i]
	}
	return nil
}

func (a *sumAcc) State() ([]Scalar, error) {
	return []Scalar{NewScalar(TypeFloat64, a.sum), NewScalar(TypeInt64, a.count)}, nil
}

func (a *sumAcc) Evaluate() (Scalar, error) {
	if a.count == 0 {
		return NullScalar(TypeFloat64), nil
	}
	return NewScalar(TypeFloat64, a.sum), nil
}

func TestAggregateMergesPartitions(t *testing.T) {
	src, objects := memFixture(t, 5, 4)

	for _, partitions := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("partitions=%d", partitions), func(t *testing.T) {
			plan, err := NewPlanner(ConfigOptions{TargetPartitions: partitions}).PlanScan(ScanRequest{Source: src, Files: objects})
			require.NoError(t, err)

			v, err := Aggregate(context.Background(), plan, sumAgg{}, NewColumn("score", 0))
			require.NoError(t, err)
			// scores run from -10 to 9
			assert.Equal(t, -10.0, v.Value)
		})
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	src, _ := memFixture(t, 0, 0)

	plan, err := NewPlanner(ConfigOptions{}).PlanScan(ScanRequest{Source: src})
	require.NoError(t, err)

	v, err := Aggregate(context.Background(), plan, sumAgg{}, NewColumn("score", 0))
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestMetricsSetSharedAcrossSnapshots(t *testing.T) {
	src, _ := memFixture(t, 1, 1)
	projected, err := src.TryPushdownProjection(AllColumns(src.schema))
	require.NoError(t, err)

	projected.Metrics().Counter(MetricOutputRows, 0).Add(3)
	assert.Equal(t, int64(3), src.Metrics().Sum(MetricOutputRows))
	assert.Equal(t, "output_rows=3", src.Metrics().String())
}
