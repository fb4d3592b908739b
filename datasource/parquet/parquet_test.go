package parquet

import (
	"bytes"
	"context"
	"testing"

	pq "github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/backend/local"
	"github.com/grafana/geoscan/pkg/engine"
)

type cityRow struct {
	Name       string `parquet:"name"`
	Population *int64 `parquet:"population,optional"`
	Geometry   []byte `parquet:"geometry"`
}

func point(t *testing.T, x, y float64) []byte {
	t.Helper()
	b, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{x, y}), wkb.NDR)
	require.NoError(t, err)
	return b
}

func pop(n int64) *int64 { return &n }

func testRowGroups(t *testing.T) [][]cityRow {
	return [][]cityRow{
		{
			{Name: "a", Population: pop(1), Geometry: point(t, 0, 0)},
			{Name: "b", Geometry: point(t, 1, 1)},
			{Name: "c", Population: pop(3), Geometry: point(t, 2, 2)},
		},
		{
			{Name: "d", Geometry: point(t, 10, 10)},
			{Name: "e", Population: pop(5), Geometry: point(t, 11, 11)},
		},
	}
}

func newStore(t *testing.T) *local.Backend {
	t.Helper()
	store, err := local.NewBackend(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)
	return store
}

// writeFixture writes one row group per entry of groups.
func writeFixture(t *testing.T, store *local.Backend, location string, groups [][]cityRow) engine.ObjectMeta {
	t.Helper()

	var buf bytes.Buffer
	w := pq.NewGenericWriter[cityRow](&buf, pq.KeyValueMetadata("origin", "test"))
	for _, g := range groups {
		_, err := w.Write(g)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Close())

	keypath, name := backend.SplitLocation(location)
	require.NoError(t, store.Write(context.Background(), name, keypath, bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	return engine.ObjectMeta{Location: location, Size: int64(buf.Len())}
}

func collectNames(t *testing.T, batches []*engine.RecordBatch) []string {
	t.Helper()
	var out []string
	for _, b := range batches {
		col, ok := b.ColumnByName("name")
		require.True(t, ok)
		out = append(out, col.(*engine.StringArray).Values()...)
	}
	return out
}

func scan(t *testing.T, store backend.RawReader, src engine.FileSource, file engine.PartitionedFile) []*engine.RecordBatch {
	t.Helper()
	opener, err := src.CreateFileOpener(store, nil, 0)
	require.NoError(t, err)
	stream, err := opener.Open(context.Background(), file)
	require.NoError(t, err)
	batches, err := engine.DrainStream(context.Background(), stream)
	require.NoError(t, err)
	return batches
}

func TestInferSchema(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "c/cities.parquet", testRowGroups(t))

	schema, err := NewFormat(Options{}).InferSchema(context.Background(), store, []engine.ObjectMeta{meta})
	require.NoError(t, err)

	name, ok := schema.FieldByName("name")
	require.True(t, ok)
	assert.Equal(t, engine.TypeUtf8, name.Type)
	assert.False(t, name.Nullable)

	population, ok := schema.FieldByName("population")
	require.True(t, ok)
	assert.Equal(t, engine.TypeInt64, population.Type)
	assert.True(t, population.Nullable)

	geometry, ok := schema.FieldByName("geometry")
	require.True(t, ok)
	assert.Equal(t, engine.TypeBinary, geometry.Type)

	origin, ok := schema.Metadata("origin")
	require.True(t, ok)
	assert.Equal(t, "test", origin)
}

func TestScanProjectedColumns(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "cities.parquet", testRowGroups(t))
	format := NewFormat(Options{})
	schema, err := format.InferSchema(context.Background(), store, []engine.ObjectMeta{meta})
	require.NoError(t, err)

	p, err := engine.ProjectionFromNames([]string{"population", "name"}, schema)
	require.NoError(t, err)
	src, err := NewSource(schema, Options{}).WithProjection(p)
	require.NoError(t, err)

	batches := scan(t, store, src, engine.PartitionedFile{ObjectMeta: meta})
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collectNames(t, batches))

	b := batches[0]
	require.Equal(t, 2, b.NumColumns())
	assert.Equal(t, "population", b.Schema().Field(0).Name)
	pops := b.Column(0).(*engine.Int64Array)
	assert.Equal(t, 1, pops.NullCount())
	v, ok := pops.At(2)
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	metrics := src.Metrics()
	assert.Equal(t, int64(5), metrics.Sum(engine.MetricOutputRows))
	assert.Equal(t, int64(2), metrics.Sum(engine.MetricRowGroupsMatched))
	assert.Positive(t, metrics.Sum(engine.MetricBytesScanned))
}

func TestScanBatchSize(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "cities.parquet", testRowGroups(t))
	schema, err := NewFormat(Options{}).InferSchema(context.Background(), store, []engine.ObjectMeta{meta})
	require.NoError(t, err)

	batches := scan(t, store, NewSource(schema, Options{}).WithBatchRows(2), engine.PartitionedFile{ObjectMeta: meta})
	var sizes []int
	for _, b := range batches {
		sizes = append(sizes, b.NumRows())
	}
	assert.Equal(t, []int{2, 1, 2}, sizes)
}

func TestScanDecodesGeometry(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "cities.parquet", testRowGroups(t))

	schema := engine.NewSchema([]engine.Field{
		engine.NewField("name", engine.TypeUtf8, false),
		engine.NewField("geometry", engine.TypeGeometry, true),
		engine.NewField("missing", engine.TypeFloat64, true),
	}, nil)
	batches := scan(t, store, NewSource(schema, Options{}), engine.PartitionedFile{ObjectMeta: meta})
	require.NotEmpty(t, batches)

	geoms := batches[0].Column(1).(*engine.GeometryArray)
	g, ok := geoms.At(1)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1}, g.FlatCoords())

	missing := batches[0].Column(2)
	assert.Equal(t, missing.Len(), missing.NullCount())
}

func TestScanRejectsIncompatibleColumns(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "cities.parquet", testRowGroups(t))

	for _, schema := range []*engine.Schema{
		engine.NewSchema([]engine.Field{engine.NewField("name", engine.TypeInt64, false)}, nil),
		engine.NewSchema([]engine.Field{engine.NewField("missing", engine.TypeInt64, false)}, nil),
	} {
		opener, err := NewSource(schema, Options{}).CreateFileOpener(store, nil, 0)
		require.NoError(t, err)
		_, err = opener.Open(context.Background(), engine.PartitionedFile{ObjectMeta: meta})
		assert.Error(t, err)
	}
}

func TestScanMissingObject(t *testing.T) {
	store := newStore(t)
	schema := engine.NewSchema([]engine.Field{engine.NewField("name", engine.TypeUtf8, false)}, nil)
	opener, err := NewSource(schema, Options{}).CreateFileOpener(store, nil, 0)
	require.NoError(t, err)

	_, err = opener.Open(context.Background(), engine.NewPartitionedFile("nope.parquet", 0))
	assert.ErrorIs(t, err, backend.ErrDoesNotExist)
	assert.Contains(t, err.Error(), "nope.parquet")
}

type testPruner struct {
	keepFile     bool
	skipRowCount int64
}

func (p testPruner) String() string         { return "test" }
func (p testPruner) KeepFile(*pq.File) bool { return p.keepFile }
func (p testPruner) KeepRowGroup(_ *pq.File, rg pq.RowGroup) bool {
	return rg.NumRows() != p.skipRowCount
}

func TestPrunerSkipsData(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "cities.parquet", testRowGroups(t))
	schema, err := NewFormat(Options{}).InferSchema(context.Background(), store, []engine.ObjectMeta{meta})
	require.NoError(t, err)

	src := NewSource(schema, Options{}).WithPruner(testPruner{keepFile: true, skipRowCount: 3})
	assert.Equal(t, []string{"d", "e"}, collectNames(t, scan(t, store, src, engine.PartitionedFile{ObjectMeta: meta})))
	assert.Equal(t, int64(1), src.Metrics().Sum(engine.MetricRowGroupsPruned))
	assert.Equal(t, int64(1), src.Metrics().Sum(engine.MetricRowGroupsMatched))

	src = NewSource(schema, Options{}).WithPruner(testPruner{keepFile: false})
	assert.Empty(t, scan(t, store, src, engine.PartitionedFile{ObjectMeta: meta}))
	assert.Equal(t, int64(1), src.Metrics().Sum(engine.MetricFilesPruned))
}

func TestRepartitionedRangesReadEveryRowOnce(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "cities.parquet", testRowGroups(t))
	schema, err := NewFormat(Options{}).InferSchema(context.Background(), store, []engine.ObjectMeta{meta})
	require.NoError(t, err)

	for _, target := range []int{2, 3, 8} {
		plan, err := engine.NewPlanner(engine.ConfigOptions{TargetPartitions: target, RepartitionFileMinSize: 1}).PlanScan(engine.ScanRequest{
			Store:  store,
			Source: NewSource(schema, Options{}),
			Files:  []engine.ObjectMeta{meta},
		})
		require.NoError(t, err)
		assert.Greater(t, plan.OutputPartitions(), 1)

		batches, err := engine.Collect(context.Background(), plan)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, collectNames(t, batches), "target=%d", target)
	}
}

func TestRepartitionedSkipsCompressed(t *testing.T) {
	src := NewSource(engine.EmptySchema, Options{})
	cfg := &engine.FileScanConfig{
		Source:     src,
		FileGroups: []engine.FileGroup{{engine.NewPartitionedFile("a.parquet", 1000)}},
		Compressed: true,
	}
	out, err := src.Repartitioned(4, 1, cfg)
	require.NoError(t, err)
	assert.Nil(t, out)

	cfg.Compressed = false
	out, err = src.Repartitioned(4, 1, cfg)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.FileGroups, 4)
}

func TestCreateWriterNotImplemented(t *testing.T) {
	_, err := NewFormat(Options{}).CreateWriter(context.Background(), newStore(t), "x.parquet", engine.EmptySchema)
	assert.ErrorIs(t, err, engine.ErrNotImplemented)
}
