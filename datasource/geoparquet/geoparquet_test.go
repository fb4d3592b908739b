package geoparquet

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
	"github.com/grafana/geoscan/datasource/parquet"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
	"github.com/grafana/geoscan/pkg/udf"
)

const testGeoMetadata = `{
	"version": "1.1.0",
	"primary_column": "geometry",
	"columns": {
		"geometry": {
			"encoding": "WKB",
			"geometry_types": ["Point"],
			"crs": {"name": "WGS 84", "id": {"authority": "EPSG", "code": 4326}},
			"bbox": [0, 0, 11, 11],
			"covering": {"bbox": {
				"xmin": ["bbox", "xmin"],
				"ymin": ["bbox", "ymin"],
				"xmax": ["bbox", "xmax"],
				"ymax": ["bbox", "ymax"]
			}}
		}
	}
}`

type bboxColumn struct {
	XMin float64 `parquet:"xmin"`
	YMin float64 `parquet:"ymin"`
	XMax float64 `parquet:"xmax"`
	YMax float64 `parquet:"ymax"`
}

type placeRow struct {
	Name     string     `parquet:"name"`
	Geometry []byte     `parquet:"geometry,optional"`
	BBox     bboxColumn `parquet:"bbox"`
}

func place(t *testing.T, name string, x, y float64) placeRow {
	t.Helper()
	b, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{x, y}), wkb.NDR)
	require.NoError(t, err)
	return placeRow{Name: name, Geometry: b, BBox: bboxColumn{XMin: x, YMin: y, XMax: x, YMax: y}}
}

func testRowGroups(t *testing.T) [][]placeRow {
	return [][]placeRow{
		{place(t, "a", 0, 0), place(t, "b", 1, 1), place(t, "c", 2, 2)},
		{place(t, "d", 10, 10), place(t, "e", 11, 11)},
	}
}

func newStore(t *testing.T) *local.Backend {
	t.Helper()
	store, err := local.NewBackend(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)
	return store
}

// writeFixture writes one row group per entry of groups, with geo as the
// geo metadata when it is not empty.
func writeFixture(t *testing.T, store *local.Backend, location, geoMetadata string, groups [][]placeRow) engine.ObjectMeta {
	t.Helper()

	var opts []pq.WriterOption
	if geoMetadata != "" {
		opts = append(opts, pq.KeyValueMetadata(MetadataKey, geoMetadata))
	}
	var buf bytes.Buffer
	w := pq.NewGenericWriter[placeRow](&buf, opts...)
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

func inferSchema(t *testing.T, store backend.RawReader, opts Options, metas ...engine.ObjectMeta) *engine.Schema {
	t.Helper()
	schema, err := NewFormat(opts).InferSchema(context.Background(), store, metas)
	require.NoError(t, err)
	return schema
}

func intersects(schema *engine.Schema, box geo.BoundingBox) engine.PhysicalExpr {
	return engine.NewScalarFunctionExpr(udf.NewIntersects(geo.EnvelopeRelater{}),
		engine.NewColumn("geometry", schema.IndexOf("geometry")),
		engine.NewLiteral(engine.NewScalar(engine.TypeGeometry, box.Polygon())),
	)
}

func names(t *testing.T, batches []*engine.RecordBatch) []string {
	t.Helper()
	var out []string
	for _, b := range batches {
		col, ok := b.ColumnByName("name")
		require.True(t, ok)
		out = append(out, col.(*engine.StringArray).Values()...)
	}
	return out
}

func TestInferSchemaAnnotatesGeometry(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "places.parquet", testGeoMetadata, testRowGroups(t))

	schema := inferSchema(t, store, Options{}, meta)
	require.Equal(t, 2, schema.NumFields())
	field, ok := schema.FieldByName("geometry")
	require.True(t, ok)
	assert.Equal(t, engine.TypeBinary, field.Type)
	assert.Equal(t, geoarrow.ExtensionWKB, field.ExtensionName())
	assert.Equal(t, "EPSG:4326", geoarrow.CRS(field))
	assert.True(t, field.Nullable)

	native := inferSchema(t, store, Options{ParseToNative: true}, meta)
	field, ok = native.FieldByName("geometry")
	require.True(t, ok)
	assert.Equal(t, engine.TypeGeometry, field.Type)
	assert.Equal(t, "EPSG:4326", geoarrow.CRS(field))
}

func TestInferSchemaIgnoresMalformedMetadata(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "places.parquet", `{"version": `, testRowGroups(t))

	field, ok := inferSchema(t, store, Options{}, meta).FieldByName("geometry")
	require.True(t, ok)
	assert.Equal(t, engine.TypeBinary, field.Type)
	assert.Empty(t, field.ExtensionName())
}

func TestTryPushdownFiltersRecordsHint(t *testing.T) {
	store := newStore(t)
	schema := inferSchema(t, store, Options{}, writeFixture(t, store, "places.parquet", testGeoMetadata, testRowGroups(t)))
	src := NewSource(schema, parquet.Options{})
	assert.Equal(t, engine.SourceKindColumnarDelegate, src.Kind())

	first, second := geo.MustBoundingBox(0, 0, 3, 3), geo.MustBoundingBox(5, 5, 6, 6)
	filters := []engine.PhysicalExpr{
		engine.NewLiteral(engine.NewScalar(engine.TypeBoolean, true)),
		intersects(schema, first),
		intersects(schema, second),
	}
	prop, err := src.TryPushdownFilters(filters, &engine.ConfigOptions{})
	require.NoError(t, err)
	assert.Equal(t, []engine.PushedDown{engine.PushedDownNo, engine.PushedDownNo, engine.PushedDownNo}, prop.Filters)
	require.NotNil(t, prop.UpdatedNode)

	updated := prop.UpdatedNode.(*Source)
	box, ok := updated.BBox()
	require.True(t, ok)
	assert.Equal(t, first, box)
	assert.NotNil(t, updated.Inner().Pruner())
	assert.Nil(t, updated.Filter())
	assert.Equal(t, src.Metrics(), updated.Metrics())

	_, ok = src.BBox()
	assert.False(t, ok)

	// a second negotiation keeps the first hint
	again, err := updated.TryPushdownFilters(filters[2:], &engine.ConfigOptions{})
	require.NoError(t, err)
	assert.Nil(t, again.UpdatedNode)
}

func TestTryPushdownProjectionKeepsWrapper(t *testing.T) {
	store := newStore(t)
	schema := inferSchema(t, store, Options{}, writeFixture(t, store, "places.parquet", testGeoMetadata, testRowGroups(t)))

	src := NewSource(schema, parquet.Options{})
	p1, err := engine.ProjectionFromNames([]string{"geometry"}, schema)
	require.NoError(t, err)
	p2, err := engine.ProjectionFromNames([]string{"name", "geometry"}, schema)
	require.NoError(t, err)

	step, err := src.TryPushdownProjection(p1)
	require.NoError(t, err)
	step, err = step.TryPushdownProjection(p2)
	require.NoError(t, err)

	require.IsType(t, &Source{}, step)
	assert.Equal(t, engine.SourceKindColumnarDelegate, step.Kind())
	assert.Equal(t, []int{1, 0}, step.Projection().Indices())

	sized := step.WithBatchSize(7)
	require.IsType(t, &Source{}, sized)
	assert.Equal(t, 7, sized.(*Source).Inner().BatchSize())
	assert.Equal(t, []int{1, 0}, sized.Projection().Indices())
}

func TestScanPrunesRowGroupsWithCovering(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "places.parquet", testGeoMetadata, testRowGroups(t))
	schema := inferSchema(t, store, Options{}, meta)

	src := NewSource(schema, parquet.Options{})
	plan, err := engine.NewPlanner(engine.ConfigOptions{}).PlanScan(engine.ScanRequest{
		Store:      store,
		Source:     src,
		Files:      []engine.ObjectMeta{meta},
		Filters:    []engine.PhysicalExpr{intersects(schema, geo.MustBoundingBox(-1, -1, 1.5, 1.5))},
		Projection: []string{"name"},
	})
	require.NoError(t, err)

	batches, err := engine.Collect(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(t, batches))

	metrics := src.Metrics()
	assert.Equal(t, int64(1), metrics.Sum(engine.MetricRowGroupsPruned))
	assert.Equal(t, int64(1), metrics.Sum(engine.MetricRowGroupsMatched))
	// the kept row group still holds c, removed above the scan
	assert.Equal(t, int64(3), metrics.Sum(engine.MetricOutputRows))
}

func TestScanPrunesDisjointFiles(t *testing.T) {
	store := newStore(t)
	meta := writeFixture(t, store, "places.parquet", testGeoMetadata, testRowGroups(t))
	schema := inferSchema(t, store, Options{}, meta)

	src := NewSource(schema, parquet.Options{})
	plan, err := engine.NewPlanner(engine.ConfigOptions{}).PlanScan(engine.ScanRequest{
		Store:   store,
		Source:  src,
		Files:   []engine.ObjectMeta{meta},
		Filters: []engine.PhysicalExpr{intersects(schema, geo.MustBoundingBox(100, 100, 101, 101))},
	})
	require.NoError(t, err)

	batches, err := engine.Collect(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, names(t, batches))
	assert.Equal(t, int64(1), src.Metrics().Sum(engine.MetricFilesPruned))
	assert.Zero(t, src.Metrics().Sum(engine.MetricRowGroupsMatched))
}

func TestScanWithoutCoveringKeepsRowGroups(t *testing.T) {
	store := newStore(t)
	md := `{"version": "1.0.0", "primary_column": "geometry", "columns": {"geometry": {"encoding": "WKB", "geometry_types": []}}}`
	meta := writeFixture(t, store, "places.parquet", md, testRowGroups(t))
	schema := inferSchema(t, store, Options{ParseToNative: true}, meta)

	src := NewSource(schema, parquet.Options{})
	plan, err := engine.NewPlanner(engine.ConfigOptions{}).PlanScan(engine.ScanRequest{
		Store:   store,
		Source:  src,
		Files:   []engine.ObjectMeta{meta},
		Filters: []engine.PhysicalExpr{intersects(schema, geo.MustBoundingBox(9, 9, 12, 12))},
	})
	require.NoError(t, err)

	batches, err := engine.Collect(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, names(t, batches))
	assert.Equal(t, int64(2), src.Metrics().Sum(engine.MetricRowGroupsMatched))
	assert.Zero(t, src.Metrics().Sum(engine.MetricRowGroupsPruned))
}

func TestRepartitionedKeepsSource(t *testing.T) {
	src := NewSource(engine.EmptySchema, parquet.Options{})
	cfg := &engine.FileScanConfig{
		Source:     src,
		FileGroups: []engine.FileGroup{{engine.NewPartitionedFile("a.parquet", 100), engine.NewPartitionedFile("b.parquet", 100)}},
	}
	out, err := src.Repartitioned(4, 10, cfg)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Same(t, src, out.Source)
	assert.Len(t, out.FileGroups, 4)

	cfg.Compressed = true
	out, err = src.Repartitioned(4, 10, cfg)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCreateWriterNotImplemented(t *testing.T) {
	_, err := NewFormat(Options{}).CreateWriter(context.Background(), newStore(t), "x.parquet", engine.EmptySchema)
	assert.ErrorIs(t, err, engine.ErrNotImplemented)
}
