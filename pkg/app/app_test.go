package app

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/datasource/flatgeobuf"
	"github.com/grafana/geoscan/datasource/geoparquet"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Storage.Local.Path = t.TempDir()
	cfg.Scan.TargetPartitions = 1

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return a
}

// writePlaces writes one point feature per name at (i, i).
func writePlaces(t *testing.T, a *App, location string, names ...string) {
	t.Helper()
	schema := engine.NewSchema([]engine.Field{
		engine.NewField("name", engine.TypeUtf8, true),
		geoarrow.GeometryField(flatgeobuf.GeometryColumn, true, "EPSG:4326"),
	}, nil)

	geoms := make([]geom.T, len(names))
	for i := range names {
		geoms[i] = geom.NewPointFlat(geom.XY, []float64{float64(i), float64(i)})
	}
	batch, err := engine.NewRecordBatch(schema, []engine.Array{
		engine.NewStringArray(names, nil),
		engine.NewGeometryArray(geoms, nil),
	})
	require.NoError(t, err)

	format, err := a.Formats().Get(flatgeobuf.FileType)
	require.NoError(t, err)
	w, err := format.CreateWriter(context.Background(), a.writer, location, schema)
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), batch))
	require.NoError(t, w.Close(context.Background()))
}

func names(t *testing.T, plan engine.ExecutionPlan) []string {
	t.Helper()
	batches, err := engine.Collect(context.Background(), plan)
	require.NoError(t, err)

	var out []string
	for _, b := range batches {
		col, ok := b.ColumnByName("name")
		require.True(t, ok)
		strs := col.(*engine.StringArray)
		for i := 0; i < strs.Len(); i++ {
			v, _ := strs.At(i)
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func TestScanWithBBox(t *testing.T) {
	a := newTestApp(t)
	writePlaces(t, a, "places/a.fgb", "a0", "a1", "a2", "a3")
	ctx := context.Background()

	table, err := a.OpenTable(ctx, "", "places/a.fgb")
	require.NoError(t, err)
	assert.Equal(t, flatgeobuf.FileType, table.Format.FileType())
	assert.Positive(t, table.TotalSize())

	plan, err := a.Scan(table, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1", "a2", "a3"}, names(t, plan))

	box := geo.MustBoundingBox(0.5, 0.5, 2, 2)
	plan, err = a.Scan(table, ScanOptions{BBox: &box, Columns: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, names(t, plan))
	assert.Equal(t, 1, plan.Schema().NumFields())

	metrics, ok := ScanMetrics(plan)
	require.True(t, ok)
	assert.Equal(t, int64(2), metrics.Sum(engine.MetricFeaturesSelected))
}

func TestScanLimit(t *testing.T) {
	a := newTestApp(t)
	writePlaces(t, a, "a.fgb", "a0", "a1", "a2", "a3")

	table, err := a.OpenTable(context.Background(), flatgeobuf.FileType, "a.fgb")
	require.NoError(t, err)
	plan, err := a.Scan(table, ScanOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, names(t, plan), 2)
}

func TestOpenTableListsDirectory(t *testing.T) {
	a := newTestApp(t)
	writePlaces(t, a, "dir/a.fgb", "a0", "a1")
	writePlaces(t, a, "dir/b.fgb", "b0")
	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.Storage.Local.Path, "dir", "notes.txt"), []byte("x"), 0o644))
	ctx := context.Background()

	table, err := a.OpenTable(ctx, "", "dir/")
	require.NoError(t, err)
	require.Len(t, table.Files, 2)
	assert.Equal(t, "dir/a.fgb", table.Files[0].Location)

	plan, err := a.Scan(table, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1", "b0"}, names(t, plan))

	_, err = a.OpenTable(ctx, "", "empty/")
	assert.Error(t, err)
	_, err = a.OpenTable(ctx, "", "missing.fgb")
	assert.Error(t, err)
	_, err = a.OpenTable(ctx, "", "dir/notes.txt")
	assert.Error(t, err)
	_, err = a.OpenTable(ctx, "")
	assert.Error(t, err)
}

func TestExtent(t *testing.T) {
	a := newTestApp(t)
	writePlaces(t, a, "a.fgb", "a0", "a1", "a2", "a3")
	ctx := context.Background()

	table, err := a.OpenTable(ctx, "", "a.fgb")
	require.NoError(t, err)

	box, ok, err := a.Extent(ctx, table, ScanOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geo.MustBoundingBox(0, 0, 3, 3), box)

	within := geo.MustBoundingBox(0.5, 0.5, 2.5, 2.5)
	box, ok, err = a.Extent(ctx, table, ScanOptions{BBox: &within})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geo.MustBoundingBox(1, 1, 2, 2), box)

	far := geo.MustBoundingBox(50, 50, 60, 60)
	_, ok, err = a.Extent(ctx, table, ScanOptions{BBox: &far})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = a.Extent(ctx, table, ScanOptions{GeometryColumn: "name"})
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	a := newTestApp(t)
	writePlaces(t, a, "a.fgb", "a0", "a1", "a2")
	ctx := context.Background()

	table, err := a.OpenTable(ctx, "", "a.fgb")
	require.NoError(t, err)
	box := geo.MustBoundingBox(1, 1, 5, 5)
	plan, err := a.Scan(table, ScanOptions{BBox: &box})
	require.NoError(t, err)

	format, err := a.Formats().ForLocation("out/b.fgb")
	require.NoError(t, err)
	rows, err := a.Convert(ctx, plan, format, "out/b.fgb")
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	converted, err := a.OpenTable(ctx, "", "out/b.fgb")
	require.NoError(t, err)
	plan, err = a.Scan(converted, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, names(t, plan))

	gp, err := a.Formats().Get(geoparquet.FileType)
	require.NoError(t, err)
	_, err = a.Convert(ctx, plan, gp, "out/c.parquet")
	assert.ErrorIs(t, err, engine.ErrNotImplemented)
}

func TestGeometryColumn(t *testing.T) {
	schema := engine.NewSchema([]engine.Field{
		engine.NewField("name", engine.TypeUtf8, true),
		geoarrow.WKBField("wkb", true, ""),
		geoarrow.GeometryField("geom", true, ""),
	}, nil)

	col, err := GeometryColumn(schema, "")
	require.NoError(t, err)
	assert.Equal(t, engine.NewColumn("wkb", 1), col)

	col, err = GeometryColumn(schema, "geom")
	require.NoError(t, err)
	assert.Equal(t, 2, col.Index)

	_, err = GeometryColumn(schema, "name")
	assert.Error(t, err)
	_, err = GeometryColumn(schema, "missing")
	assert.Error(t, err)
	_, err = GeometryColumn(engine.NewSchema([]engine.Field{engine.NewField("name", engine.TypeUtf8, true)}, nil), "")
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Storage.Backend = "ftp"
	_, err := New(cfg)
	assert.Error(t, err)
}
