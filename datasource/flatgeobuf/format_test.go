package flatgeobuf

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/flatgeobuf"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
	"github.com/grafana/geoscan/pkg/udf"
)

func TestInferSchemaFromHeader(t *testing.T) {
	store := newStore(t)
	a := writeFixture(t, store, "a.fgb", []geom.T{square(0, 0, 1, 1)}, [][]any{{"a", nil, nil}})
	b := writeFixture(t, store, "b.fgb", []geom.T{square(2, 2, 3, 3)}, [][]any{{"b", nil, nil}})

	schema, err := NewFormat(Options{}).InferSchema(context.Background(), store, []engine.ObjectMeta{a, {Location: b.Location}})
	require.NoError(t, err)

	want := testSchema()
	if diff := cmp.Diff(want.Fields(), schema.Fields()); diff != "" {
		t.Errorf("unexpected schema (-want +got):\n%s", diff)
	}
	gt, ok := schema.Metadata(MetadataGeometryType)
	require.True(t, ok)
	assert.Equal(t, "Polygon", gt)
}

func TestInferSchemaRejectsMismatch(t *testing.T) {
	store := newStore(t)
	a := writeFixture(t, store, "a.fgb", []geom.T{square(0, 0, 1, 1)}, [][]any{{"a", nil, nil}})

	w, err := NewFormat(Options{}).CreateWriter(context.Background(), store, "other.fgb", engine.NewSchema([]engine.Field{
		engine.NewField("id", engine.TypeInt64, false),
		geoarrow.GeometryField(GeometryColumn, true, ""),
	}, nil))
	require.NoError(t, err)
	require.NoError(t, w.Close(context.Background()))

	_, err = NewFormat(Options{}).InferSchema(context.Background(), store, []engine.ObjectMeta{a, {Location: "other.fgb"}})
	assert.Error(t, err)

	_, err = NewFormat(Options{}).InferSchema(context.Background(), store, nil)
	assert.Error(t, err)
}

func TestSchemaFromHeaderCRS(t *testing.T) {
	schema, err := SchemaFromHeader(&flatgeobuf.Header{
		Columns: testColumns,
		CRS:     &flatgeobuf.CRS{Org: "EPSG", Code: 3857},
	})
	require.NoError(t, err)
	f, ok := schema.FieldByName(GeometryColumn)
	require.True(t, ok)
	assert.Equal(t, "EPSG:3857", geoarrow.CRS(f))
	assert.Equal(t, GeometryColumn, schema.Field(schema.NumFields()-1).Name)
}

func TestWriterRoundTrip(t *testing.T) {
	store := newStore(t)
	schema := engine.NewSchema([]engine.Field{
		engine.NewField("name", engine.TypeUtf8, true),
		engine.NewField("population", engine.TypeInt64, true),
		geoarrow.WKBField("geom", true, "EPSG:4326"),
	}, nil)

	near, err := geoarrow.ToWKB(engine.NewGeometryArray([]geom.T{square(1, 1, 2, 2), square(20, 20, 21, 21), nil}, nil))
	require.NoError(t, err)
	batch, err := engine.NewRecordBatch(schema, []engine.Array{
		engine.NewStringArray([]string{"near", "far", "none"}, nil),
		engine.NewInt64Array([]int64{1, 0, 3}, []bool{true, false, true}),
		near,
	})
	require.NoError(t, err)

	format := NewFormat(Options{})
	w, err := format.CreateWriter(context.Background(), store, "out/places.fgb", schema)
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), batch))
	require.NoError(t, w.Close(context.Background()))

	inferred, err := format.InferSchema(context.Background(), store, []engine.ObjectMeta{{Location: "out/places.fgb"}})
	require.NoError(t, err)
	require.Equal(t, 3, inferred.NumFields())
	assert.Equal(t, "EPSG:4326", geoarrow.CRS(inferred.Field(2)))

	src := format.FileSource(inferred)
	prop, err := src.TryPushdownFilters([]engine.PhysicalExpr{
		engine.NewScalarFunctionExpr(udf.NewIntersects(geo.EnvelopeRelater{}), engine.NewColumn(GeometryColumn, 2),
			engine.NewLiteral(engine.NewScalar(engine.TypeGeometry, geo.MustBoundingBox(0, 0, 10, 10).Polygon()))),
	}, &engine.ConfigOptions{})
	require.NoError(t, err)
	require.NotNil(t, prop.UpdatedNode)

	opener, err := prop.UpdatedNode.CreateFileOpener(store, nil, 0)
	require.NoError(t, err)
	stream, err := opener.Open(context.Background(), engine.PartitionedFile{ObjectMeta: engine.ObjectMeta{Location: "out/places.fgb"}})
	require.NoError(t, err)
	batches, err := engine.DrainStream(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, names(t, batches))

	pop, ok := batches[0].Column(1).(*engine.Int64Array).At(0)
	require.True(t, ok)
	assert.Equal(t, int64(1), pop)
}

func TestCreateWriterRequiresOneGeometry(t *testing.T) {
	store := newStore(t)
	format := NewFormat(Options{})

	_, err := format.CreateWriter(context.Background(), store, "x.fgb", engine.NewSchema([]engine.Field{
		engine.NewField("id", engine.TypeInt64, false),
	}, nil))
	assert.Error(t, err)

	_, err = format.CreateWriter(context.Background(), store, "x.fgb", engine.NewSchema([]engine.Field{
		geoarrow.GeometryField("a", true, ""),
		geoarrow.GeometryField("b", true, ""),
	}, nil))
	assert.Error(t, err)
}

func TestParseCRS(t *testing.T) {
	assert.Nil(t, parseCRS(""))
	assert.Equal(t, &flatgeobuf.CRS{Org: "EPSG", Code: 4326}, parseCRS("EPSG:4326"))
	assert.Equal(t, &flatgeobuf.CRS{Org: "OGC", CodeString: "CRS84"}, parseCRS("OGC:CRS84"))
	wkt := `GEOGCS["WGS 84",DATUM["WGS_1984"]]`
	assert.Equal(t, &flatgeobuf.CRS{WKT: wkt}, parseCRS(wkt))
}
