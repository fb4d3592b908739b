package udf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
)

func registry() *engine.Registry {
	r := engine.NewRegistry()
	Register(r, Options{})
	return r
}

func lit(t engine.DataType, v any) engine.PhysicalExpr {
	return engine.NewLiteral(engine.NewScalar(t, v))
}

func num(v float64) engine.PhysicalExpr { return lit(engine.TypeFloat64, v) }

// eval evaluates the named function against batch and materializes the
// result.
func eval(t *testing.T, batch *engine.RecordBatch, name string, args ...engine.PhysicalExpr) engine.Array {
	t.Helper()
	e, err := registry().Call(name, args...)
	require.NoError(t, err)
	_, err = e.ReturnField(batch.Schema())
	require.NoError(t, err)
	v, err := e.Evaluate(batch)
	require.NoError(t, err)
	arr, err := v.ToArray(batch.NumRows())
	require.NoError(t, err)
	return arr
}

// constant evaluates a call without column arguments, which folds to a
// scalar.
func constant(t *testing.T, name string, args ...engine.PhysicalExpr) engine.Scalar {
	t.Helper()
	e, err := registry().Call(name, args...)
	require.NoError(t, err)
	v, err := e.Evaluate(engine.NewEmptyRecordBatch(engine.EmptySchema))
	require.NoError(t, err)
	require.True(t, v.IsScalar())
	return v.Scalar()
}

func square(minX, minY, maxX, maxY float64) geom.T {
	return geo.MustBoundingBox(minX, minY, maxX, maxY).Polygon()
}

func TestRegister(t *testing.T) {
	assert.Equal(t, []string{
		"box2d", "st_extent", "st_geomfromtext", "st_geomfromwkb", "st_intersects",
		"st_makebox2d", "st_makeenvelope", "st_xmax", "st_xmin", "st_ymax", "st_ymin",
	}, registry().Names())

	_, ok := registry().UDF("ST_Intersects")
	assert.True(t, ok)
	_, ok = registry().UDAF("ST_EXTENT")
	assert.True(t, ok)
}

func TestMakeEnvelope(t *testing.T) {
	s := constant(t, "st_makeenvelope", num(0), num(1), lit(engine.TypeInt64, int64(10)), num(11))
	b, ok := geo.BoundsOf(s.Value.(geom.T))
	require.True(t, ok)
	assert.Equal(t, geo.MustBoundingBox(0, 1, 10, 11), b)

	s = constant(t, "st_makeenvelope", num(0), num(1), num(2), num(3), lit(engine.TypeInt64, int64(4326)))
	assert.False(t, s.IsNull())

	s = constant(t, "st_makeenvelope", num(0), lit(engine.TypeFloat64, nil), num(2), num(3))
	assert.True(t, s.IsNull())

	e, err := registry().Call("st_makeenvelope", num(5), num(0), num(1), num(1))
	require.NoError(t, err)
	_, err = e.Evaluate(engine.NewEmptyRecordBatch(engine.EmptySchema))
	assert.Error(t, err)

	_, err = MakeEnvelope{}.ReturnField([]engine.Field{engine.NewField("a", engine.TypeUtf8, true)})
	assert.Error(t, err)
}

func TestGeomFromTextAndWKB(t *testing.T) {
	s := constant(t, "st_geomfromtext", lit(engine.TypeUtf8, "LINESTRING (0 0, 3 4)"))
	b, ok := geo.BoundsOf(s.Value.(geom.T))
	require.True(t, ok)
	assert.Equal(t, geo.MustBoundingBox(0, 0, 3, 4), b)

	raw, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{7, 8}), wkb.NDR)
	require.NoError(t, err)
	s = constant(t, "st_geomfromwkb", lit(engine.TypeBinary, raw))
	assert.Equal(t, []float64{7, 8}, s.Value.(geom.T).FlatCoords())

	assert.True(t, constant(t, "st_geomfromtext", lit(engine.TypeUtf8, nil)).IsNull())

	e, err := registry().Call("st_geomfromwkb", lit(engine.TypeBinary, []byte{1, 2}))
	require.NoError(t, err)
	_, err = e.Evaluate(engine.NewEmptyRecordBatch(engine.EmptySchema))
	assert.Error(t, err)
}

func TestBoxFunctions(t *testing.T) {
	schema := engine.NewSchema([]engine.Field{geoarrow.GeometryField("g", true, "")}, nil)
	batch, err := engine.NewRecordBatch(schema, []engine.Array{engine.NewGeometryArray([]geom.T{
		square(0, 1, 2, 3),
		nil,
		geom.NewPolygon(geom.XY),
		geom.NewPointFlat(geom.XY, []float64{-4, 5}),
	}, nil)})
	require.NoError(t, err)
	g := engine.NewColumn("g", 0)

	boxes := eval(t, batch, "box2d", g).(*engine.BoxArray)
	b, ok := boxes.At(0)
	require.True(t, ok)
	assert.Equal(t, geo.MustBoundingBox(0, 1, 2, 3), b)
	assert.True(t, boxes.IsNull(1))
	assert.True(t, boxes.IsNull(2))
	b, ok = boxes.At(3)
	require.True(t, ok)
	assert.Equal(t, geo.MustBoundingBox(-4, 5, -4, 5), b)

	expected := map[string][]float64{
		"st_xmin": {0, -4},
		"st_ymin": {1, 5},
		"st_xmax": {2, -4},
		"st_ymax": {3, 5},
	}
	for name, want := range expected {
		vals := eval(t, batch, name, g).(*engine.Float64Array)
		v0, ok := vals.At(0)
		require.True(t, ok, name)
		v3, ok := vals.At(3)
		require.True(t, ok, name)
		assert.Equal(t, want, []float64{v0, v3}, name)
		assert.True(t, vals.IsNull(1), name)
	}

	// accessors also take a box
	box := constant(t, "st_makebox2d",
		lit(engine.TypeGeometry, geom.NewPointFlat(geom.XY, []float64{3, -1})),
		lit(engine.TypeGeometry, geom.NewPointFlat(geom.XY, []float64{-2, 6})))
	assert.Equal(t, geo.MustBoundingBox(-2, -1, 3, 6), box.Value)
	xmax := constant(t, "st_xmax", engine.NewLiteral(box))
	assert.Equal(t, 3.0, xmax.Value)
}

func TestIntersects(t *testing.T) {
	schema := engine.NewSchema([]engine.Field{geoarrow.WKBField("g", true, "")}, nil)
	encode := func(g geom.T) []byte {
		b, err := wkb.Marshal(g, wkb.NDR)
		require.NoError(t, err)
		return b
	}
	batch, err := engine.NewRecordBatch(schema, []engine.Array{engine.NewBinaryArray([][]byte{
		encode(square(0, 0, 1, 1)),
		encode(square(5, 5, 6, 6)),
		nil,
	}, []bool{true, true, false})})
	require.NoError(t, err)

	query := lit(engine.TypeGeometry, square(0.5, 0.5, 2, 2))
	res := eval(t, batch, "st_intersects", engine.NewColumn("g", 0), query).(*engine.BooleanArray)
	require.Equal(t, 3, res.Len())
	v, ok := res.At(0)
	assert.True(t, ok && v)
	v, ok = res.At(1)
	assert.True(t, ok && !v)
	assert.True(t, res.IsNull(2))

	_, err = NewIntersects(geo.EnvelopeRelater{}).ReturnField([]engine.Field{
		engine.NewField("a", engine.TypeBinary, true),
		engine.NewField("b", engine.TypeGeometry, true),
	})
	assert.Error(t, err, "plain binary is not a geometry")
}

func extentOf(t *testing.T, field engine.Field, arrays ...engine.Array) *ExtentAccumulator {
	t.Helper()
	acc, err := Extent{}.Accumulator([]engine.Field{field})
	require.NoError(t, err)
	for _, a := range arrays {
		require.NoError(t, acc.UpdateBatch([]engine.Array{a}))
	}
	return acc.(*ExtentAccumulator)
}

func stateArrays(t *testing.T, accs ...*ExtentAccumulator) []engine.Array {
	t.Helper()
	builders := make([]engine.Builder, 4)
	for i := range builders {
		var err error
		builders[i], err = engine.NewBuilder(engine.TypeFloat64, len(accs))
		require.NoError(t, err)
	}
	for _, a := range accs {
		state, err := a.State()
		require.NoError(t, err)
		require.Len(t, state, 4)
		for i, s := range state {
			require.NoError(t, builders[i].Append(s.Value))
		}
	}
	out := make([]engine.Array, 4)
	for i, b := range builders {
		out[i] = b.Finish()
	}
	return out
}

func TestExtentMixedBoundsAndNull(t *testing.T) {
	acc := extentOf(t, geoarrow.GeometryField("g", true, ""), engine.NewGeometryArray([]geom.T{
		square(0, 0, 1, 1), square(-1, -1, 0, 0), nil,
	}, nil))

	res, err := acc.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, engine.TypeBox2D, res.Type)
	assert.Equal(t, geo.MustBoundingBox(-1, -1, 1, 1), res.Value)
}

func TestExtentEmpty(t *testing.T) {
	field := geoarrow.GeometryField("g", true, "")
	empty := extentOf(t, field, engine.NewGeometryArray([]geom.T{nil, geom.NewPolygon(geom.XY)}, nil))

	res, err := empty.Evaluate()
	require.NoError(t, err)
	assert.True(t, res.IsNull())
	assert.Equal(t, engine.TypeBox2D, res.Type)

	state, err := empty.State()
	require.NoError(t, err)
	for _, s := range state {
		assert.True(t, s.IsNull())
	}

	// merging an empty state is the identity
	x := extentOf(t, field, engine.NewGeometryArray([]geom.T{square(2, 3, 4, 5)}, nil))
	require.NoError(t, x.MergeBatch(stateArrays(t, empty)))
	res, err = x.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, geo.MustBoundingBox(2, 3, 4, 5), res.Value)
}

func TestExtentAcceptsWKBAndBoxes(t *testing.T) {
	raw, err := wkb.Marshal(square(1, 2, 3, 4), wkb.NDR)
	require.NoError(t, err)
	acc := extentOf(t, geoarrow.WKBField("g", true, ""), engine.NewBinaryArray([][]byte{raw, nil}, []bool{true, false}))
	res, err := acc.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, geo.MustBoundingBox(1, 2, 3, 4), res.Value)

	boxes := extentOf(t, engine.NewField("b", engine.TypeBox2D, true), engine.NewBoxArray([]geo.BoundingBox{
		geo.MustBoundingBox(0, 0, 1, 1), geo.MustBoundingBox(9, 9, 10, 10),
	}, nil))
	res, err = boxes.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, geo.MustBoundingBox(0, 0, 10, 10), res.Value)

	_, err = Extent{}.Accumulator([]engine.Field{engine.NewField("n", engine.TypeInt64, true)})
	assert.Error(t, err)
}

func TestExtentMergeIsOrderIndependent(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	field := geoarrow.GeometryField("g", true, "")

	for iter := 0; iter < 50; iter++ {
		n := rnd.Intn(40)
		geoms := make([]geom.T, n)
		for i := range geoms {
			if rnd.Intn(5) == 0 {
				continue
			}
			x, y := rnd.Float64()*200-100, rnd.Float64()*200-100
			geoms[i] = square(x, y, x+rnd.Float64()*5, y+rnd.Float64()*5)
		}

		flat, err := extentOf(t, field, engine.NewGeometryArray(geoms, nil)).Evaluate()
		require.NoError(t, err)

		// random partitioning, merged in a random order
		parts := 1 + rnd.Intn(6)
		groups := make([][]geom.T, parts)
		for _, g := range geoms {
			p := rnd.Intn(parts)
			groups[p] = append(groups[p], g)
		}
		accs := make([]*ExtentAccumulator, parts)
		for i, g := range groups {
			accs[i] = extentOf(t, field, engine.NewGeometryArray(g, nil))
		}
		rnd.Shuffle(len(accs), func(i, j int) { accs[i], accs[j] = accs[j], accs[i] })

		final := extentOf(t, field)
		require.NoError(t, final.MergeBatch(stateArrays(t, accs...)))
		merged, err := final.Evaluate()
		require.NoError(t, err)
		assert.Equal(t, flat, merged, "iteration %d", iter)
	}
}
