// Package udf provides the spatial scalar functions and the st_extent
// aggregate.
package udf

import (
	"fmt"

	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
)

type Options struct {
	// Relater answers st_intersects. Defaults to geo.EnvelopeRelater.
	Relater geo.Relater
}

// Register adds every function of this package to r.
func Register(r *engine.Registry, opts Options) {
	if opts.Relater == nil {
		opts.Relater = geo.EnvelopeRelater{}
	}
	r.RegisterUDF(NewIntersects(opts.Relater))
	r.RegisterUDF(GeomFromText{})
	r.RegisterUDF(GeomFromWKB{})
	r.RegisterUDF(MakeEnvelope{})
	r.RegisterUDF(MakeBox2D{})
	r.RegisterUDF(Box2D{})
	for _, c := range []boxCoordinate{coordXMin, coordYMin, coordXMax, coordYMax} {
		r.RegisterUDF(BoxAccessor{coord: c})
	}
	r.RegisterUDAF(Extent{})
}

// mapRows calls fn once per row of the arguments and collects the results
// into an array of type out. A nil result is a null. When every argument is
// a scalar the result is a scalar too, so constant folding keeps working.
func mapRows(args engine.ScalarFunctionArgs, out engine.DataType, fn func(arrs []engine.Array, i int) (any, error)) (engine.ColumnarValue, error) {
	arrs, err := engine.ValuesToArrays(args.Args)
	if err != nil {
		return engine.ColumnarValue{}, err
	}
	n := 1
	if len(arrs) > 0 {
		n = arrs[0].Len()
	}

	b, err := engine.NewBuilder(out, n)
	if err != nil {
		return engine.ColumnarValue{}, err
	}
	for i := 0; i < n; i++ {
		v, err := fn(arrs, i)
		if err != nil {
			return engine.ColumnarValue{}, err
		}
		if err := b.Append(v); err != nil {
			return engine.ColumnarValue{}, err
		}
	}
	res := b.Finish()

	for _, a := range args.Args {
		if !a.IsScalar() {
			return engine.ArrayValue(res), nil
		}
	}
	return engine.ScalarValue(engine.ScalarAt(res, 0)), nil
}

func checkArity(name string, args []engine.Field, counts ...int) error {
	for _, c := range counts {
		if len(args) == c {
			return nil
		}
	}
	return fmt.Errorf("%s: unexpected number of arguments %d", name, len(args))
}

func argField(args engine.ScalarFunctionArgs, i int) engine.Field {
	if i < len(args.ArgFields) {
		return args.ArgFields[i]
	}
	return engine.NewField("", args.Args[i].DataType(), true)
}

// geometries converts the arrays at the given argument positions to
// geometry arrays.
func geometries(name string, args engine.ScalarFunctionArgs, arrs []engine.Array, positions ...int) ([]*engine.GeometryArray, error) {
	out := make([]*engine.GeometryArray, len(positions))
	for j, p := range positions {
		g, err := geoarrow.FromArray(arrs[p], argField(args, p))
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", name, p+1, err)
		}
		out[j] = g
	}
	return out, nil
}

func isGeometryArg(f engine.Field) bool {
	return f.Type == engine.TypeNull || geoarrow.IsGeometryField(f)
}

// numberAt reads a numeric argument as float64.
func numberAt(a engine.Array, i int) (float64, bool, error) {
	switch arr := a.(type) {
	case *engine.Float64Array:
		v, ok := arr.At(i)
		return v, ok, nil
	case *engine.Int64Array:
		v, ok := arr.At(i)
		return float64(v), ok, nil
	case *engine.NullArray:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("expected a numeric argument, got %s", a.DataType())
	}
}

func isNumeric(t engine.DataType) bool {
	return t == engine.TypeFloat64 || t == engine.TypeInt64 || t == engine.TypeNull
}

func geometryOrNil(g geom.T) any {
	if g == nil {
		return nil
	}
	return g
}

// geometryAt decodes row i of a geometry-like array. Null rows return nil.
func geometryAt(a engine.Array, field engine.Field, i int) (geom.T, error) {
	if arr, ok := a.(*engine.GeometryArray); ok {
		g, _ := arr.At(i)
		return g, nil
	}
	row, err := geoarrow.FromArray(a.Take([]int{i}), field)
	if err != nil {
		return nil, err
	}
	g, _ := row.At(0)
	return g, nil
}
