package udf

import (
	"fmt"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
)

// Intersects is st_intersects(a, b). The relationship test itself is
// delegated to a geo.Relater.
type Intersects struct {
	relater geo.Relater
}

func NewIntersects(r geo.Relater) Intersects {
	return Intersects{relater: r}
}

func (Intersects) Name() string { return "st_intersects" }

func (f Intersects) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(f.Name(), args, 2); err != nil {
		return engine.Field{}, err
	}
	for i, a := range args {
		if !isGeometryArg(a) {
			return engine.Field{}, fmt.Errorf("%s: argument %d is not a geometry: %s", f.Name(), i+1, a)
		}
	}
	return engine.NewField(f.Name(), engine.TypeBoolean, true), nil
}

func (f Intersects) Invoke(args engine.ScalarFunctionArgs) (engine.ColumnarValue, error) {
	if len(args.Args) != 2 {
		return engine.ColumnarValue{}, fmt.Errorf("%s: expected 2 arguments, got %d", f.Name(), len(args.Args))
	}
	var geoms []*engine.GeometryArray
	return mapRows(args, engine.TypeBoolean, func(arrs []engine.Array, i int) (any, error) {
		if geoms == nil {
			var err error
			if geoms, err = geometries(f.Name(), args, arrs, 0, 1); err != nil {
				return nil, err
			}
		}
		a, ok := geoms[0].At(i)
		if !ok {
			return nil, nil
		}
		b, ok := geoms[1].At(i)
		if !ok {
			return nil, nil
		}
		return f.relater.Intersects(a, b)
	})
}
