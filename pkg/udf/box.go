package udf

import (
	"fmt"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
)

func boxField(name string) engine.Field {
	return engine.NewField(name, engine.TypeBox2D, true)
}

// boxAt reads row i of a box or geometry array as a bounding box.
func boxAt(a engine.Array, field engine.Field, i int) (geo.BoundingBox, bool, error) {
	if boxes, ok := a.(*engine.BoxArray); ok {
		b, ok := boxes.At(i)
		return b, ok, nil
	}
	g, err := geometryAt(a, field, i)
	if err != nil || g == nil {
		return geo.BoundingBox{}, false, err
	}
	b, ok := geo.BoundsOf(g)
	return b, ok, nil
}

// Box2D is box2d(geometry), the bounding box of a geometry. Empty
// geometries produce null.
type Box2D struct{}

func (Box2D) Name() string { return "box2d" }

func (f Box2D) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(f.Name(), args, 1); err != nil {
		return engine.Field{}, err
	}
	if !isGeometryArg(args[0]) && args[0].Type != engine.TypeBox2D {
		return engine.Field{}, fmt.Errorf("%s: argument is not a geometry: %s", f.Name(), args[0])
	}
	return boxField(f.Name()), nil
}

func (f Box2D) Invoke(args engine.ScalarFunctionArgs) (engine.ColumnarValue, error) {
	field := argField(args, 0)
	return mapRows(args, engine.TypeBox2D, func(arrs []engine.Array, i int) (any, error) {
		b, ok, err := boxAt(arrs[0], field, i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		if !ok {
			return nil, nil
		}
		return b, nil
	})
}

// MakeBox2D is st_makebox2d(a, b), the box spanning two points.
type MakeBox2D struct{}

func (MakeBox2D) Name() string { return "st_makebox2d" }

func (f MakeBox2D) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(f.Name(), args, 2); err != nil {
		return engine.Field{}, err
	}
	for i, a := range args {
		if !isGeometryArg(a) {
			return engine.Field{}, fmt.Errorf("%s: argument %d is not a geometry: %s", f.Name(), i+1, a)
		}
	}
	return boxField(f.Name()), nil
}

func (f MakeBox2D) Invoke(args engine.ScalarFunctionArgs) (engine.ColumnarValue, error) {
	return mapRows(args, engine.TypeBox2D, func(arrs []engine.Array, i int) (any, error) {
		var e geo.Extent
		for j := 0; j < 2; j++ {
			b, ok, err := boxAt(arrs[j], argField(args, j), i)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name(), err)
			}
			if !ok {
				return nil, nil
			}
			e.Add(b)
		}
		b, _ := e.Box()
		return b, nil
	})
}

type boxCoordinate int

const (
	coordXMin boxCoordinate = iota
	coordYMin
	coordXMax
	coordYMax
)

var coordinateNames = [...]string{"st_xmin", "st_ymin", "st_xmax", "st_ymax"}

// BoxAccessor is one of st_xmin, st_ymin, st_xmax and st_ymax, reading a
// single bound of a box or of a geometry's bounding box.
type BoxAccessor struct {
	coord boxCoordinate
}

func (f BoxAccessor) Name() string { return coordinateNames[f.coord] }

func (f BoxAccessor) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(f.Name(), args, 1); err != nil {
		return engine.Field{}, err
	}
	if !isGeometryArg(args[0]) && args[0].Type != engine.TypeBox2D {
		return engine.Field{}, fmt.Errorf("%s: expected a box or geometry, got %s", f.Name(), args[0])
	}
	return engine.NewField(f.Name(), engine.TypeFloat64, true), nil
}

func (f BoxAccessor) Invoke(args engine.ScalarFunctionArgs) (engine.ColumnarValue, error) {
	field := argField(args, 0)
	return mapRows(args, engine.TypeFloat64, func(arrs []engine.Array, i int) (any, error) {
		b, ok, err := boxAt(arrs[0], field, i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		if !ok {
			return nil, nil
		}
		return b.Array()[f.coord], nil
	})
}
