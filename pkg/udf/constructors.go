package udf

import (
	"fmt"

	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
)

// GeomFromText parses well-known text: st_geomfromtext(text).
type GeomFromText struct{}

func (GeomFromText) Name() string { return "st_geomfromtext" }

func (f GeomFromText) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(f.Name(), args, 1); err != nil {
		return engine.Field{}, err
	}
	if args[0].Type != engine.TypeUtf8 && args[0].Type != engine.TypeNull {
		return engine.Field{}, fmt.Errorf("%s: expected text, got %s", f.Name(), args[0].Type)
	}
	return geoarrow.GeometryField(f.Name(), true, ""), nil
}

func (f GeomFromText) Invoke(args engine.ScalarFunctionArgs) (engine.ColumnarValue, error) {
	return mapRows(args, engine.TypeGeometry, func(arrs []engine.Array, i int) (any, error) {
		s, ok := arrs[0].Value(i).(string)
		if !ok {
			return nil, nil
		}
		g, err := wkt.Unmarshal(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		return geometryOrNil(g), nil
	})
}

// GeomFromWKB parses well-known binary: st_geomfromwkb(bytes).
type GeomFromWKB struct{}

func (GeomFromWKB) Name() string { return "st_geomfromwkb" }

func (f GeomFromWKB) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(f.Name(), args, 1); err != nil {
		return engine.Field{}, err
	}
	if args[0].Type != engine.TypeBinary && args[0].Type != engine.TypeNull {
		return engine.Field{}, fmt.Errorf("%s: expected binary, got %s", f.Name(), args[0].Type)
	}
	return geoarrow.GeometryField(f.Name(), true, geoarrow.CRS(args[0])), nil
}

func (f GeomFromWKB) Invoke(args engine.ScalarFunctionArgs) (engine.ColumnarValue, error) {
	return mapRows(args, engine.TypeGeometry, func(arrs []engine.Array, i int) (any, error) {
		b, ok := arrs[0].Value(i).([]byte)
		if !ok {
			return nil, nil
		}
		g, err := wkb.Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		return geometryOrNil(g), nil
	})
}

// MakeEnvelope builds a rectangular polygon:
// st_makeenvelope(xmin, ymin, xmax, ymax [, srid]).
type MakeEnvelope struct{}

func (MakeEnvelope) Name() string { return "st_makeenvelope" }

func (f MakeEnvelope) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(f.Name(), args, 4, 5); err != nil {
		return engine.Field{}, err
	}
	for i, a := range args {
		if !isNumeric(a.Type) {
			return engine.Field{}, fmt.Errorf("%s: argument %d must be numeric, got %s", f.Name(), i+1, a.Type)
		}
	}
	return geoarrow.GeometryField(f.Name(), true, ""), nil
}

func (f MakeEnvelope) Invoke(args engine.ScalarFunctionArgs) (engine.ColumnarValue, error) {
	return mapRows(args, engine.TypeGeometry, func(arrs []engine.Array, i int) (any, error) {
		var c [4]float64
		for j := range c {
			v, ok, err := numberAt(arrs[j], i)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name(), err)
			}
			if !ok {
				return nil, nil
			}
			c[j] = v
		}
		box, err := geo.NewBoundingBox(c[0], c[1], c[2], c[3])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		return box.Polygon(), nil
	})
}
