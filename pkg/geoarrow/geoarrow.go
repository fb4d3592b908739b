// Package geoarrow converts between engine arrays and geometries and carries
// the geometry extension metadata attached to fields.
package geoarrow

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
)

const (
	ExtensionWKB    = "geoarrow.wkb"
	ExtensionWKT    = "geoarrow.wkt"
	ExtensionNative = "geoarrow.geometry"
)

// ErrNotGeometry is returned when an array does not hold geometries.
var ErrNotGeometry = errors.New("not a geometry array")

type extensionMetadata struct {
	CRS string `json:"crs,omitempty"`
}

func withExtension(f engine.Field, name, crs string) engine.Field {
	f = f.WithMetadata(engine.ExtensionNameKey, name)
	md, _ := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(extensionMetadata{CRS: crs})
	return f.WithMetadata(engine.ExtensionMetadataKey, md)
}

// GeometryField is a decoded geometry column.
func GeometryField(name string, nullable bool, crs string) engine.Field {
	return withExtension(engine.NewField(name, engine.TypeGeometry, nullable), ExtensionNative, crs)
}

// WKBField is a binary column holding well-known binary geometries.
func WKBField(name string, nullable bool, crs string) engine.Field {
	return withExtension(engine.NewField(name, engine.TypeBinary, nullable), ExtensionWKB, crs)
}

// WKTField is a string column holding well-known text geometries.
func WKTField(name string, nullable bool, crs string) engine.Field {
	return withExtension(engine.NewField(name, engine.TypeUtf8, nullable), ExtensionWKT, crs)
}

// IsGeometryField reports whether values of f can be read as geometries.
func IsGeometryField(f engine.Field) bool {
	switch f.Type {
	case engine.TypeGeometry:
		return true
	case engine.TypeBinary:
		return f.ExtensionName() == ExtensionWKB
	case engine.TypeUtf8:
		return f.ExtensionName() == ExtensionWKT
	}
	return false
}

// CRS returns the coordinate reference system recorded on f, if any.
func CRS(f engine.Field) string {
	raw := f.Metadata[engine.ExtensionMetadataKey]
	if raw == "" {
		return ""
	}
	var md extensionMetadata
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, &md); err != nil {
		return ""
	}
	return md.CRS
}

// FromArray reads arr as geometries. Native geometry arrays are returned
// unchanged, binary and string arrays are decoded when field marks them as
// well-known binary or text. Anything else fails with ErrNotGeometry.
func FromArray(arr engine.Array, field engine.Field) (*engine.GeometryArray, error) {
	switch a := arr.(type) {
	case *engine.GeometryArray:
		return a, nil
	case *engine.BinaryArray:
		if field.ExtensionName() != ExtensionWKB {
			return nil, ErrNotGeometry
		}
		return decode(a.Len(), a.At, func(b []byte) (geom.T, error) { return wkb.Unmarshal(b) })
	case *engine.StringArray:
		if field.ExtensionName() != ExtensionWKT {
			return nil, ErrNotGeometry
		}
		return decode(a.Len(), a.At, wkt.Unmarshal)
	case *engine.NullArray:
		return engine.NewGeometryArray(make([]geom.T, a.Len()), nil), nil
	default:
		return nil, ErrNotGeometry
	}
}

func decode[T any](n int, at func(int) (T, bool), parse func(T) (geom.T, error)) (*engine.GeometryArray, error) {
	out := make([]geom.T, n)
	for i := 0; i < n; i++ {
		v, ok := at(i)
		if !ok {
			continue
		}
		g, err := parse(v)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding geometry at row %d", i)
		}
		out[i] = g
	}
	return engine.NewGeometryArray(out, nil), nil
}

// TotalBounds is the union of the bounding boxes of every non-null,
// non-empty geometry in arr.
func TotalBounds(arr *engine.GeometryArray) geo.Extent {
	var e geo.Extent
	for i := 0; i < arr.Len(); i++ {
		g, ok := arr.At(i)
		if !ok {
			continue
		}
		if b, ok := geo.BoundsOf(g); ok {
			e.Add(b)
		}
	}
	return e
}

// ToWKB encodes geometries as little endian well-known binary.
func ToWKB(arr *engine.GeometryArray) (*engine.BinaryArray, error) {
	values := make([][]byte, arr.Len())
	valid := make([]bool, arr.Len())
	for i := range values {
		g, ok := arr.At(i)
		if !ok {
			continue
		}
		b, err := wkb.Marshal(g, wkb.NDR)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding geometry at row %d", i)
		}
		values[i] = b
		valid[i] = true
	}
	return engine.NewBinaryArray(values, valid), nil
}

// FormatWKT renders a single geometry for display.
func FormatWKT(g geom.T) string {
	if g == nil {
		return "NULL"
	}
	s, err := wkt.Marshal(g)
	if err != nil {
		return fmt.Sprintf("<%T: %v>", g, err)
	}
	return s
}
