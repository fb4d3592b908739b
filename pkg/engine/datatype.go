// Package engine carries the small set of query engine surfaces the spatial
// scan layer plugs into: schemas, arrays and record batches, physical
// expressions, the filter and projection pushdown protocol, file scan plans
// and a partition-parallel executor.
package engine

import "fmt"

type DataType int

const (
	TypeNull DataType = iota
	TypeBoolean
	TypeInt64
	TypeFloat64
	TypeUtf8
	TypeBinary
	// TypeGeometry columns hold decoded go-geom geometries.
	TypeGeometry
	// TypeBox2D columns hold geo.BoundingBox values.
	TypeBox2D
)

func (t DataType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeUtf8:
		return "utf8"
	case TypeBinary:
		return "binary"
	case TypeGeometry:
		return "geometry"
	case TypeBox2D:
		return "box2d"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}
