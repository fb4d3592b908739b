// Package fbs holds the FlatBuffers tables of the FlatGeobuf format,
// following the layout of the upstream header.fbs and feature.fbs schemas.
package fbs

import (
	"strconv"
)

// GeometryType is the geometry type enum shared by headers and features.
type GeometryType byte

const (
	GeometryTypeUnknown            GeometryType = 0
	GeometryTypePoint              GeometryType = 1
	GeometryTypeLineString         GeometryType = 2
	GeometryTypePolygon            GeometryType = 3
	GeometryTypeMultiPoint         GeometryType = 4
	GeometryTypeMultiLineString    GeometryType = 5
	GeometryTypeMultiPolygon       GeometryType = 6
	GeometryTypeGeometryCollection GeometryType = 7
)

var EnumNamesGeometryType = map[GeometryType]string{
	GeometryTypeUnknown:            "Unknown",
	GeometryTypePoint:              "Point",
	GeometryTypeLineString:         "LineString",
	GeometryTypePolygon:            "Polygon",
	GeometryTypeMultiPoint:         "MultiPoint",
	GeometryTypeMultiLineString:    "MultiLineString",
	GeometryTypeMultiPolygon:       "MultiPolygon",
	GeometryTypeGeometryCollection: "GeometryCollection",
}

func (v GeometryType) String() string {
	if s, ok := EnumNamesGeometryType[v]; ok {
		return s
	}
	return "GeometryType(" + strconv.FormatInt(int64(v), 10) + ")"
}

// ColumnType is the type of a feature property.
type ColumnType byte

const (
	ColumnTypeByte     ColumnType = 0
	ColumnTypeUByte    ColumnType = 1
	ColumnTypeBool     ColumnType = 2
	ColumnTypeShort    ColumnType = 3
	ColumnTypeUShort   ColumnType = 4
	ColumnTypeInt      ColumnType = 5
	ColumnTypeUInt     ColumnType = 6
	ColumnTypeLong     ColumnType = 7
	ColumnTypeULong    ColumnType = 8
	ColumnTypeFloat    ColumnType = 9
	ColumnTypeDouble   ColumnType = 10
	ColumnTypeString   ColumnType = 11
	ColumnTypeJson     ColumnType = 12
	ColumnTypeDateTime ColumnType = 13
	ColumnTypeBinary   ColumnType = 14
)

var EnumNamesColumnType = map[ColumnType]string{
	ColumnTypeByte:     "Byte",
	ColumnTypeUByte:    "UByte",
	ColumnTypeBool:     "Bool",
	ColumnTypeShort:    "Short",
	ColumnTypeUShort:   "UShort",
	ColumnTypeInt:      "Int",
	ColumnTypeUInt:     "UInt",
	ColumnTypeLong:     "Long",
	ColumnTypeULong:    "ULong",
	ColumnTypeFloat:    "Float",
	ColumnTypeDouble:   "Double",
	ColumnTypeString:   "String",
	ColumnTypeJson:     "Json",
	ColumnTypeDateTime: "DateTime",
	ColumnTypeBinary:   "Binary",
}

func (v ColumnType) String() string {
	if s, ok := EnumNamesColumnType[v]; ok {
		return s
	}
	return "ColumnType(" + strconv.FormatInt(int64(v), 10) + ")"
}
