package flatgeobuf

import (
	"fmt"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/flatgeobuf"
	"github.com/grafana/geoscan/pkg/flatgeobuf/fbs"
	"github.com/grafana/geoscan/pkg/geoarrow"
)

const (
	// GeometryColumn is the name of the geometry column, placed after the
	// property columns.
	GeometryColumn = "geometry"

	// Schema metadata keys carrying header information.
	MetadataGeometryType = "flatgeobuf:geometry_type"
	MetadataName         = "flatgeobuf:name"
)

func dataTypeOf(t flatgeobuf.ColumnType) (engine.DataType, error) {
	switch t {
	case fbs.ColumnTypeBool:
		return engine.TypeBoolean, nil
	case fbs.ColumnTypeByte, fbs.ColumnTypeUByte, fbs.ColumnTypeShort, fbs.ColumnTypeUShort,
		fbs.ColumnTypeInt, fbs.ColumnTypeUInt, fbs.ColumnTypeLong, fbs.ColumnTypeULong:
		return engine.TypeInt64, nil
	case fbs.ColumnTypeFloat, fbs.ColumnTypeDouble:
		return engine.TypeFloat64, nil
	case fbs.ColumnTypeString, fbs.ColumnTypeJson, fbs.ColumnTypeDateTime:
		return engine.TypeUtf8, nil
	case fbs.ColumnTypeBinary:
		return engine.TypeBinary, nil
	default:
		return 0, fmt.Errorf("unsupported column type %s", t)
	}
}

func columnTypeOf(t engine.DataType) (flatgeobuf.ColumnType, error) {
	switch t {
	case engine.TypeBoolean:
		return fbs.ColumnTypeBool, nil
	case engine.TypeInt64:
		return fbs.ColumnTypeLong, nil
	case engine.TypeFloat64:
		return fbs.ColumnTypeDouble, nil
	case engine.TypeUtf8:
		return fbs.ColumnTypeString, nil
	case engine.TypeBinary:
		return fbs.ColumnTypeBinary, nil
	default:
		return 0, fmt.Errorf("%s columns cannot be written to flatgeobuf", t)
	}
}

// SchemaFromHeader maps the header columns to fields, in order, followed by
// a nullable geometry column carrying the CRS.
func SchemaFromHeader(h *flatgeobuf.Header) (*engine.Schema, error) {
	fields := make([]engine.Field, 0, len(h.Columns)+1)
	for _, c := range h.Columns {
		dt, err := dataTypeOf(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		fields = append(fields, engine.NewField(c.Name, dt, c.Nullable))
	}
	fields = append(fields, geoarrow.GeometryField(GeometryColumn, true, h.CRS.String()))

	md := map[string]string{MetadataGeometryType: h.GeometryType.String()}
	if h.Name != "" {
		md[MetadataName] = h.Name
	}
	return engine.NewSchema(fields, md), nil
}

// geometryType reads back the geometry type recorded by SchemaFromHeader.
func geometryType(schema *engine.Schema) flatgeobuf.GeometryType {
	name, ok := schema.Metadata(MetadataGeometryType)
	if !ok {
		return fbs.GeometryTypeUnknown
	}
	for t, n := range fbs.EnumNamesGeometryType {
		if n == name {
			return t
		}
	}
	return fbs.GeometryTypeUnknown
}
