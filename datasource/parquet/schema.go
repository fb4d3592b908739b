package parquet

import (
	"bytes"
	"fmt"

	"github.com/go-kit/log/level"
	pq "github.com/parquet-go/parquet-go"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/util/log"
)

// dataTypeOf maps a leaf column to an engine type. ok is false for types the
// scan cannot represent.
func dataTypeOf(col *pq.Column) (engine.DataType, bool) {
	t := col.Type()
	switch t.Kind() {
	case pq.Boolean:
		return engine.TypeBoolean, true
	case pq.Int32, pq.Int64:
		return engine.TypeInt64, true
	case pq.Float, pq.Double:
		return engine.TypeFloat64, true
	case pq.ByteArray, pq.FixedLenByteArray:
		if lt := t.LogicalType(); lt != nil && (lt.UTF8 != nil || lt.Json != nil || lt.Enum != nil) {
			return engine.TypeUtf8, true
		}
		return engine.TypeBinary, true
	default:
		return 0, false
	}
}

// SchemaOf maps the top level, non repeated leaf columns of pf to fields,
// in file order. Groups and repeated columns are skipped. The key/value
// metadata of the file becomes the schema metadata.
func SchemaOf(pf *pq.File) *engine.Schema {
	var fields []engine.Field
	for _, col := range pf.Root().Columns() {
		if !col.Leaf() || col.Repeated() {
			level.Debug(log.Logger).Log("msg", "skipping nested parquet column", "column", col.Name())
			continue
		}
		dt, ok := dataTypeOf(col)
		if !ok {
			level.Debug(log.Logger).Log("msg", "skipping unsupported parquet column", "column", col.Name(), "type", col.Type())
			continue
		}
		fields = append(fields, engine.NewField(col.Name(), dt, col.Optional()))
	}

	md := map[string]string{}
	for _, kv := range pf.Metadata().KeyValueMetadata {
		md[kv.Key] = kv.Value
	}
	return engine.NewSchema(fields, md)
}

// valueOf converts a non null value of a leaf column into the Go value an
// engine builder of type dt accepts. Byte slices are copied.
func valueOf(v pq.Value, dt engine.DataType) (any, error) {
	switch dt {
	case engine.TypeBoolean:
		return v.Boolean(), nil
	case engine.TypeInt64:
		if v.Kind() == pq.Int32 {
			return int64(v.Int32()), nil
		}
		return v.Int64(), nil
	case engine.TypeFloat64:
		if v.Kind() == pq.Float {
			return float64(v.Float()), nil
		}
		return v.Double(), nil
	case engine.TypeUtf8:
		return string(v.ByteArray()), nil
	case engine.TypeBinary:
		return bytes.Clone(v.ByteArray()), nil
	case engine.TypeGeometry:
		g, err := wkb.Unmarshal(v.ByteArray())
		if err != nil {
			return nil, fmt.Errorf("decoding well-known binary: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("cannot read parquet %s values as %s", v.Kind(), dt)
	}
}

// compatible reports whether a leaf column can fill a field of type dt.
// Binary columns can be decoded into geometries.
func compatible(col *pq.Column, dt engine.DataType) bool {
	fileType, ok := dataTypeOf(col)
	if !ok {
		return false
	}
	if fileType == dt {
		return true
	}
	return dt == engine.TypeGeometry && fileType == engine.TypeBinary ||
		dt == engine.TypeBinary && fileType == engine.TypeUtf8
}
