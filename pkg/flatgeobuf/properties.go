package flatgeobuf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/grafana/geoscan/pkg/flatgeobuf/fbs"
)

// decodeProperties reads the property buffer of a feature. The result is
// indexed by column, absent properties are nil. Integers are widened to
// int64, floats to float64, and text types decode to string.
func decodeProperties(buf []byte, columns []Column) ([]any, error) {
	out := make([]any, len(columns))
	for off := 0; off < len(buf); {
		if off+2 > len(buf) {
			return nil, fmt.Errorf("truncated property column index at %d", off)
		}
		ci := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if ci >= len(columns) {
			return nil, fmt.Errorf("property references column %d of %d", ci, len(columns))
		}

		v, n, err := decodeValue(buf[off:], columns[ci].Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", columns[ci].Name, err)
		}
		out[ci] = v
		off += n
	}
	return out, nil
}

func fixedSize(t ColumnType) int {
	switch t {
	case fbs.ColumnTypeByte, fbs.ColumnTypeUByte, fbs.ColumnTypeBool:
		return 1
	case fbs.ColumnTypeShort, fbs.ColumnTypeUShort:
		return 2
	case fbs.ColumnTypeInt, fbs.ColumnTypeUInt, fbs.ColumnTypeFloat:
		return 4
	case fbs.ColumnTypeLong, fbs.ColumnTypeULong, fbs.ColumnTypeDouble:
		return 8
	}
	return 0
}

func decodeValue(b []byte, t ColumnType) (any, int, error) {
	if size := fixedSize(t); size > 0 {
		if len(b) < size {
			return nil, 0, fmt.Errorf("truncated %s value", t)
		}
		switch t {
		case fbs.ColumnTypeByte:
			return int64(int8(b[0])), 1, nil
		case fbs.ColumnTypeUByte:
			return int64(b[0]), 1, nil
		case fbs.ColumnTypeBool:
			return b[0] != 0, 1, nil
		case fbs.ColumnTypeShort:
			return int64(int16(binary.LittleEndian.Uint16(b))), 2, nil
		case fbs.ColumnTypeUShort:
			return int64(binary.LittleEndian.Uint16(b)), 2, nil
		case fbs.ColumnTypeInt:
			return int64(int32(binary.LittleEndian.Uint32(b))), 4, nil
		case fbs.ColumnTypeUInt:
			return int64(binary.LittleEndian.Uint32(b)), 4, nil
		case fbs.ColumnTypeFloat:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), 4, nil
		case fbs.ColumnTypeLong:
			return int64(binary.LittleEndian.Uint64(b)), 8, nil
		case fbs.ColumnTypeULong:
			return int64(binary.LittleEndian.Uint64(b)), 8, nil
		case fbs.ColumnTypeDouble:
			return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil
		}
	}

	if len(b) < 4 {
		return nil, 0, fmt.Errorf("truncated %s length", t)
	}
	n := int(binary.LittleEndian.Uint32(b))
	if len(b) < 4+n {
		return nil, 0, fmt.Errorf("truncated %s value of %d bytes", t, n)
	}
	raw := b[4 : 4+n]
	switch t {
	case fbs.ColumnTypeString, fbs.ColumnTypeJson, fbs.ColumnTypeDateTime:
		return string(raw), 4 + n, nil
	case fbs.ColumnTypeBinary:
		return append([]byte(nil), raw...), 4 + n, nil
	default:
		return nil, 0, fmt.Errorf("unsupported column type %s", t)
	}
}

// encodeProperties is the inverse of decodeProperties. Nil values are
// skipped.
func encodeProperties(values []any, columns []Column) ([]byte, error) {
	var buf []byte
	for i, v := range values {
		if v == nil {
			continue
		}
		if i >= len(columns) {
			return nil, fmt.Errorf("value %d has no column", i)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(i))

		var err error
		if buf, err = appendValue(buf, v, columns[i].Type); err != nil {
			return nil, fmt.Errorf("column %s: %w", columns[i].Name, err)
		}
	}
	return buf, nil
}

func appendValue(buf []byte, v any, t ColumnType) ([]byte, error) {
	switch t {
	case fbs.ColumnTypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", v, t)
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case fbs.ColumnTypeLong:
		i, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", v, t)
		}
		return binary.LittleEndian.AppendUint64(buf, uint64(i)), nil
	case fbs.ColumnTypeDouble:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", v, t)
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f)), nil
	case fbs.ColumnTypeString, fbs.ColumnTypeJson, fbs.ColumnTypeDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", v, t)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...), nil
	case fbs.ColumnTypeBinary:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", v, t)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
		return append(buf, b...), nil
	default:
		return nil, fmt.Errorf("writing %s columns is not supported", t)
	}
}
