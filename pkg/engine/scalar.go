package engine

import (
	"fmt"
)

// Scalar is a single, possibly null, typed value.
type Scalar struct {
	Type  DataType
	Value any
}

func NewScalar(t DataType, v any) Scalar {
	return Scalar{Type: t, Value: v}
}

func NullScalar(t DataType) Scalar {
	return Scalar{Type: t}
}

func (s Scalar) IsNull() bool {
	return s.Value == nil
}

// ToArray repeats the scalar n times.
func (s Scalar) ToArray(n int) (Array, error) {
	b, err := NewBuilder(s.Type, n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if err := b.Append(s.Value); err != nil {
			return nil, err
		}
	}
	return b.Finish(), nil
}

func (s Scalar) String() string {
	if s.IsNull() {
		return "NULL"
	}
	switch v := s.Value.(type) {
	case string:
		return fmt.Sprintf("'%s'", v)
	case []byte:
		return fmt.Sprintf("X'%x'", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ScalarAt returns the i-th element of arr as a scalar.
func ScalarAt(arr Array, i int) Scalar {
	return Scalar{Type: arr.DataType(), Value: arr.Value(i)}
}

// ColumnarValue is the result of evaluating an expression: either a full
// array or a single scalar that stands for every row.
type ColumnarValue struct {
	array  Array
	scalar Scalar
}

func ArrayValue(a Array) ColumnarValue {
	return ColumnarValue{array: a}
}

func ScalarValue(s Scalar) ColumnarValue {
	return ColumnarValue{scalar: s}
}

func (v ColumnarValue) IsScalar() bool {
	return v.array == nil
}

func (v ColumnarValue) Array() Array {
	return v.array
}

func (v ColumnarValue) Scalar() Scalar {
	return v.scalar
}

func (v ColumnarValue) DataType() DataType {
	if v.array != nil {
		return v.array.DataType()
	}
	return v.scalar.Type
}

// ToArray materializes the value with numRows rows.
func (v ColumnarValue) ToArray(numRows int) (Array, error) {
	if v.array != nil {
		return v.array, nil
	}
	return v.scalar.ToArray(numRows)
}

// ValuesToArrays converts a set of arguments into arrays of equal length.
// When every argument is a scalar the result has a single row.
func ValuesToArrays(values []ColumnarValue) ([]Array, error) {
	n := 1
	for _, v := range values {
		if !v.IsScalar() {
			n = v.array.Len()
			break
		}
	}
	out := make([]Array, 0, len(values))
	for _, v := range values {
		arr, err := v.ToArray(n)
		if err != nil {
			return nil, err
		}
		if arr.Len() != n {
			return nil, fmt.Errorf("argument arrays have different lengths: %d and %d", n, arr.Len())
		}
		out = append(out, arr)
	}
	return out, nil
}
