package engine

import (
	"fmt"

	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/pkg/geo"
)

// Array is an immutable column of values of a single DataType.
type Array interface {
	DataType() DataType
	Len() int
	IsNull(i int) bool
	NullCount() int
	// Value returns the i-th value boxed, or nil when it is null.
	Value(i int) any
	// Take returns a new array holding the values at indices, in order.
	Take(indices []int) Array
}

// TypedArray stores values of type T with an optional validity slice. A nil
// validity slice means every value is valid.
type TypedArray[T any] struct {
	dt     DataType
	values []T
	valid  []bool
}

type (
	BooleanArray  = TypedArray[bool]
	Int64Array    = TypedArray[int64]
	Float64Array  = TypedArray[float64]
	StringArray   = TypedArray[string]
	BinaryArray   = TypedArray[[]byte]
	GeometryArray = TypedArray[geom.T]
	BoxArray      = TypedArray[geo.BoundingBox]
	NullArray     = TypedArray[struct{}]
)

func newTypedArray[T any](dt DataType, values []T, valid []bool) *TypedArray[T] {
	if valid != nil && len(valid) != len(values) {
		panic(fmt.Sprintf("validity length %d does not match values length %d", len(valid), len(values)))
	}
	return &TypedArray[T]{dt: dt, values: values, valid: valid}
}

func NewBooleanArray(values []bool, valid []bool) *BooleanArray {
	return newTypedArray(TypeBoolean, values, valid)
}

func NewInt64Array(values []int64, valid []bool) *Int64Array {
	return newTypedArray(TypeInt64, values, valid)
}

func NewFloat64Array(values []float64, valid []bool) *Float64Array {
	return newTypedArray(TypeFloat64, values, valid)
}

func NewStringArray(values []string, valid []bool) *StringArray {
	return newTypedArray(TypeUtf8, values, valid)
}

func NewBinaryArray(values [][]byte, valid []bool) *BinaryArray {
	return newTypedArray(TypeBinary, values, valid)
}

// NewGeometryArray builds a geometry column. A nil geometry is a null entry
// regardless of valid.
func NewGeometryArray(values []geom.T, valid []bool) *GeometryArray {
	if valid == nil {
		for i, g := range values {
			if g == nil {
				if valid == nil {
					valid = make([]bool, len(values))
					for j := range valid {
						valid[j] = true
					}
				}
				valid[i] = false
			}
		}
	}
	return newTypedArray(TypeGeometry, values, valid)
}

func NewBoxArray(values []geo.BoundingBox, valid []bool) *BoxArray {
	return newTypedArray(TypeBox2D, values, valid)
}

func NewNullArray(n int) *NullArray {
	return newTypedArray(TypeNull, make([]struct{}, n), make([]bool, n))
}

func (a *TypedArray[T]) DataType() DataType { return a.dt }

func (a *TypedArray[T]) Len() int { return len(a.values) }

func (a *TypedArray[T]) IsNull(i int) bool {
	return a.valid != nil && !a.valid[i]
}

func (a *TypedArray[T]) NullCount() int {
	if a.valid == nil {
		return 0
	}
	n := 0
	for _, v := range a.valid {
		if !v {
			n++
		}
	}
	return n
}

func (a *TypedArray[T]) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

// At returns the i-th value and whether it is valid.
func (a *TypedArray[T]) At(i int) (T, bool) {
	if a.IsNull(i) {
		var zero T
		return zero, false
	}
	return a.values[i], true
}

// Values exposes the backing slice. Entries at null positions are undefined.
func (a *TypedArray[T]) Values() []T { return a.values }

func (a *TypedArray[T]) Take(indices []int) Array {
	values := make([]T, len(indices))
	var valid []bool
	if a.valid != nil {
		valid = make([]bool, len(indices))
	}
	for j, i := range indices {
		values[j] = a.values[i]
		if valid != nil {
			valid[j] = a.valid[i]
		}
	}
	return newTypedArray(a.dt, values, valid)
}

// Builder accumulates values into a new Array.
type Builder interface {
	Append(v any) error
	AppendNull()
	Len() int
	Finish() Array
}

type TypedBuilder[T any] struct {
	dt       DataType
	values   []T
	valid    []bool
	hasNulls bool
}

// NewBuilder returns a builder for arrays of type dt.
func NewBuilder(dt DataType, capacity int) (Builder, error) {
	switch dt {
	case TypeNull:
		return newTypedBuilder[struct{}](dt, capacity), nil
	case TypeBoolean:
		return newTypedBuilder[bool](dt, capacity), nil
	case TypeInt64:
		return newTypedBuilder[int64](dt, capacity), nil
	case TypeFloat64:
		return newTypedBuilder[float64](dt, capacity), nil
	case TypeUtf8:
		return newTypedBuilder[string](dt, capacity), nil
	case TypeBinary:
		return newTypedBuilder[[]byte](dt, capacity), nil
	case TypeGeometry:
		return newTypedBuilder[geom.T](dt, capacity), nil
	case TypeBox2D:
		return newTypedBuilder[geo.BoundingBox](dt, capacity), nil
	default:
		return nil, fmt.Errorf("no builder for data type %s", dt)
	}
}

func newTypedBuilder[T any](dt DataType, capacity int) *TypedBuilder[T] {
	return &TypedBuilder[T]{
		dt:     dt,
		values: make([]T, 0, capacity),
		valid:  make([]bool, 0, capacity),
	}
}

func NewGeometryBuilder(capacity int) *TypedBuilder[geom.T] {
	return newTypedBuilder[geom.T](TypeGeometry, capacity)
}

func (b *TypedBuilder[T]) Append(v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	tv, ok := v.(T)
	if !ok {
		return fmt.Errorf("cannot append %T to %s builder", v, b.dt)
	}
	b.AppendValue(tv)
	return nil
}

func (b *TypedBuilder[T]) AppendValue(v T) {
	b.values = append(b.values, v)
	b.valid = append(b.valid, true)
}

func (b *TypedBuilder[T]) AppendNull() {
	var zero T
	b.values = append(b.values, zero)
	b.valid = append(b.valid, false)
	b.hasNulls = true
}

func (b *TypedBuilder[T]) Len() int { return len(b.values) }

// Finish returns the built array and resets the builder.
func (b *TypedBuilder[T]) Finish() Array {
	valid := b.valid
	if !b.hasNulls && b.dt != TypeNull {
		valid = nil
	}
	arr := newTypedArray(b.dt, b.values, valid)
	b.values, b.valid, b.hasNulls = nil, nil, false
	return arr
}
