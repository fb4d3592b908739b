package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isPositive is a minimal scalar function used to build predicates in tests.
type isPositive struct{}

func (isPositive) Name() string { return "is_positive" }

func (isPositive) ReturnField([]Field) (Field, error) {
	return NewField("is_positive", TypeBoolean, true), nil
}

func (isPositive) Invoke(args ScalarFunctionArgs) (ColumnarValue, error) {
	arrs, err := ValuesToArrays(args.Args)
	if err != nil {
		return ColumnarValue{}, err
	}
	in := arrs[0].(*Float64Array)
	b := newTypedBuilder[bool](TypeBoolean, in.Len())
	for i := 0; i < in.Len(); i++ {
		v, ok := in.At(i)
		if !ok {
			b.AppendNull()
			continue
		}
		b.AppendValue(v > 0)
	}
	return ArrayValue(b.Finish()), nil
}

func TestSplitConjunction(t *testing.T) {
	a := NewLiteral(NewScalar(TypeBoolean, true))
	b := NewLiteral(NewScalar(TypeBoolean, false))
	c := NewColumn("c", 0)

	parts := SplitConjunction(And(And(a, b), Or(c, a)))
	require.Len(t, parts, 3)
	assert.Same(t, a, parts[0])
	assert.Same(t, b, parts[1])
	assert.IsType(t, &BinaryExpr{}, parts[2])

	assert.Nil(t, Conjunction(nil))
	assert.Same(t, a, Conjunction([]PhysicalExpr{a}))
}

func TestContainsColumn(t *testing.T) {
	lit := NewLiteral(NewScalar(TypeFloat64, 1.0))
	col := NewColumn("score", 3)

	assert.False(t, ContainsColumn(lit))
	assert.False(t, ContainsColumn(NewScalarFunctionExpr(isPositive{}, lit)))
	assert.True(t, ContainsColumn(NewScalarFunctionExpr(isPositive{}, col)))
	assert.True(t, ContainsColumn(And(lit, col)))

	assert.Equal(t, []string{"score", "id"}, ReferencedColumns(And(col, NewColumn("id", 0)), col))
}

func TestBinaryExprThreeValuedLogic(t *testing.T) {
	schema := NewSchema([]Field{
		NewField("l", TypeBoolean, true),
		NewField("r", TypeBoolean, true),
	}, nil)
	// every combination of true, false and null
	l := NewBooleanArray(
		[]bool{true, true, true, false, false, false, false, false, false},
		[]bool{true, true, true, true, true, true, false, false, false})
	r := NewBooleanArray(
		[]bool{true, false, false, true, false, false, true, false, false},
		[]bool{true, true, false, true, true, false, true, true, false})
	batch, err := NewRecordBatch(schema, []Array{l, r})
	require.NoError(t, err)

	read := func(a Array) []string {
		out := make([]string, a.Len())
		for i := range out {
			if v := a.Value(i); v == nil {
				out[i] = "null"
			} else if v.(bool) {
				out[i] = "true"
			} else {
				out[i] = "false"
			}
		}
		return out
	}

	v, err := And(NewColumn("l", 0), NewColumn("r", 1)).Evaluate(batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"true", "false", "null", "false", "false", "false", "null", "false", "null"}, read(v.Array()))

	v, err = Or(NewColumn("l", 0), NewColumn("r", 1)).Evaluate(batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"true", "true", "true", "true", "false", "null", "true", "null", "null"}, read(v.Array()))
}

func TestRebindColumns(t *testing.T) {
	schema := testSchema()
	expr := And(NewScalarFunctionExpr(isPositive{}, NewColumn("score", 0)), NewColumn("name", 99))

	bound, err := RebindColumns(expr, schema)
	require.NoError(t, err)
	assert.Equal(t, "is_positive(score@3) AND name@1", bound.String())

	_, err = RebindColumns(NewColumn("missing", 0), schema)
	require.Error(t, err)
}

func TestRecordBatchFilterDropsNulls(t *testing.T) {
	schema := NewSchema([]Field{NewField("score", TypeFloat64, true)}, nil)
	batch, err := NewRecordBatch(schema, []Array{
		NewFloat64Array([]float64{1, -1, 0, 5}, []bool{true, true, false, true}),
	})
	require.NoError(t, err)

	v, err := NewScalarFunctionExpr(isPositive{}, NewColumn("score", 0)).Evaluate(batch)
	require.NoError(t, err)

	out, err := batch.Filter(v.Array().(*BooleanArray))
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, []float64{1, 5}, out.Column(0).(*Float64Array).Values())
}

func TestValuesToArraysScalarsOnly(t *testing.T) {
	arrs, err := ValuesToArrays([]ColumnarValue{
		ScalarValue(NewScalar(TypeFloat64, 2.0)),
		ScalarValue(NullScalar(TypeUtf8)),
	})
	require.NoError(t, err)
	require.Len(t, arrs, 2)
	assert.Equal(t, 1, arrs[0].Len())
	assert.Equal(t, 2.0, arrs[0].Value(0))
	assert.True(t, arrs[1].IsNull(0))
}
