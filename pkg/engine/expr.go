package engine

import (
	"fmt"
	"strings"
)

// PhysicalExpr is a bound expression that can be evaluated against a batch.
type PhysicalExpr interface {
	fmt.Stringer
	Evaluate(batch *RecordBatch) (ColumnarValue, error)
	ReturnField(schema *Schema) (Field, error)
	Children() []PhysicalExpr
}

// Column references an input column by name and position.
type Column struct {
	Name  string
	Index int
}

var _ PhysicalExpr = (*Column)(nil)

func NewColumn(name string, index int) *Column {
	return &Column{Name: name, Index: index}
}

// ColumnFromSchema binds name against schema.
func ColumnFromSchema(name string, schema *Schema) (*Column, error) {
	i := schema.IndexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("column %q not found in schema %s", name, schema)
	}
	return NewColumn(name, i), nil
}

func (c *Column) String() string {
	return fmt.Sprintf("%s@%d", c.Name, c.Index)
}

func (c *Column) Evaluate(batch *RecordBatch) (ColumnarValue, error) {
	if c.Index < 0 || c.Index >= batch.NumColumns() {
		return ColumnarValue{}, fmt.Errorf("column %s out of range for input with %d columns", c, batch.NumColumns())
	}
	return ArrayValue(batch.Column(c.Index)), nil
}

func (c *Column) ReturnField(schema *Schema) (Field, error) {
	if c.Index < 0 || c.Index >= schema.NumFields() {
		return Field{}, fmt.Errorf("column %s out of range for schema with %d fields", c, schema.NumFields())
	}
	return schema.Field(c.Index), nil
}

func (c *Column) Children() []PhysicalExpr { return nil }

// Literal is a constant value. Field metadata carries extension types, so a
// geometry literal can be tagged as well-known binary or text.
type Literal struct {
	Value    Scalar
	Metadata map[string]string
}

var _ PhysicalExpr = (*Literal)(nil)

func NewLiteral(v Scalar) *Literal {
	return &Literal{Value: v}
}

func (l *Literal) String() string { return l.Value.String() }

func (l *Literal) Evaluate(*RecordBatch) (ColumnarValue, error) {
	return ScalarValue(l.Value), nil
}

func (l *Literal) ReturnField(*Schema) (Field, error) {
	f := NewField("lit", l.Value.Type, l.Value.IsNull())
	f.Metadata = l.Metadata
	return f, nil
}

func (l *Literal) Children() []PhysicalExpr { return nil }

// ScalarFunctionExpr calls a scalar function with evaluated arguments.
type ScalarFunctionExpr struct {
	fun  ScalarUDF
	args []PhysicalExpr
}

var _ PhysicalExpr = (*ScalarFunctionExpr)(nil)

func NewScalarFunctionExpr(fun ScalarUDF, args ...PhysicalExpr) *ScalarFunctionExpr {
	return &ScalarFunctionExpr{fun: fun, args: args}
}

func (e *ScalarFunctionExpr) Name() string             { return e.fun.Name() }
func (e *ScalarFunctionExpr) Fun() ScalarUDF           { return e.fun }
func (e *ScalarFunctionExpr) Args() []PhysicalExpr     { return e.args }
func (e *ScalarFunctionExpr) Children() []PhysicalExpr { return e.args }

func (e *ScalarFunctionExpr) String() string {
	args := make([]string, len(e.args))
	for i, a := range e.args {
		args[i] = a.String()
	}
	return e.fun.Name() + "(" + strings.Join(args, ", ") + ")"
}

func (e *ScalarFunctionExpr) Evaluate(batch *RecordBatch) (ColumnarValue, error) {
	args := make([]ColumnarValue, len(e.args))
	fields := make([]Field, len(e.args))
	for i, a := range e.args {
		v, err := a.Evaluate(batch)
		if err != nil {
			return ColumnarValue{}, err
		}
		f, err := a.ReturnField(batch.Schema())
		if err != nil {
			return ColumnarValue{}, err
		}
		args[i] = v
		fields[i] = f
	}
	return e.fun.Invoke(ScalarFunctionArgs{Args: args, ArgFields: fields, NumRows: batch.NumRows()})
}

func (e *ScalarFunctionExpr) ReturnField(schema *Schema) (Field, error) {
	fields := make([]Field, len(e.args))
	for i, a := range e.args {
		f, err := a.ReturnField(schema)
		if err != nil {
			return Field{}, err
		}
		fields[i] = f
	}
	return e.fun.ReturnField(fields)
}

type Operator int

const (
	OpAnd Operator = iota
	OpOr
)

func (o Operator) String() string {
	if o == OpOr {
		return "OR"
	}
	return "AND"
}

// BinaryExpr combines two boolean expressions with SQL three valued logic.
type BinaryExpr struct {
	Op  Operator
	LHS PhysicalExpr
	RHS PhysicalExpr
}

var _ PhysicalExpr = (*BinaryExpr)(nil)

func And(lhs, rhs PhysicalExpr) *BinaryExpr { return &BinaryExpr{Op: OpAnd, LHS: lhs, RHS: rhs} }
func Or(lhs, rhs PhysicalExpr) *BinaryExpr  { return &BinaryExpr{Op: OpOr, LHS: lhs, RHS: rhs} }

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.LHS, e.Op, e.RHS)
}

func (e *BinaryExpr) Children() []PhysicalExpr { return []PhysicalExpr{e.LHS, e.RHS} }

func (e *BinaryExpr) ReturnField(*Schema) (Field, error) {
	return NewField(e.String(), TypeBoolean, true), nil
}

func (e *BinaryExpr) Evaluate(batch *RecordBatch) (ColumnarValue, error) {
	l, err := e.LHS.Evaluate(batch)
	if err != nil {
		return ColumnarValue{}, err
	}
	r, err := e.RHS.Evaluate(batch)
	if err != nil {
		return ColumnarValue{}, err
	}
	if l.DataType() != TypeBoolean && l.DataType() != TypeNull {
		return ColumnarValue{}, fmt.Errorf("%s operand %s is %s, expected boolean", e.Op, e.LHS, l.DataType())
	}
	if r.DataType() != TypeBoolean && r.DataType() != TypeNull {
		return ColumnarValue{}, fmt.Errorf("%s operand %s is %s, expected boolean", e.Op, e.RHS, r.DataType())
	}

	n := batch.NumRows()
	la, err := l.ToArray(n)
	if err != nil {
		return ColumnarValue{}, err
	}
	ra, err := r.ToArray(n)
	if err != nil {
		return ColumnarValue{}, err
	}

	out := newTypedBuilder[bool](TypeBoolean, n)
	for i := 0; i < n; i++ {
		lv, lok := boolAt(la, i)
		rv, rok := boolAt(ra, i)
		switch e.Op {
		case OpAnd:
			switch {
			case (lok && !lv) || (rok && !rv):
				out.AppendValue(false)
			case lok && rok:
				out.AppendValue(true)
			default:
				out.AppendNull()
			}
		case OpOr:
			switch {
			case (lok && lv) || (rok && rv):
				out.AppendValue(true)
			case lok && rok:
				out.AppendValue(false)
			default:
				out.AppendNull()
			}
		}
	}
	return ArrayValue(out.Finish()), nil
}

func boolAt(a Array, i int) (bool, bool) {
	v := a.Value(i)
	if v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// SplitConjunction flattens nested AND expressions into their operands.
func SplitConjunction(expr PhysicalExpr) []PhysicalExpr {
	if b, ok := expr.(*BinaryExpr); ok && b.Op == OpAnd {
		return append(SplitConjunction(b.LHS), SplitConjunction(b.RHS)...)
	}
	return []PhysicalExpr{expr}
}

// Conjunction joins exprs with AND. It returns nil for an empty list.
func Conjunction(exprs []PhysicalExpr) PhysicalExpr {
	var out PhysicalExpr
	for _, e := range exprs {
		if out == nil {
			out = e
			continue
		}
		out = And(out, e)
	}
	return out
}

// Walk calls fn for expr and each of its descendants, depth first. Returning
// false from fn skips the children of that node.
func Walk(expr PhysicalExpr, fn func(PhysicalExpr) bool) {
	if !fn(expr) {
		return
	}
	for _, c := range expr.Children() {
		Walk(c, fn)
	}
}

// ContainsColumn reports whether expr references any input column.
func ContainsColumn(expr PhysicalExpr) bool {
	found := false
	Walk(expr, func(e PhysicalExpr) bool {
		if _, ok := e.(*Column); ok {
			found = true
		}
		return !found
	})
	return found
}

// ReferencedColumns returns the distinct column names referenced by exprs in
// first-seen order.
func ReferencedColumns(exprs ...PhysicalExpr) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, expr := range exprs {
		Walk(expr, func(e PhysicalExpr) bool {
			if c, ok := e.(*Column); ok {
				if _, dup := seen[c.Name]; !dup {
					seen[c.Name] = struct{}{}
					names = append(names, c.Name)
				}
			}
			return true
		})
	}
	return names
}

// RebindColumns returns a copy of expr with every column index resolved by
// name against schema.
func RebindColumns(expr PhysicalExpr, schema *Schema) (PhysicalExpr, error) {
	switch e := expr.(type) {
	case *Column:
		return ColumnFromSchema(e.Name, schema)
	case *BinaryExpr:
		l, err := RebindColumns(e.LHS, schema)
		if err != nil {
			return nil, err
		}
		r, err := RebindColumns(e.RHS, schema)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: e.Op, LHS: l, RHS: r}, nil
	case *ScalarFunctionExpr:
		args := make([]PhysicalExpr, len(e.args))
		for i, a := range e.args {
			na, err := RebindColumns(a, schema)
			if err != nil {
				return nil, err
			}
			args[i] = na
		}
		return NewScalarFunctionExpr(e.fun, args...), nil
	default:
		return expr, nil
	}
}
