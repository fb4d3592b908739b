package engine

import (
	"fmt"
	"strings"
)

// ProjectionExprs selects columns of a base schema by index.
type ProjectionExprs struct {
	base    *Schema
	indices []int
}

// ProjectionFromIndices validates indices against base.
func ProjectionFromIndices(indices []int, base *Schema) (*ProjectionExprs, error) {
	for _, i := range indices {
		if i < 0 || i >= base.NumFields() {
			return nil, NewPlanningError("projection index %d out of range for schema with %d fields", i, base.NumFields())
		}
	}
	return &ProjectionExprs{base: base, indices: append([]int(nil), indices...)}, nil
}

// ProjectionFromNames resolves column names against base.
func ProjectionFromNames(names []string, base *Schema) (*ProjectionExprs, error) {
	indices := make([]int, 0, len(names))
	for _, n := range names {
		i := base.IndexOf(n)
		if i < 0 {
			return nil, NewPlanningError("projected column %q not found in schema %s", n, base)
		}
		indices = append(indices, i)
	}
	return &ProjectionExprs{base: base, indices: indices}, nil
}

// AllColumns projects every column of base in order.
func AllColumns(base *Schema) *ProjectionExprs {
	indices := make([]int, base.NumFields())
	for i := range indices {
		indices[i] = i
	}
	return &ProjectionExprs{base: base, indices: indices}
}

func (p *ProjectionExprs) Base() *Schema { return p.base }

func (p *ProjectionExprs) Indices() []int {
	return append([]int(nil), p.indices...)
}

func (p *ProjectionExprs) Contains(i int) bool {
	for _, j := range p.indices {
		if i == j {
			return true
		}
	}
	return false
}

// TryMerge combines two projections over the same base schema. The result
// keeps the columns of p in order followed by the columns only o selects.
// Either side may be nil, in which case the other is returned.
func (p *ProjectionExprs) TryMerge(o *ProjectionExprs) (*ProjectionExprs, error) {
	if p == nil {
		return o, nil
	}
	if o == nil {
		return p, nil
	}
	if !p.base.Equal(o.base) {
		return nil, NewPlanningError("cannot merge projections over different schemas %s and %s", p.base, o.base)
	}
	merged := append([]int(nil), p.indices...)
	for _, i := range o.indices {
		if i < 0 || i >= p.base.NumFields() {
			return nil, NewPlanningError("projection index %d out of range for schema with %d fields", i, p.base.NumFields())
		}
		if !p.Contains(i) {
			merged = append(merged, i)
		}
	}
	return &ProjectionExprs{base: p.base, indices: merged}, nil
}

// ProjectSchema applies the projection to schema, which must be compatible
// with the base it was built against.
func (p *ProjectionExprs) ProjectSchema(schema *Schema) (*Schema, error) {
	out, err := schema.Project(p.indices)
	if err != nil {
		return nil, WrapPlanningError(err, "applying projection %s", p)
	}
	return out, nil
}

func (p *ProjectionExprs) String() string {
	names := make([]string, len(p.indices))
	for j, i := range p.indices {
		names[j] = fmt.Sprintf("%s@%d", p.base.Field(i).Name, i)
	}
	return "[" + strings.Join(names, ", ") + "]"
}
