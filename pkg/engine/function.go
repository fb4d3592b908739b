package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ScalarFunctionArgs is what a scalar function receives on invocation.
type ScalarFunctionArgs struct {
	Args      []ColumnarValue
	ArgFields []Field
	NumRows   int
}

type ScalarUDF interface {
	Name() string
	ReturnField(args []Field) (Field, error)
	Invoke(args ScalarFunctionArgs) (ColumnarValue, error)
}

// Accumulator folds input rows into a partial aggregate. Partial states from
// different partitions are combined with MergeBatch.
type Accumulator interface {
	UpdateBatch(values []Array) error
	MergeBatch(states []Array) error
	State() ([]Scalar, error)
	Evaluate() (Scalar, error)
}

type AggregateUDF interface {
	Name() string
	ReturnField(args []Field) (Field, error)
	StateFields(args []Field) ([]Field, error)
	Accumulator(args []Field) (Accumulator, error)
}

// Registry holds the functions available to a session. Names are case
// insensitive.
type Registry struct {
	mtx        sync.RWMutex
	scalars    map[string]ScalarUDF
	aggregates map[string]AggregateUDF
}

func NewRegistry() *Registry {
	return &Registry{
		scalars:    map[string]ScalarUDF{},
		aggregates: map[string]AggregateUDF{},
	}
}

func (r *Registry) RegisterUDF(f ScalarUDF) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.scalars[strings.ToLower(f.Name())] = f
}

func (r *Registry) RegisterUDAF(f AggregateUDF) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.aggregates[strings.ToLower(f.Name())] = f
}

func (r *Registry) UDF(name string) (ScalarUDF, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	f, ok := r.scalars[strings.ToLower(name)]
	return f, ok
}

func (r *Registry) UDAF(name string) (AggregateUDF, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	f, ok := r.aggregates[strings.ToLower(name)]
	return f, ok
}

// Call builds a call to the named scalar function.
func (r *Registry) Call(name string, args ...PhysicalExpr) (*ScalarFunctionExpr, error) {
	f, ok := r.UDF(name)
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	return NewScalarFunctionExpr(f, args...), nil
}

// Names returns the registered scalar and aggregate function names, sorted.
func (r *Registry) Names() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	names := make([]string, 0, len(r.scalars)+len(r.aggregates))
	for n := range r.scalars {
		names = append(names, n)
	}
	for n := range r.aggregates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
