package udf

import (
	"fmt"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
)

// Extent is the st_extent aggregate: the bounding box of every non-null,
// non-empty geometry of its input. The result is null when nothing was
// seen.
type Extent struct{}

var _ engine.AggregateUDF = Extent{}

func (Extent) Name() string { return "st_extent" }

func (a Extent) ReturnField(args []engine.Field) (engine.Field, error) {
	if err := checkArity(a.Name(), args, 1); err != nil {
		return engine.Field{}, err
	}
	if !isGeometryArg(args[0]) && args[0].Type != engine.TypeBox2D {
		return engine.Field{}, fmt.Errorf("%s: argument is not a geometry: %s", a.Name(), args[0])
	}
	return boxField(a.Name()), nil
}

// StateFields is the partial state shipped between partitions. All four
// values are null for an empty extent.
func (Extent) StateFields([]engine.Field) ([]engine.Field, error) {
	return []engine.Field{
		engine.NewField("xmin", engine.TypeFloat64, true),
		engine.NewField("ymin", engine.TypeFloat64, true),
		engine.NewField("xmax", engine.TypeFloat64, true),
		engine.NewField("ymax", engine.TypeFloat64, true),
	}, nil
}

func (a Extent) Accumulator(args []engine.Field) (engine.Accumulator, error) {
	if _, err := a.ReturnField(args); err != nil {
		return nil, err
	}
	return &ExtentAccumulator{field: args[0]}, nil
}

type ExtentAccumulator struct {
	field  engine.Field
	extent geo.Extent
}

var _ engine.Accumulator = (*ExtentAccumulator)(nil)

func (a *ExtentAccumulator) UpdateBatch(values []engine.Array) error {
	if len(values) != 1 {
		return fmt.Errorf("st_extent: expected 1 input column, got %d", len(values))
	}
	in := values[0]
	for i := 0; i < in.Len(); i++ {
		b, ok, err := boxAt(in, a.field, i)
		if err != nil {
			return fmt.Errorf("st_extent: %w", err)
		}
		if ok {
			a.extent.Add(b)
		}
	}
	return nil
}

func (a *ExtentAccumulator) MergeBatch(states []engine.Array) error {
	if len(states) != 4 {
		return fmt.Errorf("st_extent: expected 4 state columns, got %d", len(states))
	}
	cols := make([]*engine.Float64Array, 4)
	for i, s := range states {
		c, ok := s.(*engine.Float64Array)
		if !ok {
			return fmt.Errorf("st_extent: state column %d is %s, expected float64", i, s.DataType())
		}
		cols[i] = c
	}
	for row := 0; row < cols[0].Len(); row++ {
		var v [4]float64
		valid := true
		for i, c := range cols {
			var ok bool
			if v[i], ok = c.At(row); !ok {
				valid = false
				break
			}
		}
		if valid {
			a.extent.Merge(geo.NewExtent(geo.BoundingBox{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}))
		}
	}
	return nil
}

func (a *ExtentAccumulator) State() ([]engine.Scalar, error) {
	b, ok := a.extent.Box()
	if !ok {
		null := engine.NullScalar(engine.TypeFloat64)
		return []engine.Scalar{null, null, null, null}, nil
	}
	out := make([]engine.Scalar, 4)
	for i, v := range b.Array() {
		out[i] = engine.NewScalar(engine.TypeFloat64, v)
	}
	return out, nil
}

func (a *ExtentAccumulator) Evaluate() (engine.Scalar, error) {
	b, ok := a.extent.Box()
	if !ok {
		return engine.NullScalar(engine.TypeBox2D), nil
	}
	return engine.NewScalar(engine.TypeBox2D, b), nil
}
