// Package pushdown recognizes filter shapes that a spatially indexed scan can
// answer with a bounding box query.
package pushdown

import (
	"strings"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
)

// IntersectsFunctionName is the canonical name of the spatial intersects
// function. Matching is case insensitive.
const IntersectsFunctionName = "st_intersects"

// ExtractBBox returns the bounding box of the constant geometry in a call of
// the form st_intersects(<geometry column>, <constant>). Any other shape is
// reported as not applicable by returning false with a nil error. A
// constant that is syntactically in place but cannot be evaluated is
// returned as a planning error.
//
// schema may be nil, in which case the column type is not checked.
func ExtractBBox(expr engine.PhysicalExpr, schema *engine.Schema) (geo.BoundingBox, bool, error) {
	call, ok := expr.(*engine.ScalarFunctionExpr)
	if !ok || !strings.EqualFold(call.Name(), IntersectsFunctionName) {
		return geo.BoundingBox{}, false, nil
	}
	args := call.Args()
	if len(args) != 2 {
		return geo.BoundingBox{}, false, nil
	}

	col, ok := args[0].(*engine.Column)
	if !ok {
		return geo.BoundingBox{}, false, nil
	}
	if schema != nil {
		if f, found := schema.FieldByName(col.Name); found && !geoarrow.IsGeometryField(f) {
			return geo.BoundingBox{}, false, nil
		}
	}

	// Anything that reads a column varies per row.
	constant := args[1]
	if engine.ContainsColumn(constant) {
		return geo.BoundingBox{}, false, nil
	}

	empty := engine.NewEmptyRecordBatch(engine.EmptySchema)
	value, err := constant.Evaluate(empty)
	if err != nil {
		return geo.BoundingBox{}, false, engine.WrapPlanningError(err, "evaluating constant argument %s of %s", constant, call.Name())
	}
	field, err := constant.ReturnField(engine.EmptySchema)
	if err != nil {
		return geo.BoundingBox{}, false, engine.WrapPlanningError(err, "resolving type of %s", constant)
	}

	arr, err := value.ToArray(1)
	if err != nil {
		return geo.BoundingBox{}, false, engine.WrapPlanningError(err, "materializing %s", constant)
	}
	if arr.Len() != 1 || arr.IsNull(0) {
		return geo.BoundingBox{}, false, nil
	}

	geoms, err := geoarrow.FromArray(arr, field)
	if err != nil {
		// not a geometry after all
		return geo.BoundingBox{}, false, nil
	}
	box, ok := geoarrow.TotalBounds(geoms).Box()
	if !ok {
		return geo.BoundingBox{}, false, nil
	}
	return box, true, nil
}
