package geo

import "github.com/twpayne/go-geom"

// Relater answers topological relationship tests between two geometries.
// Exact implementations live outside this repository; st_intersects calls
// whichever Relater it was registered with.
type Relater interface {
	Intersects(a, b geom.T) (bool, error)
}

// EnvelopeRelater compares bounding boxes only. Two geometries whose boxes
// overlap are reported as intersecting, so it can return true for
// geometries that do not actually touch. Empty geometries never intersect.
type EnvelopeRelater struct{}

var _ Relater = EnvelopeRelater{}

func (EnvelopeRelater) Intersects(a, b geom.T) (bool, error) {
	ba, ok := BoundsOf(a)
	if !ok {
		return false, nil
	}
	bb, ok := BoundsOf(b)
	if !ok {
		return false, nil
	}
	return ba.Intersects(bb), nil
}
