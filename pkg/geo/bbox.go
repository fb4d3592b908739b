// Package geo holds the planar bounding box used for spatial pruning and
// the Extent state that accumulates boxes across partitions.
package geo

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

// BoundingBox is an axis aligned rectangle in a planar coordinate reference.
// A constructed box always satisfies MinX <= MaxX and MinY <= MaxY.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBoundingBox validates the bounds and returns the box.
func NewBoundingBox(minX, minY, maxX, maxY float64) (BoundingBox, error) {
	for _, v := range []float64{minX, minY, maxX, maxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoundingBox{}, fmt.Errorf("bounding box coordinates must be finite: (%v, %v, %v, %v)", minX, minY, maxX, maxY)
		}
	}
	if minX > maxX || minY > maxY {
		return BoundingBox{}, fmt.Errorf("bounding box min exceeds max: (%v, %v, %v, %v)", minX, minY, maxX, maxY)
	}
	return BoundingBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}, nil
}

// MustBoundingBox is NewBoundingBox for literals known to be valid.
func MustBoundingBox(minX, minY, maxX, maxY float64) BoundingBox {
	b, err := NewBoundingBox(minX, minY, maxX, maxY)
	if err != nil {
		panic(err)
	}
	return b
}

// FromBounds converts go-geom bounds. It returns false for empty bounds, which
// is what empty geometries produce.
func FromBounds(b *geom.Bounds) (BoundingBox, bool) {
	if b == nil || b.IsEmpty() {
		return BoundingBox{}, false
	}
	return BoundingBox{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}, true
}

// BoundsOf returns the xy bounds of g, or false if g is nil or empty.
func BoundsOf(g geom.T) (BoundingBox, bool) {
	if g == nil {
		return BoundingBox{}, false
	}
	return FromBounds(g.Bounds())
}

// Intersects reports whether the two boxes share at least one point.
// Touching edges intersect.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX && b.MinY <= o.MaxY && b.MaxY >= o.MinY
}

// Contains reports whether o lies completely inside b.
func (b BoundingBox) Contains(o BoundingBox) bool {
	return b.MinX <= o.MinX && b.MaxX >= o.MaxX && b.MinY <= o.MinY && b.MaxY >= o.MaxY
}

// Union returns the smallest box enclosing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Array returns the box as [minx, miny, maxx, maxy].
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// Polygon returns the box as a closed polygon ring in XY layout.
func (b BoundingBox) Polygon() *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		b.MinX, b.MinY,
		b.MaxX, b.MinY,
		b.MaxX, b.MaxY,
		b.MinX, b.MaxY,
		b.MinX, b.MinY,
	}, []int{10})
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("BOX(%g %g,%g %g)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}
