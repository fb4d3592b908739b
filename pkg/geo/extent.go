package geo

// Extent accumulates the union of bounding boxes. The zero value is empty.
//
// Merging is coordinate-wise min/max, so the order in which partial extents
// are combined never changes the result, and an empty extent is the identity.
type Extent struct {
	box   BoundingBox
	valid bool
}

// NewExtent returns an extent holding exactly b.
func NewExtent(b BoundingBox) Extent {
	return Extent{box: b, valid: true}
}

// IsEmpty reports whether no box was added yet.
func (e Extent) IsEmpty() bool {
	return !e.valid
}

// Add grows the extent to enclose b.
func (e *Extent) Add(b BoundingBox) {
	if !e.valid {
		e.box = b
		e.valid = true
		return
	}
	e.box = e.box.Union(b)
}

// Merge grows the extent to enclose o. Merging an empty extent is a no-op.
func (e *Extent) Merge(o Extent) {
	if !o.valid {
		return
	}
	e.Add(o.box)
}

// Box returns the accumulated box, or false when the extent is empty.
func (e Extent) Box() (BoundingBox, bool) {
	return e.box, e.valid
}
