package flatgeobuf

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/pkg/flatgeobuf/fbs"
)

func layoutFor(hasZ, hasM bool) geom.Layout {
	switch {
	case hasZ && hasM:
		return geom.XYZM
	case hasZ:
		return geom.XYZ
	case hasM:
		return geom.XYM
	default:
		return geom.XY
	}
}

// flatCoords interleaves the separate xy, z and m vectors of g.
func flatCoords(g *fbs.Geometry, layout geom.Layout) ([]float64, error) {
	xyLen := g.XyLength()
	if xyLen%2 != 0 {
		return nil, fmt.Errorf("odd number of xy values: %d", xyLen)
	}
	n := xyLen / 2
	stride := layout.Stride()
	zLen, mLen := g.ZLength(), g.MLength()

	out := make([]float64, 0, n*stride)
	for i := 0; i < n; i++ {
		out = append(out, g.Xy(2*i), g.Xy(2*i+1))
		if layout.ZIndex() >= 0 {
			z := 0.0
			if i < zLen {
				z = g.Z(i)
			}
			out = append(out, z)
		}
		if layout.MIndex() >= 0 {
			m := 0.0
			if i < mLen {
				m = g.M(i)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// ends converts vertex end positions into flat coordinate offsets. With no
// ends stored the whole coordinate list is a single part.
func ends(g *fbs.Geometry, numCoords, stride int) []int {
	n := g.EndsLength()
	if n == 0 {
		if numCoords == 0 {
			return nil
		}
		return []int{numCoords}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(g.Ends(i)) * stride
	}
	return out
}

func decodeGeometry(g *fbs.Geometry, typ fbs.GeometryType, layout geom.Layout) (geom.T, error) {
	if t := g.Type(); t != fbs.GeometryTypeUnknown {
		typ = t
	}

	switch typ {
	case fbs.GeometryTypeMultiPolygon:
		mp := geom.NewMultiPolygon(layout)
		var part fbs.Geometry
		for i := 0; i < g.PartsLength(); i++ {
			g.Parts(&part, i)
			p, err := decodeGeometry(&part, fbs.GeometryTypePolygon, layout)
			if err != nil {
				return nil, err
			}
			if err := mp.Push(p.(*geom.Polygon)); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case fbs.GeometryTypeGeometryCollection:
		gc := geom.NewGeometryCollection()
		var part fbs.Geometry
		for i := 0; i < g.PartsLength(); i++ {
			g.Parts(&part, i)
			p, err := decodeGeometry(&part, fbs.GeometryTypeUnknown, layout)
			if err != nil {
				return nil, err
			}
			if err := gc.Push(p); err != nil {
				return nil, err
			}
		}
		return gc, nil
	}

	coords, err := flatCoords(g, layout)
	if err != nil {
		return nil, err
	}
	switch typ {
	case fbs.GeometryTypePoint:
		if len(coords) == 0 {
			return geom.NewPointEmpty(layout), nil
		}
		return geom.NewPointFlat(layout, coords[:layout.Stride()]), nil
	case fbs.GeometryTypeMultiPoint:
		return geom.NewMultiPointFlat(layout, coords), nil
	case fbs.GeometryTypeLineString:
		return geom.NewLineStringFlat(layout, coords), nil
	case fbs.GeometryTypeMultiLineString:
		return geom.NewMultiLineStringFlat(layout, coords, ends(g, len(coords), layout.Stride())), nil
	case fbs.GeometryTypePolygon:
		return geom.NewPolygonFlat(layout, coords, ends(g, len(coords), layout.Stride())), nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", typ)
	}
}

// geometryTypeOf maps a go-geom value to the FlatGeobuf enum.
func geometryTypeOf(g geom.T) (fbs.GeometryType, error) {
	switch g.(type) {
	case *geom.Point:
		return fbs.GeometryTypePoint, nil
	case *geom.LineString:
		return fbs.GeometryTypeLineString, nil
	case *geom.Polygon:
		return fbs.GeometryTypePolygon, nil
	case *geom.MultiPoint:
		return fbs.GeometryTypeMultiPoint, nil
	case *geom.MultiLineString:
		return fbs.GeometryTypeMultiLineString, nil
	case *geom.MultiPolygon:
		return fbs.GeometryTypeMultiPolygon, nil
	case *geom.GeometryCollection:
		return fbs.GeometryTypeGeometryCollection, nil
	default:
		return fbs.GeometryTypeUnknown, fmt.Errorf("unsupported geometry %T", g)
	}
}

// encodeGeometry writes g. The type is stored on the geometry only when the
// header does not fix one.
func encodeGeometry(b *flatbuffers.Builder, g geom.T, headerType fbs.GeometryType) (flatbuffers.UOffsetT, error) {
	typ, err := geometryTypeOf(g)
	if err != nil {
		return 0, err
	}

	var parts []flatbuffers.UOffsetT
	switch t := g.(type) {
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			off, err := encodeGeometry(b, t.Polygon(i), fbs.GeometryTypePolygon)
			if err != nil {
				return 0, err
			}
			parts = append(parts, off)
		}
	case *geom.GeometryCollection:
		for i := 0; i < t.NumGeoms(); i++ {
			off, err := encodeGeometry(b, t.Geom(i), fbs.GeometryTypeUnknown)
			if err != nil {
				return 0, err
			}
			parts = append(parts, off)
		}
	}

	var partsVec, endsVec, xyVec, zVec, mVec flatbuffers.UOffsetT
	if parts != nil {
		fbs.GeometryStartPartsVector(b, len(parts))
		for i := len(parts) - 1; i >= 0; i-- {
			b.PrependUOffsetT(parts[i])
		}
		partsVec = b.EndVector(len(parts))
	} else {
		layout := g.Layout()
		stride := layout.Stride()
		coords := g.FlatCoords()
		n := len(coords) / stride

		if typ == fbs.GeometryTypePolygon || typ == fbs.GeometryTypeMultiLineString {
			if e := g.Ends(); len(e) > 1 {
				fbs.GeometryStartEndsVector(b, len(e))
				for i := len(e) - 1; i >= 0; i-- {
					b.PrependUint32(uint32(e[i] / stride))
				}
				endsVec = b.EndVector(len(e))
			}
		}

		fbs.GeometryStartXyVector(b, 2*n)
		for i := n - 1; i >= 0; i-- {
			b.PrependFloat64(coords[i*stride+1])
			b.PrependFloat64(coords[i*stride])
		}
		xyVec = b.EndVector(2 * n)

		if zi := layout.ZIndex(); zi >= 0 {
			fbs.GeometryStartZVector(b, n)
			for i := n - 1; i >= 0; i-- {
				b.PrependFloat64(coords[i*stride+zi])
			}
			zVec = b.EndVector(n)
		}
		if mi := layout.MIndex(); mi >= 0 {
			fbs.GeometryStartMVector(b, n)
			for i := n - 1; i >= 0; i-- {
				b.PrependFloat64(coords[i*stride+mi])
			}
			mVec = b.EndVector(n)
		}
	}

	fbs.GeometryStart(b)
	if endsVec != 0 {
		fbs.GeometryAddEnds(b, endsVec)
	}
	if xyVec != 0 {
		fbs.GeometryAddXy(b, xyVec)
	}
	if zVec != 0 {
		fbs.GeometryAddZ(b, zVec)
	}
	if mVec != 0 {
		fbs.GeometryAddM(b, mVec)
	}
	if partsVec != 0 {
		fbs.GeometryAddParts(b, partsVec)
	}
	if headerType == fbs.GeometryTypeUnknown || typ != headerType {
		fbs.GeometryAddType(b, typ)
	}
	return fbs.GeometryEnd(b), nil
}
