package geoparquet

import (
	"fmt"

	pq "github.com/parquet-go/parquet-go"

	"github.com/grafana/geoscan/datasource/parquet"
	"github.com/grafana/geoscan/pkg/geo"
	pqq "github.com/grafana/geoscan/pkg/parquetquery"
)

// bboxPruner skips files whose geo bbox and row groups whose bbox covering
// statistics are disjoint from box. Anything it cannot prove disjoint is
// kept.
type bboxPruner struct {
	box geo.BoundingBox
	// column is the geometry column of the filter, the primary column when
	// empty.
	column string
}

var _ parquet.Pruner = (*bboxPruner)(nil)

func newBBoxPruner(box geo.BoundingBox, column string) *bboxPruner {
	return &bboxPruner{box: box, column: column}
}

func (p *bboxPruner) String() string {
	return fmt.Sprintf("bbox(%s)", p.box)
}

func (p *bboxPruner) columnMetadata(pf *pq.File) (ColumnMetadata, bool) {
	md, ok := FileMetadata(pf)
	if !ok {
		return ColumnMetadata{}, false
	}
	name := p.column
	if name == "" {
		name = md.PrimaryColumn
	}
	col, ok := md.Columns[name]
	return col, ok
}

func (p *bboxPruner) KeepFile(pf *pq.File) bool {
	col, ok := p.columnMetadata(pf)
	if !ok {
		return true
	}
	box, ok := col.Box()
	if !ok {
		return true
	}
	return box.Intersects(p.box)
}

func (p *bboxPruner) KeepRowGroup(pf *pq.File, rg pq.RowGroup) bool {
	col, ok := p.columnMetadata(pf)
	if !ok || col.Covering == nil || col.Covering.BBox == nil {
		return true
	}
	box, ok := coveringBounds(pf, rg, col.Covering.BBox.Paths())
	if !ok {
		return true
	}
	return box.Intersects(p.box)
}

// coveringBounds derives the row group box from the chunk statistics of
// the covering columns: the minimum of xmin and ymin and the maximum of xmax
// and ymax.
func coveringBounds(pf *pq.File, rg pq.RowGroup, paths [4]string) (geo.BoundingBox, bool) {
	chunks := rg.ColumnChunks()
	var v [4]float64
	for i, path := range paths {
		index, _, _ := pqq.GetColumnIndexByPath(pf, path)
		if index < 0 || index >= len(chunks) {
			return geo.BoundingBox{}, false
		}
		fc, ok := chunks[index].(*pq.FileColumnChunk)
		if !ok {
			return geo.BoundingBox{}, false
		}
		minValue, maxValue, ok := fc.Bounds()
		if !ok {
			return geo.BoundingBox{}, false
		}
		bound := minValue
		if i >= 2 {
			bound = maxValue
		}
		if v[i], ok = floatOf(bound); !ok {
			return geo.BoundingBox{}, false
		}
	}
	box, err := geo.NewBoundingBox(v[0], v[1], v[2], v[3])
	if err != nil {
		return geo.BoundingBox{}, false
	}
	return box, true
}

func floatOf(v pq.Value) (float64, bool) {
	if v.IsNull() {
		return 0, false
	}
	switch v.Kind() {
	case pq.Float:
		return float64(v.Float()), true
	case pq.Double:
		return v.Double(), true
	case pq.Int32:
		return float64(v.Int32()), true
	case pq.Int64:
		return float64(v.Int64()), true
	default:
		return 0, false
	}
}
