package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
)

type tableOptions struct {
	Format string   `help:"format of the files (flatgeobuf/geoparquet/parquet), detected from the extension when empty" default:""`
	Files  []string `arg:"" help:"object locations within the bucket, a trailing / lists a directory"`
}

type filterOptions struct {
	BBox     string `name:"bbox" help:"keep features intersecting xmin,ymin,xmax,ymax"`
	Geometry string `help:"geometry column the bounding box applies to, the first geometry column when empty"`
}

func (f *filterOptions) box() (*geo.BoundingBox, error) {
	if f.BBox == "" {
		return nil, nil
	}
	b, err := parseBBox(f.BBox)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// parseBBox reads "xmin,ymin,xmax,ymax".
func parseBBox(s string) (geo.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.BoundingBox{}, fmt.Errorf("bbox %q must have four comma separated values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.BoundingBox{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	return geo.NewBoundingBox(v[0], v[1], v[2], v[3])
}

// batchRows renders the rows of b as table rows. Geometry columns are
// shown as WKT.
func batchRows(b *engine.RecordBatch) ([]table.Row, error) {
	schema := b.Schema()
	geoms := make([]*engine.GeometryArray, b.NumColumns())
	for i, f := range schema.Fields() {
		if !geoarrow.IsGeometryField(f) {
			continue
		}
		arr, err := geoarrow.FromArray(b.Column(i), f)
		if err != nil {
			return nil, err
		}
		geoms[i] = arr
	}

	rows := make([]table.Row, b.NumRows())
	for r := range rows {
		row := make(table.Row, b.NumColumns())
		for c := range row {
			if geoms[c] != nil {
				g, _ := geoms[c].At(r)
				row[c] = geoarrow.FormatWKT(g)
				continue
			}
			row[c] = formatValue(b.Column(c).Value(r))
		}
		rows[r] = row
	}
	return rows, nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		if len(v) > 16 {
			return hex.EncodeToString(v[:16]) + "..."
		}
		return hex.EncodeToString(v)
	default:
		return fmt.Sprint(v)
	}
}

func headerRow(schema *engine.Schema) table.Row {
	row := make(table.Row, schema.NumFields())
	for i, f := range schema.Fields() {
		row[i] = f.Name
	}
	return row
}
