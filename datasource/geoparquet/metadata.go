package geoparquet

import (
	"fmt"
	"strings"

	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	pq "github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"

	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/util/log"
)

// MetadataKey is the Parquet key/value metadata entry holding the geo
// column descriptions.
const MetadataKey = "geo"

const (
	EncodingWKB = "WKB"

	// DefaultCRS applies when a column does not carry a crs member.
	DefaultCRS = "OGC:CRS84"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Metadata struct {
	Version       string                    `json:"version"`
	PrimaryColumn string                    `json:"primary_column"`
	Columns       map[string]ColumnMetadata `json:"columns"`
}

type ColumnMetadata struct {
	Encoding      string              `json:"encoding"`
	GeometryTypes []string            `json:"geometry_types"`
	CRS           jsoniter.RawMessage `json:"crs,omitempty"`
	BBox          []float64           `json:"bbox,omitempty"`
	Covering      *Covering           `json:"covering,omitempty"`
}

type Covering struct {
	BBox *BBoxCovering `json:"bbox,omitempty"`
}

// BBoxCovering names the struct fields of a per row bounding box column,
// each as a path from the schema root.
type BBoxCovering struct {
	XMin []string `json:"xmin"`
	YMin []string `json:"ymin"`
	XMax []string `json:"xmax"`
	YMax []string `json:"ymax"`
}

// Paths returns the dotted column paths in xmin, ymin, xmax, ymax order.
func (c BBoxCovering) Paths() [4]string {
	return [4]string{
		strings.Join(c.XMin, "."),
		strings.Join(c.YMin, "."),
		strings.Join(c.XMax, "."),
		strings.Join(c.YMax, "."),
	}
}

func ParseMetadata(s string) (*Metadata, error) {
	var md Metadata
	if err := json.UnmarshalFromString(s, &md); err != nil {
		return nil, errors.Wrap(err, "parsing geo metadata")
	}
	if md.PrimaryColumn == "" {
		return nil, errors.New("geo metadata has no primary_column")
	}
	return &md, nil
}

// lookupMetadata reads the geo metadata from a schema or file key/value
// lookup. Malformed metadata is logged and treated as absent.
func lookupMetadata(lookup func(string) (string, bool), source string) (*Metadata, bool) {
	raw, ok := lookup(MetadataKey)
	if !ok {
		return nil, false
	}
	md, err := ParseMetadata(raw)
	if err != nil {
		level.Warn(log.Logger).Log("msg", "ignoring malformed geo metadata", "source", source, "err", err)
		return nil, false
	}
	return md, true
}

func SchemaMetadata(schema *engine.Schema) (*Metadata, bool) {
	return lookupMetadata(schema.Metadata, "schema")
}

func FileMetadata(pf *pq.File) (*Metadata, bool) {
	return lookupMetadata(pf.Lookup, "file")
}

// CRSString renders the crs member as AUTHORITY:CODE when it is PROJJSON with
// an id, the string itself when it is a string, and DefaultCRS when it is
// missing. An explicit null means unknown and yields "".
func (c ColumnMetadata) CRSString() string {
	raw := strings.TrimSpace(string(c.CRS))
	switch {
	case raw == "":
		return DefaultCRS
	case raw == "null":
		return ""
	}

	var s string
	if err := json.UnmarshalFromString(raw, &s); err == nil {
		return s
	}

	var projjson struct {
		Name string `json:"name"`
		ID   *struct {
			Authority string `json:"authority"`
			Code      any    `json:"code"`
		} `json:"id"`
	}
	if err := json.UnmarshalFromString(raw, &projjson); err != nil {
		return raw
	}
	if projjson.ID != nil && projjson.ID.Authority != "" {
		return fmt.Sprintf("%s:%v", projjson.ID.Authority, projjson.ID.Code)
	}
	if projjson.Name != "" {
		return projjson.Name
	}
	return raw
}

// Box returns the two dimensional bbox member. Both the 4 value and the
// 6 value (with z) forms are accepted.
func (c ColumnMetadata) Box() (geo.BoundingBox, bool) {
	var minX, minY, maxX, maxY float64
	switch len(c.BBox) {
	case 4:
		minX, minY, maxX, maxY = c.BBox[0], c.BBox[1], c.BBox[2], c.BBox[3]
	case 6:
		minX, minY, maxX, maxY = c.BBox[0], c.BBox[1], c.BBox[3], c.BBox[4]
	default:
		return geo.BoundingBox{}, false
	}
	box, err := geo.NewBoundingBox(minX, minY, maxX, maxY)
	if err != nil {
		// antimeridian crossing boxes have minX > maxX
		return geo.BoundingBox{}, false
	}
	return box, true
}

func (c ColumnMetadata) IsWKB() bool {
	return strings.EqualFold(c.Encoding, EncodingWKB)
}
