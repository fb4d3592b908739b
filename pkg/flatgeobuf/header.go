package flatgeobuf

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/grafana/geoscan/pkg/flatgeobuf/fbs"
)

type (
	GeometryType = fbs.GeometryType
	ColumnType   = fbs.ColumnType
)

// Header is the decoded file header.
type Header struct {
	Name          string
	Title         string
	Description   string
	Metadata      string
	Envelope      []float64
	GeometryType  GeometryType
	HasZ          bool
	HasM          bool
	Columns       []Column
	// FeaturesCount is zero when unknown.
	FeaturesCount uint64
	// IndexNodeSize is zero when the file has no spatial index.
	IndexNodeSize uint16
	CRS           *CRS
}

type Column struct {
	Name        string
	Type        ColumnType
	Title       string
	Description string
	Nullable    bool
}

type CRS struct {
	Org         string
	Code        int32
	Name        string
	Description string
	WKT         string
	CodeString  string
}

// String renders the CRS the way GeoParquet and GeoArrow metadata expect,
// preferring an authority code.
func (c *CRS) String() string {
	if c == nil {
		return ""
	}
	org := c.Org
	if org == "" {
		org = "EPSG"
	}
	switch {
	case c.CodeString != "":
		return org + ":" + c.CodeString
	case c.Code != 0:
		return fmt.Sprintf("%s:%d", org, c.Code)
	default:
		return c.WKT
	}
}

// HasIndex reports whether a packed R-tree follows the header.
func (h *Header) HasIndex() bool {
	return h.IndexNodeSize > 0 && h.FeaturesCount > 0
}

func decodeHeader(buf []byte) (h *Header, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt header: %v", r)
		}
	}()

	fb := fbs.GetSizePrefixedRootAsHeader(buf, 0)
	h = &Header{
		Name:          string(fb.Name()),
		Title:         string(fb.Title()),
		Description:   string(fb.Description()),
		Metadata:      string(fb.Metadata()),
		GeometryType:  fb.GeometryType(),
		HasZ:          fb.HasZ(),
		HasM:          fb.HasM(),
		FeaturesCount: fb.FeaturesCount(),
		IndexNodeSize: fb.IndexNodeSize(),
	}
	for i := 0; i < fb.EnvelopeLength(); i++ {
		h.Envelope = append(h.Envelope, fb.Envelope(i))
	}

	var col fbs.Column
	for i := 0; i < fb.ColumnsLength(); i++ {
		fb.Columns(&col, i)
		h.Columns = append(h.Columns, Column{
			Name:        string(col.Name()),
			Type:        col.Type(),
			Title:       string(col.Title()),
			Description: string(col.Description()),
			Nullable:    col.Nullable(),
		})
	}

	if crs := fb.Crs(nil); crs != nil {
		h.CRS = &CRS{
			Org:         string(crs.Org()),
			Code:        crs.Code(),
			Name:        string(crs.Name()),
			Description: string(crs.Description()),
			WKT:         string(crs.Wkt()),
			CodeString:  string(crs.CodeString()),
		}
	}
	return h, nil
}

// encodeHeader returns the size prefixed header table.
func encodeHeader(h *Header) []byte {
	b := flatbuffers.NewBuilder(1024)

	optString := func(s string) flatbuffers.UOffsetT {
		if s == "" {
			return 0
		}
		return b.CreateString(s)
	}

	cols := make([]flatbuffers.UOffsetT, len(h.Columns))
	for i, c := range h.Columns {
		name := b.CreateString(c.Name)
		title := optString(c.Title)
		desc := optString(c.Description)
		fbs.ColumnStart(b)
		fbs.ColumnAddName(b, name)
		fbs.ColumnAddType(b, c.Type)
		if title != 0 {
			fbs.ColumnAddTitle(b, title)
		}
		if desc != 0 {
			fbs.ColumnAddDescription(b, desc)
		}
		fbs.ColumnAddNullable(b, c.Nullable)
		cols[i] = fbs.ColumnEnd(b)
	}
	var colsVec flatbuffers.UOffsetT
	if len(cols) > 0 {
		fbs.HeaderStartColumnsVector(b, len(cols))
		for i := len(cols) - 1; i >= 0; i-- {
			b.PrependUOffsetT(cols[i])
		}
		colsVec = b.EndVector(len(cols))
	}

	var envVec flatbuffers.UOffsetT
	if len(h.Envelope) > 0 {
		fbs.HeaderStartEnvelopeVector(b, len(h.Envelope))
		for i := len(h.Envelope) - 1; i >= 0; i-- {
			b.PrependFloat64(h.Envelope[i])
		}
		envVec = b.EndVector(len(h.Envelope))
	}

	var crs flatbuffers.UOffsetT
	if h.CRS != nil {
		org := optString(h.CRS.Org)
		name := optString(h.CRS.Name)
		desc := optString(h.CRS.Description)
		wkt := optString(h.CRS.WKT)
		code := optString(h.CRS.CodeString)
		fbs.CrsStart(b)
		if org != 0 {
			fbs.CrsAddOrg(b, org)
		}
		fbs.CrsAddCode(b, h.CRS.Code)
		if name != 0 {
			fbs.CrsAddName(b, name)
		}
		if desc != 0 {
			fbs.CrsAddDescription(b, desc)
		}
		if wkt != 0 {
			fbs.CrsAddWkt(b, wkt)
		}
		if code != 0 {
			fbs.CrsAddCodeString(b, code)
		}
		crs = fbs.CrsEnd(b)
	}

	name := optString(h.Name)
	title := optString(h.Title)
	desc := optString(h.Description)
	md := optString(h.Metadata)

	fbs.HeaderStart(b)
	if name != 0 {
		fbs.HeaderAddName(b, name)
	}
	if envVec != 0 {
		fbs.HeaderAddEnvelope(b, envVec)
	}
	fbs.HeaderAddGeometryType(b, h.GeometryType)
	fbs.HeaderAddHasZ(b, h.HasZ)
	fbs.HeaderAddHasM(b, h.HasM)
	if colsVec != 0 {
		fbs.HeaderAddColumns(b, colsVec)
	}
	fbs.HeaderAddFeaturesCount(b, h.FeaturesCount)
	fbs.HeaderAddIndexNodeSize(b, h.IndexNodeSize)
	if crs != 0 {
		fbs.HeaderAddCrs(b, crs)
	}
	if title != 0 {
		fbs.HeaderAddTitle(b, title)
	}
	if desc != 0 {
		fbs.HeaderAddDescription(b, desc)
	}
	if md != 0 {
		fbs.HeaderAddMetadata(b, md)
	}
	b.FinishSizePrefixed(fbs.HeaderEnd(b))
	return b.FinishedBytes()
}
