package flatgeobuf

import (
	"errors"
	"fmt"
	"io"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/pkg/flatgeobuf/fbs"
	"github.com/grafana/geoscan/pkg/geo"
)

type WriterOptions struct {
	Name          string
	Description   string
	GeometryType  GeometryType
	HasZ          bool
	HasM          bool
	Columns       []Column
	CRS           *CRS
	// IndexNodeSize is the R-tree branching factor, DefaultNodeSize when
	// zero.
	IndexNodeSize uint16
	// NoIndex writes features in insertion order without a spatial index.
	NoIndex       bool
}

var errWriterClosed = errors.New("flatgeobuf writer is closed")

// Writer buffers features and writes a complete file on Close. Features are
// reordered along a Hilbert curve so the index can be packed.
type Writer struct {
	w        io.Writer
	opts     WriterOptions
	builder  *flatbuffers.Builder
	features []pendingFeature
	extent   NodeItem
	closed   bool
}

type pendingFeature struct {
	buf  []byte
	node NodeItem
}

func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.IndexNodeSize == 0 {
		opts.IndexNodeSize = DefaultNodeSize
	}
	return &Writer{
		w:       w,
		opts:    opts,
		builder: flatbuffers.NewBuilder(1024),
		extent:  emptyNode(),
	}
}

// Add appends a feature. props is indexed like WriterOptions.Columns, nil
// entries are omitted. A nil geometry is written as a feature without
// geometry.
func (w *Writer) Add(g geom.T, props []any) error {
	if w.closed {
		return errWriterClosed
	}
	b := w.builder
	b.Reset()

	var geomOff flatbuffers.UOffsetT
	node := emptyNode()
	if g != nil {
		var err error
		if geomOff, err = encodeGeometry(b, g, w.opts.GeometryType); err != nil {
			return err
		}
		if box, ok := geo.BoundsOf(g); ok {
			node = nodeFromBox(box)
		}
	}

	var propsOff flatbuffers.UOffsetT
	if len(props) > 0 {
		raw, err := encodeProperties(props, w.opts.Columns)
		if err != nil {
			return err
		}
		if len(raw) > 0 {
			propsOff = b.CreateByteVector(raw)
		}
	}

	fbs.FeatureStart(b)
	if geomOff != 0 {
		fbs.FeatureAddGeometry(b, geomOff)
	}
	if propsOff != 0 {
		fbs.FeatureAddProperties(b, propsOff)
	}
	b.FinishSizePrefixed(fbs.FeatureEnd(b))

	w.features = append(w.features, pendingFeature{
		buf:  append([]byte(nil), b.FinishedBytes()...),
		node: node,
	})
	w.extent.expand(node)
	return nil
}

// Len is the number of features added so far.
func (w *Writer) Len() int {
	return len(w.features)
}

// Close writes the header, the index and every feature. The underlying
// writer is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return errWriterClosed
	}
	w.closed = true

	h := &Header{
		Name:          w.opts.Name,
		Description:   w.opts.Description,
		GeometryType:  w.opts.GeometryType,
		HasZ:          w.opts.HasZ,
		HasM:          w.opts.HasM,
		Columns:       w.opts.Columns,
		CRS:           w.opts.CRS,
		FeaturesCount: uint64(len(w.features)),
	}
	if w.extent.MinX <= w.extent.MaxX {
		h.Envelope = []float64{w.extent.MinX, w.extent.MinY, w.extent.MaxX, w.extent.MaxY}
	}

	var index []byte
	if !w.opts.NoIndex && len(w.features) > 0 {
		h.IndexNodeSize = w.opts.IndexNodeSize

		nodes := make([]NodeItem, len(w.features))
		for i, f := range w.features {
			nodes[i] = f.node
		}
		order := hilbertOrder(nodes, w.extent)
		sorted := make([]pendingFeature, len(order))
		leaves := make([]NodeItem, len(order))
		var offset uint64
		for i, j := range order {
			sorted[i] = w.features[j]
			leaves[i] = w.features[j].node
			leaves[i].Offset = offset
			offset += uint64(len(w.features[j].buf))
		}
		w.features = sorted

		tree, err := buildPackedRTree(leaves, int(h.IndexNodeSize))
		if err != nil {
			return fmt.Errorf("building index: %w", err)
		}
		index = tree.Bytes()
	}

	if _, err := w.w.Write(magicBytes); err != nil {
		return err
	}
	if _, err := w.w.Write(encodeHeader(h)); err != nil {
		return err
	}
	if _, err := w.w.Write(index); err != nil {
		return err
	}
	for _, f := range w.features {
		if _, err := w.w.Write(f.buf); err != nil {
			return err
		}
	}
	w.features = nil
	return nil
}
