// Package flatgeobuf reads and writes FlatGeobuf files, including the packed
// Hilbert R-tree used to select features by bounding box.
package flatgeobuf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-kit/log/level"
	"github.com/twpayne/go-geom"

	"github.com/grafana/geoscan/pkg/flatgeobuf/fbs"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/util/log"
)

var magicBytes = []byte{0x66, 0x67, 0x62, 0x03, 0x66, 0x67, 0x62, 0x00}

const (
	magicSize     = 8
	headerMaxSize = 10 << 20
)

// ErrNotFlatGeobuf is returned when the magic bytes do not match.
var ErrNotFlatGeobuf = errors.New("not a flatgeobuf file")

// Reader gives random access to a FlatGeobuf object. It holds no open state
// beyond the decoded header, so one Reader can serve several selections.
type Reader struct {
	r      io.ReaderAt
	size   int64
	header *Header

	indexOffset    int64
	indexSize      int64
	featuresOffset int64
}

// Open reads and validates the header of the object behind r.
func Open(ctx context.Context, r io.ReaderAt, size int64) (*Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := make([]byte, magicSize+4)
	if err := readFull(r, prefix, 0); err != nil {
		return nil, fmt.Errorf("reading magic bytes: %w", err)
	}
	if !bytes.Equal(prefix[:3], magicBytes[:3]) || !bytes.Equal(prefix[4:7], magicBytes[4:7]) {
		return nil, ErrNotFlatGeobuf
	}
	if prefix[3] != magicBytes[3] {
		return nil, fmt.Errorf("unsupported flatgeobuf major version %d", prefix[3])
	}

	headerSize := int64(binary.LittleEndian.Uint32(prefix[magicSize:]))
	if headerSize > headerMaxSize {
		return nil, fmt.Errorf("header of %d bytes exceeds the maximum of %d", headerSize, headerMaxSize)
	}
	if magicSize+4+headerSize > size {
		return nil, fmt.Errorf("header of %d bytes does not fit in object of %d bytes", headerSize, size)
	}

	buf := make([]byte, 4+headerSize)
	if err := readFull(r, buf, magicSize); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	rd := &Reader{
		r:           r,
		size:        size,
		header:      h,
		indexOffset: magicSize + 4 + headerSize,
	}
	if h.HasIndex() {
		if rd.indexSize, err = IndexSize(h.FeaturesCount, h.IndexNodeSize); err != nil {
			return nil, err
		}
	}
	rd.featuresOffset = rd.indexOffset + rd.indexSize
	if rd.featuresOffset > size {
		return nil, fmt.Errorf("index of %d bytes does not fit in object of %d bytes", rd.indexSize, size)
	}
	return rd, nil
}

func (r *Reader) Header() *Header {
	return r.header
}

// ReadIndex decodes the spatial index. It returns nil when the file has
// none.
func (r *Reader) ReadIndex(ctx context.Context) (*PackedRTree, error) {
	if !r.header.HasIndex() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, r.indexSize)
	if err := readFull(r.r, buf, r.indexOffset); err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return ReadPackedRTree(buf, r.header.FeaturesCount, r.header.IndexNodeSize)
}

// SelectAll iterates over every feature in file order.
func (r *Reader) SelectAll(ctx context.Context) (*FeatureIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &FeatureIterator{r: r, next: r.featuresOffset, total: -1}, nil
}

// SelectBBox iterates over the features whose bounding box intersects box.
// With an index only the selected features are read. Without one every
// feature is read and filtered on its geometry bounds.
func (r *Reader) SelectBBox(ctx context.Context, box geo.BoundingBox) (*FeatureIterator, error) {
	tree, err := r.ReadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		level.Debug(log.Logger).Log("msg", "flatgeobuf has no index, filtering sequentially", "bbox", box)
		return &FeatureIterator{r: r, next: r.featuresOffset, total: -1, filter: &box}, nil
	}

	results, err := tree.Search(box)
	if err != nil {
		return nil, err
	}
	level.Debug(log.Logger).Log("msg", "flatgeobuf index search", "bbox", box, "features", r.header.FeaturesCount, "selected", len(results))
	return &FeatureIterator{r: r, selection: results, indexed: true, total: len(results)}, nil
}

// FeatureIterator is a forward only cursor over selected features. It is not
// safe for concurrent use.
type FeatureIterator struct {
	r *Reader

	indexed   bool
	selection []SearchResult
	pos       int

	// sequential state
	next   int64
	filter *geo.BoundingBox
	read   uint64

	total int
}

// Count returns the number of features the iteration yields, when known up
// front.
func (it *FeatureIterator) Count() (int, bool) {
	return it.total, it.total >= 0
}

// Next returns the next feature, or io.EOF after the last one.
func (it *FeatureIterator) Next(ctx context.Context) (*Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if it.indexed {
		if it.pos >= len(it.selection) {
			return nil, io.EOF
		}
		res := it.selection[it.pos]
		it.pos++
		f, _, err := it.r.readFeature(it.r.featuresOffset + int64(res.Offset))
		return f, err
	}

	for {
		if it.next >= it.r.size || (it.r.header.FeaturesCount > 0 && it.read >= it.r.header.FeaturesCount) {
			return nil, io.EOF
		}
		f, n, err := it.r.readFeature(it.next)
		if err != nil {
			return nil, err
		}
		it.next += n
		it.read++
		if it.filter == nil {
			return f, nil
		}

		g, err := f.Geometry()
		if err != nil {
			return nil, err
		}
		if b, ok := geo.BoundsOf(g); ok && b.Intersects(*it.filter) {
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// readFeature reads the size prefixed feature at off and returns it with the
// number of bytes consumed.
func (r *Reader) readFeature(off int64) (*Feature, int64, error) {
	var prefix [4]byte
	if err := readFull(r.r, prefix[:], off); err != nil {
		return nil, 0, fmt.Errorf("reading feature size at %d: %w", off, err)
	}
	size := int64(binary.LittleEndian.Uint32(prefix[:]))
	if off+4+size > r.size {
		return nil, 0, fmt.Errorf("feature of %d bytes at %d overruns object of %d bytes", size, off, r.size)
	}
	buf := make([]byte, 4+size)
	if err := readFull(r.r, buf, off); err != nil {
		return nil, 0, fmt.Errorf("reading feature at %d: %w", off, err)
	}
	return &Feature{buf: buf, header: r.header}, 4 + size, nil
}

// Feature is one encoded feature. Geometry and properties are decoded on
// first access.
type Feature struct {
	buf    []byte
	header *Header

	geometry geom.T
	decoded  bool
}

func (f *Feature) table() *fbs.Feature {
	return fbs.GetSizePrefixedRootAsFeature(f.buf, 0)
}

// Geometry decodes the feature geometry. A feature without geometry returns
// nil.
func (f *Feature) Geometry() (g geom.T, err error) {
	if f.decoded {
		return f.geometry, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt feature geometry: %v", r)
		}
	}()

	fb := f.table().Geometry(nil)
	if fb != nil {
		f.geometry, err = decodeGeometry(fb, f.header.GeometryType, layoutFor(f.header.HasZ, f.header.HasM))
		if err != nil {
			return nil, err
		}
	}
	f.decoded = true
	return f.geometry, nil
}

// Properties decodes the feature properties, indexed like Header.Columns.
func (f *Feature) Properties() (props []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt feature properties: %v", r)
		}
	}()
	return decodeProperties(f.table().PropertiesBytes(), f.header.Columns)
}

func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
