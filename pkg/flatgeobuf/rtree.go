package flatgeobuf

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/grafana/geoscan/pkg/geo"
)

// NodeItemSize is the encoded size of one index node.
const NodeItemSize = 40

// DefaultNodeSize is the branching factor used when a header does not set
// one.
const DefaultNodeSize = 16

// NodeItem is a node of the packed R-tree. For leaves Offset is the byte
// offset of the feature relative to the start of the feature section, for
// inner nodes it is the position of the first child node.
type NodeItem struct {
	MinX, MinY, MaxX, MaxY float64
	Offset                 uint64
}

func emptyNode() NodeItem {
	return NodeItem{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
}

func nodeFromBox(b geo.BoundingBox) NodeItem {
	return NodeItem{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
}

func (n *NodeItem) expand(o NodeItem) {
	n.MinX = math.Min(n.MinX, o.MinX)
	n.MinY = math.Min(n.MinY, o.MinY)
	n.MaxX = math.Max(n.MaxX, o.MaxX)
	n.MaxY = math.Max(n.MaxY, o.MaxY)
}

func (n NodeItem) intersects(b geo.BoundingBox) bool {
	return n.MinX <= b.MaxX && n.MaxX >= b.MinX && n.MinY <= b.MaxY && n.MaxY >= b.MinY
}

type levelBound struct {
	start, end int
}

// levelBounds returns the node range of every level, leaves first. Levels
// are stored root first, so the leaves occupy the tail of the node array.
func levelBounds(numItems int, nodeSize int) ([]levelBound, int, error) {
	if nodeSize < 2 {
		return nil, 0, fmt.Errorf("index node size must be at least 2, got %d", nodeSize)
	}
	if numItems == 0 {
		return nil, 0, fmt.Errorf("index must contain at least one item")
	}

	n := numItems
	numNodes := n
	levelNumNodes := []int{n}
	for {
		n = (n + nodeSize - 1) / nodeSize
		numNodes += n
		levelNumNodes = append(levelNumNodes, n)
		if n == 1 {
			break
		}
	}

	bounds := make([]levelBound, len(levelNumNodes))
	n = numNodes
	for i, size := range levelNumNodes {
		bounds[i] = levelBound{start: n - size, end: n}
		n -= size
	}
	return bounds, numNodes, nil
}

// IndexSize is the encoded size of a packed R-tree over numItems features.
func IndexSize(numItems uint64, nodeSize uint16) (int64, error) {
	_, numNodes, err := levelBounds(int(numItems), int(nodeSize))
	if err != nil {
		return 0, err
	}
	return int64(numNodes) * NodeItemSize, nil
}

// PackedRTree is a decoded static R-tree.
type PackedRTree struct {
	nodes    []NodeItem
	numItems int
	nodeSize int
	levels   []levelBound
}

// ReadPackedRTree decodes an index of numItems leaves from buf.
func ReadPackedRTree(buf []byte, numItems uint64, nodeSize uint16) (*PackedRTree, error) {
	levels, numNodes, err := levelBounds(int(numItems), int(nodeSize))
	if err != nil {
		return nil, err
	}
	if len(buf) != numNodes*NodeItemSize {
		return nil, fmt.Errorf("index of %d items needs %d bytes, got %d", numItems, numNodes*NodeItemSize, len(buf))
	}
	nodes := make([]NodeItem, numNodes)
	for i := range nodes {
		b := buf[i*NodeItemSize:]
		nodes[i] = NodeItem{
			MinX:   math.Float64frombits(binary.LittleEndian.Uint64(b[0:])),
			MinY:   math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
			MaxX:   math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
			MaxY:   math.Float64frombits(binary.LittleEndian.Uint64(b[24:])),
			Offset: binary.LittleEndian.Uint64(b[32:]),
		}
	}
	return &PackedRTree{nodes: nodes, numItems: int(numItems), nodeSize: int(nodeSize), levels: levels}, nil
}

// SearchResult locates one feature selected by a search.
type SearchResult struct {
	// Offset is relative to the start of the feature section.
	Offset uint64
	// Index is the position of the feature in file order.
	Index int
}

// Search returns every leaf whose box intersects b, ordered by offset.
func (t *PackedRTree) Search(b geo.BoundingBox) ([]SearchResult, error) {
	type entry struct{ node, level int }

	leafStart := t.levels[0].start
	queue := []entry{{node: 0, level: len(t.levels) - 1}}
	var results []SearchResult
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		isLeaf := next.node >= leafStart
		end := next.node + t.nodeSize
		if levelEnd := t.levels[next.level].end; end > levelEnd {
			end = levelEnd
		}
		for pos := next.node; pos < end; pos++ {
			n := t.nodes[pos]
			if !n.intersects(b) {
				continue
			}
			if isLeaf {
				results = append(results, SearchResult{Offset: n.Offset, Index: pos - leafStart})
				continue
			}
			if next.level == 0 || n.Offset >= uint64(len(t.nodes)) {
				return nil, fmt.Errorf("corrupt index: node %d points to %d", pos, n.Offset)
			}
			queue = append(queue, entry{node: int(n.Offset), level: next.level - 1})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Offset < results[j].Offset })
	return results, nil
}

// Extent is the box of the root node.
func (t *PackedRTree) Extent() NodeItem {
	return t.nodes[0]
}

// buildPackedRTree builds the index over leaves, which must already be in
// their final file order.
func buildPackedRTree(leaves []NodeItem, nodeSize int) (*PackedRTree, error) {
	levels, numNodes, err := levelBounds(len(leaves), nodeSize)
	if err != nil {
		return nil, err
	}
	nodes := make([]NodeItem, numNodes)
	copy(nodes[levels[0].start:], leaves)

	for l := 0; l < len(levels)-1; l++ {
		child := levels[l]
		parent := levels[l+1].start
		for pos := child.start; pos < child.end; parent++ {
			node := emptyNode()
			node.Offset = uint64(pos)
			for j := 0; j < nodeSize && pos < child.end; j++ {
				node.expand(nodes[pos])
				pos++
			}
			nodes[parent] = node
		}
	}
	return &PackedRTree{nodes: nodes, numItems: len(leaves), nodeSize: nodeSize, levels: levels}, nil
}

// Bytes encodes the tree in file layout.
func (t *PackedRTree) Bytes() []byte {
	buf := make([]byte, len(t.nodes)*NodeItemSize)
	for i, n := range t.nodes {
		b := buf[i*NodeItemSize:]
		binary.LittleEndian.PutUint64(b[0:], math.Float64bits(n.MinX))
		binary.LittleEndian.PutUint64(b[8:], math.Float64bits(n.MinY))
		binary.LittleEndian.PutUint64(b[16:], math.Float64bits(n.MaxX))
		binary.LittleEndian.PutUint64(b[24:], math.Float64bits(n.MaxY))
		binary.LittleEndian.PutUint64(b[32:], n.Offset)
	}
	return buf
}

// hilbert maps a point on a 65536x65536 grid to its distance along the
// Hilbert curve.
func hilbert(x, y uint32) uint32 {
	a := x ^ y
	b := 0xFFFF ^ a
	c := 0xFFFF ^ (x | y)
	d := x & (y ^ 0xFFFF)

	A := a | (b >> 1)
	B := (a >> 1) ^ a
	C := ((c >> 1) ^ (b & (d >> 1))) ^ c
	D := ((a & (c >> 1)) ^ (d >> 1)) ^ d

	a, b, c, d = A, B, C, D
	A = (a & (a >> 2)) ^ (b & (b >> 2))
	B = (a & (b >> 2)) ^ (b & ((a ^ b) >> 2))
	C ^= (a & (c >> 2)) ^ (b & (d >> 2))
	D ^= (b & (c >> 2)) ^ ((a ^ b) & (d >> 2))

	a, b, c, d = A, B, C, D
	A = (a & (a >> 4)) ^ (b & (b >> 4))
	B = (a & (b >> 4)) ^ (b & ((a ^ b) >> 4))
	C ^= (a & (c >> 4)) ^ (b & (d >> 4))
	D ^= (b & (c >> 4)) ^ ((a ^ b) & (d >> 4))

	a, b, c, d = A, B, C, D
	C ^= (a & (c >> 8)) ^ (b & (d >> 8))
	D ^= (b & (c >> 8)) ^ ((a ^ b) & (d >> 8))

	a = C ^ (C >> 1)
	b = D ^ (D >> 1)

	i0 := x ^ y
	i1 := b | (0xFFFF ^ (i0 | a))

	i0 = (i0 | (i0 << 8)) & 0x00FF00FF
	i0 = (i0 | (i0 << 4)) & 0x0F0F0F0F
	i0 = (i0 | (i0 << 2)) & 0x33333333
	i0 = (i0 | (i0 << 1)) & 0x55555555

	i1 = (i1 | (i1 << 8)) & 0x00FF00FF
	i1 = (i1 | (i1 << 4)) & 0x0F0F0F0F
	i1 = (i1 | (i1 << 2)) & 0x33333333
	i1 = (i1 | (i1 << 1)) & 0x55555555

	return (i1 << 1) | i0
}

// hilbertOrder returns the permutation that sorts nodes along the Hilbert
// curve of extent. Nodes without a valid box sort first.
func hilbertOrder(nodes []NodeItem, extent NodeItem) []int {
	const hilbertMax = 0xFFFF
	width := extent.MaxX - extent.MinX
	height := extent.MaxY - extent.MinY

	keys := make([]uint32, len(nodes))
	for i, n := range nodes {
		if n.MinX > n.MaxX || width < 0 {
			continue
		}
		var x, y uint32
		if width > 0 {
			x = uint32(hilbertMax * ((n.MinX+n.MaxX)/2 - extent.MinX) / width)
		}
		if height > 0 {
			y = uint32(hilbertMax * ((n.MinY+n.MaxY)/2 - extent.MinY) / height)
		}
		keys[i] = hilbert(x, y)
	}

	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return keys[order[i]] < keys[order[j]] })
	return order
}
