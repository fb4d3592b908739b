package engine

import (
	"context"
	"fmt"

	"github.com/grafana/geoscan/backend"
)

// SourceKind identifies the closed set of file source variants.
type SourceKind int

const (
	// SourceKindNativeIndex sources own their decoding and prune through a
	// spatial index stored in the file.
	SourceKindNativeIndex SourceKind = iota
	// SourceKindColumnarDelegate sources wrap a generic columnar source and
	// only add geometry bookkeeping.
	SourceKindColumnarDelegate
	// SourceKindColumnar is a generic columnar source with no geometry
	// knowledge, the target of a columnar delegate.
	SourceKindColumnar
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindColumnarDelegate:
		return "columnar-delegate"
	case SourceKindColumnar:
		return "columnar"
	default:
		return "native-index"
	}
}

// PushedDown is a per filter pushdown decision.
type PushedDown int

const (
	PushedDownNo PushedDown = iota
	// PushedDownYes means the source uses the filter to skip data. The
	// filter may still be applied above the scan.
	PushedDownYes
)

func (p PushedDown) String() string {
	if p == PushedDownYes {
		return "yes"
	}
	return "no"
}

// FilterPushdownPropagation is the answer of a source to a filter pushdown
// request: one decision per offered filter, in order, and optionally an
// updated source that carries the accepted state.
type FilterPushdownPropagation struct {
	Filters     []PushedDown
	UpdatedNode FileSource
}

// NoPushdown rejects every filter and leaves the source unchanged.
func NoPushdown(filters []PhysicalExpr) FilterPushdownPropagation {
	return FilterPushdownPropagation{Filters: make([]PushedDown, len(filters))}
}

// ConfigOptions are session level options consulted during planning.
type ConfigOptions struct {
	BatchSize              int
	TargetPartitions       int
	RepartitionFileMinSize int64
}

// ObjectMeta identifies an object in a store.
type ObjectMeta struct {
	Location string
	Size     int64
}

// FileRange is a half open byte range [Start, End) of an object.
type FileRange struct {
	Start int64
	End   int64
}

// Contains reports whether offset falls inside the range.
func (r FileRange) Contains(offset int64) bool {
	return offset >= r.Start && offset < r.End
}

type PartitionedFile struct {
	ObjectMeta
	// Range is nil when the whole object is scanned.
	Range *FileRange
}

func NewPartitionedFile(location string, size int64) PartitionedFile {
	return PartitionedFile{ObjectMeta: ObjectMeta{Location: location, Size: size}}
}

func (f PartitionedFile) String() string {
	if f.Range == nil {
		return f.Location
	}
	return fmt.Sprintf("%s:%d..%d", f.Location, f.Range.Start, f.Range.End)
}

// FileGroup is the list of files one partition scans, in order.
type FileGroup []PartitionedFile

func (g FileGroup) TotalSize() int64 {
	var n int64
	for _, f := range g {
		if f.Range != nil {
			n += f.Range.End - f.Range.Start
		} else {
			n += f.Size
		}
	}
	return n
}

// FileScanConfig describes a file scan: the source and the partitioned file
// groups it reads.
type FileScanConfig struct {
	Source     FileSource
	FileGroups []FileGroup
	// Compressed inputs cannot be split into byte ranges.
	Compressed bool
	// Limit stops each partition after this many rows when non zero.
	Limit int
}

func (c *FileScanConfig) NumFiles() int {
	n := 0
	for _, g := range c.FileGroups {
		n += len(g)
	}
	return n
}

// FileOpener turns one partitioned file into a stream of record batches.
type FileOpener interface {
	Open(ctx context.Context, file PartitionedFile) (RecordBatchStream, error)
}

// FileSource is a format specific scan description. Implementations are
// immutable: every method that changes configuration returns a new value.
type FileSource interface {
	fmt.Stringer

	Kind() SourceKind
	FileType() string
	// TableSchema is the full file schema, before projection.
	TableSchema() *Schema

	CreateFileOpener(store backend.RawReader, cfg *FileScanConfig, partition int) (FileOpener, error)
	WithBatchSize(n int) FileSource
	Metrics() *ExecutionPlanMetricsSet

	// Projection returns the columns the scan produces.
	Projection() *ProjectionExprs
	// Filter returns the predicate the source applies itself, or nil.
	Filter() PhysicalExpr

	TryPushdownFilters(filters []PhysicalExpr, opts *ConfigOptions) (FilterPushdownPropagation, error)
	// TryPushdownProjection returns nil when the projection was not absorbed.
	TryPushdownProjection(p *ProjectionExprs) (FileSource, error)

	SupportsRepartitioning() bool
	Repartitioned(targetPartitions int, repartitionFileMinSize int64, cfg *FileScanConfig) (*FileScanConfig, error)
}

// FileFormat knows how to read and write one file type.
type FileFormat interface {
	FileType() string
	InferSchema(ctx context.Context, store backend.RawReader, objects []ObjectMeta) (*Schema, error)
	FileSource(schema *Schema) FileSource
	CreateWriter(ctx context.Context, store backend.RawWriter, location string, schema *Schema) (BatchWriter, error)
}

// BatchWriter writes record batches into a single object.
type BatchWriter interface {
	Write(ctx context.Context, batch *RecordBatch) error
	// Close flushes and finalizes the object.
	Close(ctx context.Context) error
}

// OutputSchema is the schema a scan of src produces.
func OutputSchema(src FileSource) (*Schema, error) {
	return src.Projection().ProjectSchema(src.TableSchema())
}
