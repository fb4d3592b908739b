// Package flatgeobuf scans FlatGeobuf objects. Bounding box predicates are
// pushed into the file's packed R-tree so that features outside the box are
// never read.
package flatgeobuf

import (
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/pushdown"
	"github.com/grafana/geoscan/pkg/util/log"
)

const (
	FileType = "flatgeobuf"

	DefaultBatchSize = 1024

	DefaultReadBufferSize  = 1 << 20
	DefaultReadBufferCount = 4
)

// Options tune how objects are read.
type Options struct {
	// ReadBufferSize and ReadBufferCount configure the buffered reader that
	// coalesces the small reads of the header, index and features.
	ReadBufferSize  int
	ReadBufferCount int
}

func (o Options) withDefaults() Options {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.ReadBufferCount <= 0 {
		o.ReadBufferCount = DefaultReadBufferCount
	}
	return o
}

// Source is an immutable FlatGeobuf scan description. Pushdown returns a new
// Source; the metrics set is shared between all of them.
type Source struct {
	schema     *engine.Schema
	opts       Options
	projection *engine.ProjectionExprs
	batchSize  int
	bbox       *geo.BoundingBox
	filter     engine.PhysicalExpr
	metrics    *engine.ExecutionPlanMetricsSet
}

var _ engine.FileSource = (*Source)(nil)

// NewSource creates a source over files with the given table schema, as
// returned by Format.InferSchema.
func NewSource(schema *engine.Schema, opts Options) *Source {
	return &Source{
		schema:  schema,
		opts:    opts.withDefaults(),
		metrics: engine.NewExecutionPlanMetricsSet(),
	}
}

func (s *Source) clone() *Source {
	c := *s
	return &c
}

func (s *Source) String() string {
	if s.bbox != nil {
		return fmt.Sprintf("FlatGeobuf(bbox=%s)", s.bbox)
	}
	return "FlatGeobuf"
}

func (s *Source) Kind() engine.SourceKind                  { return engine.SourceKindNativeIndex }
func (s *Source) FileType() string                         { return FileType }
func (s *Source) TableSchema() *engine.Schema              { return s.schema }
func (s *Source) Metrics() *engine.ExecutionPlanMetricsSet { return s.metrics }
func (s *Source) Filter() engine.PhysicalExpr              { return s.filter }
func (s *Source) SupportsRepartitioning() bool             { return true }

// BBox returns the box pushed into the scan, if any.
func (s *Source) BBox() (geo.BoundingBox, bool) {
	if s.bbox == nil {
		return geo.BoundingBox{}, false
	}
	return *s.bbox, true
}

// BatchSize returns the configured batch size, zero when unset.
func (s *Source) BatchSize() int { return s.batchSize }

// Projection returns every column until a projection has been pushed down.
func (s *Source) Projection() *engine.ProjectionExprs {
	if s.projection == nil {
		return engine.AllColumns(s.schema)
	}
	return s.projection
}

func (s *Source) WithBatchSize(n int) engine.FileSource {
	c := s.clone()
	c.batchSize = n
	return c
}

// TryPushdownFilters accepts the first st_intersects filter against a
// constant geometry while no box is active. Every other filter is rejected.
func (s *Source) TryPushdownFilters(filters []engine.PhysicalExpr, _ *engine.ConfigOptions) (engine.FilterPushdownPropagation, error) {
	prop := engine.NoPushdown(filters)

	bbox, filter := s.bbox, s.filter
	for i, f := range filters {
		if bbox != nil {
			continue
		}
		box, ok, err := pushdown.ExtractBBox(f, s.schema)
		if err != nil {
			return engine.FilterPushdownPropagation{}, err
		}
		if !ok {
			continue
		}
		bbox, filter = &box, f
		prop.Filters[i] = engine.PushedDownYes
		level.Debug(log.Logger).Log("msg", "accepted bbox filter", "source", FileType, "bbox", box, "filter", f)
	}

	if bbox != nil {
		c := s.clone()
		c.bbox, c.filter = bbox, filter
		prop.UpdatedNode = c
	}
	return prop, nil
}

// TryPushdownProjection widens the projection to the union of every column
// requested so far.
func (s *Source) TryPushdownProjection(p *engine.ProjectionExprs) (engine.FileSource, error) {
	merged, err := s.projection.TryMerge(p)
	if err != nil {
		return nil, err
	}
	c := s.clone()
	c.projection = merged
	return c, nil
}

// Repartitioned spreads whole files over the target partitions. FlatGeobuf
// features are not aligned to byte ranges, so files are never split.
func (s *Source) Repartitioned(targetPartitions int, _ int64, cfg *engine.FileScanConfig) (*engine.FileScanConfig, error) {
	if cfg.Compressed {
		return nil, nil
	}
	groups, ok := engine.RepartitionWholeFiles(cfg.FileGroups, targetPartitions)
	if !ok {
		return nil, nil
	}
	out := *cfg
	out.FileGroups = groups
	return &out, nil
}

func (s *Source) CreateFileOpener(store backend.RawReader, _ *engine.FileScanConfig, partition int) (engine.FileOpener, error) {
	schema, err := engine.OutputSchema(s)
	if err != nil {
		return nil, err
	}
	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Opener{
		store:     store,
		schema:    schema,
		bbox:      s.bbox,
		batchSize: batchSize,
		opts:      s.opts,
		metrics:   engine.NewScanMetrics(s.metrics, FileType, partition),
		selected:  s.metrics.Counter(engine.MetricFeaturesSelected, partition),
	}, nil
}
