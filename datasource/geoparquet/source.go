// Package geoparquet scans GeoParquet objects by delegating to the Parquet
// source. It contributes schema annotation and turns a recognized spatial
// filter into row group and file pruning. The filter itself is never
// reported as pushed down.
package geoparquet

import (
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/datasource/parquet"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/pushdown"
	"github.com/grafana/geoscan/pkg/util/log"
)

const FileType = "geoparquet"

// Source wraps a Parquet source. All configuration lives in the wrapped
// source except the recognized box.
type Source struct {
	inner *parquet.Source
	bbox  *geo.BoundingBox
}

var _ engine.FileSource = (*Source)(nil)

func NewSource(schema *engine.Schema, opts parquet.Options) *Source {
	return &Source{inner: parquet.NewSource(schema, opts)}
}

func (s *Source) with(inner *parquet.Source) *Source {
	return &Source{inner: inner, bbox: s.bbox}
}

func (s *Source) String() string {
	return fmt.Sprintf("GeoParquet(%s)", s.inner)
}

func (s *Source) Kind() engine.SourceKind                  { return engine.SourceKindColumnarDelegate }
func (s *Source) FileType() string                         { return FileType }
func (s *Source) TableSchema() *engine.Schema              { return s.inner.TableSchema() }
func (s *Source) Metrics() *engine.ExecutionPlanMetricsSet { return s.inner.Metrics() }
func (s *Source) Projection() *engine.ProjectionExprs      { return s.inner.Projection() }
func (s *Source) Filter() engine.PhysicalExpr              { return s.inner.Filter() }
func (s *Source) SupportsRepartitioning() bool             { return true }

// Inner returns the wrapped Parquet source.
func (s *Source) Inner() *parquet.Source { return s.inner }

// BBox returns the box used for pruning, if a spatial filter was recognized.
func (s *Source) BBox() (geo.BoundingBox, bool) {
	if s.bbox == nil {
		return geo.BoundingBox{}, false
	}
	return *s.bbox, true
}

func (s *Source) WithBatchSize(n int) engine.FileSource {
	return s.with(s.inner.WithBatchRows(n))
}

// TryPushdownFilters returns the decisions of the wrapped source, which
// rejects every filter. The first st_intersects filter against a constant
// is recorded as a pruning hint while no hint is active.
func (s *Source) TryPushdownFilters(filters []engine.PhysicalExpr, opts *engine.ConfigOptions) (engine.FilterPushdownPropagation, error) {
	prop, err := s.inner.TryPushdownFilters(filters, opts)
	if err != nil {
		return engine.FilterPushdownPropagation{}, err
	}
	if s.bbox != nil {
		return prop, nil
	}

	for _, f := range filters {
		box, ok, err := pushdown.ExtractBBox(f, s.TableSchema())
		if err != nil {
			return engine.FilterPushdownPropagation{}, err
		}
		if !ok {
			continue
		}
		pruner := newBBoxPruner(box, geometryColumn(f))
		c := s.with(s.inner.WithPruner(pruner))
		c.bbox = &box
		prop.UpdatedNode = c
		level.Debug(log.Logger).Log("msg", "recorded bbox pruning hint", "source", FileType, "bbox", box, "filter", f)
		break
	}
	return prop, nil
}

// geometryColumn is the column named by a recognized st_intersects call.
func geometryColumn(f engine.PhysicalExpr) string {
	call, ok := f.(*engine.ScalarFunctionExpr)
	if !ok || len(call.Args()) == 0 {
		return ""
	}
	if col, ok := call.Args()[0].(*engine.Column); ok {
		return col.Name
	}
	return ""
}

func (s *Source) TryPushdownProjection(p *engine.ProjectionExprs) (engine.FileSource, error) {
	inner, err := s.inner.WithProjection(p)
	if err != nil {
		return nil, err
	}
	return s.with(inner), nil
}

func (s *Source) Repartitioned(targetPartitions int, repartitionFileMinSize int64, cfg *engine.FileScanConfig) (*engine.FileScanConfig, error) {
	return s.inner.Repartitioned(targetPartitions, repartitionFileMinSize, cfg)
}

func (s *Source) CreateFileOpener(store backend.RawReader, cfg *engine.FileScanConfig, partition int) (engine.FileOpener, error) {
	return s.inner.CreateFileOpener(store, cfg, partition)
}
