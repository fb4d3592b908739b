// Package parquet scans Parquet objects column by column. It knows nothing
// about geometry beyond decoding well-known binary into native geometries
// when the table schema asks for it; spatial pruning is plugged in through
// a Pruner.
package parquet

import (
	"fmt"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/engine"
)

const (
	FileType = "parquet"

	DefaultBatchSize = 1024

	DefaultReadBufferSize  = 4 << 20
	DefaultReadBufferCount = 8
)

type Options struct {
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

// Source is an immutable Parquet scan description. It never accepts
// filters: every decision it returns is PushedDownNo.
type Source struct {
	schema     *engine.Schema
	opts       Options
	projection *engine.ProjectionExprs
	batchSize  int
	pruner     Pruner
	metrics    *engine.ExecutionPlanMetricsSet
}

var _ engine.FileSource = (*Source)(nil)

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
	if s.pruner != nil {
		return fmt.Sprintf("Parquet(pruning=%s)", s.pruner)
	}
	return "Parquet"
}

func (s *Source) Kind() engine.SourceKind                  { return engine.SourceKindColumnar }
func (s *Source) FileType() string                         { return FileType }
func (s *Source) TableSchema() *engine.Schema              { return s.schema }
func (s *Source) Metrics() *engine.ExecutionPlanMetricsSet { return s.metrics }
func (s *Source) Filter() engine.PhysicalExpr              { return nil }
func (s *Source) SupportsRepartitioning() bool             { return true }
func (s *Source) BatchSize() int                           { return s.batchSize }
func (s *Source) Pruner() Pruner                           { return s.pruner }

func (s *Source) Projection() *engine.ProjectionExprs {
	if s.projection == nil {
		return engine.AllColumns(s.schema)
	}
	return s.projection
}

// WithBatchRows is WithBatchSize returning the concrete type.
func (s *Source) WithBatchRows(n int) *Source {
	c := s.clone()
	c.batchSize = n
	return c
}

func (s *Source) WithBatchSize(n int) engine.FileSource {
	return s.WithBatchRows(n)
}

// WithProjection merges p into the current projection.
func (s *Source) WithProjection(p *engine.ProjectionExprs) (*Source, error) {
	merged, err := s.projection.TryMerge(p)
	if err != nil {
		return nil, err
	}
	c := s.clone()
	c.projection = merged
	return c, nil
}

// WithPruner returns a source that consults p before reading files and row
// groups.
func (s *Source) WithPruner(p Pruner) *Source {
	c := s.clone()
	c.pruner = p
	return c
}

func (s *Source) TryPushdownFilters(filters []engine.PhysicalExpr, _ *engine.ConfigOptions) (engine.FilterPushdownPropagation, error) {
	return engine.NoPushdown(filters), nil
}

func (s *Source) TryPushdownProjection(p *engine.ProjectionExprs) (engine.FileSource, error) {
	return s.WithProjection(p)
}

// Repartitioned splits the files into byte ranges. Row groups are assigned
// to the range holding their first byte. Compressed inputs are left alone.
func (s *Source) Repartitioned(targetPartitions int, repartitionFileMinSize int64, cfg *engine.FileScanConfig) (*engine.FileScanConfig, error) {
	if cfg.Compressed {
		return nil, nil
	}
	groups, ok := engine.RepartitionByRange(cfg.FileGroups, targetPartitions, repartitionFileMinSize)
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
		batchSize: batchSize,
		opts:      s.opts,
		pruner:    s.pruner,
		metrics:   engine.NewScanMetrics(s.metrics, FileType, partition),
		rowGroups: newRowGroupMetrics(s.metrics, partition),
	}, nil
}
