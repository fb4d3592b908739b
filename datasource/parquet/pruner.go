package parquet

import (
	"fmt"

	pq "github.com/parquet-go/parquet-go"
	"go.uber.org/atomic"

	"github.com/grafana/geoscan/pkg/engine"
)

// Pruner decides which files and row groups of a scan can be skipped
// without reading them. Pruning is inexact: kept data may still hold rows
// that a filter above the scan removes.
type Pruner interface {
	fmt.Stringer
	// KeepFile is called once per opened file, before any row group is read.
	KeepFile(pf *pq.File) bool
	// KeepRowGroup is called for every row group of a kept file.
	KeepRowGroup(pf *pq.File, rg pq.RowGroup) bool
}

type rowGroupMetrics struct {
	filesPruned *atomic.Int64
	pruned      *atomic.Int64
	matched     *atomic.Int64
}

func newRowGroupMetrics(m *engine.ExecutionPlanMetricsSet, partition int) *rowGroupMetrics {
	return &rowGroupMetrics{
		filesPruned: m.Counter(engine.MetricFilesPruned, partition),
		pruned:      m.Counter(engine.MetricRowGroupsPruned, partition),
		matched:     m.Counter(engine.MetricRowGroupsMatched, partition),
	}
}
