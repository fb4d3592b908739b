package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

const (
	MetricOutputRows       = "output_rows"
	MetricOutputBatches    = "output_batches"
	MetricFilesOpened      = "files_opened"
	MetricFilesPruned      = "files_pruned"
	MetricBytesScanned     = "bytes_scanned"
	MetricRowGroupsPruned  = "row_groups_pruned"
	MetricRowGroupsMatched = "row_groups_matched"
	MetricFeaturesSelected = "features_selected"
)

var (
	metricScannedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoscan",
		Name:      "scan_rows_total",
		Help:      "Total number of rows produced by file scans.",
	}, []string{"file_type"})
	metricScannedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoscan",
		Name:      "scan_bytes_total",
		Help:      "Total number of bytes read from object storage by file scans.",
	}, []string{"file_type"})
	metricScannedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoscan",
		Name:      "scan_files_total",
		Help:      "Total number of files opened by file scans.",
	}, []string{"file_type"})
)

type metricKey struct {
	name      string
	partition int
}

// ExecutionPlanMetricsSet collects named counters per partition. It is
// shared by every snapshot of a source, so updates are atomic.
type ExecutionPlanMetricsSet struct {
	mtx      sync.Mutex
	counters map[metricKey]*atomic.Int64
}

func NewExecutionPlanMetricsSet() *ExecutionPlanMetricsSet {
	return &ExecutionPlanMetricsSet{counters: map[metricKey]*atomic.Int64{}}
}

// Counter returns the counter for name in partition, creating it on first use.
func (m *ExecutionPlanMetricsSet) Counter(name string, partition int) *atomic.Int64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	k := metricKey{name: name, partition: partition}
	c, ok := m.counters[k]
	if !ok {
		c = atomic.NewInt64(0)
		m.counters[k] = c
	}
	return c
}

// Sum adds the counter name across partitions.
func (m *ExecutionPlanMetricsSet) Sum(name string) int64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	var total int64
	for k, c := range m.counters {
		if k.name == name {
			total += c.Load()
		}
	}
	return total
}

// Aggregated returns every counter summed across partitions.
func (m *ExecutionPlanMetricsSet) Aggregated() map[string]int64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	out := map[string]int64{}
	for k, c := range m.counters {
		out[k.name] += c.Load()
	}
	return out
}

func (m *ExecutionPlanMetricsSet) String() string {
	agg := m.Aggregated()
	names := make([]string, 0, len(agg))
	for n := range agg {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, agg[n])
	}
	return strings.Join(parts, ", ")
}

// ScanMetrics bundles the counters a file opener updates for one partition.
type ScanMetrics struct {
	fileType string

	OutputRows    *atomic.Int64
	OutputBatches *atomic.Int64
	FilesOpened   *atomic.Int64
	BytesScanned  *atomic.Int64
}

func NewScanMetrics(m *ExecutionPlanMetricsSet, fileType string, partition int) *ScanMetrics {
	return &ScanMetrics{
		fileType:      fileType,
		OutputRows:    m.Counter(MetricOutputRows, partition),
		OutputBatches: m.Counter(MetricOutputBatches, partition),
		FilesOpened:   m.Counter(MetricFilesOpened, partition),
		BytesScanned:  m.Counter(MetricBytesScanned, partition),
	}
}

func (s *ScanMetrics) FileOpened() {
	s.FilesOpened.Inc()
	metricScannedFiles.WithLabelValues(s.fileType).Inc()
}

func (s *ScanMetrics) BatchProduced(rows int) {
	s.OutputBatches.Inc()
	s.OutputRows.Add(int64(rows))
	metricScannedRows.WithLabelValues(s.fileType).Add(float64(rows))
}

func (s *ScanMetrics) BytesRead(n uint64) {
	s.BytesScanned.Add(int64(n))
	metricScannedBytes.WithLabelValues(s.fileType).Add(float64(n))
}
