package engine

import (
	"github.com/go-kit/log/level"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/util/log"
)

// ScanRequest describes a single table scan to plan.
type ScanRequest struct {
	Store   backend.RawReader
	Source  FileSource
	Files   []ObjectMeta
	Filters []PhysicalExpr
	// Projection lists the output columns by name. Nil selects every column.
	Projection []string
	// Limit caps the rows each partition produces when there are no filters.
	Limit      int
	Compressed bool
}

// Planner negotiates filter and projection pushdown with a file source and
// builds the physical plan for a scan.
type Planner struct {
	opts ConfigOptions
}

func NewPlanner(opts ConfigOptions) *Planner {
	return &Planner{opts: opts}
}

// PlanScan offers every conjunct of the filters to the source, pushes the
// required columns down as a projection, repartitions the files and stacks
// the filter and projection operators on top of the scan. Filters are always
// re-applied above the scan: a source that accepted a filter may still
// return rows that do not satisfy it.
func (p *Planner) PlanScan(req ScanRequest) (ExecutionPlan, error) {
	src := req.Source
	if p.opts.BatchSize > 0 {
		src = src.WithBatchSize(p.opts.BatchSize)
	}

	var conjuncts []PhysicalExpr
	for _, f := range req.Filters {
		conjuncts = append(conjuncts, SplitConjunction(f)...)
	}

	if len(conjuncts) > 0 {
		prop, err := src.TryPushdownFilters(conjuncts, &p.opts)
		switch {
		case IsPlanningError(err):
			// plan without pushdown, the filters still run above the scan
			level.Warn(log.Logger).Log("msg", "filter pushdown failed", "source", src.FileType(), "err", err)
		case err != nil:
			return nil, err
		default:
			if prop.UpdatedNode != nil {
				src = prop.UpdatedNode
			}
			for i, f := range conjuncts {
				if i < len(prop.Filters) {
					level.Debug(log.Logger).Log("msg", "filter pushdown", "source", src.FileType(), "filter", f, "pushed_down", prop.Filters[i])
				}
			}
		}
	}

	if req.Projection != nil {
		names := append([]string(nil), req.Projection...)
		for _, n := range ReferencedColumns(conjuncts...) {
			if !containsString(names, n) {
				names = append(names, n)
			}
		}
		proj, err := ProjectionFromNames(names, src.TableSchema())
		if err != nil {
			return nil, err
		}
		projected, err := src.TryPushdownProjection(proj)
		if err != nil {
			return nil, err
		}
		if projected != nil {
			src = projected
		}
	}

	files := make(FileGroup, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, PartitionedFile{ObjectMeta: f})
	}
	cfg := &FileScanConfig{
		Source:     src,
		FileGroups: []FileGroup{files},
		Compressed: req.Compressed,
	}
	if len(conjuncts) == 0 {
		cfg.Limit = req.Limit
	}

	if src.SupportsRepartitioning() && p.opts.TargetPartitions > 1 && !req.Compressed {
		repartitioned, err := src.Repartitioned(p.opts.TargetPartitions, p.opts.RepartitionFileMinSize, cfg)
		if err != nil {
			return nil, err
		}
		if repartitioned != nil {
			cfg = repartitioned
		}
	}

	var plan ExecutionPlan
	plan, err := NewDataSourceExec(req.Store, cfg)
	if err != nil {
		return nil, err
	}

	if len(conjuncts) > 0 {
		plan, err = NewFilterExec(Conjunction(conjuncts), plan)
		if err != nil {
			return nil, err
		}
	}

	if req.Projection != nil && !hasColumns(plan.Schema(), req.Projection) {
		plan, err = NewProjectionExec(req.Projection, plan)
		if err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// hasColumns reports whether schema is exactly names, in order.
func hasColumns(schema *Schema, names []string) bool {
	if schema.NumFields() != len(names) {
		return false
	}
	for i, n := range names {
		if schema.Field(i).Name != n {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
