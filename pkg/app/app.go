package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-kit/log/level"
	pkgerrors "github.com/pkg/errors"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/geo"
	"github.com/grafana/geoscan/pkg/geoarrow"
	"github.com/grafana/geoscan/pkg/udf"
	"github.com/grafana/geoscan/pkg/util/log"
)

// App ties a store, the file formats and the spatial functions together.
type App struct {
	cfg      *Config
	reader   backend.RawReader
	writer   backend.RawWriter
	formats  *Formats
	registry *engine.Registry
	planner  *engine.Planner
}

// New connects to the store configured in cfg.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid config")
	}
	r, w, err := cfg.Storage.NewBackend()
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, r, w), nil
}

// NewWithStore builds an App over an existing store.
func NewWithStore(cfg *Config, r backend.RawReader, w backend.RawWriter) *App {
	registry := engine.NewRegistry()
	udf.Register(registry, udf.Options{})
	return &App{
		cfg:      cfg,
		reader:   r,
		writer:   w,
		formats:  NewFormats(cfg.Scan),
		registry: registry,
		planner:  engine.NewPlanner(cfg.Scan.EngineOptions()),
	}
}

func (a *App) Reader() backend.RawReader  { return a.reader }
func (a *App) Formats() *Formats          { return a.formats }
func (a *App) Registry() *engine.Registry { return a.registry }
func (a *App) Shutdown()                  { a.reader.Shutdown() }

// Table is a set of objects of one format read with a common schema.
type Table struct {
	Format engine.FileFormat
	Files  []engine.ObjectMeta
	Schema *engine.Schema
}

// TotalSize is the combined size of the objects of the table.
func (t *Table) TotalSize() int64 {
	var total int64
	for _, f := range t.Files {
		total += f.Size
	}
	return total
}

// OpenTable resolves locations into objects and infers their schema.
// A location ending in "/" names every object directly below it with an
// extension of the format. fileType is optional and otherwise taken from
// the extension of the first object.
func (a *App) OpenTable(ctx context.Context, fileType string, locations ...string) (*Table, error) {
	if len(locations) == 0 {
		return nil, errors.New("no locations given")
	}

	var format engine.FileFormat
	if fileType != "" {
		f, err := a.formats.Get(fileType)
		if err != nil {
			return nil, err
		}
		format = f
	}

	var files []engine.ObjectMeta
	for _, loc := range locations {
		if strings.HasSuffix(loc, "/") {
			listed, err := a.listObjects(ctx, loc, format)
			if err != nil {
				return nil, err
			}
			files = append(files, listed...)
			continue
		}
		if format == nil {
			f, err := a.formats.ForLocation(loc)
			if err != nil {
				return nil, err
			}
			format = f
		}
		size, err := backend.SizeOf(ctx, a.reader, loc)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "error reading size of %s", loc)
		}
		files = append(files, engine.ObjectMeta{Location: loc, Size: size})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no objects found at %s", strings.Join(locations, ", "))
	}
	if format == nil {
		f, err := a.formats.ForLocation(files[0].Location)
		if err != nil {
			return nil, err
		}
		format = f
	}

	schema, err := format.InferSchema(ctx, a.reader, files)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "error inferring %s schema", format.FileType())
	}
	level.Debug(log.Logger).Log("msg", "opened table", "format", format.FileType(), "files", len(files), "schema", schema)
	return &Table{Format: format, Files: files, Schema: schema}, nil
}

func (a *App) listObjects(ctx context.Context, dir string, format engine.FileFormat) ([]engine.ObjectMeta, error) {
	keypath, name := backend.SplitLocation(dir)
	if name != "" {
		keypath = append(keypath, name)
	}
	names, err := a.reader.List(ctx, keypath)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "error listing %s", dir)
	}

	var out []engine.ObjectMeta
	for _, n := range names {
		if format == nil {
			f, err := a.formats.ForLocation(n)
			if err != nil {
				continue
			}
			format = f
		}
		if !hasExtensionOf(n, format.FileType()) {
			continue
		}
		size, err := a.reader.Size(ctx, n, keypath)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "error reading size of %s", n)
		}
		out = append(out, engine.ObjectMeta{Location: backend.ObjectFileName(keypath, n), Size: size})
	}
	return out, nil
}

// ScanOptions narrows a table scan.
type ScanOptions struct {
	// BBox keeps the rows whose geometry intersects the box.
	BBox *geo.BoundingBox
	// GeometryColumn is the column BBox applies to, the first geometry
	// column when empty.
	GeometryColumn string
	Columns        []string
	Limit          int
}

// Scan plans a scan of t.
func (a *App) Scan(t *Table, opts ScanOptions) (engine.ExecutionPlan, error) {
	req := engine.ScanRequest{
		Store:      a.reader,
		Source:     t.Format.FileSource(t.Schema),
		Files:      t.Files,
		Projection: opts.Columns,
		Limit:      opts.Limit,
	}
	if opts.BBox != nil {
		col, err := GeometryColumn(t.Schema, opts.GeometryColumn)
		if err != nil {
			return nil, err
		}
		filter, err := a.IntersectsFilter(col, *opts.BBox)
		if err != nil {
			return nil, err
		}
		req.Filters = []engine.PhysicalExpr{filter}
	}
	return a.planner.PlanScan(req)
}

// IntersectsFilter builds st_intersects(col, st_makeenvelope(box)).
func (a *App) IntersectsFilter(col *engine.Column, box geo.BoundingBox) (engine.PhysicalExpr, error) {
	corners := box.Array()
	args := make([]engine.PhysicalExpr, len(corners))
	for i, v := range corners {
		args[i] = engine.NewLiteral(engine.NewScalar(engine.TypeFloat64, v))
	}
	envelope, err := a.registry.Call("st_makeenvelope", args...)
	if err != nil {
		return nil, err
	}
	return a.registry.Call("st_intersects", col, envelope)
}

// Extent computes st_extent over the geometry column of t, restricted to
// opts.BBox when set. ok is false when no geometry was seen.
func (a *App) Extent(ctx context.Context, t *Table, opts ScanOptions) (geo.BoundingBox, bool, error) {
	col, err := GeometryColumn(t.Schema, opts.GeometryColumn)
	if err != nil {
		return geo.BoundingBox{}, false, err
	}
	opts.GeometryColumn = col.Name
	opts.Columns = []string{col.Name}
	opts.Limit = 0
	plan, err := a.Scan(t, opts)
	if err != nil {
		return geo.BoundingBox{}, false, err
	}

	agg, ok := a.registry.UDAF("st_extent")
	if !ok {
		return geo.BoundingBox{}, false, errors.New("st_extent is not registered")
	}
	v, err := engine.Aggregate(ctx, plan, agg, engine.NewColumn(col.Name, 0))
	if err != nil {
		return geo.BoundingBox{}, false, err
	}
	if v.IsNull() {
		return geo.BoundingBox{}, false, nil
	}
	box, ok := v.Value.(geo.BoundingBox)
	if !ok {
		return geo.BoundingBox{}, false, fmt.Errorf("st_extent returned %T", v.Value)
	}
	return box, true, nil
}

// Convert copies every row of plan into a single object at location using
// format. It returns the number of rows written.
func (a *App) Convert(ctx context.Context, plan engine.ExecutionPlan, format engine.FileFormat, location string) (int, error) {
	w, err := format.CreateWriter(ctx, a.writer, location, plan.Schema())
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "error creating %s writer", format.FileType())
	}

	rows := 0
	for p := 0; p < plan.OutputPartitions(); p++ {
		stream, err := plan.Execute(ctx, p)
		if err != nil {
			return rows, err
		}
		batches, err := engine.DrainStream(ctx, stream)
		if err != nil {
			return rows, err
		}
		for _, b := range batches {
			if err := w.Write(ctx, b); err != nil {
				return rows, err
			}
			rows += b.NumRows()
		}
	}
	if err := w.Close(ctx); err != nil {
		return rows, err
	}
	return rows, nil
}

// GeometryColumn resolves name in schema, or the first geometry column when
// name is empty.
func GeometryColumn(schema *engine.Schema, name string) (*engine.Column, error) {
	if name != "" {
		col, err := engine.ColumnFromSchema(name, schema)
		if err != nil {
			return nil, err
		}
		if !geoarrow.IsGeometryField(schema.Field(col.Index)) {
			return nil, fmt.Errorf("column %s is not a geometry column", name)
		}
		return col, nil
	}
	for i, f := range schema.Fields() {
		if geoarrow.IsGeometryField(f) {
			return engine.NewColumn(f.Name, i), nil
		}
	}
	return nil, fmt.Errorf("schema has no geometry column: %s", schema)
}

// ScanMetrics returns the metrics of the file scan at the bottom of plan.
func ScanMetrics(plan engine.ExecutionPlan) (*engine.ExecutionPlanMetricsSet, bool) {
	for plan != nil {
		if ds, ok := plan.(*engine.DataSourceExec); ok {
			return ds.Source().Metrics(), true
		}
		children := plan.Children()
		if len(children) == 0 {
			break
		}
		plan = children[0]
	}
	return nil, false
}
