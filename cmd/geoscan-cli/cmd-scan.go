package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/grafana/geoscan/pkg/app"
	"github.com/grafana/geoscan/pkg/engine"
)

type scanCmd struct {
	backendOptions
	tableOptions
	filterOptions

	Columns []string `help:"columns to output, all columns when empty"`
	Limit   int      `help:"maximum number of rows to print" default:"100"`
	Explain bool     `help:"print the physical plan before the rows"`
	Metrics bool     `help:"print the scan metrics after the rows"`
}

func (cmd *scanCmd) Run(ctx *globalOptions) error {
	box, err := cmd.box()
	if err != nil {
		return err
	}

	a, err := loadApp(&cmd.backendOptions, ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	c := context.Background()
	t, err := a.OpenTable(c, cmd.Format, cmd.Files...)
	if err != nil {
		return err
	}

	plan, err := a.Scan(t, app.ScanOptions{
		BBox:           box,
		GeometryColumn: cmd.Geometry,
		Columns:        cmd.Columns,
		Limit:          cmd.Limit,
	})
	if err != nil {
		return err
	}

	if cmd.Explain {
		fmt.Printf("\n***************       plan        ********************\n\n")
		fmt.Println(plan.String())
	}

	start := time.Now()
	batches, err := engine.CollectLimit(c, plan, cmd.Limit)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := table.NewWriter()
	out.AppendHeader(headerRow(plan.Schema()))
	rows := 0
	for _, b := range batches {
		r, err := batchRows(b)
		if err != nil {
			return err
		}
		out.AppendRows(r)
		rows += b.NumRows()
	}
	out.AppendSeparator()
	_, _ = io.WriteString(os.Stdout, out.Render()+"\n")

	fmt.Printf("%s rows from %d files (%s) in %s\n", humanize.Comma(int64(rows)), len(t.Files), humanize.Bytes(uint64(t.TotalSize())), elapsed)

	if cmd.Metrics {
		if m, ok := app.ScanMetrics(plan); ok {
			printMetrics(m)
		}
	}
	return nil
}

func printMetrics(m *engine.ExecutionPlanMetricsSet) {
	agg := m.Aggregated()
	out := table.NewWriter()
	out.AppendHeader(table.Row{"metric", "value"})
	for _, name := range []string{
		engine.MetricFilesOpened,
		engine.MetricFilesPruned,
		engine.MetricRowGroupsMatched,
		engine.MetricRowGroupsPruned,
		engine.MetricFeaturesSelected,
		engine.MetricOutputBatches,
		engine.MetricOutputRows,
	} {
		v, ok := agg[name]
		if !ok {
			continue
		}
		out.AppendRow(table.Row{name, humanize.Comma(v)})
	}
	if v, ok := agg[engine.MetricBytesScanned]; ok {
		out.AppendRow(table.Row{engine.MetricBytesScanned, humanize.Bytes(uint64(v))})
	}
	fmt.Println(out.Render())
}
