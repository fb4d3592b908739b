package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/grafana/geoscan/datasource/flatgeobuf"
	"github.com/grafana/geoscan/pkg/app"
)

type convertCmd struct {
	backendOptions
	filterOptions

	Format  string   `help:"format of the input files, detected from the extension when empty" default:""`
	Out     string   `help:"location of the FlatGeobuf object to write, a random name under the bucket when empty"`
	Columns []string `help:"property columns to keep, all columns when empty"`
	Files   []string `arg:"" help:"object locations within the bucket, a trailing / lists a directory"`
}

func (cmd *convertCmd) Run(ctx *globalOptions) error {
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

	opts := app.ScanOptions{BBox: box, GeometryColumn: cmd.Geometry}
	if len(cmd.Columns) > 0 {
		col, err := app.GeometryColumn(t.Schema, cmd.Geometry)
		if err != nil {
			return err
		}
		opts.Columns = append(append([]string(nil), cmd.Columns...), col.Name)
	}
	plan, err := a.Scan(t, opts)
	if err != nil {
		return err
	}

	out := cmd.Out
	if out == "" {
		out = uuid.New().String() + ".fgb"
	}
	format, err := a.Formats().Get(flatgeobuf.FileType)
	if err != nil {
		return err
	}

	rows, err := a.Convert(c, plan, format, out)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s features to %s\n", humanize.Comma(int64(rows)), out)
	return nil
}
