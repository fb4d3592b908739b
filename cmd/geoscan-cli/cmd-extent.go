package main

import (
	"context"
	"fmt"

	"github.com/grafana/geoscan/pkg/app"
)

type extentCmd struct {
	backendOptions
	tableOptions
	filterOptions
}

func (cmd *extentCmd) Run(ctx *globalOptions) error {
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

	extent, ok, err := a.Extent(c, t, app.ScanOptions{BBox: box, GeometryColumn: cmd.Geometry})
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("NULL")
		return nil
	}
	fmt.Println(extent.String())
	return nil
}
