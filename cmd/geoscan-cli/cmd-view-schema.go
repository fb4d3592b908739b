package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/grafana/geoscan/pkg/geoarrow"
)

type viewSchemaCmd struct {
	backendOptions
	tableOptions
}

func (cmd *viewSchemaCmd) Run(ctx *globalOptions) error {
	a, err := loadApp(&cmd.backendOptions, ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	t, err := a.OpenTable(context.Background(), cmd.Format, cmd.Files...)
	if err != nil {
		return err
	}

	fmt.Printf("\n***************       files       ********************\n\n")
	files := table.NewWriter()
	files.AppendHeader(table.Row{"location", "size"})
	for _, f := range t.Files {
		files.AppendRow(table.Row{f.Location, humanize.Bytes(uint64(f.Size))})
	}
	fmt.Println(files.Render())

	fmt.Printf("\n***************       schema      ********************\n\n")
	fields := table.NewWriter()
	fields.AppendHeader(table.Row{"name", "type", "nullable", "extension", "crs"})
	for _, f := range t.Schema.Fields() {
		fields.AppendRow(table.Row{f.Name, f.Type, f.Nullable, f.ExtensionName(), geoarrow.CRS(f)})
	}
	fmt.Println(fields.Render())

	md := t.Schema.MetadataMap()
	if len(md) == 0 {
		return nil
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n***************      metadata     ********************\n\n")
	for _, k := range keys {
		fmt.Printf("%s: %s\n", k, md[k])
	}
	return nil
}
