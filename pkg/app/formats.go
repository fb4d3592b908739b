package app

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/grafana/geoscan/datasource/flatgeobuf"
	"github.com/grafana/geoscan/datasource/geoparquet"
	"github.com/grafana/geoscan/datasource/parquet"
	"github.com/grafana/geoscan/pkg/engine"
)

var extensions = map[string]string{
	".fgb":        flatgeobuf.FileType,
	".flatgeobuf": flatgeobuf.FileType,
	".parquet":    geoparquet.FileType,
	".geoparquet": geoparquet.FileType,
	".pq":         geoparquet.FileType,
}

// Formats maps file types to the formats that read them.
type Formats struct {
	byType map[string]engine.FileFormat
}

// NewFormats registers every supported format configured from cfg.
// Plain parquet files are read through GeoParquet, which behaves like plain
// parquet when the geo metadata is absent.
func NewFormats(cfg ScanConfig) *Formats {
	fs := &Formats{byType: map[string]engine.FileFormat{}}
	fs.Register(flatgeobuf.NewFormat(flatgeobuf.Options{
		ReadBufferSize:  cfg.ReadBufferSize,
		ReadBufferCount: cfg.ReadBufferCount,
	}))
	pqOpts := parquet.Options{
		ReadBufferSize:  cfg.ReadBufferSize,
		ReadBufferCount: cfg.ReadBufferCount,
	}
	fs.Register(geoparquet.NewFormat(geoparquet.Options{Parquet: pqOpts, ParseToNative: cfg.ParseToNative}))
	fs.Register(parquet.NewFormat(pqOpts))
	return fs
}

func (fs *Formats) Register(f engine.FileFormat) {
	fs.byType[f.FileType()] = f
}

// Get returns the format of the given file type.
func (fs *Formats) Get(fileType string) (engine.FileFormat, error) {
	f, ok := fs.byType[strings.ToLower(fileType)]
	if !ok {
		return nil, fmt.Errorf("unknown format %q, expected one of %s", fileType, strings.Join(fs.Types(), ", "))
	}
	return f, nil
}

// ForLocation picks the format from the extension of location.
func (fs *Formats) ForLocation(location string) (engine.FileFormat, error) {
	ext := strings.ToLower(path.Ext(location))
	fileType, ok := extensions[ext]
	if !ok {
		return nil, fmt.Errorf("cannot tell the format of %q from its extension", location)
	}
	return fs.Get(fileType)
}

// Types returns the registered file types, sorted.
func (fs *Formats) Types() []string {
	types := make([]string, 0, len(fs.byType))
	for t := range fs.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// hasExtensionOf reports whether location carries an extension mapped to
// fileType.
func hasExtensionOf(location, fileType string) bool {
	t, ok := extensions[strings.ToLower(path.Ext(location))]
	if !ok {
		return false
	}
	// parquet and geoparquet share extensions
	if fileType == parquet.FileType {
		fileType = geoparquet.FileType
	}
	return t == fileType
}
