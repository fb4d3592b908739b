// Package app holds the configuration shared by the geoscan commands and
// turns it into storage backends, file formats and planner options.
package app

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/geoscan/backend"
	"github.com/grafana/geoscan/backend/gcs"
	"github.com/grafana/geoscan/backend/local"
	"github.com/grafana/geoscan/backend/s3"
	"github.com/grafana/geoscan/pkg/engine"
	"github.com/grafana/geoscan/pkg/util"
	"github.com/grafana/geoscan/pkg/util/log"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// Config is the root config for geoscan.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Storage   StorageConfig `yaml:"storage"`
	Scan      ScanConfig    `yaml:"scan"`
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.LogLevel, util.PrefixConfig(prefix, "log.level"), "info", "only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	f.StringVar(&c.LogFormat, util.PrefixConfig(prefix, "log.format"), "logfmt", "output log messages in the given format. Valid formats: [logfmt, json]")
	c.Storage.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "storage"), f)
	c.Scan.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "scan"), f)
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	if c.LogFormat != "logfmt" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Scan.Validate()
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend string       `yaml:"backend"`
	Local   local.Config `yaml:"local"`
	S3      s3.Config    `yaml:"s3"`
	GCS     gcs.Config   `yaml:"gcs"`
}

func (c *StorageConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Backend, util.PrefixConfig(prefix, "backend"), BackendLocal, "object store to read from. Valid backends: [local, s3, gcs]")
	c.Local.RegisterFlagsAndApplyDefaults(prefix, f)
	c.S3.RegisterFlagsAndApplyDefaults(prefix, f)
	c.GCS.RegisterFlagsAndApplyDefaults(prefix, f)
}

func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.Local.Path == "" {
			return errors.New("local backend requires a path")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("s3 backend requires a bucket")
		}
	case BackendGCS:
		if c.GCS.BucketName == "" {
			return errors.New("gcs backend requires a bucket")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// NewBackend connects to the configured object store.
func (c *StorageConfig) NewBackend() (backend.RawReader, backend.RawWriter, error) {
	var (
		r   backend.RawReader
		w   backend.RawWriter
		err error
	)
	switch c.Backend {
	case BackendLocal:
		r, w, err = local.New(&c.Local)
	case BackendS3:
		r, w, err = s3.New(&c.S3)
	case BackendGCS:
		r, w, err = gcs.New(&c.GCS)
	default:
		err = fmt.Errorf("unknown backend %q", c.Backend)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "creating %s backend", c.Backend)
	}
	return r, w, nil
}

// ScanConfig tunes planning and reading.
type ScanConfig struct {
	BatchSize              int   `yaml:"batch_size"`
	TargetPartitions       int   `yaml:"target_partitions"`
	RepartitionFileMinSize int64 `yaml:"repartition_file_min_size"`
	// ParseToNative decodes GeoParquet well-known binary columns during the
	// scan.
	ParseToNative   bool `yaml:"parse_to_native"`
	ReadBufferSize  int  `yaml:"read_buffer_size"`
	ReadBufferCount int  `yaml:"read_buffer_count"`
}

func (c *ScanConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.BatchSize, util.PrefixConfig(prefix, "batch-size"), 1024, "rows per record batch.")
	f.IntVar(&c.TargetPartitions, util.PrefixConfig(prefix, "target-partitions"), 4, "number of partitions scanned concurrently.")
	f.Int64Var(&c.RepartitionFileMinSize, util.PrefixConfig(prefix, "repartition-file-min-size"), 10<<20, "total input size below which files are not repartitioned.")
	f.BoolVar(&c.ParseToNative, util.PrefixConfig(prefix, "parse-to-native"), false, "decode geoparquet geometry columns into native geometries.")
	f.IntVar(&c.ReadBufferSize, util.PrefixConfig(prefix, "read-buffer-size"), 4<<20, "size of each buffered object store read.")
	f.IntVar(&c.ReadBufferCount, util.PrefixConfig(prefix, "read-buffer-count"), 8, "number of buffered reads kept per open file.")
}

func (c *ScanConfig) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative, got %d", c.BatchSize)
	}
	if c.TargetPartitions < 0 {
		return fmt.Errorf("target partitions must not be negative, got %d", c.TargetPartitions)
	}
	if c.RepartitionFileMinSize < 0 {
		return fmt.Errorf("repartition file min size must not be negative, got %d", c.RepartitionFileMinSize)
	}
	return nil
}

func (c *ScanConfig) EngineOptions() engine.ConfigOptions {
	return engine.ConfigOptions{
		BatchSize:              c.BatchSize,
		TargetPartitions:       c.TargetPartitions,
		RepartitionFileMinSize: c.RepartitionFileMinSize,
	}
}

// NewDefaultConfig returns the flag defaults without touching the global
// flag set.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	cfg.RegisterFlagsAndApplyDefaults("", fs)
	return cfg
}

// LoadConfig overlays the yaml file at path onto cfg. Unknown fields are
// rejected. With expandEnv, ${VAR} references are substituted first.
func LoadConfig(path string, expandEnv bool, cfg *Config) error {
	buff, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if expandEnv {
		s, err := envsubst.EvalEnv(string(buff))
		if err != nil {
			return fmt.Errorf("failed to expand env vars from config file %s: %w", path, err)
		}
		buff = []byte(s)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(buff)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
