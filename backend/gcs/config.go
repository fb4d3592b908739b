package gcs

import (
	"flag"
	"time"

	"github.com/grafana/geoscan/pkg/util"
)

type Config struct {
	BucketName        string        `yaml:"bucket_name"`
	Prefix            string        `yaml:"prefix"`
	ChunkBufferSize   int           `yaml:"chunk_buffer_size"`
	Endpoint          string        `yaml:"endpoint"`
	HedgeRequestsAt   time.Duration `yaml:"hedge_requests_at"`
	HedgeRequestsUpTo int           `yaml:"hedge_requests_up_to"`
	Insecure          bool          `yaml:"insecure"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.BucketName, util.PrefixConfig(prefix, "gcs.bucket"), "", "gcs bucket to read objects from.")
	f.StringVar(&cfg.Prefix, util.PrefixConfig(prefix, "gcs.prefix"), "", "gcs object prefix prepended to every object location.")
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "gcs.endpoint"), "", "gcs endpoint override.")
	f.IntVar(&cfg.ChunkBufferSize, util.PrefixConfig(prefix, "gcs.chunk-buffer-size"), 10*1024*1024, "gcs upload chunk size.")
	f.BoolVar(&cfg.Insecure, util.PrefixConfig(prefix, "gcs.insecure"), false, "skip authentication and TLS verification.")
	f.DurationVar(&cfg.HedgeRequestsAt, util.PrefixConfig(prefix, "gcs.hedge-requests-at"), 0, "if set, range reads are hedged after this duration.")
	f.IntVar(&cfg.HedgeRequestsUpTo, util.PrefixConfig(prefix, "gcs.hedge-requests-up-to"), 2, "maximum number of hedged requests per read.")
}
