package s3

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"

	"github.com/grafana/geoscan/pkg/util"
)

type Config struct {
	Bucket       string         `yaml:"bucket"`
	Prefix       string         `yaml:"prefix"`
	Endpoint     string         `yaml:"endpoint"`
	Region       string         `yaml:"region"`
	AccessKey    string         `yaml:"access_key"`
	SecretKey    flagext.Secret `yaml:"secret_key"`
	SessionToken flagext.Secret `yaml:"session_token"`
	Insecure     bool           `yaml:"insecure"`
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	PartSize           uint64 `yaml:"part_size"`
	ForcePathStyle     bool   `yaml:"forcepathstyle"`
	// SignatureV2 configures the object storage to use V2 signing instead of V4
	SignatureV2       bool          `yaml:"signature_v2"`
	HedgeRequestsAt   time.Duration `yaml:"hedge_requests_at"`
	HedgeRequestsUpTo int           `yaml:"hedge_requests_up_to"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Bucket, util.PrefixConfig(prefix, "s3.bucket"), "", "s3 bucket to read objects from.")
	f.StringVar(&cfg.Prefix, util.PrefixConfig(prefix, "s3.prefix"), "", "s3 key prefix prepended to every object location.")
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "s3.endpoint"), "", "s3 endpoint to push to.")
	f.StringVar(&cfg.Region, util.PrefixConfig(prefix, "s3.region"), "", "s3 region.")
	f.StringVar(&cfg.AccessKey, util.PrefixConfig(prefix, "s3.access_key"), "", "s3 access key.")
	f.Var(&cfg.SecretKey, util.PrefixConfig(prefix, "s3.secret_key"), "s3 secret key.")
	f.Var(&cfg.SessionToken, util.PrefixConfig(prefix, "s3.session_token"), "s3 session token.")
	f.BoolVar(&cfg.Insecure, util.PrefixConfig(prefix, "s3.insecure"), false, "use plain http to talk to s3.")
	f.Uint64Var(&cfg.PartSize, util.PrefixConfig(prefix, "s3.part_size"), 0, "multipart upload part size, 0 lets the client decide.")
	f.DurationVar(&cfg.HedgeRequestsAt, util.PrefixConfig(prefix, "s3.hedge-requests-at"), 0, "if set, range reads are hedged after this duration.")
	f.IntVar(&cfg.HedgeRequestsUpTo, util.PrefixConfig(prefix, "s3.hedge-requests-up-to"), 2, "maximum number of hedged requests per read.")
}
