package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/grafana/geoscan/pkg/app"
	"github.com/grafana/geoscan/pkg/util/log"
)

type globalOptions struct {
	ConfigFile string `type:"path" short:"c" help:"Path to geoscan config file"`
	ExpandEnv  bool   `help:"Expand ${VAR} references in the config file"`
	LogLevel   string `help:"Log level, overrides the config file" enum:",debug,info,warn,error" default:""`
}

type backendOptions struct {
	Backend string `help:"backend to connect to (s3/gcs/local), optional, overrides backend in config file" enum:",s3,gcs,local" default:""`
	Bucket  string `help:"bucket (or path on local backend) to read, optional, overrides bucket in config file"`

	S3Endpoint         string `name:"s3-endpoint" help:"s3 endpoint (s3.dualstack.us-east-2.amazonaws.com), optional, overrides endpoint in config file"`
	S3User             string `name:"s3-user" help:"s3 username, optional, overrides username in config file"`
	S3Pass             string `name:"s3-pass" help:"s3 password, optional, overrides password in config file"`
	InsecureSkipVerify bool   `name:"insecure-skip-verify" help:"skip TLS verification, only applies to S3 and GCS" default:"false"`
}

var cli struct {
	globalOptions

	Scan    scanCmd    `cmd:"" help:"Scan files, optionally keeping only the features that intersect a bounding box"`
	Extent  extentCmd  `cmd:"" help:"Compute the bounding box of every geometry in the files"`
	Convert convertCmd `cmd:"" help:"Copy the features of the files into a new FlatGeobuf object"`

	View struct {
		Schema viewSchemaCmd `cmd:"" help:"View the schema inferred for the files"`
	} `cmd:""`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&cli.globalOptions)
	ctx.FatalIfErrorf(err)
}

func loadConfig(b *backendOptions, g *globalOptions) (*app.Config, error) {
	// Defaults
	cfg := &app.Config{}
	cfg.RegisterFlagsAndApplyDefaults("", &flag.FlagSet{})

	// Existing config
	if g.ConfigFile != "" {
		if err := app.LoadConfig(g.ConfigFile, g.ExpandEnv, cfg); err != nil {
			return nil, err
		}
	}

	// cli overrides
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}

	if b.Backend != "" {
		cfg.Storage.Backend = b.Backend
	}

	if b.Bucket != "" {
		cfg.Storage.Local.Path = b.Bucket
		cfg.Storage.GCS.BucketName = b.Bucket
		cfg.Storage.S3.Bucket = b.Bucket
	}

	if b.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = b.S3Endpoint
	}

	if b.S3User != "" {
		cfg.Storage.S3.AccessKey = b.S3User
	}

	if b.S3Pass != "" {
		_ = cfg.Storage.S3.SecretKey.Set(b.S3Pass)
	}

	cfg.Storage.S3.InsecureSkipVerify = b.InsecureSkipVerify
	cfg.Storage.GCS.Insecure = cfg.Storage.GCS.Insecure || b.InsecureSkipVerify

	return cfg, nil
}

func loadApp(b *backendOptions, g *globalOptions) (*app.App, error) {
	cfg, err := loadConfig(b, g)
	if err != nil {
		return nil, err
	}

	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.InitLoggerWithWriter(os.Stderr, cfg.LogFormat, lvl)

	return app.New(cfg)
}
