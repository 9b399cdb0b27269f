package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/globaltraits/trait-ingester/interface/store"
	"github.com/globaltraits/trait-ingester/service/log"
	"go.uber.org/zap"
)

type config struct {
	Bucket  string
	Project string
	Prefix  string
	Dst     string
	Ensure  bool
	Verbose bool
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.Bucket, "bucket", "", "bucket name")
	flag.StringVar(&config.Project, "project", "", "billing project used when the bucket has to be created")
	flag.StringVar(&config.Prefix, "prefix", "", "only mirror the objects matching this name prefix")
	flag.StringVar(&config.Dst, "dst", "", "local directory the objects are mirrored to")
	flag.BoolVar(&config.Ensure, "ensure", false, "ensure the bucket exists (create it if absent) instead of mirroring")
	flag.BoolVar(&config.Verbose, "verbose", false, "debug logging")
	flag.Parse()

	if config.Bucket == "" {
		return nil, fmt.Errorf("missing bucket config flag")
	}
	if config.Dst == "" && !config.Ensure {
		return nil, fmt.Errorf("missing dst config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("bucket", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	log.SetDevelopment(config.Verbose)

	gs, err := store.NewGSStore(ctx, config.Project)
	if err != nil {
		return err
	}

	if config.Ensure {
		if err := gs.EnsureBucket(ctx, config.Bucket); err != nil {
			return err
		}
		log.Logger(ctx).Sugar().Infof("bucket %s ready", config.Bucket)
		return nil
	}

	names, err := gs.List(ctx, config.Bucket, config.Prefix)
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("mirroring %d object(s) from %s to %s", len(names), config.Bucket, config.Dst)
	for i, name := range names {
		log.Logger(ctx).Sugar().Infof("downloading %s (%d/%d)", name, i+1, len(names))
		if err := gs.DownloadToFile(ctx, config.Bucket, name, filepath.Join(config.Dst, filepath.FromSlash(name))); err != nil {
			return err
		}
	}
	return nil
}
