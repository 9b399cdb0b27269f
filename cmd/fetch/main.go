package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/globaltraits/trait-ingester/fetch"
	"github.com/globaltraits/trait-ingester/service/log"
	"go.uber.org/zap"
)

type config struct {
	Sources     string
	Concurrency int
	Verbose     bool
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.Sources, "sources", "", "json file or http(s) url listing the files to fetch (url, out_dir, optional name/unzip)")
	flag.IntVar(&config.Concurrency, "concurrency", 4, "number of parallel downloads")
	flag.BoolVar(&config.Verbose, "verbose", false, "debug logging")
	flag.Parse()

	if config.Sources == "" {
		return nil, fmt.Errorf("missing sources config flag")
	}
	if config.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("fetch", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	log.SetDevelopment(config.Verbose)

	sources, err := fetch.LoadSources(config.Sources)
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("fetching %d file(s)", len(sources))
	return fetch.Fetcher{Concurrency: config.Concurrency}.FetchAll(ctx, sources)
}
