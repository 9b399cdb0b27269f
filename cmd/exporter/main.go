package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/globaltraits/trait-ingester/common"
	"github.com/globaltraits/trait-ingester/download"
	"github.com/globaltraits/trait-ingester/export"
	"github.com/globaltraits/trait-ingester/interface/platform"
	"github.com/globaltraits/trait-ingester/interface/store"
	"github.com/globaltraits/trait-ingester/raster"
	"github.com/globaltraits/trait-ingester/service"
	"github.com/globaltraits/trait-ingester/service/log"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type config struct {
	Datasets     string
	DatasetNames []string

	Endpoint string
	Token    string
	Project  string

	LocalStoragePath string

	DryRun       bool
	NoWait       bool
	DownloadOnly bool
	MergeOnly    bool
	Overwrite    bool
	Test         bool

	Interval time.Duration
	MaxWait  time.Duration
	Verbose  bool
}

func newAppConfig() (*config, error) {
	config := config{}

	flag.StringVar(&config.Datasets, "datasets", "", "json file mapping dataset name to its acquisition spec")
	datasetNames := flag.String("dataset", "", "comma-separated dataset names to run (default: all the datasets of the file)")

	flag.StringVar(&config.Endpoint, "endpoint", "", "export platform endpoint")
	flag.StringVar(&config.Token, "token", "", "export platform bearer token (optional)")
	flag.StringVar(&config.Project, "project", "", "billing project used when a destination bucket has to be created")
	flag.StringVar(&config.LocalStoragePath, "local-storage", "", "local directory used as object storage instead of gs (testing)")

	flag.BoolVar(&config.DryRun, "dry-run", false, "build and validate the export requests without submitting them")
	flag.BoolVar(&config.NoWait, "no-wait", false, "submit the exports and exit without waiting for the results")
	flag.BoolVar(&config.DownloadOnly, "download-only", false, "skip submission and download the results of a previous run from the buckets")
	flag.BoolVar(&config.MergeOnly, "merge-only", false, "skip export/download and merge the multipart rasters already present in the output directories")
	flag.BoolVar(&config.Overwrite, "overwrite", false, "overwrite local files that already exist (default: skip them)")
	flag.BoolVar(&config.Test, "test", false, "test run: 10x coarser scale so the exports complete in minutes")

	flag.DurationVar(&config.Interval, "interval", 60*time.Second, "interval between two status sweeps")
	flag.DurationVar(&config.MaxWait, "max-wait", 6*time.Hour, "abandon the jobs still active after this duration")
	flag.BoolVar(&config.Verbose, "verbose", false, "debug logging")

	flag.Parse()

	if config.Datasets == "" {
		return nil, fmt.Errorf("missing datasets config flag")
	}
	if config.Endpoint == "" && !config.MergeOnly && !config.DownloadOnly {
		return nil, fmt.Errorf("missing endpoint config flag")
	}
	if *datasetNames != "" {
		config.DatasetNames = strings.Split(*datasetNames, ",")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("exporter", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	log.SetDevelopment(config.Verbose)
	ctx = log.With(ctx, "run", uuid.New().String()[:8])

	specs, err := common.LoadDatasets(config.Datasets)
	if err != nil {
		return err
	}
	selected, err := selectDatasets(specs, config.DatasetNames)
	if err != nil {
		return err
	}

	if config.Test {
		for i := range selected {
			if selected[i].Scale == 0 {
				selected[i].Scale = 1000
			}
			selected[i].Scale *= 10
			log.Logger(ctx).Sugar().Infof("test run: dataset %s at scale %dm", selected[i].Name, selected[i].Scale)
		}
	}

	if config.MergeOnly {
		return mergeOnly(ctx, selected)
	}

	var objectStore store.ObjectStore
	if config.LocalStoragePath != "" {
		objectStore = store.NewLocalStore(config.LocalStoragePath)
	} else if objectStore, err = store.NewGSStore(ctx, config.Project); err != nil {
		return err
	}

	if config.DownloadOnly {
		return downloadOnly(ctx, selected, objectStore, config.Overwrite)
	}

	var tokenSource oauth2.TokenSource
	if config.Token != "" {
		tokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
	}
	client := platform.NewClient(ctx, config.Endpoint, tokenSource)
	builder := export.Builder{Platform: client, Store: objectStore, DryRun: config.DryRun}

	// A fatal error (a request the platform rejects) aborts the run; any
	// other dataset failure is reported at the end without blocking the
	// remaining datasets.
	var runErr error
	for _, spec := range selected {
		dsCtx := log.With(ctx, "dataset", spec.Name)
		tasks, err := builder.Submit(dsCtx, spec)
		if err != nil {
			err = fmt.Errorf("dataset %s: %w", spec.Name, err)
			if service.Fatal(err) {
				return service.MergeErrors(true, runErr, err)
			}
			log.Logger(dsCtx).Sugar().Warnf("%v, continuing with the remaining datasets", err)
			runErr = service.MergeErrors(true, runErr, err)
			continue
		}
		if config.DryRun || config.NoWait || len(tasks) == 0 {
			continue
		}

		params, err := spec.ExportParams()
		if err != nil {
			return err
		}
		if params.Target != common.TargetGCS {
			log.Logger(dsCtx).Sugar().Infof("%d export(s) submitted to drive folder %s, not waiting", len(tasks), params.Folder)
			continue
		}

		waiter := download.Waiter{
			Poller: client,
			Fetcher: &download.Materializer{
				Store:     objectStore,
				Bucket:    spec.Bucket,
				OutDir:    spec.OutDir,
				Overwrite: config.Overwrite,
				Merger:    raster.GDAL{},
			},
			Interval: config.Interval,
			MaxWait:  config.MaxWait,
		}
		if err := waiter.Wait(dsCtx, tasks); err != nil {
			runErr = service.MergeErrors(true, runErr, fmt.Errorf("dataset %s: %w", spec.Name, err))
		}
	}
	return runErr
}

func selectDatasets(specs map[string]common.DatasetSpec, names []string) ([]common.DatasetSpec, error) {
	if len(names) == 0 {
		names = make([]string, 0, len(specs))
		for name := range specs {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	selected := make([]common.DatasetSpec, 0, len(names))
	for _, name := range names {
		spec, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
		selected = append(selected, spec)
	}
	return selected, nil
}

// downloadOnly materializes the expected outputs of the datasets without
// submitting anything, to resume after an interrupted or no-wait run.
func downloadOnly(ctx context.Context, specs []common.DatasetSpec, objectStore store.ObjectStore, overwrite bool) error {
	for _, spec := range specs {
		params, err := spec.ExportParams()
		if err != nil {
			return err
		}
		if params.Target != common.TargetGCS {
			continue
		}
		reqs, err := export.Build(spec)
		if err != nil {
			return err
		}
		materializer := download.Materializer{
			Store:     objectStore,
			Bucket:    spec.Bucket,
			OutDir:    spec.OutDir,
			Overwrite: overwrite,
			Merger:    raster.GDAL{},
		}
		for _, req := range reqs {
			outcome, err := materializer.Materialize(log.With(ctx, "dataset", spec.Name), req.Description)
			if err != nil {
				return fmt.Errorf("dataset %s: %w", spec.Name, err)
			}
			log.Logger(ctx).Sugar().Infof("%s: %s", req.Description, outcome)
		}
	}
	return nil
}

// mergeOnly scans the output directories for multipart rasters left behind
// by an interrupted run and merges them in place.
func mergeOnly(ctx context.Context, specs []common.DatasetSpec) error {
	gdal := raster.GDAL{}
	dirs := map[string]bool{}
	for _, spec := range specs {
		if spec.OutDir == "" || dirs[spec.OutDir] {
			continue
		}
		dirs[spec.OutDir] = true

		groups, err := raster.FindPartGroups(spec.OutDir)
		if err != nil {
			return err
		}
		stems := make([]string, 0, len(groups))
		for stem := range groups {
			stems = append(stems, stem)
		}
		sort.Strings(stems)
		for _, stem := range stems {
			parts := make([]string, 0, len(groups[stem]))
			for _, p := range groups[stem] {
				parts = append(parts, filepath.Join(spec.OutDir, p))
			}
			log.Logger(ctx).Sugar().Infof("merging %d part(s) into %s.tif", len(parts), stem)
			if err := gdal.Merge(ctx, parts, filepath.Join(spec.OutDir, stem+".tif")); err != nil {
				return err
			}
		}
	}
	return nil
}
