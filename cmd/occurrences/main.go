package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/globaltraits/trait-ingester/common"
	"github.com/globaltraits/trait-ingester/download"
	"github.com/globaltraits/trait-ingester/interface/registry"
	"github.com/globaltraits/trait-ingester/service/log"
	"go.uber.org/zap"
)

type config struct {
	Endpoint string
	Username string
	Password string

	Query string
	Name  string
	Key   string
	Out   string

	Interval time.Duration
	MaxWait  time.Duration
	Verbose  bool
}

func newAppConfig() (*config, error) {
	config := config{}

	flag.StringVar(&config.Endpoint, "endpoint", "https://api.gbif.org/v1", "occurrence registry endpoint")
	flag.StringVar(&config.Username, "username", "", "registry account username (required to submit a new download)")
	flag.StringVar(&config.Password, "password", "", "registry account password")

	flag.StringVar(&config.Query, "query", "", "json file holding the occurrence predicate query")
	flag.StringVar(&config.Name, "name", "", "human-readable name given to the result files (default: the job key)")
	flag.StringVar(&config.Key, "key", "", "resume an already-submitted download by its key instead of submitting a new one")
	flag.StringVar(&config.Out, "out", "", "output directory")

	flag.DurationVar(&config.Interval, "interval", 60*time.Second, "interval between two status queries")
	flag.DurationVar(&config.MaxWait, "max-wait", 6*time.Hour, "abandon the download if still preparing after this duration")
	flag.BoolVar(&config.Verbose, "verbose", false, "debug logging")

	flag.Parse()

	if config.Out == "" {
		return nil, fmt.Errorf("missing out config flag")
	}
	if config.Key == "" {
		if config.Query == "" {
			return nil, fmt.Errorf("missing query config flag (or key to resume)")
		}
		if !strings.HasSuffix(config.Query, ".json") {
			return nil, fmt.Errorf("query file must be a .json file, got %s", config.Query)
		}
		if config.Username == "" || config.Password == "" {
			return nil, fmt.Errorf("missing username/password config flags (required to submit)")
		}
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("occurrences", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	log.SetDevelopment(config.Verbose)

	if err := os.MkdirAll(config.Out, 0766); err != nil {
		return fmt.Errorf("out directory: %w", err)
	}

	client := registry.NewClient(config.Endpoint, config.Username, config.Password)

	key := config.Key
	if key == "" {
		predicate, err := loadPredicate(config.Query)
		if err != nil {
			return err
		}
		if key, err = client.SubmitDownload(ctx, predicate); err != nil {
			return err
		}
		log.Logger(ctx).Sugar().Infof("submitted occurrence download %s", key)
	}
	ctx = log.With(ctx, "key", key)

	waiter := download.Waiter{
		Poller:   pollerFunc{client: client},
		Fetcher:  &resultFetcher{client: client, outDir: config.Out, name: config.Name},
		Interval: config.Interval,
		MaxWait:  config.MaxWait,
	}
	return waiter.Wait(ctx, []common.Task{{ID: key, Description: key}})
}

func loadPredicate(path string) (json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("query file %s is not valid json", path)
	}
	return b, nil
}

// pollerFunc adapts the registry client to the waiter's status interface
type pollerFunc struct {
	client *registry.Client
}

func (p pollerFunc) TaskStatus(ctx context.Context, task common.Task) (common.StatusReport, error) {
	meta, _, err := p.client.DownloadMeta(ctx, task.ID)
	if err != nil {
		return common.StatusReport{}, err
	}
	return meta.StatusReport()
}

// resultFetcher materializes a succeeded download: zip + metadata sidecar,
// then the zip is unpacked into a <name>.parquet directory.
type resultFetcher struct {
	client *registry.Client
	outDir string
	name   string
}

func (f *resultFetcher) Materialize(ctx context.Context, key string) (download.Outcome, error) {
	localZip, err := f.client.FetchResult(ctx, key, f.outDir, f.name)
	if err != nil {
		return 0, err
	}
	if err := registry.UnzipAndRename(ctx, localZip); err != nil {
		return 0, err
	}
	return download.OutcomeDownloaded, nil
}

func (f *resultFetcher) CleanPartial(key string) error {
	stem := key
	if f.name != "" {
		stem = f.name
	}
	var err error
	for _, suffix := range []string{".zip", ".json"} {
		if e := os.Remove(filepath.Join(f.outDir, stem+suffix)); e != nil && !os.IsNotExist(e) {
			err = e
		}
	}
	if e := os.RemoveAll(filepath.Join(f.outDir, stem+".parquet")); e != nil {
		err = e
	}
	return err
}
