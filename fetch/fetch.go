package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/globaltraits/trait-ingester/service"
	"github.com/globaltraits/trait-ingester/service/log"
	"github.com/jlaffaye/ftp"
	"github.com/mholt/archiver"
	"golang.org/x/sync/errgroup"
)

// Source is one file to fetch: a http(s) or ftp URL and the directory the
// file lands in. An empty Name takes the basename of the URL.
type Source struct {
	URL    string `json:"url"`
	OutDir string `json:"out_dir"`
	Name   string `json:"name,omitempty"`
	// Unzip the downloaded archive in place and remove it
	Unzip bool `json:"unzip,omitempty"`
}

// LoadSources reads a JSON array of sources from a local file or a http(s) URL
func LoadSources(pathname string) ([]Source, error) {
	var b []byte
	var err error
	if strings.HasPrefix(pathname, "http://") || strings.HasPrefix(pathname, "https://") {
		b, err = service.GetBodyRetry(pathname, 3)
	} else {
		b, err = os.ReadFile(pathname)
	}
	if err != nil {
		return nil, fmt.Errorf("LoadSources: %w", err)
	}
	var sources []Source
	if err := json.Unmarshal(b, &sources); err != nil {
		return nil, fmt.Errorf("LoadSources[%s]: %w", pathname, err)
	}
	return sources, nil
}

// Fetcher downloads a batch of sources with bounded concurrency
type Fetcher struct {
	// Concurrency bounds the parallel downloads (default 4)
	Concurrency int
}

// FetchAll downloads every source. One failing source does not cancel the
// others; the merged error reports them all.
func (f Fetcher) FetchAll(ctx context.Context, sources []Source) error {
	concurrency := f.Concurrency
	if concurrency == 0 {
		concurrency = 4
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	errs := make([]error, len(sources))
	seen := service.NewStringSet()
	for i, source := range sources {
		if seen.Exists(source.URL) {
			log.Logger(ctx).Sugar().Warnf("skipping duplicate source %s", source.URL)
			continue
		}
		seen.Push(source.URL)
		g.Go(func() error {
			errs[i] = FetchOne(ctx, source)
			return nil
		})
	}
	g.Wait()

	var err error
	for i, e := range errs {
		if e != nil {
			err = service.MergeErrors(true, err, fmt.Errorf("FetchAll[%s]: %w", sources[i].URL, e))
		}
	}
	return err
}

// FetchOne downloads a single source to its output directory
func FetchOne(ctx context.Context, source Source) error {
	u, err := url.Parse(source.URL)
	if err != nil {
		return fmt.Errorf("FetchOne.Parse: %w", err)
	}

	name := source.Name
	if name == "" {
		name = path.Base(u.Path)
	}
	if name == "" || name == "/" || name == "." {
		return fmt.Errorf("FetchOne: cannot derive a filename from %s", source.URL)
	}

	if err := os.MkdirAll(source.OutDir, 0766); err != nil {
		return fmt.Errorf("FetchOne.MkdirAll: %w", err)
	}
	localFile := filepath.Join(source.OutDir, name)

	switch u.Scheme {
	case "http", "https":
		err = fetchHTTP(ctx, source.URL, localFile)
	case "ftp":
		err = fetchFTP(ctx, u, localFile)
	default:
		return fmt.Errorf("FetchOne: unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		os.Remove(localFile)
		return err
	}

	if source.Unzip && strings.HasSuffix(localFile, ".zip") {
		if err := archiver.Unarchive(localFile, source.OutDir); err != nil {
			return service.MakeTemporary(fmt.Errorf("FetchOne.Unarchive[%s]: %w", localFile, err))
		}
		if err := os.Remove(localFile); err != nil {
			return fmt.Errorf("FetchOne.Remove: %w", err)
		}
	}
	return nil
}

func fetchHTTP(ctx context.Context, rawURL, localFile string) error {
	req, err := grab.NewRequest(localFile, rawURL)
	if err != nil {
		return fmt.Errorf("fetchHTTP.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	resp := grab.NewClient().Do(req)
	displayProgress(ctx, resp, rawURL)
	if err := resp.Err(); err != nil {
		return service.MakeTemporary(fmt.Errorf("fetchHTTP[%s]: %w", rawURL, err))
	}
	return nil
}

func displayProgress(ctx context.Context, resp *grab.Response, rawURL string) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			log.Logger(ctx).Sugar().Infof("%s: %.02f%% (%d/%d bytes)", rawURL, 100*resp.Progress(), resp.BytesComplete(), resp.Size)
		case <-resp.Done:
			return
		}
	}
}

func fetchFTP(ctx context.Context, u *url.URL, localFile string) error {
	addr := u.Host
	if u.Port() == "" {
		addr += ":21"
	}
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("fetchFTP.Dial[%s]: %w", addr, err))
	}
	defer conn.Quit()

	user, password := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			password = p
		}
	}
	if err := conn.Login(user, password); err != nil {
		return fmt.Errorf("fetchFTP.Login[%s]: %w", addr, err)
	}

	r, err := conn.Retr(u.Path)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("fetchFTP.Retr[%s]: %w", u.Path, err))
	}
	defer r.Close()

	w, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("fetchFTP.Create: %w", err)
	}
	defer w.Close()
	if _, err := w.ReadFrom(r); err != nil {
		return service.MakeTemporary(fmt.Errorf("fetchFTP.copy[%s]: %w", localFile, err))
	}
	return nil
}
