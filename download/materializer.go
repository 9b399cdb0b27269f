package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/globaltraits/trait-ingester/interface/store"
	"github.com/globaltraits/trait-ingester/raster"
	"github.com/globaltraits/trait-ingester/service/log"
)

// Outcome of one materialization. The caller can tell a download apart
// from a skip or a missing remote object instead of relying on log lines.
type Outcome int

const (
	// OutcomeDownloaded: the exact object was fetched
	OutcomeDownloaded Outcome = iota
	// OutcomeMerged: split parts were fetched and merged into one file
	OutcomeMerged
	// OutcomeSkipped: an existing local file won over the remote object
	OutcomeSkipped
	// OutcomeNotFound: neither the object nor split parts exist remotely
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeMerged:
		return "merged"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNotFound:
		return "not found"
	}
	return "unknown"
}

// Merger combines split raster parts into a single file and removes the parts
type Merger interface {
	Merge(ctx context.Context, parts []string, outFile string) error
}

// Materializer fetches the result of a terminal-success job from object
// storage to a local directory.
type Materializer struct {
	Store  store.ObjectStore
	Bucket string
	OutDir string
	// Overwrite an existing local file (after a warning). When false the
	// local file wins and no network call is made.
	Overwrite bool
	Merger    Merger
}

// Materialize looks up the object named after the job description
// (<stem>.tif); if missing, falls back to the platform's split-file
// convention, downloading every <stem>-prefixed part and merging them.
func (m *Materializer) Materialize(ctx context.Context, stem string) (Outcome, error) {
	object := stem + ".tif"
	localFile := filepath.Join(m.OutDir, object)

	if err := os.MkdirAll(m.OutDir, 0766); err != nil {
		return 0, fmt.Errorf("Materialize.MkdirAll: %w", err)
	}

	localExists := false
	if _, err := os.Stat(localFile); err == nil {
		localExists = true
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("Materialize.Stat: %w", err)
	}

	if localExists && !m.Overwrite {
		log.Logger(ctx).Sugar().Infof("file %s already exists at %s, skipping download", object, m.OutDir)
		return OutcomeSkipped, nil
	}

	exists, err := m.Store.Exists(ctx, m.Bucket, object)
	if err != nil {
		return 0, fmt.Errorf("Materialize.%w", err)
	}

	if exists {
		if localExists {
			log.Logger(ctx).Sugar().Warnf("file %s already exists at %s, overwriting", object, m.OutDir)
		}
		if err := m.Store.DownloadToFile(ctx, m.Bucket, object, localFile); err != nil {
			return 0, fmt.Errorf("Materialize.%w", err)
		}
		return OutcomeDownloaded, nil
	}

	// Split-file convention: large exports are sharded by filename prefix
	log.Logger(ctx).Sugar().Warnf("object %s not found in bucket %s, checking if split into parts", object, m.Bucket)
	names, err := m.Store.List(ctx, m.Bucket, stem)
	if err != nil {
		return 0, fmt.Errorf("Materialize.%w", err)
	}
	parts := raster.GroupParts(names, stem)
	if len(parts) == 0 {
		log.Logger(ctx).Sugar().Errorf("object %s not found in bucket %s", object, m.Bucket)
		return OutcomeNotFound, nil
	}

	localParts := make([]string, 0, len(parts))
	for i, part := range parts {
		log.Logger(ctx).Sugar().Infof("downloading %s (%d/%d)", part, i+1, len(parts))
		localPart := filepath.Join(m.OutDir, part)
		if err := m.Store.DownloadToFile(ctx, m.Bucket, part, localPart); err != nil {
			return 0, fmt.Errorf("Materialize.%w", err)
		}
		localParts = append(localParts, localPart)
	}
	if err := m.Merger.Merge(ctx, localParts, localFile); err != nil {
		return 0, fmt.Errorf("Materialize.%w", err)
	}
	return OutcomeMerged, nil
}

// CleanPartial removes any local output of the job (the merged file and
// leftover parts). Used when a job is abandoned on timeout.
func (m *Materializer) CleanPartial(stem string) error {
	var err error
	target := filepath.Join(m.OutDir, stem+".tif")
	if e := os.Remove(target); e != nil && !os.IsNotExist(e) {
		err = e
	}
	entries, e := os.ReadDir(m.OutDir)
	if e != nil {
		if os.IsNotExist(e) {
			return nil
		}
		return fmt.Errorf("CleanPartial: %w", e)
	}
	for _, entry := range entries {
		if raster.IsPartOf(entry.Name(), stem) {
			if e := os.Remove(filepath.Join(m.OutDir, entry.Name())); e != nil {
				err = e
			}
		}
	}
	if err != nil {
		return fmt.Errorf("CleanPartial[%s]: %w", stem, err)
	}
	return nil
}
