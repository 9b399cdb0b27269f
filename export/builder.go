package export

import (
	"context"
	"fmt"

	"github.com/globaltraits/trait-ingester/common"
	"github.com/globaltraits/trait-ingester/interface/platform"
	"github.com/globaltraits/trait-ingester/interface/store"
	"github.com/globaltraits/trait-ingester/service/log"
)

const (
	fileFormat = "GeoTIFF"
	maxPixels  = 1e13
)

// Builder turns dataset specs into export requests and submits them.
// DryRun builds and validates everything but submits nothing.
type Builder struct {
	Platform platform.TaskClient
	Store    store.ObjectStore
	DryRun   bool
}

// Build constructs the export requests of one dataset. Under flatten each
// band becomes a separate request named after the band; otherwise a single
// request named after the dataset carries all the bands.
func Build(spec common.DatasetSpec) ([]platform.ExportRequest, error) {
	params, err := spec.ExportParams()
	if err != nil {
		return nil, err
	}
	if _, _, err := spec.DateRange(); err != nil {
		return nil, err
	}

	base := platform.ExportRequest{
		CRS:        params.CRS,
		Scale:      params.Scale,
		FileFormat: fileFormat,
		FormatOptions: platform.FormatOptions{
			CloudOptimized: true,
			NoData:         params.NoData,
		},
		MaxPixels:      maxPixels,
		SkipEmptyTiles: true,
		Collection:     spec.Collection,
		QA:             spec.QA,
		DateStart:      spec.DateStart,
		DateEnd:        spec.DateEnd,
		Reducer:        spec.Reducer,
	}
	switch params.Target {
	case common.TargetGCS:
		base.Bucket = params.Folder
	case common.TargetDrive:
		base.Folder = params.Folder
	}

	if spec.Flatten && len(spec.Bands) > 1 {
		reqs := make([]platform.ExportRequest, 0, len(spec.Bands))
		for _, band := range spec.Bands {
			req := base
			req.Description = band
			req.FileNamePrefix = band
			req.Bands = []string{band}
			reqs = append(reqs, req)
		}
		return reqs, nil
	}

	base.Description = spec.Name
	base.FileNamePrefix = spec.Name
	base.Bands = spec.Bands
	return []platform.ExportRequest{base}, nil
}

// Submit builds and submits the exports of one dataset, returning the task
// handles to poll. The destination bucket is ensured before the first
// submission so a misnamed bucket fails the whole dataset up front.
func (b *Builder) Submit(ctx context.Context, spec common.DatasetSpec) ([]common.Task, error) {
	reqs, err := Build(spec)
	if err != nil {
		return nil, fmt.Errorf("Submit.%w", err)
	}

	if b.DryRun {
		for _, req := range reqs {
			log.Logger(ctx).Sugar().Infof("[dry-run] would export %s (%s, %d band(s))", req.Description, req.Collection, len(req.Bands))
		}
		return nil, nil
	}

	// Target already validated by Build
	if params, _ := spec.ExportParams(); params.Target == common.TargetGCS {
		if err := b.Store.EnsureBucket(ctx, params.Folder); err != nil {
			return nil, fmt.Errorf("Submit.%w", err)
		}
	}

	tasks := make([]common.Task, 0, len(reqs))
	for _, req := range reqs {
		task, err := b.Platform.SubmitExport(ctx, req)
		if err != nil {
			return tasks, fmt.Errorf("Submit.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("submitted export %s (task %s)", task.Description, task.ID)
		tasks = append(tasks, task)
	}
	return tasks, nil
}
