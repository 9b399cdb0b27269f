package export

import (
	"context"
	"fmt"
	"testing"

	"github.com/globaltraits/trait-ingester/common"
	"github.com/globaltraits/trait-ingester/interface/platform"
)

type fakePlatform struct {
	submitted []platform.ExportRequest
}

func (p *fakePlatform) SubmitExport(ctx context.Context, req platform.ExportRequest) (common.Task, error) {
	p.submitted = append(p.submitted, req)
	return common.Task{ID: fmt.Sprintf("task-%d", len(p.submitted)), Description: req.Description}, nil
}

func (p *fakePlatform) TaskStatus(ctx context.Context, task common.Task) (common.StatusReport, error) {
	return common.StatusReport{State: common.StatusPENDING}, nil
}

type fakeStore struct {
	ensured  []string
	events   *[]string
	unusable bool
}

func (s *fakeStore) EnsureBucket(ctx context.Context, bucket string) error {
	if s.unusable {
		return fmt.Errorf("bucket %s unavailable", bucket)
	}
	s.ensured = append(s.ensured, bucket)
	if s.events != nil {
		*s.events = append(*s.events, "ensure")
	}
	return nil
}
func (s *fakeStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	return false, nil
}
func (s *fakeStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	return nil, nil
}
func (s *fakeStore) DownloadToFile(ctx context.Context, bucket, object, localFile string) error {
	return nil
}

func climSpec() common.DatasetSpec {
	return common.DatasetSpec{
		Name:       "clim",
		Collection: "ECMWF/ERA5/MONTHLY",
		Bands:      []string{"tavg", "tmin"},
		Reducer:    "mean",
		Target:     "gcs",
		Bucket:     "traits-export",
		OutDir:     "/tmp/clim",
	}
}

func TestBuildFlatten(t *testing.T) {
	spec := climSpec()
	spec.Flatten = true

	reqs, err := Build(spec)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected one request per band, got %d", len(reqs))
	}
	for i, band := range spec.Bands {
		// The band name becomes the output stem
		if reqs[i].Description != band || reqs[i].FileNamePrefix != band {
			t.Errorf("request %d named %s/%s, expected %s", i, reqs[i].Description, reqs[i].FileNamePrefix, band)
		}
		if len(reqs[i].Bands) != 1 || reqs[i].Bands[0] != band {
			t.Errorf("request %d selects %v, expected [%s]", i, reqs[i].Bands, band)
		}
		if reqs[i].Bucket != "traits-export" || reqs[i].Folder != "" {
			t.Errorf("request %d destination %s/%s", i, reqs[i].Bucket, reqs[i].Folder)
		}
	}
}

func TestBuildSingle(t *testing.T) {
	reqs, err := Build(climSpec())
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected a single request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Description != "clim" {
		t.Errorf("expected the dataset name as stem, got %s", req.Description)
	}
	if len(req.Bands) != 2 {
		t.Errorf("expected both bands, got %v", req.Bands)
	}
	if req.CRS != "EPSG:4326" || req.Scale != 1000 {
		t.Errorf("defaults not applied: %s/%d", req.CRS, req.Scale)
	}
	if req.FileFormat != "GeoTIFF" || !req.FormatOptions.CloudOptimized {
		t.Errorf("unexpected format %s %+v", req.FileFormat, req.FormatOptions)
	}
}

func TestBuildDrive(t *testing.T) {
	spec := climSpec()
	spec.Target = "gdrive"
	spec.Bucket = "traits-folder"

	reqs, err := Build(spec)
	if err != nil {
		t.Fatal(err)
	}
	if reqs[0].Folder != "traits-folder" || reqs[0].Bucket != "" {
		t.Errorf("unexpected destination %s/%s", reqs[0].Bucket, reqs[0].Folder)
	}
}

func TestBuildInvalidTarget(t *testing.T) {
	spec := climSpec()
	spec.Target = "s3"
	if _, err := Build(spec); err == nil {
		t.Errorf("expected an error for target s3")
	}
}

func TestSubmitEnsuresBucketFirst(t *testing.T) {
	events := []string{}
	store := &fakeStore{events: &events}
	pf := &eventPlatform{events: &events}
	builder := Builder{Platform: pf, Store: store}

	spec := climSpec()
	spec.Flatten = true
	tasks, err := builder.Submit(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if len(events) != 3 || events[0] != "ensure" {
		t.Errorf("the bucket must be ensured before any submission: %v", events)
	}
}

// eventPlatform appends to a shared event log to check call ordering
type eventPlatform struct {
	events *[]string
	n      int
}

func (p *eventPlatform) SubmitExport(ctx context.Context, req platform.ExportRequest) (common.Task, error) {
	*p.events = append(*p.events, "submit")
	p.n++
	return common.Task{ID: fmt.Sprintf("task-%d", p.n), Description: req.Description}, nil
}

func (p *eventPlatform) TaskStatus(ctx context.Context, task common.Task) (common.StatusReport, error) {
	return common.StatusReport{State: common.StatusPENDING}, nil
}

func TestSubmitDryRun(t *testing.T) {
	pf := &fakePlatform{}
	store := &fakeStore{unusable: true}
	builder := Builder{Platform: pf, Store: store, DryRun: true}

	tasks, err := builder.Submit(context.Background(), climSpec())
	if err != nil {
		t.Fatal(err)
	}
	// Everything is built and validated, nothing leaves the process
	if len(tasks) != 0 || len(pf.submitted) != 0 {
		t.Errorf("dry-run submitted %d request(s)", len(pf.submitted))
	}

	spec := climSpec()
	spec.Target = "s3"
	if _, err := builder.Submit(context.Background(), spec); err == nil {
		t.Errorf("dry-run must still fail on an invalid target")
	}
}

func TestSubmitBucketUnavailable(t *testing.T) {
	pf := &fakePlatform{}
	builder := Builder{Platform: pf, Store: &fakeStore{unusable: true}}

	if _, err := builder.Submit(context.Background(), climSpec()); err == nil {
		t.Fatal("expected an error when the bucket is unavailable")
	}
	if len(pf.submitted) != 0 {
		t.Errorf("no export must be submitted when the bucket is unavailable")
	}
}
