package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/globaltraits/trait-ingester/service"
	"github.com/globaltraits/trait-ingester/service/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// bucketLocation is where missing export buckets are created
const bucketLocation = "europe-west1"

// GSStore implements ObjectStore on Google Cloud Storage
type GSStore struct {
	client  *storage.Client
	project string
}

// NewGSStore creates an ObjectStore backed by Google Cloud Storage.
// project is the billing project used when a bucket has to be created.
func NewGSStore(ctx context.Context, project string) (*GSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGSStore: %w", err)
	}
	return &GSStore{client: client, project: project}, nil
}

// EnsureBucket implements ObjectStore
func (s *GSStore) EnsureBucket(ctx context.Context, bucket string) error {
	b := s.client.Bucket(bucket)
	_, err := b.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusForbidden {
			return ErrBucketUnavailable{Bucket: bucket, Reason: err}
		}
		return fmt.Errorf("EnsureBucket[%s].Attrs: %w", bucket, err)
	}

	log.Logger(ctx).Sugar().Warnf("bucket %s not found, creating", bucket)
	attrs := &storage.BucketAttrs{
		Location:      bucketLocation,
		PredefinedACL: "private",
	}
	if err := b.Create(ctx, s.project, attrs); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusForbidden || gerr.Code == http.StatusConflict) {
			return ErrBucketUnavailable{Bucket: bucket, Reason: err}
		}
		return fmt.Errorf("EnsureBucket[%s].Create: %w", bucket, err)
	}
	return nil
}

// Exists implements ObjectStore
func (s *GSStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("Exists[%s/%s]: %w", bucket, object, err)
}

// List implements ObjectStore
func (s *GSStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	q := &storage.Query{Prefix: prefix}
	q.SetAttrSelection([]string{"Name"})
	it := s.client.Bucket(bucket).Objects(ctx, q)
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List[%s/%s*]: %w", bucket, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// DownloadToFile implements ObjectStore
func (s *GSStore) DownloadToFile(ctx context.Context, bucket, object, localFile string) error {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrObjectNotFound{Object: bucket + "/" + object}
		}
		return service.MakeTemporary(fmt.Errorf("DownloadToFile[%s/%s]: %w", bucket, object, err))
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(localFile), 0766); err != nil {
		return fmt.Errorf("DownloadToFile.MkdirAll: %w", err)
	}
	f, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("DownloadToFile.Create: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(localFile)
		return service.MakeTemporary(fmt.Errorf("DownloadToFile[%s/%s]: %w", bucket, object, err))
	}
	return nil
}
