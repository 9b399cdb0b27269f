package store

import (
	"context"
	"fmt"
)

// ErrObjectNotFound is returned when an expected object is absent from storage
type ErrObjectNotFound struct {
	Object string
}

func (e ErrObjectNotFound) Error() string {
	return fmt.Sprintf("Object not found: %s", e.Object)
}

// ErrBucketUnavailable is returned when a bucket cannot be created because
// access is denied or the name is already taken.
type ErrBucketUnavailable struct {
	Bucket string
	Reason error
}

func (e ErrBucketUnavailable) Error() string {
	return fmt.Sprintf("Bucket %s unavailable: %v", e.Bucket, e.Reason)
}

func (e ErrBucketUnavailable) Unwrap() error { return e.Reason }

// ObjectStore is the interface of an object-storage service holding export results
type ObjectStore interface {
	// EnsureBucket checks that the bucket exists, creating it if absent.
	// Raise ErrBucketUnavailable if the name is taken or access is denied.
	EnsureBucket(ctx context.Context, bucket string) error

	// Exists returns whether the object is present in the bucket
	Exists(ctx context.Context, bucket, object string) (bool, error)

	// List returns the names of the objects sharing the given name prefix
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// DownloadToFile fetches the object to the local path.
	// Raise ErrObjectNotFound.
	DownloadToFile(ctx context.Context, bucket, object, localFile string) error
}
