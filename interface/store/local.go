package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore implements ObjectStore on a local directory tree
// (one sub-directory per bucket). Used for tests and air-gapped runs.
type LocalStore struct {
	Root string
}

// NewLocalStore creates an ObjectStore rooted at the given directory
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

// EnsureBucket implements ObjectStore
func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(s.Root, bucket), 0766); err != nil {
		return ErrBucketUnavailable{Bucket: bucket, Reason: err}
	}
	return nil
}

// Exists implements ObjectStore
func (s *LocalStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.Root, bucket, object))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("Exists[%s/%s]: %w", bucket, object, err)
}

// List implements ObjectStore
func (s *LocalStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("List[%s]: %w", bucket, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DownloadToFile implements ObjectStore
func (s *LocalStore) DownloadToFile(ctx context.Context, bucket, object, localFile string) error {
	src, err := os.Open(filepath.Join(s.Root, bucket, object))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound{Object: bucket + "/" + object}
		}
		return fmt.Errorf("DownloadToFile[%s/%s]: %w", bucket, object, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localFile), 0766); err != nil {
		return fmt.Errorf("DownloadToFile.MkdirAll: %w", err)
	}
	dst, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("DownloadToFile.Create: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(localFile)
		return fmt.Errorf("DownloadToFile[%s/%s]: %w", bucket, object, err)
	}
	return nil
}
