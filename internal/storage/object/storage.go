// Package object provides the S3-compatible storage backend using MinIO.
// Object keys mirror the slash paths the batch layer works with; buckets
// need no directories, so EnsureDir is a no-op.
package object

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/renditionlab/renditions/internal/codec"
)

// Storage stores batch sources and artifacts in a single bucket.
type Storage struct {
	client *minio.Client
	bucket string
}

// New creates a Storage connected to the given MinIO server. If the bucket
// does not exist, it will be created automatically.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client: client,
		bucket: bucket,
	}, nil
}

// List returns the keys of the image objects under root, relative to it,
// sorted.
func (s *Storage) List(ctx context.Context, root string) ([]string, error) {
	prefix := ""
	if root != "" {
		prefix = strings.TrimSuffix(root, "/") + "/"
	}

	var out []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", root, obj.Err)
		}
		ext := ""
		if i := strings.LastIndex(obj.Key, "."); i >= 0 {
			ext = obj.Key[i:]
		}
		if !codec.InputExtension(ext) {
			continue
		}
		out = append(out, strings.TrimPrefix(obj.Key, prefix))
	}

	sort.Strings(out)
	return out, nil
}

// Open returns a reader over the object at path. Read errors surface on
// the first read, not here.
func (s *Storage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return obj, nil
}

// Save uploads src to the object at path and returns the path it wrote.
func (s *Storage) Save(ctx context.Context, path string, src io.Reader, size int64) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, path, src, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	return path, nil
}

// EnsureDir satisfies the executor hook; object keys need no directories.
func (s *Storage) EnsureDir(dir string) error {
	return nil
}
