package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
)

// MinioBackend implements Backend on MinIO or any S3-compatible object store.
// Switching providers is a matter of endpoint and credentials; the S3 wire
// protocol stays the same.
type MinioBackend struct {
	client     *minio.Client
	bucket     string
	publicBase string
	sse        encrypt.ServerSide
}

// MinioOptions carries the connection settings for NewMinioBackend.
type MinioOptions struct {
	Endpoint             string
	Region               string
	AccessKey            string
	SecretKey            string
	Bucket               string
	UseSSL               bool
	ServerSideEncryption bool
	// PublicBase is prepended to object paths to build URLs. When empty,
	// URLs are derived from the endpoint and bucket.
	PublicBase string
}

// NewMinioBackend creates a MinIO client and ensures the bucket exists.
func NewMinioBackend(opts MinioOptions) (*MinioBackend, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx := context.Background()

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
		log.Printf("storage: created bucket %q", opts.Bucket)
	}

	publicBase := strings.TrimRight(opts.PublicBase, "/")
	if publicBase == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}

	b := &MinioBackend{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: publicBase,
	}
	if opts.ServerSideEncryption {
		b.sse = encrypt.NewSSE()
	}
	return b, nil
}

// Put uploads data under objectPath with the given content type. metadata is
// stored as S3 user metadata on the object.
func (b *MinioBackend) Put(ctx context.Context, objectPath string, data []byte, contentType string, metadata map[string]string) (*PutResult, error) {
	_, err := b.client.PutObject(ctx, b.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:          contentType,
		UserMetadata:         metadata,
		ServerSideEncryption: b.sse,
	})
	if err != nil {
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}
	return &PutResult{
		Path: objectPath,
		URL:  b.publicBase + "/" + objectPath,
	}, nil
}

// Get downloads the object bytes, mapping a missing key to ErrNotFound.
func (b *MinioBackend) Get(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, &StorageError{Op: "get", Path: objectPath, Err: err}
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get", Path: objectPath, Err: err}
	}
	return data, nil
}

// Delete removes the object. The bool reports whether it existed.
func (b *MinioBackend) Delete(ctx context.Context, objectPath string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, &StorageError{Op: "delete", Path: objectPath, Err: err}
	}
	if err := b.client.RemoveObject(ctx, b.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return false, &StorageError{Op: "delete", Path: objectPath, Err: err}
	}
	return true, nil
}

// Exists reports whether an object is present at objectPath.
func (b *MinioBackend) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, &StorageError{Op: "exists", Path: objectPath, Err: err}
	}
	return true, nil
}

// List returns object paths under prefix, optionally filtered by a glob
// pattern applied to the object's base name.
func (b *MinioBackend) List(ctx context.Context, prefix, pattern string) ([]string, error) {
	var result []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, &StorageError{Op: "list", Path: prefix, Err: obj.Err}
		}
		if pattern != "" {
			matched, err := path.Match(pattern, path.Base(obj.Key))
			if err != nil {
				return nil, &StorageError{Op: "list", Path: prefix, Err: err}
			}
			if !matched {
				continue
			}
		}
		result = append(result, obj.Key)
	}
	return result, nil
}
