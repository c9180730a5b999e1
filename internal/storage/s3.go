// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
)

// S3Config connects to any S3-compatible endpoint (AWS, MinIO, RustFS).
type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Secure    bool   `koanf:"secure"`
}

// S3 stores artifacts in one bucket behind a circuit breaker, so a
// dead object store degrades fast instead of stalling every shipping
// cycle on timeouts.
type S3 struct {
	client *minio.Client
	bucket string
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewS3 connects and ensures the bucket exists.
func NewS3(cfg S3Config) (*S3, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidArgument, "storage.NewS3", err)
	}
	if cfg.Bucket == "" {
		return nil, fault.New(fault.InvalidArgument, "storage.NewS3", "empty bucket name")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	b := &S3{client: client, bucket: cfg.Bucket, cb: newStorageBreaker("s3-" + cfg.Bucket)}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logging.Info().Str("bucket", cfg.Bucket).Msg("Created backup bucket")
	}

	return b, nil
}

// newStorageBreaker opens after 5 consecutive failures and probes
// again two minutes later.
func newStorageBreaker(name string) *gobreaker.CircuitBreaker[interface{}] {
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Storage circuit breaker state changed")
		},
	})
}

// cleanEndpoint reduces an endpoint URL to host:port, which is what
// minio-go expects.
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("empty s3 endpoint")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("s3 endpoint %q contains a path but no scheme", endpoint)
		}
		return endpoint, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse s3 endpoint: %w", err)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", fmt.Errorf("s3 endpoint must be host:port, got path %q", parsed.Path)
	}
	return parsed.Host, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (b *S3) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		_, putErr := b.client.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		return nil, putErr
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Get forces the first roundtrip inside the breaker; minio defers the
// request until the object is first read otherwise.
func (b *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var obj *minio.Object
	notFound := false
	_, err := b.cb.Execute(func() (interface{}, error) {
		o, getErr := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
		if getErr != nil {
			return nil, getErr
		}
		if _, statErr := o.Stat(); statErr != nil {
			_ = o.Close()
			if isNoSuchKey(statErr) {
				notFound = true
				return nil, nil
			}
			return nil, statErr
		}
		obj = o
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	if notFound {
		return nil, fault.Errorf(fault.NotFound, "storage.S3.Get", "object %s not found", key)
	}
	return obj, nil
}

func (b *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var info minio.ObjectInfo
	notFound := false
	_, err := b.cb.Execute(func() (interface{}, error) {
		var statErr error
		info, statErr = b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
		if statErr != nil && isNoSuchKey(statErr) {
			notFound = true
			return nil, nil
		}
		return nil, statErr
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if notFound {
		return ObjectInfo{}, fault.Errorf(fault.NotFound, "storage.S3.Stat", "object %s not found", key)
	}
	return ObjectInfo{Key: info.Key, Size: info.Size, LastModified: info.LastModified}, nil
}

func (b *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	_, err := b.cb.Execute(func() (interface{}, error) {
		objects = objects[:0]
		for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return nil, obj.Err
			}
			objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (b *S3) Remove(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
