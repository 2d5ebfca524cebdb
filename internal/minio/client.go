// Package minio wraps the official MinIO client with the small object-store
// surface the perception stores need: JSON documents per entity, scoped to
// per-scene buckets.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config for the MinIO connection.
type Config struct {
	Endpoint        string // e.g. "minio:9000" (no scheme)
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// ErrNotFound is returned when the requested object or bucket does not exist.
var ErrNotFound = errors.New("object not found")

// Client is the object-store handle shared by the record, effect, and profile
// stores.
type Client struct {
	client *minio.Client
	config Config
}

// NewClient connects to MinIO using the official library.
func NewClient(cfg Config) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Client{client: client, config: cfg}, nil
}

// ensureBucket creates the bucket if it does not exist yet.
func (c *Client) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PutObject writes data under bucket/object, creating the bucket on demand.
func (c *Client) PutObject(ctx context.Context, bucket, object string, data []byte) error {
	if err := c.ensureBucket(ctx, bucket); err != nil {
		return err
	}
	_, err := c.client.PutObject(ctx, bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, object, err)
	}
	return nil
}

// GetObject reads bucket/object fully. Missing objects map to ErrNotFound.
func (c *Client) GetObject(ctx context.Context, bucket, object string) ([]byte, error) {
	reader, err := c.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapNotFound(bucket, object, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, mapNotFound(bucket, object, err)
	}
	return data, nil
}

// RemoveObject deletes bucket/object. Deleting a missing object is not an
// error.
func (c *Client) RemoveObject(ctx context.Context, bucket, object string) error {
	if err := c.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucket, object, err)
	}
	return nil
}

// ListObjects returns all objects under prefix.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if err := c.ensureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	objectCh := c.client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var objects []ObjectInfo
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			LastModified: object.LastModified,
			Size:         object.Size,
		})
	}
	return objects, nil
}

func mapNotFound(bucket, object string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("%s/%s: %w", bucket, object, ErrNotFound)
	}
	return fmt.Errorf("get %s/%s: %w", bucket, object, err)
}
