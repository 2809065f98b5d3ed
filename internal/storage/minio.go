package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cvforge/internal/config"
)

// DiagnosticsPrefix is the key prefix for captured page HTML.
const DiagnosticsPrefix = "render-diagnostics/"

type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Client 封装 MinIO 客户端，保存渲染超时时的页面快照。
type Client struct {
	store  objectStore
	bucket string
	region string
}

// ObjectMeta 描述 Bucket 中对象的关键信息。
type ObjectMeta struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// NewClient 根据配置初始化 MinIO 客户端，并确保目标 Bucket 存在。
func NewClient(ctx context.Context, cfg config.MinIOConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	c := &Client{store: mc, bucket: cfg.Bucket, region: cfg.Region}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.store.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.store.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", c.bucket, err)
	}
	return nil
}

// SaveTimeoutHTML stores the HTML of a page that never signalled readiness under
// render-diagnostics/<name>. A bucket removed behind our back is recreated once.
func (c *Client) SaveTimeoutHTML(ctx context.Context, name string, html string) error {
	objectName := DiagnosticsPrefix + strings.TrimPrefix(path.Clean("/"+name), "/")

	err := c.put(ctx, objectName, []byte(html))
	if err != nil && IsNoSuchBucket(err) {
		if berr := c.ensureBucket(ctx); berr != nil {
			return berr
		}
		err = c.put(ctx, objectName, []byte(html))
	}
	return err
}

func (c *Client) put(ctx context.Context, objectName string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"}
	if _, err := c.store.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put object %q: %w", objectName, err)
	}
	return nil
}

// ListDiagnostics 列出最近保存的页面快照。
func (c *Client) ListDiagnostics(ctx context.Context, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objCh := c.store.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    DiagnosticsPrefix,
		Recursive: true,
	})
	result := make([]ObjectMeta, 0, limit)
	for object := range objCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", DiagnosticsPrefix, object.Err)
		}
		result = append(result, ObjectMeta{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
