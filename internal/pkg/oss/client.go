package oss

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

// Client 将数据集暂存到阿里云 OSS，集群从 OSS 拉取
type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
	prefix     string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
		prefix:     "hpc",
	}, nil
}

// ForAccount 每个账号使用独立的前缀
func (c *Client) ForAccount(account string) *Client {
	cp := *c
	cp.prefix = path.Join("hpc", account)
	return &cp
}

// progressListener 转发 OSS 上传进度
type progressListener struct {
	progress hpc.ProgressFunc
	last     int
}

func (l *progressListener) ProgressChanged(event *oss.ProgressEvent) {
	if l.progress == nil || event.TotalBytes <= 0 {
		return
	}
	pct := int(event.ConsumedBytes * 100 / event.TotalBytes)
	if event.EventType == oss.TransferCompletedEvent {
		pct = 100
	}
	if pct != l.last {
		l.last = pct
		l.progress(pct)
	}
}

func (c *Client) objectKey(kind hpc.FileKind, name string) string {
	return path.Join(c.prefix, string(kind), uuid.NewString()+"_"+name)
}

// Upload 上传本地文件并报告进度
func (c *Client) Upload(ctx context.Context, _ *token.Token, kind hpc.FileKind, localPath string, progress hpc.ProgressFunc) (*hpc.FileMeta, error) {
	key := c.objectKey(kind, filepath.Base(localPath))
	listener := &progressListener{progress: progress, last: -1}

	err := c.bucket.PutObjectFromFile(key, localPath, oss.Progress(listener), oss.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	meta, err := c.bucket.GetObjectDetailedMeta(key)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return &hpc.FileMeta{Name: key, Md5: normalizeETag(meta.Get("ETag"))}, nil
}

// ListFiles 列出已暂存文件，ETag 即简单上传的 MD5
func (c *Client) ListFiles(ctx context.Context, _ *token.Token, kind hpc.FileKind) ([]hpc.FileMeta, error) {
	prefix := path.Join(c.prefix, string(kind)) + "/"
	result, err := c.bucket.ListObjectsV2(oss.Prefix(prefix), oss.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	files := make([]hpc.FileMeta, 0, len(result.Objects))
	for _, obj := range result.Objects {
		files = append(files, hpc.FileMeta{
			Name:         obj.Key,
			Size:         obj.Size,
			Md5:          normalizeETag(obj.ETag),
			CreationTime: obj.LastModified,
		})
	}
	return files, nil
}

// Delete 删除文件
func (c *Client) Delete(objectKey string) error {
	if err := c.bucket.DeleteObject(objectKey); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.client.Config.Endpoint, objectKey)
}

func normalizeETag(etag string) string {
	return strings.ToLower(strings.Trim(etag, `"`))
}
