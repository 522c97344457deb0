// Package objstore stages datasets in an S3-compatible bucket.
package objstore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

type MinioClient struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioClient(cfg *config.MinioConfig) (*MinioClient, error) {
	transport := &http.Transport{
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioClient{client: cli, bucket: cfg.Bucket, prefix: "hpc"}, nil
}

// ForAccount scopes object keys to one account.
func (m *MinioClient) ForAccount(account string) *MinioClient {
	cp := *m
	cp.prefix = path.Join("hpc", account)
	return &cp
}

func (m *MinioClient) Upload(ctx context.Context, _ *token.Token, kind hpc.FileKind, localPath string, progress hpc.ProgressFunc) (*hpc.FileMeta, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	key := path.Join(m.prefix, string(kind), uuid.NewString()+"_"+filepath.Base(localPath))
	// minio 从 Progress 读取已上传字节数
	tracker := hpc.NewProgressReader(nil, info.Size(), progress)
	uploaded, err := m.client.PutObject(ctx, m.bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: "text/plain",
		Progress:    progressAdapter{tracker},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	return &hpc.FileMeta{Name: key, Size: uploaded.Size, Md5: strings.Trim(uploaded.ETag, `"`)}, nil
}

func (m *MinioClient) ListFiles(ctx context.Context, _ *token.Token, kind hpc.FileKind) ([]hpc.FileMeta, error) {
	prefix := path.Join(m.prefix, string(kind)) + "/"
	var files []hpc.FileMeta
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		files = append(files, hpc.FileMeta{
			Name:         obj.Key,
			Size:         obj.Size,
			Md5:          strings.ToLower(strings.Trim(obj.ETag, `"`)),
			CreationTime: obj.LastModified,
		})
	}
	return files, nil
}

// progressAdapter counts the bytes minio reads through Progress.
type progressAdapter struct {
	tracker *hpc.ProgressReader
}

func (p progressAdapter) Read(b []byte) (int, error) {
	p.tracker.Add(int64(len(b)))
	return len(b), nil
}
