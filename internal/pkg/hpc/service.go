// Package hpc holds the clients for the remote cluster's identity,
// data-upload, job-queue and result services.
package hpc

import (
	"context"
	"time"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

// FileKind 上传文件类型
type FileKind string

const (
	KindDataset        FileKind = "dataset"
	KindPriorKnowledge FileKind = "priorknowledge"
)

// FileMeta describes a file stored on the remote side.
type FileMeta struct {
	Name         string    `json:"name"`
	Size         int64     `json:"fileSize"`
	Md5          string    `json:"md5checkSum,omitempty"`
	CreationTime time.Time `json:"creationTime"`
}

// RemoteJob is one entry of the remote active job list.
type RemoteJob struct {
	ID            int64           `json:"id"`
	AlgorithmName string          `json:"algorithmName"`
	Status        model.JobStatus `json:"status"`
	AddedTime     time.Time       `json:"addedTime"`
}

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// SubmitRequest is the payload handed to the remote job queue.
type SubmitRequest struct {
	AlgorithmName string
	Params        model.AlgorithmParamRequest
	DatasetFile   string
	PriorFile     string
}

type DataUploadService interface {
	Upload(ctx context.Context, tok *token.Token, kind FileKind, path string, progress ProgressFunc) (*FileMeta, error)
	ListFiles(ctx context.Context, tok *token.Token, kind FileKind) ([]FileMeta, error)
}

type JobQueueService interface {
	Submit(ctx context.Context, tok *token.Token, req *SubmitRequest) (int64, error)
	Status(ctx context.Context, tok *token.Token, pid int64) (*RemoteJob, error)
	Kill(ctx context.Context, tok *token.Token, pid int64) (*RemoteJob, error)
	ListActive(ctx context.Context, tok *token.Token) ([]RemoteJob, error)
}

type ResultService interface {
	ListResultFiles(ctx context.Context, tok *token.Token) ([]FileMeta, error)
	ListErrorFiles(ctx context.Context, tok *token.Token) ([]FileMeta, error)
	Download(ctx context.Context, tok *token.Token, name string, isError bool) ([]byte, error)
}

// Bundle 单个账号的远端服务客户端
type Bundle struct {
	Upload  DataUploadService
	Jobs    JobQueueService
	Results ResultService
}
