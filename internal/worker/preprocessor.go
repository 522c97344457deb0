package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/metrics"
	"github.com/qs3c/hpc_job_server/internal/pkg/queue"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
	"github.com/qs3c/hpc_job_server/internal/service"
)

// popTimeout 队列阻塞等待时间
const popTimeout = 5 * time.Second

// Preprocessor 上传数据集并把作业提交到集群
type Preprocessor struct {
	mgr     *service.JobManager
	queue   queue.Queue
	workers int
	workDir string
	metrics *metrics.Metrics
}

// NewPreprocessor 创建预处理池；workers 即同时上传的最大数量
func NewPreprocessor(
	mgr *service.JobManager,
	q queue.Queue,
	workers int,
	workDir string,
	m *metrics.Metrics,
) *Preprocessor {
	if workers <= 0 {
		workers = 1
	}
	return &Preprocessor{
		mgr:     mgr,
		queue:   q,
		workers: workers,
		workDir: workDir,
		metrics: m,
	}
}

// Run starts the workers and blocks until ctx is done.
func (p *Preprocessor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
	logger.FromContext(ctx).WithField("workers", p.workers).Info("preprocessing pool started")
	wg.Wait()
	logger.FromContext(ctx).Info("preprocessing pool stopped")
}

func (p *Preprocessor) loop(ctx context.Context, workerID int) {
	log := logger.FromContext(ctx).WithField("worker", workerID)
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := p.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("failed to pop job: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		// 单个任务失败不影响其他任务
		if err := p.Process(ctx, msg); err != nil {
			log.WithField("job_id", msg.JobID).Warnf("preprocessing failed: %v", err)
		}
	}
}

// Process uploads the job's files and submits it. On failure the job stays
// Pending with a log entry describing why.
func (p *Preprocessor) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := p.mgr.Get(msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	ctx, log := logger.WithFields(ctx, logrus.Fields{"job_id": job.ID, "account_id": job.AccountID})

	// 排队期间已被取消或已提交
	if job.Status != model.StatusPending {
		log.WithField("status", job.Status.String()).Debug("skip preprocessing")
		return nil
	}

	stage := StageDir(p.workDir, job.ID)
	defer func() {
		if err := CleanupStage(p.workDir, stage); err != nil {
			log.Warnf("cleanup stage dir: %v", err)
		}
	}()

	pid, bundle, tok, err := p.submit(ctx, job, stage)
	if errors.Is(err, service.ErrStateChanged) {
		log.Info("job left pending during preprocessing, not submitted")
		return nil
	}
	if err != nil {
		p.fail(ctx, job, err)
		return err
	}

	if _, err := p.mgr.MarkSubmitted(ctx, job.ID, pid); err != nil {
		// 本地无法记录，远端作业成了孤儿，撤回
		log.WithField("pid", pid).Warnf("recording submission failed, killing remote job: %v", err)
		if _, kerr := bundle.Jobs.Kill(ctx, tok, pid); kerr != nil {
			log.WithField("pid", pid).Errorf("failed to kill orphan remote job: %v", kerr)
		}
		if errors.Is(err, service.ErrStateChanged) {
			return nil
		}
		p.fail(ctx, job, err)
		return err
	}
	return nil
}

func (p *Preprocessor) submit(ctx context.Context, job *model.JobRecord, stage string) (int64, *hpc.Bundle, *token.Token, error) {
	req := job.Request
	if err := ValidateDataset(req.DatasetPath); err != nil {
		return 0, nil, nil, err
	}

	_, bundle, tok, err := p.mgr.Remote(ctx, job.AccountID)
	if err != nil {
		return 0, nil, nil, err
	}

	if w, ok := req.WallTime(); ok && !tok.AllowsWallTime(w) {
		return 0, nil, nil, hpcerr.Submission("walltime", fmt.Errorf("walltime %s not allowed, options %v", w, tok.WallTimes))
	}

	datasetFile, datasetMd5, err := p.upload(ctx, job, bundle, tok, hpc.KindDataset, req.DatasetPath, stage)
	if err != nil {
		return 0, nil, nil, err
	}
	req.DatasetMd5 = datasetMd5

	var priorFile string
	if req.PriorKnowledgePath != "" {
		if err := ValidateDataset(req.PriorKnowledgePath); err != nil {
			return 0, nil, nil, &StageError{UserMessage: "Prior knowledge file not usable", RawError: err}
		}
		priorFile, req.PriorKnowledgeMd5, err = p.upload(ctx, job, bundle, tok, hpc.KindPriorKnowledge, req.PriorKnowledgePath, stage)
		if err != nil {
			return 0, nil, nil, err
		}
	}

	// 上传期间可能已被取消
	if cur, err := p.mgr.Get(job.ID); err != nil {
		return 0, nil, nil, err
	} else if cur.Status != model.StatusPending {
		return 0, nil, nil, service.ErrStateChanged
	}

	pid, err := bundle.Jobs.Submit(ctx, tok, &hpc.SubmitRequest{
		AlgorithmName: job.AlgorithmName,
		Params:        req,
		DatasetFile:   datasetFile,
		PriorFile:     priorFile,
	})
	if err != nil {
		return 0, nil, nil, err
	}
	return pid, bundle, tok, nil
}

// upload 暂存文件并上传；远端已有相同 MD5 的文件时跳过
func (p *Preprocessor) upload(ctx context.Context, job *model.JobRecord, bundle *hpc.Bundle, tok *token.Token,
	kind hpc.FileKind, path, stage string) (string, string, error) {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"kind": string(kind), "path": path})

	staged, sum, err := StageFile(stage, path)
	if err != nil {
		return "", "", &StageError{UserMessage: "Failed to stage " + string(kind), RawError: err}
	}

	existing, err := bundle.Upload.ListFiles(ctx, tok, kind)
	if err != nil {
		return "", "", err
	}
	for _, f := range existing {
		if f.Md5 != "" && f.Md5 == sum {
			log.WithField("remote", f.Name).Info("file already on cluster, upload skipped")
			p.mgr.SetUploadProgress(ctx, job.AccountID, path, 100)
			return f.Name, sum, nil
		}
	}

	p.mgr.SetUploadProgress(ctx, job.AccountID, path, 0)
	meta, err := bundle.Upload.Upload(ctx, tok, kind, staged, func(percent int) {
		p.mgr.SetUploadProgress(ctx, job.AccountID, path, percent)
	})
	if err != nil {
		return "", "", err
	}
	p.mgr.SetUploadProgress(ctx, job.AccountID, path, 100)
	log.WithField("remote", meta.Name).Info("file uploaded")
	return meta.Name, sum, nil
}

func (p *Preprocessor) fail(ctx context.Context, job *model.JobRecord, err error) {
	if errors.Is(err, service.ErrStateChanged) {
		return
	}
	p.metrics.PreprocessFailure()
	se := classifyFailure(err)
	logger.FromContext(ctx).Warnf("%s: %v", se.UserMessage, se.RawError)
	p.mgr.Note(ctx, job.ID, se.UserMessage)
}
