package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
)

// ResultSink receives the outcome of a finished job: the result graph as
// JSON, or the error reported by the cluster.
type ResultSink interface {
	Accept(ctx context.Context, job *model.JobRecord, graph []byte, resultErr error)
}

// LogSink 只记录日志
type LogSink struct{}

func (LogSink) Accept(ctx context.Context, job *model.JobRecord, graph []byte, resultErr error) {
	log := logger.FromContext(ctx).WithField("job_id", job.ID)
	if resultErr != nil {
		log.Warnf("job result error: %v", resultErr)
		return
	}
	log.WithField("bytes", len(graph)).Info("job result received")
}

// ProgressMessage 状态迁移对应的日志文案
func ProgressMessage(status model.JobStatus) string {
	switch status {
	case model.StatusSubmitted:
		return progressSubmitted
	case model.StatusRunning:
		return progressRunning
	case model.StatusKillRequested:
		return progressKillRequested
	case model.StatusKilled:
		return progressKilled
	case model.StatusFinished:
		return progressFinished
	case model.StatusResultDownloaded:
		return "Result downloaded"
	case model.StatusErrorResultDownloaded:
		return "Error result downloaded"
	}
	return "Job " + status.String()
}

// CollectResult downloads the result of a Finished or Killed job, hands it
// to the job's sink and records ResultDownloaded or ErrorResultDownloaded.
// ErrResultNotReady means the cluster has not published a file yet.
func (s *JobManager) CollectResult(ctx context.Context, jobID int64) (*model.JobRecord, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.StatusResultDownloaded, model.StatusErrorResultDownloaded:
		return job, nil
	case model.StatusFinished, model.StatusKilled:
	default:
		return nil, fmt.Errorf("%w: job is %s", ErrJobActive, job.Status)
	}

	// 未提交就被取消的作业不会有结果
	if job.Pid == nil {
		done, err := s.Transition(ctx, job.ID, job.Status, model.StatusErrorResultDownloaded, "No result: job never reached the cluster", nil)
		if err != nil {
			return nil, err
		}
		s.deliver(ctx, done, nil, errors.New("job was killed before submission"))
		return done, nil
	}

	_, bundle, tok, err := s.Remote(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}

	files, err := bundle.Results.ListResultFiles(ctx, tok)
	if err != nil {
		return nil, err
	}
	if name, ok := matchResultFile(files, *job.Pid, ".json"); ok {
		data, err := bundle.Results.Download(ctx, tok, name, false)
		if err != nil {
			return nil, err
		}
		if err := s.store(name, data); err != nil {
			return nil, err
		}

		if !json.Valid(data) {
			done, err := s.Transition(ctx, job.ID, job.Status, model.StatusErrorResultDownloaded, "Result is not valid JSON: "+name,
				func(j *model.JobRecord) { j.ResultFileName = name })
			if err != nil {
				return nil, err
			}
			s.deliver(ctx, done, nil, fmt.Errorf("result %s is not valid JSON", name))
			return done, nil
		}

		done, err := s.Transition(ctx, job.ID, job.Status, model.StatusResultDownloaded, ProgressMessage(model.StatusResultDownloaded),
			func(j *model.JobRecord) { j.ResultFileName = name })
		if err != nil {
			return nil, err
		}
		s.deliver(ctx, done, data, nil)
		return done, nil
	}

	errFiles, err := bundle.Results.ListErrorFiles(ctx, tok)
	if err != nil {
		return nil, err
	}
	if name, ok := matchResultFile(errFiles, *job.Pid, ".txt"); ok {
		data, err := bundle.Results.Download(ctx, tok, name, true)
		if err != nil {
			return nil, err
		}
		if err := s.store(name, data); err != nil {
			return nil, err
		}
		done, err := s.Transition(ctx, job.ID, job.Status, model.StatusErrorResultDownloaded, ProgressMessage(model.StatusErrorResultDownloaded),
			func(j *model.JobRecord) { j.ErrorResultFileName = name })
		if err != nil {
			return nil, err
		}
		s.deliver(ctx, done, nil, errors.New(strings.TrimSpace(string(data))))
		return done, nil
	}

	return nil, ErrResultNotReady
}

func (s *JobManager) deliver(ctx context.Context, job *model.JobRecord, graph []byte, resultErr error) {
	sink := s.Sink(job.ResultSink)
	if sink == nil {
		sink = s.Sink(DefaultSink)
	}
	sink.Accept(ctx, job, graph, resultErr)
}

func (s *JobManager) store(name string, data []byte) error {
	if s.downloadDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.downloadDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.downloadDir, filepath.Base(name)), data, 0o644)
}

// matchResultFile 远端文件名以 _<pid><ext> 结尾
func matchResultFile(files []hpc.FileMeta, pid int64, ext string) (string, bool) {
	suffix := fmt.Sprintf("_%d%s", pid, ext)
	for _, f := range files {
		if strings.HasSuffix(f.Name, suffix) {
			return f.Name, true
		}
	}
	return "", false
}

// AwaitingResult 等待收集结果的作业
func (s *JobManager) AwaitingResult() ([]*model.JobRecord, error) {
	jobs, err := s.jobs.FindByStatus(model.StatusFinished, model.StatusKilled)
	if err != nil {
		return nil, hpcerr.Persistence("awaiting result", err)
	}
	return jobs, nil
}
