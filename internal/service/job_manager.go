package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/model/dto"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/metrics"
	"github.com/qs3c/hpc_job_server/internal/pkg/progress"
	"github.com/qs3c/hpc_job_server/internal/pkg/pubsub"
	"github.com/qs3c/hpc_job_server/internal/pkg/queue"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
	"github.com/qs3c/hpc_job_server/internal/repository"
)

var (
	ErrJobNotFound       = errors.New("作业不存在")
	ErrAccountNotFound   = errors.New("账号不存在")
	ErrInvalidRequest    = errors.New("作业参数错误")
	ErrInvalidTransition = errors.New("非法的状态迁移")
	ErrStateChanged      = errors.New("作业状态已被修改")
	ErrJobActive         = errors.New("作业仍在运行")
	ErrResultNotReady    = errors.New("结果尚未生成")
	ErrUnknownSink       = errors.New("未注册的结果接收器")
)

// 日志记录文案
const (
	progressAdded         = "Job added"
	progressSubmitted     = "Job submitted"
	progressRunning       = "Job running"
	progressKillRequested = "Kill requested"
	progressKilled        = "Job killed"
	progressKilledLocal   = "Job killed before submission"
	progressFinished      = "Job finished"
)

// DefaultSink 未指定结果接收器时使用
const DefaultSink = "log"

// JobManager owns the pending/submitted indices and is the only place
// job status changes.
type JobManager struct {
	jobs     *repository.JobRepository
	logs     *repository.JobLogRepository
	accounts *repository.AccountRepository
	tokens   *token.Cache
	conns    *hpc.Factory
	queue    queue.Queue
	events   pubsub.Publisher
	progress *progress.Tracker
	metrics  *metrics.Metrics

	downloadDir string
	now         func() time.Time

	// mu 串行化状态迁移并保护索引；持锁期间不做网络调用
	mu        sync.Mutex
	pending   map[int64]map[int64]*model.JobRecord
	submitted map[int64]map[int64]*model.JobRecord

	sinkMu sync.RWMutex
	sinks  map[string]ResultSink
}

type ManagerOption func(*JobManager)

func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(s *JobManager) { s.metrics = m }
}

// WithDownloadDir 结果文件保存目录；为空时不落盘
func WithDownloadDir(dir string) ManagerOption {
	return func(s *JobManager) { s.downloadDir = dir }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(s *JobManager) { s.now = now }
}

func NewJobManager(
	jobs *repository.JobRepository,
	logs *repository.JobLogRepository,
	accounts *repository.AccountRepository,
	tokens *token.Cache,
	conns *hpc.Factory,
	q queue.Queue,
	events pubsub.Publisher,
	tracker *progress.Tracker,
	opts ...ManagerOption,
) *JobManager {
	s := &JobManager{
		jobs:      jobs,
		logs:      logs,
		accounts:  accounts,
		tokens:    tokens,
		conns:     conns,
		queue:     q,
		events:    events,
		progress:  tracker,
		now:       time.Now,
		pending:   make(map[int64]map[int64]*model.JobRecord),
		submitted: make(map[int64]map[int64]*model.JobRecord),
		sinks:     map[string]ResultSink{DefaultSink: LogSink{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit persists a Pending job, indexes it and hands it to preprocessing.
// It returns as soon as the record is stored.
func (s *JobManager) Submit(ctx context.Context, accountID int64, algorithm string, req model.AlgorithmParamRequest, sink string) (*model.JobRecord, error) {
	if _, err := s.Account(accountID); err != nil {
		return nil, err
	}
	if err := req.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if algorithm == "" {
		return nil, fmt.Errorf("%w: algorithm is required", ErrInvalidRequest)
	}
	if sink == "" {
		sink = DefaultSink
	}
	if s.Sink(sink) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSink, sink)
	}

	job := &model.JobRecord{
		AccountID:     accountID,
		AlgorithmName: model.ResolveAlgorithm(algorithm, req.VariableType),
		Request:       req,
		Status:        model.StatusPending,
		ResultSink:    sink,
		CreatedAt:     s.now(),
	}

	s.mu.Lock()
	if err := s.jobs.Create(job, progressAdded); err != nil {
		s.mu.Unlock()
		return nil, hpcerr.Persistence("submit", err)
	}
	s.index(job)
	s.mu.Unlock()

	ctx, log := logger.WithFields(ctx, logrus.Fields{"job_id": job.ID, "account_id": accountID})
	log.WithField("algorithm", job.AlgorithmName).Info("job added")
	s.metrics.Transition(job.Status.String())
	s.publishStatus(ctx, job)

	if err := s.enqueue(ctx, job); err != nil {
		// 作业保持 Pending，可通过 Requeue 或重启恢复
		log.Warnf("enqueue preprocessing failed: %v", err)
		s.Note(ctx, job.ID, "Enqueue failed: "+err.Error())
	}
	return job, nil
}

// Requeue puts a Pending job back on the preprocessing queue.
func (s *JobManager) Requeue(ctx context.Context, jobID int64) (*model.JobRecord, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
	}
	if err := s.enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobManager) enqueue(ctx context.Context, job *model.JobRecord) error {
	return s.queue.Push(ctx, &queue.JobMessage{
		JobID:       job.ID,
		AccountID:   job.AccountID,
		DatasetPath: job.DatasetPath(),
	})
}

// Kill stops a job. A job without pid is killed locally; a job with pid
// moves to KillRequested and the remote queue is asked to kill it.
// Killing a terminal job is a no-op.
func (s *JobManager) Kill(ctx context.Context, jobID int64) (*dto.KillJobResponse, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	ctx, log := logger.WithFields(ctx, logrus.Fields{"job_id": job.ID, "account_id": job.AccountID})

	if job.Status.IsTerminal() {
		log.WithField("status", job.Status.String()).Info("kill ignored, job already terminal")
		return &dto.KillJobResponse{Job: dto.NewJobItem(job), NoOp: true}, nil
	}

	if job.Pid == nil {
		killed, err := s.Transition(ctx, job.ID, job.Status, model.StatusKilled, progressKilledLocal, nil)
		if errors.Is(err, ErrStateChanged) {
			// 预处理刚好提交成功，按已提交作业处理
			return s.Kill(ctx, jobID)
		}
		if err != nil {
			return nil, err
		}
		return &dto.KillJobResponse{Job: dto.NewJobItem(killed)}, nil
	}

	if job.Status != model.StatusKillRequested {
		job, err = s.Transition(ctx, job.ID, job.Status, model.StatusKillRequested, progressKillRequested, nil)
		if errors.Is(err, ErrStateChanged) {
			return s.Kill(ctx, jobID)
		}
		if err != nil {
			return nil, err
		}
	}

	account, bundle, tok, err := s.Remote(ctx, job.AccountID)
	if err != nil {
		return &dto.KillJobResponse{Job: dto.NewJobItem(job)}, err
	}
	answer, err := bundle.Jobs.Kill(ctx, tok, *job.Pid)
	if err != nil {
		log.WithField("account", account.ConnectionName).Warnf("remote kill failed: %v", err)
		return &dto.KillJobResponse{Job: dto.NewJobItem(job)}, err
	}

	// 远端已确认时直接落到终态，否则等待轮询
	switch answer.Status {
	case model.StatusKilled:
		job, err = s.Transition(ctx, job.ID, model.StatusKillRequested, model.StatusKilled, progressKilled, nil)
	case model.StatusFinished:
		job, err = s.Transition(ctx, job.ID, model.StatusKillRequested, model.StatusFinished, progressFinished, nil)
	}
	if errors.Is(err, ErrStateChanged) {
		// 轮询已经处理
		job, err = s.Get(jobID)
	}
	if err != nil {
		return nil, err
	}
	return &dto.KillJobResponse{Job: dto.NewJobItem(job)}, nil
}

// MarkSubmitted records the remote pid of a Pending job.
func (s *JobManager) MarkSubmitted(ctx context.Context, jobID, pid int64) (*model.JobRecord, error) {
	return s.Transition(ctx, jobID, model.StatusPending, model.StatusSubmitted, progressSubmitted, func(j *model.JobRecord) {
		j.Pid = &pid
		now := s.now()
		j.SubmittedTime = &now
	})
}

// Transition is the single entry point for status changes. The record is
// re-read under the lock; from must match the stored status. The record
// and one log entry are persisted before the indices change.
func (s *JobManager) Transition(ctx context.Context, jobID int64, from, to model.JobStatus, progressMsg string, mutate func(*model.JobRecord)) (*model.JobRecord, error) {
	s.mu.Lock()

	cur, err := s.load(jobID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if cur.Status != from {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStateChanged, from, cur.Status)
	}
	if !model.CanTransition(from, to) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	next := *cur
	next.Status = to
	if mutate != nil {
		mutate(&next)
	}
	if !model.PidConsistent(next.Status, next.Pid) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: pid does not match %s", ErrInvalidTransition, to)
	}

	if err := s.jobs.SaveWithEntry(&next, from, progressMsg, s.now()); err != nil {
		s.mu.Unlock()
		if errors.Is(err, repository.ErrStaleStatus) {
			// 其他进程先改了状态
			return nil, fmt.Errorf("%w: %s changed by another process", ErrStateChanged, from)
		}
		return nil, hpcerr.Persistence("transition", err)
	}
	s.index(&next)
	s.mu.Unlock()

	fields := logrus.Fields{"job_id": next.ID, "from": from.String(), "to": to.String()}
	if next.Pid != nil {
		fields["pid"] = *next.Pid
	}
	logger.FromContext(ctx).WithFields(fields).Info("job transition")
	s.metrics.Transition(to.String())
	s.publishStatus(ctx, &next)

	out := next
	return &out, nil
}

// Note appends a log entry without changing status.
func (s *JobManager) Note(ctx context.Context, jobID int64, message string) {
	s.mu.Lock()
	job, err := s.load(jobID)
	if err == nil {
		err = s.logs.AppendEntry(jobID, job.Status, message, s.now())
	}
	s.mu.Unlock()

	if err != nil {
		logger.FromContext(ctx).WithField("job_id", jobID).Warnf("append job note failed: %v", err)
		return
	}
	s.publish(ctx, &pubsub.Event{
		Type:      pubsub.EventJobNote,
		JobID:     jobID,
		AccountID: job.AccountID,
		Status:    int(job.Status),
		Message:   message,
	})
}

// Resume rebuilds the indices from the store and re-enqueues Pending jobs.
func (s *JobManager) Resume(ctx context.Context) error {
	active, err := s.jobs.FindByStatus(model.ActiveStatuses...)
	if err != nil {
		return hpcerr.Persistence("resume", err)
	}

	s.mu.Lock()
	s.pending = make(map[int64]map[int64]*model.JobRecord)
	s.submitted = make(map[int64]map[int64]*model.JobRecord)
	var requeue []*model.JobRecord
	for _, job := range active {
		s.index(job)
		if job.Status == model.StatusPending {
			requeue = append(requeue, job)
		}
	}
	s.mu.Unlock()

	log := logger.FromContext(ctx)
	for _, job := range requeue {
		if err := s.enqueue(ctx, job); err != nil {
			log.WithField("job_id", job.ID).Warnf("re-enqueue failed: %v", err)
		}
	}
	log.WithFields(logrus.Fields{"active": len(active), "requeued": len(requeue)}).Info("job indices resumed")
	return nil
}

// ApplyEvent brings the indices and upload progress in line with an event
// published by another process sharing the same store.
func (s *JobManager) ApplyEvent(ctx context.Context, ev *pubsub.Event) {
	switch ev.Type {
	case pubsub.EventUploadProgress:
		s.progress.Set(ev.Path, ev.Progress)
	case pubsub.EventJobStatus, pubsub.EventJobDeleted:
		s.mu.Lock()
		job, err := s.load(ev.JobID)
		switch {
		case err == nil:
			s.index(job)
		case errors.Is(err, ErrJobNotFound):
			unindex(s.pending, &model.JobRecord{ID: ev.JobID, AccountID: ev.AccountID})
			unindex(s.submitted, &model.JobRecord{ID: ev.JobID, AccountID: ev.AccountID})
		}
		s.mu.Unlock()
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			logger.FromContext(ctx).WithField("job_id", ev.JobID).Warnf("refresh job from event failed: %v", err)
		}
	}
}

// Query snapshots the indices. accountID 0 returns every account.
func (s *JobManager) Query(accountID int64) *dto.JobIndices {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &dto.JobIndices{
		Pending:   snapshot(s.pending, accountID),
		Submitted: snapshot(s.submitted, accountID),
	}
	return out
}

// SubmittedAccounts 有远端在途作业的账号
func (s *JobManager) SubmittedAccounts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.submitted))
	for id := range s.submitted {
		ids = append(ids, id)
	}
	return ids
}

// SubmittedJobs returns copies of the account's in-flight remote jobs.
func (s *JobManager) SubmittedJobs(accountID int64) []*model.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*model.JobRecord, 0, len(s.submitted[accountID]))
	for _, j := range s.submitted[accountID] {
		c := *j
		jobs = append(jobs, &c)
	}
	return jobs
}

func (s *JobManager) UploadProgress(path string) (int, bool) {
	return s.progress.Get(path)
}

// SetUploadProgress records progress and publishes it on the event stream.
func (s *JobManager) SetUploadProgress(ctx context.Context, accountID int64, path string, percent int) {
	s.progress.Set(path, percent)
	s.publish(ctx, &pubsub.Event{
		Type:      pubsub.EventUploadProgress,
		AccountID: accountID,
		Path:      path,
		Progress:  percent,
	})
}

func (s *JobManager) ClearUploadProgress(path string) {
	s.progress.Remove(path)
}

func (s *JobManager) Get(jobID int64) (*model.JobRecord, error) {
	return s.load(jobID)
}

// Detail 作业及其完整日志
func (s *JobManager) Detail(jobID int64) (*dto.JobDetail, error) {
	job, err := s.load(jobID)
	if err != nil {
		return nil, err
	}
	log, err := s.logs.GetByJobID(jobID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, hpcerr.Persistence("detail", err)
	}
	return &dto.JobDetail{Job: job, Log: log}, nil
}

// Finished 已结束作业
func (s *JobManager) Finished(accountID int64) ([]*model.JobRecord, error) {
	jobs, err := s.jobs.FindFinished(accountID)
	if err != nil {
		return nil, hpcerr.Persistence("finished", err)
	}
	return jobs, nil
}

// Delete removes a terminal job together with its log.
func (s *JobManager) Delete(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	job, err := s.load(jobID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if job.Status.IsActive() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobActive, job.Status)
	}
	if err := s.jobs.Delete(jobID); err != nil {
		s.mu.Unlock()
		return hpcerr.Persistence("delete", err)
	}
	s.mu.Unlock()

	logger.FromContext(ctx).WithField("job_id", jobID).Info("job deleted")
	s.publish(ctx, &pubsub.Event{
		Type:      pubsub.EventJobDeleted,
		JobID:     jobID,
		AccountID: job.AccountID,
		Status:    int(job.Status),
	})
	return nil
}

func (s *JobManager) Account(accountID int64) (*model.AccountProfile, error) {
	account, err := s.accounts.GetByID(accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, hpcerr.Persistence("account", err)
	}
	return account, nil
}

// Remote resolves the account, its service bundle and a valid token.
func (s *JobManager) Remote(ctx context.Context, accountID int64) (*model.AccountProfile, *hpc.Bundle, *token.Token, error) {
	account, err := s.Account(accountID)
	if err != nil {
		return nil, nil, nil, err
	}
	bundle, err := s.conns.Get(ctx, account)
	if err != nil {
		return account, nil, nil, err
	}
	tok, err := s.tokens.Get(ctx, account)
	if err != nil {
		return account, nil, nil, err
	}
	return account, bundle, tok, nil
}

func (s *JobManager) RegisterSink(name string, sink ResultSink) {
	s.sinkMu.Lock()
	s.sinks[name] = sink
	s.sinkMu.Unlock()
}

func (s *JobManager) Sink(name string) ResultSink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sinks[name]
}

func (s *JobManager) load(jobID int64) (*model.JobRecord, error) {
	job, err := s.jobs.GetByID(jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, hpcerr.Persistence("load job", err)
	}
	return job, nil
}

// index 必须持有 mu
func (s *JobManager) index(job *model.JobRecord) {
	unindex(s.pending, job)
	unindex(s.submitted, job)

	c := *job
	switch {
	case job.Status == model.StatusPending:
		put(s.pending, &c)
	case job.Status.IsRemote():
		put(s.submitted, &c)
	}
	s.metrics.SetIndexed(count(s.pending), count(s.submitted))
}

func (s *JobManager) publishStatus(ctx context.Context, job *model.JobRecord) {
	s.publish(ctx, &pubsub.Event{
		Type:       pubsub.EventJobStatus,
		JobID:      job.ID,
		AccountID:  job.AccountID,
		Status:     int(job.Status),
		StatusName: job.Status.String(),
		Pid:        job.Pid,
	})
}

func (s *JobManager) publish(ctx context.Context, ev *pubsub.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		logger.FromContext(ctx).WithField("job_id", ev.JobID).Warnf("publish event failed: %v", err)
	}
}

func put(m map[int64]map[int64]*model.JobRecord, job *model.JobRecord) {
	if m[job.AccountID] == nil {
		m[job.AccountID] = make(map[int64]*model.JobRecord)
	}
	m[job.AccountID][job.ID] = job
}

func unindex(m map[int64]map[int64]*model.JobRecord, job *model.JobRecord) {
	if jobs, ok := m[job.AccountID]; ok {
		delete(jobs, job.ID)
		if len(jobs) == 0 {
			delete(m, job.AccountID)
		}
	}
}

func count(m map[int64]map[int64]*model.JobRecord) int {
	n := 0
	for _, jobs := range m {
		n += len(jobs)
	}
	return n
}

func snapshot(m map[int64]map[int64]*model.JobRecord, accountID int64) map[int64][]dto.JobItem {
	out := make(map[int64][]dto.JobItem)
	for acc, jobs := range m {
		if accountID != 0 && acc != accountID {
			continue
		}
		items := make([]dto.JobItem, 0, len(jobs))
		for _, j := range jobs {
			items = append(items, dto.NewJobItem(j))
		}
		sortItems(items)
		out[acc] = items
	}
	return out
}

func sortItems(items []dto.JobItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
