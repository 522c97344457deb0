package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/progress"
	"github.com/qs3c/hpc_job_server/internal/pkg/pubsub"
	"github.com/qs3c/hpc_job_server/internal/pkg/queue"
	"github.com/qs3c/hpc_job_server/internal/pkg/secret"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
	"github.com/qs3c/hpc_job_server/internal/repository"
	"github.com/qs3c/hpc_job_server/internal/testutil"
)

type testEnv struct {
	db       *gorm.DB
	mgr      *JobManager
	accounts *repository.AccountRepository
	jobs     *repository.JobRepository
	logs     *repository.JobLogRepository
	tokens   *token.Cache
	auth     *testutil.FakeAuthenticator
	remote   *testutil.FakeRemote
	queue    *queue.MemoryQueue
	broker   *pubsub.Broker
	account  *model.AccountProfile
}

func setupEnv(t *testing.T, opts ...ManagerOption) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	box, err := secret.NewBox("test")
	require.NoError(t, err)

	env := &testEnv{
		db:       db,
		accounts: repository.NewAccountRepository(db, box),
		jobs:     repository.NewJobRepository(db),
		logs:     repository.NewJobLogRepository(db),
		auth:     &testutil.FakeAuthenticator{},
		remote:   testutil.NewFakeRemote(),
		queue:    queue.NewMemoryQueue(64),
		broker:   pubsub.NewBroker(),
	}
	env.tokens = token.NewCache(env.auth, time.Hour)
	env.mgr = NewJobManager(env.jobs, env.logs, env.accounts, env.tokens, env.remote.Factory(),
		env.queue, env.broker, progress.NewTracker(), opts...)

	env.account = &model.AccountProfile{
		ConnectionName: "lab", Scheme: "http", Host: "127.0.0.1", Port: 9000, Username: "u", Password: "p",
	}
	require.NoError(t, env.accounts.Create(env.account))
	return env
}

// submitted 创建一个已经拿到 pid 的作业
func (e *testEnv) submitted(t *testing.T, pid int64) *model.JobRecord {
	t.Helper()
	job, err := e.mgr.Submit(context.Background(), e.account.ID, model.AlgorithmFGES,
		model.AlgorithmParamRequest{DatasetPath: "/data/d.txt"}, "")
	require.NoError(t, err)
	job, err = e.mgr.MarkSubmitted(context.Background(), job.ID, pid)
	require.NoError(t, err)
	e.remote.SetStatus(pid, model.StatusSubmitted)
	return job
}

func (e *testEnv) entries(t *testing.T, jobID int64) []model.JobLogEntry {
	t.Helper()
	log, err := e.logs.GetByJobID(jobID)
	require.NoError(t, err)
	return log.Entries
}

func statuses(entries []model.JobLogEntry) []model.JobStatus {
	out := make([]model.JobStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EventStatus)
	}
	return out
}

// recordingSink 记录收到的结果
type recordingSink struct {
	mu     sync.Mutex
	graphs [][]byte
	errs   []error
}

func (s *recordingSink) Accept(ctx context.Context, job *model.JobRecord, graph []byte, resultErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs = append(s.graphs, graph)
	s.errs = append(s.errs, resultErr)
}
