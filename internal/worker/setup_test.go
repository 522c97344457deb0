package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/progress"
	"github.com/qs3c/hpc_job_server/internal/pkg/pubsub"
	"github.com/qs3c/hpc_job_server/internal/pkg/queue"
	"github.com/qs3c/hpc_job_server/internal/pkg/secret"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
	"github.com/qs3c/hpc_job_server/internal/repository"
	"github.com/qs3c/hpc_job_server/internal/service"
	"github.com/qs3c/hpc_job_server/internal/testutil"
)

type workerEnv struct {
	mgr     *service.JobManager
	logs    *repository.JobLogRepository
	auth    *testutil.FakeAuthenticator
	remote  *testutil.FakeRemote
	queue   *queue.MemoryQueue
	broker  *pubsub.Broker
	account *model.AccountProfile
	workDir string
	dataDir string
}

func setupWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	box, err := secret.NewBox("test")
	require.NoError(t, err)

	accounts := repository.NewAccountRepository(db, box)
	env := &workerEnv{
		logs:    repository.NewJobLogRepository(db),
		auth:    &testutil.FakeAuthenticator{},
		remote:  testutil.NewFakeRemote(),
		queue:   queue.NewMemoryQueue(64),
		broker:  pubsub.NewBroker(),
		workDir: t.TempDir(),
		dataDir: t.TempDir(),
	}
	tokens := token.NewCache(env.auth, time.Hour)
	env.mgr = service.NewJobManager(repository.NewJobRepository(db), env.logs, accounts, tokens,
		env.remote.Factory(), env.queue, env.broker, progress.NewTracker(),
		service.WithDownloadDir(t.TempDir()))

	env.account = &model.AccountProfile{
		ConnectionName: "lab", Scheme: "http", Host: "127.0.0.1", Port: 9000, Username: "u", Password: "p",
	}
	require.NoError(t, accounts.Create(env.account))
	return env
}

// dataset 在数据目录下写一个数据集文件
func (e *workerEnv) dataset(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dataDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// submit 提交作业并取出队列消息
func (e *workerEnv) submit(t *testing.T, req model.AlgorithmParamRequest) (*model.JobRecord, *queue.JobMessage) {
	t.Helper()
	ctx := context.Background()
	job, err := e.mgr.Submit(ctx, e.account.ID, model.AlgorithmFGES, req, "")
	require.NoError(t, err)
	msg, err := e.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, job.ID, msg.JobID)
	return job, msg
}

func (e *workerEnv) preprocessor() *Preprocessor {
	return NewPreprocessor(e.mgr, e.queue, 2, e.workDir, nil)
}

func (e *workerEnv) history(t *testing.T, jobID int64) ([]model.JobStatus, []string) {
	t.Helper()
	log, err := e.logs.GetByJobID(jobID)
	require.NoError(t, err)
	var statuses []model.JobStatus
	var messages []string
	for _, entry := range log.Entries {
		statuses = append(statuses, entry.EventStatus)
		messages = append(messages, entry.Progress)
	}
	return statuses, messages
}
