package app

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/pubsub"
	"github.com/qs3c/hpc_job_server/internal/pkg/queue"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "jobs.db")},
		HPC: config.HPCConfig{
			TokenTTL:       time.Hour,
			RequestTimeout: time.Second,
			SecretKey:      "test-key",
			ClientID:       "test",
			WorkDir:        filepath.Join(dir, "work"),
			DownloadDir:    filepath.Join(dir, "results"),
		},
		Queue: config.QueueConfig{Backend: "memory", Name: "test_queue"},
	}
}

func withRedis(t *testing.T, cfg *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Redis = config.RedisConfig{Host: mr.Host(), Port: port}
}

func TestNew_MemoryBackends(t *testing.T) {
	a, err := New(testConfig(t), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.IsType(t, &queue.MemoryQueue{}, a.Queue)
	assert.NotNil(t, a.Manager)
	assert.NotNil(t, a.Metrics)
	assert.NoError(t, a.FollowPeers(context.Background()))
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{name: "unknown driver", modify: func(cfg *config.Config) { cfg.Database.Driver = "oracle" }},
		{name: "redis queue without redis", modify: func(cfg *config.Config) { cfg.Queue.Backend = "redis" }},
		{name: "unknown queue", modify: func(cfg *config.Config) { cfg.Queue.Backend = "kafka" }},
		{name: "empty secret key", modify: func(cfg *config.Config) { cfg.HPC.SecretKey = "" }},
		{name: "unknown upload backend", modify: func(cfg *config.Config) { cfg.Upload.Backend = "ftp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)
			_, err := New(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestNew_RedisQueue(t *testing.T) {
	cfg := testConfig(t)
	withRedis(t, cfg)
	cfg.Queue.Backend = "redis"

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &queue.RedisQueue{}, a.Queue)
}

// 两个进程共享存储和 redis，一方的状态变化同步到另一方的索引
func TestFollowPeers(t *testing.T) {
	cfg := testConfig(t)
	withRedis(t, cfg)

	server, err := New(cfg, nil)
	require.NoError(t, err)
	defer server.Close()
	worker, err := New(cfg, nil)
	require.NoError(t, err)
	defer worker.Close()

	account := &model.AccountProfile{ConnectionName: "lab", Scheme: "http", Host: "127.0.0.1", Port: 1, Username: "u", Password: "p"}
	require.NoError(t, server.Accounts.Create(account))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.FollowPeers(ctx) }()

	local, unsubscribe := server.Broker.Subscribe(16)
	defer unsubscribe()

	job, err := server.Manager.Submit(ctx, account.ID, model.AlgorithmFGES, model.AlgorithmParamRequest{DatasetPath: "/d.txt"}, "")
	require.NoError(t, err)
	// 等待订阅建立后本进程的事件也经过 redis 返回，被忽略
	time.Sleep(100 * time.Millisecond)

	_, err = worker.Manager.MarkSubmitted(ctx, job.ID, 77)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(server.Manager.SubmittedJobs(account.ID)) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Empty(t, server.Manager.Query(account.ID).Pending)

	// 对端事件转发给本地订阅者
	assert.Eventually(t, func() bool {
		for {
			select {
			case ev := <-local:
				if ev.Origin == worker.Origin && ev.Type == pubsub.EventJobStatus {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 20*time.Millisecond)
}
