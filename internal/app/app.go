// Package app assembles the components shared by the server and worker
// processes from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/database"
	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/metrics"
	"github.com/qs3c/hpc_job_server/internal/pkg/objstore"
	"github.com/qs3c/hpc_job_server/internal/pkg/oss"
	"github.com/qs3c/hpc_job_server/internal/pkg/progress"
	"github.com/qs3c/hpc_job_server/internal/pkg/pubsub"
	"github.com/qs3c/hpc_job_server/internal/pkg/queue"
	"github.com/qs3c/hpc_job_server/internal/pkg/secret"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
	"github.com/qs3c/hpc_job_server/internal/repository"
	"github.com/qs3c/hpc_job_server/internal/service"
)

// App 进程内共享的组件
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client // 未配置时为 nil

	Origin  string
	Broker  *pubsub.Broker
	Queue   queue.Queue
	Metrics *metrics.Metrics

	Accounts *repository.AccountRepository
	Jobs     *repository.JobRepository
	Logs     *repository.JobLogRepository

	Tokens *token.Cache
	Conns  *hpc.Factory

	Manager        *service.JobManager
	AccountService *service.AccountService
}

// New opens the store, connects redis when configured and builds the job
// manager. reg may be nil to skip metrics.
func New(cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Origin: uuid.NewString(),
		Broker: pubsub.NewBroker(),
	}
	if reg != nil {
		a.Metrics = metrics.New(reg)
	}

	if cfg.Redis.Enabled() {
		a.Redis, err = database.NewRedis(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
	}

	a.Queue, err = NewQueue(&cfg.Queue, a.Redis)
	if err != nil {
		return nil, err
	}

	box, err := secret.NewBox(cfg.HPC.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hpc.secret_key: %w", err)
	}
	a.Accounts = repository.NewAccountRepository(db, box)
	a.Jobs = repository.NewJobRepository(db)
	a.Logs = repository.NewJobLogRepository(db)

	httpClient := &http.Client{Timeout: cfg.HPC.RequestTimeout}
	uploader, err := NewUploader(cfg)
	if err != nil {
		return nil, err
	}
	a.Tokens = token.NewCache(hpc.NewIdentity(cfg.HPC.ClientID, httpClient), cfg.HPC.TokenTTL, token.WithMetrics(a.Metrics))
	a.Conns = hpc.NewFactory(hpc.HTTPBuilder(httpClient, uploader))

	a.Manager = service.NewJobManager(a.Jobs, a.Logs, a.Accounts, a.Tokens, a.Conns,
		a.Queue, a.Publisher(), progress.NewTracker(),
		service.WithMetrics(a.Metrics),
		service.WithDownloadDir(cfg.HPC.DownloadDir))
	a.AccountService = service.NewAccountService(a.Accounts, a.Jobs, a.Tokens, a.Conns)

	return a, nil
}

// Publisher 本地 broker，启用 redis 时同时广播到其他进程
func (a *App) Publisher() pubsub.Publisher {
	var pub pubsub.Publisher = a.Broker
	if a.Redis != nil {
		pub = pubsub.Fanout{a.Broker, pubsub.NewRedisPublisher(a.Redis)}
	}
	return pubsub.Tagged{Origin: a.Origin, Publisher: pub}
}

// FollowPeers applies events published by other processes to the local
// indices and forwards them to local subscribers. It blocks until ctx is
// done and returns immediately when redis is not configured.
func (a *App) FollowPeers(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	sub := pubsub.NewRedisSubscriber(a.Redis)
	return sub.Subscribe(ctx, func(ev *pubsub.Event) {
		if ev.Origin == a.Origin {
			return
		}
		a.Manager.ApplyEvent(ctx, ev)
		_ = a.Broker.Publish(ctx, ev)
	})
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Root().Warnf("close redis: %v", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// NewQueue 按配置选择预处理队列
func NewQueue(cfg *config.QueueConfig, rdb *redis.Client) (queue.Queue, error) {
	switch cfg.Backend {
	case "", "memory":
		return queue.NewMemoryQueue(cfg.Size), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("queue backend redis requires redis config")
		}
		return queue.NewRedisQueue(rdb, cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// NewUploader returns the dataset upload backend. nil keeps the cluster's
// own HTTP data service.
func NewUploader(cfg *config.Config) (hpc.UploaderFunc, error) {
	switch cfg.Upload.Backend {
	case "", "http":
		return nil, nil
	case "oss":
		client, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			return nil, fmt.Errorf("failed to init oss client: %w", err)
		}
		return func(account *model.AccountProfile, _ *hpc.Client) (hpc.DataUploadService, error) {
			return client.ForAccount(account.ConnectionName), nil
		}, nil
	case "minio":
		client, err := objstore.NewMinioClient(&cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("failed to init minio client: %w", err)
		}
		return func(account *model.AccountProfile, _ *hpc.Client) (hpc.DataUploadService, error) {
			return client.ForAccount(account.ConnectionName), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Upload.Backend)
	}
}
