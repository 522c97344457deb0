package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/api"
	"github.com/qs3c/hpc_job_server/internal/api/handler"
	"github.com/qs3c/hpc_job_server/internal/app"
	"github.com/qs3c/hpc_job_server/internal/pkg/cron"
	"github.com/qs3c/hpc_job_server/internal/pkg/jwt"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/ws"
	"github.com/qs3c/hpc_job_server/internal/worker"
)

var (
	configPath = flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "Path to config file")
	issueToken = flag.Int64("issue-token", 0, "Print an API token for the given operator id and exit")
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Root().Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Root().Fatalf("Invalid log config: %v", err)
	}
	log := logger.Root()

	if *issueToken > 0 {
		token, err := jwt.GenerateToken(*issueToken, cfg.JWT.Secret, cfg.JWT.ExpireHours)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	a, err := app.New(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to init: %v", err)
	}
	defer a.Close()
	log.WithField("driver", cfg.Database.Driver).Info("Database connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 配置文件中的账号
	if err := a.AccountService.Bootstrap(ctx, cfg.Accounts); err != nil {
		log.Fatalf("Failed to import accounts: %v", err)
	}

	// 恢复未结束的作业
	if err := a.Manager.Resume(ctx); err != nil {
		log.Fatalf("Failed to resume jobs: %v", err)
	}

	// WebSocket Hub
	wsHub := ws.NewHub()
	events, unsubscribe := a.Broker.Subscribe(256)
	defer unsubscribe()
	go wsHub.Pump(ctx, events)

	// 其他进程（独立 worker）的事件
	go func() {
		if err := a.FollowPeers(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("Peer event stream stopped: %v", err)
		}
	}()

	// 预处理池
	if cfg.Upload.MaxConcurrent > 0 {
		pre := worker.NewPreprocessor(a.Manager, a.Queue, cfg.Upload.MaxConcurrent, cfg.HPC.WorkDir, a.Metrics)
		go pre.Run(ctx)
	}

	// 定时任务：轮询、结果收集、临时文件清理
	poller := worker.NewPoller(a.Manager, a.Metrics)
	collector := worker.NewCollector(a.Manager)
	scheduler := cron.NewService()
	scheduler.Add("poll", cfg.HPC.PollInterval, poller.PollOnce)
	scheduler.Add("collect", cfg.HPC.CollectInterval, collector.CollectOnce)
	scheduler.Add("cleanup", time.Hour, cron.CleanupTask(time.Duration(cfg.Upload.ExpireHours)*time.Hour, cfg.HPC.WorkDir))
	scheduler.Start(ctx)

	// HTTP
	router := api.NewRouter(
		handler.NewAccountHandler(a.AccountService),
		handler.NewJobHandler(a.Manager),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret),
		wsHub,
		cfg,
	)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}
	go func() {
		log.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	scheduler.Stop()
	cancel()
	log.Info("Server shutdown complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
