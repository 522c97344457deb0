package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/app"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/worker"
)

var (
	configPath = flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "Path to config file")
	workers    = flag.Int("workers", 0, "Number of preprocessing workers (default upload.max_concurrent)")
)

// 独立的预处理进程，与 server 共享数据库和 redis 队列
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

	if cfg.Queue.Backend != "redis" {
		log.Fatal("Stand-alone workers need queue.backend=redis")
	}

	a, err := app.New(cfg, prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("Failed to init: %v", err)
	}
	defer a.Close()

	n := *workers
	if n <= 0 {
		n = cfg.Upload.MaxConcurrent
	}

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	log.WithField("workers", n).Info("Worker started")
	worker.NewPreprocessor(a.Manager, a.Queue, n, cfg.HPC.WorkDir, a.Metrics).Run(ctx)
	log.Info("Worker shutdown complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
