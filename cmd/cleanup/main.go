package main

import (
	"flag"
	"os"
	"time"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/pkg/cron"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
)

var (
	expireHours = flag.Int("expire", 0, "Hours to keep staged files (default upload.expire_hours)")
	results     = flag.Bool("results", false, "Also clean the result download dir")
)

// 一次性清理预处理临时目录
func main() {
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Root().Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Root().Fatalf("Invalid log config: %v", err)
	}
	log := logger.Root()

	hours := *expireHours
	if hours <= 0 {
		hours = cfg.Upload.ExpireHours
	}
	expire := time.Duration(hours) * time.Hour

	roots := []string{cfg.HPC.WorkDir}
	if *results {
		roots = append(roots, cfg.HPC.DownloadDir)
	}

	total := 0
	for _, root := range roots {
		n := cron.CleanupDirs(root, expire)
		log.WithField("dir", root).WithField("removed", n).Info("Cleanup finished")
		total += n
	}
	log.WithField("removed", total).Info("Cleanup completed")
}
