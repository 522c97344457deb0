package cron

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
)

// TaskFunc 一次定时任务的执行体
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	// 同一任务不并发执行
	running sync.Mutex
}

// Service 周期任务调度。Stop 之后可以再次 Start
type Service struct {
	mu     sync.Mutex
	tasks  map[string]*task
	order  []string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService() *Service {
	return &Service{
		tasks: make(map[string]*task),
	}
}

// Add registers a task. It must be called before Start.
func (s *Service) Add(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; !exists {
		s.order = append(s.order, name)
	}
	s.tasks[name] = &task{name: name, interval: interval, fn: fn}
}

// Start 启动定时任务；已启动时不做任何事
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, name := range s.order {
		t := s.tasks[name]
		if t.interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	logger.Root().WithField("tasks", s.order).Info("cron service started")
}

// Stop 停止定时任务并等待正在执行的任务结束
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logger.Root().Info("cron service stopped")
}

// Running reports whether the periodic loops are active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// RunNow 立即执行一次指定任务（用于测试或手动触发）
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cron: unknown task %q", name)
	}
	return s.run(ctx, t)
}

func (s *Service) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.run(ctx, t); err != nil {
				logger.Root().WithField("task", t.name).Warnf("cron task failed: %v", err)
			}
		}
	}
}

func (s *Service) run(ctx context.Context, t *task) error {
	t.running.Lock()
	defer t.running.Unlock()
	return t.fn(ctx)
}

// CleanupDirs 清理 root 下超过 expire 未修改的子目录和文件，返回清理数量
func CleanupDirs(root string, expire time.Duration) int {
	if root == "" {
		return 0
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Root().Warnf("cleanup: failed to read dir %s: %v", root, err)
		}
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > expire {
			p := filepath.Join(root, entry.Name())
			if err := os.RemoveAll(p); err != nil {
				logger.Root().Warnf("cleanup: failed to remove %s: %v", p, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}

// CleanupTask wraps CleanupDirs for the scheduler.
func CleanupTask(expire time.Duration, roots ...string) TaskFunc {
	return func(ctx context.Context) error {
		total := 0
		for _, root := range roots {
			total += CleanupDirs(root, expire)
		}
		if total > 0 {
			logger.Root().WithField("removed", total).Info("cleanup summary")
		}
		return nil
	}
}
