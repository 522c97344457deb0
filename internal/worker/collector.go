package worker

import (
	"context"
	"errors"

	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/service"
)

// Collector 后台下载已结束作业的结果
type Collector struct {
	mgr *service.JobManager
}

func NewCollector(mgr *service.JobManager) *Collector {
	return &Collector{mgr: mgr}
}

// CollectOnce tries every Finished or Killed job once. Jobs whose result is
// not published yet are retried on the next run.
func (c *Collector) CollectOnce(ctx context.Context) error {
	log := logger.FromContext(ctx)

	jobs, err := c.mgr.AwaitingResult()
	if err != nil {
		log.Warnf("collector: failed to query finished jobs: %v", err)
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	collected := 0
	for _, j := range jobs {
		done, err := c.mgr.CollectResult(ctx, j.ID)
		switch {
		case errors.Is(err, service.ErrResultNotReady):
			log.WithField("job_id", j.ID).Debug("collector: result not ready")
			continue
		case errors.Is(err, service.ErrStateChanged):
			continue
		case err != nil:
			log.WithField("job_id", j.ID).Warnf("collector: failed to collect result: %v", err)
			continue
		}
		collected++
		log.WithField("job_id", done.ID).WithField("status", done.Status.String()).Info("collector: result collected")
	}

	if collected > 0 {
		log.WithField("collected", collected).Info("collector: run finished")
	}
	return nil
}
