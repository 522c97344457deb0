package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/metrics"
	"github.com/qs3c/hpc_job_server/internal/service"
)

// Poller 对账本地在途作业与远端活动列表
type Poller struct {
	mgr     *service.JobManager
	metrics *metrics.Metrics
}

func NewPoller(mgr *service.JobManager, m *metrics.Metrics) *Poller {
	return &Poller{mgr: mgr, metrics: m}
}

// PollOnce reconciles every account that has Submitted, Running or
// KillRequested jobs. A failing account does not stop the others; their
// errors are joined in the result.
func (p *Poller) PollOnce(ctx context.Context) error {
	var errs []error
	for _, accountID := range p.mgr.SubmittedAccounts() {
		if err := p.pollAccount(ctx, accountID); err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", accountID, err))
		}
	}
	p.metrics.PollCycle()
	return errors.Join(errs...)
}

func (p *Poller) pollAccount(ctx context.Context, accountID int64) error {
	jobs := p.mgr.SubmittedJobs(accountID)
	if len(jobs) == 0 {
		return nil
	}

	ctx, log := logger.WithFields(ctx, logrus.Fields{"account_id": accountID})

	account, bundle, tok, err := p.mgr.Remote(ctx, accountID)
	if err != nil {
		p.failure(account, accountID)
		log.Warnf("poll skipped: %v", err)
		return err
	}
	active, err := bundle.Jobs.ListActive(ctx, tok)
	if err != nil {
		p.failure(account, accountID)
		log.WithField("account", account.ConnectionName).Warnf("list active jobs failed: %v", err)
		return err
	}

	byPid := make(map[int64]hpc.RemoteJob, len(active))
	for _, r := range active {
		byPid[r.ID] = r
	}

	for _, job := range jobs {
		to, ok := reconcile(job, byPid)
		if !ok {
			continue
		}
		_, err := p.mgr.Transition(ctx, job.ID, job.Status, to, service.ProgressMessage(to), nil)
		switch {
		case errors.Is(err, service.ErrStateChanged):
			// 取消操作先一步修改了状态，下个周期再处理
		case err != nil:
			log.WithField("job_id", job.ID).Warnf("apply remote status failed: %v", err)
		}
	}
	return nil
}

// reconcile returns the status a job should move to given the remote active
// list. Jobs no longer listed are done: Killed if a kill was requested,
// Finished otherwise.
func reconcile(job *model.JobRecord, byPid map[int64]hpc.RemoteJob) (model.JobStatus, bool) {
	if job.Pid == nil {
		return 0, false
	}
	remote, listed := byPid[*job.Pid]
	if !listed {
		if job.Status == model.StatusKillRequested {
			return model.StatusKilled, true
		}
		return model.StatusFinished, true
	}
	if remote.Status == job.Status || !model.CanTransition(job.Status, remote.Status) {
		return 0, false
	}
	return remote.Status, true
}

func (p *Poller) failure(account *model.AccountProfile, accountID int64) {
	name := fmt.Sprintf("%d", accountID)
	if account != nil {
		name = account.ConnectionName
	}
	p.metrics.PollFailure(name)
}
