package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/model"
)

// FinishedStatuses 已结束的作业
var FinishedStatuses = []model.JobStatus{
	model.StatusFinished,
	model.StatusKilled,
	model.StatusResultDownloaded,
	model.StatusErrorResultDownloaded,
}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create 创建作业及其日志，日志带第一条记录
func (r *JobRepository) Create(job *model.JobRecord, progress string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		now := job.CreatedAt
		if now.IsZero() {
			now = time.Now()
		}
		log := &model.JobLog{
			JobID:           job.ID,
			AddedTime:       now,
			LastUpdatedTime: now,
			Entries: []model.JobLogEntry{
				{AddedTime: now, EventStatus: job.Status, Progress: progress},
			},
		}
		return tx.Create(log).Error
	})
}

func (r *JobRepository) GetByID(id int64) (*model.JobRecord, error) {
	var job model.JobRecord
	if err := r.db.Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByStatus 按状态查询，按 id 升序
func (r *JobRepository) FindByStatus(statuses ...model.JobStatus) ([]*model.JobRecord, error) {
	var jobs []*model.JobRecord
	err := r.db.Where("status IN ?", statuses).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

// FindFinished 已结束作业列表；accountID 为 0 时不过滤账号
func (r *JobRepository) FindFinished(accountID int64) ([]*model.JobRecord, error) {
	var jobs []*model.JobRecord
	q := r.db.Where("status IN ?", FinishedStatuses)
	if accountID != 0 {
		q = q.Where("account_id = ?", accountID)
	}
	err := q.Order("id DESC").Find(&jobs).Error
	return jobs, err
}

// CountByAccount 账号下的作业数，可按状态过滤
func (r *JobRepository) CountByAccount(accountID int64, statuses ...model.JobStatus) (int64, error) {
	var count int64
	q := r.db.Model(&model.JobRecord{}).Where("account_id = ?", accountID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Count(&count).Error
	return count, err
}

// ErrStaleStatus 数据库中的状态已不是调用方读到的状态
var ErrStaleStatus = errors.New("job status changed concurrently")

// SaveWithEntry persists the record and appends one log entry in a single
// transaction. The row is only written while its status still equals from,
// otherwise ErrStaleStatus is returned and nothing changes. The log's
// timestamps follow the new status.
func (r *JobRepository) SaveWithEntry(job *model.JobRecord, from model.JobStatus, progress string, at time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.JobRecord{}).
			Where("id = ? AND status = ?", job.ID, from).
			Updates(map[string]interface{}{
				"status":                 job.Status,
				"pid":                    job.Pid,
				"submitted_time":         job.SubmittedTime,
				"result_file_name":       job.ResultFileName,
				"error_result_file_name": job.ErrorResultFileName,
				"updated_at":             at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}
		job.UpdatedAt = at

		var log model.JobLog
		if err := tx.Where("job_id = ?", job.ID).First(&log).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"last_updated_time": at}
		switch job.Status {
		case model.StatusFinished:
			updates["ended_time"] = at
		case model.StatusKilled:
			updates["canceled_time"] = at
		}
		if err := tx.Model(&log).Updates(updates).Error; err != nil {
			return err
		}

		entry := &model.JobLogEntry{
			JobLogID:    log.ID,
			AddedTime:   at,
			EventStatus: job.Status,
			Progress:    progress,
		}
		return tx.Create(entry).Error
	})
}

// Delete 删除作业、日志和日志记录
func (r *JobRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var log model.JobLog
		err := tx.Where("job_id = ?", id).First(&log).Error
		switch {
		case err == nil:
			if err := tx.Where("job_log_id = ?", log.ID).Delete(&model.JobLogEntry{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&log).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		result := tx.Delete(&model.JobRecord{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
