package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/model"
)

type JobLogRepository struct {
	db *gorm.DB
}

func NewJobLogRepository(db *gorm.DB) *JobLogRepository {
	return &JobLogRepository{db: db}
}

// GetByJobID 返回日志及按时间排序的全部记录
func (r *JobLogRepository) GetByJobID(jobID int64) (*model.JobLog, error) {
	var log model.JobLog
	err := r.db.Where("job_id = ?", jobID).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("added_time ASC, id ASC")
		}).
		First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AppendEntry 追加一条不改变状态的记录
func (r *JobLogRepository) AppendEntry(jobID int64, status model.JobStatus, progress string, at time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var log model.JobLog
		if err := tx.Where("job_id = ?", jobID).First(&log).Error; err != nil {
			return err
		}
		if err := tx.Model(&log).Update("last_updated_time", at).Error; err != nil {
			return err
		}
		return tx.Create(&model.JobLogEntry{
			JobLogID:    log.ID,
			AddedTime:   at,
			EventStatus: status,
			Progress:    progress,
		}).Error
	})
}
