package model

import (
	"time"
)

// JobLog 每个作业一条，记录关键时间点
type JobLog struct {
	ID              int64         `gorm:"primaryKey" json:"id"`
	JobID           int64         `gorm:"not null;uniqueIndex" json:"job_id"`
	AddedTime       time.Time     `json:"added_time"`
	EndedTime       *time.Time    `json:"ended_time,omitempty"`
	CanceledTime    *time.Time    `json:"canceled_time,omitempty"`
	LastUpdatedTime time.Time     `json:"last_updated_time"`
	Entries         []JobLogEntry `gorm:"foreignKey:JobLogID;constraint:OnDelete:CASCADE" json:"entries,omitempty"`
}

func (JobLog) TableName() string {
	return "hpc_job_logs"
}

// JobLogEntry is append-only. Rows are never updated.
type JobLogEntry struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	JobLogID    int64     `gorm:"not null;index" json:"job_log_id"`
	AddedTime   time.Time `gorm:"index" json:"added_time"`
	EventStatus JobStatus `gorm:"not null" json:"event_status"`
	Progress    string    `gorm:"type:text" json:"progress"`
}

func (JobLogEntry) TableName() string {
	return "hpc_job_log_entries"
}
