package model

import (
	"time"
)

// JobStatus 作业状态码，与远端队列的状态码一致
type JobStatus int

const (
	StatusPending               JobStatus = -1
	StatusSubmitted             JobStatus = 0
	StatusRunning               JobStatus = 1
	StatusKillRequested         JobStatus = 2
	StatusFinished              JobStatus = 3
	StatusKilled                JobStatus = 4
	StatusResultDownloaded      JobStatus = 5
	StatusErrorResultDownloaded JobStatus = 6
)

var statusNames = map[JobStatus]string{
	StatusPending:               "pending",
	StatusSubmitted:             "submitted",
	StatusRunning:               "running",
	StatusKillRequested:         "kill_requested",
	StatusFinished:              "finished",
	StatusKilled:                "killed",
	StatusResultDownloaded:      "result_downloaded",
	StatusErrorResultDownloaded: "error_result_downloaded",
}

func (s JobStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ActiveStatuses 需要在启动时恢复的状态
var ActiveStatuses = []JobStatus{StatusPending, StatusSubmitted, StatusRunning, StatusKillRequested}

// RemoteStatuses 由轮询负责跟踪的状态
var RemoteStatuses = []JobStatus{StatusSubmitted, StatusRunning, StatusKillRequested}

// IsActive reports whether the job still needs preprocessing or polling.
func (s JobStatus) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsRemote reports whether the job is tracked by the remote queue.
func (s JobStatus) IsRemote() bool {
	for _, a := range RemoteStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job can no longer be killed.
func (s JobStatus) IsTerminal() bool {
	return !s.IsActive()
}

// transitions 合法的状态迁移
var transitions = map[JobStatus][]JobStatus{
	StatusPending:       {StatusSubmitted, StatusKilled},
	StatusSubmitted:     {StatusRunning, StatusKillRequested, StatusFinished, StatusKilled},
	StatusRunning:       {StatusKillRequested, StatusFinished, StatusKilled},
	StatusKillRequested: {StatusKilled, StatusFinished},
	StatusFinished:      {StatusResultDownloaded, StatusErrorResultDownloaded},
	StatusKilled:        {StatusResultDownloaded, StatusErrorResultDownloaded},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PidConsistent checks the pid invariant for a status.
// A job killed before it reached the remote queue is Killed without a pid.
func PidConsistent(status JobStatus, pid *int64) bool {
	switch status {
	case StatusPending:
		return pid == nil
	case StatusKilled:
		return true
	case StatusSubmitted, StatusRunning, StatusKillRequested, StatusFinished:
		return pid != nil
	default:
		return true
	}
}

type JobRecord struct {
	ID                  int64                 `gorm:"primaryKey" json:"id"`
	AccountID           int64                 `gorm:"not null;index" json:"account_id"`
	AlgorithmName       string                `gorm:"size:100;not null" json:"algorithm_name"`
	Request             AlgorithmParamRequest `gorm:"type:text;serializer:json" json:"request"`
	Pid                 *int64                `gorm:"index" json:"pid,omitempty"`
	Status              JobStatus             `gorm:"not null;index" json:"status"`
	ResultSink          string                `gorm:"size:200" json:"result_sink,omitempty"`
	ResultFileName      string                `gorm:"size:255" json:"result_file_name,omitempty"`
	ErrorResultFileName string                `gorm:"size:255" json:"error_result_file_name,omitempty"`
	SubmittedTime       *time.Time            `json:"submitted_time,omitempty"`
	CreatedAt           time.Time             `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

func (JobRecord) TableName() string {
	return "hpc_jobs"
}

// DatasetPath 进度表以数据集路径为键
func (j *JobRecord) DatasetPath() string {
	return j.Request.DatasetPath
}
