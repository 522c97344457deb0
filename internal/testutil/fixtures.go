package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/hpc_job_server/internal/model"
)

// TestAccount 创建测试集群账号（密码不落库）
func TestAccount(t *testing.T, db *gorm.DB, opts ...func(*model.AccountProfile)) *model.AccountProfile {
	t.Helper()

	account := &model.AccountProfile{
		ConnectionName: fmt.Sprintf("cluster_%d", time.Now().UnixNano()),
		Scheme:         "http",
		Host:           "127.0.0.1",
		Port:           9000,
		Username:       "tester",
		Password:       "secret",
	}

	for _, opt := range opts {
		opt(account)
	}

	if err := db.Create(account).Error; err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}

	return account
}

// WithEndpoint 设置账号的远端地址
func WithEndpoint(scheme, host string, port int) func(*model.AccountProfile) {
	return func(a *model.AccountProfile) {
		a.Scheme = scheme
		a.Host = host
		a.Port = port
	}
}

// WithCredentials 设置用户名密码
func WithCredentials(username, password string) func(*model.AccountProfile) {
	return func(a *model.AccountProfile) {
		a.Username = username
		a.Password = password
	}
}

// TestJob 创建测试作业及其日志
func TestJob(t *testing.T, db *gorm.DB, accountID int64, opts ...func(*model.JobRecord)) *model.JobRecord {
	t.Helper()

	job := &model.JobRecord{
		AccountID:     accountID,
		AlgorithmName: model.AlgorithmFGES,
		Request: model.AlgorithmParamRequest{
			DatasetPath:   fmt.Sprintf("/data/dataset_%d.txt", time.Now().UnixNano()),
			VariableType:  model.VariableContinuous,
			FileDelimiter: model.DefaultFileDelimiter,
		},
		Status: model.StatusPending,
	}

	for _, opt := range opts {
		opt(job)
	}

	now := time.Now()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		log := &model.JobLog{
			JobID:           job.ID,
			AddedTime:       now,
			LastUpdatedTime: now,
			Entries: []model.JobLogEntry{
				{AddedTime: now, EventStatus: job.Status, Progress: "Job " + job.Status.String()},
			},
		}
		return tx.Create(log).Error
	})
	if err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithStatus 设置作业状态
func WithStatus(status model.JobStatus) func(*model.JobRecord) {
	return func(j *model.JobRecord) {
		j.Status = status
	}
}

// WithPid 设置远端作业号
func WithPid(pid int64) func(*model.JobRecord) {
	return func(j *model.JobRecord) {
		j.Pid = &pid
		now := time.Now()
		j.SubmittedTime = &now
	}
}

// WithAlgorithm 设置算法名
func WithAlgorithm(name string) func(*model.JobRecord) {
	return func(j *model.JobRecord) {
		j.AlgorithmName = name
	}
}

// WithDataset 设置数据集路径
func WithDataset(path string) func(*model.JobRecord) {
	return func(j *model.JobRecord) {
		j.Request.DatasetPath = path
	}
}
