package dto

import "github.com/qs3c/hpc_job_server/internal/model"

// SubmitJobRequest 提交作业请求
type SubmitJobRequest struct {
	AccountID     int64                       `json:"account_id" binding:"required"`
	AlgorithmName string                      `json:"algorithm_name" binding:"required,max=100"`
	ResultSink    string                      `json:"result_sink,omitempty" binding:"omitempty,max=200"`
	Request       model.AlgorithmParamRequest `json:"request"`
}

// JobItem 作业列表项
type JobItem struct {
	ID            int64  `json:"id"`
	AccountID     int64  `json:"account_id"`
	AlgorithmName string `json:"algorithm_name"`
	DatasetPath   string `json:"dataset_path"`
	Pid           *int64 `json:"pid,omitempty"`
	Status        int    `json:"status"`
	StatusName    string `json:"status_name"`
	CreatedAt     string `json:"created_at"`
}

// JobIndices 当前内存索引快照
type JobIndices struct {
	Pending   map[int64][]JobItem `json:"pending"`
	Submitted map[int64][]JobItem `json:"submitted"`
}

// JobDetail 作业详情（含日志）
type JobDetail struct {
	Job *model.JobRecord `json:"job"`
	Log *model.JobLog    `json:"log,omitempty"`
}

// KillJobResponse 取消作业结果
type KillJobResponse struct {
	Job  JobItem `json:"job"`
	NoOp bool    `json:"no_op"`
}

// UploadProgressResponse 上传进度
type UploadProgressResponse struct {
	Path    string `json:"path"`
	Percent int    `json:"percent"`
	Known   bool   `json:"known"`
}

func NewJobItem(j *model.JobRecord) JobItem {
	return JobItem{
		ID:            j.ID,
		AccountID:     j.AccountID,
		AlgorithmName: j.AlgorithmName,
		DatasetPath:   j.Request.DatasetPath,
		Pid:           j.Pid,
		Status:        int(j.Status),
		StatusName:    j.Status.String(),
		CreatedAt:     j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func NewJobItems(jobs []*model.JobRecord) []JobItem {
	items := make([]JobItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, NewJobItem(j))
	}
	return items
}
