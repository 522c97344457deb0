package hpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

type JobQueueClient struct {
	*Client
}

func NewJobQueueClient(c *Client) *JobQueueClient {
	return &JobQueueClient{Client: c}
}

type submitPayload struct {
	DatasetFileName        string                     `json:"datasetFileName"`
	PriorKnowledgeFileName string                     `json:"priorKnowledgeFileName,omitempty"`
	VariableType           string                     `json:"variableType"`
	FileDelimiter          string                     `json:"fileDelimiter"`
	DataValidation         model.DataValidation       `json:"dataValidation"`
	AlgorithmParameters    []model.AlgorithmParameter `json:"algorithmParameters,omitempty"`
	JvmOptions             []model.JvmOption          `json:"jvmOptions,omitempty"`
	HpcParameters          []model.HpcParameter       `json:"hpcParameters,omitempty"`
}

type submitAnswer struct {
	ID int64 `json:"id"`
}

func (c *JobQueueClient) Submit(ctx context.Context, tok *token.Token, req *SubmitRequest) (int64, error) {
	p := req.Params
	payload := submitPayload{
		DatasetFileName:        req.DatasetFile,
		PriorKnowledgeFileName: req.PriorFile,
		VariableType:           p.VariableType,
		FileDelimiter:          p.FileDelimiter,
		DataValidation:         p.DataValidation,
		AlgorithmParameters:    p.AlgorithmParams,
		JvmOptions:             p.JvmOptions,
		HpcParameters:          p.HpcParams,
	}

	var answer submitAnswer
	url := c.userPath(tok, "/jobs/"+req.AlgorithmName)
	if err := c.doJSON(ctx, http.MethodPost, url, tok, payload, &answer); err != nil {
		return 0, classify("submit job", err, hpcerr.Submission)
	}
	if answer.ID == 0 {
		return 0, hpcerr.Submission("submit job", fmt.Errorf("remote returned no job id"))
	}
	return answer.ID, nil
}

func (c *JobQueueClient) Status(ctx context.Context, tok *token.Token, pid int64) (*RemoteJob, error) {
	var job RemoteJob
	if err := c.doJSON(ctx, http.MethodGet, c.userPath(tok, fmt.Sprintf("/jobs/%d", pid)), tok, nil, &job); err != nil {
		return nil, classify("job status", err, nil)
	}
	return &job, nil
}

func (c *JobQueueClient) Kill(ctx context.Context, tok *token.Token, pid int64) (*RemoteJob, error) {
	var job RemoteJob
	if err := c.doJSON(ctx, http.MethodDelete, c.userPath(tok, fmt.Sprintf("/jobs/%d", pid)), tok, nil, &job); err != nil {
		return nil, classify("kill job", err, nil)
	}
	if job.ID == 0 {
		job.ID = pid
		job.Status = model.StatusKillRequested
	}
	return &job, nil
}

func (c *JobQueueClient) ListActive(ctx context.Context, tok *token.Token) ([]RemoteJob, error) {
	var jobs []RemoteJob
	if err := c.doJSON(ctx, http.MethodGet, c.userPath(tok, "/jobs"), tok, nil, &jobs); err != nil {
		return nil, classify("list active jobs", err, nil)
	}
	return jobs, nil
}
