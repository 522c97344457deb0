package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/model/dto"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/response"
	"github.com/qs3c/hpc_job_server/internal/testutil"
)

func TestJobHandler_Submit(t *testing.T) {
	ctx := setupHandlers(t)

	w := performRequest(ctx.Router, "POST", "/jobs", dto.SubmitJobRequest{
		AccountID:     ctx.Account.ID,
		AlgorithmName: model.AlgorithmFGES,
		Request:       model.AlgorithmParamRequest{DatasetPath: "/data/d.txt", VariableType: model.VariableDiscrete},
	})
	resp := parseResponse(t, w)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var item dto.JobItem
	decodeData(t, resp, &item)
	assert.NotZero(t, item.ID)
	assert.Equal(t, int(model.StatusPending), item.Status)
	assert.Equal(t, model.AlgorithmFGESDiscrete, item.AlgorithmName)
	assert.Nil(t, item.Pid)
	assert.Equal(t, int64(1), queueLen(t, ctx))
}

func TestJobHandler_Submit_Invalid(t *testing.T) {
	ctx := setupHandlers(t)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{name: "missing algorithm", body: gin.H{"account_id": ctx.Account.ID}, wantCode: response.CodeParamError},
		{name: "empty dataset", body: dto.SubmitJobRequest{AccountID: ctx.Account.ID, AlgorithmName: "FGES"}, wantCode: response.CodeParamError},
		{name: "unknown account", body: dto.SubmitJobRequest{AccountID: 999, AlgorithmName: "FGES",
			Request: model.AlgorithmParamRequest{DatasetPath: "/d.txt"}}, wantCode: response.CodeResourceNotFound},
		{name: "unknown sink", body: dto.SubmitJobRequest{AccountID: ctx.Account.ID, AlgorithmName: "FGES", ResultSink: "nope",
			Request: model.AlgorithmParamRequest{DatasetPath: "/d.txt"}}, wantCode: response.CodeParamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := parseResponse(t, performRequest(ctx.Router, "POST", "/jobs", tt.body))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestJobHandler_QueryAndDetail(t *testing.T) {
	ctx := setupHandlers(t)
	bg := context.Background()

	job, err := ctx.Manager.Submit(bg, ctx.Account.ID, model.AlgorithmGFCI, model.AlgorithmParamRequest{DatasetPath: "/d.txt"}, "")
	require.NoError(t, err)

	resp := parseResponse(t, performRequest(ctx.Router, "GET", fmt.Sprintf("/jobs?account_id=%d", ctx.Account.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var idx dto.JobIndices
	decodeData(t, resp, &idx)
	require.Len(t, idx.Pending[ctx.Account.ID], 1)
	assert.Equal(t, job.ID, idx.Pending[ctx.Account.ID][0].ID)

	resp = parseResponse(t, performRequest(ctx.Router, "GET", "/jobs?account_id=abc", nil))
	assert.Equal(t, response.CodeParamError, resp.Code)

	resp = parseResponse(t, performRequest(ctx.Router, "GET", fmt.Sprintf("/jobs/%d", job.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var detail struct {
		Job *model.JobRecord `json:"job"`
		Log *model.JobLog    `json:"log"`
	}
	decodeData(t, resp, &detail)
	assert.Equal(t, job.ID, detail.Job.ID)
	require.NotNil(t, detail.Log)
	assert.Len(t, detail.Log.Entries, 1)

	resp = parseResponse(t, performRequest(ctx.Router, "GET", "/jobs/999", nil))
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)

	resp = parseResponse(t, performRequest(ctx.Router, "GET", "/jobs/x", nil))
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestJobHandler_Kill(t *testing.T) {
	ctx := setupHandlers(t)
	job, err := ctx.Manager.Submit(context.Background(), ctx.Account.ID, model.AlgorithmFGES, model.AlgorithmParamRequest{DatasetPath: "/d.txt"}, "")
	require.NoError(t, err)

	resp := parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/kill", job.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var kill dto.KillJobResponse
	decodeData(t, resp, &kill)
	assert.Equal(t, int(model.StatusKilled), kill.Job.Status)
	assert.False(t, kill.NoOp)

	// 再次取消是空操作
	resp = parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/kill", job.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	decodeData(t, resp, &kill)
	assert.True(t, kill.NoOp)
}

func TestJobHandler_Kill_LogsOperator(t *testing.T) {
	ctx := setupHandlers(t)
	old := logger.Root().ReplaceHooks(make(logrus.LevelHooks))
	defer logger.Root().ReplaceHooks(old)
	hook := test.NewLocal(logger.Root())

	job, err := ctx.Manager.Submit(context.Background(), ctx.Account.ID, model.AlgorithmFGES, model.AlgorithmParamRequest{DatasetPath: "/d.txt"}, "")
	require.NoError(t, err)
	hook.Reset()

	resp := parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/kill", job.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)

	var transition *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "job transition" {
			transition = e
		}
	}
	require.NotNil(t, transition)
	assert.Equal(t, int64(1), transition.Data["operator_id"])
	assert.Equal(t, job.ID, transition.Data["job_id"])
}

func TestJobHandler_Kill_RemoteError(t *testing.T) {
	ctx := setupHandlers(t)
	bg := context.Background()
	job, err := ctx.Manager.Submit(bg, ctx.Account.ID, model.AlgorithmFGES, model.AlgorithmParamRequest{DatasetPath: "/d.txt"}, "")
	require.NoError(t, err)
	_, err = ctx.Manager.MarkSubmitted(bg, job.ID, 42)
	require.NoError(t, err)

	ctx.Remote.KillErr = hpcerr.Connection("kill", errors.New("connection refused"))
	resp := parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/kill", job.ID), nil))
	assert.Equal(t, response.CodeRemoteError, resp.Code)

	got, err := ctx.Manager.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusKillRequested, got.Status)
}

func TestJobHandler_ResultAndDelete(t *testing.T) {
	ctx := setupHandlers(t)
	job := testutil.TestJob(t, ctx.DB, ctx.Account.ID, testutil.WithStatus(model.StatusFinished), testutil.WithPid(55))

	// 运行中的作业不能删除
	active := testutil.TestJob(t, ctx.DB, ctx.Account.ID, testutil.WithStatus(model.StatusRunning), testutil.WithPid(56))
	resp := parseResponse(t, performRequest(ctx.Router, "DELETE", fmt.Sprintf("/jobs/%d", active.ID), nil))
	assert.Equal(t, response.CodeStateConflict, resp.Code)

	resp = parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/result", job.ID), nil))
	assert.Equal(t, response.CodeStateConflict, resp.Code)

	ctx.Remote.AddResult("result_55.json", []byte(`{"edges":[]}`))
	resp = parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/result", job.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var done model.JobRecord
	decodeData(t, resp, &done)
	assert.Equal(t, model.StatusResultDownloaded, done.Status)

	resp = parseResponse(t, performRequest(ctx.Router, "GET", fmt.Sprintf("/jobs/finished?account_id=%d", ctx.Account.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var finished []dto.JobItem
	decodeData(t, resp, &finished)
	require.Len(t, finished, 1)
	assert.Equal(t, job.ID, finished[0].ID)

	resp = parseResponse(t, performRequest(ctx.Router, "DELETE", fmt.Sprintf("/jobs/%d", job.ID), nil))
	assert.Equal(t, response.CodeSuccess, resp.Code)
	resp = parseResponse(t, performRequest(ctx.Router, "GET", fmt.Sprintf("/jobs/%d", job.ID), nil))
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestJobHandler_Requeue(t *testing.T) {
	ctx := setupHandlers(t)
	job := testutil.TestJob(t, ctx.DB, ctx.Account.ID)

	resp := parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/requeue", job.ID), nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, int64(1), queueLen(t, ctx))

	done := testutil.TestJob(t, ctx.DB, ctx.Account.ID, testutil.WithStatus(model.StatusFinished), testutil.WithPid(3))
	resp = parseResponse(t, performRequest(ctx.Router, "POST", fmt.Sprintf("/jobs/%d/requeue", done.ID), nil))
	assert.Equal(t, response.CodeStateConflict, resp.Code)
}

func TestJobHandler_UploadProgress(t *testing.T) {
	ctx := setupHandlers(t)
	ctx.Manager.SetUploadProgress(context.Background(), ctx.Account.ID, "/data/d.txt", 40)

	resp := parseResponse(t, performRequest(ctx.Router, "GET", "/uploads/progress?path=/data/d.txt", nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var p dto.UploadProgressResponse
	decodeData(t, resp, &p)
	assert.True(t, p.Known)
	assert.Equal(t, 40, p.Percent)

	resp = parseResponse(t, performRequest(ctx.Router, "GET", "/uploads/progress?path=/other", nil))
	decodeData(t, resp, &p)
	assert.False(t, p.Known)

	resp = parseResponse(t, performRequest(ctx.Router, "GET", "/uploads/progress", nil))
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func queueLen(t *testing.T, ctx *testContext) int64 {
	t.Helper()
	n, err := ctx.Queue.Length(context.Background())
	require.NoError(t, err)
	return n
}
