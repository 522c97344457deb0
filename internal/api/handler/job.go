package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/hpc_job_server/internal/api/middleware"
	"github.com/qs3c/hpc_job_server/internal/model/dto"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/response"
	"github.com/qs3c/hpc_job_server/internal/service"
)

type JobHandler struct {
	jobManager *service.JobManager
}

func NewJobHandler(jobManager *service.JobManager) *JobHandler {
	return &JobHandler{jobManager: jobManager}
}

// Submit 提交作业，记录落库后立即返回
// POST /api/v1/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.jobManager.Submit(operatorContext(c), req.AccountID, req.AlgorithmName, req.Request, req.ResultSink)
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "作业已加入队列", dto.NewJobItem(job))
}

// Query 当前 pending/submitted 索引
// GET /api/v1/jobs?account_id=
func (h *JobHandler) Query(c *gin.Context) {
	accountID, ok := queryAccountID(c)
	if !ok {
		return
	}
	response.Success(c, h.jobManager.Query(accountID))
}

// Finished GET /api/v1/jobs/finished?account_id=
func (h *JobHandler) Finished(c *gin.Context) {
	accountID, ok := queryAccountID(c)
	if !ok {
		return
	}
	jobs, err := h.jobManager.Finished(accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, dto.NewJobItems(jobs))
}

// Detail 作业记录和完整日志
// GET /api/v1/jobs/:id
func (h *JobHandler) Detail(c *gin.Context) {
	id, ok := pathID(c, "无效的作业ID")
	if !ok {
		return
	}
	detail, err := h.jobManager.Detail(id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, detail)
}

// Kill POST /api/v1/jobs/:id/kill
func (h *JobHandler) Kill(c *gin.Context) {
	id, ok := pathID(c, "无效的作业ID")
	if !ok {
		return
	}
	resp, err := h.jobManager.Kill(operatorContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if resp.NoOp {
		response.SuccessWithMessage(c, "作业已结束", resp)
		return
	}
	response.Success(c, resp)
}

// Result 立即拉取结果
// POST /api/v1/jobs/:id/result
func (h *JobHandler) Result(c *gin.Context) {
	id, ok := pathID(c, "无效的作业ID")
	if !ok {
		return
	}
	job, err := h.jobManager.CollectResult(operatorContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, job)
}

// Requeue 预处理失败后重新排队
// POST /api/v1/jobs/:id/requeue
func (h *JobHandler) Requeue(c *gin.Context) {
	id, ok := pathID(c, "无效的作业ID")
	if !ok {
		return
	}
	job, err := h.jobManager.Requeue(operatorContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已重新排队", dto.NewJobItem(job))
}

// Delete DELETE /api/v1/jobs/:id
func (h *JobHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "无效的作业ID")
	if !ok {
		return
	}
	if err := h.jobManager.Delete(operatorContext(c), id); err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// UploadProgress GET /api/v1/uploads/progress?path=
func (h *JobHandler) UploadProgress(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		response.ParamError(c, "缺少 path 参数")
		return
	}
	pct, known := h.jobManager.UploadProgress(path)
	response.Success(c, dto.UploadProgressResponse{Path: path, Percent: pct, Known: known})
}

// queryAccountID 可选的 account_id 参数，缺省为 0 表示全部账号
func queryAccountID(c *gin.Context) (int64, bool) {
	raw := c.Query("account_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		response.ParamError(c, "无效的账号ID")
		return 0, false
	}
	return id, true
}

// operatorContext 请求上下文，日志带上发起操作的操作员
func operatorContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if id, ok := middleware.GetOperatorID(c); ok {
		ctx, _ = logger.WithFields(ctx, logrus.Fields{"operator_id": id})
	}
	return ctx
}
