package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/hpc_job_server/internal/model/dto"
	"github.com/qs3c/hpc_job_server/internal/pkg/response"
	"github.com/qs3c/hpc_job_server/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// Create 新建集群账号
// POST /api/v1/accounts
func (h *AccountHandler) Create(c *gin.Context) {
	var req dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.accountService.Create(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "创建成功", item)
}

// List GET /api/v1/accounts
func (h *AccountHandler) List(c *gin.Context) {
	items, err := h.accountService.List()
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, items)
}

// Get GET /api/v1/accounts/:id
func (h *AccountHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "无效的账号ID")
	if !ok {
		return
	}
	item, err := h.accountService.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, item)
}

// Update 修改连接信息
// PUT /api/v1/accounts/:id
func (h *AccountHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "无效的账号ID")
	if !ok {
		return
	}
	var req dto.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.accountService.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "修改成功", item)
}

// Delete DELETE /api/v1/accounts/:id
func (h *AccountHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "无效的账号ID")
	if !ok {
		return
	}
	if err := h.accountService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// pathID 解析路径中的 :id，失败时已写入响应
func pathID(c *gin.Context, msg string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, msg)
		return 0, false
	}
	return id, true
}
