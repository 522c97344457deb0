package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/response"
	"github.com/qs3c/hpc_job_server/internal/service"
)

// respondError 把服务层错误映射为响应码
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrAccountNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrUnknownSink):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrAccountExists):
		response.DuplicateError(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrStateChanged),
		errors.Is(err, service.ErrJobActive),
		errors.Is(err, service.ErrAccountInUse),
		errors.Is(err, service.ErrResultNotReady):
		response.ConflictError(c, err.Error())
	case errors.Is(err, hpcerr.ErrAuthentication),
		errors.Is(err, hpcerr.ErrConnection),
		errors.Is(err, hpcerr.ErrSubmission):
		response.RemoteError(c, err.Error())
	default:
		logger.FromContext(c.Request.Context()).Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		response.ServerError(c, "")
	}
}
