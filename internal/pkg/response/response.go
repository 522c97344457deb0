package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 业务码；HTTP 状态始终为 200
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodeResourceNotFound = 1003
	CodeStateConflict    = 1004
	CodeDuplicateAction  = 1005
	CodeRemoteError      = 1006
	CodeServerError      = 5000
)

var defaultMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodeResourceNotFound: "资源不存在",
	CodeStateConflict:    "作业状态不允许该操作",
	CodeDuplicateAction:  "重复操作",
	CodeRemoteError:      "集群服务错误",
	CodeServerError:      "服务器内部错误",
}

// Response is the envelope of every management API reply.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, "", data)
}

// SuccessWithMessage 用于 kill 等需要说明结果的操作
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	write(c, CodeSuccess, message, data)
}

// Error 以业务码失败；message 为空时使用默认文案
func Error(c *gin.Context, code int, message string) {
	write(c, code, message, nil)
}

func ParamError(c *gin.Context, message string)     { Error(c, CodeParamError, message) }
func AuthError(c *gin.Context, message string)      { Error(c, CodeAuthFailed, message) }
func NotFoundError(c *gin.Context, message string)  { Error(c, CodeResourceNotFound, message) }
func ConflictError(c *gin.Context, message string)  { Error(c, CodeStateConflict, message) }
func DuplicateError(c *gin.Context, message string) { Error(c, CodeDuplicateAction, message) }

// RemoteError 远端集群认证、连接或提交失败
func RemoteError(c *gin.Context, message string) { Error(c, CodeRemoteError, message) }
func ServerError(c *gin.Context, message string) { Error(c, CodeServerError, message) }

func write(c *gin.Context, code int, message string, data interface{}) {
	if message == "" {
		message = defaultMessages[code]
	}
	c.JSON(http.StatusOK, Response{Code: code, Message: message, Data: data})
}
