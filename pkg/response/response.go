package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeParamError         = 400
	CodeLimitExceeded      = 1003
	CodeAccountNotFound    = 1005
	CodeStorageUnavailable = 1008
	CodeInvariantViolation = 1009
)

// Response 错误响应体；成功时直接返回业务数据
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

// ParamError 请求体不合法，按对外协议返回 422
func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusUnprocessableEntity, CodeParamError, message)
}

func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

func ServerError(c *gin.Context, code int, message string) {
	Error(c, http.StatusInternalServerError, code, message)
}

// BusinessError 业务规则拒绝（例如超出额度），返回 422
func BusinessError(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnprocessableEntity, code, message)
}
