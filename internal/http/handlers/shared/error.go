package shared

import (
	"github.com/keyrelay/internal/http/response"
	"github.com/keyrelay/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 带 request_id 与 admin_id 的日志实例
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	fields := make([]interface{}, 0, 4)
	if id := c.GetString(response.RequestIDKey); id != "" {
		fields = append(fields, "request_id", id)
	}
	if adminID, ok := c.Get(AdminIDKey); ok {
		fields = append(fields, "admin_id", adminID)
	}
	if len(fields) == 0 {
		return logger.S()
	}
	return logger.SW(fields...)
}

// RespondError 按文案键返回错误
func RespondError(c *gin.Context, code int, key string, err error) {
	RespondErrorWithMsg(c, code, Message(key), err)
}

// RespondErrorWithMsg 返回自定义文案的错误，cause 非空时记录日志
func RespondErrorWithMsg(c *gin.Context, code int, msg string, cause error) {
	appErr := response.WrapError(code, msg, cause)
	if cause != nil {
		logAppError(c, appErr)
	}
	response.WriteError(c, appErr)
}

func logAppError(c *gin.Context, appErr *response.AppError) {
	log := RequestLog(c)
	if response.HTTPStatus(appErr.Code) >= response.CodeInternal {
		log.Errorw("handler_error", "code", appErr.Code, "message", appErr.Message, "error", appErr.Err)
		return
	}
	log.Warnw("handler_rejected", "code", appErr.Code, "message", appErr.Message, "error", appErr.Err)
}
