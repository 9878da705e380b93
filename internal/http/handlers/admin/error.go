package admin

import (
	"errors"

	"github.com/keyrelay/internal/automation"
	handlershared "github.com/keyrelay/internal/http/handlers/shared"
	"github.com/keyrelay/internal/http/response"
	"github.com/keyrelay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorMapping 业务错误到响应码与文案键的映射
type errorMapping struct {
	target   error
	code     int
	key      string
	logCause bool
}

var serviceErrorMappings = []errorMapping{
	{target: service.ErrInvalidCredentials, code: response.CodeUnauthorized, key: "error.invalid_credentials"},
	{target: service.ErrInvalidPassword, code: response.CodeBadRequest, key: "error.password_invalid"},
	{target: service.ErrWeakPassword, code: response.CodeBadRequest, key: "error.password_weak"},
	{target: service.ErrLicenseKeyNotFound, code: response.CodeNotFound, key: "error.license_key_not_found"},
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, key: "error.order_not_found"},
	{target: service.ErrNotFound, code: response.CodeNotFound, key: "error.not_found"},
	{target: service.ErrAutomationDisabled, code: response.CodeServiceUnavailable, key: "error.automation_disabled"},
	{target: service.ErrSweepInProgress, code: response.CodeConflict, key: "error.sweep_in_progress"},
	{target: automation.ErrRemoteUnavailable, code: response.CodeServiceUnavailable, key: "error.remote_unavailable", logCause: true},
}

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return handlershared.RequestLog(c)
}

func respondError(c *gin.Context, code int, key string, err error) {
	handlershared.RespondError(c, code, key, err)
}

func respondErrorWithMsg(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondErrorWithMsg(c, code, msg, err)
}

// respondServiceError 按映射表输出已知业务错误，未知错误以 fallbackKey 返回 500
func respondServiceError(c *gin.Context, err error, fallbackKey string) {
	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		var cause error
		if m.logCause {
			cause = err
		}
		respondError(c, m.code, m.key, cause)
		return
	}
	respondError(c, response.CodeInternal, fallbackKey, err)
}
