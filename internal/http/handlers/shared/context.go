package shared

import (
	"strconv"
	"strings"

	"github.com/keyrelay/internal/http/response"

	"github.com/gin-gonic/gin"
)

const (
	// AdminIDKey 认证中间件写入的管理员ID
	AdminIDKey = "admin_id"
	// AdminNameKey 认证中间件写入的管理员用户名
	AdminNameKey = "admin_username"
)

// CurrentAdminID 读取认证中间件写入的管理员ID，缺失时返回 401
func CurrentAdminID(c *gin.Context) (uint, bool) {
	value, exists := c.Get(AdminIDKey)
	if !exists {
		RespondError(c, response.CodeUnauthorized, "error.unauthorized", nil)
		return 0, false
	}
	id, ok := value.(uint)
	if !ok {
		RespondError(c, response.CodeInternal, "error.admin_id_type_invalid", nil)
		return 0, false
	}
	if id == 0 {
		RespondError(c, response.CodeUnauthorized, "error.admin_id_invalid", nil)
		return 0, false
	}
	return id, true
}

// ParseIDParam 解析路径中的正整数ID，失败时直接返回 400
func ParseIDParam(c *gin.Context, name, invalidKey string) (uint, bool) {
	raw, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || raw == 0 {
		RespondError(c, response.CodeBadRequest, invalidKey, nil)
		return 0, false
	}
	return uint(raw), true
}
