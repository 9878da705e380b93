package router

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	handlershared "github.com/keyrelay/internal/http/handlers/shared"
	"github.com/keyrelay/internal/http/response"
	"github.com/keyrelay/internal/metrics"
	"github.com/keyrelay/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = response.RequestIDKey
const requestIDHeader = "X-Request-ID"

// AdminAuthenticator 校验管理员 Token
type AdminAuthenticator interface {
	Authenticate(ctx context.Context, tokenString string) (*models.Admin, error)
}

// RequestIDMiddleware 请求 ID 中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

// LoggerMiddleware 结构化请求日志，级别随响应状态提升，探活与指标抓取降为 debug
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}
	sugar := logger.Sugar()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", getRequestID(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if adminID, ok := c.Get(handlershared.AdminIDKey); ok {
			fields = append(fields, "admin_id", adminID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			sugar.Errorw("request", fields...)
		case status >= http.StatusBadRequest:
			sugar.Warnw("request", fields...)
		case quietPaths[c.FullPath()]:
			sugar.Debugw("request", fields...)
		default:
			sugar.Infow("request", fields...)
		}
	}
}

var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// RecoveryMiddleware 捕获 panic，记录堆栈并返回统一 500 响应
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			logger.Error("panic_recovered",
				zap.String("request_id", getRequestID(c)),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", recovered),
				zap.Stack("stack"),
			)
			if !c.Writer.Written() {
				response.Error(c, response.CodeInternal, handlershared.Message("error.internal"))
			}
			c.Abort()
		}()
		c.Next()
	}
}

// MetricsMiddleware 记录请求耗时，path 使用路由模板避免高基数
func MetricsMiddleware(registry *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		registry.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func getRequestID(c *gin.Context) string {
	value, ok := c.Get(requestIDKey)
	if !ok {
		return ""
	}
	if requestID, ok := value.(string); ok {
		return requestID
	}
	return ""
}

// JWTAuthMiddleware 管理端 JWT 鉴权中间件
func JWTAuthMiddleware(auth AdminAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.Unauthorized(c, handlershared.Message("error.unauthorized"))
			c.Abort()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") || strings.TrimSpace(parts[1]) == "" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}

		admin, err := auth.Authenticate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil || admin == nil {
			response.Unauthorized(c, "invalid or revoked token")
			c.Abort()
			return
		}

		c.Set(handlershared.AdminIDKey, admin.ID)
		c.Set(handlershared.AdminNameKey, admin.Username)
		c.Next()
	}
}
