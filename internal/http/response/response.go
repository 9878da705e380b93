package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestIDKey 请求ID在 gin 上下文中的键
const RequestIDKey = "request_id"

const (
	msgSuccess  = "success"
	msgAccepted = "accepted"
)

// Response 统一响应结构，分页信息仅在列表接口出现
type Response struct {
	StatusCode int         `json:"status_code"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

// NewPagination 按总数计算页数，pageSize 非正时视为单页
func NewPagination(page, pageSize int, total int64) Pagination {
	p := Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		p.TotalPage = (total + int64(pageSize) - 1) / int64(pageSize)
	} else if total > 0 {
		p.TotalPage = 1
	}
	return p
}

func write(c *gin.Context, httpStatus int, body Response) {
	c.JSON(httpStatus, body)
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, Response{Msg: msgSuccess, Data: data})
}

// SuccessWithMsg 成功响应（自定义消息）
func SuccessWithMsg(c *gin.Context, msg string, data interface{}) {
	write(c, http.StatusOK, Response{Msg: msg, Data: data})
}

// SuccessWithPage 分页成功响应
func SuccessWithPage(c *gin.Context, data interface{}, pagination Pagination) {
	write(c, http.StatusOK, Response{Msg: msgSuccess, Data: data, Pagination: &pagination})
}

// Accepted 已受理的异步操作
func Accepted(c *gin.Context, data interface{}) {
	write(c, http.StatusAccepted, Response{Msg: msgAccepted, Data: data})
}

// Error 错误响应，HTTP 状态码与业务码保持一致
func Error(c *gin.Context, code int, msg string) {
	write(c, HTTPStatus(code), Response{
		StatusCode: code,
		Msg:        msg,
		Data:       withRequestID(c),
	})
}

// WriteError 按 AppError 输出，普通错误一律视为内部错误且不暴露原始信息
func WriteError(c *gin.Context, err error) {
	code := CodeOf(err)
	msg := http.StatusText(HTTPStatus(code))
	if appErr, ok := AsAppError(err); ok && appErr.Message != "" {
		msg = appErr.Message
	}
	Error(c, code, msg)
}

// NotFound 404响应
func NotFound(c *gin.Context, msg string) {
	Error(c, CodeNotFound, msg)
}

// Unauthorized 401响应
func Unauthorized(c *gin.Context, msg string) {
	Error(c, CodeUnauthorized, msg)
}

// HTTPStatus 业务码映射为 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeBadRequest, CodeUnauthorized, CodeForbidden, CodeNotFound,
		CodeConflict, CodeTooManyRequests, CodeServiceUnavailable:
		return code
	default:
		return http.StatusInternalServerError
	}
}

func withRequestID(c *gin.Context) interface{} {
	if c == nil {
		return nil
	}
	if id := c.GetString(RequestIDKey); id != "" {
		return gin.H{"request_id": id}
	}
	return nil
}
