// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
)

func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": message,
		"data":    data,
	})
}

// statusOf 把错误分类映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errs.KindOf(err) == errs.KindInput:
		return http.StatusBadRequest
	case errs.KindOf(err) == errs.KindDependency:
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// nginx 约定的 499：客户端已断开
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// respondError 输出统一的错误结构，输入错误附带字段名。data 可以携带部分结果。
func respondError(c *gin.Context, op string, err error, data interface{}) {
	status := statusOf(err)
	body := gin.H{"code": status, "message": err.Error()}
	if field := errs.FieldOf(err); field != "" {
		body["field"] = field
	}
	if data != nil {
		body["data"] = data
	}
	if status >= http.StatusInternalServerError {
		log.Error(op+": failed", err)
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

// badRequest 用于请求体无法解析等 handler 层的输入错误。
func badRequest(c *gin.Context, field, reason string) {
	respondError(c, "", errs.NewInput(field, reason), nil)
}
