// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"equihire-go/pkg/log"
)

// RequestIDHeader 是请求 id 的响应头。
const RequestIDHeader = "X-Request-ID"

// RequestLogger 是一个 Gin 中间件，为每个请求分配 id 并记录访问日志。
// 请求体可能包含简历全文和受保护属性，因此只记录大小，不记录内容。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("requestId", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fields := []interface{}{
			"requestId", requestID,
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBytes", c.Request.ContentLength,
			"responseBytes", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= 500 {
			log.Warnw("HTTP Request Log", fields...)
			return
		}
		log.Infow("HTTP Request Log", fields...)
	}
}
