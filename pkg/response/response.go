// Package response 统一的 HTTP 响应封装，以及错误分类到状态码的映射
package response

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// Body 响应体
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	// Details 错误附加信息（商品 ID、请求量/可用量等）
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// Success 200 成功响应
func Success(c *gin.Context, data any) {
	SuccessWithStatus(c, http.StatusOK, data)
}

// SuccessWithStatus 指定状态码的成功响应
func SuccessWithStatus(c *gin.Context, status int, data any) {
	c.JSON(status, Body{Code: "ok", Message: "success", Data: data})
}

// ErrorWithStatus 指定状态码的错误响应
func ErrorWithStatus(c *gin.Context, status int, message, code string) {
	if code == "" {
		code = http.StatusText(status)
	}
	c.JSON(status, Body{Code: code, Message: message, TraceID: logger.RequestID(c.Request.Context())})
}

// Error 按错误分类映射状态码；非分类错误一律 500 且不暴露内部信息
func Error(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		ErrorWithStatus(c, http.StatusInternalServerError, "internal error", "internal")
		return
	}

	status := StatusOf(e.Kind)
	if e.Kind == apperr.KindTransient && e.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}

	body := Body{Code: e.Code, Message: e.Message, TraceID: logger.RequestID(c.Request.Context())}
	if e.ProductID != "" {
		body.Details = map[string]any{"product_id": e.ProductID}
		if e.Kind == apperr.KindInsufficientStock {
			body.Details["requested"] = e.Requested
			body.Details["available"] = e.Available
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Warn(c.Request.Context(), "request failed", "path", c.FullPath(), "kind", e.Kind, "error", errors.Unwrap(e))
	}
	c.JSON(status, body)
}

// StatusOf 错误分类对应的 HTTP 状态码
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransient, apperr.KindCacheUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
