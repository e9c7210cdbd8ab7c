// Package middleware 提供 Gin 与 gRPC 的通用中间件（日志、trace、panic recover、指标、限流）
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/wyfcoding/onlinestore/pkg/logger"
	"github.com/wyfcoding/onlinestore/pkg/metrics"
)

// RequestIDHeader 请求 ID 头，客户端传入时沿用
const RequestIDHeader = "X-Request-ID"

// TraceIDHeader 链路 ID 头
const TraceIDHeader = "X-Trace-ID"

// GinLoggingMiddleware Gin 日志中间件
func GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		spanID := uuid.New().String()

		ctx := logger.ContextWithTrace(c.Request.Context(), traceID, spanID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		logger.Debug(ctx, "HTTP request started",
			"method", method,
			"path", path,
			"client_ip", c.ClientIP(),
		)

		c.Next()

		logger.Info(ctx, "HTTP request completed",
			"method", method,
			"path", path,
			"status_code", c.Writer.Status(),
			"response_size", c.Writer.Size(),
			"duration", time.Since(start),
		)
	}
}

// GinRecoveryMiddleware Gin panic 恢复中间件
func GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				ctx := c.Request.Context()
				logger.Error(ctx, "HTTP request panicked", "panic", err)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"request_id": logger.RequestID(ctx),
				})
			}
		}()
		c.Next()
	}
}

// GinMetricsMiddleware 记录请求数与耗时，path 使用路由模板避免高基数
func GinMetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// GRPCLoggingInterceptor gRPC 日志拦截器
func GRPCLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		traceID := traceIDFromMetadata(ctx)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx = logger.ContextWithTrace(ctx, traceID, uuid.New().String(), uuid.New().String())

		start := time.Now()
		resp, err := handler(ctx, req)

		if err != nil {
			st, _ := status.FromError(err)
			logger.Warn(ctx, "gRPC request failed",
				"method", info.FullMethod,
				"error_code", st.Code().String(),
				"error_message", st.Message(),
				"duration", time.Since(start),
			)
		} else {
			logger.Debug(ctx, "gRPC request completed",
				"method", info.FullMethod,
				"duration", time.Since(start),
			)
		}
		return resp, err
	}
}

func traceIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("x-trace-id"); len(v) > 0 {
		return v[0]
	}
	return ""
}
