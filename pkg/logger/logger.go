// Package logger 提供统一的日志封装，基于 slog，支持结构化日志、trace_id/request_id 注入、日志切割
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu           sync.RWMutex
	globalLogger *slog.Logger
)

type ctxKey string

const (
	traceIDKey   ctxKey = "trace_id"
	spanIDKey    ctxKey = "span_id"
	requestIDKey ctxKey = "request_id"
)

// Config 日志配置
type Config struct {
	// 日志级别：debug, info, warn, error
	Level string
	// 输出格式：json 或 text
	Format string
	// 输出目标：stdout, file, both, discard
	Output string
	// 日志文件路径（当 output 为 file 或 both 时）
	FilePath string
	// 最大文件大小（MB）
	MaxSize int
	// 最大备份文件数
	MaxBackups int
	// 最大保留天数
	MaxAge int
	// 是否压缩
	Compress bool
	// 是否输出调用者信息
	WithCaller bool
}

// Init 初始化全局日志实例
func Init(cfg Config) error {
	var output io.Writer

	switch cfg.Output {
	case "file", "both":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if cfg.Output == "file" {
			output = fileWriter
		} else {
			output = io.MultiWriter(os.Stdout, fileWriter)
		}
	case "discard":
		output = io.Discard
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.WithCaller,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	l := slog.New(handler)
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	slog.SetDefault(l)
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get 获取全局日志实例
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// ContextWithTrace 将 trace_id、span_id、request_id 写入 context，空值会被忽略
func ContextWithTrace(ctx context.Context, traceID, spanID, requestID string) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	return ctx
}

// RequestID 返回 context 中的 request_id
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithContext 从 context 中提取追踪字段，返回带有这些字段的 logger
func WithContext(ctx context.Context) *slog.Logger {
	l := Get()
	if ctx == nil {
		return l
	}

	attrs := make([]any, 0, 3)
	for _, key := range []ctxKey{traceIDKey, spanIDKey, requestIDKey} {
		if v := stringValue(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) > 0 {
		return l.With(attrs...)
	}
	return l
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// Debug 输出 debug 级别日志
func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).DebugContext(ctx, msg, args...)
}

// Info 输出 info 级别日志
func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).InfoContext(ctx, msg, args...)
}

// Warn 输出 warn 级别日志
func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).WarnContext(ctx, msg, args...)
}

// Error 输出 error 级别日志
func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).ErrorContext(ctx, msg, args...)
}

// Fatal 输出 error 级别日志并退出
func Fatal(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).ErrorContext(ctx, msg, args...)
	os.Exit(1)
}

// LogDuration 记录操作耗时，返回一个函数用于在 defer 中调用
func LogDuration(ctx context.Context, msg string, args ...any) func() {
	start := time.Now()
	return func() {
		args = append(args, slog.Duration("duration", time.Since(start)))
		Info(ctx, msg, args...)
	}
}
