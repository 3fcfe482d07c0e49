package logger

import (
	"context"

	"go.uber.org/zap"
	"mailpilot/pkg/trace"
)

var Log *zap.Logger

// NewLogger 按运行环境构建 logger：local/dev 使用可读的 console 输出，其余使用 JSON
func NewLogger(env string) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	switch env {
	case "local", "dev", "test":
		l, err = zap.NewDevelopment()
	default:
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	Log = l
	return l
}

// WithTrace 从 context 中提取 trace_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
