package video_fetcher

import (
	"context"
	"io"

	"go.uber.org/zap"
)

type loggerKey struct{}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger gets the logger attached with WithLogger, or the global logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.L()
}

// A context-aware io.Reader wrapper.
type readerContext struct {
	ctx context.Context
	r   io.Reader
}

func (r *readerContext) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
