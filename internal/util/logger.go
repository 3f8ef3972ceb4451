package util

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var logger atomic.Pointer[slog.Logger]

func newLogger(verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if verbose {
		opts.Level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// InitLogger initializes the global slog logger with appropriate level
func InitLogger(verbose bool) {
	l := newLogger(verbose)
	logger.Store(l)
	slog.SetDefault(l)
}

// GetLogger returns the configured logger instance. It is safe to call from
// many goroutines before InitLogger; all of them get the same logger.
func GetLogger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	// Fallback initialization with INFO level
	l := newLogger(false)
	if logger.CompareAndSwap(nil, l) {
		slog.SetDefault(l)
		return l
	}
	return logger.Load()
}

// GinLogger logs every request through slog at debug level. Streaming
// responses are logged when the handler returns, i.e. when the viewer leaves.
func GinLogger(l *slog.Logger) gin.HandlerFunc {
	if l == nil {
		l = GetLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}
