package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/field-manager/config"
	"github.com/fieldops/field-manager/middleware"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger. LogFormat "text" or "console" gives the
// human-readable encoder, anything else JSON.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zc zap.Config
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "console":
		zc = zap.NewDevelopmentConfig()
		zc.Encoding = "console"
	default:
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("service", "field-manager")), nil
}

// WithRequest returns logger annotated with the request ID carried by ctx
func WithRequest(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id := middleware.GetRequestIDFromContext(ctx); id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}

// RequestLogger logs one line per request with status and duration
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			l := WithRequest(r.Context(), logger)
			if status >= http.StatusInternalServerError {
				l.Error("request completed", fields...)
				return
			}
			l.Info("request completed", fields...)
		})
	}
}
