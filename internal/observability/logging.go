package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pitabwire/formflow/internal/config"
	"github.com/pitabwire/formflow/model"
)

// Context key for the logger.
type loggerKey struct{}

// NewLogger creates a zap.Logger writing JSON to stdout and, when a log file
// path is configured, to a size-rotated file as well.
//
// Log level usage conventions:
//   - error: Infrastructure failures, store divergence, 5xx responses
//   - warn:  Client errors (4xx), rolled back persists, degraded mirrors
//   - info:  Request start/end, session transitions, definition loads
//   - debug: Redacted form payloads, store round trips
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.LogFile.Path != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), zap.NewAtomicLevelAt(level))

	service := cfg.ServiceName
	if service == "" {
		service = "formflow"
	}
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(zap.String("service", service), zap.String("version", Version)),
	), nil
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with RequestContext fields.
// If no logger is in the context, the fallback is used.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.UserID != "" {
		fields = append(fields, zap.String("user_id", rctx.UserID))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

// defaultSensitivePatterns are substrings of field ids whose values are never
// logged.
var defaultSensitivePatterns = []string{
	"password",
	"secret",
	"token",
	"ssn",
	"email",
	"phone",
	"signature",
}

// RedactValues returns a copy of form data with sensitive values replaced by
// "[REDACTED]". A field is sensitive when its lowercased id contains one of
// the default patterns or one of extra. Nested maps are redacted
// recursively. It is meant for debug logging of submitted payloads.
func RedactValues(data map[string]any, extra ...string) map[string]any {
	if data == nil {
		return nil
	}
	patterns := append(append([]string{}, defaultSensitivePatterns...), extra...)

	result := make(map[string]any, len(data))
	for k, v := range data {
		if sensitive(k, patterns) {
			result[k] = "[REDACTED]"
		} else if nested, ok := v.(map[string]any); ok {
			result[k] = RedactValues(nested, extra...)
		} else {
			result[k] = v
		}
	}
	return result
}

func sensitive(key string, patterns []string) bool {
	key = strings.ToLower(key)
	for _, p := range patterns {
		if p != "" && strings.Contains(key, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
