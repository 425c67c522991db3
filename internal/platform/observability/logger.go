package observability

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/storefront/api/internal/platform/requestctx"
)

const serviceName = "storefront-api"

type loggerSettings struct {
	level   zapcore.Level
	out     io.Writer
	service string
}

type LoggerOption func(*loggerSettings)

// WithLevel overrides LOG_LEVEL. Unknown names are ignored.
func WithLevel(name string) LoggerOption {
	return func(s *loggerSettings) {
		if lvl, err := zapcore.ParseLevel(strings.TrimSpace(name)); err == nil {
			s.level = lvl
		}
	}
}

func WithOutput(w io.Writer) LoggerOption {
	return func(s *loggerSettings) {
		if w != nil {
			s.out = w
		}
	}
}

func WithServiceName(name string) LoggerOption {
	return func(s *loggerSettings) {
		if name = strings.TrimSpace(name); name != "" {
			s.service = name
		}
	}
}

// NewLogger builds a JSON logger whose keys match Cloud Logging's structured payload
// (severity, message, timestamp). The level comes from LOG_LEVEL, defaulting to info.
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	s := loggerSettings{level: zapcore.InfoLevel, out: os.Stdout, service: serviceName}
	WithLevel(os.Getenv("LOG_LEVEL"))(&s)
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(s.out)), zap.NewAtomicLevelAt(s.level))
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))).
		With(zap.String("service", s.service)), nil
}

// WithLogger stores logger on ctx for requestctx.Logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// EventLogger is the hook services use to report domain events (order.created,
// payment.verify.failed, ...).
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewEventLogger writes events through the request logger when there is one, so request and
// trace ids are attached, and through fallback otherwise. Events ending in ".failed" are warnings.
func NewEventLogger(fallback *zap.Logger) EventLogger {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		level := zapcore.InfoLevel
		if strings.HasSuffix(event, ".failed") {
			level = zapcore.WarnLevel
		}
		if ce := logger.Check(level, event); ce != nil {
			ce.Write(eventFields(event, fields)...)
		}
	}
}

func eventFields(event string, fields map[string]any) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys)+1)
	out = append(out, zap.String("event", event))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// PrintfAdapter lets printf-style consumers (the idempotency middleware) log through zap.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Infof(format, args...)
}
