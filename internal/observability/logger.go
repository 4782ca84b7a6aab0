package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type jobFieldsKey struct{}

// JobFields identifies the job a log line belongs to.
type JobFields struct {
	Kind           string
	NotificationID string
	RequestID      string
	Attempt        int
}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func WithJobFields(ctx context.Context, fields JobFields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, jobFieldsKey{}, fields)
}

func JobFieldsFromContext(ctx context.Context) (JobFields, bool) {
	if ctx == nil {
		return JobFields{}, false
	}

	fields, ok := ctx.Value(jobFieldsKey{}).(JobFields)
	return fields, ok
}

// WithContextLogger decorates logger with the job fields carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields, ok := JobFieldsFromContext(ctx)
	if !ok {
		return logger
	}

	zapFields := make([]zap.Field, 0, 4)
	if fields.Kind != "" {
		zapFields = append(zapFields, zap.String("kind", fields.Kind))
	}
	if fields.NotificationID != "" {
		zapFields = append(zapFields, zap.String("notificationId", fields.NotificationID))
	}
	if fields.RequestID != "" {
		zapFields = append(zapFields, zap.String("requestId", fields.RequestID))
	}
	zapFields = append(zapFields, zap.Int("attempt", fields.Attempt))

	return logger.With(zapFields...)
}
