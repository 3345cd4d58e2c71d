package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Flags group log records by subsystem.
const (
	FlagTransport    = "TRANSPORT"
	FlagCheckout     = "CHECKOUT"
	FlagS2S          = "S2S"
	FlagWebhook      = "WEBHOOK"
	FlagSubscription = "SUBSCRIPTION"
	FlagEntitlement  = "ENTITLEMENT"
	FlagReconcile    = "MANUAL_RECONCILIATION"
	FlagWorker       = "WORKER"
)

// Logger is the structured sink used by the payment core.
// Each record carries a flag, an action and an optional data group.
type Logger struct {
	l *slog.Logger
}

// New wraps an existing slog.Logger.
func New(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{l: l}
}

// NewJSON builds a JSON logger writing to w at the given level name.
func NewJSON(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{l: slog.New(h)}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Log writes one record.
func (lg *Logger) Log(ctx context.Context, level slog.Level, flag, action, msg string, data map[string]any) {
	if lg == nil || lg.l == nil {
		return
	}
	attrs := []any{slog.String("flag", flag), slog.String("action", action)}
	if len(data) > 0 {
		fields := make([]any, 0, len(data))
		for k, v := range data {
			if e, ok := v.(error); ok {
				v = e.Error()
			}
			fields = append(fields, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("data", fields...))
	}
	lg.l.Log(ctx, level, msg, attrs...)
}

func (lg *Logger) Debug(ctx context.Context, flag, action, msg string, data map[string]any) {
	lg.Log(ctx, slog.LevelDebug, flag, action, msg, data)
}

func (lg *Logger) Info(ctx context.Context, flag, action, msg string, data map[string]any) {
	lg.Log(ctx, slog.LevelInfo, flag, action, msg, data)
}

func (lg *Logger) Warn(ctx context.Context, flag, action, msg string, data map[string]any) {
	lg.Log(ctx, slog.LevelWarn, flag, action, msg, data)
}

func (lg *Logger) Error(ctx context.Context, flag, action, msg string, data map[string]any) {
	lg.Log(ctx, slog.LevelError, flag, action, msg, data)
}
