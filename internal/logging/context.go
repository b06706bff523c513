package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	taskIDKey ctxKey = iota
	actorIDKey
	stepKey
)

// correlation lists the context keys copied onto log records, in output order.
var correlation = []struct {
	key  ctxKey
	attr string
}{
	{taskIDKey, "task_id"},
	{actorIDKey, "actor_id"},
	{stepKey, "step"},
}

// WithTaskID returns a context carrying the task ID.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// WithActorID returns a context carrying the actor ID.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actorIDKey, id)
}

// WithStep returns a context carrying the name of the step being executed.
func WithStep(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, stepKey, name)
}

// WithIDs sets task and actor IDs at once.
func WithIDs(ctx context.Context, taskID, actorID string) context.Context {
	return WithActorID(WithTaskID(ctx, taskID), actorID)
}

// TaskID extracts the task ID, or "" if absent.
func TaskID(ctx context.Context) string { return value(ctx, taskIDKey) }

// ActorID extracts the actor ID, or "" if absent.
func ActorID(ctx context.Context) string { return value(ctx, actorIDKey) }

// Step extracts the step name, or "" if absent.
func Step(ctx context.Context) string { return value(ctx, stepKey) }

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, c := range correlation {
		if v := value(ctx, c.key); v != "" {
			out = append(out, slog.String(c.attr, v))
		}
	}
	return out
}

// LogWith returns a logger enriched with the non-empty correlation IDs of ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and adds the correlation IDs of
// the record's context, so logger.InfoContext(ctx, ...) is enough.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps debug/info/warn/error to a slog level; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds a text logger at the given level with correlation injection.
func New(w io.Writer, level string) *slog.Logger {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(NewCorrelationHandler(inner))
}
