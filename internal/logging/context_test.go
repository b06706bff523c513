package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", TaskID(ctx))
	assert.Equal(t, "", ActorID(ctx))
	assert.Equal(t, "", Step(ctx))

	ctx = WithIDs(ctx, "task-1", "actor-9")
	ctx = WithStep(ctx, "controlflow.delay")

	assert.Equal(t, "task-1", TaskID(ctx))
	assert.Equal(t, "actor-9", ActorID(ctx))
	assert.Equal(t, "controlflow.delay", Step(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithStep(WithIDs(context.Background(), "task-abc", "actor-7"), "setvariable")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "task_id=task-abc")
	assert.Contains(t, output, "actor_id=actor-7")
	assert.Contains(t, output, "step=setvariable")
	assert.Contains(t, output, "test message")
}

func TestLogWithPartialContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(WithTaskID(context.Background(), "task-only"), logger).Info("partial")

	output := buf.String()
	assert.Contains(t, output, "task_id=task-only")
	assert.NotContains(t, output, "actor_id")
	assert.NotContains(t, output, "step=")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(WithIDs(context.Background(), "task-auto", "actor-auto"), "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"task_id":"task-auto"`)
	assert.Contains(t, output, `"actor_id":"actor-auto"`)
	assert.NotContains(t, output, `"step"`)
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "task_id")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "scheduler")}).WithGroup("tick"))

	logger.InfoContext(WithTaskID(context.Background(), "task-grp"), "grouped", "n", 3)

	output := buf.String()
	assert.Contains(t, output, `"component":"scheduler"`)
	assert.Contains(t, output, "task-grp")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("hidden")
	logger.WarnContext(WithActorID(context.Background(), "a1"), "shown")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "shown")
	assert.Contains(t, output, "actor_id=a1")
}
