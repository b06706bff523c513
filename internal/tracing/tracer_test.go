package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer(ServiceName)

	_, span := StartSpan(context.Background(), tracer, "cast", attribute.String(ScriptKey, "fireball"))
	SetError(span, errors.New("boom"), attribute.String(ActorIDKey, "hero"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "cast", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String(ScriptKey, "fireball"))
	require.Len(t, spans[0].Events(), 2) // exception + error_occurred
}

func TestNoop(t *testing.T) {
	_, span := StartSpan(context.Background(), Noop(), "tick")
	assert.False(t, span.IsRecording())
	span.End()
}
