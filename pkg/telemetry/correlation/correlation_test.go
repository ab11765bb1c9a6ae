package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "01HZX")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "01HZX", cid)
	assert.Equal(t, "01HZX", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.Len(t, cid, 26)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestContextWithRemoteSpanRoundTrip(t *testing.T) {
	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	spanID := "00f067aa0ba902b7"

	ctx := ContextWithRemoteSpan(context.Background(), traceID, spanID)
	sc := trace.SpanContextFromContext(ctx)
	require.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())

	gotTrace, gotSpan := TraceIDs(ctx)
	assert.Equal(t, traceID, gotTrace)
	assert.Equal(t, spanID, gotSpan)
}

func TestContextWithRemoteSpanIgnoresGarbage(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "nope", "nope")
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestStampRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "01HZX")
	ctx = ContextWithRemoteSpan(ctx, "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")

	stamp := StampFromContext(ctx)
	assert.Equal(t, "01HZX", stamp.CorrelationID)
	assert.Equal(t, "00f067aa0ba902b7", stamp.SpanID)

	restored := stamp.Apply(context.Background())
	assert.Equal(t, "01HZX", ExtractCorrelationID(restored))
	traceID, _ := TraceIDs(restored)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
}

func TestEmptyStampLeavesContextAlone(t *testing.T) {
	stamp := StampFromContext(context.Background())
	assert.True(t, stamp.IsZero())

	ctx := stamp.Apply(context.Background())
	assert.Empty(t, ExtractCorrelationID(ctx))
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
