package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// HeaderName carries the correlation id across HTTP hops and queue headers.
const HeaderName = "X-Correlation-Id"

type ctxKey struct{}

// ExtractCorrelationID returns the id stored on ctx, or "".
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ContextWithCorrelationID stores id on ctx. Blank ids leave ctx untouched.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id = strings.TrimSpace(id); id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// EnsureCorrelationID returns ctx with a correlation id, minting a ULID
// when none is present.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, ctxKey{}, id), id
}

// TraceIDs returns the hex trace and span ids of the active span, if any.
func TraceIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// ContextWithRemoteSpan parents ctx on the span identified by the hex ids.
// Malformed ids are ignored.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	tid, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	sid, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
}

// Stamp is the request identity a background task carries so its logs and
// spans join the request that scheduled it.
type Stamp struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
	SpanID        string `json:"span_id,omitempty"`
}

// StampFromContext captures the correlation id and active span of ctx.
func StampFromContext(ctx context.Context) Stamp {
	traceID, spanID := TraceIDs(ctx)
	return Stamp{
		CorrelationID: ExtractCorrelationID(ctx),
		TraceID:       traceID,
		SpanID:        spanID,
	}
}

// Apply restores the stamp onto ctx.
func (s Stamp) Apply(ctx context.Context) context.Context {
	ctx = ContextWithCorrelationID(ctx, s.CorrelationID)
	if s.TraceID != "" && s.SpanID != "" {
		ctx = ContextWithRemoteSpan(ctx, s.TraceID, s.SpanID)
	}
	return ctx
}

// IsZero reports whether the stamp carries nothing.
func (s Stamp) IsZero() bool {
	return s == Stamp{}
}
