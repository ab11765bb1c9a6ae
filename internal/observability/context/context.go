package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type taskKey struct{}

// TaskInfo identifies the reconciliation task a context is running under.
type TaskInfo struct {
	ID      string
	Kind    string
	Attempt int
}

// WithRequestID stores the inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithTask(ctx context.Context, info TaskInfo) context.Context {
	return context.WithValue(ctx, taskKey{}, info)
}

func TaskFromContext(ctx context.Context) (TaskInfo, bool) {
	if ctx == nil {
		return TaskInfo{}, false
	}
	info, ok := ctx.Value(taskKey{}).(TaskInfo)
	return info, ok
}
