package log

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type correlationIdType int

const (
	RequestIdKey correlationIdType = iota
)

// WithRequestId returns a context which knows its request ID.
// A request ID follows one client call from the router down to the document
// store so that a write and the log lines it caused can be matched.
func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, RequestIdKey, requestId)
}

// WithNewRequestId does the same thing as WithRequestId but generates a new,
// random requestId.
func WithNewRequestId(ctx context.Context) context.Context {
	return WithRequestId(ctx, uuid.NewString())
}

// ExtractRequestId extracts the request id from a context object.
func ExtractRequestId(ctx context.Context) (string, bool) {
	if ctxRequestId, ok := ctx.Value(RequestIdKey).(string); ok {
		return ctxRequestId, true
	}
	return "", false
}

// ZContext returns a zap field carrying the request id of ctx, or a no-op
// field when there is none.
func ZContext(ctx context.Context) zap.Field {
	if id, ok := ExtractRequestId(ctx); ok {
		return zap.String("requestId", id)
	}
	return zap.Skip()
}
