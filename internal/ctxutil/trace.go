// Package ctxutil carries the correlation id through a request's context so
// every log line and error downstream can be tied back to the inbound
// request without threading an extra parameter through every call.
package ctxutil

import "context"

type traceDataKey struct{}

// TraceData is the correlation-id pair propagated via context.
type TraceData struct {
	CorrelationID  string
	ConversationID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// CorrelationID returns the correlation id carried in ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil {
		return td.CorrelationID
	}
	return ""
}
