package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	correlationIDKey contextKey = "correlation_id"
)

// GenerateRequestID returns a full UUID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GenerateCorrelationID returns a short id, readable in console output.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger enriched with the request and correlation ids
// carried by ctx, if any.
func Ctx(ctx context.Context) *zerolog.Logger {
	c := Logger().With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		c = c.Str("correlation_id", id)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		c = c.Str("request_id", id)
	}
	l := c.Logger()
	return &l
}

// Detach copies the logging ids of ctx onto a fresh background context, for
// work that must outlive the request (history writes).
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	if id := RequestIDFromContext(ctx); id != "" {
		out = ContextWithRequestID(out, id)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		out = ContextWithCorrelationID(out, id)
	}
	return out
}
