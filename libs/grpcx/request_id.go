package grpcx

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey carries the request id in gRPC metadata. It matches the
// HTTP X-Request-Id header lower-cased, so ids survive an HTTP to gRPC hop.
const RequestIDMetadataKey = "x-request-id"

const maxRequestIDLen = 128

type requestIDKey struct{}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// NewRequestID returns 32 hex characters.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// incomingRequestID returns the caller's id when it is usable, or a fresh one.
func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
			id := strings.TrimSpace(vals[0])
			if id != "" && len(id) <= maxRequestIDLen && !strings.ContainsAny(id, " \t\r\n") {
				return id
			}
		}
	}
	return NewRequestID()
}
