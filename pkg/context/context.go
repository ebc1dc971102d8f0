package context

import (
	"context"
	"github.com/gofiber/fiber/v2"
)

const (
	RequestIDKey = "request_id"
	SessionIDKey = "session_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func GetSessionID(ctx context.Context) string {
	sessionID, ok := ctx.Value(SessionIDKey).(string)
	if !ok {
		return ""
	}
	return sessionID
}

// FromFiberCtx returns a context carrying the request id, taken from the
// user context, the locals or the X-Request-ID header, in that order.
func FromFiberCtx(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if GetRequestID(ctx) != "unknown" {
		return ctx
	}

	requestID, ok := c.Locals(RequestIDKey).(string)
	if !ok || requestID == "" {
		requestID = c.Get("X-Request-ID")

		if requestID == "" {
			requestID = "unknown"
		}
	}

	return WithRequestID(ctx, requestID)
}
