package middleware

import (
	"time"

	contextPkg "EmotionOverlay/pkg/context"
	"EmotionOverlay/pkg/log"
	"EmotionOverlay/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

const RequestIDHeader = "X-Request-ID"

// newRequestID keeps the caller's X-Request-ID or mints a ULID. The id is
// stored under log.RequestIDKey in the locals, which the session websocket
// inherits, and in the user context handed to services.
func newRequestID(u utils.IUtils) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)

		if requestID == "" {
			id, err := u.NewULIDFromTimestamp(time.Now())
			if err != nil {
				id = "unknown"
			}
			requestID = id
		}

		c.Locals(log.RequestIDKey, requestID)
		c.SetUserContext(contextPkg.WithRequestID(c.UserContext(), requestID))
		c.Set(RequestIDHeader, requestID)

		return c.Next()
	}
}
