package middleware

import (
	"EmotionOverlay/pkg/log"
	"EmotionOverlay/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Middleware interface {
	NewRateLimiter(ctx *fiber.Ctx) error
	NewRequestIDMiddleware() fiber.Handler
	NewLoggingMiddleware() fiber.Handler
	GetRequestID(ctx *fiber.Ctx) string
}

type middleware struct {
	rateLimitter        *rateLimiter
	requestIDMiddleware fiber.Handler
	log                 *logrus.Logger
}

type Option func(*middleware)

// WithRateLimit sets the per-IP token bucket used by NewRateLimiter.
func WithRateLimit(reqRate rate.Limit, burstSize int) Option {
	return func(m *middleware) {
		m.rateLimitter = newRateLimiter(reqRate, burstSize)
	}
}

func New(logger *logrus.Logger, options ...Option) Middleware {
	m := &middleware{
		rateLimitter:        newRateLimiter(5, 10),
		requestIDMiddleware: newRequestID(utils.New()),
		log:                 logger,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *middleware) GetRequestID(ctx *fiber.Ctx) string {
	requestID, ok := ctx.Locals(log.RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

func (m *middleware) NewRequestIDMiddleware() fiber.Handler {
	return m.requestIDMiddleware
}

func (m *middleware) NewLoggingMiddleware() fiber.Handler {
	return LoggerConfig()
}
