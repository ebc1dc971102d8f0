package sessionHandler

import (
	sessionService "EmotionOverlay/internal/api/session/service"
	"EmotionOverlay/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type SessionHandler struct {
	log            *logrus.Logger
	validator      *validator.Validate
	middleware     middleware.Middleware
	sessionService sessionService.ISessionService
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ss sessionService.ISessionService,
) *SessionHandler {
	return &SessionHandler{
		sessionService: ss,
		log:            log,
		validator:      validator,
		middleware:     middleware,
	}
}

func (h *SessionHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	sessions := srv.Group("/sessions")
	sessions.Use("/ws", wsMiddleware)
	sessions.Get("/ws", websocket.New(h.handleWebSocket))

	srv.Get("/sessions", h.ListSessions)
	sessions.Get("/:id", h.GetSession)
	sessions.Post("/:id/toggle", h.middleware.NewRateLimiter, h.ToggleSession)
	sessions.Post("/:id/stop", h.middleware.NewRateLimiter, h.StopSession)
}
