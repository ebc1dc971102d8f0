package config

import (
	"fmt"
	"time"

	sessionHandler "EmotionOverlay/internal/api/session/handler"
	sessionService "EmotionOverlay/internal/api/session/service"
	"EmotionOverlay/internal/detection"
	"EmotionOverlay/internal/middleware"
	"EmotionOverlay/internal/model"
	"EmotionOverlay/pkg/redis"
	"EmotionOverlay/pkg/utils"
	websocketPkg "EmotionOverlay/pkg/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type ServerOption func(*Server) error

type Server struct {
	engine         *fiber.App
	cfg            Config
	log            *logrus.Logger
	middleware     middleware.Middleware
	validator      *validator.Validate
	utils          utils.IUtils
	handlers       []handler
	redisServer    redis.IRedis
	runtimeFactory sessionService.RuntimeFactory
	sessions       sessionService.ISessionService
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.utils == nil {
		server.utils = utils.New()
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log)
	}
	if server.runtimeFactory == nil {
		url := server.cfg.RuntimeURL
		server.runtimeFactory = func(entry *logrus.Entry) model.Runtime {
			return websocketPkg.NewRuntimeClient(url, entry)
		}
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithConfig(cfg Config) ServerOption {
	return func(s *Server) error {
		s.cfg = cfg
		return nil
	}
}

func WithRedisServer(redisServer redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

// WithRuntimeFactory overrides how each session reaches the inference runtime.
func WithRuntimeFactory(factory sessionService.RuntimeFactory) ServerOption {
	return func(s *Server) error {
		if factory == nil {
			return fmt.Errorf("runtime factory is nil")
		}
		s.runtimeFactory = factory
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, middleware.WithRateLimit(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst))
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) sessionConfig() sessionService.Config {
	cfg := sessionService.DefaultConfig()
	if s.cfg.ModelLocalURL != "" {
		cfg.LocalModelBase = s.cfg.ModelLocalURL
	}
	if s.cfg.ModelFallbackURL != "" {
		cfg.RemoteModelBase = s.cfg.ModelFallbackURL
	}
	if s.cfg.DetectionInterval > 0 && s.cfg.ReadinessPoll > 0 {
		cfg.Session = detection.Config{
			TickInterval: s.cfg.DetectionInterval,
			PollInterval: s.cfg.ReadinessPoll,
			Constraints:  detection.Constraints{Width: s.cfg.CameraWidth, Height: s.cfg.CameraHeight},
		}
	}
	if s.cfg.CameraTimeout > 0 {
		cfg.CameraTimeout = s.cfg.CameraTimeout
	}
	if s.cfg.StatusTTL > 0 {
		cfg.StatusTTL = s.cfg.StatusTTL
	}
	return cfg
}

func (s *Server) RegisterHandler() {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())

	// Session Domain
	s.sessions = sessionService.New(s.log, s.sessionConfig(), s.runtimeFactory, s.utils,
		sessionService.WithStatusCache(s.redisServer),
	)
	sessionHandlers := sessionHandler.New(s.log, s.validator, s.middleware, s.sessions)

	s.setupHealthCheck()
	s.setupModelFiles()
	s.handlers = append(s.handlers, sessionHandlers)

	router := s.engine.Group("/api/v1")
	for _, h := range s.handlers {
		h.Start(router)
	}
}

func (s *Server) Run() error {
	port := s.cfg.AppPort
	if port == "" {
		port = "3000"
	}

	return s.engine.Listen(fmt.Sprintf(":%s", port))
}

// Shutdown closes every live session, then the listener and the status cache.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.sessions != nil {
		s.sessions.Shutdown()
	}

	err := s.engine.ShutdownWithTimeout(timeout)

	if s.redisServer != nil {
		if cerr := s.redisServer.Close(); cerr != nil {
			s.log.Errorf("Failed to close Redis client: %v", cerr)
		}
	}

	return err
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}

// setupModelFiles serves the local model directory that sessions load from
// before falling back to the mirror.
func (s *Server) setupModelFiles() {
	if s.cfg.ModelDir == "" {
		return
	}
	s.engine.Static("/models", s.cfg.ModelDir, fiber.Static{
		Compress:      true,
		CacheDuration: time.Minute,
	})
}
