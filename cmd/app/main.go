package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"EmotionOverlay/internal/config"
	"EmotionOverlay/pkg/log"
	"EmotionOverlay/pkg/redis"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn(log.Fields{"error": err.Error()}, "Failed to load .env file")
	}
	logger := log.NewLogger()

	validator := config.NewValidator()
	cfg, err := config.Load(validator)
	if err != nil {
		logger.Fatal(err)
	}

	fiberApp := config.NewFiber(logger)

	options := []config.ServerOption{
		config.WithFiber(fiberApp),
		config.WithLogger(logger),
		config.WithValidator(validator),
		config.WithConfig(cfg),
		config.WithMiddleware(),
		config.WithUtils(),
	}
	if cfg.RedisAddress != "" {
		options = append(options, config.WithRedisServer(redis.New(redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})))
	} else {
		logger.Info("REDIS_ADDRESS not set, status cache disabled")
	}

	server, err := config.NewServer(options...)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.WithField("port", cfg.AppPort).Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	if err := server.Shutdown(10 * time.Second); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}
