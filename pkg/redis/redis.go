package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const statusKeyPrefix = "overlay:session:"

// ErrStatusNotFound is returned when a session has no cached status.
var ErrStatusNotFound = errors.New("status not found")

type IRedis interface {
	SetStatus(ctx context.Context, sessionID string, status string, expiration time.Duration) error
	GetStatus(ctx context.Context, sessionID string) (string, error)
	DeleteStatus(ctx context.Context, sessionID string) error
	Close() error
}

type redisClient struct {
	client redis.UniversalClient
}

// Config is the validated connection settings from the application config.
type Config struct {
	Address  string
	Password string
	DB       int
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:     c.Address,
		Password: c.Password,
		DB:       c.DB,
	}
}

func New(cfg Config) IRedis {
	logrus.Info(fmt.Sprintf("Connecting to Redis at %s (db %d)...", cfg.Address, cfg.DB))

	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logrus.Info("Successfully connected to Redis")
	}

	return &redisClient{client: client}
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) IRedis {
	return &redisClient{client: client}
}

func statusKey(sessionID string) string {
	return statusKeyPrefix + sessionID + ":status"
}

func (r *redisClient) SetStatus(ctx context.Context, sessionID string, status string, expiration time.Duration) error {
	key := statusKey(sessionID)
	if err := r.client.Set(ctx, key, status, expiration).Err(); err != nil {
		logrus.Error(fmt.Sprintf("Error setting status for key %s: %v", key, err))
		return err
	}
	logrus.Debug(fmt.Sprintf("Cached status for key %s with expiration %v", key, expiration))
	return nil
}

func (r *redisClient) GetStatus(ctx context.Context, sessionID string) (string, error) {
	key := statusKey(sessionID)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		logrus.Debug(fmt.Sprintf("Status not found for key %s", key))
		return "", ErrStatusNotFound
	} else if err != nil {
		logrus.Error(fmt.Sprintf("Error getting status for key %s: %v", key, err))
		return "", err
	}
	return val, nil
}

func (r *redisClient) DeleteStatus(ctx context.Context, sessionID string) error {
	key := statusKey(sessionID)
	result, err := r.client.Del(ctx, key).Result()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error deleting status for key %s: %v", key, err))
		return err
	}

	if result == 0 {
		logrus.Debug(fmt.Sprintf("Status key %s not found for deletion", key))
	}
	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
