package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	AppPort  string `env:"APP_PORT" validate:"required,numeric"`
	AppEnv   string `env:"APP_ENV" validate:"oneof=development production test"`
	LogLevel string `env:"LOG_LEVEL"`

	ModelDir         string `env:"MODEL_DIR" validate:"required"`
	ModelLocalURL    string `env:"MODEL_LOCAL_URL" validate:"required,url"`
	ModelFallbackURL string `env:"MODEL_FALLBACK_URL" validate:"required,url"`
	RuntimeURL       string `env:"AI_FACE_DETECTION_URL" validate:"required,url"`

	DetectionInterval time.Duration `env:"DETECTION_INTERVAL_MS" validate:"gte=10ms"`
	ReadinessPoll     time.Duration `env:"READINESS_POLL_MS" validate:"gte=10ms"`
	CameraWidth       int           `env:"CAMERA_WIDTH" validate:"gte=1,lte=7680"`
	CameraHeight      int           `env:"CAMERA_HEIGHT" validate:"gte=1,lte=4320"`
	CameraTimeout     time.Duration `env:"CAMERA_TIMEOUT_MS" validate:"gte=100ms"`

	RedisAddress  string        `env:"REDIS_ADDRESS" validate:"omitempty,hostname_port"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" validate:"gte=0"`
	StatusTTL     time.Duration `env:"STATUS_TTL_SECONDS" validate:"gte=1s"`

	RateLimit float64 `env:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateBurst int     `env:"RATE_LIMIT_BURST" validate:"gte=1"`
}

// Load reads the process environment, applies defaults and validates the
// result.
func Load(v *validator.Validate) (Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		n, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}
	msVar := func(key string, def int) time.Duration {
		return time.Duration(intVar(key, def)) * time.Millisecond
	}

	cfg := Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ModelDir:         getEnv("MODEL_DIR", "./models"),
		ModelFallbackURL: getEnv("MODEL_FALLBACK_URL", "https://cdn.jsdelivr.net/npm/face-api.js-models/models"),
		RuntimeURL:       getEnv("AI_FACE_DETECTION_URL", "ws://localhost:8000/api/v1/face/ws"),

		DetectionInterval: msVar("DETECTION_INTERVAL_MS", 100),
		ReadinessPoll:     msVar("READINESS_POLL_MS", 200),
		CameraWidth:       intVar("CAMERA_WIDTH", 640),
		CameraHeight:      intVar("CAMERA_HEIGHT", 480),
		CameraTimeout:     msVar("CAMERA_TIMEOUT_MS", 15000),

		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intVar("REDIS_DB", 0),
		StatusTTL:     time.Duration(intVar("STATUS_TTL_SECONDS", 600)) * time.Second,

		RateLimit: getEnvFloat("RATE_LIMIT_RPS", 5, &errs),
		RateBurst: intVar("RATE_LIMIT_BURST", 10),
	}
	cfg.ModelLocalURL = getEnv("MODEL_LOCAL_URL", "http://localhost:"+cfg.AppPort+"/models")

	if len(errs) > 0 {
		return Config{}, errs[0]
	}

	if err := v.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

func getEnvFloat(key string, def float64, errs *[]error) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a number, got %q", key, raw))
		return def
	}
	return f
}
