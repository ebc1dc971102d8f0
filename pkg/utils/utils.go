package utils

import (
	"bytes"
	"crypto/rand"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrEmptyFrame       = errors.New("frame is empty")
	ErrFrameTooLarge    = errors.New("frame size exceeds limit")
	ErrUnsupportedFrame = errors.New("frame is not a jpeg or png image")
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	DecodeFrameConfig(data []byte) (width, height int, format string, err error)
}

type utils struct {
	maxFrameSize int
}

func New() IUtils {
	return &utils{
		maxFrameSize: 2 * 1024 * 1024,
	}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// DecodeFrameConfig reads the frame header only; pixel data is left to the inference runtime.
func (u *utils) DecodeFrameConfig(data []byte) (int, int, string, error) {
	if len(data) == 0 {
		return 0, 0, "", ErrEmptyFrame
	}

	if len(data) > u.maxFrameSize {
		return 0, 0, "", ErrFrameTooLarge
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", ErrUnsupportedFrame
	}

	if format != "jpeg" && format != "png" {
		return 0, 0, "", ErrUnsupportedFrame
	}

	return cfg.Width, cfg.Height, format, nil
}
