package model

import (
	"EmotionOverlay/pkg/response"
	"net/http"
)

var (
	ErrArtifactUnavailable = response.NewError(http.StatusServiceUnavailable, "model artifact unavailable")
	ErrModelInitIncomplete = response.NewError(http.StatusServiceUnavailable, "model initialization incomplete")
	ErrFallbackExhausted   = response.NewError(http.StatusServiceUnavailable, "models unavailable from local and fallback sources")
	ErrInferenceNotReady   = response.NewError(http.StatusServiceUnavailable, "load model before inference")
)
