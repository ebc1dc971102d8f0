package session

import (
	"EmotionOverlay/pkg/response"
	"net/http"
)

var (
	ErrInternalServerError = response.NewError(http.StatusInternalServerError, "internal server error")
	ErrBadRequest          = response.NewError(http.StatusBadRequest, "bad request")
	ErrSessionNotFound     = response.NewError(http.StatusNotFound, "session not found")
	ErrCameraTimeout       = response.NewError(http.StatusGatewayTimeout, "timed out waiting for the first camera frame")
	ErrTransportClosed     = response.NewError(http.StatusGone, "browser connection closed")
)
