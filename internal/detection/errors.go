package detection

import (
	"EmotionOverlay/pkg/response"
	"net/http"
)

var (
	ErrAlreadyActive      = response.NewError(http.StatusConflict, "session already active")
	ErrSessionStopped     = response.NewError(http.StatusConflict, "session stopped before start completed")
	ErrSessionClosed      = response.NewError(http.StatusGone, "session closed")
	ErrPermissionOrDevice = response.NewError(http.StatusFailedDependency, "camera unavailable or permission denied")
)
