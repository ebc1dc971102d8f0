package handlerUtil

import (
	"errors"

	"EmotionOverlay/internal/api/session"
	"EmotionOverlay/internal/detection"
	"EmotionOverlay/pkg/log"
	"EmotionOverlay/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

func (h *ErrorHandler) fields(requestID string, err error, path string, operation string) log.Fields {
	return log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
		"operation":  operation,
	}
}

func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	if errors.Is(err, session.ErrSessionNotFound) {
		h.logger.WithFields(h.fields(requestID, err, path, operation)).Warn("Session not found")
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: "Session not found",
			Code:  "SESSION_NOT_FOUND",
		})
	}

	if errors.Is(err, detection.ErrAlreadyActive) {
		h.logger.WithFields(h.fields(requestID, err, path, operation)).Warn("Session already active")
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error: "Session is already active",
			Code:  "SESSION_ACTIVE",
		})
	}

	if errors.Is(err, detection.ErrSessionClosed) {
		h.logger.WithFields(h.fields(requestID, err, path, operation)).Warn("Session closed")
		return c.Status(fiber.StatusGone).JSON(ErrorResponse{
			Error: "Session is closed",
			Code:  "SESSION_CLOSED",
		})
	}

	if errors.Is(err, detection.ErrPermissionOrDevice) {
		h.logger.WithFields(h.fields(requestID, err, path, operation)).Warn("Camera unavailable")
		return c.Status(fiber.StatusFailedDependency).JSON(ErrorResponse{
			Error:   "Camera unavailable or permission denied",
			Code:    "CAMERA_UNAVAILABLE",
			Details: err.Error(),
		})
	}

	var respErr *response.Error
	if errors.As(err, &respErr) {
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"code":       respErr.Code,
			"path":       path,
			"operation":  operation,
		}).Warn("Operation failed with error response")
		return c.Status(respErr.Code).JSON(ErrorResponse{Error: err.Error()})
	}

	if errors.Is(err, session.ErrInternalServerError) {
		h.logger.WithFields(h.fields(requestID, err, path, operation)).Error("Internal server error")
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: "Internal server error",
		})
	}

	h.logger.WithFields(h.fields(requestID, err, path, operation)).Error("Unexpected error")

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: "An unexpected error occurred",
	})
}

func (h *ErrorHandler) HandleValidationError(c *fiber.Ctx, requestID string, err error, path string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
	}).Warn("Validation failed")

	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: "Validation failed: " + err.Error(),
		Code:  "VALIDATION_ERROR",
	})
}

func (h *ErrorHandler) HandleRequestTimeout(c *fiber.Ctx) error {
	return c.Status(fiber.StatusRequestTimeout).JSON(utils.StatusMessage(fiber.StatusRequestTimeout))
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}
