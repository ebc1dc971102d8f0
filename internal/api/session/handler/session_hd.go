package sessionHandler

import (
	"time"

	"EmotionOverlay/internal/api/session"
	contextPkg "EmotionOverlay/pkg/context"
	"EmotionOverlay/pkg/handlerUtil"
	"EmotionOverlay/pkg/log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/context"
)

func (h *SessionHandler) handleWebSocket(c *websocket.Conn) {
	requestID, _ := c.Locals(log.RequestIDKey).(string)
	ctx := contextPkg.WithRequestID(context.Background(), requestID)

	conn, err := h.sessionService.Open(ctx, c)
	if err != nil {
		traceID := log.ErrorWithTraceID(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}, "Failed to open detection session")
		_ = c.WriteJSON(handlerUtil.ErrorResponse{Error: "failed to open session", Details: "trace_id " + traceID})
		return
	}

	ctx = contextPkg.WithSessionID(ctx, conn.ID)
	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"session_id": conn.ID,
	}).Info("Session WebSocket client connected")

	defer func() {
		h.sessionService.Close(context.Background(), conn.ID)
		h.log.WithField("session_id", conn.ID).Info("Session WebSocket client disconnected")
	}()

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			h.log.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithField("session_id", conn.ID).Errorf("Session WebSocket error: %v", err)
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := conn.PushFrame(message); err != nil {
				h.log.WithFields(log.Fields{
					"session_id": conn.ID,
					"error":      err.Error(),
				}).Debug("Dropping camera frame")
			}

		case websocket.TextMessage:
			var msg session.ClientMessage
			if err := jsoniter.Unmarshal(message, &msg); err != nil {
				h.log.WithField("session_id", conn.ID).Warnf("Malformed client message: %v", err)
				continue
			}
			if err := h.validator.Struct(msg); err != nil {
				h.log.WithField("session_id", conn.ID).Warnf("Invalid client message: %v", err)
				continue
			}
			if err := conn.Command(ctx, msg); err != nil {
				h.log.WithFields(log.Fields{
					"session_id": conn.ID,
					"type":       msg.Type,
					"error":      err.Error(),
				}).Warn("Client command rejected")
			}

		default:
			h.log.Warnf("Received unexpected message type: %d", messageType)
		}
	}
}

func (h *SessionHandler) ListSessions(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	sessions := h.sessionService.List(c)

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"path":       ctx.Path(),
			"total":      len(sessions),
		}).Debug("Listed sessions")
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, session.SessionListResponse{
			Sessions: sessions,
			Total:    len(sessions),
		})
	}
}

func (h *SessionHandler) GetSession(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	param, err := h.parseParam(ctx)
	if err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	resp, err := h.sessionService.Describe(c, param.ID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "describe_session")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, resp)
	}
}

func (h *SessionHandler) ToggleSession(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	param, err := h.parseParam(ctx)
	if err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	if err := h.sessionService.Toggle(c, param.ID); err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "toggle_session")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"session_id": param.ID,
	}).Info("Session toggled")

	return errHandler.HandleSuccess(ctx, fiber.StatusAccepted, session.ActionResponse{
		ID:      param.ID,
		Message: "toggle accepted",
	})
}

func (h *SessionHandler) StopSession(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	param, err := h.parseParam(ctx)
	if err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	if err := h.sessionService.Stop(c, param.ID); err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "stop_session")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"session_id": param.ID,
	}).Info("Session stopped")

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, session.ActionResponse{
		ID:      param.ID,
		Message: "session stopped",
	})
}

func (h *SessionHandler) parseParam(ctx *fiber.Ctx) (session.SessionParam, error) {
	var param session.SessionParam
	if err := ctx.ParamsParser(&param); err != nil {
		return param, err
	}
	if err := h.validator.Struct(param); err != nil {
		return param, err
	}
	return param, nil
}
