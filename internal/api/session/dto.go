package session

import (
	"EmotionOverlay/internal/emotion"
	"EmotionOverlay/internal/entity"
)

type MessageType string

// Browser to server.
const (
	MessageToggle      MessageType = "toggle"
	MessageStart       MessageType = "start"
	MessageStop        MessageType = "stop"
	MessageCameraError MessageType = "camera_error"
)

// Server to browser.
const (
	EventHello        MessageType = "hello"
	EventStatus       MessageType = "status"
	EventControl      MessageType = "control"
	EventAcquire      MessageType = "acquire"
	EventRelease      MessageType = "release"
	EventOverlaySize  MessageType = "overlay_size"
	EventOverlayClear MessageType = "overlay_clear"
	EventOverlayBox   MessageType = "overlay_box"
	EventEmotions     MessageType = "emotions"
)

const (
	LabelStartCamera = "🎥 Start Camera"
	LabelStopCamera  = "⏹ Stop Camera"
)

type ClientMessage struct {
	Type  MessageType `json:"type" validate:"required,oneof=toggle start stop camera_error"`
	Error string      `json:"error,omitempty" validate:"required_if=Type camera_error,max=512"`
}

type Constraints struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type HelloEvent struct {
	Type        MessageType       `json:"type"`
	SessionID   string            `json:"session_id"`
	Constraints Constraints       `json:"constraints"`
	Emotions    []emotion.Emotion `json:"emotions"`
	Display     emotion.Snapshot  `json:"display"`
	Label       string            `json:"label"`
}

type StatusEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ControlEvent struct {
	Type   MessageType `json:"type"`
	Active bool        `json:"active"`
	Label  string      `json:"label"`
}

type AcquireEvent struct {
	Type        MessageType `json:"type"`
	Constraints Constraints `json:"constraints"`
}

type ReleaseEvent struct {
	Type MessageType `json:"type"`
}

type OverlaySizeEvent struct {
	Type   MessageType `json:"type"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

type OverlayClearEvent struct {
	Type MessageType `json:"type"`
}

type OverlayBoxEvent struct {
	Type  MessageType `json:"type"`
	Box   entity.Box  `json:"box"`
	Score float64     `json:"score"`
}

type EmotionsEvent struct {
	Type MessageType `json:"type"`
	emotion.Snapshot
}

type SessionParam struct {
	ID string `params:"id" validate:"required,len=26,alphanum"`
}

type SessionResponse struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	CameraActive bool   `json:"camera_active"`
	Ticks        uint64 `json:"ticks"`
	Reloads      uint64 `json:"reloads"`
	LastStatus   string `json:"last_status"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

type ActionResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
